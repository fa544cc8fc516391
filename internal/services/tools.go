package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/scriptoria/scriptoria-backend/internal/llm"
	"github.com/scriptoria/scriptoria-backend/internal/providers"
)

// ToolOutcome is the result of executing one tool call.
type ToolOutcome struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// LocalToolFunc implements a tool in-process.
type LocalToolFunc func(ctx context.Context, input json.RawMessage) (string, error)

// ToolPeer is the external tool-execution process: a capability list plus
// a call operation. The MCP client implements it.
type ToolPeer interface {
	ListTools(ctx context.Context) ([]providers.Tool, error)
	CallTool(ctx context.Context, name string, input json.RawMessage) (content string, isError bool, err error)
}

// ToolSourceKind tags where a tool name resolves to.
type ToolSourceKind int

const (
	ToolSourceUnknown ToolSourceKind = iota
	ToolSourceLocal
	ToolSourcePeer
)

// ToolSource is the resolution of a tool name. Resolution is total: every
// name resolves to exactly one variant, Unknown included.
type ToolSource struct {
	Kind  ToolSourceKind
	Local LocalToolFunc
}

type localTool struct {
	def providers.Tool
	fn  LocalToolFunc
}

// ToolDispatcher resolves tool names and executes tool calls. Local
// executors take precedence over the peer; names known to neither resolve
// to Unknown and produce an error-flagged outcome rather than a failure.
type ToolDispatcher struct {
	local     map[string]localTool
	peer      ToolPeer
	peerNames map[string]bool
	logger    *logrus.Logger
	mu        sync.RWMutex
}

// NewToolDispatcher creates a dispatcher. peer may be nil when no
// external tool process is configured.
func NewToolDispatcher(peer ToolPeer, logger *logrus.Logger) *ToolDispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &ToolDispatcher{
		local:     make(map[string]localTool),
		peer:      peer,
		peerNames: make(map[string]bool),
		logger:    logger,
	}
}

// RegisterLocal registers an in-process tool executor
func (d *ToolDispatcher) RegisterLocal(def providers.Tool, fn LocalToolFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.local[def.Name] = localTool{def: def, fn: fn}
}

// ListTools returns every callable tool definition: local registrations
// plus the peer's capability list. The peer list also refreshes the name
// cache used by Resolve.
func (d *ToolDispatcher) ListTools(ctx context.Context) ([]providers.Tool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var tools []providers.Tool
	for _, t := range d.local {
		tools = append(tools, t.def)
	}

	if d.peer != nil {
		peerTools, err := d.peer.ListTools(ctx)
		if err != nil {
			d.logger.WithError(err).Warn("tool peer list failed; using local tools only")
		} else {
			d.peerNames = make(map[string]bool, len(peerTools))
			for _, t := range peerTools {
				d.peerNames[t.Name] = true
				if _, shadowed := d.local[t.Name]; !shadowed {
					tools = append(tools, t)
				}
			}
		}
	}

	return tools, nil
}

// Resolve maps a tool name to its source. Local wins over peer.
func (d *ToolDispatcher) Resolve(name string) ToolSource {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if t, ok := d.local[name]; ok {
		return ToolSource{Kind: ToolSourceLocal, Local: t.fn}
	}
	if d.peer != nil && d.peerNames[name] {
		return ToolSource{Kind: ToolSourcePeer}
	}
	return ToolSource{Kind: ToolSourceUnknown}
}

// Execute runs one tool call. Failures never propagate as errors; they
// come back as error-flagged outcomes for the backend to react to.
func (d *ToolDispatcher) Execute(ctx context.Context, call providers.ToolCall) ToolOutcome {
	source := d.Resolve(call.Name)

	switch source.Kind {
	case ToolSourceLocal:
		content, err := source.Local(ctx, call.Input)
		if err != nil {
			execErr := &llm.ToolExecutionError{Tool: call.Name, Err: err}
			d.logger.WithField("tool", call.Name).WithError(err).Warn("local tool failed")
			return ToolOutcome{Content: execErr.Error(), IsError: true}
		}
		return ToolOutcome{Content: content}

	case ToolSourcePeer:
		content, isError, err := d.peer.CallTool(ctx, call.Name, call.Input)
		if err != nil {
			execErr := &llm.ToolExecutionError{Tool: call.Name, Err: err}
			d.logger.WithField("tool", call.Name).WithError(err).Warn("peer tool failed")
			return ToolOutcome{Content: execErr.Error(), IsError: true}
		}
		return ToolOutcome{Content: content, IsError: isError}

	default:
		d.logger.WithField("tool", call.Name).Warn("unknown tool requested")
		return ToolOutcome{Content: "unknown tool: " + call.Name, IsError: true}
	}
}
