// Package mcp implements the tool-execution peer: an external process
// speaking JSON-RPC over stdio that exposes a capability list and a
// call operation.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/scriptoria/scriptoria-backend/internal/providers"
)

const protocolVersion = "2024-11-05"

// Client talks to one tool-execution peer process. A single scanner owns
// stdout for the client's lifetime; per-call scanners would drop bytes
// they had buffered past the consumed line.
type Client struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	scanner *bufio.Scanner
	logger  *logrus.Logger
	nextID  int
	mu      sync.Mutex
}

// toolDefinition is the peer's wire shape for one tool
type toolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// callResult is the peer's wire shape for a tool call result
type callResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewClient creates a client for the given peer command
func NewClient(cmd *exec.Cmd, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		cmd:    cmd,
		logger: logger,
		nextID: 1,
	}
}

// Start launches the peer process and performs the initialize handshake
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stdin, err := c.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	c.stdin = stdin

	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	c.stdout = stdout
	c.scanner = newResponseScanner(stdout)

	stderr, err := c.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start tool peer: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			c.logger.Debug("[tool-peer] " + scanner.Text())
		}
	}()

	c.logger.WithField("pid", c.cmd.Process.Pid).Info("tool peer started")

	if err := c.initializeLocked(); err != nil {
		return err
	}
	return nil
}

// initializeLocked performs the protocol handshake. Caller holds c.mu.
func (c *Client) initializeLocked() error {
	params := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "scriptoria",
			"version": "1.0.0",
		},
	}

	if _, err := c.callLocked("initialize", params); err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	notification := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "notifications/initialized",
	}
	notifJSON, _ := json.Marshal(notification)
	c.stdin.Write(notifJSON)
	c.stdin.Write([]byte("\n"))

	return nil
}

// newResponseScanner wraps the peer's stdout with a generous line buffer
func newResponseScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return scanner
}

// callLocked performs one JSON-RPC round trip. Caller holds c.mu.
func (c *Client) callLocked(method string, params interface{}) (json.RawMessage, error) {
	if c.stdin == nil || c.scanner == nil {
		return nil, fmt.Errorf("client not started")
	}

	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      c.nextID,
		"method":  method,
	}
	c.nextID++
	if params != nil {
		request["params"] = params
	}

	requestJSON, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	if _, err := c.stdin.Write(requestJSON); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}
	if _, err := c.stdin.Write([]byte("\n")); err != nil {
		return nil, fmt.Errorf("failed to write newline: %w", err)
	}

	if c.scanner.Scan() {
		line := c.scanner.Text()

		var response map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &response); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}

		if errMsg, exists := response["error"]; exists {
			return nil, fmt.Errorf("peer error: %s", string(errMsg))
		}

		if result, exists := response["result"]; exists {
			return result, nil
		}

		return nil, fmt.Errorf("no result in response")
	}

	if err := c.scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}

	return nil, fmt.Errorf("no response received")
}

// ListTools retrieves the peer's capability list
func (c *Client) ListTools(ctx context.Context) ([]providers.Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.callLocked("tools/list", nil)
	if err != nil {
		return nil, err
	}

	var toolsResult struct {
		Tools []toolDefinition `json:"tools"`
	}
	if err := json.Unmarshal(result, &toolsResult); err != nil {
		return nil, err
	}

	tools := make([]providers.Tool, 0, len(toolsResult.Tools))
	for _, t := range toolsResult.Tools {
		tools = append(tools, providers.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return tools, nil
}

// CallTool invokes one tool on the peer and flattens the result's content
// blocks into text
func (c *Client) CallTool(ctx context.Context, name string, input json.RawMessage) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	params := map[string]interface{}{
		"name":      name,
		"arguments": input,
	}

	result, err := c.callLocked("tools/call", params)
	if err != nil {
		return "", false, err
	}

	var callRes callResult
	if err := json.Unmarshal(result, &callRes); err != nil {
		return "", false, err
	}

	var parts []string
	for _, block := range callRes.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n"), callRes.IsError, nil
}

// Close stops the peer process
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stdin != nil {
		c.stdin.Close()
	}
	if c.stdout != nil {
		c.stdout.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
		c.cmd.Wait()
	}

	return nil
}
