package services

import (
	"github.com/sirupsen/logrus"
	"github.com/scriptoria/scriptoria-backend/internal/config"
	"github.com/scriptoria/scriptoria-backend/internal/llm"
	"github.com/scriptoria/scriptoria-backend/internal/providers"
	"github.com/scriptoria/scriptoria-backend/internal/repository"
)

// Services holds all service instances. Constructed once at startup and
// passed by reference to request handlers; no global state.
type Services struct {
	Agent        *AgentRunner
	Conversation *ConversationStore
	Tools        *ToolDispatcher
	Gateway      *llm.Gateway
	Router       *llm.Router
	Tracker      *llm.CostTracker
	Registry     *providers.Registry
}

// NewServices wires all service instances
func NewServices(
	cfg *config.Config,
	registry *providers.Registry,
	sessionRepo repository.SessionRepository,
	messageRepo repository.MessageRepository,
	peer ToolPeer,
	logger *logrus.Logger,
) *Services {
	tracker := llm.NewCostTracker()
	router := llm.NewRouter()
	gateway := llm.NewGateway(registry, tracker, cfg.DefaultProvider, logger)
	conversation := NewConversationStore(sessionRepo, messageRepo, tracker, logger)
	tools := NewToolDispatcher(peer, logger)
	agent := NewAgentRunner(
		gateway,
		router,
		conversation,
		tools,
		cfg.Agent.MaxIterations,
		cfg.Agent.MaxContextMessages,
		logger,
	)

	return &Services{
		Agent:        agent,
		Conversation: conversation,
		Tools:        tools,
		Gateway:      gateway,
		Router:       router,
		Tracker:      tracker,
		Registry:     registry,
	}
}
