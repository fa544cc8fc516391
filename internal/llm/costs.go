package llm

import (
	"sync"
	"time"

	"github.com/scriptoria/scriptoria-backend/internal/providers"
)

// ModelPricing is the cost of a model in USD per million tokens.
type ModelPricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// defaultPricing prices the models this service routes to. Models without
// an entry are priced at zero.
var defaultPricing = map[string]map[string]ModelPricing{
	"anthropic": {
		"claude-3-opus-20240229":   {InputPerMTok: 15.0, OutputPerMTok: 75.0},
		"claude-3-sonnet-20240229": {InputPerMTok: 3.0, OutputPerMTok: 15.0},
		"claude-3-haiku-20240307":  {InputPerMTok: 0.25, OutputPerMTok: 1.25},
	},
	"openai": {
		"gpt-4":         {InputPerMTok: 30.0, OutputPerMTok: 60.0},
		"gpt-4-turbo":   {InputPerMTok: 10.0, OutputPerMTok: 30.0},
		"gpt-3.5-turbo": {InputPerMTok: 0.5, OutputPerMTok: 1.5},
	},
}

// TierLimits caps one user's daily consumption.
type TierLimits struct {
	RequestsPerDay int
	TokensPerDay   int
	CostPerDay     float64
}

// defaultTierLimits is keyed by user tier.
var defaultTierLimits = map[string]TierLimits{
	"free":       {RequestsPerDay: 50, TokensPerDay: 100_000, CostPerDay: 1.0},
	"pro":        {RequestsPerDay: 1_000, TokensPerDay: 2_000_000, CostPerDay: 50.0},
	"enterprise": {RequestsPerDay: 10_000, TokensPerDay: 50_000_000, CostPerDay: 1_000.0},
}

// UsageTotals accumulates request, token, and cost counters.
type UsageTotals struct {
	Requests     int     `json:"requests"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

func (t *UsageTotals) add(usage providers.Usage, cost float64) {
	t.Requests++
	t.InputTokens += usage.InputTokens
	t.OutputTokens += usage.OutputTokens
	t.Cost += cost
}

// TrackInput is one completion's worth of usage.
type TrackInput struct {
	Provider  string
	Model     string
	Usage     providers.Usage
	UserID    string
	ProjectID string
}

// LimitStatus reports a user's standing against their tier limits.
type LimitStatus struct {
	WithinLimits      bool    `json:"within_limits"`
	RemainingRequests int     `json:"remaining_requests"`
	RemainingTokens   int     `json:"remaining_tokens"`
	RemainingCost     float64 `json:"remaining_cost"`
}

// CostTracker accumulates per-user, per-provider, per-project, and
// per-user-per-day usage. It is a cache over the persisted message log,
// rebuildable at any time; it reports limits but never enforces them.
type CostTracker struct {
	pricing    map[string]map[string]ModelPricing
	tierLimits map[string]TierLimits

	userTotals     map[string]*UsageTotals
	providerTotals map[string]*UsageTotals
	projectTotals  map[string]*UsageTotals
	dailyTotals    map[string]*UsageTotals // key: userID|ISO date

	now func() time.Time
	mu  sync.Mutex
}

// NewCostTracker creates a cost tracker with the default pricing and
// tier tables
func NewCostTracker() *CostTracker {
	return &CostTracker{
		pricing:        defaultPricing,
		tierLimits:     defaultTierLimits,
		userTotals:     make(map[string]*UsageTotals),
		providerTotals: make(map[string]*UsageTotals),
		projectTotals:  make(map[string]*UsageTotals),
		dailyTotals:    make(map[string]*UsageTotals),
		now:            time.Now,
	}
}

// Cost computes the dollar cost of one completion. Unknown provider or
// model pairs cost zero.
func (c *CostTracker) Cost(provider, model string, usage providers.Usage) float64 {
	models, ok := c.pricing[provider]
	if !ok {
		return 0
	}
	p, ok := models[model]
	if !ok {
		return 0
	}
	return float64(usage.InputTokens)/1_000_000*p.InputPerMTok +
		float64(usage.OutputTokens)/1_000_000*p.OutputPerMTok
}

// Track records one completion's usage into all aggregates
func (c *CostTracker) Track(in TrackInput) {
	cost := c.Cost(in.Provider, in.Model, in.Usage)

	c.mu.Lock()
	defer c.mu.Unlock()

	if in.UserID != "" {
		c.bucket(c.userTotals, in.UserID).add(in.Usage, cost)
		c.bucket(c.dailyTotals, c.dayKeyLocked(in.UserID)).add(in.Usage, cost)
	}
	if in.Provider != "" {
		c.bucket(c.providerTotals, in.Provider).add(in.Usage, cost)
	}
	if in.ProjectID != "" {
		c.bucket(c.projectTotals, in.ProjectID).add(in.Usage, cost)
	}
}

// CheckLimits compares today's bucket against the user's tier. Unknown
// tiers evaluate against the free tier. Enforcement is the caller's call.
func (c *CostTracker) CheckLimits(userID, tier string) LimitStatus {
	limits, ok := c.tierLimits[tier]
	if !ok {
		limits = c.tierLimits["free"]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	today := UsageTotals{}
	if t, ok := c.dailyTotals[c.dayKeyLocked(userID)]; ok {
		today = *t
	}

	status := LimitStatus{
		RemainingRequests: limits.RequestsPerDay - today.Requests,
		RemainingTokens:   limits.TokensPerDay - (today.InputTokens + today.OutputTokens),
		RemainingCost:     limits.CostPerDay - today.Cost,
	}
	if status.RemainingRequests < 0 {
		status.RemainingRequests = 0
	}
	if status.RemainingTokens < 0 {
		status.RemainingTokens = 0
	}
	if status.RemainingCost < 0 {
		status.RemainingCost = 0
	}
	status.WithinLimits = today.Requests < limits.RequestsPerDay &&
		today.InputTokens+today.OutputTokens < limits.TokensPerDay &&
		today.Cost < limits.CostPerDay
	return status
}

// UserTotals returns a copy of a user's lifetime totals
func (c *CostTracker) UserTotals(userID string) UsageTotals {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.userTotals[userID]; ok {
		return *t
	}
	return UsageTotals{}
}

// ProviderTotals returns a copy of a provider's totals
func (c *CostTracker) ProviderTotals(provider string) UsageTotals {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.providerTotals[provider]; ok {
		return *t
	}
	return UsageTotals{}
}

// ProjectTotals returns a copy of a project's totals
func (c *CostTracker) ProjectTotals(projectID string) UsageTotals {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.projectTotals[projectID]; ok {
		return *t
	}
	return UsageTotals{}
}

// Reset clears all aggregates. The tracker is a cache; persisted messages
// remain the source of truth.
func (c *CostTracker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userTotals = make(map[string]*UsageTotals)
	c.providerTotals = make(map[string]*UsageTotals)
	c.projectTotals = make(map[string]*UsageTotals)
	c.dailyTotals = make(map[string]*UsageTotals)
}

func (c *CostTracker) bucket(m map[string]*UsageTotals, key string) *UsageTotals {
	t, ok := m[key]
	if !ok {
		t = &UsageTotals{}
		m[key] = t
	}
	return t
}

func (c *CostTracker) dayKeyLocked(userID string) string {
	return userID + "|" + c.now().UTC().Format("2006-01-02")
}
