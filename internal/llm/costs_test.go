package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptoria/scriptoria-backend/internal/providers"
)

func TestCost(t *testing.T) {
	tracker := NewCostTracker()

	tests := []struct {
		name     string
		provider string
		model    string
		usage    providers.Usage
		expected float64
	}{
		{
			"sonnet",
			"anthropic", "claude-3-sonnet-20240229",
			providers.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000},
			18.0,
		},
		{
			"gpt-4 partial",
			"openai", "gpt-4",
			providers.Usage{InputTokens: 500_000, OutputTokens: 100_000},
			21.0,
		},
		{
			"unknown model costs zero",
			"anthropic", "claude-9",
			providers.Usage{InputTokens: 1_000_000},
			0,
		},
		{
			"unknown provider costs zero",
			"mystery", "gpt-4",
			providers.Usage{InputTokens: 1_000_000},
			0,
		},
		{
			"zero usage costs zero",
			"openai", "gpt-4",
			providers.Usage{},
			0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tracker.Cost(tt.provider, tt.model, tt.usage), 1e-9)
		})
	}
}

func TestTrack_Aggregates(t *testing.T) {
	tracker := NewCostTracker()

	tracker.Track(TrackInput{
		Provider:  "anthropic",
		Model:     "claude-3-sonnet-20240229",
		Usage:     providers.Usage{InputTokens: 1000, OutputTokens: 500},
		UserID:    "user-1",
		ProjectID: "proj-1",
	})
	tracker.Track(TrackInput{
		Provider:  "openai",
		Model:     "gpt-4",
		Usage:     providers.Usage{InputTokens: 2000, OutputTokens: 100},
		UserID:    "user-1",
		ProjectID: "proj-2",
	})

	user := tracker.UserTotals("user-1")
	assert.Equal(t, 2, user.Requests)
	assert.Equal(t, 3000, user.InputTokens)
	assert.Equal(t, 600, user.OutputTokens)

	anthropic := tracker.ProviderTotals("anthropic")
	assert.Equal(t, 1, anthropic.Requests)
	assert.Equal(t, 1000, anthropic.InputTokens)

	proj := tracker.ProjectTotals("proj-2")
	assert.Equal(t, 1, proj.Requests)
	assert.Equal(t, 2000, proj.InputTokens)

	assert.Equal(t, UsageTotals{}, tracker.UserTotals("nobody"))
}

func TestTrack_DailyBucketsRollOver(t *testing.T) {
	tracker := NewCostTracker()

	day := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return day }

	for i := 0; i < 50; i++ {
		tracker.Track(TrackInput{
			Provider: "anthropic",
			Model:    "claude-3-haiku-20240307",
			Usage:    providers.Usage{InputTokens: 10, OutputTokens: 10},
			UserID:   "user-1",
		})
	}

	// Free tier allows 50 requests per day; the 50th exhausts it
	status := tracker.CheckLimits("user-1", "free")
	assert.False(t, status.WithinLimits)
	assert.Equal(t, 0, status.RemainingRequests)

	// A new day starts a fresh bucket
	tracker.now = func() time.Time { return day.Add(24 * time.Hour) }
	status = tracker.CheckLimits("user-1", "free")
	assert.True(t, status.WithinLimits)
	assert.Equal(t, 50, status.RemainingRequests)
}

func TestCheckLimits(t *testing.T) {
	tracker := NewCostTracker()

	tracker.Track(TrackInput{
		Provider: "openai",
		Model:    "gpt-4",
		Usage:    providers.Usage{InputTokens: 10_000, OutputTokens: 5_000},
		UserID:   "user-1",
	})

	status := tracker.CheckLimits("user-1", "pro")
	assert.True(t, status.WithinLimits)
	assert.Equal(t, 999, status.RemainingRequests)
	assert.Equal(t, 2_000_000-15_000, status.RemainingTokens)

	// gpt-4: 10k in @ $30/MTok + 5k out @ $60/MTok = $0.60
	assert.InDelta(t, 50.0-0.6, status.RemainingCost, 1e-9)

	// Unknown tier evaluates against free
	free := tracker.CheckLimits("user-1", "gold")
	assert.Equal(t, 49, free.RemainingRequests)
	assert.True(t, free.WithinLimits)
}

func TestCheckLimits_FreeTierCostCeiling(t *testing.T) {
	tracker := NewCostTracker()

	// One expensive opus call: 50k in @ $15/MTok + 10k out @ $75/MTok = $1.50
	tracker.Track(TrackInput{
		Provider: "anthropic",
		Model:    "claude-3-opus-20240229",
		Usage:    providers.Usage{InputTokens: 50_000, OutputTokens: 10_000},
		UserID:   "user-1",
	})

	status := tracker.CheckLimits("user-1", "free")
	assert.False(t, status.WithinLimits)
	assert.Equal(t, 0.0, status.RemainingCost)

	// The same spend is nothing to the pro tier
	assert.True(t, tracker.CheckLimits("user-1", "pro").WithinLimits)
}

func TestCheckLimits_UntrackedUserIsWithinLimits(t *testing.T) {
	tracker := NewCostTracker()

	status := tracker.CheckLimits("fresh-user", "free")
	require.True(t, status.WithinLimits)
	assert.Equal(t, 50, status.RemainingRequests)
	assert.Equal(t, 100_000, status.RemainingTokens)
}

func TestReset(t *testing.T) {
	tracker := NewCostTracker()

	tracker.Track(TrackInput{
		Provider: "openai",
		Model:    "gpt-3.5-turbo",
		Usage:    providers.Usage{InputTokens: 100, OutputTokens: 100},
		UserID:   "user-1",
	})
	require.Equal(t, 1, tracker.UserTotals("user-1").Requests)

	tracker.Reset()
	assert.Equal(t, UsageTotals{}, tracker.UserTotals("user-1"))
	assert.Equal(t, UsageTotals{}, tracker.ProviderTotals("openai"))
}
