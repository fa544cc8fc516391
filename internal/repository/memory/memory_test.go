package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptoria/scriptoria-backend/internal/repository"
)

func TestMessageRepository_SeqOrdersAppendsWithEqualTimestamps(t *testing.T) {
	repo := NewMessageRepository()
	ctx := context.Background()

	// All appends share one timestamp; seq alone must preserve order
	stamp := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := repo.Create(ctx, repository.Message{
			SessionID: "session-1",
			Role:      "user",
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: stamp,
		})
		require.NoError(t, err)
	}

	msgs, err := repo.ListBySession(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("message %d", i), m.Content)
		if i > 0 {
			assert.Greater(t, m.Seq, msgs[i-1].Seq)
		}
	}
}

func TestSessionRepository_GetActiveSkipsArchived(t *testing.T) {
	repo := NewSessionRepository()
	ctx := context.Background()

	id, err := repo.Create(ctx, repository.Session{ProjectID: "proj-1", UserID: "user-1"})
	require.NoError(t, err)
	require.NoError(t, repo.SetStatus(ctx, id, repository.SessionArchived))

	active, err := repo.GetActive(ctx, "proj-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, active)
}
