package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/calma/backend/internal/model/chat"
	"github.com/zhouzirui/calma/backend/internal/model/risk"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := NewDB(context.Background(), filepath.Join(t.TempDir(), "nested", "calma.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, Migrate(context.Background(), db))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM risk_alerts`).Scan(&count))
	assert.Zero(t, count)
}

func TestChatRepoSessions(t *testing.T) {
	ctx := context.Background()
	repo := NewChatRepo(newTestDB(t))

	_, err := repo.CreateSession(ctx, "")
	assert.ErrorIs(t, err, chat.ErrUserRequired)

	first, err := repo.CreateSession(ctx, "ana")
	require.NoError(t, err)
	second, err := repo.CreateSession(ctx, "ana")
	require.NoError(t, err)
	_, err = repo.CreateSession(ctx, "leo")
	require.NoError(t, err)

	got, err := repo.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana", got.UserID)
	assert.Nil(t, got.Topic)
	assert.WithinDuration(t, first.CreatedAt, got.CreatedAt, time.Millisecond)

	_, err = repo.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)

	sessions, err := repo.ListSessions(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID)

	compactedAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateSessionTopic(ctx, first.ID, "Exámenes", compactedAt))
	got, err = repo.GetSession(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Topic)
	assert.Equal(t, "Exámenes", *got.Topic)
	require.NotNil(t, got.LastCompactedAt)
	assert.True(t, compactedAt.Equal(*got.LastCompactedAt))

	assert.ErrorIs(t, repo.UpdateSessionTopic(ctx, "missing", "x", compactedAt), chat.ErrSessionNotFound)
}

func TestChatRepoTurns(t *testing.T) {
	ctx := context.Background()
	repo := NewChatRepo(newTestDB(t))

	session, err := repo.CreateSession(ctx, "ana")
	require.NoError(t, err)

	label := "tristeza"
	ids := make([]string, 0, 4)
	for i, content := range []string{"uno", "dos", "tres", "cuatro"} {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		turn, err := repo.AppendTurn(ctx, chat.Turn{
			SessionID:     session.ID,
			Role:          role,
			Content:       content,
			Emotion:       &label,
			EmotionScores: map[string]float64{"tristeza": 0.75},
		})
		require.NoError(t, err)
		ids = append(ids, turn.ID)
	}

	turns, err := repo.ListTurns(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "uno", turns[0].Content)
	assert.Equal(t, chat.RoleAssistant, turns[1].Role)
	assert.Equal(t, "tristeza", turns[2].EmotionLabel())
	assert.Equal(t, map[string]float64{"tristeza": 0.75}, turns[3].EmotionScores)

	removed, err := repo.DeleteTurns(ctx, session.ID, ids[:3])
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	turns, err = repo.ListTurns(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "cuatro", turns[0].Content)

	_, err = repo.AppendTurn(ctx, chat.Turn{SessionID: "missing", Role: chat.RoleUser, Content: "x"})
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
	_, err = repo.AppendTurn(ctx, chat.Turn{SessionID: session.ID, Role: "robot", Content: "x"})
	assert.ErrorIs(t, err, chat.ErrInvalidTurn)
	_, err = repo.ListTurns(ctx, "missing")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestAlertRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewAlertRepo(newTestDB(t))

	_, err := repo.SaveAlert(ctx, risk.Alert{UserID: "ana"})
	assert.ErrorIs(t, err, risk.ErrInvalidAlert)

	older, newer := 2, 4
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	_, err = repo.SaveAlert(ctx, risk.Alert{UserID: "ana", Score: &older, RiskType: "bullying", Timestamp: base})
	require.NoError(t, err)
	saved, err := repo.SaveAlert(ctx, risk.Alert{UserID: "ana", Score: &newer, RiskType: "score", Timestamp: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	alerts, err := repo.ListAlerts(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, saved.ID, alerts[0].ID)
	assert.Equal(t, 4, *alerts[0].Score)
	assert.Equal(t, "bullying", alerts[1].RiskType)

	alerts, err = repo.ListAlerts(ctx, "leo")
	require.NoError(t, err)
	assert.Empty(t, alerts)
}
