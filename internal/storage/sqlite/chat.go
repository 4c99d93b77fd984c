package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/calma/backend/internal/model/chat"
)

// ChatRepo implements chat.Store on SQLite.
type ChatRepo struct {
	db  *sql.DB
	now func() time.Time
}

var _ chat.Store = (*ChatRepo)(nil)

func NewChatRepo(db *sql.DB) *ChatRepo {
	return &ChatRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *ChatRepo) CreateSession(ctx context.Context, userID string) (chat.Session, error) {
	if userID == "" {
		return chat.Session{}, chat.ErrUserRequired
	}

	session := chat.Session{ID: uuid.NewString(), UserID: userID, CreatedAt: r.now()}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at) VALUES (?, ?, ?)`,
		session.ID, session.UserID, session.CreatedAt)
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to insert session: %w", err)
	}
	return session, nil
}

const sessionColumns = `id, user_id, created_at, topic, last_compacted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (chat.Session, error) {
	var (
		session     chat.Session
		topic       sql.NullString
		compactedAt sql.NullTime
	)
	if err := row.Scan(&session.ID, &session.UserID, &session.CreatedAt, &topic, &compactedAt); err != nil {
		return chat.Session{}, err
	}
	if topic.Valid {
		session.Topic = &topic.String
	}
	if compactedAt.Valid {
		at := compactedAt.Time.UTC()
		session.LastCompactedAt = &at
	}
	session.CreatedAt = session.CreatedAt.UTC()
	return session, nil
}

func (r *ChatRepo) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, chat.ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

func (r *ChatRepo) ListSessions(ctx context.Context, userID string) ([]chat.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]chat.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *ChatRepo) UpdateSessionTopic(ctx context.Context, sessionID, topic string, compactedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET topic = ?, last_compacted_at = ? WHERE id = ?`,
		topic, compactedAt.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session topic: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return chat.ErrSessionNotFound
	}
	return nil
}

func (r *ChatRepo) AppendTurn(ctx context.Context, turn chat.Turn) (chat.Turn, error) {
	if err := chat.ValidateTurn(turn); err != nil {
		return chat.Turn{}, err
	}

	var scores sql.NullString
	if turn.EmotionScores != nil {
		raw, err := json.Marshal(turn.EmotionScores)
		if err != nil {
			return chat.Turn{}, fmt.Errorf("failed to marshal emotion scores: %w", err)
		}
		scores = sql.NullString{String: string(raw), Valid: true}
	}
	var emotion sql.NullString
	if turn.Emotion != nil {
		emotion = sql.NullString{String: *turn.Emotion, Valid: true}
	}

	turn.ID = uuid.NewString()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = r.now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Turn{}, err
	}
	defer tx.Rollback()

	if err := sessionExists(ctx, tx, turn.SessionID); err != nil {
		return chat.Turn{}, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, role, content, emotion, emotion_scores, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, string(turn.Role), turn.Content, emotion, scores, turn.CreatedAt.UTC())
	if err != nil {
		return chat.Turn{}, fmt.Errorf("failed to insert turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return chat.Turn{}, err
	}
	return turn, nil
}

func (r *ChatRepo) ListTurns(ctx context.Context, sessionID string) ([]chat.Turn, error) {
	if err := sessionExists(ctx, r.db, sessionID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, emotion, emotion_scores, created_at FROM turns WHERE session_id = ? ORDER BY seq ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	turns := make([]chat.Turn, 0)
	for rows.Next() {
		var (
			turn    chat.Turn
			role    string
			emotion sql.NullString
			scores  sql.NullString
		)
		if err := rows.Scan(&turn.ID, &turn.SessionID, &role, &turn.Content, &emotion, &scores, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.Role = chat.Role(role)
		turn.CreatedAt = turn.CreatedAt.UTC()
		if emotion.Valid {
			turn.Emotion = &emotion.String
		}
		if scores.Valid && scores.String != "" {
			if err := json.Unmarshal([]byte(scores.String), &turn.EmotionScores); err != nil {
				return nil, fmt.Errorf("failed to unmarshal emotion scores: %w", err)
			}
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func (r *ChatRepo) DeleteTurns(ctx context.Context, sessionID string, turnIDs []string) (int, error) {
	if err := sessionExists(ctx, r.db, sessionID); err != nil {
		return 0, err
	}
	if len(turnIDs) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(turnIDs)+1)
	args = append(args, sessionID)
	for _, id := range turnIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(turnIDs)), ",")

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM turns WHERE session_id = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete turns: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sessionExists(ctx context.Context, q queryer, sessionID string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query session: %w", err)
	}
	return nil
}
