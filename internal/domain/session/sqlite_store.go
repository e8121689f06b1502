package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SQLiteStore persists sessions in the session table. Turns are stored as a
// JSON array; the session is small by construction (turn and token caps), so
// a document column beats a normalized turn table here.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore creates a store over an already-migrated database.
func NewSQLiteStore(db *sql.DB, logger *zap.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, language, turns, turn_count, last_activity, created_at
		FROM session WHERE id = ?`, id)

	var (
		sess                    Session
		turnsJSON               string
		lastActivity, createdAt string
	)
	err := row.Scan(&sess.ID, &sess.Language, &turnsJSON, &sess.TurnCount, &lastActivity, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(turnsJSON), &sess.Turns); err != nil {
		return nil, fmt.Errorf("session: decode turns for %s: %w", id, err)
	}
	if sess.LastActivity, err = time.Parse(time.RFC3339Nano, lastActivity); err != nil {
		return nil, fmt.Errorf("session: parse last_activity for %s: %w", id, err)
	}
	if sess.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("session: parse created_at for %s: %w", id, err)
	}
	return &sess, nil
}

// Put implements Store. Insert and update are one upsert.
func (s *SQLiteStore) Put(ctx context.Context, sess *Session) error {
	turnsJSON, err := json.Marshal(sess.Turns)
	if err != nil {
		return fmt.Errorf("session: encode turns for %s: %w", sess.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session (id, language, turns, turn_count, last_activity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			language      = excluded.language,
			turns         = excluded.turns,
			turn_count    = excluded.turn_count,
			last_activity = excluded.last_activity`,
		sess.ID,
		sess.Language,
		string(turnsJSON),
		sess.TurnCount,
		sess.LastActivity.UTC().Format(time.RFC3339Nano),
		sess.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("session: put %s: %w", sess.ID, err)
	}
	return nil
}

// Delete implements Store. Deleting a missing session is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM session WHERE id = ?", id); err != nil {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}
	return nil
}

// DeleteIdle implements Store. RFC 3339 timestamps compare lexically, so the
// cutoff works as a plain string comparison.
func (s *SQLiteStore) DeleteIdle(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM session WHERE last_activity < ?",
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("session: delete idle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("session: delete idle count: %w", err)
	}
	return int(n), nil
}

// Sweep runs DeleteIdle on a ticker until the context ends. Meant to run in
// its own goroutine from main.
func (s *SQLiteStore) Sweep(ctx context.Context, idleTimeout, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.DeleteIdle(ctx, time.Now().Add(-idleTimeout))
			if err != nil {
				s.logger.Warn("session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("idle sessions swept", zap.Int("count", n))
			}
		}
	}
}
