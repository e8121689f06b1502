// Package session keeps short-lived conversational state so follow-up
// questions can lean on earlier turns. Sessions are bounded in both turn
// count and token weight, and idle ones are swept away.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session id does not exist or was swept.
var ErrNotFound = errors.New("session: not found")

// Turn is one exchange half within a session.
type Turn struct {
	Role       string    `json:"role"` // "user" | "assistant"
	Content    string    `json:"content"`
	Language   string    `json:"language"`
	Citations  []string  `json:"citations,omitempty"` // chunk ids, assistant turns only
	ModelID    string    `json:"model_id,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Session is one conversation.
type Session struct {
	ID           string
	Language     string
	Turns        []Turn
	TurnCount    int // total turns ever appended, survives truncation
	LastActivity time.Time
	CreatedAt    time.Time
}

// Store persists sessions. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	// DeleteIdle removes sessions whose last activity is before the cutoff
	// and reports how many were removed.
	DeleteIdle(ctx context.Context, cutoff time.Time) (int, error)
}

// Append adds turns and refreshes the activity timestamp.
func (s *Session) Append(turns ...Turn) {
	s.Turns = append(s.Turns, turns...)
	s.TurnCount += len(turns)
	s.LastActivity = time.Now().UTC()
}

// Truncate drops the oldest turns until the session fits both the turn
// limit and the token budget. TurnCount keeps counting dropped turns.
func (s *Session) Truncate(maxTurns, tokenBudget int) {
	if maxTurns > 0 && len(s.Turns) > maxTurns {
		s.Turns = s.Turns[len(s.Turns)-maxTurns:]
	}
	if tokenBudget <= 0 {
		return
	}
	total := 0
	for _, t := range s.Turns {
		total += estimateTokens(t.Content)
	}
	start := 0
	for start < len(s.Turns) && total > tokenBudget {
		total -= estimateTokens(s.Turns[start].Content)
		start++
	}
	s.Turns = s.Turns[start:]
}

// estimateTokens approximates the token count at four characters per token.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
