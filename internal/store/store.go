package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionUnavailable = errors.New("session store unavailable")
	ErrStoreUnavailable   = errors.New("transcript store unavailable")
	ErrInvalidTurn        = errors.New("invalid turn")
	ErrInvalidSessionID   = errors.New("invalid session id")
)

// Turn is one committed utterance. Turns are only ever appended.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session binds an opaque identifier to one transcript until ExpiresAt.
type Session struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its absolute expiry.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store is the durable, session-scoped transcript log.
//
// Load returns an empty transcript for a session it has never seen. Append
// writes all given turns in one atomic operation or none of them. Destroy
// removes the transcript together with the session.
type Store interface {
	Create(ctx context.Context, sessionID string, expiresAt time.Time) error
	Lookup(ctx context.Context, sessionID string) (Session, error)
	Load(ctx context.Context, sessionID string) ([]Turn, error)
	Append(ctx context.Context, sessionID string, turns ...Turn) error
	Destroy(ctx context.Context, sessionID string) error
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

func validateTurns(turns []Turn) error {
	for i, t := range turns {
		if t.Role != RoleUser && t.Role != RoleAssistant {
			return fmt.Errorf("%w: turn %d has role %q", ErrInvalidTurn, i, t.Role)
		}
		if strings.TrimSpace(t.Text) == "" {
			return fmt.Errorf("%w: turn %d has empty text", ErrInvalidTurn, i)
		}
	}
	return nil
}

func validateSessionID(sessionID string) error {
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" || trimmed != sessionID {
		return ErrInvalidSessionID
	}
	cleaned := filepath.Clean(trimmed)
	if cleaned != trimmed || filepath.IsAbs(cleaned) || strings.ContainsAny(cleaned, `/\`) || strings.HasPrefix(cleaned, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	return nil
}

// stamp fills CreatedAt on turns that do not carry one yet.
func stamp(turns []Turn, now time.Time) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		out[i] = t
	}
	return out
}
