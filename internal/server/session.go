package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"insurance-assistant/internal/store"
)

// sessionFor returns the live session named by the request cookie, or issues
// a new one when the cookie is missing, unknown or expired.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) (string, error) {
	if id, ok := sessionCookie(r); ok {
		_, err := s.store.Lookup(r.Context(), id)
		switch {
		case err == nil:
			return id, nil
		case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrSessionExpired):
			s.logger.Debug("replacing stale session", zap.String("session", id), zap.Error(err))
		default:
			return "", fmt.Errorf("lookup session: %w", err)
		}
	}
	return s.newSession(r.Context(), w)
}

func (s *Server) newSession(ctx context.Context, w http.ResponseWriter) (string, error) {
	id := uuid.NewString()
	if err := s.store.Create(ctx, id, time.Now().Add(s.cookies.maxAge)); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	s.cookies.setSessionCookie(w, id)
	s.logger.Info("session created", zap.String("session", id))
	return id, nil
}
