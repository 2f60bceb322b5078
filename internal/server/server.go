package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"insurance-assistant/internal/conversation"
	"insurance-assistant/internal/store"
	"insurance-assistant/internal/types"
)

const maxBodyBytes = 64 << 10

// Options configures the HTTP layer.
type Options struct {
	AllowedOrigin string
	SessionTTL    time.Duration
	CookieSecure  bool
	// HealthCheck, when set, is reported under "store" by /api/health.
	HealthCheck func(ctx context.Context) error
}

type Server struct {
	router      *chi.Mux
	store       store.Store
	coordinator *conversation.Coordinator
	cookies     cookieConfig
	health      func(ctx context.Context) error
	logger      *zap.Logger
}

func NewServer(opts Options, st store.Store, coordinator *conversation.Coordinator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = DefaultCookieMaxAge
	}
	origin := opts.AllowedOrigin
	if origin == "" {
		origin = "*"
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{origin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: true, // session cookie
		MaxAge:           300,
	}))

	s := &Server{
		router:      r,
		store:       st,
		coordinator: coordinator,
		cookies:     cookieConfig{maxAge: ttl, secure: opts.CookieSecure},
		health:      opts.HealthCheck,
		logger:      logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Post("/api/chat", s.handleChat)
	s.router.Post("/api/chat/reset", s.handleReset)
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{Status: "ok"}
	status := http.StatusOK
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.logger.Warn("store health check failed", zap.Error(err))
			resp.Status, resp.Store = "degraded", "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Store = "ok"
		}
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sid, err := s.sessionFor(w, r)
	if err != nil {
		s.logger.Error("session unavailable", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to get response from AI service")
		return
	}

	var opts []conversation.HandleOption
	if req.History != nil {
		opts = append(opts, conversation.WithClientHistory(s.historyTurns(req.History)))
	}
	res := s.coordinator.Handle(r.Context(), sid, req.Message, opts...)

	switch res.Kind {
	case conversation.KindOK, conversation.KindGenerationBlocked, conversation.KindGenerationFailure:
		s.writeJSON(w, http.StatusOK, types.ChatResponse{Reply: res.Reply, Committed: res.Committed})
	case conversation.KindInvalidInput:
		s.writeError(w, http.StatusBadRequest, "message is required")
	case conversation.KindSessionExpired:
		s.cookies.clearSessionCookie(w)
		s.writeError(w, http.StatusInternalServerError, "Your session has expired. Please start a new conversation.")
	default:
		s.writeError(w, http.StatusInternalServerError, "Failed to get response from AI service")
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if sid, ok := sessionCookie(r); ok {
		if err := s.store.Destroy(r.Context(), sid); err != nil {
			s.logger.Error("failed to destroy session", zap.String("session", sid), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "Failed to reset session")
			return
		}
		s.logger.Info("session destroyed", zap.String("session", sid))
	}
	s.cookies.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// historyTurns converts the client's transcript, dropping entries with unknown roles.
func (s *Server) historyTurns(entries []types.HistoryEntry) []store.Turn {
	out := make([]store.Turn, 0, len(entries))
	for i, e := range entries {
		switch strings.ToLower(e.Role) {
		case "user":
			out = append(out, store.Turn{Role: store.RoleUser, Text: e.Text})
		case "assistant", "model":
			out = append(out, store.Turn{Role: store.RoleAssistant, Text: e.Text})
		default:
			s.logger.Debug("dropping client history entry with unknown role",
				zap.Int("index", i),
				zap.String("role", e.Role),
			)
		}
	}
	return out
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, types.ErrorResponse{Error: msg})
}
