package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"insurance-assistant/internal/generation"
	"insurance-assistant/internal/store"
)

// Kind classifies the outcome of one turn.
type Kind string

const (
	KindOK                 Kind = "ok"
	KindInvalidInput       Kind = "invalid_input"
	KindSessionExpired     Kind = "session_expired"
	KindSessionUnavailable Kind = "session_unavailable"
	KindGenerationBlocked  Kind = "generation_blocked"
	KindGenerationFailure  Kind = "generation_failure"
	KindStoreUnavailable   Kind = "store_unavailable"
)

// State is the position of a turn in Received -> Normalized -> Generating -> Committed | Failed.
type State string

const (
	StateReceived   State = "received"
	StateNormalized State = "normalized"
	StateGenerating State = "generating"
	StateCommitted  State = "committed"
	StateFailed     State = "failed"
)

const (
	BlockedReplyFormat = "I cannot provide a response due to content restrictions (%s). Let's try discussing something else related to insurance."
	EmptyReply         = "I'm sorry, I couldn't generate a response right now. Could you please rephrase or try again?"
	TechnicalIssue     = "Sorry, I encountered a technical issue while trying to respond. Please try again later."

	DefaultGenerationTimeout = 30 * time.Second
)

var ErrEmptyMessage = errors.New("message is required")

// Result is what one turn produced. Reply is always safe to show to the user;
// Err carries the underlying cause for logs and never leaves the process.
type Result struct {
	Reply     string
	Kind      Kind
	State     State
	Committed bool
	Err       error
}

// Config wires a Coordinator.
type Config struct {
	Store             store.Store
	Generator         generation.Generator
	Logger            *zap.Logger
	GenerationTimeout time.Duration
}

// Coordinator runs turns. It keeps no conversation state of its own; turns of
// the same session run one at a time.
type Coordinator struct {
	store   store.Store
	gen     generation.Generator
	logger  *zap.Logger
	timeout time.Duration
	locks   *keyedMutex
}

func NewCoordinator(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.GenerationTimeout
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	return &Coordinator{
		store:   cfg.Store,
		gen:     cfg.Generator,
		logger:  logger,
		timeout: timeout,
		locks:   newKeyedMutex(),
	}
}

// HandleOption tunes a single Handle call.
type HandleOption func(*handleOptions)

type handleOptions struct {
	clientHistory []store.Turn
	hasHistory    bool
}

// WithClientHistory passes the transcript the client believes in. The stored
// transcript stays authoritative; a mismatch is only logged.
func WithClientHistory(turns []store.Turn) HandleOption {
	return func(o *handleOptions) {
		o.clientHistory = turns
		o.hasHistory = true
	}
}

// Handle runs one turn for sessionID. Both turns are committed together or not at all.
func (c *Coordinator) Handle(ctx context.Context, sessionID, message string, opts ...HandleOption) Result {
	start := time.Now()
	var o handleOptions
	for _, opt := range opts {
		opt(&o)
	}

	res := c.handle(ctx, sessionID, message, o)

	fields := []zap.Field{
		zap.String("session", sessionID),
		zap.String("kind", string(res.Kind)),
		zap.String("state", string(res.State)),
		zap.Bool("committed", res.Committed),
		zap.Duration("duration", time.Since(start)),
	}
	switch res.Kind {
	case KindOK:
		c.logger.Info("turn committed", fields...)
	case KindInvalidInput, KindGenerationBlocked:
		c.logger.Warn("turn not committed", append(fields, zap.Error(res.Err))...)
	default:
		c.logger.Error("turn failed", append(fields, zap.Error(res.Err))...)
	}
	return res
}

func (c *Coordinator) handle(ctx context.Context, sessionID, message string, o handleOptions) Result {
	text := strings.TrimSpace(message)
	if text == "" {
		return Result{Kind: KindInvalidInput, State: StateFailed, Err: ErrEmptyMessage}
	}

	unlock := c.locks.lock(sessionID)
	defer unlock()

	transcript, err := c.store.Load(ctx, sessionID)
	if err != nil {
		kind := KindSessionUnavailable
		if errors.Is(err, store.ErrSessionExpired) {
			kind = KindSessionExpired
		}
		return Result{Kind: kind, State: StateFailed, Err: fmt.Errorf("load transcript: %w", err)}
	}
	if o.hasHistory {
		c.checkDivergence(sessionID, transcript, o.clientHistory)
	}

	history := Normalize(transcript, text)
	last := history[len(history)-1]

	genCtx, cancel := context.WithTimeout(ctx, c.timeout)
	reply, err := c.gen.Generate(genCtx, history[:len(history)-1], last.Content)
	cancel()
	if err != nil {
		return Result{Reply: TechnicalIssue, Kind: KindGenerationFailure, State: StateFailed, Err: fmt.Errorf("generate: %w", err)}
	}
	if reply.Blocked() {
		return Result{
			Reply: fmt.Sprintf(BlockedReplyFormat, reply.BlockReason),
			Kind:  KindGenerationBlocked,
			State: StateFailed,
			Err:   fmt.Errorf("generation blocked: %s", reply.BlockReason),
		}
	}
	answer := strings.TrimSpace(reply.Text)
	if answer == "" {
		return Result{Reply: EmptyReply, Kind: KindGenerationBlocked, State: StateFailed, Err: errors.New("generation returned an empty reply")}
	}

	// The commit must not be abandoned halfway because the client went away.
	err = c.store.Append(context.WithoutCancel(ctx), sessionID,
		store.Turn{Role: store.RoleUser, Text: text},
		store.Turn{Role: store.RoleAssistant, Text: answer},
	)
	if err != nil {
		kind := KindStoreUnavailable
		if errors.Is(err, store.ErrSessionExpired) {
			kind = KindSessionExpired
		}
		return Result{Kind: kind, State: StateFailed, Err: fmt.Errorf("append turns: %w", err)}
	}
	return Result{Reply: answer, Kind: KindOK, State: StateCommitted, Committed: true}
}

func (c *Coordinator) checkDivergence(sessionID string, stored, client []store.Turn) {
	storedUsers, clientUsers := countRole(stored, store.RoleUser), countRole(client, store.RoleUser)
	if storedUsers == clientUsers {
		return
	}
	c.logger.Warn("client transcript diverges from stored transcript",
		zap.String("session", sessionID),
		zap.Int("stored_user_turns", storedUsers),
		zap.Int("client_user_turns", clientUsers),
	)
}

func countRole(turns []store.Turn, role store.Role) int {
	n := 0
	for _, t := range turns {
		if t.Role == role {
			n++
		}
	}
	return n
}
