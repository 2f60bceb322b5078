// Package mirror keeps the client's copy of a conversation. A user entry is
// shown optimistically while its turn is pending and removed again unless the
// server reports the turn as committed.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"insurance-assistant/internal/types"
)

const (
	SpeakerAssistant = "Tina"
	SpeakerUser      = "Me"

	RoleUser      = "user"
	RoleAssistant = "assistant"

	Greeting = "I’m Tina. I help you to choose the right insurance policy. May I ask you a few personal questions to make sure I recommend the best policy for you?"

	resetFailedNotice = "Failed to reset the session. Please try again."
)

type State string

const (
	StateIdle       State = "idle"
	StatePending    State = "pending"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
)

var (
	ErrEmptyMessage      = errors.New("message is empty")
	ErrSubmissionPending = errors.New("a message is already being sent")
)

// Entry is one line of the visible transcript.
type Entry struct {
	Speaker string `toml:"speaker" json:"speaker"`
	Role    string `toml:"role" json:"role"`
	Text    string `toml:"text" json:"text"`
}

// Transport reaches the conversation service.
type Transport interface {
	Send(ctx context.Context, message string, history []types.HistoryEntry) (types.ChatResponse, error)
	Reset(ctx context.Context) error
}

// Cache persists the visible transcript between runs.
type Cache interface {
	Load() ([]Entry, error)
	Save(entries []Entry) error
	Clear() error
}

// Outcome describes a finished submission. Notice is set when the visible
// transcript did not grow and the user should be told why.
type Outcome struct {
	Reply     string
	Committed bool
	Notice    string
}

type Mirror struct {
	mu        sync.Mutex
	transport Transport
	cache     Cache
	logger    *zap.Logger
	entries   []Entry
	state     State
	notice    string
}

// New restores the transcript from cache, or starts from the greeting.
func New(transport Transport, cache Cache, logger *zap.Logger) (*Mirror, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Mirror{transport: transport, cache: cache, logger: logger, state: StateIdle}
	entries, err := cache.Load()
	if err != nil {
		return nil, fmt.Errorf("load transcript cache: %w", err)
	}
	// A trailing user entry was never answered by the service.
	for len(entries) > 0 && entries[len(entries)-1].Role == RoleUser {
		entries = entries[:len(entries)-1]
	}
	if len(entries) == 0 {
		entries = initialEntries()
	}
	m.entries = entries
	return m, nil
}

func initialEntries() []Entry {
	return []Entry{{Speaker: SpeakerAssistant, Role: RoleAssistant, Text: Greeting}}
}

// Submit sends text as the next user turn. It refuses while another
// submission or a reset is pending.
func (m *Mirror) Submit(ctx context.Context, text string) (Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{}, ErrEmptyMessage
	}

	m.mu.Lock()
	if m.state == StatePending {
		m.mu.Unlock()
		return Outcome{}, ErrSubmissionPending
	}
	history := toHistory(m.entries)
	pending := Entry{Speaker: SpeakerUser, Role: RoleUser, Text: text}
	m.entries = append(m.entries, pending)
	optimistic := len(m.entries) - 1
	m.state = StatePending
	m.notice = ""
	m.mu.Unlock()

	resp, err := m.transport.Send(ctx, text, history)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.rollback(optimistic, pending, fmt.Sprintf("Failed to get response: %v. Please try again.", err))
		return Outcome{Notice: m.notice}, err
	}
	if !resp.Committed {
		m.rollback(optimistic, pending, resp.Reply)
		return Outcome{Reply: resp.Reply, Notice: resp.Reply}, nil
	}
	m.entries = append(m.entries, Entry{Speaker: SpeakerAssistant, Role: RoleAssistant, Text: resp.Reply})
	m.state = StateCommitted
	m.persist()
	return Outcome{Reply: resp.Reply, Committed: true}, nil
}

// rollback removes the optimistic entry at index, if it is still there.
func (m *Mirror) rollback(index int, entry Entry, notice string) {
	if index < len(m.entries) && m.entries[index] == entry {
		m.entries = append(m.entries[:index:index], m.entries[index+1:]...)
	} else {
		m.logger.Warn("optimistic entry already gone", zap.Int("index", index), zap.Int("entries", len(m.entries)))
	}
	m.state = StateRolledBack
	m.notice = notice
	m.persist()
}

// Reset asks the service to forget the conversation. Local state is only
// cleared once the service confirmed. Submissions are refused while the
// reset is in flight.
func (m *Mirror) Reset(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StatePending {
		m.mu.Unlock()
		return ErrSubmissionPending
	}
	prev := m.state
	m.state = StatePending
	m.mu.Unlock()

	err := m.transport.Reset(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = prev
		m.notice = resetFailedNotice
		return fmt.Errorf("reset session: %w", err)
	}
	if err := m.cache.Clear(); err != nil {
		m.logger.Warn("failed to clear transcript cache", zap.Error(err))
	}
	m.entries = initialEntries()
	m.state = StateIdle
	m.notice = ""
	return nil
}

func (m *Mirror) persist() {
	if err := m.cache.Save(m.entries); err != nil {
		m.logger.Warn("failed to save transcript cache", zap.Error(err))
	}
}

func (m *Mirror) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *Mirror) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Notice is the last message shown to the user about a turn that did not commit.
func (m *Mirror) Notice() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notice
}

func toHistory(entries []Entry) []types.HistoryEntry {
	out := make([]types.HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = types.HistoryEntry{Role: e.Role, Text: e.Text}
	}
	return out
}
