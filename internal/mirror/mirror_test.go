package mirror

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insurance-assistant/internal/types"
)

type fakeTransport struct {
	reply    types.ChatResponse
	sendErr  error
	resetErr error
	release  chan struct{}
	started  chan struct{}
	gotText  string
	gotHist  []types.HistoryEntry
	resets   int

	resetStarted chan struct{}
	resetRelease chan struct{}
}

func (f *fakeTransport) Send(ctx context.Context, message string, history []types.HistoryEntry) (types.ChatResponse, error) {
	f.gotText, f.gotHist = message, history
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	return f.reply, f.sendErr
}

func (f *fakeTransport) Reset(ctx context.Context) error {
	f.resets++
	if f.resetStarted != nil {
		close(f.resetStarted)
	}
	if f.resetRelease != nil {
		<-f.resetRelease
	}
	return f.resetErr
}

func newMirror(t *testing.T, tr Transport) (*Mirror, *TOMLCache) {
	t.Helper()
	cache := NewTOMLCache(filepath.Join(t.TempDir(), "tina", "transcript.toml"))
	m, err := New(tr, cache, nil)
	require.NoError(t, err)
	return m, cache
}

func TestNewStartsWithGreeting(t *testing.T) {
	m, _ := newMirror(t, &fakeTransport{})
	entries := m.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, SpeakerAssistant, entries[0].Speaker)
	assert.Equal(t, Greeting, entries[0].Text)
	assert.Equal(t, StateIdle, m.State())
}

func TestSubmitCommitted(t *testing.T) {
	tr := &fakeTransport{reply: types.ChatResponse{Reply: "What car do you drive?", Committed: true}}
	m, cache := newMirror(t, tr)

	out, err := m.Submit(context.Background(), "  yes ")
	require.NoError(t, err)
	assert.True(t, out.Committed)
	assert.Equal(t, StateCommitted, m.State())

	assert.Equal(t, "yes", tr.gotText)
	require.Len(t, tr.gotHist, 1, "history excludes the pending entry")
	assert.Equal(t, RoleAssistant, tr.gotHist[0].Role)

	entries := m.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{Speaker: SpeakerUser, Role: RoleUser, Text: "yes"}, entries[1])
	assert.Equal(t, "What car do you drive?", entries[2].Text)

	cached, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, entries, cached)
}

func TestSubmitTransportFailureRollsBack(t *testing.T) {
	tr := &fakeTransport{sendErr: errors.New("HTTP error! Status: 500")}
	m, cache := newMirror(t, tr)

	out, err := m.Submit(context.Background(), "yes")
	require.Error(t, err)
	assert.Equal(t, StateRolledBack, m.State())
	assert.Contains(t, out.Notice, "Failed to get response")
	assert.Equal(t, out.Notice, m.Notice())

	entries := m.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, Greeting, entries[0].Text)

	cached, err := cache.Load()
	require.NoError(t, err)
	assert.Len(t, cached, 1)
}

func TestSubmitUncommittedReplyRollsBack(t *testing.T) {
	notice := "I cannot provide a response due to content restrictions (SAFETY). Let's try discussing something else related to insurance."
	m, _ := newMirror(t, &fakeTransport{reply: types.ChatResponse{Reply: notice, Committed: false}})

	out, err := m.Submit(context.Background(), "something unpleasant")
	require.NoError(t, err)
	assert.False(t, out.Committed)
	assert.Equal(t, notice, out.Notice)
	assert.Equal(t, StateRolledBack, m.State())
	assert.Len(t, m.Entries(), 1)
}

func TestSubmitRejectsEmptyAndPending(t *testing.T) {
	tr := &fakeTransport{
		reply:   types.ChatResponse{Reply: "ok", Committed: true},
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
	m, _ := newMirror(t, tr)

	_, err := m.Submit(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	done := make(chan error, 1)
	go func() {
		_, err := m.Submit(context.Background(), "first")
		done <- err
	}()

	select {
	case <-tr.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first submission never reached the transport")
	}
	assert.Equal(t, StatePending, m.State())
	require.Len(t, m.Entries(), 2, "optimistic entry is visible while pending")

	_, err = m.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, ErrSubmissionPending)
	assert.ErrorIs(t, m.Reset(context.Background()), ErrSubmissionPending)

	close(tr.release)
	require.NoError(t, <-done)
	assert.Len(t, m.Entries(), 3)
}

func TestResetSuccessClearsEverything(t *testing.T) {
	tr := &fakeTransport{reply: types.ChatResponse{Reply: "ok", Committed: true}}
	m, cache := newMirror(t, tr)
	_, err := m.Submit(context.Background(), "yes")
	require.NoError(t, err)

	require.NoError(t, m.Reset(context.Background()))
	assert.Equal(t, 1, tr.resets)
	assert.Equal(t, StateIdle, m.State())
	require.Len(t, m.Entries(), 1)
	assert.Equal(t, Greeting, m.Entries()[0].Text)

	cached, err := cache.Load()
	require.NoError(t, err)
	assert.Empty(t, cached)
}

func TestResetFailureKeepsTranscript(t *testing.T) {
	tr := &fakeTransport{reply: types.ChatResponse{Reply: "ok", Committed: true}}
	m, cache := newMirror(t, tr)
	_, err := m.Submit(context.Background(), "yes")
	require.NoError(t, err)

	tr.resetErr = errors.New("HTTP error! status: 500")
	require.Error(t, m.Reset(context.Background()))
	assert.Len(t, m.Entries(), 3)
	assert.Equal(t, resetFailedNotice, m.Notice())

	cached, err := cache.Load()
	require.NoError(t, err)
	assert.Len(t, cached, 3)
}

func TestNewRestoresFromCache(t *testing.T) {
	cache := NewTOMLCache(filepath.Join(t.TempDir(), "transcript.toml"))
	saved := []Entry{
		{Speaker: SpeakerAssistant, Role: RoleAssistant, Text: Greeting},
		{Speaker: SpeakerUser, Role: RoleUser, Text: "yes"},
		{Speaker: SpeakerAssistant, Role: RoleAssistant, Text: "What car do you drive?"},
	}
	require.NoError(t, cache.Save(saved))

	m, err := New(&fakeTransport{}, cache, nil)
	require.NoError(t, err)
	assert.Equal(t, saved, m.Entries())
}

func TestSubmitRefusedWhileResetInFlight(t *testing.T) {
	tr := &fakeTransport{
		sendErr:      errors.New("connection refused"),
		resetStarted: make(chan struct{}),
		resetRelease: make(chan struct{}),
	}
	m, _ := newMirror(t, tr)

	done := make(chan error, 1)
	go func() { done <- m.Reset(context.Background()) }()

	select {
	case <-tr.resetStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("reset never reached the transport")
	}
	assert.Equal(t, StatePending, m.State())

	_, err := m.Submit(context.Background(), "yes")
	assert.ErrorIs(t, err, ErrSubmissionPending)
	assert.Len(t, m.Entries(), 1)

	close(tr.resetRelease)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, m.State())
	require.Len(t, m.Entries(), 1)
	assert.Equal(t, Greeting, m.Entries()[0].Text)

	_, err = m.Submit(context.Background(), "yes")
	require.Error(t, err)
	assert.Len(t, m.Entries(), 1)
}

func TestResetFailureRestoresState(t *testing.T) {
	tr := &fakeTransport{reply: types.ChatResponse{Reply: "ok", Committed: true}}
	m, _ := newMirror(t, tr)
	_, err := m.Submit(context.Background(), "yes")
	require.NoError(t, err)

	tr.resetErr = errors.New("HTTP error! status: 500")
	require.Error(t, m.Reset(context.Background()))
	assert.Equal(t, StateCommitted, m.State())

	tr.reply = types.ChatResponse{Reply: "next", Committed: true}
	_, err = m.Submit(context.Background(), "Toyota Corolla")
	require.NoError(t, err)
	assert.Len(t, m.Entries(), 5)
}

func TestPendingEntryIsNotCached(t *testing.T) {
	tr := &fakeTransport{
		reply:   types.ChatResponse{Reply: "ok", Committed: true},
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
	m, cache := newMirror(t, tr)

	done := make(chan error, 1)
	go func() {
		_, err := m.Submit(context.Background(), "yes")
		done <- err
	}()
	<-tr.started

	cached, err := cache.Load()
	require.NoError(t, err)
	assert.Empty(t, cached, "nothing is written before the service answers")

	close(tr.release)
	require.NoError(t, <-done)
	cached, err = cache.Load()
	require.NoError(t, err)
	assert.Len(t, cached, 3)
}

func TestNewDropsUnansweredUserEntry(t *testing.T) {
	cache := NewTOMLCache(filepath.Join(t.TempDir(), "transcript.toml"))
	require.NoError(t, cache.Save([]Entry{
		{Speaker: SpeakerAssistant, Role: RoleAssistant, Text: Greeting},
		{Speaker: SpeakerUser, Role: RoleUser, Text: "yes"},
		{Speaker: SpeakerAssistant, Role: RoleAssistant, Text: "What car do you drive?"},
		{Speaker: SpeakerUser, Role: RoleUser, Text: "Toyota Corolla"},
	}))

	m, err := New(&fakeTransport{}, cache, nil)
	require.NoError(t, err)
	entries := m.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "What car do you drive?", entries[2].Text)
}
