package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	fileStoreDirMode  = 0o700
	fileStoreFileMode = 0o600
	fileStoreSuffix   = ".json"
)

type sessionDocument struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Turns     []Turn    `json:"turns"`
}

// FileStore persists one JSON document per session under a directory.
// Every write goes through a temp file and a rename, so a crash leaves either
// the old or the new document on disk.
type FileStore struct {
	dir string
	mu  sync.RWMutex
	now func() time.Time
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("file store directory is required")
	}
	if err := os.MkdirAll(dir, fileStoreDirMode); err != nil {
		return nil, fmt.Errorf("create file store directory: %w", err)
	}
	return &FileStore{dir: filepath.Clean(dir), now: time.Now}, nil
}

func (f *FileStore) Create(ctx context.Context, sessionID string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := sessionDocument{ID: sessionID, CreatedAt: f.now(), ExpiresAt: expiresAt, Turns: []Turn{}}
	if err := f.write(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}
	return nil
}

func (f *FileStore) Lookup(ctx context.Context, sessionID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if err := validateSessionID(sessionID); err != nil {
		return Session{}, ErrSessionNotFound
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	doc, err := f.read(sessionID)
	if err != nil {
		return Session{}, err
	}
	if doc == nil {
		return Session{}, ErrSessionNotFound
	}
	s := Session{ID: doc.ID, CreatedAt: doc.CreatedAt, ExpiresAt: doc.ExpiresAt}
	if s.Expired(f.now()) {
		return Session{}, ErrSessionExpired
	}
	return s, nil
}

func (f *FileStore) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if validateSessionID(sessionID) != nil {
		return []Turn{}, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	doc, err := f.read(sessionID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return []Turn{}, nil
	}
	if (Session{ExpiresAt: doc.ExpiresAt}).Expired(f.now()) {
		return nil, ErrSessionExpired
	}
	if doc.Turns == nil {
		return []Turn{}, nil
	}
	return doc.Turns, nil
}

func (f *FileStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateTurns(turns); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	// Malformed ids can never name a stored session.
	if validateSessionID(sessionID) != nil {
		return ErrSessionExpired
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read(sessionID)
	if err != nil {
		return err
	}
	now := f.now()
	if doc == nil || (Session{ExpiresAt: doc.ExpiresAt}).Expired(now) {
		return ErrSessionExpired
	}
	doc.Turns = append(doc.Turns, stamp(turns, now)...)
	if err := f.write(*doc); err != nil {
		return fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}
	return nil
}

func (f *FileStore) Destroy(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if validateSessionID(sessionID) != nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(sessionID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove session %s: %w", ErrStoreUnavailable, sessionID, err)
	}
	return nil
}

func (f *FileStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, fmt.Errorf("%w: list sessions: %w", ErrStoreUnavailable, err)
	}
	var purged int
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileStoreSuffix) {
			continue
		}
		doc, err := f.read(strings.TrimSuffix(name, fileStoreSuffix))
		if err != nil || doc == nil {
			continue
		}
		if (Session{ExpiresAt: doc.ExpiresAt}).Expired(now) {
			if err := os.Remove(filepath.Join(f.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return purged, fmt.Errorf("%w: remove %s: %w", ErrStoreUnavailable, name, err)
			}
			purged++
		}
	}
	return purged, nil
}

func (f *FileStore) path(sessionID string) string {
	return filepath.Join(f.dir, sessionID+fileStoreSuffix)
}

// read returns nil, nil when the session has no document.
func (f *FileStore) read(sessionID string) (*sessionDocument, error) {
	b, err := os.ReadFile(f.path(sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read session %s: %w", ErrSessionUnavailable, sessionID, err)
	}
	var doc sessionDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode session %s: %w", ErrSessionUnavailable, sessionID, err)
	}
	return &doc, nil
}

func (f *FileStore) write(doc sessionDocument) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, "."+doc.ID+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(fileStoreFileMode); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.path(doc.ID)); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
