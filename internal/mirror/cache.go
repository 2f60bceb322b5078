package mirror

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	cacheDirMode    = 0o700
	cacheFileMode   = 0o600
	cacheTempSuffix = ".transcript-*.tmp"
	cacheVersion    = 1
)

type cacheFile struct {
	Version  int     `toml:"version"`
	Messages []Entry `toml:"messages"`
}

// TOMLCache stores the transcript in a TOML file.
type TOMLCache struct {
	path string
	mu   sync.Mutex
}

var _ Cache = (*TOMLCache)(nil)

func NewTOMLCache(path string) *TOMLCache {
	return &TOMLCache{path: path}
}

func (c *TOMLCache) Path() string { return c.path }

// Load returns no entries when the file does not exist.
func (c *TOMLCache) Load() ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read transcript cache: %w", err)
	}
	var file cacheFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode transcript cache: %w", err)
	}
	if file.Version > cacheVersion {
		return nil, fmt.Errorf("transcript cache version %d is newer than supported %d", file.Version, cacheVersion)
	}
	return file.Messages, nil
}

func (c *TOMLCache) Save(entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), cacheDirMode); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	data, err := toml.Marshal(cacheFile{Version: cacheVersion, Messages: entries})
	if err != nil {
		return fmt.Errorf("encode transcript cache: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(c.path), cacheTempSuffix)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Chmod(cacheFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempName, c.path); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	cleanup = false
	return nil
}

func (c *TOMLCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove transcript cache: %w", err)
	}
	return nil
}
