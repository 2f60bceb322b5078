// Package client talks to the conversation service over HTTP and keeps the
// session cookie across process runs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"insurance-assistant/internal/mirror"
	"insurance-assistant/internal/types"
)

const sessionCookieName = "sessionId"

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP error! Status: %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP error! Status: %d", e.Code)
}

type Client struct {
	baseURL     *url.URL
	http        *http.Client
	sessionFile string
}

var _ mirror.Transport = (*Client)(nil)

type sessionState struct {
	SessionID string `toml:"session_id"`
}

// New creates a client for baseURL. When sessionFile is set the session
// cookie is restored from and saved to it.
func New(baseURL string, timeout time.Duration, sessionFile string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	c := &Client{
		baseURL:     u,
		http:        &http.Client{Timeout: timeout, Jar: jar},
		sessionFile: sessionFile,
	}
	if err := c.restoreSession(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Send(ctx context.Context, message string, history []types.HistoryEntry) (types.ChatResponse, error) {
	body, err := json.Marshal(types.ChatRequest{Message: message, History: history})
	if err != nil {
		return types.ChatResponse{}, fmt.Errorf("encode request: %w", err)
	}
	resp, err := c.post(ctx, "/api/chat", body)
	if err != nil {
		return types.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return types.ChatResponse{}, err
	}
	var out types.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.ChatResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func (c *Client) Reset(ctx context.Context) error {
	resp, err := c.post(ctx, "/api/chat/reset", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// SessionID returns the current session cookie value, if any.
func (c *Client) SessionID() string {
	for _, ck := range c.http.Jar.Cookies(c.baseURL) {
		if ck.Name == sessionCookieName {
			return ck.Value
		}
	}
	return ""
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.String()+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	before := c.SessionID()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if after := c.SessionID(); after != before {
		if err := c.saveSession(after); err != nil {
			resp.Body.Close()
			return nil, err
		}
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var e types.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
	return &StatusError{Code: resp.StatusCode, Message: e.Error}
}

func (c *Client) restoreSession() error {
	if c.sessionFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.sessionFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read session file: %w", err)
	}
	var st sessionState
	if err := toml.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode session file: %w", err)
	}
	if st.SessionID != "" {
		c.http.Jar.SetCookies(c.baseURL, []*http.Cookie{{Name: sessionCookieName, Value: st.SessionID, Path: "/"}})
	}
	return nil
}

func (c *Client) saveSession(id string) error {
	if c.sessionFile == "" {
		return nil
	}
	if id == "" {
		if err := os.Remove(c.sessionFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove session file: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.sessionFile), 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	data, err := toml.Marshal(sessionState{SessionID: id})
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}
	if err := os.WriteFile(c.sessionFile, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}
