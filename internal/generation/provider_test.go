package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsProvider(t *testing.T) {
	spec, err := LoadPromptSpec("")
	require.NoError(t, err)
	ctx := context.Background()

	g, err := New(ctx, ProviderConfig{APIKey: "k"}, spec)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIGenerator{}, g)

	g, err = New(ctx, ProviderConfig{Provider: "LangChain", APIKey: "k"}, spec)
	require.NoError(t, err)
	assert.IsType(t, &LangChainGenerator{}, g)

	_, err = New(ctx, ProviderConfig{Provider: "ark"}, spec)
	assert.Error(t, err)

	_, err = New(ctx, ProviderConfig{Provider: "palm"}, spec)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestWithClientCredentials(t *testing.T) {
	var tokenCalls atomic.Int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "gateway-token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenSrv.Close()

	var gotAuth string
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer apiSrv.Close()

	client := WithClientCredentials(context.Background(), NewHTTPClient(5*time.Second), OAuth2Config{
		TokenURL:     tokenSrv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
	})
	for i := 0; i < 2; i++ {
		resp, err := client.Get(apiSrv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, "Bearer gateway-token", gotAuth)
	assert.Equal(t, int32(1), tokenCalls.Load(), "token is cached")
}

func TestWithClientCredentialsDisabled(t *testing.T) {
	base := NewHTTPClient(time.Second)
	assert.Same(t, base, WithClientCredentials(context.Background(), base, OAuth2Config{}))
}
