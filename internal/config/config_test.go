package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	for _, k := range []string{"PORT", "SESSION_TTL", "STORE_BACKEND", "GENERATION_PROVIDER", "GENERATION_TIMEOUT", "GOOGLE_API_KEY", "OPENAI_API_KEY"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, StoreSQLite, cfg.StoreBackend)
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "gemini-2.0-flash", cfg.Model)
	assert.Equal(t, 30*time.Second, cfg.GenerationTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("GENERATION_TIMEOUT", "45")
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("DB_URL", "postgres://localhost/tina")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", " sk-test ")
	t.Setenv("OAUTH_SCOPES", "chat, ,models")
	t.Setenv("COOKIE_SECURE", "yes")

	cfg := Load()
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 45*time.Second, cfg.GenerationTimeout)
	assert.Equal(t, StorePostgres, cfg.StoreBackend)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, []string{"chat", "models"}, cfg.OAuthScopes)
	assert.True(t, cfg.CookieSecure)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	base := Config{StoreBackend: StoreMemory, SessionTTL: time.Hour, GenerationTimeout: time.Second}
	require.NoError(t, base.Validate())

	bad := base
	bad.StoreBackend = "redis"
	assert.Error(t, bad.Validate())

	bad = base
	bad.StoreBackend = StorePostgres
	assert.Error(t, bad.Validate())

	bad = base
	bad.SessionTTL = 0
	assert.Error(t, bad.Validate())
}

func TestGetEnvDurationDefaultIgnoresGarbage(t *testing.T) {
	t.Setenv("SOME_TIMEOUT", "soon")
	assert.Equal(t, time.Minute, getEnvDurationDefault("SOME_TIMEOUT", time.Minute))
}

// chdir mirrors testing.T.Chdir (Go 1.24+): it changes the working directory
// for the duration of the test and restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
