package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	Port          string
	AllowedOrigin string
	LogLevel      string
	// Sessions
	SessionTTL    time.Duration
	PurgeInterval time.Duration
	CookieSecure  bool
	// Transcript store
	StoreBackend string
	StoreDSN     string
	StoreDir     string
	DatabaseURL  string
	// Generation
	Provider          string
	APIKey            string
	BaseURL           string
	Model             string
	GenerationTimeout time.Duration
	PromptFile        string
	// Optional client-credentials auth in front of the provider
	OAuthTokenURL     string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthScopes       []string
	// Ark (provider "ark")
	ArkAPIKey    string
	ArkAccessKey string
	ArkSecretKey string
	ArkModel     string
	ArkBaseURL   string
	ArkRegion    string
}

func Load() Config {
	_ = godotenv.Load()
	return Config{
		Port:              getEnvDefault("PORT", "5000"),
		AllowedOrigin:     getEnvDefault("ALLOWED_ORIGIN", "http://localhost:5173"),
		LogLevel:          getEnvDefault("LOG_LEVEL", "info"),
		SessionTTL:        getEnvDurationDefault("SESSION_TTL", 24*time.Hour),
		PurgeInterval:     getEnvDurationDefault("PURGE_INTERVAL", 10*time.Minute),
		CookieSecure:      getEnvBoolDefault("COOKIE_SECURE", false),
		StoreBackend:      strings.ToLower(getEnvDefault("STORE_BACKEND", StoreSQLite)),
		StoreDSN:          getEnvDefault("STORE_DSN", "data/transcripts.db"),
		StoreDir:          getEnvDefault("STORE_DIR", "data/sessions"),
		DatabaseURL:       os.Getenv("DB_URL"),
		Provider:          strings.ToLower(getEnvDefault("GENERATION_PROVIDER", "openai")),
		APIKey:            firstNonEmpty(os.Getenv("GOOGLE_API_KEY"), os.Getenv("OPENAI_API_KEY")),
		BaseURL:           os.Getenv("GENERATION_BASE_URL"),
		Model:             getEnvDefault("GENERATION_MODEL", "gemini-2.0-flash"),
		GenerationTimeout: getEnvDurationDefault("GENERATION_TIMEOUT", 30*time.Second),
		PromptFile:        os.Getenv("PROMPT_FILE"),
		OAuthTokenURL:     os.Getenv("OAUTH_TOKEN_URL"),
		OAuthClientID:     os.Getenv("OAUTH_CLIENT_ID"),
		OAuthClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
		OAuthScopes:       getEnvListDefault("OAUTH_SCOPES", nil),
		ArkAPIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		ArkAccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		ArkSecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		ArkModel:          strings.TrimSpace(os.Getenv("ARK_MODEL")),
		ArkBaseURL:        os.Getenv("ARK_BASE_URL"),
		ArkRegion:         os.Getenv("ARK_REGION"),
	}
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory, StoreFile, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("STORE_BACKEND=postgres requires DB_URL")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be positive")
	}
	return nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvListDefault(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			s := strings.TrimSpace(p)
			if s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

func getEnvBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

// getEnvDurationDefault accepts Go durations ("90s") or plain seconds ("90").
func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
