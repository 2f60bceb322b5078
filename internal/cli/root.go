package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"insurance-assistant/internal/client"
	"insurance-assistant/internal/logging"
	"insurance-assistant/internal/mirror"
)

const (
	keyServer      = "server"
	keyTimeout     = "timeout"
	keyCache       = "cache"
	keySessionFile = "session_file"
	keyVerbose     = "verbose"

	configDirName = "tina"
)

func Execute() error {
	return newRootCmd().Execute()
}

type app struct {
	mirror *mirror.Mirror
	client *client.Client
	cache  *mirror.TOMLCache
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var a *app

	rootCmd := &cobra.Command{
		Use:           "tina",
		Short:         "Talk to Tina, the car insurance assistant",
		Long:          "tina keeps a local copy of your conversation with the insurance assistant and sends each message to the conversation service.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadConfig(v, cmd); err != nil {
				return err
			}
			var err error
			a, err = wireApp(v)
			return err
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String(keyServer, "http://localhost:5000", "conversation service base URL")
	flags.Duration(keyTimeout, 45*time.Second, "request timeout")
	flags.String(keyCache, "", "transcript cache file (default ~/.config/tina/transcript.toml)")
	flags.String("session-file", "", "session cookie file (default ~/.config/tina/session.toml)")
	flags.BoolP(keyVerbose, "v", false, "log debug output to stderr")

	get := func() *app { return a }
	rootCmd.AddCommand(
		newSendCmd(get),
		newChatCmd(get),
		newResetCmd(get),
		newHistoryCmd(get),
	)
	return rootCmd
}

func loadConfig(v *viper.Viper, cmd *cobra.Command) error {
	flags := cmd.Root().PersistentFlags()
	for key, flag := range map[string]string{
		keyServer:      keyServer,
		keyTimeout:     keyTimeout,
		keyCache:       keyCache,
		keySessionFile: "session-file",
		keyVerbose:     keyVerbose,
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	v.SetEnvPrefix("TINA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	dir, err := configDir()
	if err != nil {
		return err
	}
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	if v.GetString(keyCache) == "" {
		v.Set(keyCache, filepath.Join(dir, "transcript.toml"))
	}
	if v.GetString(keySessionFile) == "" {
		v.Set(keySessionFile, filepath.Join(dir, "session.toml"))
	}
	return nil
}

func configDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", configDirName), nil
}

func wireApp(v *viper.Viper) (*app, error) {
	logger := zap.NewNop()
	if v.GetBool(keyVerbose) {
		l, err := logging.New("debug")
		if err != nil {
			return nil, err
		}
		logger = l
	}

	c, err := client.New(v.GetString(keyServer), v.GetDuration(keyTimeout), v.GetString(keySessionFile))
	if err != nil {
		return nil, fmt.Errorf("wire client: %w", err)
	}
	cache := mirror.NewTOMLCache(v.GetString(keyCache))
	m, err := mirror.New(c, cache, logger)
	if err != nil {
		return nil, fmt.Errorf("wire transcript: %w", err)
	}
	return &app{mirror: m, client: c, cache: cache, logger: logger}, nil
}
