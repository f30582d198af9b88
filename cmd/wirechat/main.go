package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-sync/internal/chat"
	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/log"
	"github.com/vovakirdan/wirechat-sync/internal/remote"
)

// env is the state shared by all commands once the root pre-run has loaded
// the configuration.
type env struct {
	configPath string
	overrides  config.Config

	cfg    config.Config
	logger *zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	e := &env{}

	root := &cobra.Command{
		Use:          "wirechat",
		Short:        "Two-party chat server and sync client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&e.configPath, "config", "c", "", "path to config.yaml (default: $WIRECHAT_CONFIG_DEFAULT_PATH or ./config.yaml)")
	flags.StringVar(&e.overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&e.overrides.LogFormat, "log-format", "", "log format: console or json")
	flags.StringVar(&e.overrides.ServerURL, "server", "", "server base URL for client commands")
	flags.StringVar(&e.overrides.Token, "token", "", "bearer token for client commands")

	root.AddCommand(
		newServeCmd(e),
		newTokenCmd(e),
		newChatCmd(e),
		newInboxCmd(e),
		newProfileCmd(e),
		newContactsCmd(e),
	)
	return root
}

func (e *env) load() error {
	bootstrap := log.NewWithWriter(os.Stderr, "warn", "console")
	cfg, path, err := config.Load(bootstrap, e.configPath)
	if err != nil {
		return err
	}
	cfg.UpdateFrom(e.overrides)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}

	e.cfg = cfg
	e.logger = log.NewWithWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	e.logger.Debug().Str("config", path).Msg("configuration loaded")
	return nil
}

// client builds a remote backend from the configured server and token.
func (e *env) client() (*remote.Client, error) {
	if e.cfg.Token == "" {
		return nil, fmt.Errorf("no token: pass --token or set WIRECHAT_TOKEN")
	}
	return remote.New(e.cfg.ServerURL, e.cfg.Token,
		remote.WithLogger(e.logger),
		remote.WithBuffer(e.cfg.SubscribeBuffer),
	)
}

// chatOptions maps the client section of the config onto view options.
func (e *env) chatOptions() []chat.Option {
	return []chat.Option{
		chat.WithLogger(e.logger),
		chat.WithPageSize(e.cfg.PageSize),
		chat.WithRecoveryOverlap(e.cfg.RecoveryOverlap),
		chat.WithRetryPolicy(chat.RetryPolicy{
			MaxAttempts:     e.cfg.RetryAttempts,
			InitialInterval: e.cfg.RetryInitial,
			MaxInterval:     e.cfg.RetryMaxInterval,
		}),
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
