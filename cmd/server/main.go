package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-cluster/internal/app"
	"github.com/vovakirdan/wirechat-cluster/internal/config"
	"github.com/vovakirdan/wirechat-cluster/internal/log"
)

type options struct {
	configPath string
	overrides  config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "wirechat",
		Short:         "Multi-room line chat served by a cluster of message-passing workers",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default is ./config.yaml)")
	flags.StringVar(&opts.overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.overrides.Transport.Kind, "transport", "", "transport kind: memory, redis, nats")

	root.AddCommand(newServeCmd(opts), newWorkerCmd(opts))
	return root
}

func newServeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run every role of the cluster in one process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.overrides.ChatPool, "chat-pool", 0, "number of chat worker replicas")
	flags.StringVar(&opts.overrides.Gateway.TCPAddr, "tcp-addr", "", "TCP line gateway listen address")
	flags.StringVar(&opts.overrides.Gateway.HTTPAddr, "http-addr", "", "HTTP and WebSocket listen address")
	return cmd
}

func newWorkerCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "worker <engine|users|rooms|chat|gateway>...",
		Short:     "Run selected roles against a networked transport",
		Args:      cobra.MatchAll(cobra.MinimumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: app.Roles,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args...)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.overrides.ChatPool, "chat-pool", 0, "number of chat worker replicas")
	flags.StringVar(&opts.overrides.Gateway.TCPAddr, "tcp-addr", "", "TCP line gateway listen address")
	flags.StringVar(&opts.overrides.Gateway.HTTPAddr, "http-addr", "", "HTTP and WebSocket listen address")
	return cmd
}

func run(ctx context.Context, opts *options, roles ...string) error {
	bootstrap := log.New(opts.overrides.LogLevel)

	cfg, path, err := config.Load(bootstrap, opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.UpdateFrom(opts.overrides)

	logger := log.New(cfg.LogLevel)
	logger.Info().
		Str("config", path).
		Str("transport", cfg.Transport.Kind).
		Strs("roles", roles).
		Msg("starting wirechat")

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger, roles...)
	if err != nil {
		return err
	}
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("cluster exited with error")
		return err
	}
	logger.Info().Msg("cluster stopped")
	return nil
}
