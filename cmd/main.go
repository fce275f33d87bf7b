package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	metrics "github.com/docker/go-metrics"
	"github.com/spf13/cobra"

	"github.com/aleybovich/carrot-broker/config"
	"github.com/aleybovich/carrot-broker/internal/server"
	"github.com/aleybovich/carrot-broker/logger"
)

type serveOptions struct {
	configPath  string
	listen      string
	metricsAddr string
	logLevel    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:           "carrot-broker",
		Short:         "An AMQP 0-9-1 message broker",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML configuration file")
	flags.StringVar(&opts.listen, "listen", "", "AMQP listen address (overrides the config file)")
	flags.StringVar(&opts.metricsAddr, "metrics-listen", "", "Address serving prometheus metrics on /metrics")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newHashPasswordCommand(), newVersionCommand())
	return cmd
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password PASSWORD",
		Short: "Print a bcrypt hash usable in the auth.users section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := config.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the broker version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), server.Version)
		},
	}
}

func loadConfig(opts serveOptions) (*config.File, error) {
	var (
		cfg *config.File
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return nil, err
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}
	if opts.metricsAddr != "" {
		cfg.MetricsAddr = opts.metricsAddr
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	return cfg, nil
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	serverOpts := []server.ServerOption{
		server.WithLogging(cfg.Logging),
		server.WithStorage(cfg.Storage),
		server.WithBrokerConfig(cfg.Broker),
		server.WithVHosts(cfg.VHosts),
	}
	if cfg.Auth != nil {
		serverOpts = append(serverOpts, server.WithAuthConfig(*cfg.Auth))
	}
	s := server.NewServer(serverOpts...)
	log := s.Logger()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, log)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- s.Start(cfg.Listen) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("Received shutdown signal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errc
}

func serveMetrics(addr string, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Info("Serving metrics on %s/metrics", addr)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Err("Metrics server failed: %v", err)
	}
}
