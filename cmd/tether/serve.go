// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tether-dev/tether/internal/bootstrap"
	"github.com/tether-dev/tether/internal/chat"
	"github.com/tether-dev/tether/internal/config"
	"github.com/tether-dev/tether/internal/correlator"
	"github.com/tether-dev/tether/internal/runtime"
	"github.com/tether-dev/tether/internal/server"
	"github.com/tether-dev/tether/internal/store/sqlite"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tether engine",
		Long:  "Load configuration, open the durable store, and serve the HTTP API until interrupted.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("networking.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if listen := viper.GetString("networking.listen"); listen != "" {
		cfg.Networking.Listen = listen
	}

	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	sessions, err := sqlite.NewSessionStore(cfg.Storage.Path)
	if err != nil {
		return tetherr.Wrapf(err, tetherr.CodeCLISetupFailure, "opening session store at %s", cfg.Storage.Path)
	}
	defer func() {
		if err := sessions.Close(); err != nil {
			logger.Warn("closing session store", "error", err)
		}
	}()

	rtClient, err := runtime.NewHTTPClient(runtime.HTTPClientConfig{
		BaseURL: cfg.Runtime.Endpoint,
		APIKey:  cfg.Runtime.APIKey,
		Timeout: time.Duration(cfg.Runtime.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return tetherr.Wrapf(err, tetherr.CodeCLISetupFailure, "building runtime client")
	}

	corr := correlator.New(correlator.Config{
		Sessions:      sessions,
		Client:        rtClient,
		Logger:        logger,
		CreateTimeout: time.Duration(cfg.Runtime.CreateTimeoutSeconds) * time.Second,
	})

	orchestrator := chat.New(chat.Config{
		Sessions:   sessions,
		Correlator: corr,
		Runtime:    rtClient,
		Bootstrap: &bootstrap.StaticProvider{
			Facts: cfg.Bootstrap.Facts,
			Notes: cfg.Bootstrap.Notes,
		},
		Logger:      logger,
		TurnTimeout: time.Duration(cfg.Runtime.TimeoutSeconds) * time.Second,
	})

	srv, err := server.New(server.Config{ListenAddr: cfg.Networking.Listen})
	if err != nil {
		return err
	}
	srv.RegisterChatService(orchestrator, cfg.Sessions.HistoryPageSize)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("tether listening",
		"addr", cfg.Networking.Listen,
		"storage", cfg.Storage.Path,
		"runtime", cfg.Runtime.Endpoint)

	return srv.Start(ctx)
}
