package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/wembed/internal/runner"
	"github.com/hyperjump/wembed/internal/server"
	"github.com/hyperjump/wembed/internal/watcher"
	"github.com/hyperjump/wembed/pkg/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and watch the configured directories",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var (
	serveHost    string
	servePort    int
	serveNoWatch bool
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "do not watch directories")
	rootCmd.AddCommand(serveCmd)
}

// serviceLogger swaps the console logger for the structured one long-running commands use.
func (s *session) serviceLogger() error {
	logger, err := utils.NewLogger(s.debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	_ = s.logger.Sync()
	s.logger = logger
	return nil
}

// newWatcher builds a watcher that runs every batch of changed files as a list source.
func newWatcher(sess *session, r *runner.Runner, dirs []string) *watcher.Watcher {
	cfg := sess.cfg
	return watcher.New(dirs, watcher.Options{
		Extensions: cfg.Watch.Extensions,
		Recursive:  cfg.Watch.RecursiveOrDefault(),
		Debounce:   cfg.Watch.Debounce,
		IgnoreDirs: cfg.Scan.IgnoreDirs,
	},
		watcher.RunHandler(r, "watch", runner.Options{}),
		watcher.WithLogger(sess.logger),
		watcher.WithRetry(watcher.IsBusy),
	)
}

func runServe(cmd *cobra.Command, _ []string) error {
	sess, err := newSession()
	if err != nil {
		return err
	}
	if err := sess.serviceLogger(); err != nil {
		return err
	}
	defer sess.close()
	logger := sess.logger
	cfg := sess.cfg
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	logger.Info("config loaded",
		zap.String("config_path", sess.configPath),
		zap.Bool("debug", sess.debug),
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	r, err := sess.runner(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	var opts []server.Option
	if !serveNoWatch {
		w := newWatcher(sess, r, cfg.Watch.Directories)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer w.Stop()
		w.SyncExistingFiles()
		opts = append(opts, server.WithWatcher(w, sess.configPath))
	}

	srv := server.NewServer(r, cfg, logger, opts...)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	return srv.Stop(stopCtx)
}
