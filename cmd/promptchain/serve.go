package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rendis/promptchain/internal/config"
	"github.com/rendis/promptchain/internal/editor"
	"github.com/rendis/promptchain/internal/expressions"
	"github.com/rendis/promptchain/internal/logging"
	"github.com/rendis/promptchain/internal/panel"
	"github.com/rendis/promptchain/internal/scheduler"
	"github.com/rendis/promptchain/internal/store"
	"github.com/rendis/promptchain/internal/streaming"
	"github.com/rendis/promptchain/internal/validation"
	chainmcp "github.com/rendis/promptchain/pkg/mcp"
)

// app bundles the long-lived components shared by serve and prune.
type app struct {
	logger    *slog.Logger
	store     *store.LibSQLStore
	hub       *streaming.MemoryHub
	validator *validation.DocumentValidator
	filter    *expressions.Filter
	editor    *editor.Editor
	scheduler *scheduler.Scheduler

	panelOnce sync.Once
	panel     http.Handler
}

func openApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate %s: %w", cfg.DBPath, err)
	}

	v, err := validation.NewDocumentValidator()
	if err != nil {
		s.Close()
		return nil, err
	}
	filter, err := expressions.NewDefaultFilter()
	if err != nil {
		s.Close()
		return nil, err
	}
	hub := streaming.NewMemoryHub()
	sched, err := scheduler.NewScheduler(s, hub, logger, retentionPolicy(cfg))
	if err != nil {
		s.Close()
		return nil, err
	}

	return &app{
		logger:    logger,
		store:     s,
		hub:       hub,
		validator: v,
		filter:    filter,
		editor:    editor.New(s, hub, v, logger, editorConfig(cfg)),
		scheduler: sched,
	}, nil
}

func (a *app) Close() error { return a.store.Close() }

func retentionPolicy(cfg config.Config) scheduler.Policy {
	return scheduler.Policy{Schedule: cfg.Retention.Schedule, Keep: cfg.Retention.Keep}
}

func editorConfig(cfg config.Config) editor.Config {
	return editor.Config{HistoryLimit: cfg.HistoryLimit, Author: cfg.Author}
}

// httpHandler returns the panel when enabled. Without it only metrics and
// a health check are served.
func (a *app) httpHandler(panelOn bool) http.Handler {
	if panelOn {
		a.panelOnce.Do(func() {
			a.panel = panel.NewPanelServer(panel.PanelDeps{
				Store:     a.store,
				Validator: a.validator,
				Editor:    a.editor,
				Filter:    a.filter,
				Scheduler: a.scheduler,
				Hub:       a.hub,
				Logger:    a.logger,
			}).Handler()
		})
		return a.panel
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "panel is disabled", http.StatusNotFound)
	})
	return mux
}

// reconfigure applies a reloaded configuration to the running components.
func (a *app) reconfigure(old, new config.Config, level *slog.LevelVar, handler *swapHandler) {
	diff := config.Compare(old, new)
	if diff.LogLevelChanged {
		level.Set(logging.ParseLevel(new.LogLevel))
	}
	if diff.EditorChanged {
		a.editor.SetConfig(editorConfig(new))
	}
	if diff.RetentionChanged {
		if err := a.scheduler.SetPolicy(retentionPolicy(new)); err != nil {
			a.logger.Warn("retention policy rejected, keeping the previous one", "error", err)
		}
	}
	if diff.PanelChanged {
		handler.Swap(a.httpHandler(new.Panel))
	}
	if len(diff.RestartNeeded) > 0 {
		a.logger.Warn("settings changed that need a restart", "fields", strings.Join(diff.RestartNeeded, ","))
	}
	a.logger.Info("settings reloaded",
		"panel", new.Panel,
		"log_level", new.LogLevel,
		"retention_schedule", new.Retention.Schedule,
		"retention_keep", new.Retention.Keep,
	)
}

// swapHandler serves whichever handler was stored last, so a settings
// reload can toggle the panel without rebinding the listener.
type swapHandler struct {
	current atomic.Pointer[http.Handler]
}

func newSwapHandler(h http.Handler) *swapHandler {
	s := &swapHandler{}
	s.Swap(h)
	return s
}

func (s *swapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.current.Load()).ServeHTTP(w, r)
}

func (s *swapHandler) Swap(h http.Handler) {
	s.current.Store(&h)
}

// loadLogger reads the settings and builds the process logger on stderr;
// stdout belongs to the MCP transport.
func loadLogger(dir string) (config.Config, *slog.LevelVar, *slog.Logger, error) {
	cfg, err := config.Load(dir, os.Getenv)
	if err != nil {
		return cfg, nil, nil, err
	}
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.New(os.Stderr, cfg.LogFormat, level)
	slog.SetDefault(logger)
	return cfg, level, logger, nil
}

func newServeCmd(opts *cliOptions) *cobra.Command {
	var mcpStdio bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP panel, the retention scheduler and the MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, mcpStdio, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&mcpStdio, "mcp", true, "serve MCP tools over stdin/stdout")
	return cmd
}

func runServe(ctx context.Context, opts *cliOptions, mcpStdio bool, stdin io.Reader, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(opts.configDir, 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	cfg, level, logger, err := loadLogger(opts.configDir)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := newSwapHandler(a.httpHandler(cfg.Panel))
	watcher, err := config.NewWatcher(opts.configDir, os.Getenv, logger)
	if err != nil {
		return err
	}
	watcher.OnChange(func(old, new config.Config) { a.reconfigure(old, new, level, handler) })
	if stopWatch, err := watcher.Watch(); err != nil {
		logger.Warn("settings hot reload disabled", "error", err)
	} else {
		defer stopWatch()
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	defer a.scheduler.Stop()

	errCh := make(chan error, 2)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL, "panel", cfg.Panel)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	mcpSrv := chainmcp.NewChainServer(chainmcp.ChainServerDeps{
		Store:  a.store,
		Editor: a.editor,
		Filter: a.filter,
		Hub:    a.hub,
		Logger: logger,
	})
	go func() {
		if err := mcpSrv.Relay(ctx); err != nil {
			logger.Warn("agent notifications disabled", "error", err)
		}
	}()
	if mcpStdio {
		go func() {
			if err := mcpSrv.ServeIO(ctx, stdin, stdout); err != nil && ctx.Err() == nil {
				errCh <- err
				return
			}
			if ctx.Err() == nil {
				logger.Info("MCP stdin closed, serving HTTP until stopped")
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.editor.CloseAll(shutdownCtx)
	if sErr := srv.Shutdown(shutdownCtx); sErr != nil {
		logger.Warn("http shutdown", "error", sErr)
	}
	logger.Info("promptchain stopped")
	return err
}

func newPruneCmd(opts *cliOptions) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune [chain-id]",
		Short: "Drop old chain versions now, keeping the newest ones",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, _, logger, err := loadLogger(opts.configDir)
			if err != nil {
				return err
			}
			if keep > 0 {
				cfg.Retention.Keep = keep
			}
			a, err := openApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var result any
			if len(args) == 1 {
				removed, err := a.scheduler.PruneChain(ctx, args[0], cfg.Retention.Keep)
				if err != nil {
					return err
				}
				result = map[string]any{"chain_id": args[0], "removed": removed}
			} else {
				res, err := a.scheduler.PruneAll(ctx)
				if err != nil {
					return err
				}
				result = res
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "versions to keep per chain (default: retention.keep from settings)")
	return cmd
}
