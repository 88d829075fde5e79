package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/tv_sandbox/internal/api"
	"github.com/dgnsrekt/tv_sandbox/internal/artifacts"
	"github.com/dgnsrekt/tv_sandbox/internal/attachments"
	"github.com/dgnsrekt/tv_sandbox/internal/bars"
	"github.com/dgnsrekt/tv_sandbox/internal/config"
	"github.com/dgnsrekt/tv_sandbox/internal/controller"
	"github.com/dgnsrekt/tv_sandbox/internal/journal"
	"github.com/dgnsrekt/tv_sandbox/internal/metrics"
	"github.com/dgnsrekt/tv_sandbox/internal/netutil"
	"github.com/dgnsrekt/tv_sandbox/internal/notify"
	"github.com/dgnsrekt/tv_sandbox/internal/registry"
	"github.com/dgnsrekt/tv_sandbox/internal/relay"
	"github.com/dgnsrekt/tv_sandbox/internal/sandbox"
	"github.com/dgnsrekt/tv_sandbox/internal/supervisor"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load sandbox config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("tv_sandbox config loaded",
		"bind_addr", cfg.BindAddr,
		"bars_source", cfg.BarsSource,
		"bars_fallback_mock", cfg.BarsFallback,
		"attachments_dir", cfg.AttachmentsDir,
		"registry_file", cfg.RegistryFile,
		"journal_dir", cfg.JournalDir,
		"run_timeout_ms", cfg.RunTimeoutMS,
		"editor_timeout_ms", cfg.EditorTimeoutMS,
		"max_timeout_ms", cfg.MaxTimeoutMS,
		"log_level", cfg.LogLevel,
	)

	candidates, err := netutil.NextPorts(cfg.BindAddr, cfg.PortSpan)
	if err != nil {
		slog.Error("invalid bind address", "bind_addr", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, candidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	barSource, barStore, closeBars, err := openBars(ctx, cfg)
	if err != nil {
		slog.Error("failed to open bar source", "source", cfg.BarsSource, "error", err)
		os.Exit(1)
	}
	defer closeBars()

	files, err := attachments.NewStore(cfg.AttachmentsDir)
	if err != nil {
		slog.Error("failed to create attachment store", "dir", cfg.AttachmentsDir, "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.RegistryFile), 0o755); err != nil {
		slog.Error("failed to create registry dir", "file", cfg.RegistryFile, "error", err)
		os.Exit(1)
	}
	reg, err := registry.Open(cfg.RegistryFile)
	if err != nil {
		slog.Error("failed to open registry", "file", cfg.RegistryFile, "error", err)
		os.Exit(1)
	}

	runJournal := journal.New(cfg.JournalDir, 1000, cfg.JournalMaxMB)
	defer func() {
		if err := runJournal.Close(); err != nil {
			slog.Debug("journal close failed", "error", err)
		}
	}()

	m := metrics.New()
	broker := relay.NewBroker()
	store := artifacts.NewMemoryStore()
	store.OnChange(func(c artifacts.Change) {
		broker.PublishJSON(relay.FeedArtifacts, c)
	})

	var alerter *notify.Alerter
	if cfg.NotifyURL != "" {
		alerter = notify.NewAlerter(cfg.NotifyURL, &http.Client{Timeout: 10 * time.Second}, cfg.NotifyStates)
	}

	sup := supervisor.New(supervisor.Options{
		Bars:           barSource,
		Files:          files,
		Sink:           store,
		Compiler:       sandbox.NewCompiler(cfg.ProgramCacheSize),
		Metrics:        m,
		Journal:        runJournal,
		DefaultTimeout: time.Duration(cfg.RunTimeoutMS) * time.Millisecond,
		MaxTimeout:     time.Duration(cfg.MaxTimeoutMS) * time.Millisecond,
		OnResult: func(res supervisor.Result) {
			broker.PublishJSON(relay.FeedRuns, res)
			if alerter != nil && alerter.Watches(res.State) {
				go func() { _ = alerter.RunSettled(context.Background(), res) }()
			}
		},
		OnLog: func(e supervisor.LogEntry) {
			broker.PublishJSON(relay.FeedConsole, e)
		},
	})

	svc := controller.NewService(controller.Deps{
		Supervisor:      sup,
		Registry:        reg,
		Artifacts:       store,
		Attachments:     files,
		Bars:            barSource,
		BarStore:        barStore,
		RunTimeoutMS:    cfg.RunTimeoutMS,
		EditorTimeoutMS: cfg.EditorTimeoutMS,
	})
	h := api.NewServer(svc, api.Mounts{Metrics: m.Handler(), Broker: broker})

	srv := &http.Server{Addr: bindAddr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		slog.Info("tv_sandbox listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("tv_sandbox server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("tv_sandbox shutdown failed", "error", err)
	}
	if err := sup.Shutdown(shutdownCtx); err != nil {
		slog.Error("supervisor shutdown failed", "error", err)
	}
}

// openBars builds the configured bar source. The store is nil unless the
// source accepts imports.
func openBars(ctx context.Context, cfg *config.Config) (bars.Provider, controller.BarStore, func(), error) {
	var (
		primary bars.Provider
		store   controller.BarStore
		closeFn = func() {}
	)
	switch cfg.BarsSource {
	case config.BarsMock:
		return bars.NewMock(), nil, closeFn, nil
	case config.BarsSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, nil, nil, err
		}
		s, err := bars.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		primary, store = s, s
		closeFn = func() {
			if err := s.Close(); err != nil {
				slog.Debug("sqlite close failed", "error", err)
			}
		}
	case config.BarsPostgres:
		p, err := bars.NewPostgres(ctx, cfg.PostgresURL, cfg.PGPoolMax)
		if err != nil {
			return nil, nil, nil, err
		}
		primary = p
		closeFn = p.Close
	}
	if cfg.BarsFallback {
		primary = bars.Fallback{Primary: primary, Secondary: bars.NewMock()}
	}
	return primary, store, closeFn, nil
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
