package serverrun

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cfgpkg "github.com/rzbill/logsrd/internal/config"
	"github.com/rzbill/logsrd/internal/runtime"
	logpkg "github.com/rzbill/logsrd/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := func() string { return getenv(key) }(); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing; replaced by os.Getenv at build time
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	Config cfgpkg.Config
	// MetricsAddr serves /metrics and /healthz when set.
	MetricsAddr string
	// Ready, when set, receives the runtime once it is open.
	Ready chan<- *runtime.Runtime
}

// NewLogger builds the process-wide logger from cfg; LOGSRD_LOG_LEVEL and
// LOGSRD_LOG_FORMAT fill in what cfg leaves empty. Defaults: level=info, format=text.
func NewLogger(cfg logpkg.Config) logpkg.Logger {
	if cfg.Level == "" {
		cfg.Level = getenvDefault("LOGSRD_LOG_LEVEL", "info")
	}
	if cfg.Format == "" {
		cfg.Format = getenvDefault("LOGSRD_LOG_FORMAT", "text")
	}
	procLogger, err := logpkg.ApplyConfig(&cfg)
	if err != nil {
		// Fallback to a sane default
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(cfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	return procLogger
}

// Run opens the runtime, drives background compaction and blocks until ctx
// is cancelled or a termination signal arrives.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Config.DataDir == "" {
		opts.Config.DataDir = cfgpkg.DefaultDataDir()
	}

	procLogger := NewLogger(opts.Config.Log)
	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	reg := prometheus.NewRegistry()
	rt, err := runtime.Open(sctx, runtime.Options{Config: opts.Config, Logger: procLogger, Registerer: reg})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			procLogger.Error("closing runtime", logpkg.Err(err))
		}
	}()

	cfg := rt.Config()
	procLogger.Info("Starting logsrd",
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Int64("page_size", cfg.PageSize),
		logpkg.Int64("disk_compact_threshold", cfg.DiskCompactThreshold),
		logpkg.Int64("mem_compact_threshold", cfg.MemCompactThreshold),
		logpkg.Dur("compact_interval", cfg.CompactInterval.Std()),
		logpkg.Str("fsync", cfg.Fsync),
		logpkg.Str("metrics", opts.MetricsAddr),
	)

	var wg sync.WaitGroup
	var msrv *http.Server
	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := rt.CheckHealth(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ok\n"))
		})
		msrv = &http.Server{Addr: opts.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				procLogger.Error("metrics http error", logpkg.Err(err))
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rt.Run(sctx); err != nil {
			procLogger.Error("compaction loop stopped", logpkg.Err(err))
		}
	}()
	if opts.Ready != nil {
		opts.Ready <- rt
	}

	<-sctx.Done()
	procLogger.Info("Shutting down")
	// Stop serving before closing the runtime to avoid races.
	if msrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = msrv.Shutdown(shutdownCtx)
		cancel()
	}
	wg.Wait()
	return nil
}
