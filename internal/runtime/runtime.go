package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rzbill/logsrd/internal/catalog"
	cfgpkg "github.com/rzbill/logsrd/internal/config"
	"github.com/rzbill/logsrd/internal/metrics"
	pebblestore "github.com/rzbill/logsrd/internal/storage/pebble"
	"github.com/rzbill/logsrd/internal/store"
	"github.com/rzbill/logsrd/pkg/id"
	logpkg "github.com/rzbill/logsrd/pkg/log"
)

// MetaDir is the catalog directory under the data dir.
const MetaDir = cfgpkg.MetaDirName

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
	// Registerer receives the engine's collectors. Nil uses a private registry.
	Registerer prometheus.Registerer
	// NoCatalog skips the pebble catalog; least-recently-written order then
	// comes from in-memory write times only.
	NoCatalog bool
}

// Runtime wires the catalog, metrics and log store for a single-node instance.
type Runtime struct {
	config  cfgpkg.Config
	logger  logpkg.Logger
	metrics *metrics.Metrics
	catalog *catalog.Catalog
	store   *store.Store
}

// Open initializes the catalog and the log store and returns a Runtime.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	dir, err := cfgpkg.PrepareDataDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	cfg.DataDir = dir

	rt := &Runtime{config: cfg, logger: logger, metrics: metrics.New(opts.Registerer)}
	if !opts.NoCatalog {
		fsync := pebblestore.FsyncModeAlways
		if !cfg.Sync() {
			fsync = pebblestore.FsyncModeNever
		}
		cat, err := catalog.Open(pebblestore.Options{
			Dir:     filepath.Join(cfg.DataDir, MetaDir),
			Fsync:   fsync,
			Metrics: rt.metrics.Catalog(),
		})
		if err != nil {
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		rt.catalog = cat
	}

	sopts := store.OptionsFromConfig(cfg)
	sopts.Catalog = rt.catalog
	sopts.Metrics = rt.metrics
	sopts.Logger = logger
	st, err := store.Open(ctx, sopts)
	if err != nil {
		return nil, multierror.Append(fmt.Errorf("open store: %w", err), rt.closeCatalog()).ErrorOrNil()
	}
	rt.store = st
	return rt, nil
}

// Run drives background compaction until ctx is done.
func (r *Runtime) Run(ctx context.Context) error {
	err := r.store.Run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Close closes the store before the catalog it flushes into.
func (r *Runtime) Close() error {
	var result *multierror.Error
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := r.closeCatalog(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (r *Runtime) closeCatalog() error {
	if r.catalog == nil {
		return nil
	}
	err := r.catalog.Close()
	r.catalog = nil
	return err
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.store == nil {
		return errors.New("store not open")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := r.store.ListLogs(); err != nil {
		return err
	}
	if r.catalog != nil {
		if _, _, err := r.catalog.Get(id.Zero); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
	}
	return nil
}

// Store exposes the log store.
func (r *Runtime) Store() *store.Store { return r.store }

// Catalog returns the log catalog, or nil when it is disabled.
func (r *Runtime) Catalog() *catalog.Catalog { return r.catalog }

// Metrics returns the runtime's collectors.
func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
