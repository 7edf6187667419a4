package adapter

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/project-AI39/artfave/internal/cache"
	"github.com/project-AI39/artfave/internal/circuit"
	"github.com/project-AI39/artfave/internal/config"
	"github.com/project-AI39/artfave/internal/favorites"
	"github.com/project-AI39/artfave/internal/metrics"
	"github.com/project-AI39/artfave/internal/session"
	"github.com/project-AI39/artfave/internal/source"
	"github.com/project-AI39/artfave/internal/storage/disk"
	"github.com/project-AI39/artfave/pkg/errors"
	"github.com/project-AI39/artfave/pkg/retry"
	"github.com/project-AI39/artfave/pkg/types"
	"github.com/project-AI39/artfave/pkg/utils"
)

// Adapter wires the components named by a Configuration into one browsing
// session over a folder.
type Adapter struct {
	config *config.Configuration
	logger *utils.StructuredLogger

	dir       *source.Directory
	backend   *disk.Backend
	breaker   *circuit.CircuitBreaker
	metrics   *metrics.Collector
	favorites *favorites.Store
	session   *session.Session
}

// New builds every component for browsing folder. Apart from creating the
// favorites folder, nothing touches the disk until Start.
func New(folder string, cfg *config.Configuration, logger *utils.StructuredLogger) (*Adapter, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	a := &Adapter{config: cfg, logger: logger.WithComponent("adapter")}

	order, err := source.ParseSortOrder(cfg.Source.SortOrder)
	if err != nil {
		return nil, err
	}
	a.dir, err = source.NewDirectory(folder, cfg.Source.Extensions, order)
	if err != nil {
		return nil, err
	}

	maxSize, err := cfg.MaxItemSizeBytes()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid max item size").
			WithComponent("adapter")
	}
	a.backend = disk.NewBackend(&disk.Config{
		MaxItemSize:  maxSize,
		VerifyDecode: cfg.Storage.VerifyDecode,
	}, logger)

	a.metrics, err = metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Address:   cfg.Global.MetricsAddr,
		Path:      "/metrics",
		Namespace: "artfave",
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Favorites.Directory != "" {
		a.favorites, err = favorites.NewStore(favorites.Config{
			Directory: cfg.Favorites.Directory,
			Overwrite: cfg.Favorites.Overwrite,
		}, logger)
		if err != nil {
			return nil, err
		}
	}

	a.session = session.New(a.dir, a.fetcher(), session.Options{
		Cache: cache.Options{
			Capacity:       cfg.Prefetch.Capacity,
			PerItemTimeout: cfg.Prefetch.PerItemTimeout,
			BatchTimeout:   cfg.Prefetch.BatchTimeout,
			Logger:         logger,
			Metrics:        a.metrics,
		},
		Watch:     cfg.Source.Watch,
		Debounce:  cfg.Source.Debounce,
		Favorites: a.favorites,
		Logger:    logger,
	})
	return a, nil
}

// fetcher stacks the read path: disk read, retried while a file is still
// being written, behind a circuit breaker when enabled.
func (a *Adapter) fetcher() types.Fetcher[string, *disk.Image] {
	retryLogger := a.logger.WithComponent("retry")
	var f types.Fetcher[string, *disk.Image] = retry.Fetcher[string, *disk.Image](
		types.FetcherFunc[string, *disk.Image](a.backend.Fetch),
		retry.New(retry.DefaultConfig()).WithOnRetry(func(attempt int, err error, delay time.Duration) {
			retryLogger.Debug("retrying read", map[string]interface{}{
				"attempt": attempt,
				"delay":   delay.String(),
				"error":   err.Error(),
			})
		}),
	)

	if !a.config.Circuit.Enabled {
		return f
	}

	logState := circuit.LogStateChanges(a.logger)
	a.breaker = circuit.NewCircuitBreaker(a.dir.Path(), circuit.Config{
		FailureThreshold: a.config.Circuit.FailureThreshold,
		OpenTimeout:      a.config.Circuit.OpenTimeout,
		OnStateChange: func(name string, from, to circuit.State) {
			logState(name, from, to)
			a.metrics.RecordCircuitState(name, int(to))
		},
	})
	return circuit.Guard[string, *disk.Image](f, a.breaker)
}

// Start checks the folder, starts the metrics endpoint if configured and
// opens the session.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.backend.HealthCheck(ctx, a.dir.Path()); err != nil {
		return err
	}
	if err := a.metrics.Start(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to start metrics endpoint").
			WithComponent("adapter").
			WithContext("addr", a.config.Global.MetricsAddr)
	}
	if err := a.session.Open(ctx); err != nil {
		_ = a.metrics.Stop(ctx)
		return err
	}

	a.logger.Info("browsing", map[string]interface{}{
		"dir":      a.dir.Path(),
		"capacity": a.config.Prefetch.Capacity,
		"circuit":  a.breaker != nil,
		"watch":    a.config.Source.Watch,
	})
	return nil
}

// Stop closes the session and the metrics endpoint. Both are stopped even
// if one fails; the first error is returned.
func (a *Adapter) Stop(ctx context.Context) error {
	var g errgroup.Group
	g.Go(a.session.Close)
	g.Go(func() error { return a.metrics.Stop(ctx) })
	return g.Wait()
}

// Session returns the browsing session.
func (a *Adapter) Session() *session.Session { return a.session }

// Metrics returns the metrics collector.
func (a *Adapter) Metrics() *metrics.Collector { return a.metrics }

// Favorites returns the favorites store, nil when none is configured.
func (a *Adapter) Favorites() *favorites.Store { return a.favorites }

// Breaker returns the circuit breaker, nil when disabled.
func (a *Adapter) Breaker() *circuit.CircuitBreaker { return a.breaker }

// Backend returns the disk backend.
func (a *Adapter) Backend() *disk.Backend { return a.backend }

// Directory returns the browsed folder.
func (a *Adapter) Directory() *source.Directory { return a.dir }
