// Package engine wires all Conduit subsystems together. It creates the
// extension registry, job registry, cache provider, executor, router,
// and optional offline queue, and provides the typed Register/Dispatch
// operations.
//
// This package exists to break the import cycle: the root conduit
// package defines Entity (imported by job, event, etc.) and so cannot
// import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/helixrun/conduit"
	"github.com/helixrun/conduit/bus"
	"github.com/helixrun/conduit/cache"
	"github.com/helixrun/conduit/connectivity"
	"github.com/helixrun/conduit/executor"
	"github.com/helixrun/conduit/ext"
	"github.com/helixrun/conduit/job"
	mw "github.com/helixrun/conduit/middleware"
	"github.com/helixrun/conduit/observability"
	"github.com/helixrun/conduit/offline"
	"github.com/helixrun/conduit/router"
)

// Engine is the composition root: one long-lived object owning the
// registry, the executor, the dispatcher, and the optional offline
// queue. Build one per process (or per isolated module, with a scoped
// bus).
type Engine struct {
	cfg        conduit.Config
	logger     *slog.Logger
	bus        *bus.Bus
	registry   *job.Registry
	extensions *ext.Registry
	provider   *cache.Provider
	janitor    *cache.Janitor
	exec       *executor.Executor
	dispatcher *router.Dispatcher
	offline    *offline.Manager

	// Build-time inputs collected by options.
	mws           []mw.Middleware
	cacheStorage  cache.Storage
	offlineStore  offline.Storage
	fileSafety    offline.FileSafety
	signal        connectivity.Signal
	sweepSchedule string

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	runMu   sync.Mutex
	stopRun context.CancelFunc
}

// Option configures an Engine at build time.
type Option func(*Engine)

// WithConfig overrides the process-wide defaults.
func WithConfig(cfg conduit.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware appends middleware after the default chain
// (recover, tracing, metrics, logging).
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithCacheStorage replaces the default in-memory LRU cache backend.
func WithCacheStorage(s cache.Storage) Option {
	return func(eng *Engine) { eng.cacheStorage = s }
}

// WithCacheSweep enables the cache janitor on the given cron schedule
// (e.g. "@every 30s"). Only storages implementing cache.Sweeper are
// swept; for others this option is a no-op.
func WithCacheSweep(schedule string) Option {
	return func(eng *Engine) { eng.sweepSchedule = schedule }
}

// WithConnectivity installs the connectivity signal. Required for the
// offline queue to engage.
func WithConnectivity(s connectivity.Signal) Option {
	return func(eng *Engine) { eng.signal = s }
}

// WithOfflineStorage enables the offline queue backed by the given
// storage. Takes effect only together with WithConnectivity.
func WithOfflineStorage(s offline.Storage) Option {
	return func(eng *Engine) { eng.offlineStore = s }
}

// WithFileSafety installs the file-safety hook for offline payloads.
func WithFileSafety(fs offline.FileSafety) Option {
	return func(eng *Engine) { eng.fileSafety = fs }
}

// WithTracerProvider sets a custom OTel TracerProvider. When set, the
// tracing middleware uses it instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. When set, both
// the metrics middleware and the observability extension use it instead
// of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build assembles an Engine around the given bus. Every event any of
// the engine's jobs produces is published on b (or on a job's own
// scoped bus when one is attached at dispatch time).
func Build(b *bus.Bus, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	eng := &Engine{
		cfg:        conduit.DefaultConfig(),
		logger:     logger,
		bus:        b,
		registry:   job.NewRegistry(),
		extensions: ext.NewRegistry(logger),
	}
	for _, opt := range opts {
		opt(eng)
	}

	// Cache: in-memory LRU unless a backend was supplied.
	if eng.cacheStorage == nil {
		eng.cacheStorage = cache.NewMemoryStorage(eng.cfg.CacheMaxEntries)
	}
	eng.provider = cache.NewProvider(eng.cacheStorage, logger)

	if eng.sweepSchedule != "" {
		if sweeper, ok := eng.cacheStorage.(cache.Sweeper); ok {
			janitor, err := cache.NewJanitor(sweeper, eng.sweepSchedule, logger)
			if err != nil {
				return nil, fmt.Errorf("engine: %w", err)
			}
			eng.janitor = janitor
		}
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/helixrun/conduit"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/helixrun/conduit"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("github.com/helixrun/conduit/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging.
	allMws := make([]mw.Middleware, 0, 4+len(eng.mws))
	allMws = append(allMws,
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	)
	allMws = append(allMws, eng.mws...)

	eng.exec = executor.New(eng.registry, eng.extensions, eng.provider, logger, allMws...)

	routerOpts := []router.Option{}
	if eng.signal != nil {
		routerOpts = append(routerOpts, router.WithConnectivity(eng.signal))
	}

	// Offline queue engages only with both a storage and a signal.
	if eng.offlineStore != nil && eng.signal != nil {
		offlineOpts := []offline.Option{
			offline.WithMaxRetries(eng.cfg.OfflineMaxRetries),
			offline.WithDrainRate(eng.cfg.DrainRate, eng.cfg.DrainBurst),
			offline.WithExtensions(eng.extensions),
		}
		if eng.fileSafety != nil {
			offlineOpts = append(offlineOpts, offline.WithFileSafety(eng.fileSafety))
		}
		eng.offline = offline.NewManager(eng.offlineStore, eng.exec, b, eng.signal, logger, offlineOpts...)
		routerOpts = append(routerOpts, router.WithOfflineManager(eng.offline))
	}

	eng.dispatcher = router.New(eng.registry, eng.exec, b, logger, routerOpts...)
	return eng, nil
}

// Start launches the engine's background work: the offline queue's
// connectivity watcher and the cache janitor. It returns immediately;
// both run until Stop. Engines built without offline storage or a
// sweep schedule have nothing to start and may skip this.
func (eng *Engine) Start(ctx context.Context) error {
	eng.runMu.Lock()
	defer eng.runMu.Unlock()
	if eng.stopRun != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	eng.stopRun = cancel

	if eng.offline != nil {
		go func() {
			if err := eng.offline.Run(runCtx); err != nil {
				eng.logger.Error("offline queue stopped", slog.String("error", err.Error()))
			}
		}()
	}
	if eng.janitor != nil {
		go eng.janitor.Run(runCtx)
	}
	return nil
}

// Stop shuts the engine down: background work stops, extensions get
// their shutdown hook bounded by Config.ShutdownTimeout, and the bus
// closes so late publishes are rejected rather than silently observed
// by nobody.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.runMu.Lock()
	if eng.stopRun != nil {
		eng.stopRun()
		eng.stopRun = nil
	}
	eng.runMu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
	defer cancel()
	eng.extensions.EmitShutdown(shutdownCtx)

	eng.bus.Close()
	return nil
}

// Bus returns the engine's default bus.
func (eng *Engine) Bus() *bus.Bus { return eng.bus }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Executor returns the executor, for progress reporting and cache
// invalidation.
func (eng *Engine) Executor() *executor.Executor { return eng.exec }

// Dispatcher returns the job router.
func (eng *Engine) Dispatcher() *router.Dispatcher { return eng.dispatcher }

// Offline returns the offline queue manager, or nil if the engine was
// built without one.
func (eng *Engine) Offline() *offline.Manager { return eng.offline }

// Cache returns the cache provider.
func (eng *Engine) Cache() *cache.Provider { return eng.provider }

// Register registers a typed job definition with the engine.
func Register[P, R any](eng *Engine, def *job.Definition[P, R]) {
	job.RegisterDefinition(eng.registry, def)
}

// Dispatch encodes a typed payload and dispatches a job of the given
// registered type. The definition's baseline options apply first, then
// the per-dispatch opts. Payload types implementing job.NetworkAction
// are marked for offline queueing automatically.
func Dispatch[P any](ctx context.Context, eng *Engine, name string, payload P, opts ...job.Option) (*router.Handle, error) {
	data, err := job.EncodeValue(payload)
	if err != nil {
		return nil, fmt.Errorf("dispatch %q: %w", name, err)
	}

	handler, ok := eng.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("dispatch %q: %w", name, conduit.ErrHandlerNotFound)
	}

	jobOpts := make([]job.Option, 0, len(handler.Opts)+len(opts)+1)
	jobOpts = append(jobOpts, handler.Opts...)
	if na, isNA := any(payload).(job.NetworkAction); isNA {
		jobOpts = append(jobOpts, job.WithDedupKey(na.DedupKey()))
	}
	jobOpts = append(jobOpts, opts...)

	return eng.dispatcher.Dispatch(ctx, job.New(name, data, jobOpts...))
}

// DispatchJob dispatches a pre-built job. Use Dispatch for the typed
// path; this exists for callers that assemble jobs themselves.
func (eng *Engine) DispatchJob(ctx context.Context, j *job.Job) (*router.Handle, error) {
	return eng.dispatcher.Dispatch(ctx, j)
}
