package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"

	"charhub/internal/retention"
	"charhub/pkg/api/auth"
	"charhub/pkg/config"
	"charhub/pkg/events"
	"charhub/pkg/identity"
	"charhub/pkg/ingest/queue"
	"charhub/pkg/ingest/wally"
	"charhub/pkg/llm"
	"charhub/pkg/llm/gemini"
	"charhub/pkg/logger"
	"charhub/pkg/models"
	"charhub/pkg/photo"
	"charhub/pkg/progressor"
	"charhub/pkg/sensor"
	"charhub/pkg/state"
	"charhub/pkg/store"
	"charhub/pkg/store/db/memdb"
	"charhub/pkg/store/db/mongodb"
	"charhub/pkg/store/db/storedb"
	"charhub/pkg/telemetry"
	"charhub/pkg/timeutil"
	"charhub/pkg/workspace"
)

const recentEvents = 256

// App groups server state and components.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string
	started   time.Time

	mu    sync.Mutex
	state string

	store      *store.Store
	identity   *identity.Store
	bus        *events.Bus
	queue      *queue.IngestQueue
	journal    *wally.Log
	generator  llm.Generator
	workspaces *workspace.Manager
	retention  *retention.Manager
	sensor     *sensor.Sensor
	gateway    *auth.Gateway

	srvFast      *fasthttp.Server
	followCancel context.CancelFunc
}

type options struct {
	generator llm.Generator
	backend   store.Backend
}

type Option func(*options)

// WithGenerator replaces the configured LLM provider.
func WithGenerator(g llm.Generator) Option { return func(o *options) { o.generator = g } }

// WithBackend replaces the configured storage backend.
func WithBackend(b store.Backend) Option { return func(o *options) { o.backend = b } }

// New opens every store and builds the components. Nothing runs until Run.
func New(ctx context.Context, eff config.EffectiveConfigResult, version, commit, buildDate string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	// validate config and fail fast if not valid
	if err := config.ValidateConfig(eff); err != nil {
		return nil, err
	}
	cfg := eff.Config
	config.SetConfig(cfg)

	if err := state.EnsureStateDirs(eff.DBPath); err != nil {
		return nil, err
	}
	paths := state.PathsFor(eff.DBPath)

	if migrated, err := progressor.Run(ctx, eff.DBPath, version); err != nil {
		return nil, fmt.Errorf("data directory layout: %w", err)
	} else if migrated {
		logger.Info("data_layout_migrated", "layout", progressor.LayoutVersion)
	}

	// setup runtime keys
	runtimeCfg := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, SigningKeys: map[string]struct{}{}}
	for _, k := range cfg.Security.APIKeys.Backend {
		runtimeCfg.BackendKeys[k] = struct{}{}
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	if err := telemetry.Init(telemetry.Options{
		Dir:           paths.Tel,
		BufferSize:    int(cfg.Telemetry.BufferSize.Int64()),
		QueueCapacity: cfg.Telemetry.QueueCapacity,
		FlushInterval: cfg.Telemetry.FlushInterval.Duration(),
		MaxFileSize:   cfg.Telemetry.FileMaxSize.Int64(),
		SampleRate:    cfg.Telemetry.SampleRate,
		SlowThreshold: cfg.Telemetry.SlowThreshold.Duration(),
	}); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate, state: "initializing"}
	// undo partial setup on error
	ok := false
	defer func() {
		if !ok {
			a.closeStores()
			telemetry.Close()
		}
	}()

	backend := o.backend
	if backend == nil {
		b, err := openBackend(ctx, cfg, paths)
		if err != nil {
			return nil, err
		}
		backend = b
	}
	a.store = store.New(backend)

	ident, err := identity.Open(identity.Options{
		Path:              cfg.IdentityPath(),
		SessionTTL:        cfg.Identity.SessionTTL.Duration(),
		BcryptCost:        cfg.Identity.BcryptCost,
		MinPasswordLength: cfg.Identity.MinPasswordLength,
	})
	if err != nil {
		return nil, fmt.Errorf("open identity store at %s: %w", cfg.IdentityPath(), err)
	}
	a.identity = ident

	a.bus = events.NewBus(recentEvents)
	qopts := queue.Options{
		Capacity:     cfg.Ingest.Queue.Capacity,
		Workers:      cfg.Ingest.Queue.Workers,
		WriteTimeout: cfg.Ingest.Queue.WriteTimeout.Duration(),
		Store:        a.store,
		Bus:          a.bus,
	}
	if cfg.Ingest.Queue.Durable {
		a.journal, err = wally.Open(paths.Journal, wally.Options{NoSync: cfg.Ingest.Queue.NoSync})
		if err != nil {
			return nil, fmt.Errorf("open write journal at %s: %w", paths.Journal, err)
		}
		qopts.Journal = a.journal
	}
	a.queue = queue.NewIngestQueue(qopts)

	a.generator = o.generator
	if a.generator == nil {
		a.generator, err = newGenerator(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	a.workspaces = workspace.NewManager(workspace.Deps{
		Store:     a.store,
		Writer:    a.queue,
		Generator: a.generator,
		Bus:       a.bus,
		Photo:     photo.Options{MaxBytes: cfg.Photo.MaxBytes.Int64(), MaxPixels: int64(cfg.Photo.MaxPixels), Quality: cfg.Photo.JPEGQuality},
	}, workspace.ManagerOptions{
		IdleTTL:       cfg.Workspace.IdleTTL.Duration(),
		SweepInterval: cfg.Workspace.SweepInterval.Duration(),
	})

	a.retention, err = retention.New(cfg.Retention, paths.Retention, a.identity)
	if err != nil {
		return nil, err
	}

	a.sensor = sensor.NewSensor(sensor.MonitorConfig{
		Path:           eff.DBPath,
		PollInterval:   cfg.Sensor.PollInterval.Duration(),
		DiskHighPct:    cfg.Sensor.DiskHighPct,
		DiskLowPct:     cfg.Sensor.DiskLowPct,
		MemHighPct:     cfg.Sensor.MemHighPct,
		RecoveryWindow: cfg.Sensor.RecoveryWindow.Duration(),
	})

	a.gateway = auth.NewGateway(secConfig(cfg), a.identity)

	logConfigSummary(cfg)
	ok = true
	return a, nil
}

func openBackend(ctx context.Context, cfg *config.Config, paths state.Paths) (store.Backend, error) {
	switch cfg.Storage.Backend {
	case "memory":
		logger.Warn("storage_not_durable", "backend", "memory")
		return memdb.New(), nil
	case "mongo":
		m := cfg.Storage.Mongo
		db, err := mongodb.Open(ctx, mongodb.Options{
			URI:        m.URI,
			Database:   m.Database,
			Collection: m.Collection,
			Timeout:    m.Timeout.Duration(),
		})
		if err != nil {
			return nil, fmt.Errorf("connect mongo %s/%s: %w", m.Database, m.Collection, err)
		}
		return db, nil
	default:
		db, err := storedb.Open(paths.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble at %s: %w", paths.Store, err)
		}
		return db, nil
	}
}

func newGenerator(ctx context.Context, cfg *config.Config) (llm.Generator, error) {
	if cfg.LLM.APIKey == "" {
		logger.Warn("llm_api_key_missing", "msg", "character generation and chat will fail until an API key is set")
		return unconfigured{}, nil
	}
	p, err := gemini.NewProvider(ctx, gemini.Options{
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		Timeout:           cfg.LLM.Timeout.Duration(),
		MinBiographyChars: cfg.LLM.MinBiographyChars,
	})
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	return p, nil
}

// unconfigured fails every call so users see "Generation Failed".
type unconfigured struct{}

var errNoAPIKey = errors.New("llm api key not configured")

func (unconfigured) GenerateProfile(context.Context, llm.ProfileRequest) (*models.Profile, error) {
	return nil, fmt.Errorf("%w: %w", llm.ErrGenerationFailed, errNoAPIKey)
}

func (unconfigured) Reply(context.Context, llm.ReplyRequest) (string, error) {
	return "", fmt.Errorf("%w: %w", llm.ErrGenerationFailed, errNoAPIKey)
}

func secConfig(cfg *config.Config) auth.SecConfig {
	sec := auth.SecConfig{
		AllowedOrigins: append([]string{}, cfg.Security.CORS.AllowedOrigins...),
		RPS:            cfg.Security.RateLimit.RPS,
		Burst:          cfg.Security.RateLimit.Burst,
		IPWhitelist:    append([]string{}, cfg.Security.IPWhitelist...),
		BackendKeys:    map[string]struct{}{},
		FrontendKeys:   map[string]struct{}{},
		AdminKeys:      map[string]struct{}{},
	}
	for _, k := range cfg.Security.APIKeys.Backend {
		sec.BackendKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Frontend {
		sec.FrontendKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Admin {
		sec.AdminKeys[k] = struct{}{}
	}
	return sec
}

// logConfigSummary reports the sizing that bounds memory use under load.
func logConfigSummary(cfg *config.Config) {
	q := cfg.Ingest.Queue
	logger.LogConfigSummary("config_capacity_summary", []string{
		fmt.Sprintf("storage: %s", cfg.Storage.Backend),
		fmt.Sprintf("queue_capacity: %s", humanize.Comma(int64(q.Capacity))),
		fmt.Sprintf("queue_workers: %d", q.Workers),
		fmt.Sprintf("photo_max: %s", humanize.IBytes(uint64(cfg.Photo.MaxBytes.Int64()))),
		fmt.Sprintf("request_body_max: %s", humanize.IBytes(uint64(cfg.Server.MaxRequestBody.Int64()))),
		fmt.Sprintf("workspace_idle_ttl: %s", cfg.Workspace.IdleTTL.Duration()),
	})
}

// Run starts the workers, schedulers and HTTP server, then blocks until ctx
// is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()
	a.started = timeutil.Now()

	a.queue.Start()
	a.workspaces.Start()
	a.sensor.Start()
	a.retention.Start(ctx)

	if a.eff.Config.Storage.Backend == "mongo" && a.eff.Config.Storage.Mongo.ChangeStreams {
		followCtx, cancel := context.WithCancel(ctx)
		a.followCancel = cancel
		go func() {
			if err := a.store.Follow(followCtx); err != nil && followCtx.Err() == nil {
				logger.Error("store_follow_stopped", "error", err)
			}
		}()
	}

	errCh := a.startHTTP(ctx)
	a.setState("running")

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) setState(s string) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// State reports the lifecycle phase.
func (a *App) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *App) closeStores() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Error("store_close_failed", "error", err)
		}
	}
	if a.identity != nil {
		if err := a.identity.Close(); err != nil {
			logger.Error("identity_close_failed", "error", err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Error("journal_close_failed", "error", err)
		}
	}
}
