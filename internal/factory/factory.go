package factory

import (
	"fmt"
	"sync"

	"portal-auth/internal/audit"
	"portal-auth/internal/bucketing"
	"portal-auth/internal/config"
	"portal-auth/internal/hashing"
	"portal-auth/internal/isolation"
	"portal-auth/internal/ratelimit"
	"portal-auth/internal/service"
	"portal-auth/internal/session"
	"portal-auth/internal/spam"
	"portal-auth/internal/store"
	"portal-auth/internal/throttle"
	"portal-auth/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	store     store.Store
	buckets   *bucketing.Manager
	hasher    hashing.Hasher
	auditor   *audit.Recorder
	sessions  *session.Manager
	users     *isolation.Manager
	limiter   *ratelimit.Limiter
	detector  *spam.Detector
	throttler *throttle.Throttle

	authService *service.AuthService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	f.store = st

	f.buckets = bucketing.NewManager(32, 16)
	f.hasher = hashing.NewHasher(cfg)
	f.auditor = audit.NewRecorder(f.buckets, 500)
	f.sessions = session.NewManager(&cfg.Session, f.store)
	f.users = isolation.NewManager(f.store, f.sessions, f.hasher, isolation.NewPassthroughEnvelope(), f.auditor)
	f.limiter = ratelimit.NewLimiter(cfg, f.buckets)
	f.detector = spam.NewDetector(&cfg.Spam)
	f.throttler = throttle.NewThrottle(&cfg.Throttle, f.store)

	// Legacy records are migrated before anything reads the store.
	migrator := isolation.NewMigrator(f.store, f.users, f.auditor)
	if err := migrator.Migrate(); err != nil {
		f.store.Close()
		return nil, fmt.Errorf("legacy migration failed: %w", err)
	}

	f.limiter.StartCleanup()

	if !cfg.IsProduction() {
		isolation.AuditDataExposure(f.store)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("store_backend", cfg.Store.Backend),
		util.String("hash_algorithm", cfg.Hashing.Algorithm),
	)

	return f, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Store.SQLitePath)
	case "redis":
		return store.NewRedisStore(cfg.Store.RedisAddr, cfg.Store.RedisDB)
	case "memory", "":
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// AuthService returns the fully wired service, building it on first use.
func (f *Factory) AuthService() *service.AuthService {
	if f.authService == nil {
		f.authService = service.NewAuthService(
			f.config,
			f.limiter,
			f.detector,
			f.throttler,
			f.sessions,
			f.users,
			f.hasher,
			f.auditor,
		)
	}
	return f.authService
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Store() store.Store {
	return f.store
}

func (f *Factory) Sessions() *session.Manager {
	return f.sessions
}

func (f *Factory) Users() *isolation.Manager {
	return f.users
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		f.limiter.Stop()

		if err := f.store.Close(); err != nil {
			util.Error("Failed to close store", util.ErrorField(err))
		} else {
			util.Info("Store closed")
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}
