// Package bootstrap is the composition root: it turns a Config into a running
// set of stores, services and the HTTP front-end.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"blogger/internal/auth"
	"blogger/internal/cache"
	"blogger/internal/config"
	"blogger/internal/database"
	"blogger/internal/events"
	"blogger/internal/featureflags"
	"blogger/internal/middleware"
	"blogger/internal/models"
	"blogger/internal/observability"
	"blogger/internal/repository"
	"blogger/internal/server"
	"blogger/internal/service"
	"blogger/internal/tagindex"
	"blogger/internal/uploads"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Version is reported to the tracer. Release builds override it with -ldflags.
var Version = "dev"

// Options tune Build for the command being run.
type Options struct {
	// Clock replaces the post service clock, e.g. for seeding historical posts.
	Clock func() time.Time
	// SkipServer leaves the HTTP front-end unbuilt for command-line tools.
	SkipServer bool
}

// App holds everything Build wired together.
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client
	Events events.Publisher
	Users  *auth.UserProvider
	Posts  *service.PostService
	Server *server.Server

	stopEvents    context.CancelFunc
	stopTracing   func(context.Context) error
	shutdownOnce  sync.Once
	shutdownError error
}

var (
	promOnce sync.Once
	prom     *fiberprometheus.FiberPrometheus
)

// httpMetrics registers the HTTP collectors once per process.
func httpMetrics() *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		prom = fiberprometheus.New("blogger")
	})
	return prom
}

// Build connects storage, restores the tag index and assembles the front-end.
// Redis is optional unless the event bus needs it.
func Build(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	app := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()

	app.stopTracing, err = observability.InitTracing(observability.TracingConfig{
		ServiceName:    "blogger",
		ServiceVersion: Version,
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   1,
	})
	if err != nil {
		return nil, err
	}

	app.DB, err = database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	app.Redis = cache.Connect(ctx, cfg.RedisURL)

	app.Events, err = newPublisher(cfg, app.Redis)
	if err != nil {
		return nil, err
	}

	app.Users = auth.NewUserProvider(repository.NewUserRepository(app.DB), 0)
	if err := ensureDevAdmin(ctx, cfg, app.Users, repository.NewUserRepository(app.DB)); err != nil {
		return nil, fmt.Errorf("failed to bootstrap development admin: %w", err)
	}

	app.Posts = service.NewPostService(
		repository.NewPostRepository(app.DB),
		tagindex.New(),
		app.Users.IsAdmin,
		service.Options{
			Cache:          cache.NewPostCache(app.Redis, cache.PostTTL),
			Events:         app.Events,
			Clock:          opts.Clock,
			StorageTimeout: cfg.StorageTimeout(),
			ReadRetries:    2,
		},
	)
	if err := app.Posts.RebuildIndex(ctx); err != nil {
		return nil, fmt.Errorf("failed to build tag index: %w", err)
	}

	// Follow peers only after the rebuild so replayed deltas land on a full index.
	subCtx, cancel := context.WithCancel(context.Background())
	app.stopEvents = cancel
	if err := app.Events.Subscribe(subCtx, app.Posts.ApplyRemoteEvent); err != nil {
		return nil, fmt.Errorf("failed to subscribe to post events: %w", err)
	}

	if opts.SkipServer {
		return app, nil
	}

	deps := server.Deps{
		Config:     cfg,
		Posts:      app.Posts,
		Identities: app.Users,
		Registrar:  app.Users,
		Tokens:     auth.NewTokenIssuer(cfg.JWTSecret, time.Duration(cfg.JWTTTLMinutes)*time.Minute),
		Uploads: uploads.NewStore(cfg.UploadDir, cfg.UploadPrefix, cfg.AllowedExtensions(),
			int64(cfg.UploadMaxSizeMB)*1024*1024),
		Flags:      featureflags.Parse(cfg.FeatureFlags),
		Limiter:    middleware.NewLimiter(app.Redis, cfg.RateLimitEnabled),
		Prometheus: httpMetrics(),
		Checks:     app.healthChecks(),
	}
	if app.Redis != nil {
		deps.SessionStorage = cache.NewSessionStorage(app.Redis)
	}
	app.Server, err = server.New(deps)
	if err != nil {
		return nil, err
	}

	observability.Logger.InfoContext(ctx, "application ready",
		slog.String("env", cfg.Env),
		slog.String("events", app.Events.Name()),
		slog.Bool("redis", app.Redis != nil),
		slog.String("instance", app.Posts.InstanceID()))
	return app, nil
}

func newPublisher(cfg *config.Config, rdb *redis.Client) (events.Publisher, error) {
	switch cfg.EventsBackend {
	case "redis":
		if rdb == nil {
			return nil, errors.New("EVENTS_BACKEND=redis requires a reachable REDIS_URL")
		}
		return events.NewRedisPublisher(rdb), nil
	case "nats":
		return events.ConnectNats(cfg.NATSURL)
	default:
		return events.Noop{}, nil
	}
}

func (a *App) healthChecks() []server.HealthCheck {
	checks := []server.HealthCheck{{
		Name:  "database",
		Check: func(ctx context.Context) error { return database.Ping(ctx, a.DB) },
	}}
	if a.Redis != nil {
		checks = append(checks, server.HealthCheck{
			Name:     "redis",
			Check:    func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
			Optional: true,
		})
	}
	if nats, ok := a.Events.(*events.NatsPublisher); ok {
		checks = append(checks, server.HealthCheck{
			Name:  "nats",
			Check: func(context.Context) error { return nats.Ping() },
		})
	}
	return checks
}

// ensureDevAdmin makes sure DEV_ADMIN_USERNAME exists as an administrator in
// development. Other environments create admins with cmd/admin.
func ensureDevAdmin(ctx context.Context, cfg *config.Config, users *auth.UserProvider, repo repository.UserRepository) error {
	if !strings.EqualFold(cfg.Env, "development") || strings.TrimSpace(cfg.DevAdminUsername) == "" {
		return nil
	}
	if cfg.DevAdminPassword == "" {
		return errors.New("DEV_ADMIN_PASSWORD must be set when DEV_ADMIN_USERNAME is")
	}
	username := strings.TrimSpace(cfg.DevAdminUsername)

	existing, err := repo.GetByUsername(ctx, username)
	switch {
	case models.IsCode(err, models.CodeNotFound):
		_, err = users.Register(ctx, auth.RegisterInput{
			Username: username,
			Password: cfg.DevAdminPassword,
			IsAdmin:  true,
		})
		if err == nil {
			observability.Logger.InfoContext(ctx, "development admin created", slog.String("username", username))
		}
		return err
	case err != nil:
		return err
	case !existing.IsAdmin:
		return repo.SetAdmin(ctx, username, true)
	}
	return nil
}

// Close stops event delivery and releases connections. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		var errs []error
		if a.stopEvents != nil {
			a.stopEvents()
		}
		if a.Events != nil {
			errs = append(errs, a.Events.Close())
		}
		if a.Redis != nil {
			errs = append(errs, a.Redis.Close())
		}
		if a.DB != nil {
			if sqlDB, err := a.DB.DB(); err == nil {
				errs = append(errs, sqlDB.Close())
			}
		}
		if a.stopTracing != nil {
			errs = append(errs, a.stopTracing(ctx))
		}
		a.shutdownError = errors.Join(errs...)
	})
	return a.shutdownError
}
