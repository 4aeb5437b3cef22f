package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"tutorials/backend/internal/api"
	"tutorials/backend/internal/bootstrap"
	"tutorials/backend/internal/clients"
	"tutorials/backend/internal/config"
	"tutorials/backend/internal/metrics"
	"tutorials/backend/internal/telemetry"
	"tutorials/backend/internal/tutorial"
)

const provisionTimeout = 5 * time.Second

// AppContext holds all constructed application dependencies shared across
// subcommands. It is built once in PersistentPreRunE.
type AppContext struct {
	cfg          *config.Config
	otelProvider *telemetry.Provider
	mongo        *clients.MongoClient
	cache        *clients.RedisCache     // nil when cache.addr is empty
	events       *clients.EventPublisher // nil when events.url is empty
	health       *bootstrap.HealthChecker
	engine       *gin.Engine
	sequencer    *bootstrap.Sequencer
}

// buildAppContext constructs all application dependencies from cfg:
//  1. Initialises the OTEL provider (best-effort, non-fatal)
//  2. Creates one circuit breaker per client
//  3. Creates the MongoDB client and the optional Redis cache and NATS publisher
//  4. Registers every client with the deep health checker
//  5. Creates the engine and the startup sequencer
//
// Nothing here touches the network; connections happen in Sequencer.Run.
// providerConfig describes this process to the collector: build version,
// backing database and whether the optional clients are enabled.
func providerConfig(cfg *config.Config) telemetry.ProviderConfig {
	attrs := []attribute.KeyValue{
		semconv.DBSystemMongoDB,
		attribute.Bool("tutorials.cache.enabled", cfg.Cache.Addr != ""),
		attribute.Bool("tutorials.events.enabled", cfg.Events.URL != ""),
		attribute.Bool("tutorials.cors.enabled", cfg.Server.EnableCORS),
	}
	if addr, err := bootstrap.ParseAddress(cfg.Mongo.URI, cfg.Mongo.Database); err == nil {
		attrs = append(attrs, semconv.DBNamespace(addr.Database))
	}
	return telemetry.ProviderConfig{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.OTLPInsecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Attributes:  attrs,
	}
}

func buildAppContext(cfg *config.Config) (*AppContext, error) {
	app := &AppContext{cfg: cfg}

	if cfg.Telemetry.OTLPEndpoint == "" {
		slog.Debug("OTEL telemetry disabled (no endpoint configured)")
	} else {
		tp, err := telemetry.InitProvider(context.Background(), providerConfig(cfg))
		if err != nil {
			slog.Warn("OTEL provider init failed, telemetry disabled", "err", err)
		} else {
			app.otelProvider = tp
		}
	}

	app.health = bootstrap.NewHealthChecker()

	app.mongo = clients.NewMongoClient(cfg.Mongo, clients.NewCircuitBreaker("mongodb"))
	app.health.Register("mongodb", app.mongo)

	if cfg.Cache.Addr != "" {
		app.cache = clients.NewRedisCache(cfg.Cache, clients.NewCircuitBreaker("redis"))
		app.health.Register("redis", app.cache)
	}
	if cfg.Events.URL != "" {
		app.events = clients.NewEventPublisher(cfg.Events, clients.NewCircuitBreaker("nats"))
		app.health.Register("nats", app.events)
	}

	app.engine = api.NewEngine()
	app.sequencer = bootstrap.NewSequencer(app.engine, bootstrap.Steps{
		Configure: app.configure,
		Connector: app.mongo,
		Mount:     app.mount,
		Listener: &bootstrap.HTTPListener{
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		},
	}, bootstrap.Options{
		EnableCORS:      cfg.Server.EnableCORS,
		ConnectTimeout:  cfg.Mongo.ConnectTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		OnTransition: func(s bootstrap.State) {
			metrics.BootstrapState.Set(float64(s))
		},
	})

	return app, nil
}

// configure installs middleware and the connection-independent routes.
func (a *AppContext) configure(engine *gin.Engine, enableCORS bool) {
	api.Configure(engine, api.Options{
		ServiceName: a.cfg.Telemetry.ServiceName,
		EnableCORS:  enableCORS,
		RateLimit:   a.cfg.Server.RateLimit,
		RateBurst:   a.cfg.Server.RateBurst,
		Health:      a.health,
		Readiness:   a.sequencer,
	})
}

// mount wires the tutorial service to the live connection and registers its
// routes.
func (a *AppContext) mount(engine *gin.Engine, conn *bootstrap.ConnectionHandle) {
	store := tutorial.NewMongoStore(conn.Database, a.cfg.Mongo.OpTimeout)

	var opts []tutorial.Option
	if a.cache != nil {
		opts = append(opts, tutorial.WithCache(a.cache))
	}
	if a.events != nil {
		ctx, cancel := context.WithTimeout(context.Background(), provisionTimeout)
		if err := a.events.ProvisionStream(ctx); err != nil {
			slog.Warn("event stream provisioning failed, publishing will retry lazily", "err", err)
		}
		cancel()
		opts = append(opts, tutorial.WithPublisher(a.events))
	}

	api.MountTutorials(engine, tutorial.NewService(store, opts...))
}

// close releases the optional clients and flushes telemetry.
func (a *AppContext) close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Warn("redis close error", "err", err)
		}
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.otelProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelProvider.Shutdown(ctx); err != nil {
			slog.Warn("OTEL shutdown error", "err", err)
		}
	}
}
