package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskboard/api"
	"taskboard/broadcast"
	"taskboard/config"
	"taskboard/coordinator"
	"taskboard/projection"
	"taskboard/storage"
)

// boardStore is what the service needs from a storage backend.
type boardStore interface {
	coordinator.Store
	projection.Source
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store  boardStore
		health func(context.Context) error
	)
	switch cfg.StorageBackend {
	case config.BackendTables:
		tables, err := storage.NewTables(cfg.StorageConnectionString, cfg.TasksTable, cfg.ProjectsTable)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		store = tables
	default:
		db, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		defer db.Close()
		store = db
		health = db.Ping
	}

	hub := broadcast.NewHub(cfg.SessionBuffer, logger)
	var (
		live    broadcast.Publisher = hub
		deduper api.Deduper
	)
	if opts := cfg.RedisOptions(); opts != nil {
		rc := redis.NewClient(opts)
		defer rc.Close()
		if cfg.BoardCacheTTL > 0 {
			store = storage.NewCache(store, rc, cfg.BoardCacheTTL)
		}
		relay := broadcast.NewRelay(rc, cfg.RedisEventsChannel, hub, logger)
		go relay.Run(ctx)
		live = relay
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	} else {
		logger.Warn("redis not configured; events stay on this instance and idempotency keys are ignored")
	}

	publishers := broadcast.Fanout{live}
	if cfg.EventsQueue != "" {
		q, err := azqueue.NewQueueClientFromConnectionString(cfg.StorageConnectionString, cfg.EventsQueue, nil)
		if err != nil {
			log.Fatalf("events queue: %v", err)
		}
		export := broadcast.NewAsync(broadcast.NewQueueSink(q), broadcast.AsyncConfig{
			Workers: cfg.ExportWorkers,
			Buffer:  cfg.ExportBuffer,
		}, logger)
		defer export.Close()
		publishers = append(publishers, export)
	}

	auth := api.NewAuth(nil, api.AuthConfig{
		Audience:     cfg.Auth0Audience,
		Issuer:       cfg.Issuer(),
		SharedSecret: cfg.SharedSecret(),
		KeyCacheTTL:  cfg.JWKSCacheTTL,
	})
	if !auth.TestMode {
		jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		auth.JWKS = jwks
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.DecompressRequests())

	api.Register(e, api.Services{
		Tasks:    coordinator.New(store, publishers, logger),
		Boards:   projection.NewProjector(store),
		Projects: store,
		Events:   hub,
		Auth:     auth,
		Deduper:  deduper,
		Health:   health,
	}, logger)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server shutdown")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("tracer shutdown")
	}
}
