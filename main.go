package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	config "github.com/phillip/shared-calendar/config"
	"github.com/phillip/shared-calendar/ics"
	"github.com/phillip/shared-calendar/jobs"
	"github.com/phillip/shared-calendar/logger"
	"github.com/phillip/shared-calendar/repository"
	"github.com/phillip/shared-calendar/routes"
	"github.com/phillip/shared-calendar/services"
	utils "github.com/phillip/shared-calendar/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		events  repository.EventRepository
		users   repository.UserRepository
		journal repository.RepairJournal
		ping    func(ctx context.Context) error
	)
	switch cfg.Storage {
	case config.StorageMemory:
		log.Warn("using in-memory storage, data is lost on restart")
		events = repository.NewMemoryEventRepository(cfg.Location)
		users = repository.NewMemoryUserRepository()
		journal = repository.NewMemoryRepairJournal()
	default:
		connectCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		err := cfg.Connect(connectCtx, log)
		cancel()
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := cfg.Disconnect(shutdownCtx); err != nil {
				log.Warn("mongo disconnect failed", "error", err)
			}
		}()
		events = repository.NewMongoEventRepository(cfg.MongoClient, cfg.DBName, cfg.Location, cfg.MongoTransactions, log)
		users = repository.NewMongoUserRepository(cfg.MongoClient, cfg.DBName)
		journal = repository.NewMongoRepairJournal(cfg.MongoClient, cfg.DBName)
		ping = func(ctx context.Context) error {
			return cfg.MongoClient.Ping(ctx, readpref.Primary())
		}
	}

	var images utils.ImageStore
	if cfg.CloudinaryEnabled() {
		store, err := utils.NewCloudinaryStore(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
		if err != nil {
			return err
		}
		images = store
	} else {
		log.Info("cloudinary not configured, image uploads disabled")
	}

	auth := services.NewAuthService(users, cfg.JWTSecret, cfg.JWTTTL, log)
	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := users.EnsureIndexes(setupCtx); err != nil {
		log.Warn("could not ensure user indexes", "error", err)
	}
	err := auth.EnsureAdmin(setupCtx, cfg.AdminUsername, cfg.AdminPassword)
	cancel()
	if err != nil {
		return err
	}

	calendar := services.NewCalendarService(events, journal, images, cfg.Location, log)

	repairer := jobs.NewSplitRepairer(events, journal, log)
	if err := repairer.Start(cfg.RepairSchedule); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := routes.NewRouter(routes.Deps{
		Calendar:    calendar,
		Auth:        auth,
		Images:      images,
		Feed:        ics.Exporter{Location: cfg.Location, Name: "Shared calendar", Logger: log},
		Logger:      log,
		CORSOrigins: cfg.CORSOrigins,
		Ping:        ping,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr, "storage", cfg.Storage, "timezone", cfg.Location.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	repairer.Stop(shutdownCtx)
	return srv.Shutdown(shutdownCtx)
}
