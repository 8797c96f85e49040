package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"trainhub/internal/api"
	"trainhub/internal/config"
	"trainhub/internal/database"
	"trainhub/internal/domain"
	"trainhub/internal/events"
	"trainhub/internal/google"
	"trainhub/internal/logging"
	"trainhub/internal/metrics"
	"trainhub/internal/models"
	"trainhub/internal/notify"
	"trainhub/internal/repository"
	"trainhub/internal/service"
	"trainhub/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := initDatabase(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := seedUsers(db, logger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, stateRepo := initStateRepository(ctx, cfg, logger)
	if redisClient != nil {
		defer (func() { _ = repository.Close(redisClient) })()
	}

	eventBus := events.NewEventBus()
	eventBus.OnError(func(ev *events.Event, err error) {
		logger.Error().Err(err).Str("event_type", ev.Type).Msg("event handler failed")
	})
	if publisher := initAMQP(cfg, eventBus, logger); publisher != nil {
		defer (func() { _ = publisher.Close() })()
	}

	outbox, err := initOutbox(ctx, cfg, db, redisClient, logger)
	if err != nil {
		return err
	}

	// outbox может быть nil, интерфейс должен остаться nil
	var queue domain.NotificationQueue
	if outbox != nil {
		queue = outbox
	}
	bookingService := service.NewBookingService(db, stateRepo, eventBus, queue, cfg.Booking, logging.Component(logger, "booking"))

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(db, cfg.Backup, logger)
		go backupService.Start(ctx)
	}

	startMetrics(ctx, cfg, logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, db, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		go grpcServer.WatchDatabase(ctx, 15*time.Second)
	}

	httpServer := api.NewHTTPServer(cfg.API, bookingService, db, logger)

	return startServers(ctx, grpcServer, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("Ошибка создания директории для базы данных")
		return nil, err
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}
	return db, nil
}

// seedUsers upserts the accounts listed in SEED_USERS_PATH, if set.
func seedUsers(db *database.DB, logger *zerolog.Logger) error {
	path := os.Getenv("SEED_USERS_PATH")
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("seed_path", path).Msg("read seed users")
		return err
	}

	var seed struct {
		Users []models.User `yaml:"users"`
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		logger.Error().Err(err).Str("seed_path", path).Msg("parse seed users")
		return err
	}

	for i := range seed.Users {
		if err := db.UpsertUser(context.Background(), &seed.Users[i]); err != nil {
			return fmt.Errorf("seed user %d: %w", seed.Users[i].ID, err)
		}
	}
	logger.Info().Int("count", len(seed.Users)).Msg("users seeded")
	return nil
}

func initStateRepository(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, domain.RequestStateRepository) {
	fallback := repository.NewMemoryStateRepository()
	if cfg.Redis.Address == "" {
		return nil, fallback
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, starting on in-memory state")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}

	primary := repository.NewRedisStateRepository(redisClient)
	return redisClient, repository.NewFailoverStateRepository(primary, fallback, logger)
}

func initAMQP(cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) *events.AMQPPublisher {
	if !cfg.AMQP.Enabled {
		return nil
	}
	publisher, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq unavailable, events stay in-process")
		return nil
	}
	publisher.Bridge(bus, append([]string{events.EventRatingRecomputed}, events.BookingEvents...)...)
	logger.Info().Str("exchange", cfg.AMQP.Exchange).Msg("booking events bridged to rabbitmq")
	return publisher
}

func initOutbox(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	redisClient *redis.Client,
	logger *zerolog.Logger,
) (*worker.OutboxWorker, error) {
	var notifiers []domain.Notifier
	if cfg.Notifications.Enabled {
		var err error
		notifiers, err = notify.FromConfig(cfg.Notifications, logging.Component(logger, "notify"))
		if err != nil {
			logger.Error().Err(err).Msg("init notifiers")
			return nil, err
		}
	}

	var ledger domain.LedgerWriter
	if sheetsService := initGoogleSheets(ctx, cfg, logger); sheetsService != nil {
		ledger = sheetsService
	}

	if len(notifiers) == 0 && ledger == nil {
		logger.Info().Msg("no notification channels or ledger configured, outbox disabled")
		return nil, nil
	}

	retry := worker.RetryPolicy{
		MaxRetries:    cfg.Notifications.Retry.MaxRetries,
		InitialDelay:  config.ParseDuration(cfg.Notifications.Retry.InitialDelay, 2*time.Second),
		MaxDelay:      config.ParseDuration(cfg.Notifications.Retry.MaxDelay, time.Minute),
		BackoffFactor: cfg.Notifications.Retry.BackoffFactor,
	}
	outbox := worker.NewOutboxWorker(db, db, notifiers, ledger, redisClient, retry, logging.Component(logger, "outbox"))
	go outbox.Start(ctx)
	return outbox, nil
}

func initGoogleSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.SheetsService {
	if cfg.Google.GoogleCredentialsFile == "" || cfg.Google.BookingSpreadSheetID == "" {
		return nil
	}

	sheetsService, err := google.NewSheetsService(ctx, cfg.Google.GoogleCredentialsFile, cfg.Google.BookingSpreadSheetID)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without ledger")
		return nil
	}
	if err := sheetsService.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets connection test failed, continuing without ledger")
		return nil
	}

	sheetsService.StartCacheRefresh(ctx, 10*time.Minute, func(err error) {
		logger.Warn().Err(err).Msg("sheets cache refresh failed")
	})
	logger.Info().Msg("google sheets ledger connected")
	return sheetsService
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Bool("grpc", grpcServer != nil).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
