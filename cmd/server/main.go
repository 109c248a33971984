package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attendance_srv/internal/cache"
	"attendance_srv/internal/config"
	"attendance_srv/internal/database"
	"attendance_srv/internal/downloads"
	"attendance_srv/internal/metrics"
	"attendance_srv/internal/server"
	"attendance_srv/internal/service"
	"attendance_srv/internal/session"
	"attendance_srv/internal/storage"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	// .env необязателен
	_ = godotenv.Load()

	app := fx.New(
		fx.NopLogger,

		// Поставщики зависимостей
		fx.Provide(
			provideConfig,
			provideLogger,
			provideRegistry,
			provideMetrics,
			provideDatabase,
			storage.NewStorageFromConfig,
			provideAuthenticator,
			provideCache,
			provideService,
			fx.Annotate(server.NewServer, fx.As(new(server.HTTPServer))),
		),

		// Хуки жизненного цикла
		fx.Invoke(registerLifecycleHooks),
	)

	// Запуск приложения с остановкой
	runWithGracefulShutdown(app)
}

// provideConfig загружает и предоставляет конфигурацию приложения
func provideConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// provideLogger создает и настраивает логгер на основе конфигурации
func provideLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()

	// Устанавливаем уровень логирования
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
		logger.WithError(err).Warn("Неверный уровень логирования, используется info")
	}
	logger.SetLevel(level)

	// Устанавливаем формат вывода
	switch cfg.Logging.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	logger.WithField("config", cfg.String()).Info("Запуск сервиса отчетов о посещаемости")
	return logger
}

// provideRegistry создает реестр метрик; при отключенных метриках /metrics не публикуется
func provideRegistry(cfg config.Config) (*prometheus.Registry, prometheus.Gatherer) {
	reg := prometheus.NewRegistry()
	if !cfg.Metrics.Enabled {
		return reg, nil
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, reg
}

// provideMetrics регистрирует метрики кэша; nil, если метрики отключены
func provideMetrics(cfg config.Config, reg *prometheus.Registry) (*metrics.Metrics, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}
	return metrics.New(cfg.Metrics.Namespace, reg)
}

// provideDatabase подключает каталог отчетов и применяет миграции
func provideDatabase(cfg config.Config, logger *logrus.Logger) (*gorm.DB, error) {
	db, err := database.NewDatabase(database.Config{
		Driver: cfg.DB.Driver,
		DSN:    cfg.DB.DSN,
		Debug:  cfg.Server.Debug,
	})
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db, logger); err != nil {
		return nil, err
	}
	return db, nil
}

// provideAuthenticator создает сессию входа для выбранного хранилища
func provideAuthenticator(store storage.ObjectStore, logger *logrus.Logger) session.Authenticator {
	return session.ForStore(store, logger)
}

// provideCache создает локальный кэш PDF поверх хранилища
func provideCache(cfg config.Config, store storage.ObjectStore, m *metrics.Metrics, logger *logrus.Logger) (*cache.Fetcher, error) {
	return cache.New(store, cache.Options{
		Dir:           cfg.Cache.Dir,
		MaxAge:        cfg.Cache.MaxAge,
		URLExpiration: cfg.Storage.PresignExpiration,
		Logger:        logger,
		Metrics:       m,
	})
}

// provideService собирает сервис отчетов
func provideService(
	cfg config.Config,
	auth session.Authenticator,
	fetcher *cache.Fetcher,
	store storage.ObjectStore,
	db *gorm.DB,
	m *metrics.Metrics,
	logger *logrus.Logger,
) service.ReportService {
	return service.NewReportService(service.Deps{
		Auth:       auth,
		Cache:      fetcher,
		Lister:     store,
		Saver:      downloads.NewSaver(cfg.Downloads.Dir),
		Repository: service.NewGormReportRepository(db, logger),
		Metrics:    m,
		Logger:     logger,
	})
}

// registerLifecycleHooks настраивает хуки жизненного цикла приложения
func registerLifecycleHooks(
	srv server.HTTPServer,
	fetcher *cache.Fetcher,
	db *gorm.DB,
	cfg config.Config,
	logger *logrus.Logger,
	lc fx.Lifecycle,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.Cache.SweepOnStart {
				if _, err := fetcher.SweepTemp(); err != nil {
					logger.WithError(err).Warn("Не удалось очистить временные файлы кэша")
				}
			}

			logger.Info("Запуск HTTP сервера")
			go func() {
				if err := srv.Start(cfg.Server.Address); err != nil {
					logger.WithError(err).Error("Не удалось запустить HTTP сервер")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Завершение работы HTTP сервера")
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
}

// runWithGracefulShutdown обрабатывает жизненный цикл приложения с обработкой сигналов
func runWithGracefulShutdown(app *fx.App) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Настраиваем обработку сигналов
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Запускаем приложение с таймаутом
	startCtx, startCancel := context.WithTimeout(ctx, 15*time.Second)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		logrus.WithError(err).Fatal("Не удалось запустить приложение")
	}

	// Ожидаем сигнал завершения
	<-quit
	logrus.Info("Получен сигнал завершения работы")

	// Грациозное завершение с таймаутом
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := app.Stop(stopCtx); err != nil {
		logrus.WithError(err).Error("Ошибка при завершении работы")
		os.Exit(1)
	}

	logrus.Info("Сервис отчетов остановлен корректно")
}
