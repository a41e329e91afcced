// Точка входа Document Module — управление документами и доступом к ним.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL
// и хранилищу содержимого, загружает набор прав ролей, создаёт сервисный
// слой и API handlers, запускает канал уведомлений, topologymetrics и
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/document-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/document-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/document-module/internal/blobstore"
	"github.com/bigkaa/goartstore/document-module/internal/blobstore/filestore"
	"github.com/bigkaa/goartstore/document-module/internal/blobstore/s3store"
	"github.com/bigkaa/goartstore/document-module/internal/config"
	"github.com/bigkaa/goartstore/document-module/internal/database"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
	"github.com/bigkaa/goartstore/document-module/internal/server"
	"github.com/bigkaa/goartstore/document-module/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Document Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("blob_backend", cfg.BlobBackend),
	)

	if os.Getenv("DM_DEPHEALTH_GROUP") == "" {
		logger.Warn("DM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Хранилище содержимого
	blobs, blobHandler, err := openBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища содержимого", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Сервисы
	uow := repository.NewUnitOfWork(pool)
	audit := service.NewAuditRecorder(uow.Repos().Audit, logger)
	perms := service.NewPermissionService(uow, audit, logger)
	if err := perms.Reload(ctx); err != nil {
		logger.Error("Ошибка загрузки набора прав", slog.String("error", err.Error()))
		os.Exit(1)
	}

	dispatcher := service.NewDispatcher(uow.Repos().Notifications, cfg.NotifyBuffer, logger)

	docs := service.NewDocumentService(service.DocumentDeps{
		UnitOfWork:  uow,
		Versions:    service.NewVersionStore(uow, blobs, logger),
		Blobs:       blobs,
		URLs:        service.NewURLCache(blobs, cfg.URLCacheSize, cfg.PresignTTL),
		Permissions: perms,
		Audit:       audit,
		Notifier:    dispatcher,
	}, logger)
	tags := service.NewTagService(uow, perms, audit, logger)
	stats := service.NewStatsService(uow, perms, nil, logger)

	// 7. Readiness checkers (PostgreSQL + хранилище + JWKS)
	jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSCACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), blobs, jwksChecker)

	apiHandler := handlers.NewAPIHandler(healthHandler, handlers.Services{
		Documents:   docs,
		Tags:        tags,
		Permissions: perms,
		Audit:       audit,
		Inbox:       dispatcher,
		Stats:       stats,
	}, cfg.MaxUploadSize, logger)

	// 8. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.JWKSCACertPath,
		cfg.JWTIssuer,
		middleware.ClaimNames{Role: cfg.JWTRoleClaim, Department: cfg.JWTDepartmentClaim},
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 9. Фоновые задачи
	dispatcher.Start(ctx)

	dephealthCfg := service.DephealthConfig{
		ServiceID:     "document-module",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL(),
		CheckInterval: cfg.DephealthCheckInterval,
	}
	if cfg.BlobBackend == config.BlobBackendS3 {
		dephealthCfg.ObjectStoreURL = cfg.S3Endpoint
	}
	dephealthSvc, err := service.NewDephealthService(dephealthCfg, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 10. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler, jwtAuth, blobHandler)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 11. Graceful shutdown фоновых задач. Канал уведомлений дописывает
	// поставленные в очередь события до закрытия пула.
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	dispatcher.Stop()

	logger.Info("Document Module остановлен")
}

// openBlobStore создаёт хранилище содержимого по DM_BLOB_BACKEND.
// Для локального хранилища возвращает и handler раздачи по подписанным ссылкам.
func openBlobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blobstore.Store, http.Handler, error) {
	if cfg.BlobBackend == config.BlobBackendS3 {
		store, err := s3store.New(ctx, s3store.Options{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Хранилище содержимого: S3",
			slog.String("endpoint", cfg.S3Endpoint),
			slog.String("bucket", cfg.S3Bucket),
		)
		return store, nil, nil
	}

	store, err := filestore.New(cfg.BlobDir, []byte(cfg.BlobURLSecret), cfg.PublicURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Хранилище содержимого: локальная директория", slog.String("dir", cfg.BlobDir))
	return store, store.Handler(logger), nil
}
