package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/medmatch-backend/internal/config"
	"github.com/ignatzorin/medmatch-backend/internal/db"
	httpHandlers "github.com/ignatzorin/medmatch-backend/internal/http/handlers"
	httpRouter "github.com/ignatzorin/medmatch-backend/internal/http/router"
	"github.com/ignatzorin/medmatch-backend/internal/logger"
	"github.com/ignatzorin/medmatch-backend/internal/payment"
	"github.com/ignatzorin/medmatch-backend/internal/repository"
	"github.com/ignatzorin/medmatch-backend/internal/scheduler"
	"github.com/ignatzorin/medmatch-backend/internal/service"
	"github.com/ignatzorin/medmatch-backend/internal/storage"
	"github.com/ignatzorin/medmatch-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init("info")
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Вспомогательные сервисы.
	tokenManager := service.NewTokenManager(cfg.JWTSecret, 24*time.Hour)

	evidenceStorage, err := storage.NewEvidenceStorage(cfg.EvidenceStoragePath, cfg.MaxUploadSizeMB)
	if err != nil {
		log.Fatalf("main: не удалось подготовить файловое хранилище: %v", err)
	}

	provider := payment.NewClient(cfg.PaymentBaseURL, cfg.PaymentAPIKey, cfg.PaymentTimeout)

	// Репозитории.
	escrowRepo := repository.NewEscrowRepository(dbConn)
	ledgerRepo := repository.NewLedgerRepository(dbConn)
	matchRepo := repository.NewMatchRepository(dbConn)
	pharmacyRepo := repository.NewPharmacyRepository(dbConn)
	profileRepo := repository.NewProfileRepository(dbConn)

	// Вебсокеты.
	hub := ws.NewHub()
	go hub.Run()

	// Движки.
	escrowService := service.NewEscrowService(escrowRepo, ledgerRepo, provider, hub, cfg.PlatformFeePercent)
	matchService := service.NewMatchService(matchRepo, profileRepo, provider, hub, cfg.MatchResponseTTL)
	pharmacyService := service.NewPharmacyService(pharmacyRepo, profileRepo, hub)

	// Планировщик обхода просроченных заявок.
	manager, err := scheduler.NewManager(matchService, cfg.SweepInterval)
	if err != nil {
		log.Fatalf("main: не удалось создать планировщик: %v", err)
	}
	if err := manager.Start(); err != nil {
		log.Fatalf("main: не удалось запустить планировщик: %v", err)
	}
	defer manager.Stop()

	// HTTP хэндлеры.
	escrowHandler := httpHandlers.NewEscrowHandler(escrowService, evidenceStorage)
	matchHandler := httpHandlers.NewMatchHandler(matchService)
	pharmacyHandler := httpHandlers.NewPharmacyHandler(pharmacyService)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, escrowHandler, matchHandler, pharmacyHandler, wsHandler, healthHandler, tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
