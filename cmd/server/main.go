package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinel/internal/api"
	"sentinel/internal/bot"
	"sentinel/internal/config"
	"sentinel/internal/marketdata"
	"sentinel/internal/models"
	"sentinel/internal/repository"
	"sentinel/internal/venue"
	"sentinel/internal/websocket"
	"sentinel/pkg/crypto"
	"sentinel/pkg/utils"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	storeShards      = 16
	notificationBuf  = 64
	statusBroadcast  = 15 * time.Second
	shutdownDeadline = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer logger.Sync()

	if cfg.Risk.OverlappingTakeProfitModes() {
		logger.Warn("both multi-level and single take profit configured, multi-level wins")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("fatal", utils.Err(err))
	}
}

func run(cfg *config.Config, logger *utils.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ============ База данных ============

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	logger.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	barRepo := repository.NewBarRepository(db)
	tradeRepo := repository.NewTradeRepository(db)

	// ============ Хранилище рыночных данных ============

	store := marketdata.NewStore(storeShards, cfg.Market.HotCapacity, cfg.Market.SnapshotHistory, barRepo, logger)
	defer store.Close()

	reducer := marketdata.NewReducer(barRepo, cfg.Market.WarmRetentionDays, cfg.Market.ReducerInterval, logger)
	go reducer.Run(ctx)

	// ============ Торговое ядро ============

	notifChan := make(chan *models.Notification, notificationBuf)

	detector := bot.NewCrashDetector(store, cfg.Crash, logger)

	risk := bot.NewRiskManager(cfg.Risk, tradeRepo, notifChan, logger)
	if err := risk.RestoreLedger(ctx); err != nil {
		logger.Warn("failed to restore risk ledger, starting fresh", utils.Err(err))
	}

	bybit := venue.NewBybit()
	if err := bybit.Connect(cfg.Venue.APIKey, cfg.Venue.APISecret); err != nil {
		return fmt.Errorf("connect venue: %w", err)
	}
	defer bybit.Close()

	coord := bot.NewCoordinator(bybit, risk, cfg.Venue, notifChan, logger)
	signals := bot.NewMomentumSignals(store)
	scheduler := bot.NewScheduler(cfg, bybit, signals, store, detector, risk, coord, notifChan, logger)

	// ============ WebSocket hub ============

	hub := websocket.NewHub(logger)
	go hub.Run()
	defer hub.Stop()
	go hub.RunNotificationPump(ctx, notifChan)
	go broadcastStatus(ctx, hub, scheduler, risk, cfg.Market.Symbols)

	scheduler.SetBroadcaster(hub)

	schedulerDone := make(chan error, 1)
	go func() {
		schedulerDone <- scheduler.Run(ctx)
	}()

	// ============ HTTP сервер ============

	tokenHash := ""
	if cfg.Security.APIToken != "" {
		tokenHash, err = crypto.HashToken(cfg.Security.APIToken)
		if err != nil {
			return fmt.Errorf("hash api token: %w", err)
		}
	} else {
		logger.Warn("API_TOKEN not set, api authentication disabled")
	}

	router := api.SetupRoutes(&api.Dependencies{
		Risk:      risk,
		Detector:  detector,
		Scheduler: scheduler,
		Executor:  coord,
		Hub:       hub,
		Symbols:   cfg.Market.Symbols,
		TokenHash: tokenHash,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverDone := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr))
		if cfg.Server.UseHTTPS {
			serverDone <- server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			serverDone <- server.ListenAndServe()
		}
	}()

	// ============ Graceful shutdown ============

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverDone:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
	case err := <-schedulerDone:
		if err != nil && err != context.Canceled {
			return fmt.Errorf("scheduler: %w", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", utils.Err(err))
	}

	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop before deadline")
	}

	logger.Info("shutdown complete")
	return nil
}

// broadcastStatus периодически рассылает состояние планировщика и
// счётчики рисков всем подключённым websocket клиентам.
func broadcastStatus(ctx context.Context, hub *websocket.Hub, scheduler *bot.Scheduler, risk *bot.RiskManager, symbols []string) {
	ticker := time.NewTicker(statusBroadcast)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lastCheck := make(map[string]time.Time, len(symbols))
			for _, sym := range symbols {
				lastCheck[sym] = scheduler.LastCheck(sym)
			}
			hub.BroadcastTickStatus(scheduler.State(), lastCheck)
			hub.BroadcastLedger(risk.LedgerSnapshot())
		}
	}
}
