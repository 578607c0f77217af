// Package integration contains integration tests for the sentinel trading bot.
//
// These tests verify the correct interaction between components:
// - API integration tests: full HTTP request cycle through the router
// - WebSocket tests: connection, broadcast messaging
// - Database tests: bar spill tables and the trade journal
//
// Tests skip automatically when the test database is unreachable.
// Configure via TEST_DB_* environment variables.
package integration

import (
	"database/sql"
	"fmt"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"sentinel/internal/api"
	"sentinel/internal/bot"
	"sentinel/internal/config"
	"sentinel/internal/marketdata"
	"sentinel/internal/models"
	"sentinel/internal/repository"
	"sentinel/internal/websocket"
	"sentinel/pkg/crypto"
	"sentinel/pkg/utils"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
)

const testAPIToken = "integration-test-token"

// TestConfig contains configuration for integration tests
type TestConfig struct {
	DBDriver   string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

// TestServer encapsulates all components needed for integration testing
type TestServer struct {
	DB        *sql.DB
	Router    *mux.Router
	Server    *httptest.Server
	Hub       *websocket.Hub
	Store     *marketdata.Store
	Detector  *bot.CrashDetector
	Risk      *bot.RiskManager
	BarRepo   *repository.BarRepository
	TradeRepo *repository.TradeRepository
	Cleanup   func()
}

// getTestConfig returns configuration from environment variables or defaults
func getTestConfig() TestConfig {
	return TestConfig{
		DBDriver:   getEnv("TEST_DB_DRIVER", "postgres"),
		DBHost:     getEnv("TEST_DB_HOST", "localhost"),
		DBPort:     getEnv("TEST_DB_PORT", "5432"),
		DBName:     getEnv("TEST_DB_NAME", "sentinel_test"),
		DBUser:     getEnv("TEST_DB_USER", "postgres"),
		DBPassword: getEnv("TEST_DB_PASSWORD", "postgres"),
		DBSSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func testLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "error"})
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		StopLossPercent:      2.0,
		ActivationPercent:    1.5,
		Milestones:           []float64{3, 5, 8},
		LockFraction:         0.5,
		TrailDistance:        1.5,
		MaxDailyLoss:         100,
		MaxConsecutiveLosses: 3,
		MaxPositionRisk:      0.05,
		Leverage:             10,
		PositionSize:         0.01,
	}
}

func testCrashConfig() config.CrashConfig {
	return config.CrashConfig{
		Thresholds: map[string]float64{
			models.Timeframe15m: 1.5,
			models.Timeframe1h:  2.5,
			models.Timeframe4h:  3.5,
			models.Timeframe1d:  5.0,
		},
		AccelPeriods:   3,
		AccelThreshold: 1.5,
		StalenessBound: 5 * time.Minute,
		MinValidVolume: 0.1,
		EventHistory:   10,
	}
}

// SetupTestDB creates a test database connection
func SetupTestDB(t *testing.T) (*sql.DB, func()) {
	cfg := getTestConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode,
	)

	db, err := sql.Open(cfg.DBDriver, connStr)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil, func() {}
	}

	if err := db.Ping(); err != nil {
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
		return nil, func() {}
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}

	return db, cleanup
}

// SetupTestServer creates a complete test server with all components
func SetupTestServer(t *testing.T) *TestServer {
	db, dbCleanup := SetupTestDB(t)
	if db == nil {
		return nil
	}

	if err := initTestTables(db); err != nil {
		t.Skipf("Skipping integration test: cannot initialize tables: %v", err)
		return nil
	}

	logger := testLogger()

	barRepo := repository.NewBarRepository(db)
	tradeRepo := repository.NewTradeRepository(db)

	store := marketdata.NewStore(4, 200, 10, barRepo, logger)
	detector := bot.NewCrashDetector(store, testCrashConfig(), logger)

	notifChan := make(chan *models.Notification, 32)
	risk := bot.NewRiskManager(testRiskConfig(), tradeRepo, notifChan, logger)

	hub := websocket.NewHub(logger)
	go hub.Run()

	tokenHash, err := crypto.HashToken(testAPIToken)
	if err != nil {
		t.Fatalf("cannot hash test token: %v", err)
	}

	router := api.SetupRoutes(&api.Dependencies{
		Risk:      risk,
		Detector:  detector,
		Scheduler: &staticScheduler{},
		Hub:       hub,
		Symbols:   []string{"BTCUSDT"},
		TokenHash: tokenHash,
	})

	server := httptest.NewServer(router)

	cleanup := func() {
		server.Close()
		hub.Stop()
		store.Close()
		cleanupTestTables(db)
		dbCleanup()
	}

	return &TestServer{
		DB:        db,
		Router:    router,
		Server:    server,
		Hub:       hub,
		Store:     store,
		Detector:  detector,
		Risk:      risk,
		BarRepo:   barRepo,
		TradeRepo: tradeRepo,
		Cleanup:   cleanup,
	}
}

// staticScheduler satisfies the status endpoint without running loops
type staticScheduler struct{}

func (s *staticScheduler) State() string              { return "MONITOR_RUNNING" }
func (s *staticScheduler) LastCheck(string) time.Time { return time.Now().UTC() }

// initTestTables creates tables for testing
func initTestTables(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS market_bars (
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(10) NOT NULL,
			open_time TIMESTAMPTZ NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (symbol, timeframe, open_time)
		)`,
		`CREATE TABLE IF NOT EXISTS market_bars_cold (
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(10) NOT NULL,
			open_time TIMESTAMPTZ NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (symbol, timeframe, open_time)
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(10) NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			exit_price DOUBLE PRECISION NOT NULL,
			size DOUBLE PRECISION NOT NULL,
			pnl DOUBLE PRECISION NOT NULL,
			forced BOOLEAN NOT NULL DEFAULT FALSE,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range tables {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return cleanupTestTables(db)
}

// cleanupTestTables truncates all test tables
func cleanupTestTables(db *sql.DB) error {
	for _, table := range []string{"market_bars", "market_bars_cold", "trades"} {
		if _, err := db.Exec("TRUNCATE TABLE " + table + " RESTART IDENTITY"); err != nil {
			return err
		}
	}
	return nil
}

// makeBars builds a chronological run of 15m bars ending now
func makeBars(symbol, timeframe string, closes []float64) []models.Bar {
	// the last bar closes right now so staleness checks pass
	step := 15 * time.Minute
	base := time.Now().UTC().Add(-time.Duration(len(closes)) * step)
	bars := make([]models.Bar, len(closes))
	for i, c := range closes {
		bars[i] = models.Bar{
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  base.Add(time.Duration(i) * step),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    100,
		}
	}
	return bars
}
