package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sentinel/internal/models"
	"sentinel/pkg/crypto"
)

// ============ Test doubles ============

type stubRisk struct {
	position *models.Position
}

func (s *stubRisk) CurrentPosition(symbol string) (models.Position, bool) {
	if s.position != nil && s.position.Symbol == symbol {
		return *s.position, true
	}
	return models.Position{}, false
}

func (s *stubRisk) TrailingState(symbol string) (models.TrailingStopState, bool) {
	return models.TrailingStopState{}, false
}

func (s *stubRisk) LedgerSnapshot() models.RiskLedger {
	return models.RiskLedger{TotalTrades: 3}
}

type stubDetector struct{}

func (s *stubDetector) RecentEvents(symbol string, since time.Time) []models.CrashEvent {
	return nil
}

type stubScheduler struct{}

func (s *stubScheduler) State() string              { return "MONITOR_RUNNING" }
func (s *stubScheduler) LastCheck(string) time.Time { return time.Time{} }

type stubExecutor struct{}

func (s *stubExecutor) Degraded(string) bool { return false }

func testDeps(t *testing.T, token string) *Dependencies {
	t.Helper()
	var hash string
	if token != "" {
		var err error
		hash, err = crypto.HashToken(token)
		if err != nil {
			t.Fatalf("failed to hash token: %v", err)
		}
	}
	return &Dependencies{
		Risk:      &stubRisk{position: &models.Position{Symbol: "BTCUSDT", Side: models.SideLong, EntryPrice: 50000, Size: 0.01}},
		Detector:  &stubDetector{},
		Scheduler: &stubScheduler{},
		Executor:  &stubExecutor{},
		Symbols:   []string{"BTCUSDT"},
		TokenHash: hash,
	}
}

// ============ Router Tests ============

func TestSetupRoutes(t *testing.T) {
	t.Run("health endpoint is open", func(t *testing.T) {
		router := SetupRoutes(testDeps(t, "tok"))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}
	})

	t.Run("metrics endpoint is open", func(t *testing.T) {
		router := SetupRoutes(testDeps(t, "tok"))

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}
	})

	t.Run("api requires token", func(t *testing.T) {
		router := SetupRoutes(testDeps(t, "tok"))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
		}
	})

	t.Run("api accepts valid token", func(t *testing.T) {
		router := SetupRoutes(testDeps(t, "tok"))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		req.Header.Set("Authorization", "Bearer tok")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}
	})

	t.Run("position route resolves symbol variable", func(t *testing.T) {
		router := SetupRoutes(testDeps(t, ""))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/positions/BTCUSDT", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}
	})

	t.Run("nil dependencies still serve health", func(t *testing.T) {
		router := SetupRoutes(nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}
	})

	t.Run("unknown route returns 404", func(t *testing.T) {
		router := SetupRoutes(testDeps(t, ""))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
		}
	})
}
