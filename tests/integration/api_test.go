// Package integration contains integration tests for the sentinel trading bot.
//
// API Integration Tests
// These tests verify the full HTTP request cycle: router, middleware
// (auth, CORS, recovery), handlers and the live components behind them.
package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"sentinel/internal/models"
)

// doRequest performs an HTTP request against the test server with auth
func doRequest(t *testing.T, ts *TestServer, method, path string, authed bool) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, ts.Server.URL+path, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+testAPIToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return resp, body
}

func TestAPI_HealthAndMetrics_Integration(t *testing.T) {
	ts := SetupTestServer(t)
	if ts == nil {
		return
	}
	defer ts.Cleanup()

	t.Run("health is open", func(t *testing.T) {
		resp, body := doRequest(t, ts, http.MethodGet, "/health", false)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
		if string(body) != "OK" {
			t.Errorf("expected OK body, got %q", body)
		}
	})

	t.Run("metrics is open", func(t *testing.T) {
		resp, body := doRequest(t, ts, http.MethodGet, "/metrics", false)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
		if !strings.Contains(string(body), "go_goroutines") {
			t.Error("expected prometheus metrics in body")
		}
	})
}

func TestAPI_Authentication_Integration(t *testing.T) {
	ts := SetupTestServer(t)
	if ts == nil {
		return
	}
	defer ts.Cleanup()

	t.Run("rejects unauthenticated api request", func(t *testing.T) {
		resp, _ := doRequest(t, ts, http.MethodGet, "/api/v1/status", false)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", resp.StatusCode)
		}
	})

	t.Run("accepts valid token", func(t *testing.T) {
		resp, _ := doRequest(t, ts, http.MethodGet, "/api/v1/status", true)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
	})
}

func TestAPI_Status_Integration(t *testing.T) {
	ts := SetupTestServer(t)
	if ts == nil {
		return
	}
	defer ts.Cleanup()

	resp, body := doRequest(t, ts, http.MethodGet, "/api/v1/status", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var status struct {
		State   string `json:"state"`
		Symbols []struct {
			Symbol string `json:"symbol"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.State != "MONITOR_RUNNING" {
		t.Errorf("expected MONITOR_RUNNING, got %s", status.State)
	}
	if len(status.Symbols) != 1 || status.Symbols[0].Symbol != "BTCUSDT" {
		t.Errorf("unexpected symbols: %+v", status.Symbols)
	}
}

func TestAPI_PositionLifecycle_Integration(t *testing.T) {
	ts := SetupTestServer(t)
	if ts == nil {
		return
	}
	defer ts.Cleanup()

	t.Run("404 without position", func(t *testing.T) {
		resp, _ := doRequest(t, ts, http.MethodGet, "/api/v1/positions/BTCUSDT", true)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", resp.StatusCode)
		}
	})

	t.Run("position and trailing visible after open", func(t *testing.T) {
		ts.Risk.OnPositionOpened(&models.Position{
			Symbol:     "BTCUSDT",
			Side:       models.SideLong,
			EntryPrice: 50000,
			Size:       0.01,
			Leverage:   10,
			OpenedAt:   time.Now().UTC(),
		})

		resp, body := doRequest(t, ts, http.MethodGet, "/api/v1/positions/BTCUSDT", true)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}

		var pos models.Position
		if err := json.Unmarshal(body, &pos); err != nil {
			t.Fatalf("failed to decode position: %v", err)
		}
		if pos.EntryPrice != 50000 {
			t.Errorf("expected entry 50000, got %f", pos.EntryPrice)
		}

		resp, body = doRequest(t, ts, http.MethodGet, "/api/v1/trailing/BTCUSDT", true)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 for trailing, got %d", resp.StatusCode)
		}

		var trailing models.TrailingStopState
		if err := json.Unmarshal(body, &trailing); err != nil {
			t.Fatalf("failed to decode trailing: %v", err)
		}
		if trailing.Phase != models.PhaseInitial {
			t.Errorf("expected INITIAL phase, got %s", trailing.Phase)
		}
		if trailing.StopPrice != 49000 {
			t.Errorf("expected stop at 49000, got %f", trailing.StopPrice)
		}
	})
}

func TestAPI_RiskLedger_Integration(t *testing.T) {
	ts := SetupTestServer(t)
	if ts == nil {
		return
	}
	defer ts.Cleanup()

	resp, body := doRequest(t, ts, http.MethodGet, "/api/v1/risk/ledger", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var ledger models.RiskLedger
	if err := json.Unmarshal(body, &ledger); err != nil {
		t.Fatalf("failed to decode ledger: %v", err)
	}
	if ledger.TotalTrades != 0 {
		t.Errorf("expected fresh ledger, got %d trades", ledger.TotalTrades)
	}
}

func TestAPI_Crashes_Integration(t *testing.T) {
	ts := SetupTestServer(t)
	if ts == nil {
		return
	}
	defer ts.Cleanup()

	t.Run("empty array without events", func(t *testing.T) {
		resp, body := doRequest(t, ts, http.MethodGet, "/api/v1/crashes/BTCUSDT", true)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if strings.TrimSpace(string(body)) != "[]" {
			t.Errorf("expected empty array, got %q", body)
		}
	})

	t.Run("detected crash appears in api", func(t *testing.T) {
		// 2.5% drop on the hour window trips the detector
		closes := []float64{50000, 50000, 50000, 48750}
		for _, bar := range makeBars("BTCUSDT", models.Timeframe15m, closes) {
			ts.Store.Update("BTCUSDT", models.Timeframe15m, bar)
		}

		if _, ok := ts.Detector.Evaluate("BTCUSDT"); !ok {
			t.Fatal("expected crash detection")
		}

		resp, body := doRequest(t, ts, http.MethodGet, "/api/v1/crashes/BTCUSDT", true)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}

		var events []models.CrashEvent
		if err := json.Unmarshal(body, &events); err != nil {
			t.Fatalf("failed to decode events: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(events))
		}
		if events[0].Severity == "" {
			t.Error("expected severity on event")
		}
	})
}
