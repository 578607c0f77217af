package handlers

import (
	"sync"
	"time"

	"sentinel/internal/models"
)

// ============ Mock Risk Reader ============

// mockRisk мок для RiskReader
type mockRisk struct {
	positions map[string]models.Position
	trailing  map[string]models.TrailingStopState
	ledger    models.RiskLedger
	mu        sync.RWMutex
}

func newMockRisk() *mockRisk {
	return &mockRisk{
		positions: make(map[string]models.Position),
		trailing:  make(map[string]models.TrailingStopState),
	}
}

func (m *mockRisk) CurrentPosition(symbol string) (models.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[symbol]
	return pos, ok
}

func (m *mockRisk) TrailingState(symbol string) (models.TrailingStopState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.trailing[symbol]
	return ts, ok
}

func (m *mockRisk) LedgerSnapshot() models.RiskLedger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger
}

func (m *mockRisk) setPosition(pos models.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.Symbol] = pos
}

func (m *mockRisk) setTrailing(ts models.TrailingStopState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trailing[ts.Symbol] = ts
}

// ============ Mock Crash Reader ============

// mockCrashes мок для CrashReader
type mockCrashes struct {
	events []models.CrashEvent
}

func (m *mockCrashes) RecentEvents(symbol string, since time.Time) []models.CrashEvent {
	var out []models.CrashEvent
	for _, ev := range m.events {
		if ev.Symbol == symbol && !ev.DetectedAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out
}

// ============ Mock Scheduler Status ============

// mockScheduler мок для SchedulerStatus
type mockScheduler struct {
	state      string
	lastChecks map[string]time.Time
}

func (m *mockScheduler) State() string { return m.state }

func (m *mockScheduler) LastCheck(symbol string) time.Time {
	return m.lastChecks[symbol]
}

// mockDegraded мок для DegradedChecker
type mockDegraded struct {
	symbols map[string]bool
}

func (m *mockDegraded) Degraded(symbol string) bool { return m.symbols[symbol] }
