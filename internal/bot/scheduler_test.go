package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/marketdata"
	"sentinel/internal/models"
	"sentinel/internal/venue"
)

func newTestScheduler(v *stubVenue, signals venue.SignalSource) (*Scheduler, *marketdata.Store, *RiskManager) {
	cfg := &config.Config{
		Market: config.MarketConfig{
			Symbols:         []string{"BTCUSDT"},
			Timeframes:      []string{models.Timeframe15m},
			HotCapacity:     200,
			SnapshotHistory: 10,
			FetchLimit:      96,
		},
		Scheduler: config.SchedulerConfig{
			MonitorInterval:   50 * time.Millisecond,
			CycleInterval:     50 * time.Millisecond,
			FallbackThreshold: 200 * time.Millisecond,
		},
		Crash: testCrashConfig(),
		Risk:  testRiskConfig(),
		Venue: testVenueConfig(),
	}

	notif := make(chan *models.Notification, 64)
	store := marketdata.NewStore(4, 200, 10, nil, nil)
	detector := NewCrashDetector(store, cfg.Crash, testLogger())
	rm := NewRiskManager(cfg.Risk, nil, notif, testLogger())
	coord := NewCoordinator(v, rm, cfg.Venue, notif, testLogger())
	sched := NewScheduler(cfg, v, signals, store, detector, rm, coord, notif, testLogger())
	return sched, store, rm
}

// risingBars строит n свежих 15m свечей с плавно растущей ценой
func risingBars(n int) []models.Bar {
	step := models.TimeframeDuration(models.Timeframe15m)
	start := time.Now().UTC().Truncate(step).Add(-step * time.Duration(n-1))

	bars := make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		c := 50000 + float64(i)*10
		bars = append(bars, models.Bar{
			Symbol:    "BTCUSDT",
			Timeframe: models.Timeframe15m,
			OpenTime:  start.Add(step * time.Duration(i)),
			Open:      c - 5,
			High:      c + 5,
			Low:       c - 10,
			Close:     c,
			Volume:    100,
		})
	}
	return bars
}

func TestProcessTickComputesSnapshot(t *testing.T) {
	v := newStubVenue()
	v.bars = risingBars(40)
	sched, store, _ := newTestScheduler(v, nil)

	if err := sched.processTick(context.Background(), "BTCUSDT", false); err != nil {
		t.Fatalf("processTick: %v", err)
	}

	snap, ok := store.LatestSnapshot("BTCUSDT")
	if !ok {
		t.Fatalf("snapshot not computed")
	}
	if !approxEqual(snap.Price, 50390, 1e-6) {
		t.Errorf("snapshot price = %v, want 50390", snap.Price)
	}
	if sched.LastCheck("BTCUSDT").IsZero() {
		t.Errorf("lastCheck not updated")
	}
	if v.fetchCount() != 1 {
		t.Errorf("fetch calls = %d, want 1", v.fetchCount())
	}
}

func TestProcessTickOpensPositionOnSignal(t *testing.T) {
	v := newStubVenue()
	v.bars = risingBars(40)
	signals := &stubSignals{signal: &venue.Signal{
		Symbol:     "BTCUSDT",
		Direction:  venue.DirectionBuy,
		Confidence: 0.8,
		IssuedAt:   time.Now().UTC(),
	}}
	sched, _, rm := newTestScheduler(v, signals)

	if err := sched.processTick(context.Background(), "BTCUSDT", false); err != nil {
		t.Fatalf("processTick: %v", err)
	}

	pos, ok := rm.CurrentPosition("BTCUSDT")
	if !ok {
		t.Fatalf("position not opened from signal")
	}
	if pos.Side != models.SideLong {
		t.Errorf("side = %s, want %s", pos.Side, models.SideLong)
	}
}

type recordingBroadcaster struct {
	decisions []models.ExecutionResult
	crashes   []models.CrashEvent
}

func (b *recordingBroadcaster) BroadcastDecision(result models.ExecutionResult) {
	b.decisions = append(b.decisions, result)
}

func (b *recordingBroadcaster) BroadcastCrash(ev models.CrashEvent) {
	b.crashes = append(b.crashes, ev)
}

func TestProcessTickBroadcastsDecision(t *testing.T) {
	v := newStubVenue()
	v.bars = risingBars(40)
	signals := &stubSignals{signal: &venue.Signal{
		Symbol:     "BTCUSDT",
		Direction:  venue.DirectionBuy,
		Confidence: 0.8,
		IssuedAt:   time.Now().UTC(),
	}}
	sched, _, _ := newTestScheduler(v, signals)

	events := &recordingBroadcaster{}
	sched.SetBroadcaster(events)

	if err := sched.processTick(context.Background(), "BTCUSDT", false); err != nil {
		t.Fatalf("processTick: %v", err)
	}

	if len(events.decisions) != 1 {
		t.Fatalf("broadcast decisions = %d, want 1", len(events.decisions))
	}
	if got := events.decisions[0].Decision.Action; got != models.ActionOpen {
		t.Errorf("broadcast action = %s, want %s", got, models.ActionOpen)
	}

	// HOLD не транслируется
	if err := sched.processTick(context.Background(), "BTCUSDT", false); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if len(events.crashes) != 0 {
		t.Errorf("broadcast crashes = %d, want 0 on calm market", len(events.crashes))
	}
}

func TestProcessTickSurvivesSignalSourceError(t *testing.T) {
	v := newStubVenue()
	v.bars = risingBars(40)
	signals := &stubSignals{err: errors.New("signal store offline")}
	sched, _, rm := newTestScheduler(v, signals)

	if err := sched.processTick(context.Background(), "BTCUSDT", false); err != nil {
		t.Fatalf("processTick: %v", err)
	}
	if _, ok := rm.CurrentPosition("BTCUSDT"); ok {
		t.Errorf("position opened without signal")
	}
}

// TestSuperviseOnceFallback проверяет надзорный контур: символ без
// единого тика получает ровно один резервный проход, свежий символ -
// ни одного.
func TestSuperviseOnceFallback(t *testing.T) {
	v := newStubVenue()
	v.bars = risingBars(40)
	sched, _, _ := newTestScheduler(v, nil)

	sched.superviseOnce(context.Background())
	if sched.State() != StateMonitorStalled {
		t.Errorf("state = %s, want %s", sched.State(), StateMonitorStalled)
	}
	if v.fetchCount() != 1 {
		t.Errorf("fallback fetch calls = %d, want 1", v.fetchCount())
	}
	if sched.LastCheck("BTCUSDT").IsZero() {
		t.Fatalf("fallback pass did not mark symbol checked")
	}

	// Символ свежий: новая надзорная проверка ничего не запускает
	sched.superviseOnce(context.Background())
	if sched.State() != StateMonitorRunning {
		t.Errorf("state = %s, want %s", sched.State(), StateMonitorRunning)
	}
	if v.fetchCount() != 1 {
		t.Errorf("fresh symbol got a fallback pass, fetch calls = %d", v.fetchCount())
	}
}

func TestFallbackUsesFreshCachedBars(t *testing.T) {
	v := newStubVenue()
	v.bars = risingBars(40)
	sched, store, _ := newTestScheduler(v, nil)

	for _, bar := range risingBars(40) {
		store.Update("BTCUSDT", models.Timeframe15m, bar)
	}

	// Резервный проход: кэш свежий, площадка не вызывается
	if err := sched.processTick(context.Background(), "BTCUSDT", true); err != nil {
		t.Fatalf("fallback tick: %v", err)
	}
	if v.fetchCount() != 0 {
		t.Errorf("fallback refetched fresh bars, fetch calls = %d", v.fetchCount())
	}

	// Штатный тик монитора всегда обновляется с площадки
	if err := sched.processTick(context.Background(), "BTCUSDT", false); err != nil {
		t.Fatalf("monitor tick: %v", err)
	}
	if v.fetchCount() != 1 {
		t.Errorf("monitor tick fetch calls = %d, want 1", v.fetchCount())
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	v := newStubVenue()
	v.bars = risingBars(40)
	sched, _, _ := newTestScheduler(v, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	time.Sleep(120 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after context cancel")
	}
}

func TestLastCheckUnknownSymbol(t *testing.T) {
	v := newStubVenue()
	sched, _, _ := newTestScheduler(v, nil)

	if got := sched.LastCheck("ETHUSDT"); !got.IsZero() {
		t.Errorf("LastCheck for unknown symbol = %v, want zero", got)
	}
}
