package websocket

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"sentinel/internal/models"
)

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.DroppedMessages() != 0 {
		t.Errorf("expected 0 dropped messages, got %d", hub.DroppedMessages())
	}
}

func TestOriginCheckerCheck(t *testing.T) {
	checker := &OriginChecker{
		allowedOrigins: map[string]struct{}{
			"http://localhost:3000": {},
			"https://example.com":   {},
		},
	}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true}, // non-browser клиенты
		{"http://localhost:3000", true},
		{"https://example.com", true},
		{"http://evil.com", false},
		{"http://localhost:8080", false},
	}

	for _, tt := range tests {
		if got := checker.Check(tt.origin); got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginCheckerAllowAll(t *testing.T) {
	checker := &OriginChecker{allowAll: true}

	for _, origin := range []string{
		"http://localhost:3000",
		"https://evil.com",
		"http://anything.example.org",
	} {
		if !checker.Check(origin) {
			t.Errorf("allowAll=true but Check(%q) = false", origin)
		}
	}
}

func TestHubBroadcastNonBlocking(t *testing.T) {
	hub := NewHub(nil)
	// Run не запущен: канал переполняется и сообщения отбрасываются,
	// но Broadcast не блокирует
	for i := 0; i < 1000; i++ {
		hub.Broadcast(map[string]int{"i": i})
	}

	if hub.DroppedMessages() == 0 {
		t.Errorf("expected dropped messages with full channel")
	}
}

func TestHubStop(t *testing.T) {
	hub := NewHub(nil)

	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	hub.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Hub.Run() did not exit after Stop()")
	}

	// Повторный Stop безопасен
	hub.Stop()
}

func TestHubDeliversToRegisteredClient(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	client := &Client{hub: hub, send: make(chan []byte, clientSendBufferSize)}
	hub.register <- client

	deadline := time.After(time.Second)
	for hub.ClientCount() != 1 {
		select {
		case <-deadline:
			t.Fatalf("client not registered")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	hub.BroadcastCrash(models.CrashEvent{
		Symbol:   "BTCUSDT",
		Severity: models.CrashSeverityHigh,
	})

	select {
	case msg := <-client.send:
		if !strings.Contains(string(msg), `"crash"`) {
			t.Errorf("message = %s, want crash type", msg)
		}
		if !strings.Contains(string(msg), "BTCUSDT") {
			t.Errorf("message = %s, want symbol", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("broadcast not delivered to client")
	}

	hub.unregister <- client
}

func TestHubRemovesSlowClient(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	// Клиент с нулевым буфером, который никто не читает
	client := &Client{hub: hub, send: make(chan []byte)}
	hub.register <- client

	deadline := time.After(time.Second)
	for hub.ClientCount() != 1 {
		select {
		case <-deadline:
			t.Fatalf("client not registered")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	hub.Broadcast(map[string]string{"type": "test"})

	deadline = time.After(time.Second)
	for hub.ClientCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("slow client not removed, clients = %d", hub.ClientCount())
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestNotificationPumpBroadcasts(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	client := &Client{hub: hub, send: make(chan []byte, clientSendBufferSize)}
	hub.register <- client

	deadline := time.After(time.Second)
	for hub.ClientCount() != 1 {
		select {
		case <-deadline:
			t.Fatalf("client not registered")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifications := make(chan *models.Notification, 1)
	go hub.RunNotificationPump(ctx, notifications)

	notifications <- &models.Notification{
		Type:     models.NotificationTypeForcedClose,
		Severity: models.SeverityWarn,
		Symbol:   "BTCUSDT",
		Message:  "Forced close for BTCUSDT: daily loss cap",
	}

	select {
	case msg := <-client.send:
		if !strings.Contains(string(msg), models.NotificationTypeForcedClose) {
			t.Errorf("message = %s, want forced close notification", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("notification not pumped to client")
	}
}

func TestHubConcurrentOperations(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	var wg sync.WaitGroup
	const goroutines = 10
	const operations = 500

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				hub.Broadcast(map[string]int{"goroutine": id, "op": j})
			}
		}(i)
	}

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				_ = hub.ClientCount()
			}
		}()
	}

	wg.Wait()
}

func BenchmarkHubBroadcast(b *testing.B) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	msg := NewLedgerUpdateMessage(models.RiskLedger{DailyRealizedLoss: 42.5, TotalTrades: 10})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.Broadcast(msg)
	}
}

func BenchmarkHubBroadcastRaw(b *testing.B) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	data := []byte(`{"type":"tickStatus","state":"MONITOR_RUNNING"}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.BroadcastRaw(data)
	}
}
