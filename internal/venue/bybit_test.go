package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"sentinel/internal/models"
	"sentinel/pkg/retry"
)

func TestCloseOrderSides(t *testing.T) {
	tests := []struct {
		name          string
		positionSide  string
		wantBybitSide string
		wantOrderSide string
		wantErr       bool
	}{
		{name: "long closes with sell", positionSide: models.SideLong, wantBybitSide: "Sell", wantOrderSide: SideSell},
		{name: "short closes with buy", positionSide: models.SideShort, wantBybitSide: "Buy", wantOrderSide: SideBuy},
		{name: "order side is rejected", positionSide: SideBuy, wantErr: true},
		{name: "empty side is rejected", positionSide: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bybitSide, orderSide, err := closeOrderSides(tt.positionSide)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("closeOrderSides(%q) error = nil, want rejection", tt.positionSide)
				}
				if !IsRejection(err) {
					t.Errorf("closeOrderSides(%q) error = %v, want rejection", tt.positionSide, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("closeOrderSides(%q) error = %v", tt.positionSide, err)
			}
			if bybitSide != tt.wantBybitSide {
				t.Errorf("bybit side = %q, want %q", bybitSide, tt.wantBybitSide)
			}
			if orderSide != tt.wantOrderSide {
				t.Errorf("order side = %q, want %q", orderSide, tt.wantOrderSide)
			}
		})
	}
}

// TestTransientTimeoutConsumesRetryBudget: таймаут одиночного вызова
// оборачивается в транзиентную ошибку поверх DeadlineExceeded; такая
// ошибка должна исчерпать весь бюджет retry, поскольку каждая попытка
// получает свежий таймаут.
func TestTransientTimeoutConsumesRetryBudget(t *testing.T) {
	cfg := retry.Config{
		MaxRetries:   4,
		InitialDelay: time.Microsecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   2.0,
		RetryIf:      retry.IsRetryable,
	}

	calls := 0
	_, err := retry.DoWithResult(context.Background(), func() (*OrderResult, error) {
		calls++
		return nil, NewTransientError("bybit", "network", "timeout", context.DeadlineExceeded)
	}, cfg)

	if err == nil {
		t.Fatal("DoWithResult() error = nil, want last transient error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want wrapping DeadlineExceeded", err)
	}
	if calls != 4 {
		t.Errorf("venue timeout retried %d time(s), want full budget of 4", calls)
	}
}

func TestVenueErrorClassification(t *testing.T) {
	transient := NewTransientError("bybit", "503", "service unavailable", nil)
	rejection := NewRejectionError("bybit", "110007", "insufficient balance")

	if !IsTransient(transient) || IsRejection(transient) {
		t.Errorf("transient error misclassified")
	}
	if !IsRejection(rejection) || IsTransient(rejection) {
		t.Errorf("rejection misclassified")
	}
	if retry.IsRetryable(rejection) {
		t.Errorf("rejection must not be retryable")
	}
	if !retry.IsRetryable(transient) {
		t.Errorf("transient error must be retryable")
	}
}
