package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"sentinel/internal/models"
)

func TestTradeCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewTradeRepository(db)

	opened := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	closed := opened.Add(2 * time.Hour)

	trade := &models.TradeRecord{
		Symbol:     "BTCUSDT",
		Side:       models.SideLong,
		EntryPrice: 50000,
		ExitPrice:  51000,
		Size:       0.1,
		Pnl:        100,
		Forced:     false,
		OpenedAt:   opened,
		ClosedAt:   closed,
	}

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO trades`)).
		WithArgs("BTCUSDT", models.SideLong, 50000.0, 51000.0, 0.1, 100.0, false, opened, closed).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	if err := repo.Create(context.Background(), trade); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if trade.ID != 7 {
		t.Errorf("trade.ID = %d, want 7", trade.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTradeGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewTradeRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM trades`)).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = repo.GetByID(context.Background(), 99)
	if !errors.Is(err, ErrTradeNotFound) {
		t.Errorf("GetByID() error = %v, want ErrTradeNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTradeGetRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewTradeRepository(db)

	opened := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	closed := opened.Add(time.Hour)

	rows := sqlmock.NewRows([]string{"id", "symbol", "side", "entry_price", "exit_price", "size", "pnl", "forced", "opened_at", "closed_at"}).
		AddRow(2, "BTCUSDT", "LONG", 50000.0, 49000.0, 0.1, -100.0, true, opened, closed).
		AddRow(1, "ETHUSDT", "SHORT", 3000.0, 2900.0, 1.0, 100.0, false, opened, closed)

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY closed_at DESC`)).
		WithArgs(10).
		WillReturnRows(rows)

	trades, err := repo.GetRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetRecent() error = %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	if !trades[0].Forced {
		t.Error("trades[0].Forced = false, want true")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestLoadLedger(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewTradeRepository(db)

	dayStart := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE closed_at >= $1 AND pnl < 0`)).
		WithArgs(dayStart).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(45.5))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*), COALESCE(SUM(pnl), 0) FROM trades`)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum"}).AddRow(12, 230.0))

	// Последние сделки: два убытка подряд, затем прибыль
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY closed_at DESC`)).
		WillReturnRows(sqlmock.NewRows([]string{"pnl"}).
			AddRow(-20.0).
			AddRow(-25.5).
			AddRow(80.0).
			AddRow(-10.0))

	ledger, err := repo.LoadLedger(context.Background(), dayStart)
	if err != nil {
		t.Fatalf("LoadLedger() error = %v", err)
	}

	if ledger.DailyRealizedLoss != 45.5 {
		t.Errorf("DailyRealizedLoss = %v, want 45.5", ledger.DailyRealizedLoss)
	}
	if ledger.ConsecutiveLossCount != 2 {
		t.Errorf("ConsecutiveLossCount = %d, want 2 (streak broken by profit)", ledger.ConsecutiveLossCount)
	}
	if ledger.TotalTrades != 12 {
		t.Errorf("TotalTrades = %d, want 12", ledger.TotalTrades)
	}
	if ledger.TotalPnl != 230.0 {
		t.Errorf("TotalPnl = %v, want 230", ledger.TotalPnl)
	}
	if !ledger.LastResetDay.Equal(dayStart) {
		t.Errorf("LastResetDay = %v, want %v", ledger.LastResetDay, dayStart)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
