package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sentinel/internal/models"
)

// Ошибки репозитория сделок
var (
	ErrTradeNotFound = errors.New("trade not found")
)

// TradeRepository - работа с журналом закрытых сделок (таблица trades)
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create записывает закрытую сделку в журнал
func (r *TradeRepository) Create(ctx context.Context, trade *models.TradeRecord) error {
	query := `
		INSERT INTO trades (symbol, side, entry_price, exit_price, size, pnl, forced, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	return r.db.QueryRowContext(
		ctx,
		query,
		trade.Symbol,
		trade.Side,
		trade.EntryPrice,
		trade.ExitPrice,
		trade.Size,
		trade.Pnl,
		trade.Forced,
		trade.OpenedAt,
		trade.ClosedAt,
	).Scan(&trade.ID)
}

// GetByID возвращает сделку по ID
func (r *TradeRepository) GetByID(ctx context.Context, id int64) (*models.TradeRecord, error) {
	query := `
		SELECT id, symbol, side, entry_price, exit_price, size, pnl, forced, opened_at, closed_at
		FROM trades
		WHERE id = $1`

	trade := &models.TradeRecord{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&trade.ID,
		&trade.Symbol,
		&trade.Side,
		&trade.EntryPrice,
		&trade.ExitPrice,
		&trade.Size,
		&trade.Pnl,
		&trade.Forced,
		&trade.OpenedAt,
		&trade.ClosedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}

	return trade, nil
}

// GetRecent возвращает последние limit сделок (новые первыми)
func (r *TradeRepository) GetRecent(ctx context.Context, limit int) ([]*models.TradeRecord, error) {
	query := `
		SELECT id, symbol, side, entry_price, exit_price, size, pnl, forced, opened_at, closed_at
		FROM trades
		ORDER BY closed_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.TradeRecord
	for rows.Next() {
		trade := &models.TradeRecord{}
		if err := rows.Scan(
			&trade.ID,
			&trade.Symbol,
			&trade.Side,
			&trade.EntryPrice,
			&trade.ExitPrice,
			&trade.Size,
			&trade.Pnl,
			&trade.Forced,
			&trade.OpenedAt,
			&trade.ClosedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return trades, nil
}

// LoadLedger восстанавливает журнал рисков на момент старта.
//
// Дневной убыток - сумма |pnl| убыточных сделок, закрытых после
// dayStart. Серия убытков - длина непрерывной цепочки убыточных
// сделок с конца журнала (обрывается первой прибыльной).
func (r *TradeRepository) LoadLedger(ctx context.Context, dayStart time.Time) (*models.RiskLedger, error) {
	ledger := &models.RiskLedger{LastResetDay: dayStart}

	dailyQuery := `
		SELECT COALESCE(SUM(-pnl), 0)
		FROM trades
		WHERE closed_at >= $1 AND pnl < 0`

	if err := r.db.QueryRowContext(ctx, dailyQuery, dayStart).Scan(&ledger.DailyRealizedLoss); err != nil {
		return nil, err
	}

	totalsQuery := `SELECT COUNT(*), COALESCE(SUM(pnl), 0) FROM trades`
	if err := r.db.QueryRowContext(ctx, totalsQuery).Scan(&ledger.TotalTrades, &ledger.TotalPnl); err != nil {
		return nil, err
	}

	// Серия убытков: идём от последней сделки назад до первой прибыльной
	streakQuery := `
		SELECT pnl
		FROM trades
		ORDER BY closed_at DESC
		LIMIT 50`

	rows, err := r.db.QueryContext(ctx, streakQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return nil, err
		}
		if pnl >= 0 {
			break
		}
		ledger.ConsecutiveLossCount++
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ledger, nil
}
