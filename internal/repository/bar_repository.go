package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sentinel/internal/models"
)

// Таблицы хранилища свечей
//
// market_bars      - тёплый слой: свечи, вытесненные из горячего буфера
// market_bars_cold - холодный слой: даунсэмплированные свечи старше
//                    горизонта хранения
const (
	tableWarm = "market_bars"
	tableCold = "market_bars_cold"
)

// BarRepository - работа с таблицами свечей
type BarRepository struct {
	db *sql.DB
}

// NewBarRepository создает новый экземпляр репозитория
func NewBarRepository(db *sql.DB) *BarRepository {
	return &BarRepository{db: db}
}

// SaveWarmBars записывает свечи в тёплый слой.
//
// Upsert по (symbol, timeframe, open_time): повторное вытеснение
// той же свечи перезаписывает строку, дубликатов не бывает.
func (r *BarRepository) SaveWarmBars(ctx context.Context, bars []models.Bar) error {
	return r.saveBars(ctx, tableWarm, bars)
}

// SaveColdBars записывает даунсэмплированные свечи в холодный слой
func (r *BarRepository) SaveColdBars(ctx context.Context, bars []models.Bar) error {
	return r.saveBars(ctx, tableCold, bars)
}

func (r *BarRepository) saveBars(ctx context.Context, table string, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (symbol, timeframe, open_time, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, timeframe, open_time)
		DO UPDATE SET open = EXCLUDED.open, high = EXCLUDED.high,
		              low = EXCLUDED.low, close = EXCLUDED.close,
		              volume = EXCLUDED.volume`, table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, bar := range bars {
		if _, err := stmt.ExecContext(ctx,
			bar.Symbol, bar.Timeframe, bar.OpenTime,
			bar.Open, bar.High, bar.Low, bar.Close, bar.Volume,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// WarmBarsInRange возвращает свечи тёплого слоя в диапазоне [from, to],
// отсортированные по возрастанию времени открытия
func (r *BarRepository) WarmBarsInRange(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Bar, error) {
	query := `
		SELECT symbol, timeframe, open_time, open, high, low, close, volume
		FROM market_bars
		WHERE symbol = $1 AND timeframe = $2 AND open_time >= $3 AND open_time <= $4
		ORDER BY open_time ASC`

	return r.queryBars(ctx, query, symbol, timeframe, from, to)
}

// ColdBarsInRange возвращает свечи холодного слоя в диапазоне [from, to]
func (r *BarRepository) ColdBarsInRange(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Bar, error) {
	query := `
		SELECT symbol, timeframe, open_time, open, high, low, close, volume
		FROM market_bars_cold
		WHERE symbol = $1 AND timeframe = $2 AND open_time >= $3 AND open_time <= $4
		ORDER BY open_time ASC`

	return r.queryBars(ctx, query, symbol, timeframe, from, to)
}

// WarmBarsOlderThan возвращает свечи тёплого слоя старше cutoff,
// отсортированные по символу и времени открытия. Используется
// фоновым даунсэмплингом.
func (r *BarRepository) WarmBarsOlderThan(ctx context.Context, timeframe string, cutoff time.Time) ([]models.Bar, error) {
	query := `
		SELECT symbol, timeframe, open_time, open, high, low, close, volume
		FROM market_bars
		WHERE timeframe = $1 AND open_time < $2
		ORDER BY symbol ASC, open_time ASC`

	rows, err := r.db.QueryContext(ctx, query, timeframe, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBars(rows)
}

// DeleteWarmOlderThan удаляет из тёплого слоя свечи старше cutoff.
// Вызывается после успешной записи даунсэмплированных свечей в
// холодный слой.
func (r *BarRepository) DeleteWarmOlderThan(ctx context.Context, timeframe string, cutoff time.Time) (int64, error) {
	query := `DELETE FROM market_bars WHERE timeframe = $1 AND open_time < $2`

	res, err := r.db.ExecContext(ctx, query, timeframe, cutoff)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (r *BarRepository) queryBars(ctx context.Context, query string, symbol, timeframe string, from, to time.Time) ([]models.Bar, error) {
	rows, err := r.db.QueryContext(ctx, query, symbol, timeframe, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBars(rows)
}

func scanBars(rows *sql.Rows) ([]models.Bar, error) {
	var bars []models.Bar
	for rows.Next() {
		var bar models.Bar
		if err := rows.Scan(
			&bar.Symbol,
			&bar.Timeframe,
			&bar.OpenTime,
			&bar.Open,
			&bar.High,
			&bar.Low,
			&bar.Close,
			&bar.Volume,
		); err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return bars, nil
}
