package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"cci-trader/internal/model"
)

const (
	defaultBatchSize  = 500
	defaultFlushDelay = 200 * time.Millisecond
)

// Run reads candles from candleCh and inserts them in batched transactions.
// Flushes every batchSize candles OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or candleCh is closed.
func (s *Store) Run(ctx context.Context, candleCh <-chan model.Candle) {
	batch := make([]model.Candle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// Use a fresh context so the final flush survives cancellation.
		if err := s.SaveCandles(context.Background(), batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d candles in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case candle, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, candle)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// SaveCandles upserts candles in a single transaction.
func (s *Store) SaveCandles(ctx context.Context, candles []model.Candle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, interval, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, c.Symbol, c.Interval, c.OpenTime.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// ReadCandles returns candles with from <= openTime < to, ordered ascending.
// A zero to means no upper bound.
func (s *Store) ReadCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]model.Candle, error) {
	upper := int64(1<<63 - 1)
	if !to.IsZero() {
		upper = to.UnixMilli()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, interval, open_time, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND interval = ? AND open_time >= ? AND open_time < ?
		ORDER BY open_time ASC
	`, symbol, interval, from.UnixMilli(), upper)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	return scanCandles(rows)
}

// FetchCandles returns the newest limit candles, oldest first.
func (s *Store) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, interval, open_time, open, high, low, close, volume FROM (
			SELECT * FROM candles
			WHERE symbol = ? AND interval = ?
			ORDER BY open_time DESC
			LIMIT ?
		) ORDER BY open_time ASC
	`, symbol, interval, limit)
	if err != nil {
		return nil, &model.DataSourceError{Source: "sqlite", Symbol: symbol, Interval: interval, Err: err}
	}
	candles, err := scanCandles(rows)
	if err != nil {
		return nil, &model.DataSourceError{Source: "sqlite", Symbol: symbol, Interval: interval, Err: err}
	}
	return candles, nil
}

// LastOpenTime returns the newest stored open time, or the zero time if none.
func (s *Store) LastOpenTime(ctx context.Context, symbol, interval string) (time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(open_time) FROM candles WHERE symbol = ? AND interval = ?`,
		symbol, interval,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(ts.Int64).UTC(), nil
}

func scanCandles(rows *sql.Rows) ([]model.Candle, error) {
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var ms int64
		var vol sql.NullFloat64
		if err := rows.Scan(&c.Symbol, &c.Interval, &ms, &c.Open, &c.High, &c.Low, &c.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.OpenTime = time.UnixMilli(ms).UTC()
		c.Volume = vol.Float64
		candles = append(candles, c)
	}
	return candles, rows.Err()
}
