package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cci-trader/internal/model"
)

// ResultSummary is a list entry for stored backtests.
type ResultSummary struct {
	ID        string      `json:"id"`
	Username  string      `json:"username,omitempty"`
	Symbol    string      `json:"symbol"`
	Timeframe string      `json:"timeframe"`
	Stats     model.Stats `json:"stats"`
	CreatedAt time.Time   `json:"createdAt"`
}

// SaveBacktestResult stores (or replaces) a result document.
func (s *Store) SaveBacktestResult(ctx context.Context, res *model.BacktestResult) error {
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal backtest result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_results (id, username, symbol, timeframe, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, res.ID, res.Username, res.Symbol, res.Timeframe, string(data), res.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite insert backtest result: %w", err)
	}
	return nil
}

// GetBacktestResult loads one result document by id.
func (s *Store) GetBacktestResult(ctx context.Context, id string) (*model.BacktestResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM backtest_results WHERE id = ?`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sqlite read backtest result: %w", err)
	}

	var res model.BacktestResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("unmarshal backtest result: %w", err)
	}
	return &res, nil
}

// ListBacktestResults returns the newest results for username (all users when
// empty), newest first.
func (s *Store) ListBacktestResults(ctx context.Context, username string, limit int) ([]ResultSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM backtest_results
		WHERE (? = '' OR username = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`, username, username, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query backtest results: %w", err)
	}
	defer rows.Close()

	out := make([]ResultSummary, 0, limit)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan backtest result: %w", err)
		}
		var res model.BacktestResult
		if err := json.Unmarshal([]byte(data), &res); err != nil {
			return nil, fmt.Errorf("unmarshal backtest result: %w", err)
		}
		out = append(out, ResultSummary{
			ID:        res.ID,
			Username:  res.Username,
			Symbol:    res.Symbol,
			Timeframe: res.Timeframe,
			Stats:     res.Stats,
			CreatedAt: res.CreatedAt,
		})
	}
	return out, rows.Err()
}
