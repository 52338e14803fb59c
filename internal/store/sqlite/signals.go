package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cci-trader/internal/model"
)

// SignalFilter narrows ListSignals. Zero values match everything.
type SignalFilter struct {
	Username   string
	Symbol     string
	UnreadOnly bool
	Limit      int
}

// SaveSignal inserts a signal unless one already exists for the same config,
// direction and candle. Returns whether a row was inserted.
func (s *Store) SaveSignal(ctx context.Context, sig *model.MarketSignal) (bool, error) {
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return false, fmt.Errorf("marshal signal: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO market_signals
			(id, config_id, username, symbol, timeframe, direction, candle_ts, is_read, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sig.ID, sig.ConfigID, sig.Username, sig.Symbol, sig.Timeframe, string(sig.Direction),
		sig.Timestamp.UnixMilli(), boolInt(sig.IsRead), string(data), sig.CreatedAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("sqlite insert signal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListSignals returns signals newest first.
func (s *Store) ListSignals(ctx context.Context, f SignalFilter) ([]model.MarketSignal, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT data, is_read FROM market_signals
		WHERE (? = '' OR username = ?)
		  AND (? = '' OR symbol = ?)
		  AND (? = 0 OR is_read = 0)
		ORDER BY candle_ts DESC, created_at DESC
		LIMIT ?
	`, f.Username, f.Username, f.Symbol, f.Symbol, boolInt(f.UnreadOnly), f.Limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var out []model.MarketSignal
	for rows.Next() {
		var data string
		var isRead int
		if err := rows.Scan(&data, &isRead); err != nil {
			return nil, fmt.Errorf("sqlite scan signal: %w", err)
		}
		var sig model.MarketSignal
		if err := json.Unmarshal([]byte(data), &sig); err != nil {
			return nil, fmt.Errorf("unmarshal signal: %w", err)
		}
		// is_read column is authoritative; the document keeps its insert-time copy.
		sig.IsRead = isRead != 0
		out = append(out, sig)
	}
	return out, rows.Err()
}

// MarkSignalRead flags a signal as read.
func (s *Store) MarkSignalRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE market_signals SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite mark signal read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
