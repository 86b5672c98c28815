package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tendrel/signalforge/internal/models"
)

// SQLiteStore is the file-backed store used when no Postgres is
// configured.
type SQLiteStore struct {
	db          *sql.DB
	retainLimit int
}

func NewSQLiteStore(path string, retainLimit int) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}
	if retainLimit <= 0 {
		retainLimit = 200
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err = db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply sqlite pragma %q: %w", pragma, err)
		}
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	return &SQLiteStore{db: db, retainLimit: retainLimit}, nil
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			confidence REAL NOT NULL,
			entry_price REAL NOT NULL,
			stop_loss REAL NOT NULL,
			take_profit_1 REAL NOT NULL,
			take_profit_2 REAL NOT NULL,
			take_profit_3 REAL NOT NULL,
			risk_reward_ratio REAL NOT NULL,
			reasoning_factors TEXT,
			trend TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trade_records (
			signal_id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_price REAL NOT NULL,
			stop_loss REAL NOT NULL,
			take_profit_1 REAL NOT NULL,
			take_profit_2 REAL NOT NULL,
			take_profit_3 REAL NOT NULL,
			confidence REAL NOT NULL,
			status TEXT NOT NULL,
			pnl_percentage REAL NOT NULL DEFAULT 0,
			reasoning_factors TEXT,
			market_conditions TEXT,
			lessons_learned TEXT,
			created_at TIMESTAMP NOT NULL,
			resolved_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS brain_data (
			symbol TEXT PRIMARY KEY,
			running_confidence REAL NOT NULL,
			win_count INTEGER NOT NULL DEFAULT 0,
			loss_count INTEGER NOT NULL DEFAULT 0,
			last_insights TEXT,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trade_records(status, symbol)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveSignal(ctx context.Context, sig models.Signal) error {
	reasoning, _ := json.Marshal(sig.ReasoningFactors)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO signals (
			id, symbol, direction, confidence, entry_price, stop_loss,
			take_profit_1, take_profit_2, take_profit_3, risk_reward_ratio,
			reasoning_factors, trend, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.Symbol, string(sig.Direction), sig.Confidence, sig.EntryPrice,
		sig.StopLoss, sig.TakeProfit1, sig.TakeProfit2, sig.TakeProfit3,
		sig.RiskRewardRatio, string(reasoning), string(sig.Trend), sig.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save signal %s: %w", sig.ID, err)
	}

	// Retention: drop rows past the configured cap, oldest first.
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM signals WHERE id NOT IN (
			SELECT id FROM signals ORDER BY created_at DESC LIMIT ?
		)`, s.retainLimit)
	if err != nil {
		return fmt.Errorf("trim signals: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentSignals(ctx context.Context, limit int) ([]models.Signal, error) {
	if limit <= 0 || limit > s.retainLimit {
		limit = s.retainLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, direction, confidence, entry_price, stop_loss,
		       take_profit_1, take_profit_2, take_profit_3, risk_reward_ratio,
		       reasoning_factors, trend, created_at
		FROM signals ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent signals: %w", err)
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		var sig models.Signal
		var direction, trend, reasoning string
		if err := rows.Scan(&sig.ID, &sig.Symbol, &direction, &sig.Confidence,
			&sig.EntryPrice, &sig.StopLoss, &sig.TakeProfit1, &sig.TakeProfit2,
			&sig.TakeProfit3, &sig.RiskRewardRatio, &reasoning, &trend,
			&sig.CreatedAt); err != nil {
			return nil, err
		}
		sig.Direction = models.Direction(direction)
		sig.Trend = models.Trend(trend)
		if reasoning != "" {
			_ = json.Unmarshal([]byte(reasoning), &sig.ReasoningFactors)
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

func (s *SQLiteStore) SaveBrainData(ctx context.Context, model models.SymbolModel) error {
	insights, _ := json.Marshal(model.LastInsights)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO brain_data (symbol, running_confidence, win_count, loss_count, last_insights, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			running_confidence = excluded.running_confidence,
			win_count = excluded.win_count,
			loss_count = excluded.loss_count,
			last_insights = excluded.last_insights,
			updated_at = excluded.updated_at`,
		model.Symbol, model.RunningConfidence, model.WinCount, model.LossCount,
		string(insights), model.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save brain data for %s: %w", model.Symbol, err)
	}
	return nil
}

func (s *SQLiteStore) GetBrainData(ctx context.Context, symbol string) (models.SymbolModel, error) {
	var m models.SymbolModel
	var insights string
	err := s.db.QueryRowContext(ctx, `
		SELECT symbol, running_confidence, win_count, loss_count, last_insights, updated_at
		FROM brain_data WHERE symbol = ?`, symbol).
		Scan(&m.Symbol, &m.RunningConfidence, &m.WinCount, &m.LossCount, &insights, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.SymbolModel{}, ErrNotFound
	}
	if err != nil {
		return models.SymbolModel{}, fmt.Errorf("get brain data for %s: %w", symbol, err)
	}
	if insights != "" {
		_ = json.Unmarshal([]byte(insights), &m.LastInsights)
	}
	return m, nil
}

func (s *SQLiteStore) SaveTradeRecord(ctx context.Context, record models.TradeRecord) error {
	reasoning, _ := json.Marshal(record.ReasoningFactors)
	lessons, _ := json.Marshal(record.LessonsLearned)
	var conditions []byte
	if record.MarketConditions != nil {
		conditions, _ = json.Marshal(record.MarketConditions)
	}

	var resolvedAt any
	if record.ResolvedAt != nil {
		resolvedAt = *record.ResolvedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trade_records (
			signal_id, symbol, direction, entry_price, stop_loss,
			take_profit_1, take_profit_2, take_profit_3, confidence, status,
			pnl_percentage, reasoning_factors, market_conditions,
			lessons_learned, created_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.SignalID, record.Symbol, string(record.Direction), record.EntryPrice,
		record.StopLoss, record.TakeProfit1, record.TakeProfit2, record.TakeProfit3,
		record.Confidence, string(record.Status), record.PnLPercentage,
		string(reasoning), string(conditions), string(lessons),
		record.CreatedAt, resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("save trade record %s: %w", record.SignalID, err)
	}
	return nil
}

func (s *SQLiteStore) LoadTradeRecords(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	if limit <= 0 {
		limit = s.retainLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT signal_id, symbol, direction, entry_price, stop_loss,
		       take_profit_1, take_profit_2, take_profit_3, confidence, status,
		       pnl_percentage, reasoning_factors, market_conditions,
		       lessons_learned, created_at, resolved_at
		FROM trade_records ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load trade records: %w", err)
	}
	defer rows.Close()

	var records []models.TradeRecord
	for rows.Next() {
		var rec models.TradeRecord
		var direction, status, reasoning, conditions, lessons string
		var resolvedAt sql.NullTime
		if err := rows.Scan(&rec.SignalID, &rec.Symbol, &direction, &rec.EntryPrice,
			&rec.StopLoss, &rec.TakeProfit1, &rec.TakeProfit2, &rec.TakeProfit3,
			&rec.Confidence, &status, &rec.PnLPercentage, &reasoning, &conditions,
			&lessons, &rec.CreatedAt, &resolvedAt); err != nil {
			return nil, err
		}
		rec.Direction = models.Direction(direction)
		rec.Status = models.TradeStatus(status)
		if reasoning != "" {
			_ = json.Unmarshal([]byte(reasoning), &rec.ReasoningFactors)
		}
		if conditions != "" {
			_ = json.Unmarshal([]byte(conditions), &rec.MarketConditions)
		}
		if lessons != "" {
			_ = json.Unmarshal([]byte(lessons), &rec.LessonsLearned)
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			rec.ResolvedAt = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
