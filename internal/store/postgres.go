package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendrel/signalforge/internal/config"
	"github.com/tendrel/signalforge/internal/models"
)

// PgxPool is the subset of pgxpool.Pool the store uses; pgxmock
// implements it for tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore persists through a pgx connection pool.
type PostgresStore struct {
	pool        PgxPool
	retainLimit int
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool PgxPool, retainLimit int) *PostgresStore {
	if retainLimit <= 0 {
		retainLimit = 200
	}
	return &PostgresStore{pool: pool, retainLimit: retainLimit}
}

// NewPostgresConnection dials Postgres with pool limits from config
// and a short retry loop for cold database starts.
func NewPostgresConnection(ctx context.Context, cfg *config.DatabaseConfig, retainLimit int) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime != "" {
		if lifetime, err := time.ParseDuration(cfg.ConnMaxLifetime); err == nil {
			poolConfig.MaxConnLifetime = lifetime
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var pool *pgxpool.Pool
	for attempts := 0; attempts < 3; attempts++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			break
		}
		if attempts < 2 {
			time.Sleep(time.Duration(1<<uint(attempts)) * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create connection pool after retries: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewPostgresStore(pool, retainLimit), nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			stop_loss DOUBLE PRECISION NOT NULL,
			take_profit_1 DOUBLE PRECISION NOT NULL,
			take_profit_2 DOUBLE PRECISION NOT NULL,
			take_profit_3 DOUBLE PRECISION NOT NULL,
			risk_reward_ratio DOUBLE PRECISION NOT NULL,
			reasoning_factors JSONB,
			trend TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trade_records (
			signal_id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			stop_loss DOUBLE PRECISION NOT NULL,
			take_profit_1 DOUBLE PRECISION NOT NULL,
			take_profit_2 DOUBLE PRECISION NOT NULL,
			take_profit_3 DOUBLE PRECISION NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			pnl_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
			reasoning_factors JSONB,
			market_conditions JSONB,
			lessons_learned JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS brain_data (
			symbol TEXT PRIMARY KEY,
			running_confidence DOUBLE PRECISION NOT NULL,
			win_count INTEGER NOT NULL DEFAULT 0,
			loss_count INTEGER NOT NULL DEFAULT 0,
			last_insights JSONB,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trade_records(status, symbol)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveSignal(ctx context.Context, sig models.Signal) error {
	reasoning, _ := json.Marshal(sig.ReasoningFactors)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO signals (
			id, symbol, direction, confidence, entry_price, stop_loss,
			take_profit_1, take_profit_2, take_profit_3, risk_reward_ratio,
			reasoning_factors, trend, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`,
		sig.ID, sig.Symbol, string(sig.Direction), sig.Confidence, sig.EntryPrice,
		sig.StopLoss, sig.TakeProfit1, sig.TakeProfit2, sig.TakeProfit3,
		sig.RiskRewardRatio, reasoning, string(sig.Trend), sig.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save signal %s: %w", sig.ID, err)
	}

	_, err = s.pool.Exec(ctx, `
		DELETE FROM signals WHERE id NOT IN (
			SELECT id FROM signals ORDER BY created_at DESC LIMIT $1
		)`, s.retainLimit)
	if err != nil {
		return fmt.Errorf("trim signals: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentSignals(ctx context.Context, limit int) ([]models.Signal, error) {
	if limit <= 0 || limit > s.retainLimit {
		limit = s.retainLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, direction, confidence, entry_price, stop_loss,
		       take_profit_1, take_profit_2, take_profit_3, risk_reward_ratio,
		       reasoning_factors, trend, created_at
		FROM signals ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent signals: %w", err)
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		var sig models.Signal
		var direction, trend string
		var reasoning []byte
		if err := rows.Scan(&sig.ID, &sig.Symbol, &direction, &sig.Confidence,
			&sig.EntryPrice, &sig.StopLoss, &sig.TakeProfit1, &sig.TakeProfit2,
			&sig.TakeProfit3, &sig.RiskRewardRatio, &reasoning, &trend,
			&sig.CreatedAt); err != nil {
			return nil, err
		}
		sig.Direction = models.Direction(direction)
		sig.Trend = models.Trend(trend)
		if len(reasoning) > 0 {
			_ = json.Unmarshal(reasoning, &sig.ReasoningFactors)
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

func (s *PostgresStore) SaveBrainData(ctx context.Context, model models.SymbolModel) error {
	insights, _ := json.Marshal(model.LastInsights)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO brain_data (symbol, running_confidence, win_count, loss_count, last_insights, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (symbol) DO UPDATE SET
			running_confidence = EXCLUDED.running_confidence,
			win_count = EXCLUDED.win_count,
			loss_count = EXCLUDED.loss_count,
			last_insights = EXCLUDED.last_insights,
			updated_at = EXCLUDED.updated_at`,
		model.Symbol, model.RunningConfidence, model.WinCount, model.LossCount,
		insights, model.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save brain data for %s: %w", model.Symbol, err)
	}
	return nil
}

func (s *PostgresStore) GetBrainData(ctx context.Context, symbol string) (models.SymbolModel, error) {
	var m models.SymbolModel
	var insights []byte
	err := s.pool.QueryRow(ctx, `
		SELECT symbol, running_confidence, win_count, loss_count, last_insights, updated_at
		FROM brain_data WHERE symbol = $1`, symbol).
		Scan(&m.Symbol, &m.RunningConfidence, &m.WinCount, &m.LossCount, &insights, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SymbolModel{}, ErrNotFound
	}
	if err != nil {
		return models.SymbolModel{}, fmt.Errorf("get brain data for %s: %w", symbol, err)
	}
	if len(insights) > 0 {
		_ = json.Unmarshal(insights, &m.LastInsights)
	}
	return m, nil
}

func (s *PostgresStore) SaveTradeRecord(ctx context.Context, record models.TradeRecord) error {
	reasoning, _ := json.Marshal(record.ReasoningFactors)
	lessons, _ := json.Marshal(record.LessonsLearned)
	var conditions []byte
	if record.MarketConditions != nil {
		conditions, _ = json.Marshal(record.MarketConditions)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO trade_records (
			signal_id, symbol, direction, entry_price, stop_loss,
			take_profit_1, take_profit_2, take_profit_3, confidence, status,
			pnl_percentage, reasoning_factors, market_conditions,
			lessons_learned, created_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (signal_id) DO UPDATE SET
			status = EXCLUDED.status,
			pnl_percentage = EXCLUDED.pnl_percentage,
			lessons_learned = EXCLUDED.lessons_learned,
			resolved_at = EXCLUDED.resolved_at`,
		record.SignalID, record.Symbol, string(record.Direction), record.EntryPrice,
		record.StopLoss, record.TakeProfit1, record.TakeProfit2, record.TakeProfit3,
		record.Confidence, string(record.Status), record.PnLPercentage,
		reasoning, conditions, lessons, record.CreatedAt, record.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("save trade record %s: %w", record.SignalID, err)
	}
	return nil
}

func (s *PostgresStore) LoadTradeRecords(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	if limit <= 0 {
		limit = s.retainLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT signal_id, symbol, direction, entry_price, stop_loss,
		       take_profit_1, take_profit_2, take_profit_3, confidence, status,
		       pnl_percentage, reasoning_factors, market_conditions,
		       lessons_learned, created_at, resolved_at
		FROM trade_records ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("load trade records: %w", err)
	}
	defer rows.Close()

	var records []models.TradeRecord
	for rows.Next() {
		var rec models.TradeRecord
		var direction, status string
		var reasoning, conditions, lessons []byte
		if err := rows.Scan(&rec.SignalID, &rec.Symbol, &direction, &rec.EntryPrice,
			&rec.StopLoss, &rec.TakeProfit1, &rec.TakeProfit2, &rec.TakeProfit3,
			&rec.Confidence, &status, &rec.PnLPercentage, &reasoning, &conditions,
			&lessons, &rec.CreatedAt, &rec.ResolvedAt); err != nil {
			return nil, err
		}
		rec.Direction = models.Direction(direction)
		rec.Status = models.TradeStatus(status)
		if len(reasoning) > 0 {
			_ = json.Unmarshal(reasoning, &rec.ReasoningFactors)
		}
		if len(conditions) > 0 {
			_ = json.Unmarshal(conditions, &rec.MarketConditions)
		}
		if len(lessons) > 0 {
			_ = json.Unmarshal(lessons, &rec.LessonsLearned)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
