package store

import (
	"context"
	"errors"

	"github.com/tendrel/signalforge/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// PersistenceStore is the full persistence surface of the decision
// service. Implementations must tolerate being unavailable; callers
// log failures and keep their in-memory state authoritative.
type PersistenceStore interface {
	EnsureSchema(ctx context.Context) error

	SaveSignal(ctx context.Context, sig models.Signal) error
	RecentSignals(ctx context.Context, limit int) ([]models.Signal, error)

	SaveBrainData(ctx context.Context, model models.SymbolModel) error
	GetBrainData(ctx context.Context, symbol string) (models.SymbolModel, error)

	SaveTradeRecord(ctx context.Context, record models.TradeRecord) error
	LoadTradeRecords(ctx context.Context, limit int) ([]models.TradeRecord, error)

	Close() error
}
