package store

import (
	"context"
	"sync"

	"github.com/tendrel/signalforge/internal/models"
)

// MemoryStore keeps everything in process memory. Used in tests and
// as the fallback when no durable store is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	signals     []models.Signal
	brains      map[string]models.SymbolModel
	trades      map[string]models.TradeRecord
	tradeOrder  []string
	retainLimit int
}

func NewMemoryStore(retainLimit int) *MemoryStore {
	if retainLimit <= 0 {
		retainLimit = 200
	}
	return &MemoryStore{
		brains:      make(map[string]models.SymbolModel),
		trades:      make(map[string]models.TradeRecord),
		retainLimit: retainLimit,
	}
}

func (s *MemoryStore) EnsureSchema(_ context.Context) error { return nil }

func (s *MemoryStore) SaveSignal(_ context.Context, sig models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
	if len(s.signals) > s.retainLimit {
		s.signals = s.signals[len(s.signals)-s.retainLimit:]
	}
	return nil
}

func (s *MemoryStore) RecentSignals(_ context.Context, limit int) ([]models.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.signals)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.Signal, 0, n)
	for i := len(s.signals) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.signals[i])
	}
	return out, nil
}

func (s *MemoryStore) SaveBrainData(_ context.Context, model models.SymbolModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brains[model.Symbol] = model.Clone()
	return nil
}

func (s *MemoryStore) GetBrainData(_ context.Context, symbol string) (models.SymbolModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.brains[symbol]
	if !ok {
		return models.SymbolModel{}, ErrNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStore) SaveTradeRecord(_ context.Context, record models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.trades[record.SignalID]; !exists {
		s.tradeOrder = append(s.tradeOrder, record.SignalID)
	}
	s.trades[record.SignalID] = record
	return nil
}

func (s *MemoryStore) LoadTradeRecords(_ context.Context, limit int) ([]models.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.tradeOrder)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.TradeRecord, 0, n)
	for i := len(s.tradeOrder) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.trades[s.tradeOrder[i]])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
