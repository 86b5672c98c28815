package learning

import (
	"sync"
	"time"

	"github.com/tendrel/signalforge/internal/models"
)

// defaultRunningConfidence seeds a symbol with no history.
const defaultRunningConfidence = 0.5

// Registry owns the per-symbol brains. Writes happen only inside the
// learning loop (single writer); readers get copies, never aliases.
type Registry struct {
	mu     sync.RWMutex
	brains map[string]models.SymbolModel
}

func NewRegistry() *Registry {
	return &Registry{brains: make(map[string]models.SymbolModel)}
}

// Get returns a snapshot of the symbol's brain, seeding a fresh one
// for unknown symbols.
func (r *Registry) Get(symbol string) models.SymbolModel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.brains[symbol]; ok {
		return m.Clone()
	}
	return models.SymbolModel{
		Symbol:            symbol,
		RunningConfidence: defaultRunningConfidence,
	}
}

// All returns snapshots of every tracked brain.
func (r *Registry) All() []models.SymbolModel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.SymbolModel, 0, len(r.brains))
	for _, m := range r.brains {
		out = append(out, m.Clone())
	}
	return out
}

func (r *Registry) put(m models.SymbolModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.UpdatedAt = time.Now().UTC()
	r.brains[m.Symbol] = m
}

// update applies fn to the symbol's brain under the write lock.
func (r *Registry) update(symbol string, fn func(*models.SymbolModel)) models.SymbolModel {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.brains[symbol]
	if !ok {
		m = models.SymbolModel{
			Symbol:            symbol,
			RunningConfidence: defaultRunningConfidence,
		}
	}
	fn(&m)
	m.UpdatedAt = time.Now().UTC()
	r.brains[symbol] = m
	return m.Clone()
}
