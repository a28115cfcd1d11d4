package review

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/labreview/labreview/pkg/labmodels"
	"github.com/labreview/labreview/pkg/pagination"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu        sync.RWMutex
	flags     map[uuid.UUID]labmodels.RiskFlag
	decisions map[uuid.UUID]labmodels.ReviewDecision
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		flags:     make(map[uuid.UUID]labmodels.RiskFlag),
		decisions: make(map[uuid.UUID]labmodels.ReviewDecision),
	}
}

func (m *MemoryRepository) SaveFlag(_ context.Context, f *labmodels.RiskFlag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flags[f.ID]; !ok {
		m.flags[f.ID] = *f
	}
	return nil
}

func (m *MemoryRepository) SaveDecision(_ context.Context, d *labmodels.ReviewDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.decisions[d.ID]; !ok {
		m.decisions[d.ID] = *d
	}
	return nil
}

func (m *MemoryRepository) ListDecisions(_ context.Context, filter DecisionFilter, p pagination.Params) ([]*labmodels.ReviewDecision, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*labmodels.ReviewDecision
	for _, d := range m.decisions {
		if filter.GateResult != "" && d.GateResult != filter.GateResult {
			continue
		}
		if filter.UserID != "" && d.UserID != filter.UserID {
			continue
		}
		cp := d
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].DecidedAt.Equal(all[j].DecidedAt) {
			return all[i].DecidedAt.After(all[j].DecidedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	total := len(all)
	if p.Offset >= total {
		return nil, total, nil
	}
	end := p.Offset + p.Limit
	if end > total {
		end = total
	}
	return all[p.Offset:end], total, nil
}

func (m *MemoryRepository) Summary(_ context.Context) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &Summary{ByGateResult: map[string]int{}, ByRiskLevel: map[string]int{}}
	for _, d := range m.decisions {
		s.ByGateResult[string(d.GateResult)]++
		s.Decisions++
	}
	for _, f := range m.flags {
		s.ByRiskLevel[string(f.RiskLevel)]++
	}
	return s, nil
}

// Flag returns a stored flag by ID.
func (m *MemoryRepository) Flag(id uuid.UUID) (labmodels.RiskFlag, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flags[id]
	return f, ok
}
