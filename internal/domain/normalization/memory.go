package normalization

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/labreview/labreview/pkg/labmodels"
)

// MemoryRepository is an in-process Repository used by the offline runner
// and tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*labmodels.NormalizedParameter
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[uuid.UUID]*labmodels.NormalizedParameter)}
}

func (m *MemoryRepository) Insert(_ context.Context, p *labmodels.NormalizedParameter) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[p.ID]; ok {
		return false, nil
	}
	cp := *p
	m.byID[p.ID] = &cp
	return true, nil
}

func (m *MemoryRepository) History(_ context.Context, userID, canonical string, since time.Time) ([]*labmodels.NormalizedParameter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*labmodels.NormalizedParameter
	for _, p := range m.byID {
		if p.UserID == userID && p.CanonicalName == canonical && !p.ObservedAt.Before(since) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ObservedAt.Equal(out[j].ObservedAt) {
			return out[i].ObservedAt.Before(out[j].ObservedAt)
		}
		return out[i].OriginalParameterID < out[j].OriginalParameterID
	})
	return out, nil
}

// Len returns the number of stored records.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
