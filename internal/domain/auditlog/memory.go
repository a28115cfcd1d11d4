package auditlog

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/labreview/labreview/pkg/labmodels"
)

// MemorySink keeps entries in process, in append order.
type MemorySink struct {
	mu      sync.Mutex
	seen    map[uuid.UUID]struct{}
	entries []labmodels.AuditEntry
}

func NewMemorySink() *MemorySink {
	return &MemorySink{seen: make(map[uuid.UUID]struct{})}
}

func (m *MemorySink) Append(_ context.Context, entries []labmodels.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if _, ok := m.seen[e.ID]; ok {
			continue
		}
		m.seen[e.ID] = struct{}{}
		m.entries = append(m.entries, e)
	}
	return nil
}

// Entries returns a copy of every stored entry.
func (m *MemorySink) Entries() []labmodels.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]labmodels.AuditEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ForParameter returns the entries of one source parameter in append order.
func (m *MemorySink) ForParameter(parameterID string) []labmodels.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []labmodels.AuditEntry
	for _, e := range m.entries {
		if e.ParameterID == parameterID {
			out = append(out, e)
		}
	}
	return out
}
