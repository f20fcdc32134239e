// Package store persists job snapshots for the storage collaborator. The
// queue's in-memory record stays authoritative; the sink exists so status
// survives for diagnostics and downstream readers.
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/photarium/enrich/internal/job"
)

// JobStore receives a snapshot after every job transition.
type JobStore interface {
	SaveSnapshot(ctx context.Context, snap job.Snapshot) error
}

// Memory keeps the latest snapshot per job. Used in tests and when no
// database is configured.
type Memory struct {
	mu    sync.RWMutex
	snaps map[uuid.UUID]job.Snapshot
}

func NewMemory() *Memory {
	return &Memory{snaps: make(map[uuid.UUID]job.Snapshot)}
}

func (m *Memory) SaveSnapshot(ctx context.Context, snap job.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ID] = snap
	return nil
}

// Snapshot returns the last saved snapshot for id.
func (m *Memory) Snapshot(id uuid.UUID) (job.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[id]
	return snap, ok
}
