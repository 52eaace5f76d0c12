package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

// Memory is an in-memory TaskStore. It backs tests and embedded deployments
// that do not need durability across restarts.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*models.TaskRecord
	// seq preserves insertion order for deterministic listings.
	seq []string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*models.TaskRecord),
	}
}

// Insert persists a new task record.
func (m *Memory) Insert(rec *models.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.ID]; exists {
		return fmt.Errorf("insert task %s: duplicate id", rec.ID)
	}
	m.records[rec.ID] = rec.Clone()
	m.seq = append(m.seq, rec.ID)
	return nil
}

// Get returns the record with the given ID.
func (m *Memory) Get(id string) (*models.TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// UpdateStatus transitions a record's status and applies the patch.
func (m *Memory) UpdateStatus(id string, status models.TaskStatus, patch StatusPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("update task %s: %w", id, ErrTerminal)
	}
	if !rec.Status.CanTransition(status) {
		return fmt.Errorf("update task %s: invalid transition %s -> %s", id, rec.Status, status)
	}

	rec.Status = status
	if patch.StartedAt != nil {
		rec.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		rec.CompletedAt = patch.CompletedAt
	}
	if patch.Result != "" {
		rec.Result = patch.Result
	}
	if patch.Error != "" {
		rec.Error = patch.Error
	}
	if patch.ErrorKind != "" {
		rec.ErrorKind = patch.ErrorKind
	}
	return nil
}

// GetActiveByRequester returns all non-terminal records for a requester key.
func (m *Memory) GetActiveByRequester(key string) ([]*models.TaskRecord, error) {
	return m.filter(func(r *models.TaskRecord) bool {
		return r.RequesterKey == key && !r.Terminal()
	}), nil
}

// GetChildren returns all records whose parent is the given task.
func (m *Memory) GetChildren(parentID string) ([]*models.TaskRecord, error) {
	return m.filter(func(r *models.TaskRecord) bool {
		return r.ParentID == parentID
	}), nil
}

// GetSubtree returns the record with the given ID and all its descendants,
// parents before children.
func (m *Memory) GetSubtree(rootID string) ([]*models.TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	root, ok := m.records[rootID]
	if !ok {
		return nil, nil
	}

	// Breadth-first walk so parents precede children.
	var result []*models.TaskRecord
	queue := []*models.TaskRecord{root}
	for len(queue) > 0 {
		rec := queue[0]
		queue = queue[1:]
		result = append(result, rec.Clone())

		var children []*models.TaskRecord
		for _, id := range m.seq {
			if m.records[id].ParentID == rec.ID {
				children = append(children, m.records[id])
			}
		}
		queue = append(queue, children...)
	}
	return result, nil
}

// ListActive returns all non-terminal records.
func (m *Memory) ListActive() ([]*models.TaskRecord, error) {
	return m.filter(func(r *models.TaskRecord) bool {
		return !r.Terminal()
	}), nil
}

// PurgeTerminal deletes terminal records older than the given age.
func (m *Memory) PurgeTerminal(olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var count int64
	for id, rec := range m.records {
		if rec.Terminal() && rec.CompletedAt != nil && rec.CompletedAt.Before(cutoff) {
			delete(m.records, id)
			count++
		}
	}
	if count > 0 {
		kept := m.seq[:0]
		for _, id := range m.seq {
			if _, ok := m.records[id]; ok {
				kept = append(kept, id)
			}
		}
		m.seq = kept
	}
	return count, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}

// filter returns clones of records matching the predicate, in insertion order.
func (m *Memory) filter(keep func(*models.TaskRecord) bool) []*models.TaskRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*models.TaskRecord
	for _, id := range m.seq {
		if rec := m.records[id]; keep(rec) {
			result = append(result, rec.Clone())
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}
