package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ShayCichocki/warden/internal/store"
	"github.com/ShayCichocki/warden/pkg/models"
)

// cancelFunc cancels a task with a classification and message. The
// orchestrator supplies its internal cancel, which cascades to the
// task's descendants.
type cancelFunc func(taskID string, kind models.ErrorKind, message string) error

// OrphanReclaimer periodically scans for live tasks whose parent has
// reached a terminal state, and cancels them. Each scan pass is
// idempotent; a task reclaimed in one pass is terminal in the next.
type OrphanReclaimer struct {
	store    store.TaskStore
	cancel   cancelFunc
	interval time.Duration
}

// NewOrphanReclaimer creates an OrphanReclaimer scanning at the given
// interval.
func NewOrphanReclaimer(s store.TaskStore, cancel cancelFunc, interval time.Duration) *OrphanReclaimer {
	return &OrphanReclaimer{
		store:    s,
		cancel:   cancel,
		interval: interval,
	}
}

// Run scans on a ticker until ctx is cancelled.
func (r *OrphanReclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Scan(); err != nil {
				log.Printf("[reclaimer] scan failed: %v", err)
			} else if n > 0 {
				log.Printf("[reclaimer] reclaimed %d orphaned task(s)", n)
			}
		}
	}
}

// Scan runs one reclamation pass and returns the number of tasks
// cancelled. The store listing is retried with exponential backoff so a
// transiently unavailable store does not skip a pass.
func (r *OrphanReclaimer) Scan() (int, error) {
	var active []*models.TaskRecord
	op := func() error {
		var err error
		active, err = r.store.ListActive()
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(op, policy); err != nil {
		return 0, fmt.Errorf("list active tasks: %w", err)
	}

	byID := make(map[string]*models.TaskRecord, len(active))
	for _, rec := range active {
		byID[rec.ID] = rec
	}

	reclaimed := 0
	for _, rec := range active {
		if rec.ParentID == "" {
			continue
		}
		// Parent still live in this snapshot: not an orphan.
		if _, live := byID[rec.ParentID]; live {
			continue
		}

		parent, err := r.store.Get(rec.ParentID)
		orphaned := false
		switch {
		case errors.Is(err, store.ErrNotFound):
			orphaned = true
		case err != nil:
			log.Printf("[reclaimer] get parent %s: %v", rec.ParentID, err)
			continue
		case parent.Terminal():
			orphaned = true
		}
		if !orphaned {
			continue
		}

		msg := fmt.Sprintf("parent %s is no longer active", rec.ParentID)
		if err := r.cancel(rec.ID, models.KindOrphaned, msg); err != nil {
			// Terminal-state races are fine; the task was already reclaimed.
			log.Printf("[reclaimer] cancel %s: %v", rec.ID, err)
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}
