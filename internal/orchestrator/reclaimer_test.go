package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/ShayCichocki/warden/internal/store"
	"github.com/ShayCichocki/warden/pkg/models"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	return New(DefaultConfig(), store.NewMemory())
}

func mustSpawn(t *testing.T, o *Orchestrator, key string, opts SpawnOptions) *models.TaskRecord {
	t.Helper()
	rec, err := o.Spawn(context.Background(), key, opts)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	return rec
}

func TestReclaimerCancelsOrphans(t *testing.T) {
	o := newTestOrchestrator(t)

	parent := mustSpawn(t, o, "sess-a", SpawnOptions{Title: "parent"})
	child1 := mustSpawn(t, o, "sess-a", SpawnOptions{Title: "child1", ParentID: parent.ID})
	child2 := mustSpawn(t, o, "sess-a", SpawnOptions{Title: "child2", ParentID: parent.ID})
	grandchild := mustSpawn(t, o, "sess-a", SpawnOptions{Title: "grandchild", ParentID: child1.ID})

	// A parent finishing, successfully or not, leaves its subtree behind.
	if err := o.Complete(parent.ID, "done"); err != nil {
		t.Fatalf("complete parent: %v", err)
	}

	n, err := o.Reclaim()
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 2 {
		t.Errorf("reclaimed %d orphans, want 2", n)
	}

	for _, tc := range []struct {
		id   string
		kind models.ErrorKind
	}{
		{child1.ID, models.KindOrphaned},
		{child2.ID, models.KindOrphaned},
		{grandchild.ID, models.KindParentCancelled},
	} {
		rec, err := o.Get(tc.id)
		if err != nil {
			t.Fatalf("get %s: %v", tc.id, err)
		}
		if rec.Status != models.TaskStatusCancelled {
			t.Errorf("%s status = %s, want cancelled", rec.Title, rec.Status)
		}
		if rec.ErrorKind != tc.kind {
			t.Errorf("%s error kind = %s, want %s", rec.Title, rec.ErrorKind, tc.kind)
		}
	}
}

func TestReclaimerIdempotent(t *testing.T) {
	o := newTestOrchestrator(t)

	parent := mustSpawn(t, o, "sess-a", SpawnOptions{Title: "parent"})
	mustSpawn(t, o, "sess-a", SpawnOptions{Title: "child", ParentID: parent.ID})

	if err := o.Cancel(parent.ID, "operator cancel"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// Cancel already cascaded; nothing is left to reclaim, and repeated
	// passes stay quiet.
	for i := 0; i < 2; i++ {
		n, err := o.Reclaim()
		if err != nil {
			t.Fatalf("reclaim pass %d: %v", i+1, err)
		}
		if n != 0 {
			t.Errorf("pass %d reclaimed %d, want 0", i+1, n)
		}
	}
}

func TestReclaimerMissingParent(t *testing.T) {
	s := store.NewMemory()
	o := New(DefaultConfig(), s)

	// A record whose parent row was purged entirely.
	rec := &models.TaskRecord{
		ID:           "stray",
		RequesterKey: "sess-a",
		ParentID:     "gone",
		Status:       models.TaskStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.Insert(rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := o.Reclaim()
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 1 {
		t.Errorf("reclaimed %d, want 1", n)
	}

	got, err := s.Get("stray")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ErrorKind != models.KindOrphaned {
		t.Errorf("error kind = %s, want ORPHANED", got.ErrorKind)
	}
}

func TestReclaimerLeavesHealthyTreesAlone(t *testing.T) {
	o := newTestOrchestrator(t)

	parent := mustSpawn(t, o, "sess-a", SpawnOptions{Title: "parent"})
	mustSpawn(t, o, "sess-a", SpawnOptions{Title: "child", ParentID: parent.ID})

	n, err := o.Reclaim()
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 0 {
		t.Errorf("reclaimed %d from a healthy tree, want 0", n)
	}
}
