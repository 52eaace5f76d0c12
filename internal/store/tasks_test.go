package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

// storeImpls returns each TaskStore implementation under test.
func storeImpls(t *testing.T) map[string]TaskStore {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "warden.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return map[string]TaskStore{
		"sqlite": db,
		"memory": NewMemory(),
	}
}

func testRecord(id, requester, parent string) *models.TaskRecord {
	return &models.TaskRecord{
		ID:           id,
		RequesterKey: requester,
		ParentID:     parent,
		Title:        "task " + id,
		Status:       models.TaskStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestInsertAndGet(t *testing.T) {
	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			rec := testRecord("t1", "sess-a", "")
			rec.WaitFor = []string{"t0"}
			rec.Config = map[string]string{"model": "default"}

			if err := s.Insert(rec); err != nil {
				t.Fatalf("insert: %v", err)
			}

			got, err := s.Get("t1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.RequesterKey != "sess-a" || got.Status != models.TaskStatusPending {
				t.Errorf("unexpected record: %+v", got)
			}
			if len(got.WaitFor) != 1 || got.WaitFor[0] != "t0" {
				t.Errorf("wait_for not round-tripped: %v", got.WaitFor)
			}
			if got.Config["model"] != "default" {
				t.Errorf("config not round-tripped: %v", got.Config)
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestUpdateStatusLifecycle(t *testing.T) {
	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Insert(testRecord("t1", "sess-a", "")); err != nil {
				t.Fatalf("insert: %v", err)
			}

			if err := s.UpdateStatus("t1", models.TaskStatusScheduled, StatusPatch{}); err != nil {
				t.Fatalf("pending -> scheduled: %v", err)
			}

			started := time.Now().UTC()
			if err := s.UpdateStatus("t1", models.TaskStatusRunning, StatusPatch{StartedAt: &started}); err != nil {
				t.Fatalf("scheduled -> running: %v", err)
			}

			done := time.Now().UTC()
			err := s.UpdateStatus("t1", models.TaskStatusCompleted, StatusPatch{
				CompletedAt: &done,
				Result:      "ok",
			})
			if err != nil {
				t.Fatalf("running -> completed: %v", err)
			}

			got, err := s.Get("t1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Status != models.TaskStatusCompleted || got.Result != "ok" {
				t.Errorf("unexpected final record: %+v", got)
			}
			if got.StartedAt == nil || got.CompletedAt == nil {
				t.Error("timestamps not recorded")
			}
		})
	}
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Insert(testRecord("t1", "sess-a", "")); err != nil {
				t.Fatalf("insert: %v", err)
			}

			// pending cannot jump straight to running
			if err := s.UpdateStatus("t1", models.TaskStatusRunning, StatusPatch{}); err == nil {
				t.Error("expected invalid transition error")
			}
		})
	}
}

func TestUpdateStatusTerminalImmutable(t *testing.T) {
	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Insert(testRecord("t1", "sess-a", "")); err != nil {
				t.Fatalf("insert: %v", err)
			}
			done := time.Now().UTC()
			if err := s.UpdateStatus("t1", models.TaskStatusCancelled, StatusPatch{CompletedAt: &done}); err != nil {
				t.Fatalf("cancel: %v", err)
			}

			err := s.UpdateStatus("t1", models.TaskStatusCompleted, StatusPatch{})
			if !errors.Is(err, ErrTerminal) {
				t.Errorf("expected ErrTerminal, got %v", err)
			}
		})
	}
}

func TestGetActiveByRequester(t *testing.T) {
	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			for _, rec := range []*models.TaskRecord{
				testRecord("t1", "sess-a", ""),
				testRecord("t2", "sess-a", ""),
				testRecord("t3", "sess-b", ""),
			} {
				if err := s.Insert(rec); err != nil {
					t.Fatalf("insert %s: %v", rec.ID, err)
				}
			}
			done := time.Now().UTC()
			if err := s.UpdateStatus("t2", models.TaskStatusCancelled, StatusPatch{CompletedAt: &done}); err != nil {
				t.Fatalf("cancel t2: %v", err)
			}

			active, err := s.GetActiveByRequester("sess-a")
			if err != nil {
				t.Fatalf("get active: %v", err)
			}
			if len(active) != 1 || active[0].ID != "t1" {
				t.Errorf("expected [t1], got %v", ids(active))
			}
		})
	}
}

func TestGetSubtree(t *testing.T) {
	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			for _, rec := range []*models.TaskRecord{
				testRecord("root", "sess-a", ""),
				testRecord("c1", "sess-a", "root"),
				testRecord("c2", "sess-a", "root"),
				testRecord("gc1", "sess-a", "c1"),
				testRecord("other", "sess-b", ""),
			} {
				if err := s.Insert(rec); err != nil {
					t.Fatalf("insert %s: %v", rec.ID, err)
				}
			}

			subtree, err := s.GetSubtree("root")
			if err != nil {
				t.Fatalf("get subtree: %v", err)
			}
			if len(subtree) != 4 {
				t.Fatalf("expected 4 records, got %v", ids(subtree))
			}
			if subtree[0].ID != "root" {
				t.Errorf("root should come first, got %s", subtree[0].ID)
			}
			// gc1 must come after its parent c1
			pos := map[string]int{}
			for i, rec := range subtree {
				pos[rec.ID] = i
			}
			if pos["gc1"] < pos["c1"] {
				t.Error("child gc1 listed before parent c1")
			}
		})
	}
}

func TestPurgeTerminal(t *testing.T) {
	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Insert(testRecord("old", "sess-a", "")); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := s.Insert(testRecord("live", "sess-a", "")); err != nil {
				t.Fatalf("insert: %v", err)
			}

			past := time.Now().UTC().Add(-48 * time.Hour)
			if err := s.UpdateStatus("old", models.TaskStatusCancelled, StatusPatch{CompletedAt: &past}); err != nil {
				t.Fatalf("cancel: %v", err)
			}

			n, err := s.PurgeTerminal(24 * time.Hour)
			if err != nil {
				t.Fatalf("purge: %v", err)
			}
			if n != 1 {
				t.Errorf("expected 1 purged, got %d", n)
			}
			if _, err := s.Get("old"); !errors.Is(err, ErrNotFound) {
				t.Error("old record should be gone")
			}
			if _, err := s.Get("live"); err != nil {
				t.Errorf("live record should remain: %v", err)
			}
		})
	}
}

func ids(recs []*models.TaskRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
