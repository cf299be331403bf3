package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"predict-service/internal/model"
	"predict-service/pkg/database"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db, NewFSArtifactStore(t.TempDir()))
}

func newRun(account, family, runID string, trainedAt time.Time) *model.TrainingRun {
	return &model.TrainingRun{
		RunID:         runID,
		AccountHandle: account,
		Family:        family,
		Algorithm:     "linear_regression",
		Metrics:       []byte(`{"r2_test":0.9}`),
		TrainedAt:     trainedAt,
	}
}

func TestPersistThenActivate(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	now := time.Now().UTC()

	run := newRun("acme_main", model.FamilyRegression, "run-1", now)
	if err := reg.Persist(ctx, run, []byte(`{"algorithm":"linear_regression"}`)); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if run.ArtifactRef == "" {
		t.Fatal("artifact ref not set")
	}
	if _, err := os.Stat(run.ArtifactRef); err != nil {
		t.Fatalf("artifact not on disk: %v", err)
	}

	if err := reg.Activate(ctx, "acme_main", model.FamilyRegression, "run-1"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	active, err := reg.GetActive(ctx, "acme_main", model.FamilyRegression)
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if active.RunID != "run-1" {
		t.Errorf("active run = %s, want run-1", active.RunID)
	}

	data, err := reg.LoadArtifact(active)
	if err != nil {
		t.Fatalf("LoadArtifact: %v", err)
	}
	if len(data) == 0 {
		t.Error("empty artifact")
	}
}

func TestActivateUnknownRun(t *testing.T) {
	reg := newTestRegistry(t)
	err := reg.Activate(context.Background(), "acme_main", model.FamilyRegression, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestActivateReplacesPointer(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"run-1", "run-2"} {
		if err := reg.Persist(ctx, newRun("acme_main", model.FamilyRegression, id, now), []byte(`{}`)); err != nil {
			t.Fatalf("Persist %s: %v", id, err)
		}
	}
	if err := reg.Activate(ctx, "acme_main", model.FamilyRegression, "run-1"); err != nil {
		t.Fatalf("Activate run-1: %v", err)
	}
	if err := reg.Activate(ctx, "acme_main", model.FamilyRegression, "run-2"); err != nil {
		t.Fatalf("Activate run-2: %v", err)
	}

	active, err := reg.GetActive(ctx, "acme_main", model.FamilyRegression)
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if active.RunID != "run-2" {
		t.Errorf("active run = %s, want run-2", active.RunID)
	}

	// Exactly one pointer row per (account, family).
	n, err := reg.CountActive(ctx, model.FamilyRegression)
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	if n != 1 {
		t.Errorf("active pointers = %d, want 1", n)
	}
}

func TestFamiliesKeepIndependentPointers(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := reg.Persist(ctx, newRun("acme_main", model.FamilyRegression, "reg-run", now), []byte(`{}`)); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := reg.Persist(ctx, newRun("acme_main", model.FamilyClustering, "clu-run", now), []byte(`{}`)); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := reg.Activate(ctx, "acme_main", model.FamilyRegression, "reg-run"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := reg.Activate(ctx, "acme_main", model.FamilyClustering, "clu-run"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	regActive, _ := reg.GetActive(ctx, "acme_main", model.FamilyRegression)
	cluActive, _ := reg.GetActive(ctx, "acme_main", model.FamilyClustering)
	if regActive.RunID != "reg-run" || cluActive.RunID != "clu-run" {
		t.Errorf("pointers = %s/%s, want reg-run/clu-run", regActive.RunID, cluActive.RunID)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		run := newRun("acme_main", model.FamilyRegression, fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Hour))
		if err := reg.Persist(ctx, run, []byte(`{}`)); err != nil {
			t.Fatalf("Persist: %v", err)
		}
	}

	runs, err := reg.History(ctx, "acme_main", model.FamilyRegression)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("history = %d runs, want 3", len(runs))
	}
	for i, want := range []string{"run-2", "run-1", "run-0"} {
		if runs[i].RunID != want {
			t.Errorf("history[%d] = %s, want %s", i, runs[i].RunID, want)
		}
	}
}

func TestLatestBatch(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	old := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	recent := old.Add(24 * time.Hour)

	for i, ts := range []time.Time{old, old, recent, recent, recent} {
		run := newRun("acme_main", model.FamilyRegression, fmt.Sprintf("run-%d", i), ts)
		if err := reg.Persist(ctx, run, []byte(`{}`)); err != nil {
			t.Fatalf("Persist: %v", err)
		}
	}

	batch, err := reg.LatestBatch(ctx, "acme_main", model.FamilyRegression)
	if err != nil {
		t.Fatalf("LatestBatch: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("batch = %d runs, want 3", len(batch))
	}
	for _, run := range batch {
		if !run.TrainedAt.Equal(recent) {
			t.Errorf("run %s from older batch included", run.RunID)
		}
	}
}

func TestDeleteRemovesPointerKeepsHistory(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	now := time.Now().UTC()

	run := newRun("acme_main", model.FamilyRegression, "run-1", now)
	if err := reg.Persist(ctx, run, []byte(`{}`)); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := reg.Activate(ctx, "acme_main", model.FamilyRegression, "run-1"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	removed, err := reg.Delete(ctx, "acme_main", model.FamilyRegression)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(removed) != 1 {
		t.Errorf("removed %d artifacts, want 1", len(removed))
	}
	if _, err := os.Stat(run.ArtifactRef); !os.IsNotExist(err) {
		t.Error("artifact still on disk after delete")
	}

	if _, err := reg.GetActive(ctx, "acme_main", model.FamilyRegression); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetActive after delete = %v, want ErrNotFound", err)
	}

	// Audit trail survives.
	runs, err := reg.History(ctx, "acme_main", model.FamilyRegression)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("history = %d runs after delete, want 1", len(runs))
	}
}

func TestDeleteNothing(t *testing.T) {
	reg := newTestRegistry(t)
	if _, err := reg.Delete(context.Background(), "acme_main", model.FamilyRegression); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteWaitsForWriterLock(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	now := time.Now().UTC()

	run := newRun("acme_main", model.FamilyRegression, "run-1", now)
	if err := reg.Persist(ctx, run, []byte(`{}`)); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	// A training call holds the lock between Persist and Activate; a
	// delete arriving in that window must wait for it, not race past and
	// strip the artifact out from under the pointer.
	unlock := reg.Lock("acme_main", model.FamilyRegression)

	done := make(chan error, 1)
	go func() {
		_, err := reg.Delete(ctx, "acme_main", model.FamilyRegression)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("Delete completed while the writer lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	if err := reg.Activate(ctx, "acme_main", model.FamilyRegression, "run-1"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	active, err := reg.GetActive(ctx, "acme_main", model.FamilyRegression)
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if _, err := reg.LoadArtifact(active); err != nil {
		t.Fatalf("active run lost its artifact mid-train: %v", err)
	}

	unlock()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Delete after unlock: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Delete never acquired the released lock")
	}
	if _, err := reg.GetActive(ctx, "acme_main", model.FamilyRegression); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetActive after delete = %v, want ErrNotFound", err)
	}
}

func TestLockSerializesWriters(t *testing.T) {
	reg := newTestRegistry(t)

	var held bool
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := reg.Lock("acme_main", model.FamilyRegression)
			defer unlock()

			mu.Lock()
			if held {
				t.Error("two writers inside the same (account, family) lock")
			}
			held = true
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			held = false
			mu.Unlock()
		}()
	}
	wg.Wait()
}

func TestLockIsPerAccountFamily(t *testing.T) {
	reg := newTestRegistry(t)

	unlockA := reg.Lock("acme_main", model.FamilyRegression)
	defer unlockA()

	// A different family must not block.
	done := make(chan struct{})
	go func() {
		unlockB := reg.Lock("acme_main", model.FamilyClustering)
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("independent lock blocked")
	}
}
