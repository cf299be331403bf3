package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"predict-service/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no run, active pointer or artifact exists
// for the requested account and family.
var ErrNotFound = errors.New("model not found")

// Registry persists training runs and the per-(account, family) activation
// pointer. Runs are an append-only arena; the active pointer is an index
// into it. Writers serialize per (account, family) through Lock so an
// overlapping training call can never activate a run whose artifact was
// not durably persisted; readers take no lock and see either the pre- or
// post-activation state.
type Registry struct {
	db    *gorm.DB
	store ArtifactStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(db *gorm.DB, store ArtifactStore) *Registry {
	return &Registry{db: db, store: store, locks: map[string]*sync.Mutex{}}
}

// Lock acquires the per-(account, family) writer lock and returns its
// release function. Callers hold it across Persist and Activate.
func (r *Registry) Lock(account, family string) func() {
	r.mu.Lock()
	key := account + "/" + family
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Persist appends one training run: artifact bytes first, then the
// metadata row referencing them. Never overwrites.
func (r *Registry) Persist(ctx context.Context, run *model.TrainingRun, artifact []byte) error {
	ref, err := r.store.Save(run.AccountHandle, run.Family, run.RunID, artifact)
	if err != nil {
		return err
	}
	run.ArtifactRef = ref
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("persist run %s: %w", run.RunID, err)
	}
	return nil
}

// Activate points the (account, family) active pointer at runID. The run
// must already be persisted, and the caller must hold the writer lock:
// the trainer keeps it across Persist and Activate, the explicit
// activation handler takes it itself.
func (r *Registry) Activate(ctx context.Context, account, family, runID string) error {
	var run model.TrainingRun
	err := r.db.WithContext(ctx).
		Where("run_id = ? AND account_handle = ? AND family = ?", runID, account, family).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("run %s for %s/%s: %w", runID, account, family, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("activate run %s: %w", runID, err)
	}

	active := model.ActiveModel{
		AccountHandle: account,
		Family:        family,
		RunID:         runID,
		UpdatedAt:     time.Now(),
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_handle"}, {Name: "family"}},
		DoUpdates: clause.AssignmentColumns([]string{"run_id", "updated_at"}),
	}).Create(&active).Error
	if err != nil {
		return fmt.Errorf("activate run %s: %w", runID, err)
	}
	return nil
}

// GetActive returns the run currently served for (account, family).
func (r *Registry) GetActive(ctx context.Context, account, family string) (*model.TrainingRun, error) {
	var active model.ActiveModel
	err := r.db.WithContext(ctx).
		Where("account_handle = ? AND family = ?", account, family).
		First(&active).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("active model for %s/%s: %w", account, family, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active model: %w", err)
	}

	var run model.TrainingRun
	err = r.db.WithContext(ctx).Where("run_id = ?", active.RunID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("run %s: %w", active.RunID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active run: %w", err)
	}
	return &run, nil
}

// History returns every run for (account, family), newest first.
func (r *Registry) History(ctx context.Context, account, family string) ([]model.TrainingRun, error) {
	var runs []model.TrainingRun
	err := r.db.WithContext(ctx).
		Where("account_handle = ? AND family = ?", account, family).
		Order("trained_at DESC, run_id DESC").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return runs, nil
}

// LatestBatch returns the runs of the most recent training call: every run
// sharing the newest trained_at timestamp.
func (r *Registry) LatestBatch(ctx context.Context, account, family string) ([]model.TrainingRun, error) {
	runs, err := r.History(ctx, account, family)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	newest := runs[0].TrainedAt
	var batch []model.TrainingRun
	for _, run := range runs {
		if run.TrainedAt.Equal(newest) {
			batch = append(batch, run)
		}
	}
	return batch, nil
}

// LoadArtifact reads the serialized model bytes of a run.
func (r *Registry) LoadArtifact(run *model.TrainingRun) ([]byte, error) {
	return r.store.Load(run.ArtifactRef)
}

// Delete removes the active pointer and every artifact file for
// (account, family). Historical TrainingRun rows are retained: the run
// table is an append-only audit arena, purging it is an explicit schema
// operation, not an API side effect. Returns the removed artifact refs.
// Delete is itself a writer: it waits for the (account, family) lock so
// it can never interleave with a training call between Persist and
// Activate and leave the pointer at a run without an artifact.
func (r *Registry) Delete(ctx context.Context, account, family string) ([]string, error) {
	unlock := r.Lock(account, family)
	defer unlock()

	res := r.db.WithContext(ctx).
		Where("account_handle = ? AND family = ?", account, family).
		Delete(&model.ActiveModel{})
	if res.Error != nil {
		return nil, fmt.Errorf("delete active pointer: %w", res.Error)
	}

	removed, err := r.store.RemoveAll(account, family)
	if err != nil {
		return removed, err
	}
	if res.RowsAffected == 0 && len(removed) == 0 {
		return nil, fmt.Errorf("models for %s/%s: %w", account, family, ErrNotFound)
	}
	return removed, nil
}

// CountActive returns the number of active pointers per family, for the
// active-models gauge.
func (r *Registry) CountActive(ctx context.Context, family string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.ActiveModel{}).
		Where("family = ?", family).Count(&n).Error
	return n, err
}
