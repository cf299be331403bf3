package model

import (
	"time"

	"gorm.io/datatypes"
)

// Model families. Regression and clustering keep independent active
// pointers per account.
const (
	FamilyRegression = "regression"
	FamilyClustering = "clustering"
)

// TrainingRun is one persisted, versioned outcome of fitting one algorithm
// for one account. Rows are append-only: superseding runs are new rows,
// never updates. Ordering key is (trained_at desc, run_id desc).
type TrainingRun struct {
	ID              uint           `json:"-" gorm:"primaryKey"`
	RunID           string         `json:"run_id" gorm:"type:varchar(36);uniqueIndex;not null"`
	AccountHandle   string         `json:"account_handle" gorm:"type:varchar(100);index:idx_runs_account_family;not null"`
	Family          string         `json:"family" gorm:"type:varchar(20);index:idx_runs_account_family;not null"`
	Algorithm       string         `json:"algorithm" gorm:"type:varchar(50);not null"`
	Hyperparameters datatypes.JSON `json:"hyperparameters"`
	Metrics         datatypes.JSON `json:"metrics"`
	FeatureContract datatypes.JSON `json:"feature_contract"`
	ArtifactRef     string         `json:"artifact_ref" gorm:"type:varchar(255)"`
	TrainingSamples int            `json:"training_samples"`
	TestSamples     int            `json:"test_samples"`
	TrainedAt       time.Time      `json:"trained_at" gorm:"index;not null"`
}

// ActiveModel is the activation pointer: the single run currently served
// for an (account, family) pair. The runs table is the append-only arena;
// this row is the index into it.
type ActiveModel struct {
	ID            uint      `json:"-" gorm:"primaryKey"`
	AccountHandle string    `json:"account_handle" gorm:"type:varchar(100);uniqueIndex:idx_active_account_family;not null"`
	Family        string    `json:"family" gorm:"type:varchar(20);uniqueIndex:idx_active_account_family;not null"`
	RunID         string    `json:"run_id" gorm:"type:varchar(36);not null"`
	UpdatedAt     time.Time `json:"updated_at"`
}
