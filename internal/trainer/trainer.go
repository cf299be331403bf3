package trainer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"predict-service/internal/ml"
	"predict-service/internal/model"
	"predict-service/internal/registry"
	"predict-service/pkg/config"
	"predict-service/prometheus"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultTarget is the regression target when the caller names none.
const DefaultTarget = "followers"

var (
	// ErrInsufficientData means the account has no usable rows after
	// null-exclusion (or too few to form a test split). Nothing is
	// persisted in that case.
	ErrInsufficientData = errors.New("insufficient training data")

	// ErrTrainingTimeout means the training deadline elapsed, or the
	// caller went away, before all candidates completed.
	ErrTrainingTimeout = errors.New("training timed out")

	// ErrAllCandidatesFailed means every candidate fit failed; the
	// per-candidate causes are reported alongside.
	ErrAllCandidatesFailed = errors.New("all candidate models failed")
)

// CandidateError records one failed candidate fit. A failing estimator
// never aborts its siblings.
type CandidateError struct {
	Algorithm string
	Err       error
}

func (e *CandidateError) Error() string {
	return fmt.Sprintf("candidate %s: %v", e.Algorithm, e.Err)
}

func (e *CandidateError) Unwrap() error { return e.Err }

// CandidateOutcome is the per-candidate report returned to the caller.
type CandidateOutcome struct {
	Algorithm string          `json:"algorithm"`
	RunID     string          `json:"run_id,omitempty"`
	Metrics   ml.MetricVector `json:"metrics,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Result is the outcome of one training call.
type Result struct {
	Winner          *model.TrainingRun `json:"winner"`
	Candidates      []CandidateOutcome `json:"candidates"`
	FeaturesUsed    []string           `json:"features_used"`
	TrainingSamples int                `json:"training_samples"`
	TestSamples     int                `json:"test_samples"`
}

// Options tune one training call.
type Options struct {
	Target   string
	TestSize float64
	Weights  map[string]float64
}

// Trainer runs the synchronous training path: load account history, fit
// every candidate on one shared split, evaluate, rank, persist, activate.
type Trainer struct {
	db  *gorm.DB
	reg *registry.Registry
	cfg config.TrainingConfig
	log *zap.Logger
}

func New(db *gorm.DB, reg *registry.Registry, cfg config.TrainingConfig, log *zap.Logger) *Trainer {
	return &Trainer{db: db, reg: reg, cfg: cfg, log: log}
}

// regressionCandidates returns the fixed candidate set with fresh-estimator
// factories (the evaluator refits per CV fold).
func (t *Trainer) regressionCandidates() []func() ml.Estimator {
	seed := t.cfg.Seed
	return []func() ml.Estimator{
		func() ml.Estimator { return ml.NewLinearRegression() },
		func() ml.Estimator { return ml.NewRidge(1.0) },
		func() ml.Estimator { return ml.NewDecisionTree(6, 2) },
		func() ml.Estimator { return ml.NewRandomForest(50, 6, 2, seed) },
		func() ml.Estimator { return ml.NewKNN(5) },
	}
}

// TrainRegression fits every regression candidate for the account and
// activates the top-ranked run.
func (t *Trainer) TrainRegression(ctx context.Context, account string, opts Options) (*Result, error) {
	start := time.Now()
	defer prometheus.ObserveTraining(model.FamilyRegression, start)

	target := opts.Target
	if target == "" {
		target = DefaultTarget
	}
	if err := ml.ValidateWeights(opts.Weights, ml.FamilyRegression); err != nil {
		return nil, err
	}
	if err := t.checkDeadline(ctx); err != nil {
		return nil, err
	}

	rows, err := t.loadRows(ctx, account)
	if err != nil {
		return nil, err
	}

	// Rows with a null target are excluded outright; the temporal
	// features derive from the timestamp and are never null.
	features := ml.TemporalFeatureNames()
	var X [][]float64
	var y []float64
	for i := range rows {
		tv := rows[i].TargetValue(target)
		if tv == nil {
			continue
		}
		f := ml.TemporalFeatures(rows[i].PostedAt)
		X = append(X, []float64{f[ml.FeatureDayOfWeek], f[ml.FeatureHour], f[ml.FeatureMonth]})
		y = append(y, *tv)
	}
	if len(X) < 5 {
		return nil, fmt.Errorf("account %s target %s has %d usable rows: %w",
			account, target, len(X), ErrInsufficientData)
	}

	testSize := opts.TestSize
	if testSize == 0 {
		testSize = t.cfg.TestSize
	}
	trainIdx, testIdx := ml.TrainTestSplit(len(X), testSize, t.cfg.Seed)
	XTrain, yTrain := subsetRows(X, y, trainIdx)
	XTest, yTest := subsetRows(X, y, testIdx)

	contract := ml.FeatureContract{Features: features, Target: target}
	trainedAt := time.Now().UTC()

	type fitted struct {
		est     ml.Estimator
		metrics ml.MetricVector
		runID   string
	}
	var successes []fitted
	var outcomes []CandidateOutcome

	for _, factory := range t.regressionCandidates() {
		if err := t.checkDeadline(ctx); err != nil {
			return nil, err
		}
		est := factory()
		name := est.Name()

		if err := est.Fit(XTrain, yTrain); err != nil {
			t.recordFailure(&outcomes, model.FamilyRegression, name, err)
			continue
		}
		metrics, err := ml.EvaluateRegression(est, factory, XTrain, yTrain, XTest, yTest, t.cfg.CVFolds)
		if err != nil {
			t.recordFailure(&outcomes, model.FamilyRegression, name, err)
			continue
		}

		runID := uuid.New().String()
		successes = append(successes, fitted{est: est, metrics: metrics, runID: runID})
		outcomes = append(outcomes, CandidateOutcome{Algorithm: name, RunID: runID, Metrics: metrics})
		prometheus.RecordTrainingRun(model.FamilyRegression, name, "ok")
	}

	if len(successes) == 0 {
		return nil, fmt.Errorf("%w for account %s", ErrAllCandidatesFailed, account)
	}

	ranked := make([]ml.RankedRun, len(successes))
	for i, s := range successes {
		ranked[i] = ml.RankedRun{
			RunID:     s.runID,
			Algorithm: s.est.Name(),
			TrainedAt: trainedAt,
			Metrics:   s.metrics,
		}
	}
	order, err := ml.Rank(ranked, opts.Weights, ml.FamilyRegression)
	if err != nil {
		return nil, err
	}
	winnerID := order[0].RunID

	// At-most-one writer per (account, family): the lock spans persist
	// and activate so a concurrent train cannot activate a run whose
	// artifact is not yet on disk.
	unlock := t.reg.Lock(account, model.FamilyRegression)
	defer unlock()

	var winner *model.TrainingRun
	for _, s := range successes {
		if err := t.checkDeadline(ctx); err != nil {
			return nil, err
		}
		artifact, err := ml.EncodeRegressionArtifact(s.est, contract)
		if err != nil {
			return nil, err
		}
		run, err := t.buildRun(account, model.FamilyRegression, s.est.Name(), s.runID,
			s.est.Hyperparameters(), s.metrics, contract, trainedAt, len(XTrain), len(XTest))
		if err != nil {
			return nil, err
		}
		if err := t.reg.Persist(ctx, run, artifact); err != nil {
			return nil, err
		}
		if run.RunID == winnerID {
			winner = run
		}
	}
	if err := t.reg.Activate(ctx, account, model.FamilyRegression, winnerID); err != nil {
		return nil, err
	}

	t.log.Info("Regression training completed",
		zap.String("account", account),
		zap.String("target", target),
		zap.String("winner", winner.Algorithm),
		zap.String("run_id", winnerID),
		zap.Int("candidates", len(successes)),
		zap.Int("training_samples", len(XTrain)),
		zap.Int("test_samples", len(XTest)))

	return &Result{
		Winner:          winner,
		Candidates:      outcomes,
		FeaturesUsed:    features,
		TrainingSamples: len(XTrain),
		TestSamples:     len(XTest),
	}, nil
}

// clusteringFeatures is the fixed clustering feature pair: how much a post
// engages versus how far it reaches.
var clusteringFeatures = []string{"engagement_rate", "views"}

// TrainClustering fits K-Means over a small k sweep plus the DBSCAN
// parameterizations proposed by the auto-tuner, and activates the
// top-ranked run.
func (t *Trainer) TrainClustering(ctx context.Context, account string, opts Options) (*Result, error) {
	start := time.Now()
	defer prometheus.ObserveTraining(model.FamilyClustering, start)

	if err := ml.ValidateWeights(opts.Weights, ml.FamilyClustering); err != nil {
		return nil, err
	}
	if err := t.checkDeadline(ctx); err != nil {
		return nil, err
	}

	rows, err := t.loadRows(ctx, account)
	if err != nil {
		return nil, err
	}

	var X [][]float64
	for i := range rows {
		if rows[i].EngagementRate == nil || rows[i].Views == nil {
			continue
		}
		X = append(X, []float64{*rows[i].EngagementRate, *rows[i].Views})
	}
	if len(X) < 5 {
		return nil, fmt.Errorf("account %s has %d usable rows: %w", account, len(X), ErrInsufficientData)
	}

	scaler := ml.FitScaler(X)
	Xs := scaler.Transform(X)

	var clusterers []ml.Clusterer
	for k := 2; k <= 5 && k <= len(Xs); k++ {
		clusterers = append(clusterers, ml.NewKMeans(k))
	}
	for _, p := range ml.SearchDBSCANParams(Xs, 4) {
		clusterers = append(clusterers, ml.NewDBSCAN(p.Eps, p.MinSamples))
	}

	contract := ml.FeatureContract{Features: clusteringFeatures}
	trainedAt := time.Now().UTC()

	type fitted struct {
		cl      ml.Clusterer
		metrics ml.MetricVector
		runID   string
	}
	var successes []fitted
	var outcomes []CandidateOutcome

	for _, cl := range clusterers {
		if err := t.checkDeadline(ctx); err != nil {
			return nil, err
		}
		labels, err := cl.FitPredict(Xs)
		if err != nil {
			t.recordFailure(&outcomes, model.FamilyClustering, cl.Name(), err)
			continue
		}
		metrics, err := ml.EvaluateClustering(labels, Xs)
		if err != nil {
			t.recordFailure(&outcomes, model.FamilyClustering, cl.Name(), err)
			continue
		}

		runID := uuid.New().String()
		successes = append(successes, fitted{cl: cl, metrics: metrics, runID: runID})
		outcomes = append(outcomes, CandidateOutcome{Algorithm: cl.Name(), RunID: runID, Metrics: metrics})
		prometheus.RecordTrainingRun(model.FamilyClustering, cl.Name(), "ok")
	}

	if len(successes) == 0 {
		return nil, fmt.Errorf("%w for account %s", ErrAllCandidatesFailed, account)
	}

	ranked := make([]ml.RankedRun, len(successes))
	for i, s := range successes {
		ranked[i] = ml.RankedRun{
			RunID:     s.runID,
			Algorithm: s.cl.Name(),
			TrainedAt: trainedAt,
			Metrics:   s.metrics,
		}
	}
	order, err := ml.Rank(ranked, opts.Weights, ml.FamilyClustering)
	if err != nil {
		return nil, err
	}
	winnerID := order[0].RunID

	unlock := t.reg.Lock(account, model.FamilyClustering)
	defer unlock()

	var winner *model.TrainingRun
	for _, s := range successes {
		if err := t.checkDeadline(ctx); err != nil {
			return nil, err
		}
		artifact, err := ml.EncodeClusteringArtifact(s.cl, scaler, contract)
		if err != nil {
			return nil, err
		}
		run, err := t.buildRun(account, model.FamilyClustering, s.cl.Name(), s.runID,
			s.cl.Hyperparameters(), s.metrics, contract, trainedAt, len(Xs), 0)
		if err != nil {
			return nil, err
		}
		if err := t.reg.Persist(ctx, run, artifact); err != nil {
			return nil, err
		}
		if run.RunID == winnerID {
			winner = run
		}
	}
	if err := t.reg.Activate(ctx, account, model.FamilyClustering, winnerID); err != nil {
		return nil, err
	}

	t.log.Info("Clustering training completed",
		zap.String("account", account),
		zap.String("winner", winner.Algorithm),
		zap.String("run_id", winnerID),
		zap.Int("candidates", len(successes)),
		zap.Int("samples", len(Xs)))

	return &Result{
		Winner:          winner,
		Candidates:      outcomes,
		FeaturesUsed:    clusteringFeatures,
		TrainingSamples: len(Xs),
	}, nil
}

func (t *Trainer) loadRows(ctx context.Context, account string) ([]model.PostMetric, error) {
	var rows []model.PostMetric
	err := t.db.WithContext(ctx).
		Where("account_handle = ?", account).
		Order("posted_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", account, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("account %s has no historical rows: %w", account, ErrInsufficientData)
	}
	return rows, nil
}

func (t *Trainer) checkDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		// A caller disconnect cancels training the same way an elapsed
		// deadline does.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return ErrTrainingTimeout
		}
		return err
	}
	return nil
}

func (t *Trainer) recordFailure(outcomes *[]CandidateOutcome, family, algorithm string, err error) {
	cErr := &CandidateError{Algorithm: algorithm, Err: err}
	t.log.Warn("Candidate training failed",
		zap.String("family", family),
		zap.String("algorithm", algorithm),
		zap.Error(err))
	prometheus.RecordTrainingRun(family, algorithm, "error")
	*outcomes = append(*outcomes, CandidateOutcome{Algorithm: algorithm, Error: cErr.Error()})
}

func (t *Trainer) buildRun(account, family, algorithm, runID string,
	hyper map[string]any, metrics ml.MetricVector, contract ml.FeatureContract,
	trainedAt time.Time, trainN, testN int) (*model.TrainingRun, error) {

	hyperJSON, err := json.Marshal(hyper)
	if err != nil {
		return nil, fmt.Errorf("marshal hyperparameters: %w", err)
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return nil, fmt.Errorf("marshal metrics: %w", err)
	}
	contractJSON, err := json.Marshal(contract)
	if err != nil {
		return nil, fmt.Errorf("marshal feature contract: %w", err)
	}

	return &model.TrainingRun{
		RunID:           runID,
		AccountHandle:   account,
		Family:          family,
		Algorithm:       algorithm,
		Hyperparameters: hyperJSON,
		Metrics:         metricsJSON,
		FeatureContract: contractJSON,
		TrainingSamples: trainN,
		TestSamples:     testN,
		TrainedAt:       trainedAt,
	}, nil
}

func subsetRows(X [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	Xs := make([][]float64, len(idx))
	ys := make([]float64, len(idx))
	for i, k := range idx {
		Xs[i] = X[k]
		ys[i] = y[k]
	}
	return Xs, ys
}
