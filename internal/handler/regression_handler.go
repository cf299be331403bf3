package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"predict-service/internal/middleware"
	"predict-service/internal/ml"
	"predict-service/internal/model"
	"predict-service/internal/registry"
	"predict-service/internal/trainer"
	"predict-service/pkg/logger"
	"predict-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// RegressionHandler serves the regression model lifecycle for one managed
// account: train, predict, inspect, compare, activate, delete.
type RegressionHandler struct {
	trainer *trainer.Trainer
	reg     *registry.Registry
	timeout time.Duration
}

func NewRegressionHandler(t *trainer.Trainer, reg *registry.Registry, timeout time.Duration) *RegressionHandler {
	return &RegressionHandler{trainer: t, reg: reg, timeout: timeout}
}

// trainRequest is the optional training body shared by both families.
type trainRequest struct {
	Target   string             `json:"target_variable,omitempty"`
	TestSize float64            `json:"test_size,omitempty"`
	Weights  map[string]float64 `json:"weights,omitempty"`
}

// Train fits every regression candidate and activates the winner.
func (h *RegressionHandler) Train(c echo.Context) error {
	log := logger.FromContext(c)
	account := middleware.AccountFromContext(c)

	var req trainRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	result, err := h.trainer.TrainRegression(ctx, account.Handle, trainer.Options{
		Target:   req.Target,
		TestSize: req.TestSize,
		Weights:  req.Weights,
	})
	if err != nil {
		return trainingErrorResponse(c, log, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"account":          account.Handle,
		"family":           model.FamilyRegression,
		"best_model":       result.Winner,
		"candidates":       result.Candidates,
		"features_used":    result.FeaturesUsed,
		"training_samples": result.TrainingSamples,
		"test_samples":     result.TestSamples,
	})
}

// Predict serves a point prediction from the active regression model. The
// date query parameter (YYYY-MM-DD) is expanded into the temporal features;
// explicit day_of_week/hour/month parameters override individual values.
// Without any parameter the current date is used.
func (h *RegressionHandler) Predict(c echo.Context) error {
	log := logger.FromContext(c)
	account := middleware.AccountFromContext(c)

	var features map[string]float64
	if date := c.QueryParam("date"); date != "" {
		f, err := ml.ParseDateFeatures(date)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		features = f
	} else {
		features = ml.ParseDateFeaturesToday()
	}
	for _, name := range ml.TemporalFeatureNames() {
		if raw := c.QueryParam(name); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid value for " + name})
			}
			features[name] = v
		}
	}

	run, err := h.reg.GetActive(c.Request().Context(), account.Handle, model.FamilyRegression)
	if err != nil {
		return registryErrorResponse(c, log, err, account.Handle)
	}
	artifact, err := h.reg.LoadArtifact(run)
	if err != nil {
		log.Error("Failed to load model artifact", zap.String("run_id", run.RunID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load model"})
	}
	est, contract, err := ml.DecodeRegressionArtifact(artifact)
	if err != nil {
		log.Error("Failed to decode model artifact", zap.String("run_id", run.RunID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load model"})
	}

	x, err := contract.Vectorize(features)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	}
	pred, err := est.Predict(x)
	if err != nil {
		if errors.Is(err, ml.ErrContractMismatch) {
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
		}
		log.Error("Prediction failed", zap.String("run_id", run.RunID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "prediction failed"})
	}

	prometheus.RecordPrediction(model.FamilyRegression)
	return c.JSON(http.StatusOK, echo.Map{
		"account":         account.Handle,
		"target_variable": contract.Target,
		"features":        features,
		"prediction":      pred,
		"model_type":      run.Algorithm,
		"model": map[string]interface{}{
			"run_id":     run.RunID,
			"algorithm":  run.Algorithm,
			"trained_at": run.TrainedAt,
		},
	})
}

// Metrics returns the metric vector of the active regression model.
func (h *RegressionHandler) Metrics(c echo.Context) error {
	return activeMetrics(c, h.reg, model.FamilyRegression)
}

// History lists every regression run for the account, newest first.
func (h *RegressionHandler) History(c echo.Context) error {
	return runHistory(c, h.reg, model.FamilyRegression)
}

// ModelInfo returns the full metadata row of the active regression model.
func (h *RegressionHandler) ModelInfo(c echo.Context) error {
	return activeModelInfo(c, h.reg, model.FamilyRegression)
}

// CompareModels re-ranks the latest training batch, with optional custom
// metric weights.
func (h *RegressionHandler) CompareModels(c echo.Context) error {
	return compareModels(c, h.reg, model.FamilyRegression)
}

// Activate points the account's active regression model at an existing run.
func (h *RegressionHandler) Activate(c echo.Context) error {
	return activateRun(c, h.reg, model.FamilyRegression)
}

// Delete removes the active pointer and artifacts; run history is kept.
func (h *RegressionHandler) Delete(c echo.Context) error {
	return deleteModels(c, h.reg, model.FamilyRegression)
}

// trainingErrorResponse maps trainer errors onto the HTTP surface.
func trainingErrorResponse(c echo.Context, log *zap.Logger, err error) error {
	switch {
	case errors.Is(err, ml.ErrInvalidWeights):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, trainer.ErrInsufficientData):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	case errors.Is(err, trainer.ErrTrainingTimeout):
		return c.JSON(http.StatusRequestTimeout, echo.Map{"error": "training timed out"})
	default:
		log.Error("Training failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "training failed"})
	}
}

// registryErrorResponse maps registry lookups onto the HTTP surface.
func registryErrorResponse(c echo.Context, log *zap.Logger, err error, account string) error {
	if errors.Is(err, registry.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no trained model for account " + account})
	}
	log.Error("Registry lookup failed", zap.String("account", account), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "model lookup failed"})
}

func activeMetrics(c echo.Context, reg *registry.Registry, family string) error {
	log := logger.FromContext(c)
	account := middleware.AccountFromContext(c)

	run, err := reg.GetActive(c.Request().Context(), account.Handle, family)
	if err != nil {
		return registryErrorResponse(c, log, err, account.Handle)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"account":    account.Handle,
		"family":     family,
		"run_id":     run.RunID,
		"algorithm":  run.Algorithm,
		"trained_at": run.TrainedAt,
		"metrics":    json.RawMessage(run.Metrics),
	})
}

func runHistory(c echo.Context, reg *registry.Registry, family string) error {
	log := logger.FromContext(c)
	account := middleware.AccountFromContext(c)

	runs, err := reg.History(c.Request().Context(), account.Handle, family)
	if err != nil {
		log.Error("Failed to load history", zap.String("account", account.Handle), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load history"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"account": account.Handle,
		"family":  family,
		"runs":    runs,
		"count":   len(runs),
	})
}

func activeModelInfo(c echo.Context, reg *registry.Registry, family string) error {
	log := logger.FromContext(c)
	account := middleware.AccountFromContext(c)

	run, err := reg.GetActive(c.Request().Context(), account.Handle, family)
	if err != nil {
		return registryErrorResponse(c, log, err, account.Handle)
	}
	return c.JSON(http.StatusOK, run)
}

func compareModels(c echo.Context, reg *registry.Registry, family string) error {
	log := logger.FromContext(c)
	account := middleware.AccountFromContext(c)

	var req struct {
		Weights map[string]float64 `json:"weights,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	batch, err := reg.LatestBatch(c.Request().Context(), account.Handle, family)
	if err != nil {
		log.Error("Failed to load latest batch", zap.String("account", account.Handle), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load runs"})
	}
	if len(batch) == 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no trained models for account " + account.Handle})
	}

	candidates := make([]ml.RankedRun, 0, len(batch))
	for _, run := range batch {
		var metrics ml.MetricVector
		if err := json.Unmarshal(run.Metrics, &metrics); err != nil {
			log.Error("Corrupt metrics row", zap.String("run_id", run.RunID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load runs"})
		}
		candidates = append(candidates, ml.RankedRun{
			RunID:     run.RunID,
			Algorithm: run.Algorithm,
			TrainedAt: run.TrainedAt,
			Metrics:   metrics,
		})
	}

	ranked, err := ml.Rank(candidates, req.Weights, family)
	if err != nil {
		if errors.Is(err, ml.ErrInvalidWeights) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		log.Error("Ranking failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "ranking failed"})
	}

	type rankedEntry struct {
		Rank      int             `json:"rank"`
		RunID     string          `json:"run_id"`
		Algorithm string          `json:"algorithm"`
		Score     float64         `json:"score"`
		Metrics   ml.MetricVector `json:"metrics"`
	}
	out := make([]rankedEntry, len(ranked))
	for i, r := range ranked {
		out[i] = rankedEntry{
			Rank:      i + 1,
			RunID:     r.RunID,
			Algorithm: r.Algorithm,
			Score:     r.Score,
			Metrics:   r.Metrics,
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"account": account.Handle,
		"family":  family,
		"ranking": out,
	})
}

func activateRun(c echo.Context, reg *registry.Registry, family string) error {
	log := logger.FromContext(c)
	account := middleware.AccountFromContext(c)

	var req struct {
		RunID string `json:"run_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	runID := req.RunID
	if runID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "run_id is required"})
	}

	// Explicit activation is a registry write: take the same per-(account,
	// family) lock the trainer holds across persist and activate.
	unlock := reg.Lock(account.Handle, family)
	defer unlock()

	if err := reg.Activate(c.Request().Context(), account.Handle, family, runID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "run " + runID + " not found for account " + account.Handle})
		}
		log.Error("Activation failed", zap.String("run_id", runID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "activation failed"})
	}

	log.Info("Model activated",
		zap.String("account", account.Handle),
		zap.String("family", family),
		zap.String("run_id", runID))
	return c.JSON(http.StatusOK, echo.Map{
		"account": account.Handle,
		"family":  family,
		"run_id":  runID,
	})
}

func deleteModels(c echo.Context, reg *registry.Registry, family string) error {
	log := logger.FromContext(c)
	account := middleware.AccountFromContext(c)

	removed, err := reg.Delete(c.Request().Context(), account.Handle, family)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no models for account " + account.Handle})
		}
		log.Error("Model deletion failed", zap.String("account", account.Handle), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "deletion failed"})
	}

	log.Info("Models deleted",
		zap.String("account", account.Handle),
		zap.String("family", family),
		zap.Int("artifacts_removed", len(removed)))
	return c.JSON(http.StatusOK, echo.Map{
		"account":           account.Handle,
		"family":            family,
		"artifacts_removed": len(removed),
	})
}
