package handler

import (
	"context"
	"net/http"
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
	"gorm.io/gorm"
)

// ClusteringHandler serves the clustering model lifecycle: train, label the
// account's historical posts, inspect, compare, activate, delete.
type ClusteringHandler struct {
	trainer *trainer.Trainer
	reg     *registry.Registry
	db      *gorm.DB
	timeout time.Duration
}

func NewClusteringHandler(t *trainer.Trainer, reg *registry.Registry, db *gorm.DB, timeout time.Duration) *ClusteringHandler {
	return &ClusteringHandler{trainer: t, reg: reg, db: db, timeout: timeout}
}

// Train fits the K-Means sweep plus auto-tuned DBSCAN candidates and
// activates the winner.
func (h *ClusteringHandler) Train(c echo.Context) error {
	log := logger.FromContext(c)
	account := middleware.AccountFromContext(c)

	var req trainRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	result, err := h.trainer.TrainClustering(ctx, account.Handle, trainer.Options{
		Weights: req.Weights,
	})
	if err != nil {
		return trainingErrorResponse(c, log, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"account":          account.Handle,
		"family":           model.FamilyClustering,
		"best_model":       result.Winner,
		"candidates":       result.Candidates,
		"features_used":    result.FeaturesUsed,
		"training_samples": result.TrainingSamples,
	})
}

// Clusters labels every usable historical post of the account with the
// active clustering model. Points the model considers noise carry label -1.
func (h *ClusteringHandler) Clusters(c echo.Context) error {
	log := logger.FromContext(c)
	account := middleware.AccountFromContext(c)

	run, err := h.reg.GetActive(c.Request().Context(), account.Handle, model.FamilyClustering)
	if err != nil {
		return registryErrorResponse(c, log, err, account.Handle)
	}
	artifact, err := h.reg.LoadArtifact(run)
	if err != nil {
		log.Error("Failed to load model artifact", zap.String("run_id", run.RunID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load model"})
	}
	clusterer, scaler, contract, err := ml.DecodeClusteringArtifact(artifact)
	if err != nil {
		log.Error("Failed to decode model artifact", zap.String("run_id", run.RunID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load model"})
	}

	var rows []model.PostMetric
	err = h.db.WithContext(c.Request().Context()).
		Where("account_handle = ?", account.Handle).
		Order("posted_at").
		Find(&rows).Error
	if err != nil {
		log.Error("Failed to load post history", zap.String("account", account.Handle), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load history"})
	}

	type labeledPoint struct {
		PostedAt       time.Time `json:"posted_at"`
		EngagementRate float64   `json:"engagement_rate"`
		Views          float64   `json:"views"`
		Cluster        int       `json:"cluster"`
	}
	var points []labeledPoint
	sizes := map[int]int{}
	for i := range rows {
		if rows[i].EngagementRate == nil || rows[i].Views == nil {
			continue
		}
		x := scaler.TransformRow([]float64{*rows[i].EngagementRate, *rows[i].Views})
		label := clusterer.Assign(x)
		sizes[label]++
		points = append(points, labeledPoint{
			PostedAt:       rows[i].PostedAt,
			EngagementRate: *rows[i].EngagementRate,
			Views:          *rows[i].Views,
			Cluster:        label,
		})
	}

	prometheus.RecordPrediction(model.FamilyClustering)
	return c.JSON(http.StatusOK, echo.Map{
		"account":  account.Handle,
		"features": contract.Features,
		"model": map[string]interface{}{
			"run_id":     run.RunID,
			"algorithm":  run.Algorithm,
			"trained_at": run.TrainedAt,
		},
		"cluster_sizes": sizes,
		"points":        points,
		"count":         len(points),
	})
}

// Metrics returns the metric vector of the active clustering model.
func (h *ClusteringHandler) Metrics(c echo.Context) error {
	return activeMetrics(c, h.reg, model.FamilyClustering)
}

// History lists every clustering run for the account, newest first.
func (h *ClusteringHandler) History(c echo.Context) error {
	return runHistory(c, h.reg, model.FamilyClustering)
}

// ModelInfo returns the full metadata row of the active clustering model.
func (h *ClusteringHandler) ModelInfo(c echo.Context) error {
	return activeModelInfo(c, h.reg, model.FamilyClustering)
}

// CompareModels re-ranks the latest training batch, with optional custom
// metric weights.
func (h *ClusteringHandler) CompareModels(c echo.Context) error {
	return compareModels(c, h.reg, model.FamilyClustering)
}

// Activate points the account's active clustering model at an existing run.
func (h *ClusteringHandler) Activate(c echo.Context) error {
	return activateRun(c, h.reg, model.FamilyClustering)
}

// Delete removes the active pointer and artifacts; run history is kept.
func (h *ClusteringHandler) Delete(c echo.Context) error {
	return deleteModels(c, h.reg, model.FamilyClustering)
}
