package handler

import (
	"net/http"
	"time"

	"predict-service/internal/model"
	"predict-service/pkg/database"
	"predict-service/pkg/jwtutil"
	"predict-service/pkg/logger"
	"predict-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Login verifies credentials and issues a JWT carrying the caller's
// identity, company and role.
func Login(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.LoginCounter.Inc()

	var req struct {
		Identity string `json:"identity"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse login request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var caller model.Caller
	result := database.GetDB().Where("identity = ?", req.Identity).First(&caller)
	if result.Error != nil {
		log.Error("Caller not found", zap.String("identity", req.Identity))
		prometheus.RecordAuthError("caller_not_found")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(caller.Password), []byte(req.Password)); err != nil {
		log.Error("Invalid password", zap.String("identity", req.Identity))
		prometheus.RecordAuthError("invalid_password")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	// A deactivated caller cannot obtain a fresh token either.
	if !caller.Active {
		log.Error("Inactive caller attempted login", zap.String("identity", req.Identity))
		prometheus.RecordAuthError("caller_inactive")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	token, err := jwtutil.GenerateToken(caller.Identity, caller.CompanyID, caller.Role)
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	log.Info("Caller logged in",
		zap.String("identity", caller.Identity),
		zap.Uint("company_id", caller.CompanyID),
		zap.String("role", caller.Role))

	return c.JSON(http.StatusOK, echo.Map{
		"token": token,
		"caller": map[string]interface{}{
			"id":         caller.ID,
			"identity":   caller.Identity,
			"company_id": caller.CompanyID,
			"role":       caller.Role,
		},
	})
}

// Register creates a caller account under an existing company. Mounted
// behind Authenticate and RequireAdmin: callers are provisioned by an
// admin, never self-registered.
func Register(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RegisterCounter.Inc()

	var req struct {
		Identity  string `json:"identity"`
		Password  string `json:"password"`
		CompanyID uint   `json:"company_id"`
		Role      string `json:"role,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse registration request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.Identity == "" || req.Password == "" || req.CompanyID == 0 {
		log.Error("Invalid registration data",
			zap.String("identity", req.Identity),
			zap.Uint("company_id", req.CompanyID),
			zap.Bool("password_provided", req.Password != ""))
		prometheus.RecordAuthError("incomplete_registration")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "identity, password and company_id are required"})
	}

	switch req.Role {
	case "":
		req.Role = model.RoleUser
	case model.RoleAdmin, model.RoleUser, model.RoleViewer:
	default:
		prometheus.RecordAuthError("invalid_role")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown role " + req.Role})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var company model.Company
	if result := database.GetDB().First(&company, req.CompanyID); result.Error != nil {
		log.Error("Company not found", zap.Uint("company_id", req.CompanyID))
		prometheus.RecordAuthError("company_not_found")
		return c.JSON(http.StatusNotFound, echo.Map{"error": "company not found"})
	}

	var existing model.Caller
	if result := database.GetDB().Where("identity = ?", req.Identity).First(&existing); result.Error == nil {
		log.Error("Caller already exists", zap.String("identity", req.Identity))
		prometheus.RecordAuthError("identity_already_exists")
		return c.JSON(http.StatusConflict, echo.Map{"error": "identity already registered"})
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("Failed to hash password", zap.Error(err))
		prometheus.RecordAuthError("password_hash_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}

	caller := model.Caller{
		Identity:  req.Identity,
		Password:  string(hashedPassword),
		CompanyID: req.CompanyID,
		Role:      req.Role,
		Active:    true,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if result := database.GetDB().Create(&caller); result.Error != nil {
		log.Error("Failed to create caller", zap.Error(result.Error))
		prometheus.RecordAuthError("caller_creation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}

	log.Info("Caller registered",
		zap.String("identity", caller.Identity),
		zap.Uint("company_id", caller.CompanyID))
	return c.JSON(http.StatusCreated, echo.Map{
		"message": "Caller registered successfully",
		"caller": map[string]interface{}{
			"id":         caller.ID,
			"identity":   caller.Identity,
			"company_id": caller.CompanyID,
			"role":       caller.Role,
		},
	})
}

// MetricsHandler exposes the Prometheus scrape endpoint.
func MetricsHandler(c echo.Context) error {
	handler := prometheus.GetPrometheusHandler()
	handler.ServeHTTP(c.Response(), c.Request())
	return nil
}
