package handler

import (
	"net/http"
	"time"

	"predict-service/internal/middleware"
	"predict-service/internal/model"
	"predict-service/internal/tenant"
	"predict-service/pkg/database"
	"predict-service/pkg/logger"
	"predict-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ListAccounts returns the managed accounts visible to the caller: the
// whole directory for admins, the caller's company otherwise.
func ListAccounts(dir *tenant.Directory) echo.HandlerFunc {
	return func(c echo.Context) error {
		log := logger.FromContext(c)
		caller := middleware.CallerFromContext(c)

		defer prometheus.TrackDBOperation("query")(time.Now())
		var accounts []model.ManagedAccount
		var err error
		if caller.HasCrossTenantAccess() {
			accounts, err = dir.AllAccounts(c.Request().Context())
		} else {
			accounts, err = dir.AccountsForCompany(c.Request().Context(), caller.CompanyID)
		}
		if err != nil {
			log.Error("Failed to list accounts", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list accounts"})
		}

		return c.JSON(http.StatusOK, echo.Map{
			"accounts": accounts,
			"count":    len(accounts),
		})
	}
}

// CreateAccount registers a managed account under the caller's company.
// Admins may create an account for any company via company_id.
func CreateAccount(c echo.Context) error {
	log := logger.FromContext(c)
	caller := middleware.CallerFromContext(c)

	var req struct {
		Handle    string `json:"handle"`
		CompanyID uint   `json:"company_id,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.Handle == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "handle is required"})
	}

	companyID := caller.CompanyID
	if req.CompanyID != 0 && req.CompanyID != caller.CompanyID {
		if !caller.HasCrossTenantAccess() {
			prometheus.RecordForbidden(caller.CompanyID)
			return c.JSON(http.StatusForbidden, echo.Map{"error": "cannot create accounts for another company"})
		}
		companyID = req.CompanyID
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var company model.Company
	if result := database.GetDB().First(&company, companyID); result.Error != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "company not found"})
	}

	var existing model.ManagedAccount
	if result := database.GetDB().Where("handle = ?", req.Handle).First(&existing); result.Error == nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": "handle already registered"})
	}

	account := model.ManagedAccount{
		Handle:    req.Handle,
		CompanyID: companyID,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if result := database.GetDB().Create(&account); result.Error != nil {
		log.Error("Failed to create account", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create account"})
	}

	log.Info("Managed account created",
		zap.String("handle", account.Handle),
		zap.Uint("company_id", account.CompanyID))
	return c.JSON(http.StatusCreated, account)
}

// ListCompanies lists every company. Admin only.
func ListCompanies(c echo.Context) error {
	log := logger.FromContext(c)

	defer prometheus.TrackDBOperation("query")(time.Now())
	var companies []model.Company
	if result := database.GetDB().Order("name").Find(&companies); result.Error != nil {
		log.Error("Failed to list companies", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list companies"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"companies": companies,
		"count":     len(companies),
	})
}

// CreateCompany creates a company. Admin only.
func CreateCompany(c echo.Context) error {
	log := logger.FromContext(c)

	var req struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}

	company := model.Company{Name: req.Name}
	defer prometheus.TrackDBOperation("insert")(time.Now())
	if result := database.GetDB().Create(&company); result.Error != nil {
		log.Error("Failed to create company", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create company"})
	}

	log.Info("Company created", zap.String("name", company.Name), zap.Uint("id", company.ID))
	return c.JSON(http.StatusCreated, company)
}
