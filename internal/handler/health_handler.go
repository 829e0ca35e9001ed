package handler

import (
	"net/http"
	"time"

	"redscout/internal/model"
	"redscout/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HealthHandler serves liveness checks and the public pricing table
type HealthHandler struct {
	db *gorm.DB
}

// NewHealthHandler wires a HealthHandler
func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// HealthCheck handles the health check endpoint
func (h *HealthHandler) HealthCheck(c echo.Context) error {
	response := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	}

	// Check database connection if requested
	if c.QueryParam("check") == "db" {
		log := logger.FromContext(c)
		sqlDB, err := h.db.DB()
		if err != nil {
			log.Error("Database connection error", zap.Error(err))
			response["status"] = "error"
			response["db_status"] = "error"
			return c.JSON(http.StatusInternalServerError, response)
		}
		if err := sqlDB.Ping(); err != nil {
			log.Error("Database ping error", zap.Error(err))
			response["status"] = "error"
			response["db_status"] = "error"
			return c.JSON(http.StatusInternalServerError, response)
		}
		response["db_status"] = "ok"
	}

	return c.JSON(http.StatusOK, response)
}

// Pricing returns the public pricing table
func (h *HealthHandler) Pricing(c echo.Context) error {
	plans := make(map[string]echo.Map, len(model.Plans))
	for name, details := range model.Plans {
		plans[name] = echo.Map{
			"searches_per_month": details.SearchesPerMonth,
			"price_usd":          details.PriceUSD,
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"plans": plans})
}
