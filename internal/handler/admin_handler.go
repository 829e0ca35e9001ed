package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"redscout/internal/store"
	"redscout/pkg/jwtutil"
	"redscout/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// AdminHandler serves read-only reporting plus the two admin mutations
// (activate/deactivate and usage reset). All routes sit behind AdminAuth;
// Login is the only public one.
type AdminHandler struct {
	store    *store.Store
	adminKey string
}

// NewAdminHandler wires an AdminHandler
func NewAdminHandler(s *store.Store, adminKey string) *AdminHandler {
	return &AdminHandler{store: s, adminKey: adminKey}
}

// Login exchanges the admin key for a short-lived session token
func (h *AdminHandler) Login(c echo.Context) error {
	log := logger.FromContext(c)

	var req struct {
		Key string `json:"key"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if h.adminKey == "" || subtle.ConstantTimeCompare([]byte(req.Key), []byte(h.adminKey)) != 1 {
		log.Warn("admin login rejected", zap.String("ip", c.RealIP()))
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid admin key"})
	}

	token, err := jwtutil.GenerateAdminToken()
	if err != nil {
		log.Error("admin token generation failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"token": token})
}

// ListWorkspaces returns all workspaces with aggregated usage counts
func (h *AdminHandler) ListWorkspaces(c echo.Context) error {
	log := logger.FromContext(c)

	summaries, err := h.store.ListWorkspaces()
	if err != nil {
		log.Error("workspace listing failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "listing failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"workspaces": summaries})
}

// WorkspaceLogs returns the most recent usage log entries for one workspace
func (h *AdminHandler) WorkspaceLogs(c echo.Context) error {
	log := logger.FromContext(c)

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid workspace id"})
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	entries, err := h.store.ListUsageLogs(uint(id), limit)
	if err != nil {
		log.Error("usage log listing failed", zap.Uint64("workspace_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "listing failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"logs": entries})
}

// SetActive enables or disables a workspace (soft delete)
func (h *AdminHandler) SetActive(c echo.Context) error {
	log := logger.FromContext(c)

	var req struct {
		Active bool `json:"active"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	teamID := c.Param("team_id")
	if err := h.store.SetActive(teamID, req.Active); err != nil {
		if errors.Is(err, store.ErrWorkspaceNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "workspace not found"})
		}
		log.Error("workspace activation change failed", zap.String("team_id", teamID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}

	log.Info("workspace activation changed", zap.String("team_id", teamID), zap.Bool("active", req.Active))
	return c.JSON(http.StatusOK, echo.Map{"message": "Workspace updated"})
}

// ResetUsage zeroes a workspace's monthly usage counter
func (h *AdminHandler) ResetUsage(c echo.Context) error {
	log := logger.FromContext(c)

	teamID := c.Param("team_id")
	if err := h.store.ResetUsage(teamID); err != nil {
		if errors.Is(err, store.ErrWorkspaceNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "workspace not found"})
		}
		log.Error("usage reset failed", zap.String("team_id", teamID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reset failed"})
	}

	log.Info("workspace usage reset", zap.String("team_id", teamID))
	return c.JSON(http.StatusOK, echo.Map{"message": "Usage counter reset"})
}

// Billing returns the per-plan breakdown and projected monthly revenue
func (h *AdminHandler) Billing(c echo.Context) error {
	log := logger.FromContext(c)

	summary, err := h.store.Billing()
	if err != nil {
		log.Error("billing summary failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "billing summary failed"})
	}
	return c.JSON(http.StatusOK, summary)
}
