package handler

import (
	"errors"
	"net/http"

	"redscout/internal/model"
	"redscout/internal/notify"
	"redscout/pkg/logger"
	"redscout/pkg/secret"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// IntegrationHandler serves CRUD and test endpoints for notification
// integrations.
type IntegrationHandler struct {
	notifier *notify.Notifier
	store    *notify.FileStore
	vault    *secret.Vault
}

// NewIntegrationHandler wires an IntegrationHandler
func NewIntegrationHandler(n *notify.Notifier, s *notify.FileStore, v *secret.Vault) *IntegrationHandler {
	return &IntegrationHandler{notifier: n, store: s, vault: v}
}

type integrationRequest struct {
	Name           string   `json:"name"`
	Channel        string   `json:"channel"`
	WebhookURL     string   `json:"webhook_url"`
	Severity       string   `json:"severity"`
	KeywordFilters []string `json:"keyword_filters"`
	MinPosts       int      `json:"min_posts"`
	Active         *bool    `json:"active"`
	CreatedBy      string   `json:"created_by"`
}

// Create registers a new integration. The webhook is validated and
// test-delivered first; a webhook that cannot deliver is never stored.
func (h *IntegrationHandler) Create(c echo.Context) error {
	log := logger.FromContext(c)

	var req integrationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.Severity == "" {
		req.Severity = model.SeverityInfo
	}

	id, err := h.notifier.Register(c.Request().Context(),
		req.Name, req.Channel, req.WebhookURL, req.Severity, req.KeywordFilters, req.MinPosts, req.CreatedBy)
	if err != nil {
		var ve *notify.ValidationError
		var de *notify.DeliveryError
		switch {
		case errors.As(err, &ve):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Error()})
		case errors.As(err, &de):
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{
				"error": "webhook test failed: " + de.Reason,
			})
		default:
			log.Error("integration registration failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
		}
	}

	log.Info("integration registered", zap.String("integration_id", id), zap.String("name", req.Name))
	return c.JSON(http.StatusCreated, echo.Map{
		"message": "Integration registered successfully",
		"id":      id,
	})
}

// List returns all integrations. Webhook URLs stay encrypted.
func (h *IntegrationHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"integrations": h.store.List()})
}

// Update modifies an existing integration in place
func (h *IntegrationHandler) Update(c echo.Context) error {
	log := logger.FromContext(c)

	in, ok := h.store.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "integration not found"})
	}

	var req integrationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.Name != "" {
		in.Name = req.Name
	}
	if req.Channel != "" {
		in.Channel = req.Channel
	}
	if req.Severity != "" {
		in.Severity = req.Severity
	}
	if req.KeywordFilters != nil {
		in.KeywordFilters = req.KeywordFilters
	}
	if req.MinPosts > 0 {
		in.MinPosts = req.MinPosts
	}
	if req.Active != nil {
		in.Active = *req.Active
	}

	if err := h.notifier.UpdateIntegration(c.Request().Context(), in, req.WebhookURL); err != nil {
		var ve *notify.ValidationError
		var de *notify.DeliveryError
		switch {
		case errors.As(err, &ve):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Error()})
		case errors.As(err, &de):
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "webhook test failed: " + de.Reason})
		default:
			log.Error("integration update failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
		}
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "Integration updated successfully"})
}

// Delete removes an integration by id
func (h *IntegrationHandler) Delete(c echo.Context) error {
	log := logger.FromContext(c)

	if err := h.notifier.DeleteIntegration(c.Param("id")); err != nil {
		if errors.Is(err, notify.ErrIntegrationNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "integration not found"})
		}
		log.Error("integration deletion failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "deletion failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Integration deleted successfully"})
}

// Test sends a test message through an existing integration's webhook
func (h *IntegrationHandler) Test(c echo.Context) error {
	log := logger.FromContext(c)

	in, ok := h.store.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "integration not found"})
	}

	url, err := h.vault.Decrypt(in.EncryptedWebhookURL)
	if err != nil {
		log.Warn("webhook decryption failed", zap.String("integration_id", in.ID), zap.Error(err))
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "stored webhook cannot be decrypted, update the integration"})
	}

	if err := h.notifier.TestWebhook(c.Request().Context(), url, in.Channel); err != nil {
		var de *notify.DeliveryError
		reason := err.Error()
		if errors.As(err, &de) {
			reason = de.Reason
		}
		if auditErr := h.store.AppendAudit(in.ID, "test_failed", reason, false); auditErr != nil {
			log.Error("audit append failed", zap.Error(auditErr))
		}
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "webhook test failed: " + reason})
	}

	if auditErr := h.store.AppendAudit(in.ID, "tested", "test message delivered", true); auditErr != nil {
		log.Error("audit append failed", zap.Error(auditErr))
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Test message delivered"})
}

// AuditLog returns the bounded audit log, oldest first
func (h *IntegrationHandler) AuditLog(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"audit_log": h.store.AuditLog()})
}
