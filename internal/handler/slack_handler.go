package handler

import (
	"net/http"

	"redscout/internal/command"
	"redscout/internal/oauth"
	"redscout/pkg/logger"
	"redscout/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// SlackHandler serves the OAuth installation callback and the slash
// command entry point.
type SlackHandler struct {
	installer  *oauth.Installer
	dispatcher *command.Dispatcher
}

// NewSlackHandler wires a SlackHandler
func NewSlackHandler(installer *oauth.Installer, dispatcher *command.Dispatcher) *SlackHandler {
	return &SlackHandler{installer: installer, dispatcher: dispatcher}
}

// OAuthCallback completes an OAuth installation. Slack redirects here with
// either a code or an error query parameter.
func (h *SlackHandler) OAuthCallback(c echo.Context) error {
	log := logger.FromContext(c)

	if denied := c.QueryParam("error"); denied != "" {
		log.Info("installation denied by user", zap.String("error", denied))
		prometheus.RecordInstall("denied")
		return c.JSON(http.StatusOK, echo.Map{
			"ok":      false,
			"message": "Installation cancelled. You can reinstall at any time.",
		})
	}

	code := c.QueryParam("code")
	if code == "" {
		prometheus.RecordInstall("invalid")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing authorization code"})
	}

	redirectURI := c.QueryParam("redirect_uri")
	workspaceID, token, err := h.installer.ExchangeCode(c.Request().Context(), code, redirectURI)
	if err != nil {
		oe, ok := oauth.AsError(err)
		if !ok {
			log.Error("installation failed", zap.Error(err))
			prometheus.RecordInstall("error")
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "installation failed"})
		}
		switch oe.Kind {
		case oauth.ErrorDenied:
			log.Info("installation denied", zap.String("reason", oe.Reason))
			prometheus.RecordInstall("denied")
			return c.JSON(http.StatusOK, echo.Map{
				"ok":      false,
				"message": "Installation cancelled. You can reinstall at any time.",
			})
		case oauth.ErrorTransient:
			log.Warn("token endpoint unavailable", zap.String("reason", oe.Reason))
			prometheus.RecordInstall("transient_error")
			return c.JSON(http.StatusBadGateway, echo.Map{
				"error": "Slack is not responding right now, please retry the installation",
			})
		default:
			log.Error("malformed token response", zap.String("reason", oe.Reason))
			prometheus.RecordInstall("malformed")
			return c.JSON(http.StatusBadGateway, echo.Map{
				"error": "installation failed: unexpected response from Slack",
			})
		}
	}

	prometheus.RecordInstall("success")
	return c.JSON(http.StatusOK, echo.Map{
		"ok":           true,
		"message":      "redscout installed in " + token.TeamName + "! Try /reddit help in Slack.",
		"workspace_id": workspaceID,
	})
}

// SlashCommand handles the /reddit slash command. It answers synchronously
// with an acknowledgment; search results arrive later via the response
// URL.
func (h *SlackHandler) SlashCommand(c echo.Context) error {
	cmd := command.SlashCommand{
		TeamID:      c.FormValue("team_id"),
		UserID:      c.FormValue("user_id"),
		UserName:    c.FormValue("user_name"),
		ChannelID:   c.FormValue("channel_id"),
		Command:     c.FormValue("command"),
		Text:        c.FormValue("text"),
		ResponseURL: c.FormValue("response_url"),
	}

	if cmd.TeamID == "" || cmd.UserID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid command payload"})
	}

	log := logger.FromContext(c)
	log.Info("slash command received",
		zap.String("team_id", cmd.TeamID),
		zap.String("user_id", cmd.UserID),
		zap.String("text", cmd.Text))

	ack := h.dispatcher.Handle(cmd)
	return c.JSON(http.StatusOK, ack)
}
