package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"redscout/internal/store"
	"redscout/pkg/config"

	"go.uber.org/zap"
)

// Error kinds for a failed OAuth exchange. The caller needs to tell a user
// who clicked "deny" apart from a flaky network and from a response the
// service cannot parse.
type ErrorKind int

const (
	// ErrorDenied means the installing user cancelled or denied the request
	ErrorDenied ErrorKind = iota
	// ErrorTransient means the token endpoint was unreachable or timed out.
	// Codes are single-use, so even transient failures are terminal for the
	// exchange and are never retried.
	ErrorTransient
	// ErrorMalformed means the endpoint answered with something the service
	// cannot interpret
	ErrorMalformed
)

// Error is a typed OAuth exchange failure
type Error struct {
	Kind   ErrorKind
	Reason string
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrorDenied:
		return "oauth: installation denied: " + e.Reason
	case ErrorTransient:
		return "oauth: token endpoint unavailable: " + e.Reason
	default:
		return "oauth: malformed token response: " + e.Reason
	}
}

// AsError extracts a typed OAuth error, if err carries one
func AsError(err error) (*Error, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// TokenResponse is the successful result of a code exchange
type TokenResponse struct {
	TeamID          string
	TeamName        string
	AccessToken     string
	BotUserID       string
	Scope           string
	InstallerUserID string
}

// Installer exchanges authorization codes with the Slack token endpoint
// and registers the resulting workspace in the store.
type Installer struct {
	cfg    config.SlackConfig
	store  *store.Store
	client *http.Client
	log    *zap.Logger
}

// NewInstaller creates an Installer. The HTTP client carries the configured
// OAuth timeout; a timed-out exchange is a terminal error.
func NewInstaller(cfg config.SlackConfig, s *store.Store, log *zap.Logger) *Installer {
	return &Installer{
		cfg:   cfg,
		store: s,
		client: &http.Client{
			Timeout: cfg.OAuthTimeout,
		},
		log: log,
	}
}

// slackOAuthResponse mirrors the oauth.v2.access response shape
type slackOAuthResponse struct {
	OK          bool   `json:"ok"`
	Error       string `json:"error"`
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
	BotUserID   string `json:"bot_user_id"`
	Team        struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"team"`
	AuthedUser struct {
		ID string `json:"id"`
	} `json:"authed_user"`
}

// ExchangeCode trades an authorization code for a workspace token and
// upserts the workspace record. Returns the internal workspace id.
func (i *Installer) ExchangeCode(ctx context.Context, code, redirectURI string) (uint, *TokenResponse, error) {
	token, err := i.exchange(ctx, code, redirectURI)
	if err != nil {
		return 0, nil, err
	}

	workspaceID, err := i.store.UpsertWorkspace(store.UpsertInput{
		TeamID:          token.TeamID,
		TeamName:        token.TeamName,
		BotToken:        token.AccessToken,
		BotUserID:       token.BotUserID,
		Scope:           token.Scope,
		InstallerUserID: token.InstallerUserID,
	})
	if err != nil {
		return 0, nil, err
	}

	i.log.Info("workspace installed",
		zap.String("team_id", token.TeamID),
		zap.String("team_name", token.TeamName),
		zap.Uint("workspace_id", workspaceID))
	return workspaceID, token, nil
}

func (i *Installer) exchange(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", i.cfg.ClientID)
	form.Set("client_secret", i.cfg.ClientSecret)
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &Error{Kind: ErrorMalformed, Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrorTransient, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &Error{Kind: ErrorTransient, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: ErrorMalformed, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var body slackOAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &Error{Kind: ErrorMalformed, Reason: err.Error()}
	}

	if !body.OK {
		if body.Error == "access_denied" {
			return nil, &Error{Kind: ErrorDenied, Reason: body.Error}
		}
		return nil, &Error{Kind: ErrorMalformed, Reason: body.Error}
	}
	if body.AccessToken == "" || body.Team.ID == "" {
		return nil, &Error{Kind: ErrorMalformed, Reason: "response missing access_token or team id"}
	}

	return &TokenResponse{
		TeamID:          body.Team.ID,
		TeamName:        body.Team.Name,
		AccessToken:     body.AccessToken,
		BotUserID:       body.BotUserID,
		Scope:           body.Scope,
		InstallerUserID: body.AuthedUser.ID,
	}, nil
}
