package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"redscout/internal/model"
	"redscout/internal/store"
	"redscout/pkg/config"
	"redscout/pkg/secret"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func testInstaller(t *testing.T, tokenURL string) (*Installer, *store.Store) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	vault, err := secret.NewVault("test-key")
	require.NoError(t, err)

	s := store.New(db, vault, zap.NewNop())
	require.NoError(t, s.Migrate())

	cfg := config.SlackConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     tokenURL,
		OAuthTimeout: 2 * time.Second,
	}
	return NewInstaller(cfg, s, zap.NewNop()), s
}

func tokenEndpoint(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func okResponse(teamID string) map[string]interface{} {
	return map[string]interface{}{
		"ok":           true,
		"access_token": "xoxb-new-token",
		"scope":        "commands,chat:write",
		"bot_user_id":  "B42",
		"team":         map[string]string{"id": teamID, "name": "Acme"},
		"authed_user":  map[string]string{"id": "U42"},
	}
}

func TestExchangeCodeSuccess(t *testing.T) {
	srv := tokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "code-1", r.FormValue("code"))
		assert.Equal(t, "client-id", r.FormValue("client_id"))
		assert.Equal(t, "client-secret", r.FormValue("client_secret"))
		json.NewEncoder(w).Encode(okResponse("T42"))
	})
	installer, s := testInstaller(t, srv.URL)

	id, token, err := installer.ExchangeCode(context.Background(), "code-1", "")
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Equal(t, "T42", token.TeamID)
	assert.Equal(t, "U42", token.InstallerUserID)

	ws, err := s.GetWorkspace("T42")
	require.NoError(t, err)
	assert.Equal(t, "xoxb-new-token", ws.BotToken)
	assert.Equal(t, model.PlanFree, ws.Plan)
}

func TestExchangeCodeReinstallIsIdempotent(t *testing.T) {
	srv := tokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(okResponse("T43"))
	})
	installer, s := testInstaller(t, srv.URL)

	first, _, err := installer.ExchangeCode(context.Background(), "code-1", "")
	require.NoError(t, err)
	second, _, err := installer.ExchangeCode(context.Background(), "code-2", "")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	summaries, err := s.ListWorkspaces()
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.EqualValues(t, 2, summaries[0].InstallEvents)
}

func TestExchangeCodeDenied(t *testing.T) {
	srv := tokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "error": "access_denied"})
	})
	installer, _ := testInstaller(t, srv.URL)

	_, _, err := installer.ExchangeCode(context.Background(), "code-1", "")
	oe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorDenied, oe.Kind)
}

func TestExchangeCodeTransient(t *testing.T) {
	srv := tokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	installer, _ := testInstaller(t, srv.URL)

	_, _, err := installer.ExchangeCode(context.Background(), "code-1", "")
	oe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorTransient, oe.Kind)
}

func TestExchangeCodeMalformed(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		srv := tokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		})
		installer, _ := testInstaller(t, srv.URL)

		_, _, err := installer.ExchangeCode(context.Background(), "code-1", "")
		oe, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, ErrorMalformed, oe.Kind)
	})

	t.Run("missing team id", func(t *testing.T) {
		srv := tokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "access_token": "xoxb-x"})
		})
		installer, _ := testInstaller(t, srv.URL)

		_, _, err := installer.ExchangeCode(context.Background(), "code-1", "")
		oe, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, ErrorMalformed, oe.Kind)
	})

	t.Run("slack error other than denial", func(t *testing.T) {
		srv := tokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "error": "invalid_code"})
		})
		installer, _ := testInstaller(t, srv.URL)

		_, _, err := installer.ExchangeCode(context.Background(), "code-1", "")
		oe, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, ErrorMalformed, oe.Kind)
	})
}
