package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"redscout/internal/model"
	"redscout/internal/search"
	"redscout/pkg/config"
	"redscout/pkg/secret"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testNotifier(t *testing.T) (*Notifier, *FileStore, *secret.Vault) {
	t.Helper()

	store, err := NewFileStore(filepath.Join(t.TempDir(), "integrations.json"))
	require.NoError(t, err)

	vault, err := secret.NewVault("test-key")
	require.NoError(t, err)

	cfg := config.NotifyConfig{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		Timeout:         time.Second,
		Workers:         1,
		TopPosts:        3,
	}
	n := NewNotifier(store, vault, cfg, zap.NewNop())
	t.Cleanup(n.Close)
	return n, store, vault
}

func addIntegration(t *testing.T, store *FileStore, vault *secret.Vault, url string, mutate func(*model.Integration)) model.Integration {
	t.Helper()

	encURL, err := vault.Encrypt(url)
	require.NoError(t, err)
	in := model.Integration{
		ID:                  "int-1",
		Name:                "test target",
		EncryptedWebhookURL: encURL,
		Channel:             "#alerts",
		Active:              true,
		Severity:            model.SeverityInfo,
		CreatedAt:           time.Now().UTC(),
	}
	if mutate != nil {
		mutate(&in)
	}
	require.NoError(t, store.Add(in))
	return in
}

func TestValidateWebhookURL(t *testing.T) {
	assert.NoError(t, ValidateWebhookURL("https://hooks.slack.com/services/T1/B1/C1"))

	for _, bad := range []string{
		"",
		"https://evil.example.com/x",
		"http://hooks.slack.com/services/T1/B1/C1",
		"https://hooks.slack.com/services/T1/B1",
		"https://hooks.slack.com/services/T1//C1",
	} {
		assert.Error(t, ValidateWebhookURL(bad), "url %q should be invalid", bad)
	}
}

// rewriteTransport routes every outgoing request to the test server so a
// valid-shaped hooks.slack.com URL can be exercised without network access.
type rewriteTransport struct {
	target *httptest.Server
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	u, err := url.Parse(rt.target.URL)
	if err != nil {
		return nil, err
	}
	req.URL.Scheme = u.Scheme
	req.URL.Host = u.Host
	return http.DefaultTransport.RoundTrip(req)
}

func TestRegisterRejectsInvalidURL(t *testing.T) {
	n, store, _ := testNotifier(t)

	_, err := n.Register(context.Background(), "bad", "#c", "https://evil.example.com/x", model.SeverityInfo, nil, 0, "admin")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Empty(t, store.List())
	assert.Empty(t, store.AuditLog())
}

func TestRegisterFailedTestDoesNotPersist(t *testing.T) {
	n, store, _ := testNotifier(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	n.client.Transport = &rewriteTransport{target: srv}

	_, err := n.Register(context.Background(), "dead hook", "#c",
		"https://hooks.slack.com/services/T1/B1/C1", model.SeverityInfo, nil, 0, "admin")
	var de *DeliveryError
	require.ErrorAs(t, err, &de)

	assert.Empty(t, store.List())
	log := store.AuditLog()
	require.Len(t, log, 1)
	assert.Equal(t, "register_test_failed", log[0].Event)
	assert.False(t, log[0].Success)
}

func TestRegisterPersistsAfterSuccessfulTest(t *testing.T) {
	n, store, vault := testNotifier(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	n.client.Transport = &rewriteTransport{target: srv}

	id, err := n.Register(context.Background(), "alerts", "#c",
		"https://hooks.slack.com/services/T1/B1/C1", model.SeverityWarning, []string{"ai"}, 5, "admin")
	require.NoError(t, err)

	in, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, "alerts", in.Name)
	assert.True(t, in.Active)
	assert.Equal(t, model.SeverityWarning, in.Severity)

	// Stored webhook URL is encrypted, never plaintext.
	assert.NotContains(t, in.EncryptedWebhookURL, "hooks.slack.com")
	plain, err := vault.Decrypt(in.EncryptedWebhookURL)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.slack.com/services/T1/B1/C1", plain)
}

func TestTestWebhookMapsOutcomes(t *testing.T) {
	n, _, _ := testNotifier(t)

	cases := []struct {
		status int
		want   string
	}{
		{http.StatusNotFound, "not found"},
		{http.StatusForbidden, "forbidden"},
		{http.StatusBadRequest, "malformed"},
		{http.StatusInternalServerError, "status 500"},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		err := n.TestWebhook(context.Background(), srv.URL, "#c")
		srv.Close()

		var de *DeliveryError
		require.ErrorAs(t, err, &de, "status %d", tc.status)
		assert.Contains(t, de.Reason, tc.want)
	}
}

func TestTestWebhookSuccess(t *testing.T) {
	n, _, _ := testNotifier(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.NoError(t, n.TestWebhook(context.Background(), srv.URL, "#c"))
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	n, store, vault := testNotifier(t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	in := addIntegration(t, store, vault, srv.URL, nil)
	err := n.Deliver(context.Background(), in, SearchContext{Query: "golang", Keywords: []string{"golang"}}, nil)
	require.NoError(t, err)

	// One failure, one success on the first retry: a single Delivered
	// audit entry, not one per attempt.
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	log := store.AuditLog()
	require.Len(t, log, 1)
	assert.Equal(t, "delivered", log[0].Event)
	assert.True(t, log[0].Success)
}

func TestDeliverGivesUpAfterRetries(t *testing.T) {
	n, store, vault := testNotifier(t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	in := addIntegration(t, store, vault, srv.URL, nil)
	err := n.Deliver(context.Background(), in, SearchContext{Query: "golang"}, nil)
	require.Error(t, err)

	// Initial attempt plus exactly two retries.
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	log := store.AuditLog()
	require.Len(t, log, 1)
	assert.Equal(t, "delivery_failed", log[0].Event)
	assert.False(t, log[0].Success)
}

func TestShouldNotify(t *testing.T) {
	base := model.Integration{
		Active:   true,
		Severity: model.SeverityInfo,
	}
	sc := SearchContext{Keywords: []string{"AI", "startups"}}

	t.Run("inactive never fires", func(t *testing.T) {
		in := base
		in.Active = false
		assert.False(t, ShouldNotify(&in, sc, 1000))
	})

	t.Run("below min posts", func(t *testing.T) {
		in := base
		in.MinPosts = 10
		assert.False(t, ShouldNotify(&in, sc, 9))
		assert.True(t, ShouldNotify(&in, sc, 10))
	})

	t.Run("severity thresholds", func(t *testing.T) {
		in := base
		in.Severity = model.SeverityWarning
		assert.False(t, ShouldNotify(&in, sc, 24))
		assert.True(t, ShouldNotify(&in, sc, 25))

		in.Severity = model.SeverityAlert
		assert.False(t, ShouldNotify(&in, sc, 99))
		assert.True(t, ShouldNotify(&in, sc, 100))
	})

	t.Run("keyword filters", func(t *testing.T) {
		in := base
		in.KeywordFilters = []string{"crypto"}
		assert.False(t, ShouldNotify(&in, sc, 50))

		in.KeywordFilters = []string{"crypto", "ai"}
		assert.True(t, ShouldNotify(&in, sc, 50), "filter match is case-insensitive")

		in.KeywordFilters = nil
		assert.True(t, ShouldNotify(&in, sc, 50))
	})
}

func TestFanOutDeliversToMatching(t *testing.T) {
	n, store, vault := testNotifier(t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	addIntegration(t, store, vault, srv.URL, nil)
	addIntegration(t, store, vault, srv.URL, func(in *model.Integration) {
		in.ID = "int-2"
		in.Active = false
	})

	posts := []search.Post{{Title: "a", Score: 10, NumComments: 5}}
	n.FanOut(SearchContext{Query: "golang", Keywords: []string{"golang"}}, posts)
	n.Close()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestAuditLogCap(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "integrations.json"))
	require.NoError(t, err)

	for i := 0; i < 101; i++ {
		require.NoError(t, store.AppendAudit("int-1", "tested", fmt.Sprintf("entry-%d", i), true))
	}

	log := store.AuditLog()
	require.Len(t, log, 100)
	assert.Equal(t, "entry-1", log[0].Detail, "oldest entry is evicted first")
	assert.Equal(t, "entry-100", log[99].Detail)
}

func TestFileStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "integrations.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Add(model.Integration{ID: "int-1", Name: "target"}))
	require.NoError(t, store.AppendAudit("int-1", "created", "registered", true))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Len(t, reopened.List(), 1)
	assert.Len(t, reopened.AuditLog(), 1)

	require.NoError(t, reopened.Delete("int-1"))
	assert.Empty(t, reopened.List())
	assert.ErrorIs(t, reopened.Delete("int-1"), ErrIntegrationNotFound)
}
