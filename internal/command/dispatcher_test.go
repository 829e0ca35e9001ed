package command

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"redscout/internal/quota"
	"redscout/internal/search"
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

type stubProvider struct {
	calls int32
	posts []search.Post
	err   error
}

func (p *stubProvider) Search(ctx context.Context, req search.Request) ([]search.Post, error) {
	atomic.AddInt32(&p.calls, 1)
	return p.posts, p.err
}

type followUp struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

// followUpRecorder collects messages the dispatcher posts to response_url
type followUpRecorder struct {
	mu       sync.Mutex
	received []followUp
	srv      *httptest.Server
}

func newFollowUpRecorder(t *testing.T) *followUpRecorder {
	r := &followUpRecorder{}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var f followUp
		require.NoError(t, json.NewDecoder(req.Body).Decode(&f))
		r.mu.Lock()
		r.received = append(r.received, f)
		r.mu.Unlock()
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *followUpRecorder) all() []followUp {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]followUp, len(r.received))
	copy(out, r.received)
	return out
}

func testDispatcher(t *testing.T, provider search.Provider) (*Dispatcher, *store.Store) {
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

	_, err = s.UpsertWorkspace(store.UpsertInput{
		TeamID:          "T1",
		TeamName:        "Acme",
		BotToken:        "xoxb-token",
		InstallerUserID: "U1",
	})
	require.NoError(t, err)

	guard := quota.NewGuard(s, config.RateLimitConfig{PerUserLimit: 10, Window: time.Hour})
	searchCfg := config.SearchConfig{
		DefaultSubreddit:  "all",
		DefaultSort:       "relevance",
		DefaultMaxResults: 25,
		MaxResultsCap:     100,
		Timeout:           5 * time.Second,
	}
	return NewDispatcher(s, guard, provider, nil, searchCfg, zap.NewNop()), s
}

func slash(text, responseURL string) SlashCommand {
	return SlashCommand{
		TeamID:      "T1",
		UserID:      "U1",
		UserName:    "jane",
		ChannelID:   "C1",
		Command:     "/reddit",
		Text:        text,
		ResponseURL: responseURL,
	}
}

func TestHandleHelp(t *testing.T) {
	provider := &stubProvider{}
	d, s := testDispatcher(t, provider)

	for _, text := range []string{"", "help", "HELP"} {
		ack := d.Handle(slash(text, ""))
		assert.Equal(t, "ephemeral", ack.ResponseType)
		assert.Contains(t, ack.Text, "/reddit")
	}
	d.Wait()

	// Built-ins consume no quota and trigger no search.
	assert.Zero(t, atomic.LoadInt32(&provider.calls))
	ws, err := s.GetWorkspace("T1")
	require.NoError(t, err)
	assert.Zero(t, ws.UsageCount)
}

func TestHandleStatus(t *testing.T) {
	provider := &stubProvider{}
	d, s := testDispatcher(t, provider)

	ack := d.Handle(slash("status", ""))
	assert.Equal(t, "ephemeral", ack.ResponseType)
	assert.Contains(t, ack.Text, "free")
	assert.Contains(t, ack.Text, "0/100")

	d.Wait()
	assert.Zero(t, atomic.LoadInt32(&provider.calls))
	ws, err := s.GetWorkspace("T1")
	require.NoError(t, err)
	assert.Zero(t, ws.UsageCount)
}

func TestHandleNotInstalled(t *testing.T) {
	d, _ := testDispatcher(t, &stubProvider{})

	cmd := slash("golang", "")
	cmd.TeamID = "T999"
	ack := d.Handle(cmd)
	assert.Equal(t, "ephemeral", ack.ResponseType)
	assert.Contains(t, ack.Text, "not installed")
}

func TestHandleSearchSuccess(t *testing.T) {
	provider := &stubProvider{posts: []search.Post{
		{Title: "Go 1.23 released", URL: "https://reddit.com/1", Subreddit: "golang", Author: "gopher", Score: 500, NumComments: 80},
		{Title: "Generics in practice", URL: "https://reddit.com/2", Subreddit: "golang", Author: "rob", Score: 300, NumComments: 40},
	}}
	d, s := testDispatcher(t, provider)
	rec := newFollowUpRecorder(t)

	ack := d.Handle(slash("golang in golang hot 10", rec.srv.URL))
	assert.Equal(t, "ephemeral", ack.ResponseType)
	assert.Contains(t, ack.Text, "Searching")
	d.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&provider.calls))

	msgs := rec.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "in_channel", msgs[0].ResponseType)
	assert.Contains(t, msgs[0].Text, "2 posts")
	assert.Contains(t, msgs[0].Text, "Go 1.23 released")

	ws, err := s.GetWorkspace("T1")
	require.NoError(t, err)
	assert.Equal(t, 1, ws.UsageCount)

	logs, err := s.ListUsageLogs(ws.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, 2, logs[0].ResultCount)
}

func TestHandleEmptyResultsIsSuccess(t *testing.T) {
	provider := &stubProvider{}
	d, s := testDispatcher(t, provider)
	rec := newFollowUpRecorder(t)

	d.Handle(slash("obscurequery", rec.srv.URL))
	d.Wait()

	msgs := rec.all()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "No posts found")

	// An empty result set still counts as a completed search.
	ws, err := s.GetWorkspace("T1")
	require.NoError(t, err)
	assert.Equal(t, 1, ws.UsageCount)
	logs, err := s.ListUsageLogs(ws.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
}

func TestHandleSourceUnavailable(t *testing.T) {
	provider := &stubProvider{err: search.ErrSourceUnavailable}
	d, s := testDispatcher(t, provider)
	rec := newFollowUpRecorder(t)

	d.Handle(slash("golang", rec.srv.URL))
	d.Wait()

	msgs := rec.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ephemeral", msgs[0].ResponseType)
	assert.Contains(t, msgs[0].Text, "unavailable")

	// Failed searches are still recorded against usage.
	ws, err := s.GetWorkspace("T1")
	require.NoError(t, err)
	logs, err := s.ListUsageLogs(ws.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	assert.NotEmpty(t, logs[0].Error)
}

func TestHandleQuotaExhaustedSkipsProvider(t *testing.T) {
	provider := &stubProvider{}
	d, s := testDispatcher(t, provider)

	// Burn the free plan's monthly quota across many users so the hourly
	// per-user cap is not what rejects the next command.
	ws, err := s.GetWorkspace("T1")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		user := fmt.Sprintf("U%d", i%10)
		require.NoError(t, s.RecordUsage(ws.ID, user, "/reddit x", "x", 1, true, ""))
	}

	cmd := slash("golang", "")
	cmd.UserID = "U99"
	ack := d.Handle(cmd)
	d.Wait()

	assert.Equal(t, "ephemeral", ack.ResponseType)
	assert.Contains(t, ack.Text, "quota")
	assert.Zero(t, atomic.LoadInt32(&provider.calls), "provider must not be called once quota is exhausted")
}

func TestHandleRateLimited(t *testing.T) {
	provider := &stubProvider{}
	d, s := testDispatcher(t, provider)

	ws, err := s.GetWorkspace("T1")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.RecordUsage(ws.ID, "U1", "/reddit x", "x", 1, true, ""))
	}

	ack := d.Handle(slash("golang", ""))
	d.Wait()

	assert.Equal(t, "ephemeral", ack.ResponseType)
	assert.Contains(t, ack.Text, "10")
	assert.Zero(t, atomic.LoadInt32(&provider.calls))
}
