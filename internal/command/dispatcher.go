package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"redscout/internal/model"
	"redscout/internal/notify"
	"redscout/internal/quota"
	"redscout/internal/search"
	"redscout/internal/store"
	"redscout/pkg/config"
	"redscout/prometheus"

	"go.uber.org/zap"
)

// SlashCommand is the raw slash-command payload as posted by Slack
type SlashCommand struct {
	TeamID      string
	UserID      string
	UserName    string
	ChannelID   string
	Command     string
	Text        string
	ResponseURL string
}

// Ack is the immediate synchronous response to a slash command
type Ack struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

func ephemeral(text string) Ack {
	return Ack{ResponseType: "ephemeral", Text: text}
}

const helpText = "*redscout — Reddit search for Slack*\n" +
	"`/reddit <keywords> [in <subreddit>] [hot|new|top|relevance] [count]` — run a search\n" +
	"`/reddit status` — show your workspace plan and usage\n" +
	"`/reddit help` — this message\n" +
	"Example: `/reddit AI startups in technology hot 25`"

// Dispatcher runs the slash-command pipeline: parse, admit against rate
// limit and quota, acknowledge immediately, then search and respond on a
// background worker. The worker posts exactly one follow-up message per
// command and records usage whether the search succeeded or not.
type Dispatcher struct {
	store     *store.Store
	guard     *quota.Guard
	provider  search.Provider
	notifier  *notify.Notifier
	searchCfg config.SearchConfig
	client    *http.Client
	log       *zap.Logger
	wg        sync.WaitGroup
}

// NewDispatcher wires a Dispatcher
func NewDispatcher(s *store.Store, g *quota.Guard, p search.Provider, n *notify.Notifier, searchCfg config.SearchConfig, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:     s,
		guard:     g,
		provider:  p,
		notifier:  n,
		searchCfg: searchCfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// Wait blocks until all in-flight background searches have finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Handle processes one slash command and returns the immediate
// acknowledgment. Built-in subcommands (help, status, empty text) are
// answered synchronously and never consume quota.
func (d *Dispatcher) Handle(cmd SlashCommand) Ack {
	text := strings.TrimSpace(cmd.Text)
	sub := strings.ToLower(text)

	if sub == "" || sub == "help" {
		prometheus.RecordCommand("help", "ok")
		return ephemeral(helpText)
	}
	if sub == "status" {
		return d.status(cmd)
	}

	ws, err := d.store.GetWorkspace(cmd.TeamID)
	if errors.Is(err, store.ErrWorkspaceNotFound) {
		prometheus.RecordRejection("not_installed")
		return ephemeral("This workspace is not installed. Visit the installation page to connect redscout.")
	}
	if err != nil {
		d.log.Error("workspace lookup failed", zap.String("team_id", cmd.TeamID), zap.Error(err))
		prometheus.RecordRejection("store_error")
		return ephemeral("Something went wrong looking up your workspace. Please try again.")
	}

	if _, err := d.store.EnsureUser(ws.ID, cmd.UserID, cmd.UserName); err != nil {
		d.log.Error("user registration failed",
			zap.String("team_id", cmd.TeamID), zap.String("user_id", cmd.UserID), zap.Error(err))
	}

	if err := d.guard.Check(ws, cmd.UserID); err != nil {
		var rl *quota.RateLimitedError
		var qe *quota.QuotaExceededError
		switch {
		case errors.As(err, &rl):
			prometheus.RecordRejection("rate_limited")
			return ephemeral(":hourglass: " + rl.Error())
		case errors.As(err, &qe):
			prometheus.RecordRejection("quota_exceeded")
			return ephemeral(":no_entry: " + qe.Error())
		default:
			d.log.Error("quota check failed", zap.String("team_id", cmd.TeamID), zap.Error(err))
			prometheus.RecordRejection("store_error")
			return ephemeral("Something went wrong checking your quota. Please try again.")
		}
	}

	req := ParseCommand(text, &d.searchCfg)

	d.wg.Add(1)
	go d.run(ws, cmd, req)

	return ephemeral(fmt.Sprintf(":mag: Searching r/%s for *%s* (%s, up to %d results)… results will follow shortly.",
		req.Subreddit, req.Query(), req.Sort, req.MaxResults))
}

func (d *Dispatcher) status(cmd SlashCommand) Ack {
	ws, err := d.store.GetWorkspace(cmd.TeamID)
	if errors.Is(err, store.ErrWorkspaceNotFound) {
		return ephemeral("This workspace is not installed.")
	}
	if err != nil {
		d.log.Error("workspace lookup failed", zap.String("team_id", cmd.TeamID), zap.Error(err))
		return ephemeral("Something went wrong looking up your workspace. Please try again.")
	}

	prometheus.RecordCommand("status", "ok")
	remaining := ws.UsageLimit - ws.UsageCount
	if remaining < 0 {
		remaining = 0
	}
	return ephemeral(fmt.Sprintf("*%s* is on the *%s* plan: %d/%d searches used this month, %d remaining.",
		ws.TeamName, ws.Plan, ws.UsageCount, ws.UsageLimit, remaining))
}

// run executes the search on a background worker, posts the follow-up
// message and records usage. Every command ends in exactly one follow-up:
// a result summary, an empty-results note, or an error message.
func (d *Dispatcher) run(ws *model.Workspace, cmd SlashCommand, req search.Request) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.searchCfg.Timeout)
	defer cancel()

	start := time.Now()
	posts, err := d.provider.Search(ctx, req)
	prometheus.ObserveSearchDuration(time.Since(start))

	searchTerm := req.Query()
	if err != nil {
		prometheus.RecordCommand("search", "failed")
		d.log.Warn("search failed",
			zap.String("team_id", cmd.TeamID),
			zap.String("user_id", cmd.UserID),
			zap.String("query", searchTerm),
			zap.Error(err))

		msg := ":warning: Search failed, please try again later."
		if errors.Is(err, search.ErrSourceUnavailable) {
			msg = ":warning: Reddit is currently unavailable, please try again in a few minutes."
		}
		d.respond(cmd.ResponseURL, "ephemeral", msg)
		d.record(ws.ID, cmd, searchTerm, 0, false, err.Error())
		return
	}

	prometheus.RecordCommand("search", "completed")
	d.respond(cmd.ResponseURL, "in_channel", d.formatResults(req, posts))
	d.record(ws.ID, cmd, searchTerm, len(posts), true, "")

	if d.notifier != nil {
		d.notifier.FanOut(notify.SearchContext{
			Keywords:  req.Keywords,
			Subreddit: req.Subreddit,
			Query:     searchTerm,
		}, posts)
	}
}

func (d *Dispatcher) record(workspaceID uint, cmd SlashCommand, searchTerm string, resultCount int, success bool, errMsg string) {
	if err := d.store.RecordUsage(workspaceID, cmd.UserID, cmd.Command+" "+cmd.Text, searchTerm, resultCount, success, errMsg); err != nil {
		d.log.Error("usage recording failed",
			zap.Uint("workspace_id", workspaceID),
			zap.String("user_id", cmd.UserID),
			zap.Error(err))
	}
}

func (d *Dispatcher) formatResults(req search.Request, posts []search.Post) string {
	if len(posts) == 0 {
		return fmt.Sprintf("No posts found for *%s* in r/%s. Try different keywords or another subreddit.",
			req.Query(), req.Subreddit)
	}

	var b strings.Builder
	fmt.Fprintf(&b, ":mag: *%d posts* for *%s* in r/%s (%s):\n", len(posts), req.Query(), req.Subreddit, req.Sort)
	shown := len(posts)
	if shown > 5 {
		shown = 5
	}
	for _, p := range posts[:shown] {
		fmt.Fprintf(&b, "• <%s|%s> — %d points, %d comments by u/%s\n",
			p.URL, p.Title, p.Score, p.NumComments, p.Author)
	}
	if len(posts) > shown {
		fmt.Fprintf(&b, "…and %d more.", len(posts)-shown)
	}
	return b.String()
}

// respond posts the follow-up message to the caller-supplied callback URL
func (d *Dispatcher) respond(responseURL, responseType, text string) {
	if responseURL == "" {
		return
	}

	body, err := json.Marshal(map[string]string{
		"response_type": responseType,
		"text":          text,
	})
	if err != nil {
		d.log.Error("follow-up encoding failed", zap.Error(err))
		return
	}

	resp, err := d.client.Post(responseURL, "application/json", bytes.NewReader(body))
	if err != nil {
		d.log.Warn("follow-up post failed", zap.String("response_url", responseURL), zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		d.log.Warn("follow-up rejected",
			zap.String("response_url", responseURL),
			zap.Int("status", resp.StatusCode))
	}
}
