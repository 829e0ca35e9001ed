package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"redscout/internal/model"
	"redscout/internal/search"
	"redscout/pkg/config"
	"redscout/pkg/secret"
	"redscout/prometheus"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// webhookPrefix is the only URL shape accepted for delivery targets
const webhookPrefix = "https://hooks.slack.com/services/"

// ValidationError rejects a malformed registration before any network or
// persistence action.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "notify: " + e.Reason
}

// DeliveryError maps a transport-layer failure onto a user-facing reason
type DeliveryError struct {
	Reason string
}

func (e *DeliveryError) Error() string {
	return "notify: delivery failed: " + e.Reason
}

// SearchContext describes the completed search a notification reports on
type SearchContext struct {
	Keywords  []string
	Subreddit string
	Query     string
}

type deliveryJob struct {
	integration model.Integration
	searchCtx   SearchContext
	posts       []search.Post
}

// Notifier evaluates per-integration delivery rules and posts result
// summaries to webhooks. Deliveries run on a background worker pool so the
// triggering request is never held open by a slow or failing endpoint.
type Notifier struct {
	store  *FileStore
	vault  *secret.Vault
	cfg    config.NotifyConfig
	client *http.Client
	log    *zap.Logger

	jobs chan deliveryJob
	wg   sync.WaitGroup
	once sync.Once
}

// NewNotifier creates a Notifier and starts its delivery workers
func NewNotifier(store *FileStore, vault *secret.Vault, cfg config.NotifyConfig, log *zap.Logger) *Notifier {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	n := &Notifier{
		store: store,
		vault: vault,
		cfg:   cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		log:  log,
		jobs: make(chan deliveryJob, 64),
	}
	for w := 0; w < workers; w++ {
		n.wg.Add(1)
		go n.worker()
	}
	return n
}

// Close stops accepting new deliveries and waits for in-flight ones
func (n *Notifier) Close() {
	n.once.Do(func() {
		close(n.jobs)
	})
	n.wg.Wait()
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for job := range n.jobs {
		ctx, cancel := context.WithTimeout(context.Background(),
			time.Duration(n.cfg.MaxRetries+1)*n.cfg.Timeout+time.Minute)
		if err := n.Deliver(ctx, job.integration, job.searchCtx, job.posts); err != nil {
			n.log.Warn("webhook delivery failed",
				zap.String("integration_id", job.integration.ID),
				zap.String("integration", job.integration.Name),
				zap.Error(err))
		}
		cancel()
	}
}

// ValidateWebhookURL structurally checks a webhook URL. No network call.
func ValidateWebhookURL(url string) error {
	if url == "" {
		return &ValidationError{Reason: "webhook URL is required"}
	}
	if !strings.HasPrefix(url, webhookPrefix) {
		return &ValidationError{Reason: "webhook URL must start with " + webhookPrefix}
	}
	parts := strings.Split(strings.TrimPrefix(url, webhookPrefix), "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return &ValidationError{Reason: "webhook URL must have the form " + webhookPrefix + "T.../B.../..."}
	}
	return nil
}

// TestWebhook sends a single synchronous test message. Transport outcomes
// are mapped to user-facing reasons.
func (n *Notifier) TestWebhook(ctx context.Context, url, channel string) error {
	payload := map[string]string{
		"channel": channel,
		"text":    ":white_check_mark: redscout webhook test — this integration can receive search notifications.",
	}

	err := n.post(ctx, url, payload)
	if err == nil {
		prometheus.RecordWebhookTest("delivered")
		return nil
	}
	prometheus.RecordWebhookTest("failed")

	var de *DeliveryError
	if errors.As(err, &de) {
		return de
	}
	return &DeliveryError{Reason: err.Error()}
}

// Register validates and test-delivers a webhook, then persists the
// integration. An integration whose test message fails is never stored.
// Returns the new integration id.
func (n *Notifier) Register(ctx context.Context, name, channel, webhookURL, severity string, keywordFilters []string, minPosts int, creator string) (string, error) {
	if name == "" {
		return "", &ValidationError{Reason: "name is required"}
	}
	if !model.ValidSeverity(severity) {
		return "", &ValidationError{Reason: "severity must be one of info, warning, alert"}
	}
	if minPosts < 0 {
		return "", &ValidationError{Reason: "min_posts must not be negative"}
	}
	if err := ValidateWebhookURL(webhookURL); err != nil {
		return "", err
	}

	if err := n.TestWebhook(ctx, webhookURL, channel); err != nil {
		// The failed test is still an auditable lifecycle event even
		// though nothing was stored.
		if auditErr := n.store.AppendAudit("", "register_test_failed", name+": "+err.Error(), false); auditErr != nil {
			n.log.Error("audit append failed", zap.Error(auditErr))
		}
		return "", err
	}

	encURL, err := n.vault.Encrypt(webhookURL)
	if err != nil {
		return "", fmt.Errorf("notify: encrypt webhook: %w", err)
	}

	now := time.Now().UTC()
	integration := model.Integration{
		ID:                  uuid.New().String(),
		Name:                name,
		EncryptedWebhookURL: encURL,
		Channel:             channel,
		Active:              true,
		Severity:            severity,
		KeywordFilters:      keywordFilters,
		MinPosts:            minPosts,
		CreatedBy:           creator,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := n.store.Add(integration); err != nil {
		return "", err
	}
	if err := n.store.AppendAudit(integration.ID, "created", "integration "+name+" registered by "+creator, true); err != nil {
		n.log.Error("audit append failed", zap.Error(err))
	}
	return integration.ID, nil
}

// UpdateIntegration applies changes to an existing integration. A changed
// webhook URL is validated, test-delivered and re-encrypted.
func (n *Notifier) UpdateIntegration(ctx context.Context, in model.Integration, newWebhookURL string) error {
	if !model.ValidSeverity(in.Severity) {
		return &ValidationError{Reason: "severity must be one of info, warning, alert"}
	}
	if newWebhookURL != "" {
		if err := ValidateWebhookURL(newWebhookURL); err != nil {
			return err
		}
		if err := n.TestWebhook(ctx, newWebhookURL, in.Channel); err != nil {
			return err
		}
		encURL, err := n.vault.Encrypt(newWebhookURL)
		if err != nil {
			return fmt.Errorf("notify: encrypt webhook: %w", err)
		}
		in.EncryptedWebhookURL = encURL
	}
	in.UpdatedAt = time.Now().UTC()

	if err := n.store.Update(in); err != nil {
		return err
	}
	if err := n.store.AppendAudit(in.ID, "updated", "integration "+in.Name+" updated", true); err != nil {
		n.log.Error("audit append failed", zap.Error(err))
	}
	return nil
}

// DeleteIntegration removes an integration by id
func (n *Notifier) DeleteIntegration(id string) error {
	in, ok := n.store.Get(id)
	if !ok {
		return ErrIntegrationNotFound
	}
	if err := n.store.Delete(id); err != nil {
		return err
	}
	if err := n.store.AppendAudit(id, "deleted", "integration "+in.Name+" deleted", true); err != nil {
		n.log.Error("audit append failed", zap.Error(err))
	}
	return nil
}

// ShouldNotify evaluates an integration's delivery rules against a
// completed search. Inactive integrations never fire; a non-empty keyword
// filter list must match at least one search keyword; the result count must
// meet both min_posts and the severity-derived threshold.
func ShouldNotify(in *model.Integration, sc SearchContext, resultCount int) bool {
	if !in.Active {
		return false
	}
	if resultCount < in.MinResultCount() {
		return false
	}
	if len(in.KeywordFilters) > 0 {
		matched := false
		for _, filter := range in.KeywordFilters {
			for _, kw := range sc.Keywords {
				if strings.EqualFold(strings.TrimSpace(filter), kw) {
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Deliver posts the result summary to the integration's webhook, retrying
// with exponential backoff on non-2xx responses and transport errors. The
// terminal outcome, success or failure, appends exactly one audit entry.
func (n *Notifier) Deliver(ctx context.Context, in model.Integration, sc SearchContext, posts []search.Post) error {
	url, err := n.vault.Decrypt(in.EncryptedWebhookURL)
	if err != nil {
		prometheus.RecordDelivery("failed")
		if auditErr := n.store.AppendAudit(in.ID, "delivery_failed", "webhook URL could not be decrypted", false); auditErr != nil {
			n.log.Error("audit append failed", zap.Error(auditErr))
		}
		return fmt.Errorf("notify: decrypt webhook: %w", err)
	}

	payload := n.buildMessage(in, sc, posts)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = n.cfg.InitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(n.cfg.MaxRetries)), ctx)

	err = backoff.Retry(func() error {
		return n.post(ctx, url, payload)
	}, policy)

	if err != nil {
		prometheus.RecordDelivery("failed")
		if auditErr := n.store.AppendAudit(in.ID, "delivery_failed", err.Error(), false); auditErr != nil {
			n.log.Error("audit append failed", zap.Error(auditErr))
		}
		return err
	}

	prometheus.RecordDelivery("delivered")
	detail := fmt.Sprintf("delivered %d result summary for %q", len(posts), sc.Query)
	if auditErr := n.store.AppendAudit(in.ID, "delivered", detail, true); auditErr != nil {
		n.log.Error("audit append failed", zap.Error(auditErr))
	}
	return nil
}

// FanOut schedules deliveries for every integration whose rules match the
// completed search. Fire-and-forget: callers must not assume the
// deliveries finished when FanOut returns.
func (n *Notifier) FanOut(sc SearchContext, posts []search.Post) {
	for _, in := range n.store.List() {
		integration := in
		if !ShouldNotify(&integration, sc, len(posts)) {
			continue
		}
		n.jobs <- deliveryJob{integration: integration, searchCtx: sc, posts: posts}
	}
}

func (n *Notifier) post(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return backoff.Permanent(&DeliveryError{Reason: "malformed payload"})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(&DeliveryError{Reason: "malformed request: " + err.Error()})
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return &DeliveryError{Reason: "timeout"}
		}
		return &DeliveryError{Reason: "connection error: " + err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return &DeliveryError{Reason: "webhook not found (channel or hook removed)"}
	case resp.StatusCode == http.StatusForbidden:
		return &DeliveryError{Reason: "forbidden (hook revoked)"}
	case resp.StatusCode == http.StatusBadRequest:
		return &DeliveryError{Reason: "malformed message rejected by endpoint"}
	default:
		return &DeliveryError{Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}
}

// buildMessage renders the result summary: counts, top posts by engagement
// and an action link back to the search.
func (n *Notifier) buildMessage(in model.Integration, sc SearchContext, posts []search.Post) map[string]interface{} {
	top := n.cfg.TopPosts
	if top <= 0 {
		top = 3
	}

	ranked := make([]search.Post, len(posts))
	copy(ranked, posts)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].EngagementRate() > ranked[j].EngagementRate()
	})
	topPosts := lo.Slice(ranked, 0, top)

	var b strings.Builder
	fmt.Fprintf(&b, ":mag: *%d posts* found for *%s*", len(posts), sc.Query)
	if sc.Subreddit != "" && sc.Subreddit != "all" {
		fmt.Fprintf(&b, " in r/%s", sc.Subreddit)
	}
	b.WriteString("\n")
	for _, p := range topPosts {
		fmt.Fprintf(&b, "• <%s|%s> — r/%s, %d points, %d comments\n",
			p.URL, p.Title, p.Subreddit, p.Score, p.NumComments)
	}

	return map[string]interface{}{
		"channel": in.Channel,
		"text":    b.String(),
	}
}
