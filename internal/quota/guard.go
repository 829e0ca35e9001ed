package quota

import (
	"fmt"
	"math"
	"time"

	"redscout/internal/model"
	"redscout/internal/store"
	"redscout/pkg/config"
)

// RateLimitedError rejects a command because the user hit the short-window
// cap. The message names the limit and the minutes until the window opens
// again.
type RateLimitedError struct {
	Limit   int
	ResetIn time.Duration
}

func (e *RateLimitedError) Error() string {
	minutes := int(math.Ceil(e.ResetIn.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("rate limit reached: max %d searches per hour, try again in %d minute(s)", e.Limit, minutes)
}

// QuotaExceededError rejects a command because the workspace exhausted its
// monthly quota. The message names the plan and current usage.
type QuotaExceededError struct {
	Plan       string
	UsageCount int
	UsageLimit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly quota exhausted: %d/%d searches used on the %s plan, upgrade or wait for a usage reset",
		e.UsageCount, e.UsageLimit, e.Plan)
}

// Guard evaluates the per-user rate limit and the per-workspace monthly
// quota. Both checks are read-only; the usage counter is only incremented
// after the search attempt completes, via Store.RecordUsage.
type Guard struct {
	store *store.Store
	cfg   config.RateLimitConfig
}

// NewGuard creates a Guard over the workspace store
func NewGuard(s *store.Store, cfg config.RateLimitConfig) *Guard {
	return &Guard{store: s, cfg: cfg}
}

// Check admits or rejects a command before any costly work happens.
// Returns a *RateLimitedError or *QuotaExceededError on rejection.
func (g *Guard) Check(ws *model.Workspace, slackUserID string) error {
	cutoff := time.Now().UTC().Add(-g.cfg.Window)
	count, oldest, err := g.store.CountUserUsageSince(ws.ID, slackUserID, cutoff)
	if err != nil {
		return err
	}
	if count >= int64(g.cfg.PerUserLimit) {
		// The window opens again when the oldest entry inside it ages out.
		resetIn := g.cfg.Window - time.Since(oldest)
		if resetIn < 0 {
			resetIn = time.Minute
		}
		return &RateLimitedError{Limit: g.cfg.PerUserLimit, ResetIn: resetIn}
	}

	if ws.QuotaExhausted() {
		return &QuotaExceededError{
			Plan:       ws.Plan,
			UsageCount: ws.UsageCount,
			UsageLimit: ws.UsageLimit,
		}
	}
	return nil
}
