package model

import (
	"time"
)

// Severity levels for notification integrations. Each level maps to a
// minimum result count before a notification fires.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityAlert   = "alert"
)

// SeverityThreshold returns the minimum result count implied by a severity
// level. Unknown levels behave like info.
func SeverityThreshold(severity string) int {
	switch severity {
	case SeverityWarning:
		return 25
	case SeverityAlert:
		return 100
	default:
		return 0
	}
}

// ValidSeverity reports whether the given severity level is known
func ValidSeverity(severity string) bool {
	switch severity {
	case SeverityInfo, SeverityWarning, SeverityAlert:
		return true
	}
	return false
}

// Integration is a configured notification target: a webhook plus the
// rules deciding when it fires. Integrations live in the file-backed
// notification store, not in the relational database; the webhook URL is
// encrypted before it is written out.
type Integration struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	EncryptedWebhookURL string    `json:"webhook_url"`
	Channel             string    `json:"channel"`
	Active              bool      `json:"active"`
	Severity            string    `json:"severity"`
	KeywordFilters      []string  `json:"keyword_filters"`
	MinPosts            int       `json:"min_posts"`
	CreatedBy           string    `json:"created_by"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// MinResultCount is the effective result-count gate: the stricter of the
// explicit min_posts setting and the severity-derived threshold.
func (i *Integration) MinResultCount() int {
	threshold := SeverityThreshold(i.Severity)
	if i.MinPosts > threshold {
		return i.MinPosts
	}
	return threshold
}

// AuditLogEntry is an append-only record of integration lifecycle and
// delivery events. The store keeps only the most recent entries.
type AuditLogEntry struct {
	ID            string    `json:"id"`
	IntegrationID string    `json:"integration_id"`
	Event         string    `json:"event"`
	Detail        string    `json:"detail"`
	Success       bool      `json:"success"`
	CreatedAt     time.Time `json:"created_at"`
}
