package model

import (
	"time"

	"gorm.io/gorm"
)

// Plan tiers mirror the public pricing table.
const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// PlanDetails describes one pricing tier
type PlanDetails struct {
	SearchesPerMonth int
	PriceUSD         int
}

// Plans is the pricing table: monthly search quota and price per tier.
var Plans = map[string]PlanDetails{
	PlanFree:       {SearchesPerMonth: 100, PriceUSD: 0},
	PlanPro:        {SearchesPerMonth: 1000, PriceUSD: 29},
	PlanEnterprise: {SearchesPerMonth: 10000, PriceUSD: 99},
}

// Workspace represents one installed Slack workspace (tenant). The bot
// token and webhook URL columns hold ciphertext only; plaintext never
// reaches the database.
type Workspace struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	TeamID           string         `json:"team_id" gorm:"type:varchar(32);uniqueIndex;not null"`
	TeamName         string         `json:"team_name" gorm:"type:varchar(255)"`
	BotUserID        string         `json:"bot_user_id" gorm:"type:varchar(32)"`
	Scope            string         `json:"scope" gorm:"type:text"`
	EncryptedToken   string         `json:"-" gorm:"type:text"`
	EncryptedWebhook string         `json:"-" gorm:"type:text"`
	InstallerUserID  string         `json:"installer_user_id" gorm:"type:varchar(32)"`
	Plan             string         `json:"plan" gorm:"type:varchar(20);default:'free'"`
	UsageCount       int            `json:"usage_count" gorm:"default:0"`
	UsageLimit       int            `json:"usage_limit" gorm:"default:100"`
	Active           bool           `json:"active" gorm:"default:true"`
	Settings         string         `json:"settings" gorm:"type:text"`
	InstalledAt      time.Time      `json:"installed_at"`
	LastActiveAt     *time.Time     `json:"last_active_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-" gorm:"index"`

	// Decrypted credentials, populated on read. Empty when the stored
	// ciphertext could not be opened.
	BotToken   string `json:"-" gorm:"-"`
	WebhookURL string `json:"-" gorm:"-"`
}

// QuotaExhausted reports whether the workspace has used up its monthly quota
func (w *Workspace) QuotaExhausted() bool {
	return w.UsageCount >= w.UsageLimit
}
