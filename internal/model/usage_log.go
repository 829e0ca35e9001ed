package model

import (
	"time"
)

// UsageLogEntry is an append-only audit record of one command invocation.
// Rows are never mutated after creation.
type UsageLogEntry struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	WorkspaceID uint      `json:"workspace_id" gorm:"index;not null"`
	SlackUserID string    `json:"slack_user_id" gorm:"type:varchar(32);index"`
	Command     string    `json:"command" gorm:"type:text"`
	SearchTerm  string    `json:"search_term" gorm:"type:text"`
	ResultCount int       `json:"result_count"`
	Success     bool      `json:"success"`
	Error       string    `json:"error" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`

	Workspace Workspace `json:"-" gorm:"foreignKey:WorkspaceID"`
}
