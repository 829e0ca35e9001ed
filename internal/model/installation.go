package model

import (
	"time"
)

// Installation records one OAuth installation event. A workspace that is
// reinstalled keeps a single Workspace row but accumulates Installation
// events.
type Installation struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	WorkspaceID uint      `json:"workspace_id" gorm:"index;not null"`
	TeamID      string    `json:"team_id" gorm:"type:varchar(32);index"`
	InstallerID string    `json:"installer_id" gorm:"type:varchar(32)"`
	Scope       string    `json:"scope" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
}
