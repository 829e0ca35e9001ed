package model

import (
	"time"
)

// WorkspaceUser is a user known within a workspace, created lazily the
// first time the user issues a command. Tracked for per-user rate limiting
// and usage attribution.
type WorkspaceUser struct {
	ID                 uint       `json:"id" gorm:"primaryKey"`
	WorkspaceID        uint       `json:"workspace_id" gorm:"index:idx_workspace_user,unique;not null"`
	SlackUserID        string     `json:"slack_user_id" gorm:"type:varchar(32);index:idx_workspace_user,unique;not null"`
	DisplayName        string     `json:"display_name" gorm:"type:varchar(255)"`
	EncryptedUserToken string     `json:"-" gorm:"type:text"`
	IsAdmin            bool       `json:"is_admin" gorm:"default:false"`
	LastUsedAt         *time.Time `json:"last_used_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	Workspace Workspace `json:"-" gorm:"foreignKey:WorkspaceID"`
}
