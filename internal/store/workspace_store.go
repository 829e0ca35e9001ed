package store

import (
	"errors"
	"fmt"
	"time"

	"redscout/internal/model"
	"redscout/pkg/database"
	"redscout/pkg/secret"
	"redscout/prometheus"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrWorkspaceNotFound is returned when no active workspace exists for a
// team id.
var ErrWorkspaceNotFound = errors.New("store: workspace not found")

// Store is the durable record of installed workspaces, their users and
// their usage history. All mutations are transactional; the usage counter
// in particular must never lose updates under concurrent commands.
type Store struct {
	db    *gorm.DB
	vault *secret.Vault
	log   *zap.Logger
}

// New creates a Store backed by the given database and credential vault
func New(db *gorm.DB, vault *secret.Vault, log *zap.Logger) *Store {
	return &Store{db: db, vault: vault, log: log}
}

// Migrate creates or updates the store's tables
func (s *Store) Migrate() error {
	return database.MigrateModels(s.db,
		&model.Workspace{},
		&model.WorkspaceUser{},
		&model.UsageLogEntry{},
		&model.Installation{},
	)
}

// UpsertInput carries the fields captured during an OAuth installation
type UpsertInput struct {
	TeamID          string
	TeamName        string
	BotToken        string
	BotUserID       string
	Scope           string
	InstallerUserID string
}

// UpsertWorkspace inserts or updates the workspace keyed by team id and
// appends an installation event. Reinstallation refreshes the credentials
// of the existing row; it never creates a duplicate. Returns the internal
// workspace id.
func (s *Store) UpsertWorkspace(in UpsertInput) (uint, error) {
	defer prometheus.TrackDBOperation("upsert_workspace")(time.Now())

	encToken, err := s.vault.Encrypt(in.BotToken)
	if err != nil {
		return 0, fmt.Errorf("store: encrypt bot token: %w", err)
	}

	var workspaceID uint
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var ws model.Workspace
		err := tx.Where("team_id = ?", in.TeamID).First(&ws).Error
		switch {
		case err == nil:
			ws.TeamName = in.TeamName
			ws.BotUserID = in.BotUserID
			ws.Scope = in.Scope
			ws.EncryptedToken = encToken
			ws.InstallerUserID = in.InstallerUserID
			ws.Active = true
			if err := tx.Save(&ws).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			plan := model.Plans[model.PlanFree]
			ws = model.Workspace{
				TeamID:          in.TeamID,
				TeamName:        in.TeamName,
				BotUserID:       in.BotUserID,
				Scope:           in.Scope,
				EncryptedToken:  encToken,
				InstallerUserID: in.InstallerUserID,
				Plan:            model.PlanFree,
				UsageLimit:      plan.SearchesPerMonth,
				Active:          true,
				Settings:        "{}",
				InstalledAt:     time.Now().UTC(),
			}
			if err := tx.Create(&ws).Error; err != nil {
				return err
			}
		default:
			return err
		}

		event := model.Installation{
			WorkspaceID: ws.ID,
			TeamID:      in.TeamID,
			InstallerID: in.InstallerUserID,
			Scope:       in.Scope,
		}
		if err := tx.Create(&event).Error; err != nil {
			return err
		}

		workspaceID = ws.ID
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: upsert workspace: %w", err)
	}
	return workspaceID, nil
}

// GetWorkspace returns the active workspace for a team id with its
// credentials decrypted. A credential that cannot be decrypted is logged
// and left empty; the lookup itself still succeeds.
func (s *Store) GetWorkspace(teamID string) (*model.Workspace, error) {
	defer prometheus.TrackDBOperation("get_workspace")(time.Now())

	var ws model.Workspace
	err := s.db.Where("team_id = ? AND active = ?", teamID, true).First(&ws).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get workspace: %w", err)
	}

	s.decryptCredentials(&ws)
	return &ws, nil
}

func (s *Store) decryptCredentials(ws *model.Workspace) {
	if ws.EncryptedToken != "" {
		token, err := s.vault.Decrypt(ws.EncryptedToken)
		if err != nil {
			s.log.Warn("bot token decryption failed, treating as absent",
				zap.String("team_id", ws.TeamID), zap.Error(err))
		} else {
			ws.BotToken = token
		}
	}
	if ws.EncryptedWebhook != "" {
		webhook, err := s.vault.Decrypt(ws.EncryptedWebhook)
		if err != nil {
			s.log.Warn("webhook decryption failed, treating as absent",
				zap.String("team_id", ws.TeamID), zap.Error(err))
		} else {
			ws.WebhookURL = webhook
		}
	}
}

// EnsureUser returns the workspace user for a slack user id, creating it
// on first contact.
func (s *Store) EnsureUser(workspaceID uint, slackUserID, displayName string) (*model.WorkspaceUser, error) {
	defer prometheus.TrackDBOperation("ensure_user")(time.Now())

	var user model.WorkspaceUser
	err := s.db.Where(model.WorkspaceUser{WorkspaceID: workspaceID, SlackUserID: slackUserID}).
		Attrs(model.WorkspaceUser{DisplayName: displayName}).
		FirstOrCreate(&user).Error
	if err != nil {
		return nil, fmt.Errorf("store: ensure user: %w", err)
	}
	return &user, nil
}

// RecordUsage appends a usage log entry and increments the workspace usage
// counter in a single transaction. The increment uses a SQL expression so
// concurrent commands from the same workspace cannot lose updates.
func (s *Store) RecordUsage(workspaceID uint, slackUserID, command, searchTerm string, resultCount int, success bool, errMsg string) error {
	defer prometheus.TrackDBOperation("record_usage")(time.Now())

	now := time.Now().UTC()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		entry := model.UsageLogEntry{
			WorkspaceID: workspaceID,
			SlackUserID: slackUserID,
			Command:     command,
			SearchTerm:  searchTerm,
			ResultCount: resultCount,
			Success:     success,
			Error:       errMsg,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		res := tx.Model(&model.Workspace{}).
			Where("id = ?", workspaceID).
			Updates(map[string]interface{}{
				"usage_count":    gorm.Expr("usage_count + 1"),
				"last_active_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrWorkspaceNotFound
		}

		return tx.Model(&model.WorkspaceUser{}).
			Where("workspace_id = ? AND slack_user_id = ?", workspaceID, slackUserID).
			Update("last_used_at", now).Error
	})
	if err != nil {
		return fmt.Errorf("store: record usage: %w", err)
	}
	return nil
}

// CountUserUsageSince returns how many commands the user has issued in the
// workspace since the cutoff, and the timestamp of the oldest entry in the
// window (zero when there are none). Read-only; used by the rate limiter.
func (s *Store) CountUserUsageSince(workspaceID uint, slackUserID string, since time.Time) (int64, time.Time, error) {
	defer prometheus.TrackDBOperation("count_usage")(time.Now())

	var count int64
	q := s.db.Model(&model.UsageLogEntry{}).
		Where("workspace_id = ? AND slack_user_id = ? AND created_at >= ?", workspaceID, slackUserID, since)
	if err := q.Count(&count).Error; err != nil {
		return 0, time.Time{}, fmt.Errorf("store: count usage: %w", err)
	}
	if count == 0 {
		return 0, time.Time{}, nil
	}

	var oldest model.UsageLogEntry
	err := s.db.Where("workspace_id = ? AND slack_user_id = ? AND created_at >= ?", workspaceID, slackUserID, since).
		Order("created_at asc").First(&oldest).Error
	if err != nil {
		return count, time.Time{}, fmt.Errorf("store: oldest usage: %w", err)
	}
	return count, oldest.CreatedAt, nil
}

// SetActive enables or disables a workspace. Disabling is a soft delete:
// the row and its history remain.
func (s *Store) SetActive(teamID string, active bool) error {
	defer prometheus.TrackDBOperation("set_active")(time.Now())

	res := s.db.Model(&model.Workspace{}).Where("team_id = ?", teamID).Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("store: set active: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrWorkspaceNotFound
	}
	return nil
}

// ResetUsage zeroes the monthly usage counter for a workspace. There is no
// scheduled rollover; this is the explicit admin action.
func (s *Store) ResetUsage(teamID string) error {
	defer prometheus.TrackDBOperation("reset_usage")(time.Now())

	res := s.db.Model(&model.Workspace{}).Where("team_id = ?", teamID).Update("usage_count", 0)
	if res.Error != nil {
		return fmt.Errorf("store: reset usage: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrWorkspaceNotFound
	}
	return nil
}
