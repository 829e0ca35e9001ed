package store

import (
	"fmt"
	"time"

	"redscout/internal/model"
	"redscout/prometheus"
)

// WorkspaceSummary is one row of the admin workspace listing: the record
// itself plus aggregated counts over its logs.
type WorkspaceSummary struct {
	model.Workspace
	UserCount     int64 `json:"user_count"`
	LogCount      int64 `json:"log_count"`
	FailedCount   int64 `json:"failed_count"`
	InstallEvents int64 `json:"install_events"`
}

// ListWorkspaces returns all workspaces (active and disabled) with
// aggregated usage counts, newest installation first. Credentials are not
// decrypted for admin listings.
func (s *Store) ListWorkspaces() ([]WorkspaceSummary, error) {
	defer prometheus.TrackDBOperation("list_workspaces")(time.Now())

	var workspaces []model.Workspace
	if err := s.db.Order("installed_at desc").Find(&workspaces).Error; err != nil {
		return nil, fmt.Errorf("store: list workspaces: %w", err)
	}

	summaries := make([]WorkspaceSummary, 0, len(workspaces))
	for _, ws := range workspaces {
		summary := WorkspaceSummary{Workspace: ws}
		if err := s.db.Model(&model.WorkspaceUser{}).Where("workspace_id = ?", ws.ID).Count(&summary.UserCount).Error; err != nil {
			return nil, fmt.Errorf("store: count users: %w", err)
		}
		if err := s.db.Model(&model.UsageLogEntry{}).Where("workspace_id = ?", ws.ID).Count(&summary.LogCount).Error; err != nil {
			return nil, fmt.Errorf("store: count logs: %w", err)
		}
		if err := s.db.Model(&model.UsageLogEntry{}).Where("workspace_id = ? AND success = ?", ws.ID, false).Count(&summary.FailedCount).Error; err != nil {
			return nil, fmt.Errorf("store: count failures: %w", err)
		}
		if err := s.db.Model(&model.Installation{}).Where("workspace_id = ?", ws.ID).Count(&summary.InstallEvents).Error; err != nil {
			return nil, fmt.Errorf("store: count installs: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// ListUsageLogs returns the most recent usage log entries for a workspace
func (s *Store) ListUsageLogs(workspaceID uint, limit int) ([]model.UsageLogEntry, error) {
	defer prometheus.TrackDBOperation("list_usage_logs")(time.Now())

	if limit <= 0 {
		limit = 100
	}
	var entries []model.UsageLogEntry
	err := s.db.Where("workspace_id = ?", workspaceID).
		Order("created_at desc").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("store: list usage logs: %w", err)
	}
	return entries, nil
}

// BillingSummary aggregates active workspaces per plan with the projected
// monthly revenue.
type BillingSummary struct {
	PlanCounts     map[string]int64 `json:"plan_counts"`
	ActiveTotal    int64            `json:"active_total"`
	MonthlyRevenue int              `json:"monthly_revenue_usd"`
	TotalSearches  int64            `json:"total_searches"`
}

// Billing computes the billing summary over active workspaces
func (s *Store) Billing() (*BillingSummary, error) {
	defer prometheus.TrackDBOperation("billing")(time.Now())

	summary := &BillingSummary{PlanCounts: make(map[string]int64)}
	for plan, details := range model.Plans {
		var count int64
		err := s.db.Model(&model.Workspace{}).
			Where("plan = ? AND active = ?", plan, true).Count(&count).Error
		if err != nil {
			return nil, fmt.Errorf("store: billing counts: %w", err)
		}
		summary.PlanCounts[plan] = count
		summary.ActiveTotal += count
		summary.MonthlyRevenue += int(count) * details.PriceUSD
	}

	err := s.db.Model(&model.UsageLogEntry{}).Count(&summary.TotalSearches).Error
	if err != nil {
		return nil, fmt.Errorf("store: billing searches: %w", err)
	}
	return summary, nil
}
