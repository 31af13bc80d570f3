// Package seed populates a fresh database with demo ventures, tasks
// and agents so the dashboard has something to show.
package seed

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"ventureboard/internal/activity"
	"ventureboard/internal/domain"
	"ventureboard/internal/repo"
)

func strp(s string) *string { return &s }

// Apply inserts the demo dataset. Existing rows with the same IDs are
// left alone, so running it twice is harmless.
func Apply(ctx context.Context, db *sql.DB) error {
	r := repo.Repo{DB: db}
	w := activity.Writer{DB: db}
	now := time.Now().UTC().Format(time.RFC3339)

	ventures := []domain.Venture{
		{
			ID:            "venture-1",
			Name:          "E-Commerce Automation",
			Description:   "AI-driven DTC/E-commerce automation platform",
			Status:        "active",
			Priority:      "high",
			Icon:          "🛒",
			CapitalBudget: 200,
			CapitalSpent:  85.50,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		{
			ID:            "venture-2",
			Name:          "Allbirds Automation",
			Description:   "Automated monitoring and analytics for Allbirds",
			Status:        "active",
			Priority:      "medium",
			Icon:          "👟",
			CapitalBudget: 100,
			CapitalSpent:  42.25,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
	for _, v := range ventures {
		if err := r.InsertVenture(ctx, v); err != nil && !isConflict(err) {
			return err
		}
	}

	agents := []domain.Agent{
		{
			ID:           "agent-main",
			Name:         "Main Agent",
			Status:       "online",
			Model:        "claude-sonnet-4-5-thinking",
			TokensUsed:   45000,
			MaxTokens:    200000,
			LastActiveAt: now,
			CreatedAt:    now,
		},
	}
	for _, a := range agents {
		if err := r.UpsertAgent(ctx, a); err != nil {
			return err
		}
	}

	tasks := []domain.Task{
		{
			ID:              "task-1",
			VentureID:       "venture-2",
			Title:           "Research Allbirds product catalog",
			Description:     "Scrape and analyze current product offerings",
			Status:          "queue",
			Priority:        "high",
			EstimatedCost:   5.00,
			EstimatedTokens: 50000,
			Tags:            []string{"research", "scraping"},
			CreatedBy:       "user",
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		{
			ID:              "task-2",
			VentureID:       "venture-2",
			Title:           "Build pricing comparison tool",
			Description:     "Create tool to compare Allbirds pricing across retailers",
			Status:          "queue",
			Priority:        "medium",
			EstimatedCost:   8.50,
			EstimatedTokens: 85000,
			Tags:            []string{"development", "tools"},
			CreatedBy:       "user",
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		{
			ID:              "task-3",
			VentureID:       "venture-1",
			Title:           "Implement payment gateway",
			Description:     "Integrate Stripe for e-commerce platform",
			Status:          "active",
			Priority:        "high",
			AssignedTo:      strp("agent-main"),
			EstimatedCost:   15.00,
			ActualCost:      8.25,
			EstimatedTokens: 150000,
			ActualTokens:    82500,
			StartedAt:       &now,
			Tags:            []string{"integration", "payment"},
			CreatedBy:       "user",
			CreatedAt:       now,
			UpdatedAt:       now,
		},
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, t := range tasks {
		if err := r.InsertTaskTx(ctx, tx, t); err != nil {
			if isConflict(err) {
				continue
			}
			return err
		}
	}
	if err := w.Append(ctx, tx, activity.Entry{
		Type:        "task_started",
		Level:       "info",
		Title:       "Task started",
		Description: `Agent Main Agent started working on "Implement payment gateway"`,
		VentureID:   "venture-1",
		TaskID:      "task-3",
		AgentID:     "agent-main",
	}); err != nil {
		return err
	}
	if err := w.Append(ctx, tx, activity.Entry{
		Type:        "agent_online",
		Level:       "success",
		Title:       "Agent online",
		Description: "Main Agent connected and ready",
		AgentID:     "agent-main",
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func isConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
