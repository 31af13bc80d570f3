package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"ventureboard/internal/domain"
)

const activityColumns = `id,type,level,title,COALESCE(description,''),metadata_json,venture_id,task_id,agent_id,created_at`

func scanActivity(sc interface{ Scan(...any) error }) (domain.Activity, error) {
	var a domain.Activity
	var metadata, ventureID, taskID, agentID sql.NullString
	err := sc.Scan(&a.ID, &a.Type, &a.Level, &a.Title, &a.Description,
		&metadata, &ventureID, &taskID, &agentID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
			return a, fmt.Errorf("decode activity metadata: %w", err)
		}
	}
	if ventureID.Valid {
		a.VentureID = &ventureID.String
	}
	if taskID.Valid {
		a.TaskID = &taskID.String
	}
	if agentID.Valid {
		a.AgentID = &agentID.String
	}
	return a, nil
}

// ListActivities returns the newest entries first.
func (r Repo) ListActivities(ctx context.Context, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+activityColumns+` FROM activities ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) CountActivities(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM activities`).Scan(&n)
	return n, err
}

// AttachActivityRefs resolves the venture/task/agent referenced by each
// entry so feed consumers get embedded records in one response.
func (r Repo) AttachActivityRefs(ctx context.Context, items []domain.Activity) error {
	ventures := map[string]*domain.Venture{}
	tasks := map[string]*domain.Task{}
	agents := map[string]*domain.Agent{}
	for i := range items {
		a := &items[i]
		if a.VentureID != nil {
			v, ok := ventures[*a.VentureID]
			if !ok {
				got, err := r.GetVenture(ctx, *a.VentureID)
				if err == nil {
					v = &got
				} else if err != ErrNotFound {
					return err
				}
				ventures[*a.VentureID] = v
			}
			a.Venture = v
		}
		if a.TaskID != nil {
			t, ok := tasks[*a.TaskID]
			if !ok {
				got, err := r.GetTask(ctx, *a.TaskID)
				if err == nil {
					t = &got
				} else if err != ErrNotFound {
					return err
				}
				tasks[*a.TaskID] = t
			}
			a.Task = t
		}
		if a.AgentID != nil {
			ag, ok := agents[*a.AgentID]
			if !ok {
				got, err := r.GetAgent(ctx, *a.AgentID)
				if err == nil {
					ag = &got
				} else if err != ErrNotFound {
					return err
				}
				agents[*a.AgentID] = ag
			}
			a.Agent = ag
		}
	}
	return nil
}
