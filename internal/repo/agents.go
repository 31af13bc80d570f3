package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ventureboard/internal/domain"
)

const agentColumns = `id,name,status,COALESCE(model,''),current_task,tokens_used,max_tokens,last_active_at,created_at`

func scanAgent(sc interface{ Scan(...any) error }) (domain.Agent, error) {
	var a domain.Agent
	var currentTask sql.NullString
	err := sc.Scan(&a.ID, &a.Name, &a.Status, &a.Model, &currentTask,
		&a.TokensUsed, &a.MaxTokens, &a.LastActiveAt, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if currentTask.Valid {
		a.CurrentTask = &currentTask.String
	}
	return a, nil
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return scanAgent(r.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=?`, id))
}

func (r Repo) GetAgentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Agent, error) {
	return scanAgent(tx.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=?`, id))
}

func (r Repo) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY last_active_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// UpsertAgent creates the agent or refreshes its mutable fields.
func (r Repo) UpsertAgent(ctx context.Context, a domain.Agent) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agents(id,name,status,model,current_task,tokens_used,max_tokens,last_active_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, status=excluded.status, model=excluded.model,
current_task=excluded.current_task, tokens_used=excluded.tokens_used, last_active_at=excluded.last_active_at`,
		a.ID, a.Name, a.Status, nullable(a.Model), nullableStringPtr(a.CurrentTask),
		a.TokensUsed, a.MaxTokens, a.LastActiveAt, a.CreatedAt)
	return err
}

// EnsureAgentTx inserts a minimal row when the agent is unknown, so a
// claim from an unregistered worker does not fail mid-transaction.
func (r Repo) EnsureAgentTx(ctx context.Context, tx *sql.Tx, id, name string, maxTokens int64, now string) error {
	if name == "" {
		name = id
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO agents(id,name,status,max_tokens,last_active_at,created_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO NOTHING`, id, name, "online", maxTokens, now, now)
	return err
}

// SetAgentBusyTx records that the agent holds the given task.
func (r Repo) SetAgentBusyTx(ctx context.Context, tx *sql.Tx, id, taskTitle, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE agents SET status='busy', current_task=?, last_active_at=? WHERE id=?`,
		taskTitle, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetAgentTx puts the agent back online with no current task.
func (r Repo) ResetAgentTx(ctx context.Context, tx *sql.Tx, id, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE agents SET status='online', current_task=NULL, last_active_at=? WHERE id=?`,
		now, id)
	return err
}

// AgentUpdate carries PATCH fields; nil means "leave unchanged".
type AgentUpdate struct {
	Name        *string
	Status      *string
	Model       *string
	CurrentTask *string
	TokensUsed  *int64
	MaxTokens   *int64
}

func (r Repo) UpdateAgent(ctx context.Context, id string, u AgentUpdate, now string) error {
	var (
		fields []string
		args   []any
	)
	if u.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *u.Name)
	}
	if u.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *u.Status)
	}
	if u.Model != nil {
		fields = append(fields, "model=?")
		args = append(args, nullable(*u.Model))
	}
	if u.CurrentTask != nil {
		fields = append(fields, "current_task=?")
		args = append(args, nullable(*u.CurrentTask))
	}
	if u.TokensUsed != nil {
		fields = append(fields, "tokens_used=?")
		args = append(args, *u.TokensUsed)
	}
	if u.MaxTokens != nil {
		fields = append(fields, "max_tokens=?")
		args = append(args, *u.MaxTokens)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "last_active_at=?")
	args = append(args, now, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE agents SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteAgent(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM agents WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountAgentsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM agents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
