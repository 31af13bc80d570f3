package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"ventureboard/internal/domain"
)

const taskColumns = `id,venture_id,title,COALESCE(description,''),status,priority,assigned_to,
estimated_cost,actual_cost,estimated_tokens,actual_tokens,tags,output,error,created_by,
created_at,updated_at,started_at,completed_at`

// priorityRank orders urgent before high before medium before low.
const priorityRank = `CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END`

func scanTask(sc interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var assignedTo, tags, output, taskErr, startedAt, completedAt sql.NullString
	err := sc.Scan(&t.ID, &t.VentureID, &t.Title, &t.Description, &t.Status, &t.Priority, &assignedTo,
		&t.EstimatedCost, &t.ActualCost, &t.EstimatedTokens, &t.ActualTokens, &tags, &output, &taskErr,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if assignedTo.Valid {
		t.AssignedTo = &assignedTo.String
	}
	if tags.Valid {
		t.Tags = decodeTags(tags.String)
	}
	if output.Valid {
		t.Output = &output.String
	}
	if taskErr.Valid {
		t.Error = &taskErr.String
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func decodeTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}

// EncodeTags serializes tags for storage; nil for an empty set.
func EncodeTags(tags []string) any {
	if len(tags) == 0 {
		return nil
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,venture_id,title,description,status,priority,assigned_to,
estimated_cost,actual_cost,estimated_tokens,actual_tokens,tags,output,error,created_by,created_at,updated_at,started_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.VentureID, t.Title, nullable(t.Description), t.Status, t.Priority, nullableStringPtr(t.AssignedTo),
		t.EstimatedCost, t.ActualCost, t.EstimatedTokens, t.ActualTokens, EncodeTags(t.Tags),
		nullableStringPtr(t.Output), nullableStringPtr(t.Error), t.CreatedBy,
		t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.StartedAt), nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

type TaskFilters struct {
	VentureID  string
	Status     string
	AssignedTo string
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.VentureID != "" {
		clauses = append(clauses, "venture_id=?")
		args = append(args, f.VentureID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// NextQueuedTask previews the claim candidate: oldest of the highest
// priority among unassigned queued tasks. The composite ORDER BY keeps
// the tie-break stable.
func (r Repo) NextQueuedTask(ctx context.Context) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE status='queue' AND assigned_to IS NULL
ORDER BY `+priorityRank+` ASC, created_at ASC, id ASC
LIMIT 1`))
}

// ClaimNextTaskTx selects and assigns the claim candidate in one
// conditional UPDATE. The subquery and guard predicate evaluate under
// the write lock, so concurrent claims cannot take the same row. Must
// run as the first statement of its transaction.
func (r Repo) ClaimNextTaskTx(ctx context.Context, tx *sql.Tx, agentID, now string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `UPDATE tasks SET status='active', assigned_to=?, started_at=?, updated_at=?
WHERE id = (SELECT id FROM tasks WHERE status='queue' AND assigned_to IS NULL
	ORDER BY `+priorityRank+` ASC, created_at ASC, id ASC LIMIT 1)
AND status='queue' AND assigned_to IS NULL
RETURNING id`, agentID, now, now).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}

// TaskOutcome captures the completion-path column writes.
type TaskOutcome struct {
	Status      string
	Output      *string
	Error       *string
	ActualCost  *float64
	AssignedTo  *string
	CompletedAt *string
}

func (r Repo) ApplyTaskOutcomeTx(ctx context.Context, tx *sql.Tx, id string, o TaskOutcome, now string) error {
	fields := []string{"status=?", "output=?", "error=?", "assigned_to=?", "completed_at=?", "updated_at=?"}
	args := []any{o.Status, nullableStringPtr(o.Output), nullableStringPtr(o.Error),
		nullableStringPtr(o.AssignedTo), nullableStringPtr(o.CompletedAt), now}
	if o.ActualCost != nil {
		fields = append(fields, "actual_cost=?")
		args = append(args, *o.ActualCost)
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TaskUpdate carries PATCH fields; nil means "leave unchanged".
type TaskUpdate struct {
	Title           *string
	Description     *string
	Status          *string
	Priority        *string
	VentureID       *string
	AssignedTo      *string
	EstimatedCost   *float64
	ActualCost      *float64
	EstimatedTokens *int64
	ActualTokens    *int64
	Tags            []string
	TagsSet         bool
	Output          *string
	Error           *string
}

func (r Repo) UpdateTask(ctx context.Context, id string, u TaskUpdate, now string) error {
	var (
		fields []string
		args   []any
	)
	if u.Title != nil {
		fields = append(fields, "title=?")
		args = append(args, *u.Title)
	}
	if u.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*u.Description))
	}
	if u.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *u.Status)
	}
	if u.Priority != nil {
		fields = append(fields, "priority=?")
		args = append(args, *u.Priority)
	}
	if u.VentureID != nil {
		fields = append(fields, "venture_id=?")
		args = append(args, *u.VentureID)
	}
	if u.AssignedTo != nil {
		fields = append(fields, "assigned_to=?")
		args = append(args, nullable(*u.AssignedTo))
	}
	if u.EstimatedCost != nil {
		fields = append(fields, "estimated_cost=?")
		args = append(args, *u.EstimatedCost)
	}
	if u.ActualCost != nil {
		fields = append(fields, "actual_cost=?")
		args = append(args, *u.ActualCost)
	}
	if u.EstimatedTokens != nil {
		fields = append(fields, "estimated_tokens=?")
		args = append(args, *u.EstimatedTokens)
	}
	if u.ActualTokens != nil {
		fields = append(fields, "actual_tokens=?")
		args = append(args, *u.ActualTokens)
	}
	if u.TagsSet {
		fields = append(fields, "tags=?")
		args = append(args, EncodeTags(u.Tags))
	}
	if u.Output != nil {
		fields = append(fields, "output=?")
		args = append(args, nullable(*u.Output))
	}
	if u.Error != nil {
		fields = append(fields, "error=?")
		args = append(args, nullable(*u.Error))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, now, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountTasksForVenture(ctx context.Context, ventureID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE venture_id=?`, ventureID).Scan(&n)
	return n, err
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
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
