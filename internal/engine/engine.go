package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ventureboard/internal/activity"
	"ventureboard/internal/config"
	"ventureboard/internal/domain"
	"ventureboard/internal/repo"
)

// ErrNoTaskAvailable reports an empty queue to a claiming agent. This
// is an expected outcome, not a fault.
var ErrNoTaskAvailable = errors.New("no available tasks")

// ErrNotAssigned rejects a completion from an agent that does not hold
// the task. The message is surfaced verbatim to the caller.
var ErrNotAssigned = errors.New("Task is not assigned to this agent")

// ErrVentureHasTasks rejects deleting a venture that still owns tasks.
var ErrVentureHasTasks = errors.New("venture has tasks; delete or move them first")

var validStatuses = map[string]bool{"queue": true, "active": true, "completed": true, "failed": true, "cancelled": true}
var validPriorities = map[string]bool{"low": true, "medium": true, "high": true, "urgent": true}
var validVentureStatuses = map[string]bool{"active": true, "paused": true, "completed": true, "archived": true}
var validAgentStatuses = map[string]bool{"online": true, "offline": true, "busy": true, "error": true}
var validLevels = map[string]bool{"info": true, "success": true, "warning": true, "error": true}

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Activities activity.Writer
	Config     *config.Config
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Activities: activity.Writer{DB: db},
		Config:     cfg,
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// activities returns the writer with the engine's clock, so activity
// timestamps line up with the mutation they describe.
func (e Engine) activities() activity.Writer {
	w := e.Activities
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// Claim atomically hands the next eligible queued task to an agent:
// the task flips to active, an activity is appended and the agent row
// goes busy, all in one transaction. Returns ErrNoTaskAvailable when
// the queue is empty.
func (e Engine) Claim(ctx context.Context, agentID, agentName string) (domain.Task, error) {
	if strings.TrimSpace(agentID) == "" {
		return domain.Task{}, fmt.Errorf("agent id is required")
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	// First statement of the transaction: the select-and-mark happens
	// under the write lock in one indivisible step.
	taskID, err := e.Repo.ClaimNextTaskTx(ctx, tx, agentID, now)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Task{}, ErrNoTaskAvailable
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("claim task: %w", err)
	}
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	name := agentName
	if name == "" {
		name = agentID
	}
	if err := e.Repo.EnsureAgentTx(ctx, tx, agentID, agentName, e.Config.AgentMaxTokens(), now); err != nil {
		return domain.Task{}, err
	}
	if err := e.activities().Append(ctx, tx, activity.Entry{
		Type:        "task_started",
		Level:       "info",
		Title:       "Task started",
		Description: fmt.Sprintf("Agent %s started working on %q", name, t.Title),
		VentureID:   t.VentureID,
		TaskID:      t.ID,
		AgentID:     agentID,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.SetAgentBusyTx(ctx, tx, agentID, t.Title, now); err != nil {
		return domain.Task{}, err
	}
	v, err := e.Repo.GetVentureTx(ctx, tx, t.VentureID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.Venture = &v
	return t, nil
}

// CompleteOptions are parameters for closing out an active assignment.
type CompleteOptions struct {
	TaskID       string
	AgentID      string
	Output       *string
	ActualCost   *float64
	ErrorMessage *string
}

// Complete closes out a task: on success it becomes completed and the
// owning venture's spend grows by the actual cost; on reported failure
// it goes back to queue unassigned. Either way the agent is reset to
// online. All writes commit together or not at all.
func (e Engine) Complete(ctx context.Context, opts CompleteOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.TaskID) == "" || strings.TrimSpace(opts.AgentID) == "" {
		return domain.Task{}, fmt.Errorf("task id and agent id are required")
	}
	// capital_spent only ever accumulates.
	if opts.ActualCost != nil && *opts.ActualCost < 0 {
		return domain.Task{}, fmt.Errorf("invalid actual cost %v: must not be negative", *opts.ActualCost)
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.AssignedTo == nil || *t.AssignedTo != opts.AgentID {
		return domain.Task{}, ErrNotAssigned
	}

	failed := opts.ErrorMessage != nil && *opts.ErrorMessage != ""
	outcome := repo.TaskOutcome{ActualCost: opts.ActualCost}
	var entry activity.Entry
	if failed {
		outcome.Status = "queue"
		outcome.Error = opts.ErrorMessage
		entry = activity.Entry{
			Type:        "error",
			Level:       "error",
			Title:       "Task failed",
			Description: fmt.Sprintf("Task %q failed: %s", t.Title, *opts.ErrorMessage),
			VentureID:   t.VentureID,
			TaskID:      t.ID,
			AgentID:     opts.AgentID,
		}
	} else {
		outcome.Status = "completed"
		outcome.Output = opts.Output
		outcome.AssignedTo = t.AssignedTo
		outcome.CompletedAt = &now
		entry = activity.Entry{
			Type:        "task_completed",
			Level:       "success",
			Title:       "Task completed",
			Description: fmt.Sprintf("Task %q completed successfully", t.Title),
			VentureID:   t.VentureID,
			TaskID:      t.ID,
			AgentID:     opts.AgentID,
		}
		if opts.ActualCost != nil {
			entry.Metadata = activity.Metadata{"cost": *opts.ActualCost}
		}
	}
	if err := e.Repo.ApplyTaskOutcomeTx(ctx, tx, t.ID, outcome, now); err != nil {
		return domain.Task{}, fmt.Errorf("apply outcome: %w", err)
	}
	if !failed && opts.ActualCost != nil && *opts.ActualCost != 0 {
		if err := e.Repo.AddVentureSpendTx(ctx, tx, t.VentureID, *opts.ActualCost, now); err != nil {
			return domain.Task{}, fmt.Errorf("record venture spend: %w", err)
		}
	}
	if err := e.activities().Append(ctx, tx, entry); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.ResetAgentTx(ctx, tx, opts.AgentID, now); err != nil {
		return domain.Task{}, err
	}
	updated, err := e.Repo.GetTaskTx(ctx, tx, t.ID)
	if err != nil {
		return domain.Task{}, err
	}
	v, err := e.Repo.GetVentureTx(ctx, tx, t.VentureID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	updated.Venture = &v
	return updated, nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	VentureID       string
	Title           string
	Description     string
	Status          string
	Priority        string
	EstimatedCost   float64
	EstimatedTokens int64
	Tags            []string
	CreatedBy       string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, fmt.Errorf("title is required")
	}
	if opts.VentureID == "" {
		return domain.Task{}, fmt.Errorf("venture id is required")
	}
	if opts.Status == "" {
		opts.Status = "queue"
	}
	if !validStatuses[opts.Status] {
		return domain.Task{}, fmt.Errorf("invalid task status %q", opts.Status)
	}
	if opts.Priority == "" {
		opts.Priority = e.Config.TaskPriority()
	}
	if !validPriorities[opts.Priority] {
		return domain.Task{}, fmt.Errorf("invalid task priority %q", opts.Priority)
	}
	if opts.CreatedBy == "" {
		opts.CreatedBy = "user"
	}
	v, err := e.Repo.GetVenture(ctx, opts.VentureID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.nowString()
	t := domain.Task{
		ID:              uuid.New().String(),
		VentureID:       opts.VentureID,
		Title:           opts.Title,
		Description:     opts.Description,
		Status:          opts.Status,
		Priority:        opts.Priority,
		EstimatedCost:   opts.EstimatedCost,
		EstimatedTokens: opts.EstimatedTokens,
		Tags:            opts.Tags,
		CreatedBy:       opts.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.activities().Append(ctx, tx, activity.Entry{
		Type:        "task_created",
		Level:       "info",
		Title:       "Task created",
		Description: fmt.Sprintf("Task %q was added to the queue", t.Title),
		VentureID:   t.VentureID,
		TaskID:      t.ID,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.Venture = &v
	return t, nil
}

func (e Engine) UpdateTask(ctx context.Context, id string, u repo.TaskUpdate) (domain.Task, error) {
	if id == "" {
		return domain.Task{}, fmt.Errorf("task id is required")
	}
	if u.Status != nil && !validStatuses[*u.Status] {
		return domain.Task{}, fmt.Errorf("invalid task status %q", *u.Status)
	}
	if u.Priority != nil && !validPriorities[*u.Priority] {
		return domain.Task{}, fmt.Errorf("invalid task priority %q", *u.Priority)
	}
	if u.VentureID != nil {
		if _, err := e.Repo.GetVenture(ctx, *u.VentureID); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Repo.UpdateTask(ctx, id, u, e.nowString()); err != nil {
		return domain.Task{}, err
	}
	return e.GetTask(ctx, id)
}

// GetTask loads the task with its venture embedded.
func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	v, err := e.Repo.GetVenture(ctx, t.VentureID)
	if err == nil {
		t.Venture = &v
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Task{}, err
	}
	return t, nil
}

// ListTasks loads tasks with ventures embedded.
func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	tasks, err := e.Repo.ListTasks(ctx, f)
	if err != nil {
		return nil, err
	}
	ventures := map[string]*domain.Venture{}
	for i := range tasks {
		v, ok := ventures[tasks[i].VentureID]
		if !ok {
			got, err := e.Repo.GetVenture(ctx, tasks[i].VentureID)
			if err == nil {
				v = &got
			} else if !errors.Is(err, repo.ErrNotFound) {
				return nil, err
			}
			ventures[tasks[i].VentureID] = v
		}
		tasks[i].Venture = v
	}
	return tasks, nil
}

func (e Engine) DeleteTask(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("task id is required")
	}
	return e.Repo.DeleteTask(ctx, id)
}

// ListVentures loads ventures newest first with their tasks embedded.
func (e Engine) ListVentures(ctx context.Context) ([]domain.Venture, error) {
	ventures, err := e.Repo.ListVentures(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{})
	if err != nil {
		return nil, err
	}
	byVenture := map[string][]domain.Task{}
	for _, t := range tasks {
		byVenture[t.VentureID] = append(byVenture[t.VentureID], t)
	}
	for i := range ventures {
		ventures[i].Tasks = byVenture[ventures[i].ID]
		ventures[i].TaskCount = len(ventures[i].Tasks)
	}
	return ventures, nil
}

// VentureCreateOptions are parameters for creating a venture.
type VentureCreateOptions struct {
	Name          string
	Description   string
	Status        string
	Priority      string
	Icon          string
	CapitalBudget float64
}

func (e Engine) CreateVenture(ctx context.Context, opts VentureCreateOptions) (domain.Venture, error) {
	if opts.Name == "" {
		return domain.Venture{}, fmt.Errorf("name is required")
	}
	if opts.Status == "" {
		opts.Status = "active"
	}
	if !validVentureStatuses[opts.Status] {
		return domain.Venture{}, fmt.Errorf("invalid venture status %q", opts.Status)
	}
	if opts.Priority == "" {
		opts.Priority = e.Config.VenturePriority()
	}
	if !validPriorities[opts.Priority] {
		return domain.Venture{}, fmt.Errorf("invalid venture priority %q", opts.Priority)
	}
	if opts.Icon == "" {
		opts.Icon = e.Config.VentureIcon()
	}
	now := e.nowString()
	v := domain.Venture{
		ID:            uuid.New().String(),
		Name:          opts.Name,
		Description:   opts.Description,
		Status:        opts.Status,
		Priority:      opts.Priority,
		Icon:          opts.Icon,
		CapitalBudget: opts.CapitalBudget,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.Repo.InsertVenture(ctx, v); err != nil {
		return domain.Venture{}, fmt.Errorf("insert venture: %w", err)
	}
	return v, nil
}

func (e Engine) UpdateVenture(ctx context.Context, id string, u repo.VentureUpdate) (domain.Venture, error) {
	if id == "" {
		return domain.Venture{}, fmt.Errorf("venture id is required")
	}
	if u.Status != nil && !validVentureStatuses[*u.Status] {
		return domain.Venture{}, fmt.Errorf("invalid venture status %q", *u.Status)
	}
	if u.Priority != nil && !validPriorities[*u.Priority] {
		return domain.Venture{}, fmt.Errorf("invalid venture priority %q", *u.Priority)
	}
	if err := e.Repo.UpdateVenture(ctx, id, u, e.nowString()); err != nil {
		return domain.Venture{}, err
	}
	return e.Repo.GetVenture(ctx, id)
}

// DeleteVenture rejects deletion while tasks still reference the
// venture; cascading would destroy task history.
func (e Engine) DeleteVenture(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("venture id is required")
	}
	n, err := e.Repo.CountTasksForVenture(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrVentureHasTasks
	}
	return e.Repo.DeleteVenture(ctx, id)
}

// AgentRegisterOptions are parameters for registering (or refreshing)
// an agent.
type AgentRegisterOptions struct {
	ID         string
	Name       string
	Status     string
	Model      string
	TokensUsed int64
	MaxTokens  int64
}

// RegisterAgent upserts the agent row, the handshake workers perform on
// startup.
func (e Engine) RegisterAgent(ctx context.Context, opts AgentRegisterOptions) (domain.Agent, error) {
	if opts.ID == "" {
		return domain.Agent{}, fmt.Errorf("agent id is required")
	}
	if opts.Name == "" {
		opts.Name = opts.ID
	}
	if opts.Status == "" {
		opts.Status = "offline"
	}
	if !validAgentStatuses[opts.Status] {
		return domain.Agent{}, fmt.Errorf("invalid agent status %q", opts.Status)
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = e.Config.AgentMaxTokens()
	}
	now := e.nowString()
	a := domain.Agent{
		ID:           opts.ID,
		Name:         opts.Name,
		Status:       opts.Status,
		Model:        opts.Model,
		TokensUsed:   opts.TokensUsed,
		MaxTokens:    opts.MaxTokens,
		LastActiveAt: now,
		CreatedAt:    now,
	}
	if err := e.Repo.UpsertAgent(ctx, a); err != nil {
		return domain.Agent{}, fmt.Errorf("upsert agent: %w", err)
	}
	return e.Repo.GetAgent(ctx, opts.ID)
}

func (e Engine) UpdateAgent(ctx context.Context, id string, u repo.AgentUpdate) (domain.Agent, error) {
	if id == "" {
		return domain.Agent{}, fmt.Errorf("agent id is required")
	}
	if u.Status != nil && !validAgentStatuses[*u.Status] {
		return domain.Agent{}, fmt.Errorf("invalid agent status %q", *u.Status)
	}
	if err := e.Repo.UpdateAgent(ctx, id, u, e.nowString()); err != nil {
		return domain.Agent{}, err
	}
	return e.Repo.GetAgent(ctx, id)
}

func (e Engine) DeleteAgent(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("agent id is required")
	}
	return e.Repo.DeleteAgent(ctx, id)
}

// LogActivity appends a standalone audit entry in its own transaction.
func (e Engine) LogActivity(ctx context.Context, entry activity.Entry) error {
	if entry.Type == "" || entry.Title == "" {
		return fmt.Errorf("activity type and title are required")
	}
	if entry.Level != "" && !validLevels[entry.Level] {
		return fmt.Errorf("invalid activity level %q", entry.Level)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.activities().Append(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// DashboardStats aggregates the numbers the dashboard header renders.
type DashboardStats struct {
	Ventures       int            `json:"ventures"`
	TasksByStatus  map[string]int `json:"tasksByStatus"`
	AgentsByStatus map[string]int `json:"agentsByStatus"`
	CapitalBudget  float64        `json:"capitalBudget"`
	CapitalSpent   float64        `json:"capitalSpent"`
	Activities     int            `json:"activities"`
}

func (e Engine) Stats(ctx context.Context) (DashboardStats, error) {
	var s DashboardStats
	ventures, err := e.Repo.ListVentures(ctx)
	if err != nil {
		return s, err
	}
	s.Ventures = len(ventures)
	for _, v := range ventures {
		s.CapitalBudget += v.CapitalBudget
		s.CapitalSpent += v.CapitalSpent
	}
	if s.TasksByStatus, err = e.Repo.CountTasksByStatus(ctx); err != nil {
		return s, err
	}
	if s.AgentsByStatus, err = e.Repo.CountAgentsByStatus(ctx); err != nil {
		return s, err
	}
	if s.Activities, err = e.Repo.CountActivities(ctx); err != nil {
		return s, err
	}
	return s, nil
}
