package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ventureboard/internal/activity"
	"ventureboard/internal/config"
	"ventureboard/internal/db"
	"ventureboard/internal/engine"
	"ventureboard/internal/migrate"
	"ventureboard/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) venture(t *testing.T) string {
	t.Helper()
	v, err := env.Engine.CreateVenture(env.Ctx, engine.VentureCreateOptions{Name: "Venture", CapitalBudget: 100})
	if err != nil {
		t.Fatalf("create venture: %v", err)
	}
	return v.ID
}

func (env testEnv) task(t *testing.T, ventureID, title, priority string) string {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		VentureID: ventureID,
		Title:     title,
		Priority:  priority,
	})
	if err != nil {
		t.Fatalf("create task %s: %v", title, err)
	}
	return task.ID
}

func TestClaimAssignsHighestPriorityFirst(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	env.task(t, vid, "low one", "low")
	urgentID := env.task(t, vid, "urgent one", "urgent")
	env.task(t, vid, "high one", "high")

	got, err := env.Engine.Claim(env.Ctx, "agent-1", "Agent One")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.ID != urgentID {
		t.Fatalf("claimed %s, want urgent task %s", got.ID, urgentID)
	}
	if got.Status != "active" {
		t.Fatalf("status = %s, want active", got.Status)
	}
	if got.AssignedTo == nil || *got.AssignedTo != "agent-1" {
		t.Fatalf("assignedTo = %v, want agent-1", got.AssignedTo)
	}
	if got.StartedAt == nil {
		t.Fatal("startedAt not set")
	}
	if got.Venture == nil || got.Venture.ID != vid {
		t.Fatalf("venture not embedded: %+v", got.Venture)
	}
}

func TestClaimOrdersFIFOWithinPriority(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	env.Engine.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	first := env.task(t, vid, "first", "medium")
	second := env.task(t, vid, "second", "medium")

	got1, err := env.Engine.Claim(env.Ctx, "agent-1", "")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	got2, err := env.Engine.Claim(env.Ctx, "agent-2", "")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if got1.ID != first || got2.ID != second {
		t.Fatalf("claim order = %s, %s; want %s, %s", got1.ID, got2.ID, first, second)
	}
}

func TestClaimEmptyQueue(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Claim(env.Ctx, "agent-1", "")
	if !errors.Is(err, engine.ErrNoTaskAvailable) {
		t.Fatalf("err = %v, want ErrNoTaskAvailable", err)
	}
}

func TestClaimNeverDoubleAssigns(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	const nTasks = 5
	for i := 0; i < nTasks; i++ {
		env.task(t, vid, "work", "medium")
	}

	const nAgents = 10
	var wg sync.WaitGroup
	results := make(chan string, nAgents)
	errs := make(chan error, nAgents)
	for i := 0; i < nAgents; i++ {
		wg.Add(1)
		agent := string(rune('a' + i))
		go func() {
			defer wg.Done()
			task, err := env.Engine.Claim(env.Ctx, "agent-"+agent, "")
			if err != nil {
				errs <- err
				return
			}
			results <- task.ID
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	seen := map[string]bool{}
	for id := range results {
		if seen[id] {
			t.Fatalf("task %s claimed twice", id)
		}
		seen[id] = true
	}
	if len(seen) != nTasks {
		t.Fatalf("claimed %d tasks, want %d", len(seen), nTasks)
	}
	for err := range errs {
		if !errors.Is(err, engine.ErrNoTaskAvailable) {
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
}

func TestClaimMarksAgentBusy(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	env.task(t, vid, "the work", "medium")

	if _, err := env.Engine.Claim(env.Ctx, "agent-1", "Agent One"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	a, err := env.Engine.Repo.GetAgent(env.Ctx, "agent-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if a.Status != "busy" {
		t.Fatalf("agent status = %s, want busy", a.Status)
	}
	if a.CurrentTask == nil || *a.CurrentTask != "the work" {
		t.Fatalf("currentTask = %v, want the work", a.CurrentTask)
	}
}

func TestCompleteSuccess(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	env.task(t, vid, "billable", "medium")
	claimed, err := env.Engine.Claim(env.Ctx, "agent-1", "")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	output := "all done"
	cost := 12.5
	done, err := env.Engine.Complete(env.Ctx, engine.CompleteOptions{
		TaskID:     claimed.ID,
		AgentID:    "agent-1",
		Output:     &output,
		ActualCost: &cost,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != "completed" {
		t.Fatalf("status = %s, want completed", done.Status)
	}
	if done.CompletedAt == nil {
		t.Fatal("completedAt not set")
	}
	if done.AssignedTo == nil || *done.AssignedTo != "agent-1" {
		t.Fatalf("assignedTo = %v, want agent-1 kept as history", done.AssignedTo)
	}
	if done.Output == nil || *done.Output != output {
		t.Fatalf("output = %v, want %q", done.Output, output)
	}
	if done.ActualCost != cost {
		t.Fatalf("actualCost = %v, want %v", done.ActualCost, cost)
	}

	v, err := env.Engine.Repo.GetVenture(env.Ctx, vid)
	if err != nil {
		t.Fatalf("get venture: %v", err)
	}
	if v.CapitalSpent != cost {
		t.Fatalf("capitalSpent = %v, want %v", v.CapitalSpent, cost)
	}

	a, err := env.Engine.Repo.GetAgent(env.Ctx, "agent-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if a.Status != "online" || a.CurrentTask != nil {
		t.Fatalf("agent not reset: status=%s currentTask=%v", a.Status, a.CurrentTask)
	}
}

func TestCompleteRejectsNegativeCost(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	env.task(t, vid, "refund attempt", "medium")
	claimed, err := env.Engine.Claim(env.Ctx, "agent-1", "")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	cost := -4.0
	_, err = env.Engine.Complete(env.Ctx, engine.CompleteOptions{
		TaskID: claimed.ID, AgentID: "agent-1", ActualCost: &cost,
	})
	if err == nil {
		t.Fatal("expected error for negative cost")
	}

	task, _ := env.Engine.Repo.GetTask(env.Ctx, claimed.ID)
	if task.Status != "active" {
		t.Fatalf("status = %s, want active", task.Status)
	}
	v, _ := env.Engine.Repo.GetVenture(env.Ctx, vid)
	if v.CapitalSpent != 0 {
		t.Fatalf("capitalSpent = %v, want 0", v.CapitalSpent)
	}
}

func TestCompleteFailureRequeues(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	env.task(t, vid, "flaky", "medium")
	claimed, err := env.Engine.Claim(env.Ctx, "agent-1", "")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	msg := "network timeout"
	back, err := env.Engine.Complete(env.Ctx, engine.CompleteOptions{
		TaskID:       claimed.ID,
		AgentID:      "agent-1",
		ErrorMessage: &msg,
	})
	if err != nil {
		t.Fatalf("complete with error: %v", err)
	}
	if back.Status != "queue" {
		t.Fatalf("status = %s, want queue", back.Status)
	}
	if back.AssignedTo != nil {
		t.Fatalf("assignedTo = %v, want nil", back.AssignedTo)
	}
	if back.CompletedAt != nil {
		t.Fatal("completedAt set on failure")
	}
	if back.Error == nil || *back.Error != msg {
		t.Fatalf("error = %v, want %q", back.Error, msg)
	}

	// venture spend stays untouched on failure
	v, _ := env.Engine.Repo.GetVenture(env.Ctx, vid)
	if v.CapitalSpent != 0 {
		t.Fatalf("capitalSpent = %v, want 0", v.CapitalSpent)
	}

	// the task is claimable again, by a different agent
	again, err := env.Engine.Claim(env.Ctx, "agent-2", "")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if again.ID != claimed.ID {
		t.Fatalf("reclaimed %s, want %s", again.ID, claimed.ID)
	}
}

func TestCompleteRollbackLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	env.task(t, vid, "fragile", "medium")
	claimed, err := env.Engine.Claim(env.Ctx, "agent-1", "")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Apply both completion writes, then abort the transaction.
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	now := "2026-02-01T01:00:00Z"
	completed := "completed"
	assignee := "agent-1"
	outcome := repo.TaskOutcome{Status: completed, AssignedTo: &assignee, CompletedAt: &now}
	if err := env.Engine.Repo.ApplyTaskOutcomeTx(env.Ctx, tx, claimed.ID, outcome, now); err != nil {
		t.Fatalf("apply outcome: %v", err)
	}
	if err := env.Engine.Repo.AddVentureSpendTx(env.Ctx, tx, vid, 5, now); err != nil {
		t.Fatalf("add spend: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	task, err := env.Engine.Repo.GetTask(env.Ctx, claimed.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != "active" || task.CompletedAt != nil {
		t.Fatalf("task changed after rollback: status=%s completedAt=%v", task.Status, task.CompletedAt)
	}
	v, err := env.Engine.Repo.GetVenture(env.Ctx, vid)
	if err != nil {
		t.Fatalf("get venture: %v", err)
	}
	if v.CapitalSpent != 0 {
		t.Fatalf("capitalSpent = %v after rollback, want 0", v.CapitalSpent)
	}
}

func TestCompleteRejectsWrongAgent(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	env.task(t, vid, "guarded", "medium")
	claimed, err := env.Engine.Claim(env.Ctx, "agent-1", "")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	cost := 5.0
	_, err = env.Engine.Complete(env.Ctx, engine.CompleteOptions{
		TaskID:     claimed.ID,
		AgentID:    "agent-2",
		ActualCost: &cost,
	})
	if !errors.Is(err, engine.ErrNotAssigned) {
		t.Fatalf("err = %v, want ErrNotAssigned", err)
	}

	// nothing changed
	got, _ := env.Engine.Repo.GetTask(env.Ctx, claimed.ID)
	if got.Status != "active" || got.AssignedTo == nil || *got.AssignedTo != "agent-1" {
		t.Fatalf("task mutated after rejected completion: %+v", got)
	}
	v, _ := env.Engine.Repo.GetVenture(env.Ctx, vid)
	if v.CapitalSpent != 0 {
		t.Fatalf("capitalSpent = %v, want 0", v.CapitalSpent)
	}
}

func TestCompleteUnassignedTask(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	id := env.task(t, vid, "still queued", "medium")
	_, err := env.Engine.Complete(env.Ctx, engine.CompleteOptions{TaskID: id, AgentID: "agent-1"})
	if !errors.Is(err, engine.ErrNotAssigned) {
		t.Fatalf("err = %v, want ErrNotAssigned", err)
	}
}

func TestSpendAccumulatesAcrossTasks(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	env.task(t, vid, "t1", "medium")
	env.task(t, vid, "t2", "medium")

	for _, cost := range []float64{3.25, 4.75} {
		claimed, err := env.Engine.Claim(env.Ctx, "agent-1", "")
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		c := cost
		if _, err := env.Engine.Complete(env.Ctx, engine.CompleteOptions{
			TaskID: claimed.ID, AgentID: "agent-1", ActualCost: &c,
		}); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	v, _ := env.Engine.Repo.GetVenture(env.Ctx, vid)
	if v.CapitalSpent != 8 {
		t.Fatalf("capitalSpent = %v, want 8", v.CapitalSpent)
	}
}

func TestClaimWritesActivity(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	env.task(t, vid, "watched", "medium")
	if _, err := env.Engine.Claim(env.Ctx, "agent-1", "Agent One"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	acts, err := env.Engine.Repo.ListActivities(env.Ctx, 10)
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	found := false
	for _, a := range acts {
		if a.Type == "task_started" {
			found = true
			if a.Description != `Agent Agent One started working on "watched"` {
				t.Fatalf("description = %q", a.Description)
			}
			if a.CreatedAt != "2026-02-01T00:00:00Z" {
				t.Fatalf("createdAt = %s, want the engine clock", a.CreatedAt)
			}
		}
	}
	if !found {
		t.Fatal("no task_started activity written")
	}
}

func TestActivityFeedNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	env.Engine.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for _, title := range []string{"first", "second", "third"} {
		if err := env.Engine.LogActivity(env.Ctx, activity.Entry{
			Type:  "note",
			Title: title,
		}); err != nil {
			t.Fatalf("log %s: %v", title, err)
		}
	}

	acts, err := env.Engine.Repo.ListActivities(env.Ctx, 10)
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	if len(acts) != 3 {
		t.Fatalf("len = %d, want 3", len(acts))
	}
	for i, want := range []string{"third", "second", "first"} {
		if acts[i].Title != want {
			t.Fatalf("acts[%d].Title = %s, want %s", i, acts[i].Title, want)
		}
	}
	for i := 1; i < len(acts); i++ {
		if acts[i].CreatedAt > acts[i-1].CreatedAt {
			t.Fatalf("feed not newest-first: %s before %s", acts[i-1].CreatedAt, acts[i].CreatedAt)
		}
	}
}

func TestClaimRegistersUnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	env.task(t, vid, "for newcomer", "medium")
	if _, err := env.Engine.Claim(env.Ctx, "fresh-agent", "Fresh"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	a, err := env.Engine.Repo.GetAgent(env.Ctx, "fresh-agent")
	if err != nil {
		t.Fatalf("agent not auto registered: %v", err)
	}
	if a.Name != "Fresh" {
		t.Fatalf("name = %s, want Fresh", a.Name)
	}
}

func TestDeleteVentureWithTasks(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	env.task(t, vid, "anchor", "medium")
	err := env.Engine.DeleteVenture(env.Ctx, vid)
	if !errors.Is(err, engine.ErrVentureHasTasks) {
		t.Fatalf("err = %v, want ErrVentureHasTasks", err)
	}
}

func TestDeleteEmptyVenture(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	if err := env.Engine.DeleteVenture(env.Ctx, vid); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err := env.Engine.Repo.GetVenture(env.Ctx, vid)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListVenturesEmbedsTasks(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	env.task(t, vid, "one", "medium")
	env.task(t, vid, "two", "high")

	ventures, err := env.Engine.ListVentures(env.Ctx)
	if err != nil {
		t.Fatalf("list ventures: %v", err)
	}
	if len(ventures) != 1 {
		t.Fatalf("len = %d, want 1", len(ventures))
	}
	if ventures[0].TaskCount != 2 || len(ventures[0].Tasks) != 2 {
		t.Fatalf("taskCount = %d, tasks = %d, want 2", ventures[0].TaskCount, len(ventures[0].Tasks))
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{VentureID: vid}); err == nil {
		t.Fatal("expected error for missing title")
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "orphan"}); err == nil {
		t.Fatal("expected error for missing venture")
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		VentureID: "no-such-venture", Title: "orphan",
	}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for unknown venture", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		VentureID: vid, Title: "bad", Priority: "whenever",
	}); err == nil {
		t.Fatal("expected error for invalid priority")
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	vid := env.venture(t)
	env.task(t, vid, "a", "medium")
	env.task(t, vid, "b", "medium")
	claimed, err := env.Engine.Claim(env.Ctx, "agent-1", "")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	cost := 2.0
	if _, err := env.Engine.Complete(env.Ctx, engine.CompleteOptions{
		TaskID: claimed.ID, AgentID: "agent-1", ActualCost: &cost,
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	s, err := env.Engine.Stats(env.Ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.Ventures != 1 {
		t.Fatalf("ventures = %d, want 1", s.Ventures)
	}
	if s.TasksByStatus["queue"] != 1 || s.TasksByStatus["completed"] != 1 {
		t.Fatalf("tasksByStatus = %v", s.TasksByStatus)
	}
	if s.CapitalSpent != 2 {
		t.Fatalf("capitalSpent = %v, want 2", s.CapitalSpent)
	}
}
