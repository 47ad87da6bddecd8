package engine_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"taskdeck/internal/config"
	"taskdeck/internal/db"
	"taskdeck/internal/domain"
	"taskdeck/internal/engine"
	"taskdeck/internal/migrate"
	"taskdeck/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) actor(t *testing.T, name, email string, pending ...string) domain.Actor {
	t.Helper()
	a, err := env.Engine.CreateActor(env.Ctx, engine.ActorWrite{
		Name: name, Email: email, PendingTasks: pending, PendingSet: len(pending) > 0,
	})
	if err != nil {
		t.Fatalf("create actor %s: %v", name, err)
	}
	return a
}

func (env testEnv) task(t *testing.T, in engine.TaskWrite) domain.Task {
	t.Helper()
	if in.Deadline == nil {
		in.Deadline = "2026-06-01T00:00:00Z"
	}
	task, err := env.Engine.CreateTask(env.Ctx, in)
	if err != nil {
		t.Fatalf("create task %s: %v", in.Name, err)
	}
	return task
}

func TestCreateActorValidation(t *testing.T) {
	env := newTestEnv(t)

	var mf *engine.MissingFieldError
	_, err := env.Engine.CreateActor(env.Ctx, engine.ActorWrite{Email: "x@example.com"})
	if !errors.As(err, &mf) || mf.Field != "name" {
		t.Fatalf("expected missing name, got %v", err)
	}
	_, err = env.Engine.CreateActor(env.Ctx, engine.ActorWrite{Name: "Ada"})
	if !errors.As(err, &mf) || mf.Field != "email" {
		t.Fatalf("expected missing email, got %v", err)
	}

	a := env.actor(t, "Ada", "ADA@Example.com")
	if a.Email != "ada@example.com" {
		t.Fatalf("email = %q", a.Email)
	}
	_, err = env.Engine.CreateActor(env.Ctx, engine.ActorWrite{Name: "Dupe", Email: "ada@example.com"})
	if !errors.Is(err, repo.ErrDuplicateEmail) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
}

func TestCreateActorRejectsBadPendingIDs(t *testing.T) {
	env := newTestEnv(t)

	done := env.task(t, engine.TaskWrite{Name: "done", Completed: true})

	var ut *engine.UnknownTaskError
	_, err := env.Engine.CreateActor(env.Ctx, engine.ActorWrite{
		Name: "Ada", Email: "ada@example.com",
		PendingTasks: []string{"ghost"}, PendingSet: true,
	})
	if !errors.As(err, &ut) || !reflect.DeepEqual(ut.IDs, []string{"ghost"}) {
		t.Fatalf("expected unknown task error, got %v", err)
	}

	var ct *engine.CompletedTasksError
	_, err = env.Engine.CreateActor(env.Ctx, engine.ActorWrite{
		Name: "Ada", Email: "ada@example.com",
		PendingTasks: []string{done.ID}, PendingSet: true,
	})
	if !errors.As(err, &ct) || !reflect.DeepEqual(ct.IDs, []string{done.ID}) {
		t.Fatalf("expected completed task error, got %v", err)
	}
}

func TestCreateTaskResolvesAssignee(t *testing.T) {
	env := newTestEnv(t)
	ada := env.actor(t, "Ada", "ada@example.com")

	task := env.task(t, engine.TaskWrite{Name: "work", AssignedActor: ada.ID})
	if task.AssignedActorName != "Ada" {
		t.Fatalf("autofilled name = %q", task.AssignedActorName)
	}
	a, _ := env.Engine.GetActor(env.Ctx, ada.ID)
	if !reflect.DeepEqual(a.PendingTasks, []string{task.ID}) {
		t.Fatalf("pending = %v", a.PendingTasks)
	}

	var ua *engine.UnknownActorError
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskWrite{
		Name: "bad", Deadline: "2026-06-01T00:00:00Z", AssignedActor: "nobody",
	})
	if !errors.As(err, &ua) || ua.ID != "nobody" {
		t.Fatalf("expected unknown actor, got %v", err)
	}

	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskWrite{
		Name: "bad", Deadline: "2026-06-01T00:00:00Z",
		AssignedActor: ada.ID, AssignedActorName: "Somebody Else",
	})
	if !errors.Is(err, engine.ErrNameMismatch) {
		t.Fatalf("expected name mismatch, got %v", err)
	}

	unassigned := env.task(t, engine.TaskWrite{Name: "solo"})
	if unassigned.AssignedActor != "" || unassigned.AssignedActorName != domain.UnassignedName {
		t.Fatalf("unassigned defaults wrong: %+v", unassigned)
	}
}

func TestDeadlineFormats(t *testing.T) {
	env := newTestEnv(t)

	for _, raw := range []any{
		"2026-06-01T00:00:00Z",
		"2026-06-01",
		float64(1780272000000),
		"1780272000000",
	} {
		task, err := env.Engine.CreateTask(env.Ctx, engine.TaskWrite{Name: "t", Deadline: raw})
		if err != nil {
			t.Fatalf("deadline %v rejected: %v", raw, err)
		}
		if task.Deadline != "2026-06-01T00:00:00Z" {
			t.Fatalf("deadline %v normalized to %q", raw, task.Deadline)
		}
	}

	var mf *engine.MissingFieldError
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskWrite{Name: "t"})
	if !errors.As(err, &mf) || mf.Field != "deadline" {
		t.Fatalf("expected missing deadline, got %v", err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskWrite{Name: "t", Deadline: "not a date"})
	if !errors.Is(err, engine.ErrBadDeadline) {
		t.Fatalf("expected bad deadline, got %v", err)
	}
}

func TestReplaceTaskMovesPendingEntry(t *testing.T) {
	env := newTestEnv(t)
	ada := env.actor(t, "Ada", "ada@example.com")
	grace := env.actor(t, "Grace", "grace@example.com")
	task := env.task(t, engine.TaskWrite{Name: "work", AssignedActor: ada.ID})

	_, err := env.Engine.ReplaceTask(env.Ctx, task.ID, engine.TaskWrite{
		Name: "work", Deadline: task.Deadline, AssignedActor: grace.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	a, _ := env.Engine.GetActor(env.Ctx, ada.ID)
	g, _ := env.Engine.GetActor(env.Ctx, grace.ID)
	if len(a.PendingTasks) != 0 {
		t.Fatalf("ada still pending %v", a.PendingTasks)
	}
	if !reflect.DeepEqual(g.PendingTasks, []string{task.ID}) {
		t.Fatalf("grace pending = %v", g.PendingTasks)
	}
}

func TestReplaceTaskDropsAssignee(t *testing.T) {
	env := newTestEnv(t)
	ada := env.actor(t, "Ada", "ada@example.com")
	task := env.task(t, engine.TaskWrite{Name: "work", AssignedActor: ada.ID})

	after, err := env.Engine.ReplaceTask(env.Ctx, task.ID, engine.TaskWrite{
		Name: "work", Deadline: task.Deadline,
	})
	if err != nil {
		t.Fatal(err)
	}
	if after.AssignedActor != "" || after.AssignedActorName != domain.UnassignedName {
		t.Fatalf("task not released: %+v", after)
	}
	a, _ := env.Engine.GetActor(env.Ctx, ada.ID)
	if len(a.PendingTasks) != 0 {
		t.Fatalf("released task still pending: %v", a.PendingTasks)
	}
}

func TestCompletionLocksTask(t *testing.T) {
	env := newTestEnv(t)
	ada := env.actor(t, "Ada", "ada@example.com")
	task := env.task(t, engine.TaskWrite{Name: "work", AssignedActor: ada.ID})

	done, err := env.Engine.ReplaceTask(env.Ctx, task.ID, engine.TaskWrite{
		Name: "work", Deadline: task.Deadline, AssignedActor: ada.ID, Completed: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if done.AssignedActor != ada.ID {
		t.Fatalf("completion cleared assignee: %+v", done)
	}
	a, _ := env.Engine.GetActor(env.Ctx, ada.ID)
	if len(a.PendingTasks) != 0 {
		t.Fatalf("completed task still pending: %v", a.PendingTasks)
	}

	_, err = env.Engine.ReplaceTask(env.Ctx, task.ID, engine.TaskWrite{
		Name: "again", Deadline: task.Deadline,
	})
	if !errors.Is(err, engine.ErrTaskLocked) {
		t.Fatalf("expected locked task, got %v", err)
	}
}

func TestReplaceActorKeepsPendingWhenOmitted(t *testing.T) {
	env := newTestEnv(t)
	ada := env.actor(t, "Ada", "ada@example.com")
	task := env.task(t, engine.TaskWrite{Name: "work", AssignedActor: ada.ID})

	after, err := env.Engine.ReplaceActor(env.Ctx, ada.ID, engine.ActorWrite{
		Name: "Ada L.", Email: "ada@example.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(after.PendingTasks, []string{task.ID}) {
		t.Fatalf("omitted pending set was not preserved: %v", after.PendingTasks)
	}
	got, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if got.AssignedActorName != "Ada L." {
		t.Fatalf("rename not propagated: %q", got.AssignedActorName)
	}
}

func TestReplaceActorPendingDiff(t *testing.T) {
	env := newTestEnv(t)
	ada := env.actor(t, "Ada", "ada@example.com")
	grace := env.actor(t, "Grace", "grace@example.com")
	mine := env.task(t, engine.TaskWrite{Name: "mine", AssignedActor: ada.ID})
	theirs := env.task(t, engine.TaskWrite{Name: "theirs", AssignedActor: grace.ID})

	_, err := env.Engine.ReplaceActor(env.Ctx, ada.ID, engine.ActorWrite{
		Name: "Ada", Email: "ada@example.com",
		PendingTasks: []string{theirs.ID}, PendingSet: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	released, _ := env.Engine.GetTask(env.Ctx, mine.ID)
	if released.Assigned() {
		t.Fatalf("dropped task not released: %+v", released)
	}
	stolen, _ := env.Engine.GetTask(env.Ctx, theirs.ID)
	if stolen.AssignedActor != ada.ID || stolen.AssignedActorName != "Ada" {
		t.Fatalf("task not stolen: %+v", stolen)
	}
	g, _ := env.Engine.GetActor(env.Ctx, grace.ID)
	if len(g.PendingTasks) != 0 {
		t.Fatalf("previous owner still holds task: %v", g.PendingTasks)
	}
}

func TestDeleteCascades(t *testing.T) {
	env := newTestEnv(t)
	ada := env.actor(t, "Ada", "ada@example.com")
	t1 := env.task(t, engine.TaskWrite{Name: "one", AssignedActor: ada.ID})
	t2 := env.task(t, engine.TaskWrite{Name: "two", AssignedActor: ada.ID})

	if err := env.Engine.DeleteTask(env.Ctx, t1.ID); err != nil {
		t.Fatal(err)
	}
	a, _ := env.Engine.GetActor(env.Ctx, ada.ID)
	if !reflect.DeepEqual(a.PendingTasks, []string{t2.ID}) {
		t.Fatalf("pending after task delete = %v", a.PendingTasks)
	}

	if err := env.Engine.DeleteActor(env.Ctx, ada.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.GetTask(env.Ctx, t2.ID)
	if got.Assigned() || got.AssignedActorName != domain.UnassignedName {
		t.Fatalf("actor delete did not release task: %+v", got)
	}

	if err := env.Engine.DeleteActor(env.Ctx, ada.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("double delete: %v", err)
	}
}

func TestRepairAndAudit(t *testing.T) {
	env := newTestEnv(t)
	ada := env.actor(t, "Ada", "ada@example.com")
	env.task(t, engine.TaskWrite{Name: "work", AssignedActor: ada.ID})

	report, err := env.Engine.Repair(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Clean() {
		t.Fatalf("fresh data should need no repair: %+v", report)
	}

	evts, err := env.Engine.LatestEvents(env.Ctx, 10, "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 {
		t.Fatalf("expected actor.created and task.created, got %d events", len(evts))
	}
	if evts[0].Type != "task.created" || evts[1].Type != "actor.created" {
		t.Fatalf("event order = %s, %s", evts[0].Type, evts[1].Type)
	}
}
