package refsync_test

import (
	"context"
	"reflect"
	"testing"

	"taskdeck/internal/db"
	"taskdeck/internal/domain"
	"taskdeck/internal/migrate"
	"taskdeck/internal/refsync"
	"taskdeck/internal/repo"
)

func newSync(t *testing.T) (refsync.Synchronizer, repo.Repo) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	return refsync.Synchronizer{Repo: r}, r
}

func mustActor(t *testing.T, r repo.Repo, a domain.Actor) domain.Actor {
	t.Helper()
	if a.CreatedAt == "" {
		a.CreatedAt = "2026-01-01T00:00:00Z"
	}
	if err := r.InsertActor(context.Background(), a); err != nil {
		t.Fatalf("insert actor %s: %v", a.ID, err)
	}
	return a
}

func mustTask(t *testing.T, r repo.Repo, task domain.Task) domain.Task {
	t.Helper()
	if task.AssignedActorName == "" {
		task.AssignedActorName = domain.UnassignedName
	}
	if task.CreatedAt == "" {
		task.CreatedAt = "2026-01-01T00:00:00Z"
	}
	if task.Deadline == "" {
		task.Deadline = "2026-06-01T00:00:00Z"
	}
	if err := r.InsertTask(context.Background(), task); err != nil {
		t.Fatalf("insert task %s: %v", task.ID, err)
	}
	return task
}

func pending(t *testing.T, r repo.Repo, actorID string) []string {
	t.Helper()
	a, err := r.GetActor(context.Background(), actorID)
	if err != nil {
		t.Fatalf("get actor %s: %v", actorID, err)
	}
	return a.PendingTasks
}

func TestTaskWrittenTracksAssignment(t *testing.T) {
	s, r := newSync(t)
	ctx := context.Background()

	mustActor(t, r, domain.Actor{ID: "a1", Name: "Ada", Email: "ada@example.com"})
	mustActor(t, r, domain.Actor{ID: "a2", Name: "Grace", Email: "grace@example.com"})
	task := mustTask(t, r, domain.Task{ID: "t1", Name: "work", AssignedActor: "a1", AssignedActorName: "Ada"})

	if err := s.TaskWritten(ctx, nil, task); err != nil {
		t.Fatal(err)
	}
	if got := pending(t, r, "a1"); !reflect.DeepEqual(got, []string{"t1"}) {
		t.Fatalf("a1 pending = %v", got)
	}

	// running the hook again must not duplicate the id
	if err := s.TaskWritten(ctx, nil, task); err != nil {
		t.Fatal(err)
	}
	if got := pending(t, r, "a1"); !reflect.DeepEqual(got, []string{"t1"}) {
		t.Fatalf("a1 pending after rerun = %v", got)
	}

	// reassignment moves the id between pending sets
	before := task
	task.AssignedActor = "a2"
	task.AssignedActorName = "Grace"
	if err := s.TaskWritten(ctx, &before, task); err != nil {
		t.Fatal(err)
	}
	if got := pending(t, r, "a1"); len(got) != 0 {
		t.Fatalf("a1 should have released t1, has %v", got)
	}
	if got := pending(t, r, "a2"); !reflect.DeepEqual(got, []string{"t1"}) {
		t.Fatalf("a2 pending = %v", got)
	}

	// completion drops the id while the assignee pair stays
	before = task
	task.Completed = true
	if err := s.TaskWritten(ctx, &before, task); err != nil {
		t.Fatal(err)
	}
	if got := pending(t, r, "a2"); len(got) != 0 {
		t.Fatalf("completed task still pending: %v", got)
	}
}

func TestTaskWrittenUnassignScrubsAllHolders(t *testing.T) {
	s, r := newSync(t)
	ctx := context.Background()

	mustActor(t, r, domain.Actor{ID: "a1", Name: "Ada", Email: "ada@example.com", PendingTasks: []string{"t1"}})
	mustActor(t, r, domain.Actor{ID: "a2", Name: "Grace", Email: "grace@example.com", PendingTasks: []string{"t1"}})
	before := mustTask(t, r, domain.Task{ID: "t1", Name: "work", AssignedActor: "a1", AssignedActorName: "Ada"})

	after := before
	after.AssignedActor = ""
	after.AssignedActorName = domain.UnassignedName
	if err := s.TaskWritten(ctx, &before, after); err != nil {
		t.Fatal(err)
	}
	if got := pending(t, r, "a1"); len(got) != 0 {
		t.Fatalf("a1 still pending %v", got)
	}
	if got := pending(t, r, "a2"); len(got) != 0 {
		t.Fatalf("stale holder not scrubbed: %v", got)
	}
}

func TestTaskDeletedScrubsAllHolders(t *testing.T) {
	s, r := newSync(t)
	ctx := context.Background()

	mustActor(t, r, domain.Actor{ID: "a1", Name: "Ada", Email: "ada@example.com", PendingTasks: []string{"t1", "t2"}})
	mustActor(t, r, domain.Actor{ID: "a2", Name: "Grace", Email: "grace@example.com", PendingTasks: []string{"t1"}})
	task := mustTask(t, r, domain.Task{ID: "t1", Name: "work", AssignedActor: "a1", AssignedActorName: "Ada"})

	if err := s.TaskDeleted(ctx, task); err != nil {
		t.Fatal(err)
	}
	if got := pending(t, r, "a1"); !reflect.DeepEqual(got, []string{"t2"}) {
		t.Fatalf("a1 pending = %v", got)
	}
	if got := pending(t, r, "a2"); len(got) != 0 {
		t.Fatalf("stale holder not scrubbed: %v", got)
	}
}

func TestActorDeletedReleasesTasks(t *testing.T) {
	s, r := newSync(t)
	ctx := context.Background()

	mustActor(t, r, domain.Actor{ID: "a1", Name: "Ada", Email: "ada@example.com"})
	mustTask(t, r, domain.Task{ID: "t1", Name: "one", AssignedActor: "a1", AssignedActorName: "Ada"})
	mustTask(t, r, domain.Task{ID: "t2", Name: "two", AssignedActor: "a1", AssignedActorName: "Ada", Completed: true})

	if err := s.ActorDeleted(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"t1", "t2"} {
		task, err := r.GetTask(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if task.AssignedActor != "" || task.AssignedActorName != domain.UnassignedName {
			t.Fatalf("task %s still assigned: %+v", id, task)
		}
	}
}

func TestActorRenamedPropagates(t *testing.T) {
	s, r := newSync(t)
	ctx := context.Background()

	mustActor(t, r, domain.Actor{ID: "a1", Name: "Ada", Email: "ada@example.com"})
	mustTask(t, r, domain.Task{ID: "t1", Name: "one", AssignedActor: "a1", AssignedActorName: "Ada"})
	mustTask(t, r, domain.Task{ID: "t2", Name: "two", AssignedActor: "a1", AssignedActorName: "Ada", Completed: true})

	if err := s.ActorRenamed(ctx, "a1", "Ada L."); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"t1", "t2"} {
		task, _ := r.GetTask(ctx, id)
		if task.AssignedActorName != "Ada L." {
			t.Fatalf("task %s name = %q", id, task.AssignedActorName)
		}
	}
}

func TestPendingReplacedStealsAndReleases(t *testing.T) {
	s, r := newSync(t)
	ctx := context.Background()

	ada := mustActor(t, r, domain.Actor{ID: "a1", Name: "Ada", Email: "ada@example.com", PendingTasks: []string{"t1"}})
	mustActor(t, r, domain.Actor{ID: "a2", Name: "Grace", Email: "grace@example.com", PendingTasks: []string{"t2"}})
	mustTask(t, r, domain.Task{ID: "t1", Name: "one", AssignedActor: "a1", AssignedActorName: "Ada"})
	mustTask(t, r, domain.Task{ID: "t2", Name: "two", AssignedActor: "a2", AssignedActorName: "Grace"})

	// a1's set becomes {t2}: t1 released, t2 stolen from a2
	if err := s.PendingReplaced(ctx, ada, []string{"t1"}, []string{"t2"}); err != nil {
		t.Fatal(err)
	}
	t1, _ := r.GetTask(ctx, "t1")
	if t1.Assigned() || t1.AssignedActorName != domain.UnassignedName {
		t.Fatalf("t1 not released: %+v", t1)
	}
	t2, _ := r.GetTask(ctx, "t2")
	if t2.AssignedActor != "a1" || t2.AssignedActorName != "Ada" {
		t.Fatalf("t2 not stolen: %+v", t2)
	}
	if got := pending(t, r, "a2"); len(got) != 0 {
		t.Fatalf("a2 still holds stolen task: %v", got)
	}
}

func TestRepairRestoresInvariants(t *testing.T) {
	s, r := newSync(t)
	ctx := context.Background()

	// a1: stale name cache on t1, missing pending entry for t2,
	// pending entry for a task that no longer exists.
	mustActor(t, r, domain.Actor{ID: "a1", Name: "Ada", Email: "ada@example.com", PendingTasks: []string{"t1", "ghost"}})
	mustTask(t, r, domain.Task{ID: "t1", Name: "one", AssignedActor: "a1", AssignedActorName: "Old Name"})
	mustTask(t, r, domain.Task{ID: "t2", Name: "two", AssignedActor: "a1", AssignedActorName: "Ada"})
	// t3 points at an actor that does not exist
	mustTask(t, r, domain.Task{ID: "t3", Name: "three", AssignedActor: "nobody", AssignedActorName: "Nobody"})

	report, err := s.Repair(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Clean() {
		t.Fatal("expected corrective writes")
	}
	if report.TasksReleased != 1 || report.NamesRefreshed != 1 || report.PendingAdded != 1 || report.PendingRemoved != 1 {
		t.Fatalf("report = %+v", report)
	}

	t1, _ := r.GetTask(ctx, "t1")
	if t1.AssignedActorName != "Ada" {
		t.Fatalf("t1 name = %q", t1.AssignedActorName)
	}
	t3, _ := r.GetTask(ctx, "t3")
	if t3.Assigned() {
		t.Fatalf("t3 not released: %+v", t3)
	}
	got := pending(t, r, "a1")
	want := map[string]bool{"t1": true, "t2": true}
	if len(got) != 2 || !want[got[0]] || !want[got[1]] {
		t.Fatalf("a1 pending = %v", got)
	}

	// second pass finds nothing to do
	report, err = s.Repair(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Clean() {
		t.Fatalf("repair not idempotent: %+v", report)
	}
}
