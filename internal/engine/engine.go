package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"taskdeck/internal/config"
	"taskdeck/internal/domain"
	"taskdeck/internal/events"
	"taskdeck/internal/ident"
	"taskdeck/internal/query"
	"taskdeck/internal/refsync"
	"taskdeck/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Sync   refsync.Synchronizer
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Sync:   refsync.Synchronizer{Repo: r},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// MissingFieldError reports an absent required field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return e.Field + " is required"
}

// UnknownActorError reports an assignee reference naming no actor record.
type UnknownActorError struct {
	ID string
}

func (e *UnknownActorError) Error() string {
	return fmt.Sprintf("assigned actor %s does not exist", e.ID)
}

// UnknownTaskError reports pending-set entries naming no task record.
type UnknownTaskError struct {
	IDs []string
}

func (e *UnknownTaskError) Error() string {
	return "pending tasks do not exist: " + strings.Join(e.IDs, ", ")
}

// CompletedTasksError reports pending-set entries naming completed tasks.
type CompletedTasksError struct {
	IDs []string
}

func (e *CompletedTasksError) Error() string {
	return "tasks already completed: " + strings.Join(e.IDs, ", ")
}

// ErrTaskLocked rejects any edit to a task whose stored completed flag is
// already true.
var ErrTaskLocked = errors.New("completed tasks cannot be modified")

// ErrNameMismatch rejects a supplied assignee name that contradicts the
// referenced actor's current name.
var ErrNameMismatch = errors.New("assignedActorName does not match the assigned actor")

// ErrBadDeadline rejects a deadline value in no recognized format.
var ErrBadDeadline = errors.New("deadline must be a date or a millisecond epoch")

// ActorWrite carries the client-supplied fields of an actor create or
// replace. PendingSet distinguishes an explicit pendingTasks value from an
// omitted one: on replace, an omitted set keeps the stored one.
type ActorWrite struct {
	Name         string
	Email        string
	PendingTasks []string
	PendingSet   bool
}

// TaskWrite carries the client-supplied fields of a task create or replace.
// Deadline is kept raw because clients send dates, epoch numbers, and
// numeric strings interchangeably.
type TaskWrite struct {
	Name              string
	Description       string
	Deadline          any
	Completed         bool
	AssignedActor     string
	AssignedActorName string
}

func (e Engine) CreateActor(ctx context.Context, in ActorWrite) (domain.Actor, error) {
	if in.Name == "" {
		return domain.Actor{}, &MissingFieldError{Field: "name"}
	}
	if in.Email == "" {
		return domain.Actor{}, &MissingFieldError{Field: "email"}
	}
	pending := ident.NormalizeList(in.PendingTasks)
	if err := e.checkPendingIDs(ctx, pending); err != nil {
		return domain.Actor{}, err
	}
	a := domain.Actor{
		ID:           ident.New(),
		Name:         in.Name,
		Email:        strings.ToLower(in.Email),
		PendingTasks: pending,
		CreatedAt:    e.stamp(),
	}
	if err := e.Repo.InsertActor(ctx, a); err != nil {
		return domain.Actor{}, err
	}
	if err := e.Sync.PendingReplaced(ctx, a, nil, pending); err != nil {
		return domain.Actor{}, err
	}
	e.audit(ctx, "actor.created", "actor", a.ID, events.EventPayload{"name": a.Name})
	return a, nil
}

func (e Engine) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	return e.Repo.GetActor(ctx, id)
}

func (e Engine) ListActors(ctx context.Context, spec query.Spec) ([]domain.Actor, error) {
	return e.Repo.ListActors(ctx, spec)
}

func (e Engine) CountActors(ctx context.Context, where map[string]any) (int64, error) {
	return e.Repo.CountActors(ctx, where)
}

// ReplaceActor applies a full update. The pending set, when supplied,
// replaces the stored one wholesale; its diff drives the corrective writes.
func (e Engine) ReplaceActor(ctx context.Context, id string, in ActorWrite) (domain.Actor, error) {
	before, err := e.Repo.GetActor(ctx, id)
	if err != nil {
		return domain.Actor{}, err
	}
	if in.Name == "" {
		return domain.Actor{}, &MissingFieldError{Field: "name"}
	}
	if in.Email == "" {
		return domain.Actor{}, &MissingFieldError{Field: "email"}
	}
	pending := before.PendingTasks
	var added, removed []string
	if in.PendingSet {
		pending = ident.NormalizeList(in.PendingTasks)
		added, removed = ident.Diff(before.PendingTasks, pending)
		if err := e.checkPendingIDs(ctx, added); err != nil {
			return domain.Actor{}, err
		}
	}
	after := domain.Actor{
		ID:           before.ID,
		Name:         in.Name,
		Email:        strings.ToLower(in.Email),
		PendingTasks: pending,
		CreatedAt:    before.CreatedAt,
	}
	if err := e.Repo.UpdateActor(ctx, after); err != nil {
		return domain.Actor{}, err
	}
	if after.Name != before.Name {
		if err := e.Sync.ActorRenamed(ctx, after.ID, after.Name); err != nil {
			return domain.Actor{}, err
		}
	}
	if in.PendingSet {
		if err := e.Sync.PendingReplaced(ctx, after, removed, added); err != nil {
			return domain.Actor{}, err
		}
	}
	e.audit(ctx, "actor.replaced", "actor", after.ID, events.EventPayload{"name": after.Name})
	return after, nil
}

func (e Engine) DeleteActor(ctx context.Context, id string) error {
	a, err := e.Repo.GetActor(ctx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteActor(ctx, id); err != nil {
		return err
	}
	if err := e.Sync.ActorDeleted(ctx, a.ID); err != nil {
		return err
	}
	e.audit(ctx, "actor.deleted", "actor", a.ID, events.EventPayload{"name": a.Name})
	return nil
}

// checkPendingIDs verifies that every id names a live, open task. The whole
// operation is rejected before any write when one does not.
func (e Engine) checkPendingIDs(ctx context.Context, ids []string) error {
	var missing, completed []string
	for _, id := range ids {
		task, err := e.Repo.GetTask(ctx, id)
		if err == repo.ErrNotFound {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return err
		}
		if task.Completed {
			completed = append(completed, id)
		}
	}
	if len(missing) > 0 {
		return &UnknownTaskError{IDs: missing}
	}
	if len(completed) > 0 {
		return &CompletedTasksError{IDs: completed}
	}
	return nil
}

func (e Engine) CreateTask(ctx context.Context, in TaskWrite) (domain.Task, error) {
	t := domain.Task{
		ID:        ident.New(),
		CreatedAt: e.stamp(),
	}
	if err := e.fillTask(ctx, &t, in); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.InsertTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Sync.TaskWritten(ctx, nil, t); err != nil {
		return domain.Task{}, err
	}
	e.audit(ctx, "task.created", "task", t.ID, events.EventPayload{"name": t.Name, "assignedActor": t.AssignedActor})
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, spec query.Spec) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, spec)
}

func (e Engine) CountTasks(ctx context.Context, where map[string]any) (int64, error) {
	return e.Repo.CountTasks(ctx, where)
}

// ReplaceTask applies a full update. A task whose stored completed flag is
// already true rejects any further edit.
func (e Engine) ReplaceTask(ctx context.Context, id string, in TaskWrite) (domain.Task, error) {
	before, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if before.Completed {
		return domain.Task{}, ErrTaskLocked
	}
	after := domain.Task{
		ID:        before.ID,
		CreatedAt: before.CreatedAt,
	}
	if err := e.fillTask(ctx, &after, in); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.UpdateTask(ctx, after); err != nil {
		return domain.Task{}, err
	}
	if err := e.Sync.TaskWritten(ctx, &before, after); err != nil {
		return domain.Task{}, err
	}
	e.audit(ctx, "task.replaced", "task", after.ID, events.EventPayload{"name": after.Name, "completed": after.Completed})
	return after, nil
}

func (e Engine) DeleteTask(ctx context.Context, id string) error {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteTask(ctx, id); err != nil {
		return err
	}
	if err := e.Sync.TaskDeleted(ctx, t); err != nil {
		return err
	}
	e.audit(ctx, "task.deleted", "task", t.ID, events.EventPayload{"name": t.Name})
	return nil
}

// fillTask validates the write and populates everything but ID and
// CreatedAt, resolving the assignee reference to a cached display name.
func (e Engine) fillTask(ctx context.Context, t *domain.Task, in TaskWrite) error {
	if in.Name == "" {
		return &MissingFieldError{Field: "name"}
	}
	deadline, err := parseDeadline(in.Deadline)
	if err != nil {
		return err
	}
	t.Name = in.Name
	t.Description = in.Description
	t.Deadline = deadline
	t.Completed = in.Completed

	actorID := ident.Normalize(in.AssignedActor)
	if !ident.Present(actorID) {
		t.AssignedActor = ""
		t.AssignedActorName = domain.UnassignedName
		return nil
	}
	owner, err := e.Repo.GetActor(ctx, actorID)
	if err == repo.ErrNotFound {
		return &UnknownActorError{ID: actorID}
	}
	if err != nil {
		return err
	}
	if in.AssignedActorName != "" && in.AssignedActorName != owner.Name {
		return ErrNameMismatch
	}
	t.AssignedActor = owner.ID
	t.AssignedActorName = owner.Name
	return nil
}

var epochMillis = regexp.MustCompile(`^\d{10,}$`)

// parseDeadline normalizes the accepted client formats to RFC 3339 UTC:
// RFC 3339 strings, millisecond epoch numbers, and numeric strings carrying
// a millisecond epoch.
func parseDeadline(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", &MissingFieldError{Field: "deadline"}
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return "", &MissingFieldError{Field: "deadline"}
		}
		if epochMillis.MatchString(s) {
			var ms int64
			fmt.Sscanf(s, "%d", &ms)
			return time.UnixMilli(ms).UTC().Format(time.RFC3339), nil
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.UTC().Format(time.RFC3339), nil
		}
		if ts, err := time.Parse("2006-01-02", s); err == nil {
			return ts.UTC().Format(time.RFC3339), nil
		}
		return "", ErrBadDeadline
	case float64:
		return time.UnixMilli(int64(v)).UTC().Format(time.RFC3339), nil
	case int64:
		return time.UnixMilli(v).UTC().Format(time.RFC3339), nil
	default:
		return "", ErrBadDeadline
	}
}

// Repair runs the full reconciliation pass over both collections.
func (e Engine) Repair(ctx context.Context) (refsync.Report, error) {
	report, err := e.Sync.Repair(ctx)
	if err != nil {
		return report, err
	}
	if !report.Clean() {
		e.audit(ctx, "repair.completed", "system", "", events.EventPayload{
			"tasksReleased":  report.TasksReleased,
			"namesRefreshed": report.NamesRefreshed,
			"pendingAdded":   report.PendingAdded,
			"pendingRemoved": report.PendingRemoved,
		})
	}
	return report, nil
}

// LatestEvents exposes the audit trail, newest first.
func (e Engine) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, limit, evtType, entityKind, entityID)
}

// audit appends to the event log. The primary write already succeeded, so
// log failures are swallowed rather than failing the request.
func (e Engine) audit(ctx context.Context, evtType, entityKind, entityID string, payload events.EventPayload) {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	_ = w.Append(ctx, evtType, entityKind, entityID, payload)
}
