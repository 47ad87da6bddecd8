// Package refsync keeps the two denormalized reference caches consistent:
// the assignee pair carried by each task and the pending set carried by
// each actor. Every mutation path routes through a Synchronizer hook so a
// write to one side always repairs the other.
package refsync

import (
	"context"

	"taskdeck/internal/domain"
	"taskdeck/internal/query"
	"taskdeck/internal/repo"
)

type Synchronizer struct {
	Repo repo.Repo
}

// TaskWritten reconciles actor pending sets after a task create or replace.
// before is nil on create. Removals run before additions so a reassignment
// never leaves the task in two pending sets.
func (s Synchronizer) TaskWritten(ctx context.Context, before *domain.Task, after domain.Task) error {
	if after.Completed {
		// A completed task is never pending for anyone. The assignee pair
		// stays untouched so completion history is preserved.
		_, err := s.Repo.RemovePendingFromAll(ctx, after.ID)
		return err
	}
	if before != nil && before.Assigned() && before.AssignedActor != after.AssignedActor {
		if err := s.Repo.RemovePendingTask(ctx, before.AssignedActor, before.ID); err != nil {
			return err
		}
	}
	if after.Assigned() {
		return s.Repo.AddPendingTask(ctx, after.AssignedActor, after.ID)
	}
	_, err := s.Repo.RemovePendingFromAll(ctx, after.ID)
	return err
}

// TaskDeleted scrubs the task id from every pending set that still holds
// it, not only the recorded assignee, so stale holders are cleaned up too.
func (s Synchronizer) TaskDeleted(ctx context.Context, task domain.Task) error {
	_, err := s.Repo.RemovePendingFromAll(ctx, task.ID)
	return err
}

// ActorDeleted releases every task the actor was responsible for.
func (s Synchronizer) ActorDeleted(ctx context.Context, actorID string) error {
	_, err := s.Repo.UnassignActorTasks(ctx, actorID)
	return err
}

// ActorRenamed refreshes the cached display name on every task pointing at
// the actor, completed tasks included.
func (s Synchronizer) ActorRenamed(ctx context.Context, actorID, name string) error {
	_, err := s.Repo.RenameActorTasks(ctx, actorID, name)
	return err
}

// PendingReplaced applies the side effects of replacing an actor's pending
// set wholesale. Dropped tasks are released; adopted tasks are pointed at
// the actor, stealing them from their previous assignee if necessary. The
// caller has already validated that every added id names a live, open task.
func (s Synchronizer) PendingReplaced(ctx context.Context, actor domain.Actor, removed, added []string) error {
	for _, id := range removed {
		task, err := s.Repo.GetTask(ctx, id)
		if err == repo.ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		if task.AssignedActor != actor.ID {
			continue
		}
		if err := s.Repo.SetTaskAssignee(ctx, id, "", domain.UnassignedName); err != nil {
			return err
		}
	}
	for _, id := range added {
		task, err := s.Repo.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if task.AssignedActor == actor.ID && task.AssignedActorName == actor.Name {
			continue
		}
		if task.Assigned() && task.AssignedActor != actor.ID {
			if err := s.Repo.RemovePendingTask(ctx, task.AssignedActor, id); err != nil {
				return err
			}
		}
		if err := s.Repo.SetTaskAssignee(ctx, id, actor.ID, actor.Name); err != nil {
			return err
		}
	}
	return nil
}

// Report summarizes the corrective writes made by a full Repair pass.
type Report struct {
	TasksReleased  int `json:"tasksReleased"`
	NamesRefreshed int `json:"namesRefreshed"`
	PendingAdded   int `json:"pendingAdded"`
	PendingRemoved int `json:"pendingRemoved"`
}

func (r Report) Clean() bool {
	return r == Report{}
}

// Repair walks both collections and restores every cross-reference
// invariant: dangling assignees are released, cached names are refreshed,
// and each pending set is rebuilt to hold exactly the open tasks assigned
// to that actor. The pass is idempotent.
func (s Synchronizer) Repair(ctx context.Context) (Report, error) {
	var report Report

	actors, err := s.Repo.ListActors(ctx, query.Spec{})
	if err != nil {
		return report, err
	}
	byID := make(map[string]domain.Actor, len(actors))
	for _, a := range actors {
		byID[a.ID] = a
	}

	tasks, err := s.Repo.ListTasks(ctx, query.Spec{})
	if err != nil {
		return report, err
	}
	open := map[string]string{} // open task id -> assignee actor id
	exists := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		exists[t.ID] = true
		if !t.Assigned() {
			if t.AssignedActorName != domain.UnassignedName {
				if err := s.Repo.SetTaskAssignee(ctx, t.ID, "", domain.UnassignedName); err != nil {
					return report, err
				}
				report.NamesRefreshed++
			}
			continue
		}
		owner, ok := byID[t.AssignedActor]
		if !ok {
			if err := s.Repo.SetTaskAssignee(ctx, t.ID, "", domain.UnassignedName); err != nil {
				return report, err
			}
			report.TasksReleased++
			continue
		}
		if t.AssignedActorName != owner.Name {
			if err := s.Repo.SetTaskAssignee(ctx, t.ID, owner.ID, owner.Name); err != nil {
				return report, err
			}
			report.NamesRefreshed++
		}
		if !t.Completed {
			open[t.ID] = owner.ID
		}
	}

	for _, a := range actors {
		held := make(map[string]bool, len(a.PendingTasks))
		for _, id := range a.PendingTasks {
			held[id] = true
			if exists[id] && open[id] == a.ID {
				continue
			}
			if err := s.Repo.RemovePendingTask(ctx, a.ID, id); err != nil {
				return report, err
			}
			report.PendingRemoved++
		}
		for id, ownerID := range open {
			if ownerID == a.ID && !held[id] {
				if err := s.Repo.AddPendingTask(ctx, a.ID, id); err != nil {
					return report, err
				}
				report.PendingAdded++
			}
		}
	}
	return report, nil
}
