package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskdeck/internal/domain"
	"taskdeck/internal/query"
)

const actorCols = `id,name,email,pending_tasks,created_at`

func scanActor(scan func(dest ...any) error) (domain.Actor, error) {
	var a domain.Actor
	var pending string
	err := scan(&a.ID, &a.Name, &a.Email, &pending, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.PendingTasks, err = decodeIDList(pending)
	return a, err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+actorCols+` FROM actors WHERE id=?`, id)
	return scanActor(row.Scan)
}

// ListActors runs a decoded list spec against the actors table. The
// predicate and sort are compiled to SQL; the projection is the caller's
// concern.
func (r Repo) ListActors(ctx context.Context, spec query.Spec) ([]domain.Actor, error) {
	where, args, err := compileWhere(spec.Where, actorColumns)
	if err != nil {
		return nil, err
	}
	tail, tailArgs, err := listClauses(spec, actorColumns)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actorCols+` FROM actors WHERE `+where+tail, append(args, tailArgs...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// CountActors counts matches for a predicate, ignoring skip and limit.
func (r Repo) CountActors(ctx context.Context, where map[string]any) (int64, error) {
	clause, args, err := compileWhere(where, actorColumns)
	if err != nil {
		return 0, err
	}
	var n int64
	err = r.DB.QueryRowContext(ctx, `SELECT count(*) FROM actors WHERE `+clause, args...).Scan(&n)
	return n, err
}

func (r Repo) InsertActor(ctx context.Context, a domain.Actor) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO actors(`+actorCols+`) VALUES (?,?,?,?,?)`,
		a.ID, a.Name, strings.ToLower(a.Email), encodeIDList(a.PendingTasks), a.CreatedAt)
	if isDuplicateEmail(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (r Repo) UpdateActor(ctx context.Context, a domain.Actor) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE actors SET name=?, email=?, pending_tasks=? WHERE id=?`,
		a.Name, strings.ToLower(a.Email), encodeIDList(a.PendingTasks), a.ID)
	if isDuplicateEmail(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteActor(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM actors WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddPendingTask appends a task id to an actor's pending set. Appending an
// id already in the set is a no-op, so the write is idempotent.
func (r Repo) AddPendingTask(ctx context.Context, actorID, taskID string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE actors
SET pending_tasks = json_insert(pending_tasks, '$[#]', ?)
WHERE id=? AND NOT EXISTS (SELECT 1 FROM json_each(pending_tasks) WHERE json_each.value = ?)`,
		taskID, actorID, taskID)
	return err
}

// RemovePendingTask drops a task id from an actor's pending set if present.
func (r Repo) RemovePendingTask(ctx context.Context, actorID, taskID string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE actors
SET pending_tasks = (SELECT COALESCE(json_group_array(json_each.value), '[]') FROM json_each(pending_tasks) WHERE json_each.value <> ?)
WHERE id=? AND EXISTS (SELECT 1 FROM json_each(pending_tasks) WHERE json_each.value = ?)`,
		taskID, actorID, taskID)
	return err
}

// RemovePendingFromAll drops a task id from every actor that holds it and
// reports how many records changed.
func (r Repo) RemovePendingFromAll(ctx context.Context, taskID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE actors
SET pending_tasks = (SELECT COALESCE(json_group_array(json_each.value), '[]') FROM json_each(pending_tasks) WHERE json_each.value <> ?)
WHERE EXISTS (SELECT 1 FROM json_each(pending_tasks) WHERE json_each.value = ?)`,
		taskID, taskID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ActorsHoldingTask returns the ids of actors whose pending set contains
// the task.
func (r Repo) ActorsHoldingTask(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM actors
WHERE EXISTS (SELECT 1 FROM json_each(pending_tasks) WHERE json_each.value = ?)
ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
