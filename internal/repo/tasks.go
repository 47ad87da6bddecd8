package repo

import (
	"context"
	"database/sql"

	"taskdeck/internal/domain"
	"taskdeck/internal/query"
)

const taskCols = `id,name,description,deadline,completed,assigned_actor,assigned_actor_name,created_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	err := scan(&t.ID, &t.Name, &t.Description, &t.Deadline, &t.Completed, &t.AssignedActor, &t.AssignedActorName, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) ListTasks(ctx context.Context, spec query.Spec) ([]domain.Task, error) {
	where, args, err := compileWhere(spec.Where, taskColumns)
	if err != nil {
		return nil, err
	}
	tail, tailArgs, err := listClauses(spec, taskColumns)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE `+where+tail, append(args, tailArgs...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasks(ctx context.Context, where map[string]any) (int64, error) {
	clause, args, err := compileWhere(where, taskColumns)
	if err != nil {
		return 0, err
	}
	var n int64
	err = r.DB.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE `+clause, args...).Scan(&n)
	return n, err
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(`+taskCols+`) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.Name, t.Description, t.Deadline, t.Completed, t.AssignedActor, t.AssignedActorName, t.CreatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET name=?, description=?, deadline=?, completed=?, assigned_actor=?, assigned_actor_name=? WHERE id=?`,
		t.Name, t.Description, t.Deadline, t.Completed, t.AssignedActor, t.AssignedActorName, t.ID)
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

// TasksAssignedTo returns every task whose assignee reference names the
// actor, completed or not.
func (r Repo) TasksAssignedTo(ctx context.Context, actorID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE assigned_actor=? ORDER BY id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// SetTaskAssignee rewrites a task's cached assignee pair.
func (r Repo) SetTaskAssignee(ctx context.Context, taskID, actorID, actorName string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET assigned_actor=?, assigned_actor_name=? WHERE id=?`,
		actorID, actorName, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UnassignActorTasks clears the assignee pair on every task pointing at the
// actor and reports how many records changed.
func (r Repo) UnassignActorTasks(ctx context.Context, actorID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET assigned_actor='', assigned_actor_name=? WHERE assigned_actor=?`,
		domain.UnassignedName, actorID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RenameActorTasks refreshes the cached assignee name on every task pointing
// at the actor, including completed ones.
func (r Repo) RenameActorTasks(ctx context.Context, actorID, name string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET assigned_actor_name=? WHERE assigned_actor=? AND assigned_actor_name<>?`,
		name, actorID, name)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
