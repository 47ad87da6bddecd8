package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"taskdeck/internal/domain"
	"taskdeck/internal/query"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")
var ErrDuplicateEmail = errors.New("email already registered")

func isDuplicateEmail(err error) bool {
	return err != nil && strings.Contains(err.Error(), "idx_actors_email")
}

func encodeIDList(ids []string) string {
	if ids == nil {
		ids = []string{}
	}
	payload, _ := json.Marshal(ids)
	return string(payload)
}

func decodeIDList(payload string) ([]string, error) {
	if payload == "" {
		return []string{}, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(payload), &ids); err != nil {
		return nil, fmt.Errorf("corrupt id list %q: %w", payload, err)
	}
	return ids, nil
}

// listClauses renders the trailing ORDER BY / LIMIT / OFFSET for a decoded
// list spec. A nil limit means no cap; OFFSET requires LIMIT in SQLite, so
// an uncapped skip uses LIMIT -1.
func listClauses(spec query.Spec, columns map[string]column) (string, []any, error) {
	order, err := compileOrder(spec.Sort, columns)
	if err != nil {
		return "", nil, err
	}
	clause := " ORDER BY " + order
	var args []any
	switch {
	case spec.Limit != nil:
		clause += " LIMIT ? OFFSET ?"
		args = append(args, sqlBound(*spec.Limit), sqlBound(spec.Skip))
	case spec.Skip > 0:
		clause += " LIMIT -1 OFFSET ?"
		args = append(args, sqlBound(spec.Skip))
	}
	return clause, args, nil
}

// sqlBound converts a decoded pagination value for binding. Values past
// MaxInt64 would flip sign through a plain conversion, so they clamp.
func sqlBound(n uint64) int64 {
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if limit <= 0 {
		limit = 100
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	q := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entity sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entity, &e.Payload); err != nil {
			return nil, err
		}
		if entity.Valid {
			e.EntityID = entity.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
