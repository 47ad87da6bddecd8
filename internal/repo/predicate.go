package repo

import (
	"fmt"
	"sort"
	"strings"

	"taskdeck/internal/query"
)

// PredicateError reports a where-predicate the store cannot execute
// (unknown field, unsupported operator, bad operand shape).
type PredicateError struct {
	Reason string
}

func (e *PredicateError) Error() string {
	return "where " + e.Reason
}

func predicateErr(format string, args ...any) *PredicateError {
	return &PredicateError{Reason: fmt.Sprintf(format, args...)}
}

type colKind int

const (
	colText colKind = iota
	colBool
	colIDList
)

type column struct {
	name string
	kind colKind
}

// Transport field name -> storage column, per collection.
var actorColumns = map[string]column{
	"_id":          {name: "id"},
	"name":         {name: "name"},
	"email":        {name: "email"},
	"pendingTasks": {name: "pending_tasks", kind: colIDList},
	"createdAt":    {name: "created_at"},
}

var taskColumns = map[string]column{
	"_id":               {name: "id"},
	"name":              {name: "name"},
	"description":       {name: "description"},
	"deadline":          {name: "deadline"},
	"completed":         {name: "completed", kind: colBool},
	"assignedActor":     {name: "assigned_actor"},
	"assignedActorName": {name: "assigned_actor_name"},
	"createdAt":         {name: "created_at"},
}

// compileWhere turns a decoded predicate tree into a parameterized SQL
// fragment. Values are never interpolated. A nil tree matches everything.
func compileWhere(where map[string]any, columns map[string]column) (string, []any, error) {
	if len(where) == 0 {
		return "1 = 1", nil, nil
	}
	var clauses []string
	var params []any
	// Deterministic clause order for stable SQL across runs.
	for _, field := range sortedKeys(where) {
		value := where[field]
		switch field {
		case "$and", "$or":
			clause, clauseParams, err := compileBranch(field, value, columns)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, clause)
			params = append(params, clauseParams...)
			continue
		}
		if strings.HasPrefix(field, "$") {
			return "", nil, predicateErr("unsupported operator %q", field)
		}
		col, ok := columns[field]
		if !ok {
			return "", nil, predicateErr("unknown field %q", field)
		}
		clause, clauseParams, err := compileField(col, value)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		params = append(params, clauseParams...)
	}
	return strings.Join(clauses, " AND "), params, nil
}

func compileBranch(op string, value any, columns map[string]column) (string, []any, error) {
	branches, ok := value.([]any)
	if !ok || len(branches) == 0 {
		return "", nil, predicateErr("%s requires a non-empty array", op)
	}
	joiner := " AND "
	if op == "$or" {
		joiner = " OR "
	}
	var parts []string
	var params []any
	for _, branch := range branches {
		sub, ok := branch.(map[string]any)
		if !ok {
			return "", nil, predicateErr("%s entries must be objects", op)
		}
		clause, clauseParams, err := compileWhere(sub, columns)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+clause+")")
		params = append(params, clauseParams...)
	}
	return "(" + strings.Join(parts, joiner) + ")", params, nil
}

func compileField(col column, value any) (string, []any, error) {
	ops, isOps := value.(map[string]any)
	if !isOps {
		return compileEquals(col, value)
	}
	var clauses []string
	var params []any
	for _, op := range sortedKeys(ops) {
		operand := ops[op]
		clause, clauseParams, err := compileOperator(col, op, operand)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		params = append(params, clauseParams...)
	}
	return strings.Join(clauses, " AND "), params, nil
}

func compileEquals(col column, value any) (string, []any, error) {
	param, err := scalarParam(col, value)
	if err != nil {
		return "", nil, err
	}
	if col.kind == colIDList {
		// Array containment, mongo-style: a scalar matches any element.
		return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value = ?)", col.name), []any{param}, nil
	}
	return col.name + " = ?", []any{param}, nil
}

func compileOperator(col column, op string, operand any) (string, []any, error) {
	switch op {
	case "$in", "$nin":
		values, ok := operand.([]any)
		if !ok || len(values) == 0 {
			return "", nil, predicateErr("%s requires a non-empty array", op)
		}
		params := make([]any, 0, len(values))
		for _, v := range values {
			param, err := scalarParam(col, v)
			if err != nil {
				return "", nil, err
			}
			params = append(params, param)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(params)), ",")
		if col.kind == colIDList {
			clause := fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value IN (%s))", col.name, placeholders)
			if op == "$nin" {
				clause = "NOT " + clause
			}
			return clause, params, nil
		}
		keyword := "IN"
		if op == "$nin" {
			keyword = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", col.name, keyword, placeholders), params, nil
	case "$ne":
		param, err := scalarParam(col, operand)
		if err != nil {
			return "", nil, err
		}
		return col.name + " <> ?", []any{param}, nil
	case "$gt", "$gte", "$lt", "$lte":
		cmp := map[string]string{"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<="}[op]
		param, err := scalarParam(col, operand)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s %s ?", col.name, cmp), []any{param}, nil
	case "$exists":
		// Fixed schema: every mapped field exists on every record.
		want, ok := operand.(bool)
		if !ok {
			return "", nil, predicateErr("$exists requires a boolean")
		}
		if want {
			return "1 = 1", nil, nil
		}
		return "0 = 1", nil, nil
	case "$regex":
		pattern, ok := operand.(string)
		if !ok {
			return "", nil, predicateErr("$regex requires a string")
		}
		if col.kind != colText {
			return "", nil, predicateErr("$regex only applies to text fields")
		}
		return col.name + " REGEXP ?", []any{pattern}, nil
	default:
		return "", nil, predicateErr("unsupported operator %q", op)
	}
}

func scalarParam(col column, value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		if col.kind == colBool {
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		}
		return v, nil
	case float64:
		return v, nil
	case nil:
		// Absent references are stored as the empty string.
		return "", nil
	default:
		return nil, predicateErr("unsupported value %v", value)
	}
}

// compileOrder renders an ORDER BY clause from the decoded sort fields,
// always ending with the id tiebreaker so results are deterministic.
func compileOrder(sort []query.SortField, columns map[string]column) (string, error) {
	parts := make([]string, 0, len(sort)+1)
	for _, f := range sort {
		col, ok := columns[f.Field]
		if !ok {
			return "", predicateErr("unknown sort field %q", f.Field)
		}
		dir := "ASC"
		if f.Desc {
			dir = "DESC"
		}
		parts = append(parts, col.name+" "+dir)
	}
	parts = append(parts, "id ASC")
	return strings.Join(parts, ", "), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
