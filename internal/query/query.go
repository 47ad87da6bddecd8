// Package query turns the free-form listing parameters (where, sort, select,
// skip, limit, count) into a validated, store-agnostic query description.
// Decoding is pure: a failure in any decoder short-circuits the request
// before the store is touched.
package query

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DecodeError classifies malformed list-query input. Param names the query
// parameter at fault; the message is what the client sees.
type DecodeError struct {
	Param  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s %s", e.Param, e.Reason)
}

func decodeErr(param, reason string) *DecodeError {
	return &DecodeError{Param: param, Reason: reason}
}

// SortField is one key of a sort specification, in client order.
type SortField struct {
	Field string
	// Desc is true for a -1 marker.
	Desc bool
}

// Spec is the decoded description of a list query.
type Spec struct {
	// Where is the raw predicate tree, nil meaning "match everything".
	// Its structure beyond JSON well-formedness is the store's concern.
	Where map[string]any
	// Sort is nil when no explicit order was requested.
	Sort []SortField
	// Select is nil when the full record should be returned.
	Select Projection
	Skip   uint64
	// Limit is nil when no limit is imposed at the query level.
	Limit *uint64
	// Count requests a scalar count; skip/limit/select are ignored.
	Count bool
}

// Params carries the raw query-string values as delivered by the router.
// Empty string means the parameter was absent.
type Params struct {
	Where  string
	Sort   string
	Select string
	Skip   string
	Limit  string
	Count  string
}

// Decode runs all parameter decoders and assembles a Spec. defaultLimit is
// the resource-specific limit applied when the client sends none; zero means
// unlimited.
func Decode(p Params, defaultLimit uint64) (Spec, error) {
	var s Spec
	where, err := DecodeWhere(p.Where)
	if err != nil {
		return Spec{}, err
	}
	s.Where = where
	sort, err := DecodeSort(p.Sort)
	if err != nil {
		return Spec{}, err
	}
	s.Sort = sort
	sel, err := DecodeSelect(p.Select)
	if err != nil {
		return Spec{}, err
	}
	s.Select = sel
	skip, limit, err := DecodePagination(p.Skip, p.Limit, defaultLimit)
	if err != nil {
		return Spec{}, err
	}
	s.Skip = skip
	s.Limit = limit
	s.Count = DecodeCount(p.Count)
	return s, nil
}

// DecodeWhere parses the filter predicate. Absent input matches everything.
func DecodeWhere(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var where map[string]any
	if err := json.Unmarshal([]byte(raw), &where); err != nil {
		return nil, decodeErr("where", "unparsable")
	}
	return where, nil
}

// DecodeSort parses the ordering specification, preserving the client's key
// order. Absent input means the store default applies.
func DecodeSort(raw string) ([]SortField, error) {
	if raw == "" {
		return nil, nil
	}
	pairs, err := orderedObject(raw)
	if err != nil {
		return nil, decodeErr("sort", "unparsable")
	}
	fields := make([]SortField, 0, len(pairs))
	for _, p := range pairs {
		desc, err := sortDirection(p.value)
		if err != nil {
			return nil, decodeErr("sort", "unparsable")
		}
		fields = append(fields, SortField{Field: p.key, Desc: desc})
	}
	return fields, nil
}

func sortDirection(v any) (desc bool, err error) {
	switch n := v.(type) {
	case float64:
		if n >= 0 {
			return false, nil
		}
		return true, nil
	case string:
		switch strings.ToLower(n) {
		case "asc", "1":
			return false, nil
		case "desc", "-1":
			return true, nil
		}
	}
	return false, fmt.Errorf("bad sort direction %v", v)
}

type kv struct {
	key   string
	value any
}

// orderedObject decodes a one-level JSON object keeping key order, which
// encoding/json's map decoding would lose.
func orderedObject(raw string) ([]kv, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("not a JSON object")
	}
	var pairs []kv
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("bad object key")
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		if num, ok := value.(json.Number); ok {
			f, err := num.Float64()
			if err != nil {
				return nil, err
			}
			value = f
		}
		pairs = append(pairs, kv{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// DecodeCount reports whether count-mode was requested: only the lower-cased
// literal "true" counts.
func DecodeCount(raw string) bool {
	return strings.ToLower(raw) == "true"
}

// DecodePagination parses skip and limit. Each, when present, must be a
// base-10 non-negative integer string. Absent skip is 0; absent limit falls
// back to defaultLimit (0 meaning unlimited). An explicit limit of 0 also
// means unlimited.
func DecodePagination(rawSkip, rawLimit string, defaultLimit uint64) (skip uint64, limit *uint64, err error) {
	if rawSkip != "" {
		skip, err = strconv.ParseUint(rawSkip, 10, 64)
		if err != nil {
			return 0, nil, decodeErr("skip", "must be a non-negative integer")
		}
	}
	n := defaultLimit
	if rawLimit != "" {
		n, err = strconv.ParseUint(rawLimit, 10, 64)
		if err != nil {
			return 0, nil, decodeErr("limit", "must be a non-negative integer")
		}
	}
	if n == 0 {
		return skip, nil, nil
	}
	return skip, &n, nil
}
