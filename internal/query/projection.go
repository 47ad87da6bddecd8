package query

import (
	"encoding/json"
	"errors"
)

// idField is the primary identifier field, which document-store convention
// always includes unless explicitly excluded.
const idField = "_id"

var errBadMarker = errors.New("bad projection marker")

// Projection maps field names to an inclusion (true) or exclusion (false)
// marker. A nil Projection returns the full record.
type Projection map[string]bool

// Inclusive reports whether the projection names at least one included field.
func (p Projection) Inclusive() bool {
	for _, include := range p {
		if include {
			return true
		}
	}
	return false
}

// DecodeSelect parses the field projection. Absent input or an empty object
// means the full record. Inclusion and exclusion markers must not be mixed,
// except that _id may carry an exclusion marker inside an otherwise
// inclusion projection.
func DecodeSelect(raw string) (Projection, error) {
	if raw == "" {
		return nil, nil
	}
	var sel map[string]any
	if err := json.Unmarshal([]byte(raw), &sel); err != nil {
		return nil, decodeErr("select", "unparsable")
	}
	if len(sel) == 0 {
		return nil, nil
	}
	p := make(Projection, len(sel))
	var sawInclude, sawExclude bool
	for field, marker := range sel {
		include, err := projectionMarker(marker)
		if err != nil {
			return nil, decodeErr("select", "unparsable")
		}
		p[field] = include
		if include {
			sawInclude = true
		} else if field != idField {
			sawExclude = true
		}
	}
	if sawInclude && sawExclude {
		return nil, decodeErr("select", "cannot mix inclusion and exclusion")
	}
	return p, nil
}

func projectionMarker(v any) (bool, error) {
	switch m := v.(type) {
	case bool:
		return m, nil
	case float64:
		return m != 0, nil
	}
	return false, errBadMarker
}

// Apply shapes one transport document according to the projection. A nil
// projection returns the document unchanged.
func (p Projection) Apply(doc map[string]any) map[string]any {
	if p == nil {
		return doc
	}
	out := make(map[string]any, len(doc))
	if p.Inclusive() {
		for field, include := range p {
			if !include {
				continue
			}
			if v, ok := doc[field]; ok {
				out[field] = v
			}
		}
		// _id rides along unless explicitly excluded.
		if include, listed := p[idField]; !listed || include {
			if v, ok := doc[idField]; ok {
				out[idField] = v
			}
		}
		return out
	}
	for field, v := range doc {
		if include, listed := p[field]; listed && !include {
			continue
		}
		out[field] = v
	}
	return out
}

// ApplyAll shapes a sequence of transport documents.
func (p Projection) ApplyAll(docs []map[string]any) []map[string]any {
	if p == nil {
		return docs
	}
	out := make([]map[string]any, len(docs))
	for i, doc := range docs {
		out[i] = p.Apply(doc)
	}
	return out
}
