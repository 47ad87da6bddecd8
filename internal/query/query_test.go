package query

import (
	"errors"
	"reflect"
	"testing"
)

func TestDecodeWhere(t *testing.T) {
	where, err := DecodeWhere(`{"completed":true}`)
	if err != nil {
		t.Fatalf("decode where: %v", err)
	}
	if where["completed"] != true {
		t.Fatalf("where = %v", where)
	}

	if _, err := DecodeWhere(`{broken`); err == nil {
		t.Fatal("expected error for malformed where")
	}
	var de *DecodeError
	_, err = DecodeWhere(`[1,2]`)
	if !errors.As(err, &de) || de.Param != "where" {
		t.Fatalf("expected where DecodeError, got %v", err)
	}

	where, err = DecodeWhere("")
	if err != nil || where != nil {
		t.Fatalf("absent where should match everything, got %v, %v", where, err)
	}
}

func TestDecodeSortKeepsOrder(t *testing.T) {
	sort, err := DecodeSort(`{"name":1,"deadline":-1}`)
	if err != nil {
		t.Fatalf("decode sort: %v", err)
	}
	want := []SortField{{Field: "name"}, {Field: "deadline", Desc: true}}
	if !reflect.DeepEqual(sort, want) {
		t.Fatalf("sort = %v, want %v", sort, want)
	}

	if s, err := DecodeSort(""); err != nil || s != nil {
		t.Fatalf("absent sort should be nil, got %v, %v", s, err)
	}
	if _, err := DecodeSort(`{"name":`); err == nil {
		t.Fatal("expected error for malformed sort")
	}
}

func TestDecodeSelectMutualExclusion(t *testing.T) {
	if _, err := DecodeSelect(`{"a":1,"b":0}`); err == nil {
		t.Fatal("mixed projection should fail")
	}

	p, err := DecodeSelect(`{"_id":0,"a":1}`)
	if err != nil {
		t.Fatalf("_id exclusion inside inclusion projection should pass: %v", err)
	}
	if !p.Inclusive() {
		t.Fatal("projection should be inclusive")
	}

	if p, err := DecodeSelect(`{}`); err != nil || p != nil {
		t.Fatalf("empty object should mean full record, got %v, %v", p, err)
	}
	if p, err := DecodeSelect(""); err != nil || p != nil {
		t.Fatalf("absent select should mean full record, got %v, %v", p, err)
	}
}

func TestProjectionApply(t *testing.T) {
	doc := map[string]any{"_id": "x", "name": "n", "email": "e"}

	p, err := DecodeSelect(`{"name":1}`)
	if err != nil {
		t.Fatal(err)
	}
	got := p.Apply(doc)
	if !reflect.DeepEqual(got, map[string]any{"_id": "x", "name": "n"}) {
		t.Fatalf("inclusive Apply = %v", got)
	}

	p, err = DecodeSelect(`{"name":1,"_id":0}`)
	if err != nil {
		t.Fatal(err)
	}
	got = p.Apply(doc)
	if !reflect.DeepEqual(got, map[string]any{"name": "n"}) {
		t.Fatalf("inclusive Apply without _id = %v", got)
	}

	p, err = DecodeSelect(`{"email":0}`)
	if err != nil {
		t.Fatal(err)
	}
	got = p.Apply(doc)
	if !reflect.DeepEqual(got, map[string]any{"_id": "x", "name": "n"}) {
		t.Fatalf("exclusive Apply = %v", got)
	}

	var none Projection
	if got := none.Apply(doc); !reflect.DeepEqual(got, doc) {
		t.Fatalf("nil projection should be identity, got %v", got)
	}
}

func TestDecodePagination(t *testing.T) {
	if _, _, err := DecodePagination("abc", "", 100); err == nil {
		t.Fatal("non-numeric skip should fail")
	}
	if _, _, err := DecodePagination("", "-1", 100); err == nil {
		t.Fatal("negative limit should fail")
	}

	skip, limit, err := DecodePagination("", "", 100)
	if err != nil {
		t.Fatal(err)
	}
	if skip != 0 || limit == nil || *limit != 100 {
		t.Fatalf("defaults: skip=%d limit=%v", skip, limit)
	}

	// Explicit zero and an unlimited default both impose no limit.
	if _, limit, _ := DecodePagination("", "0", 100); limit != nil {
		t.Fatalf("limit=0 should be unlimited, got %v", *limit)
	}
	if _, limit, _ := DecodePagination("", "", 0); limit != nil {
		t.Fatalf("zero default should be unlimited, got %v", *limit)
	}

	skip, limit, err = DecodePagination("60", "20", 100)
	if err != nil || skip != 60 || limit == nil || *limit != 20 {
		t.Fatalf("skip=60 limit=20 decode failed: %d %v %v", skip, limit, err)
	}
}

func TestDecodeCount(t *testing.T) {
	if !DecodeCount("true") || !DecodeCount("TRUE") {
		t.Fatal("count=true should enable count mode")
	}
	for _, raw := range []string{"", "false", "1", "yes"} {
		if DecodeCount(raw) {
			t.Fatalf("count=%q should be false", raw)
		}
	}
}

func TestDecodeShortCircuits(t *testing.T) {
	_, err := Decode(Params{Where: `{bad`, Sort: `{"name":1}`}, 100)
	var de *DecodeError
	if !errors.As(err, &de) || de.Param != "where" {
		t.Fatalf("expected where failure first, got %v", err)
	}

	s, err := Decode(Params{Count: "true", Skip: "5", Limit: "10"}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Count {
		t.Fatal("count mode not decoded")
	}
}
