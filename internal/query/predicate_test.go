/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package query

import (
	"testing"

	"scdb/internal/storage"
)

func schema() func(name string) (storage.Column, bool) {
	cols := map[string]storage.Column{
		"id":   {Name: "id", Kind: storage.KindInt64},
		"age":  {Name: "age", Kind: storage.KindInt64},
		"name": {Name: "name", Kind: storage.KindText, Collation: storage.CollationSpec{Kind: storage.CollationNoCase}},
	}
	return func(name string) (storage.Column, bool) {
		c, ok := cols[name]
		return c, ok
	}
}

func row(id, age int64, name string) IndexedRow {
	return NewIndexedRow([]string{"id", "age", "name"}, []storage.Value{
		storage.IntValue(id), storage.IntValue(age), storage.TextValue(name),
	})
}

func TestCompileLeafEquality(t *testing.T) {
	p := &Predicate{Column: "age", Op: OpEq, Value: storage.IntValue(30)}
	fn, err := Compile(p, schema())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	ok, err := fn(row(1, 30, "alice"))
	if err != nil || !ok {
		t.Fatalf("expected a match, got ok=%v err=%v", ok, err)
	}
	ok, err = fn(row(1, 31, "alice"))
	if err != nil || ok {
		t.Fatalf("expected no match, got ok=%v err=%v", ok, err)
	}
}

func TestCompileAndAllMustMatch(t *testing.T) {
	p := &Predicate{And: []*Predicate{
		{Column: "age", Op: OpGte, Value: storage.IntValue(18)},
		{Column: "name", Op: OpEq, Value: storage.TextValue("ALICE")},
	}}
	fn, err := Compile(p, schema())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	ok, err := fn(row(1, 20, "alice"))
	if err != nil || !ok {
		t.Fatalf("expected NOCASE collation to match across case, got ok=%v err=%v", ok, err)
	}
	ok, _ = fn(row(1, 10, "alice"))
	if ok {
		t.Fatal("expected the age leg to fail")
	}
}

func TestCompileOrAnyMayMatch(t *testing.T) {
	p := &Predicate{Or: []*Predicate{
		{Column: "age", Op: OpLt, Value: storage.IntValue(10)},
		{Column: "age", Op: OpGt, Value: storage.IntValue(100)},
	}}
	fn, err := Compile(p, schema())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if ok, _ := fn(row(1, 5, "x")); !ok {
		t.Fatal("expected the under-10 leg to match")
	}
	if ok, _ := fn(row(1, 50, "x")); ok {
		t.Fatal("expected neither leg to match")
	}
}

func TestCompileNotInvertsInner(t *testing.T) {
	p := &Predicate{Not: &Predicate{Column: "age", Op: OpEq, Value: storage.IntValue(30)}}
	fn, err := Compile(p, schema())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if ok, _ := fn(row(1, 30, "x")); ok {
		t.Fatal("expected NOT to invert a match into a miss")
	}
	if ok, _ := fn(row(1, 31, "x")); !ok {
		t.Fatal("expected NOT to invert a miss into a match")
	}
}

func TestCompileUnknownColumnErrors(t *testing.T) {
	p := &Predicate{Column: "bogus", Op: OpEq, Value: storage.IntValue(1)}
	if _, err := Compile(p, schema()); err == nil {
		t.Fatal("expected an error for an unresolvable column")
	}
}

func TestExtractRangeBetweenShape(t *testing.T) {
	p := &Predicate{And: []*Predicate{
		{Column: "age", Op: OpGte, Value: storage.IntValue(18)},
		{Column: "age", Op: OpLte, Value: storage.IntValue(65)},
	}}
	r, ok := ExtractRange(p)
	if !ok {
		t.Fatal("expected a range to be recognized")
	}
	if r.Column != "age" || !r.HasLo || !r.HasHi {
		t.Fatalf("got %+v", r)
	}
}

func TestExtractRangeSingleSided(t *testing.T) {
	p := &Predicate{Column: "age", Op: OpGt, Value: storage.IntValue(21)}
	r, ok := ExtractRange(p)
	if !ok || !r.HasLo || r.HasHi {
		t.Fatalf("expected a lo-only range, got %+v ok=%v", r, ok)
	}
}

func TestExtractRangeRejectsOrAndMixedColumns(t *testing.T) {
	or := &Predicate{Or: []*Predicate{
		{Column: "age", Op: OpGt, Value: storage.IntValue(1)},
		{Column: "age", Op: OpLt, Value: storage.IntValue(2)},
	}}
	if _, ok := ExtractRange(or); ok {
		t.Fatal("expected OR to be rejected, not servable by one ordered range scan")
	}

	mixed := &Predicate{And: []*Predicate{
		{Column: "age", Op: OpGt, Value: storage.IntValue(1)},
		{Column: "id", Op: OpLt, Value: storage.IntValue(2)},
	}}
	if _, ok := ExtractRange(mixed); ok {
		t.Fatal("expected a two-column AND to be rejected")
	}
}

func TestSIMDEligibleNumericLeafOnly(t *testing.T) {
	if !SIMDEligible(&Predicate{Column: "age", Op: OpGt, Value: storage.IntValue(1)}, schema()) {
		t.Fatal("expected a numeric leaf to be SIMD-eligible")
	}
	if SIMDEligible(&Predicate{Column: "name", Op: OpEq, Value: storage.TextValue("x")}, schema()) {
		t.Fatal("expected a TEXT column to be ineligible")
	}
	compound := &Predicate{And: []*Predicate{{Column: "age", Op: OpGt, Value: storage.IntValue(1)}}}
	if SIMDEligible(compound, schema()) {
		t.Fatal("expected a compound predicate to fall back to the scalar path")
	}
}

func TestSIMDCompareInt64MatchesScalarSemantics(t *testing.T) {
	values := []int64{1, 5, 10, 15, 20}
	got := SIMDCompareInt64(values, OpGte, 10)
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
