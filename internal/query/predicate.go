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
	scdberrors "scdb/internal/errors"
	"scdb/internal/storage"
)

// Op is a predicate comparison operator. The set matches spec.md §4.8's
// range-predicate and SIMD-accelerator operator lists.
type Op int

const (
	OpEq Op = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpNeq:
		return "<>"
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	default:
		return "?"
	}
}

// Predicate is a node in the WHERE filter's tree form: either a leaf
// comparison (Column Op Value) or an AND/OR/NOT combinator over children.
// This is the tree form spec.md §4.8 names alongside the compiled closure
// form; its leaf shape is grounded on the teacher's internal/sql/ast.go
// Condition/WhereClause (Column/Operator/Value plus chained And/Or).
type Predicate struct {
	// Leaf fields.
	Column string
	Op     Op
	Value  storage.Value

	// Combinator fields; exactly one of Leaf-shape or Combinator-shape is
	// populated.
	And []*Predicate
	Or  []*Predicate
	Not *Predicate
}

func (p *Predicate) isLeaf() bool {
	return p.And == nil && p.Or == nil && p.Not == nil
}

// CompiledPredicate is a closure over an IndexedRow, cached on the Plan
// after first compilation.
type CompiledPredicate func(row IndexedRow) (bool, error)

// Compile turns a Predicate tree into a closure over IndexedRow. col
// resolves a column name to its schema definition, needed for
// collation-aware TEXT comparison.
func Compile(p *Predicate, col func(name string) (storage.Column, bool)) (CompiledPredicate, error) {
	if p == nil {
		return func(IndexedRow) (bool, error) { return true, nil }, nil
	}
	if p.Not != nil {
		inner, err := Compile(p.Not, col)
		if err != nil {
			return nil, err
		}
		return func(row IndexedRow) (bool, error) {
			v, err := inner(row)
			if err != nil {
				return false, err
			}
			return !v, nil
		}, nil
	}
	if p.And != nil {
		compiled := make([]CompiledPredicate, len(p.And))
		for i, c := range p.And {
			cc, err := Compile(c, col)
			if err != nil {
				return nil, err
			}
			compiled[i] = cc
		}
		return func(row IndexedRow) (bool, error) {
			for _, c := range compiled {
				ok, err := c(row)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
			}
			return true, nil
		}, nil
	}
	if p.Or != nil {
		compiled := make([]CompiledPredicate, len(p.Or))
		for i, c := range p.Or {
			cc, err := Compile(c, col)
			if err != nil {
				return nil, err
			}
			compiled[i] = cc
		}
		return func(row IndexedRow) (bool, error) {
			for _, c := range compiled {
				ok, err := c(row)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		}, nil
	}

	colDef, ok := col(p.Column)
	if !ok {
		return nil, scdberrors.InvariantViolation("query: unknown column %q", p.Column)
	}
	ordinal := -1
	return func(row IndexedRow) (bool, error) {
		if ordinal < 0 {
			ordinal = row.Ordinal(p.Column)
			if ordinal < 0 {
				return false, scdberrors.InvariantViolation("query: column %q not present in row", p.Column)
			}
		}
		cmp, err := storage.CompareValues(colDef, row.Get(ordinal), p.Value)
		if err != nil {
			return false, err
		}
		switch p.Op {
		case OpEq:
			return cmp == 0, nil
		case OpNeq:
			return cmp != 0, nil
		case OpLt:
			return cmp < 0, nil
		case OpLte:
			return cmp <= 0, nil
		case OpGt:
			return cmp > 0, nil
		case OpGte:
			return cmp >= 0, nil
		default:
			return false, scdberrors.InvariantViolation("query: unknown operator %v", p.Op)
		}
	}, nil
}

// Range is a recognized `col BETWEEN lo AND hi` (or a single-sided
// `col > v`/`col >= v`/`col < v`/`col <= v`) fragment, extracted from a
// predicate tree so the executor can route it to a B-tree index instead
// of a full scan.
type Range struct {
	Column       string
	Lo, Hi       storage.Value
	HasLo, HasHi bool
}

// ExtractRange recognizes spec.md §4.8's range-predicate shapes from a
// single top-level AND of leaf comparisons over the same column. It does
// not recurse through OR (a disjunction cannot be served by one ordered
// range scan) or across columns (combining ranges on different columns
// needs a multi-index intersection the executor does not attempt here).
func ExtractRange(p *Predicate) (Range, bool) {
	if p == nil {
		return Range{}, false
	}
	var leaves []*Predicate
	switch {
	case p.isLeaf():
		leaves = []*Predicate{p}
	case p.And != nil:
		leaves = p.And
	default:
		return Range{}, false
	}

	var r Range
	for _, leaf := range leaves {
		if !leaf.isLeaf() {
			return Range{}, false
		}
		if r.Column == "" {
			r.Column = leaf.Column
		} else if r.Column != leaf.Column {
			return Range{}, false
		}
		switch leaf.Op {
		case OpGte, OpGt:
			if r.HasLo {
				return Range{}, false
			}
			r.Lo, r.HasLo = leaf.Value, true
		case OpLte, OpLt:
			if r.HasHi {
				return Range{}, false
			}
			r.Hi, r.HasHi = leaf.Value, true
		case OpEq:
			if r.HasLo || r.HasHi {
				return Range{}, false
			}
			r.Lo, r.Hi, r.HasLo, r.HasHi = leaf.Value, leaf.Value, true, true
		default:
			return Range{}, false
		}
	}
	if !r.HasLo && !r.HasHi {
		return Range{}, false
	}
	return r, true
}

// SIMDEligible reports whether p is a single-column numeric comparison
// (col op literal) spec.md §4.8 names as eligible for the batched
// comparator; compound predicates (AND/OR/NOT) fall back to the scalar
// compiled-closure path.
func SIMDEligible(p *Predicate, col func(name string) (storage.Column, bool)) bool {
	if p == nil || !p.isLeaf() {
		return false
	}
	colDef, ok := col(p.Column)
	if !ok {
		return false
	}
	switch colDef.Kind {
	case storage.KindInt64, storage.KindFloat64, storage.KindDecimal:
		return true
	default:
		return false
	}
}

// SIMDCompareInt64 batches `col op literal` over a dense int64 array,
// returning the matching indices. The scalar Compile path is always
// correct for the same predicate; this exists purely as a faster path
// for the shape SIMDEligible recognizes.
func SIMDCompareInt64(values []int64, op Op, literal int64) []int {
	var out []int
	for i, v := range values {
		var match bool
		switch op {
		case OpEq:
			match = v == literal
		case OpNeq:
			match = v != literal
		case OpLt:
			match = v < literal
		case OpLte:
			match = v <= literal
		case OpGt:
			match = v > literal
		case OpGte:
			match = v >= literal
		}
		if match {
			out = append(out, i)
		}
	}
	return out
}

// SIMDCompareFloat64 is SIMDCompareInt64's counterpart for dense float64
// arrays (DOUBLE/DECIMAL columns represented as float64 for comparison).
func SIMDCompareFloat64(values []float64, op Op, literal float64) []int {
	var out []int
	for i, v := range values {
		var match bool
		switch op {
		case OpEq:
			match = v == literal
		case OpNeq:
			match = v != literal
		case OpLt:
			match = v < literal
		case OpLte:
			match = v <= literal
		case OpGt:
			match = v > literal
		case OpGte:
			match = v >= literal
		}
		if match {
			out = append(out, i)
		}
	}
	return out
}
