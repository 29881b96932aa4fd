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

import "scdb/internal/storage"

// SortSpec is one ORDER-BY key: a column ordinal and its direction.
type SortSpec struct {
	Ordinal    int
	Descending bool
}

// AggregateKind names a supported aggregate function.
type AggregateKind int

const (
	AggCount AggregateKind = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

// Aggregate is one aggregate expression over a projected column.
type Aggregate struct {
	Kind    AggregateKind
	Ordinal int // column ordinal being aggregated; ignored for AggCount(*)
	Star    bool
}

// Plan is the compiled query shape the executor runs, per spec.md §4.8: a
// resolved table, projected column ordinals, an optional WHERE filter
// (kept in both tree and compiled-closure form), ORDER-BY, LIMIT/OFFSET,
// aggregates, and the table's column→ordinal map. Producing a Plan from
// SQL text is the parser/planner's job and is out of scope here; this
// package only consumes and executes an already-built Plan.
type Plan struct {
	Table   string
	Columns []storage.Column // the table's full column metadata, ordinal-ordered
	Project []int            // selected column ordinals; nil means all columns

	Where          *Predicate
	compiledWhere  CompiledPredicate
	rangeCandidate Range
	hasRange       bool

	OrderBy []SortSpec
	Limit   int // <0 means unbounded
	Offset  int

	Aggregates []Aggregate

	// Subqueries referenced by Where, ordered non-correlated-first per
	// spec.md §4.8.
	Subqueries []*Subquery
}

// ColumnOrdinal resolves a column by name against the plan's table schema.
func (p *Plan) ColumnOrdinal(name string) (storage.Column, bool) {
	for _, c := range p.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return storage.Column{}, false
}

// CompiledWhere returns the plan's compiled predicate closure, compiling
// and caching it on first use. Subsequent calls reuse the cached closure,
// matching spec.md §4.8's "the compiled form is cached on the plan".
func (p *Plan) CompiledWhere() (CompiledPredicate, error) {
	if p.compiledWhere != nil {
		return p.compiledWhere, nil
	}
	fn, err := Compile(p.Where, p.ColumnOrdinal)
	if err != nil {
		return nil, err
	}
	p.compiledWhere = fn
	return fn, nil
}

// RangeCandidate returns the range fragment extracted from the plan's
// WHERE clause, if one was recognized, computing and caching it on first
// use.
func (p *Plan) RangeCandidate() (Range, bool) {
	if p.hasRange {
		return p.rangeCandidate, true
	}
	r, ok := ExtractRange(p.Where)
	if !ok {
		return Range{}, false
	}
	p.rangeCandidate = r
	p.hasRange = true
	return r, true
}

// OrderSubqueriesNonCorrelatedFirst reorders p.Subqueries so
// non-correlated subqueries run before correlated ones, per spec.md
// §4.8 ("A plan orders non-correlated subqueries first").
func (p *Plan) OrderSubqueriesNonCorrelatedFirst() {
	nonCorrelated := make([]*Subquery, 0, len(p.Subqueries))
	correlated := make([]*Subquery, 0, len(p.Subqueries))
	for _, sq := range p.Subqueries {
		if sq.Correlated {
			correlated = append(correlated, sq)
		} else {
			nonCorrelated = append(nonCorrelated, sq)
		}
	}
	p.Subqueries = append(nonCorrelated, correlated...)
}

// ReferencesTable reports whether this plan reads from table, either
// directly or through one of its subqueries. Used by the query-text
// cache's invalidation sweep.
func (p *Plan) ReferencesTable(table string) bool {
	if p.Table == table {
		return true
	}
	for _, sq := range p.Subqueries {
		if sq.Plan != nil && sq.Plan.ReferencesTable(table) {
			return true
		}
	}
	return false
}
