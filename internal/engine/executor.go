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

/*
Execute implements spec.md §4.8's query executor contract on top of
internal/query's plan/predicate/cursor/cache types: a full table scan (or
an index-routed range scan, when the plan's WHERE compiles down to one
recognized range over an indexed column) filtered by the compiled
predicate, ordered, limited, and wrapped in a Cursor/ResultSet pair a
caller drains with Next/Row or Collect.

Binding a subquery's result into the outer predicate as a literal value —
turning `WHERE x IN (SELECT ...)` into a concrete IN-list, or a
correlated subquery's per-outer-row re-evaluation into a bound
comparison — is parser/planner work: internal/query.Predicate's leaf
shape carries a literal Column/Op/Value triple with no subquery
reference to bind against, by design (producing a Plan from SQL text is
out of scope, per internal/query's own package doc). This executor still
owns the other half of spec.md §4.8's subquery contract: ExecuteSubquery
runs a Subquery's Plan and maintains the non-correlated result cache
(fingerprint-keyed, invalidated per referenced table on write) a future
planner would consult before re-running one.
*/
package engine

import (
	"sort"
	"strconv"

	scdberrors "scdb/internal/errors"
	"scdb/internal/query"
	"scdb/internal/storage"
)

// ExecuteSubquery runs sq's plan and returns its rows, consulting (and,
// for a non-correlated subquery, populating) the subquery result cache.
// A correlated subquery is always re-executed: its result can depend on
// the outer row a caller hasn't bound yet, so spec.md §4.8 never caches
// it.
func (d *Database) ExecuteSubquery(sq *query.Subquery) ([]query.IndexedRow, error) {
	if !sq.Correlated {
		if rows, ok := d.SubqueryCache.Get(sq.Fingerprint()); ok {
			return rows, nil
		}
	}
	rs, err := d.Execute(sq.Plan)
	if err != nil {
		return nil, err
	}
	defer rs.Close()
	rows, err := rs.Collect()
	if err != nil {
		return nil, err
	}
	if !sq.Correlated {
		d.SubqueryCache.Put(sq, rows)
	}
	return rows, nil
}

// Execute runs plan against the database and returns a ResultSet the
// caller drains with Next/Row (or Collect, for small results).
func (d *Database) Execute(plan *query.Plan) (*query.ResultSet, error) {
	meta, ok := d.Table(plan.Table)
	if !ok {
		return nil, scdberrors.NotFound("engine: table %q not found", plan.Table)
	}

	plan.OrderSubqueriesNonCorrelatedFirst()
	for _, sq := range plan.Subqueries {
		if _, err := d.ExecuteSubquery(sq); err != nil {
			return nil, err
		}
	}

	where, err := plan.CompiledWhere()
	if err != nil {
		return nil, err
	}

	rows, err := d.collectMatchingRows(plan, meta, where)
	if err != nil {
		return nil, err
	}

	if len(plan.Aggregates) > 0 {
		rows = applyAggregates(plan, rows)
	} else {
		projectRows(plan, rows)
		sortRows(plan, meta, rows)
		rows = applyLimitOffset(plan, rows)
	}

	cursor := query.NewCursor(plan.Table, query.NewSliceSource(rows))
	if err := cursor.Open(); err != nil {
		return nil, err
	}
	return query.NewResultSet(resultColumns(plan), cursor), nil
}

// collectMatchingRows gathers every row passing where, routing through a
// B-tree index on plan's range candidate column when one exists and
// falling back to a full table scan otherwise.
func (d *Database) collectMatchingRows(plan *query.Plan, meta *TableMeta, where query.CompiledPredicate) ([]query.IndexedRow, error) {
	names := columnNames(meta.Columns)

	if r, ok := plan.RangeCandidate(); ok {
		d.mu.RLock()
		idx, hasIndex := d.indexes[meta.ID][r.Column]
		d.mu.RUnlock()
		if hasIndex && !meta.HashIndexed[r.Column] {
			refs, err := idx.FindRange(r.Lo, r.Hi)
			if err != nil {
				return nil, err
			}
			var rows []query.IndexedRow
			for _, ref := range refs {
				values, ok, err := d.Get(meta.Name, ref)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				row := query.NewIndexedRow(names, values)
				matched, err := where(row)
				if err != nil {
					return nil, err
				}
				if matched {
					rows = append(rows, row)
				}
			}
			return rows, nil
		}
	}

	var rows []query.IndexedRow
	err := d.scanRows(meta, func(_ storage.Ref, values []storage.Value) (bool, error) {
		row := query.NewIndexedRow(names, values)
		matched, err := where(row)
		if err != nil {
			return false, err
		}
		if matched {
			rows = append(rows, row)
		}
		return true, nil
	})
	return rows, err
}

func columnNames(cols []storage.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// resultColumns returns the column metadata for plan's projection.
func resultColumns(plan *query.Plan) []storage.Column {
	if plan.Project == nil {
		return plan.Columns
	}
	out := make([]storage.Column, len(plan.Project))
	for i, ord := range plan.Project {
		out[i] = plan.Columns[ord]
	}
	return out
}

// projectRows narrows every row down to plan.Project's ordinals in
// place, a no-op when the plan selects every column.
func projectRows(plan *query.Plan, rows []query.IndexedRow) {
	if plan.Project == nil {
		return
	}
	names := make([]string, len(plan.Project))
	for i, ord := range plan.Project {
		names[i] = plan.Columns[ord].Name
	}
	for i, row := range rows {
		values := make([]storage.Value, len(plan.Project))
		for j, ord := range plan.Project {
			values[j] = row.Get(ord)
		}
		rows[i] = query.NewIndexedRow(names, values)
	}
}

// sortRows orders rows in place per plan.OrderBy, using meta's columns
// for collation-aware comparison and treating later sort keys as
// tie-breakers for earlier ones.
func sortRows(plan *query.Plan, meta *TableMeta, rows []query.IndexedRow) {
	if len(plan.OrderBy) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, spec := range plan.OrderBy {
			col := meta.Columns[spec.Ordinal]
			cmp, err := storage.CompareValues(col, rows[i].Get(spec.Ordinal), rows[j].Get(spec.Ordinal))
			if err != nil || cmp == 0 {
				continue
			}
			if spec.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// applyLimitOffset slices rows per plan.Offset/plan.Limit. A negative
// Limit means unbounded, per Plan's doc.
func applyLimitOffset(plan *query.Plan, rows []query.IndexedRow) []query.IndexedRow {
	if plan.Offset > 0 {
		if plan.Offset >= len(rows) {
			return nil
		}
		rows = rows[plan.Offset:]
	}
	if plan.Limit >= 0 && plan.Limit < len(rows) {
		rows = rows[:plan.Limit]
	}
	return rows
}

// applyAggregates collapses rows into a single result row carrying one
// value per plan.Aggregates entry. spec.md §4.8 names no GROUP BY
// support, so every aggregate runs over the full matched set.
func applyAggregates(plan *query.Plan, rows []query.IndexedRow) []query.IndexedRow {
	names := make([]string, len(plan.Aggregates))
	values := make([]storage.Value, len(plan.Aggregates))
	for i, agg := range plan.Aggregates {
		names[i] = aggregateName(agg)
		values[i] = computeAggregate(agg, rows)
	}
	return []query.IndexedRow{query.NewIndexedRow(names, values)}
}

func aggregateName(agg query.Aggregate) string {
	switch agg.Kind {
	case query.AggCount:
		return "COUNT"
	case query.AggSum:
		return "SUM"
	case query.AggAvg:
		return "AVG"
	case query.AggMin:
		return "MIN"
	case query.AggMax:
		return "MAX"
	default:
		return "AGG"
	}
}

func computeAggregate(agg query.Aggregate, rows []query.IndexedRow) storage.Value {
	if agg.Kind == query.AggCount {
		if agg.Star {
			return storage.IntValue(int64(len(rows)))
		}
		n := 0
		for _, row := range rows {
			if !row.Get(agg.Ordinal).IsNull() {
				n++
			}
		}
		return storage.IntValue(int64(n))
	}

	var sum float64
	var count int
	var minV, maxV storage.Value
	hasMin, hasMax := false, false
	for _, row := range rows {
		v := row.Get(agg.Ordinal)
		if v.IsNull() {
			continue
		}
		f := numericOf(v)
		sum += f
		count++
		if !hasMin || f < numericOf(minV) {
			minV, hasMin = v, true
		}
		if !hasMax || f > numericOf(maxV) {
			maxV, hasMax = v, true
		}
	}

	switch agg.Kind {
	case query.AggSum:
		return storage.FloatValue(sum)
	case query.AggAvg:
		if count == 0 {
			return storage.NullValue
		}
		return storage.FloatValue(sum / float64(count))
	case query.AggMin:
		if !hasMin {
			return storage.NullValue
		}
		return minV
	case query.AggMax:
		if !hasMax {
			return storage.NullValue
		}
		return maxV
	default:
		return storage.NullValue
	}
}

func numericOf(v storage.Value) float64 {
	switch v.Kind {
	case storage.KindInt64:
		return float64(v.I)
	case storage.KindFloat64:
		return v.F
	case storage.KindDecimal:
		f, _ := strconv.ParseFloat(v.Dec, 64)
		return f
	default:
		return 0
	}
}
