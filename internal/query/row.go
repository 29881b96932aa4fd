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
Package query implements the storage-facing half of the query executor
contract spec.md §4.8 names: the compiled plan shape, predicate tree and
compiled closure, cursor/result-set iteration, plan and query-text
caches, and subquery classification. The SQL parser/planner that produces
a Plan is out of scope (spec.md §4.8: "the higher-level parser/planner is
out of scope").
*/
package query

import "scdb/internal/storage"

// IndexedRow is an ordered array of column values addressed by ordinal,
// with a side map for by-name access, per spec.md §4.8.
type IndexedRow struct {
	Values  []storage.Value
	ordinal map[string]int
}

// NewIndexedRow builds an IndexedRow from values in column-ordinal order,
// with names giving each ordinal's column name (names[i] names Values[i]).
func NewIndexedRow(names []string, values []storage.Value) IndexedRow {
	ordinal := make(map[string]int, len(names))
	for i, n := range names {
		ordinal[n] = i
	}
	return IndexedRow{Values: values, ordinal: ordinal}
}

// Get returns the value at ordinal i.
func (r IndexedRow) Get(i int) storage.Value {
	return r.Values[i]
}

// GetByName returns the value for column name, and whether that column
// exists in this row.
func (r IndexedRow) GetByName(name string) (storage.Value, bool) {
	i, ok := r.ordinal[name]
	if !ok {
		return storage.Value{}, false
	}
	return r.Values[i], true
}

// Ordinal returns the column ordinal for name, or -1 if it is not present.
func (r IndexedRow) Ordinal(name string) int {
	i, ok := r.ordinal[name]
	if !ok {
		return -1
	}
	return i
}
