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

// ResultSet pairs a Cursor with the column metadata of the rows it
// yields, the shape a statement handle returns to a caller.
type ResultSet struct {
	ID      string
	Columns []storage.Column
	cursor  *Cursor
}

// NewResultSet wraps cursor with its row shape's column metadata.
func NewResultSet(columns []storage.Column, cursor *Cursor) *ResultSet {
	return &ResultSet{ID: GenerateResultSetID(), Columns: columns, cursor: cursor}
}

// Next advances to the next row.
func (rs *ResultSet) Next() (bool, error) {
	return rs.cursor.Next()
}

// Row returns the row Next last positioned on.
func (rs *ResultSet) Row() IndexedRow {
	return rs.cursor.Row()
}

// Close releases the underlying cursor.
func (rs *ResultSet) Close() error {
	return rs.cursor.Close()
}

// ColumnNames returns the result set's column names in ordinal order.
func (rs *ResultSet) ColumnNames() []string {
	names := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		names[i] = c.Name
	}
	return names
}

// Collect drains the result set into a slice of rows. Intended for tests
// and small result sets; a caller that expects a large or unbounded
// result set should iterate Next/Row instead.
func (rs *ResultSet) Collect() ([]IndexedRow, error) {
	var rows []IndexedRow
	for {
		ok, err := rs.Next()
		if err != nil {
			return rows, err
		}
		if !ok {
			return rows, nil
		}
		rows = append(rows, rs.Row())
	}
}

// sliceSource is a RowSource over a pre-materialized slice of rows,
// grounded on the teacher's CursorStatic snapshot semantics but without
// the scroll/position-seek machinery spec.md §4.8 does not ask for.
type sliceSource struct {
	rows []IndexedRow
	pos  int
}

// NewSliceSource builds a RowSource that walks a fixed, already-computed
// slice of rows once, forward-only.
func NewSliceSource(rows []IndexedRow) RowSource {
	return &sliceSource{rows: rows}
}

func (s *sliceSource) Next() (IndexedRow, bool, error) {
	if s.pos >= len(s.rows) {
		return IndexedRow{}, false, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, true, nil
}

func (s *sliceSource) Close() error { return nil }
