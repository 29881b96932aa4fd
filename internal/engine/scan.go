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

package engine

import (
	"scdb/internal/storage"
)

// tableScanner is satisfied by both HeapEngine and AppendOnlyEngine: a
// full walk of a table's live rows, each engine resolving its own Ref
// encoding internally.
type tableScanner interface {
	Scan(tableID storage.TableID, yield func(ref storage.Ref, data []byte) (bool, error)) error
}

// scanRows walks every live row in meta's table and invokes yield with
// each row's Ref and decoded values. yield returning false stops the scan
// early.
func (d *Database) scanRows(meta *TableMeta, yield func(ref storage.Ref, values []storage.Value) (bool, error)) error {
	scanner, ok := d.engines[meta.ID].(tableScanner)
	if !ok {
		return nil
	}
	return scanner.Scan(meta.ID, func(ref storage.Ref, data []byte) (bool, error) {
		values, err := storage.DecodeRow(data)
		if err != nil {
			return false, err
		}
		return yield(ref, values)
	})
}

// tableSource adapts one table's column scan into internal/index's
// Source interface, so a secondary index can (re)build itself straight
// off the storage engine without the engine exposing its row format.
type tableSource struct {
	db     *Database
	meta   *TableMeta
	column string
}

func (s *tableSource) Scan(yield func(key storage.Value, ref storage.Ref) bool) error {
	ordinal := -1
	for i, c := range s.meta.Columns {
		if c.Name == s.column {
			ordinal = i
			break
		}
	}
	if ordinal < 0 {
		return nil
	}
	return s.db.scanRows(s.meta, func(ref storage.Ref, values []storage.Value) (bool, error) {
		if ordinal >= len(values) {
			return true, nil
		}
		return yield(values[ordinal], ref), nil
	})
}
