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
	scdberrors "scdb/internal/errors"
	"scdb/internal/storage"
	"scdb/internal/txn"
)

// Txn is a single write transaction against a Database: every row
// mutation issued through it accumulates an inverse operation, so
// Rollback can unwind them without touching the WAL's own preimages (see
// the package doc for why).
type Txn struct {
	db      *Database
	tx      *txn.Transaction
	undo    []undoOp
	touched map[string]bool
	done    bool
}

// Begin starts a new write transaction. Per spec.md §4.6's single-writer
// model, this blocks until any previously active write transaction has
// committed or rolled back.
func (d *Database) Begin() (*Txn, error) {
	d.writerMu.Lock()
	tx, err := d.txns.Begin()
	if err != nil {
		d.writerMu.Unlock()
		return nil, err
	}
	return &Txn{db: d, tx: tx, touched: make(map[string]bool)}, nil
}

// Commit finalizes the transaction's writes and invalidates the plan,
// query-result, and subquery caches for every table this transaction
// wrote to, per spec.md §4.8's "mutating a table purges any cached entry
// that references it".
func (t *Txn) Commit() error {
	if t.done {
		return scdberrors.InvariantViolation("engine: transaction already finished")
	}
	t.done = true
	defer t.db.writerMu.Unlock()
	if err := t.db.txns.Commit(t.tx); err != nil {
		return err
	}
	for table := range t.touched {
		t.db.PlanCache.InvalidateTable(table)
		t.db.ResultCache.InvalidateTable(table)
		t.db.SubqueryCache.InvalidateTable(table)
	}
	return nil
}

// Rollback unwinds every row mutation issued under this transaction, in
// reverse order, then releases the write lock. An undo step that fails is
// logged and skipped rather than aborting the rest of the unwind, so one
// broken step doesn't leave everything after it unreverted.
func (t *Txn) Rollback() error {
	if t.done {
		return scdberrors.InvariantViolation("engine: transaction already finished")
	}
	t.done = true
	defer t.db.writerMu.Unlock()

	for i := len(t.undo) - 1; i >= 0; i-- {
		if err := t.undo[i](); err != nil {
			t.db.log.Error("rollback step failed", "txn", t.tx.ID, "err", err)
		}
	}
	return t.db.txns.Rollback(t.tx)
}

// resolveTable looks up a table's metadata and storage engine together,
// failing if either the table or its engine is missing.
func (d *Database) resolveTable(name string) (*TableMeta, storage.StorageEngine, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	meta, ok := d.catalog.Get(name)
	if !ok {
		return nil, nil, scdberrors.NotFound("engine: table %q not found", name)
	}
	eng, ok := d.engines[meta.ID]
	if !ok {
		return nil, nil, scdberrors.InvariantViolation("engine: table %q has no storage engine wired", name)
	}
	return meta, eng, nil
}

// validateRow checks values against meta's columns, applying ValidateValue
// per column and rejecting a NULL in a NOT NULL column.
func validateRow(meta *TableMeta, values []storage.Value) error {
	if len(values) != len(meta.Columns) {
		return scdberrors.InvariantViolation("engine: table %q expects %d columns, got %d", meta.Name, len(meta.Columns), len(values))
	}
	for i, col := range meta.Columns {
		v := values[i]
		if v.IsNull() && !col.Nullable {
			return scdberrors.InvariantViolation("engine: column %q is NOT NULL", col.Name)
		}
		if err := storage.ValidateValue(col, v); err != nil {
			return err
		}
	}
	return nil
}

// Insert encodes values as a new row in table and returns its Ref.
func (t *Txn) Insert(table string, values []storage.Value) (storage.Ref, error) {
	meta, eng, err := t.db.resolveTable(table)
	if err != nil {
		return 0, err
	}
	if err := validateRow(meta, values); err != nil {
		return 0, err
	}

	ref, err := eng.Insert(meta.ID, storage.EncodeRow(values))
	if err != nil {
		return 0, err
	}
	t.touched[table] = true
	t.db.persistTablePages(meta.ID)

	t.undo = append(t.undo, func() error { return eng.Delete(meta.ID, ref) })

	t.db.mu.RLock()
	indexes := t.db.indexes[meta.ID]
	t.db.mu.RUnlock()
	for col, idx := range indexes {
		ord := meta.columnOrdinal(col)
		if ord < 0 {
			continue
		}
		key := values[ord]
		if err := idx.Add(key, ref); err != nil {
			return ref, err
		}
		idx := idx
		t.undo = append(t.undo, func() error { _, err := idx.Remove(key, ref); return err })
	}
	return ref, nil
}

// Update replaces the row at ref in table with values.
func (t *Txn) Update(table string, ref storage.Ref, values []storage.Value) error {
	meta, eng, err := t.db.resolveTable(table)
	if err != nil {
		return err
	}
	if err := validateRow(meta, values); err != nil {
		return err
	}

	oldData, ok, err := eng.Read(meta.ID, ref)
	if err != nil {
		return err
	}
	if !ok {
		return scdberrors.NotFound("engine: table %q: ref %d not found", table, ref)
	}
	oldValues, err := storage.DecodeRow(oldData)
	if err != nil {
		return err
	}

	if err := eng.Update(meta.ID, ref, storage.EncodeRow(values)); err != nil {
		return err
	}
	t.touched[table] = true
	t.undo = append(t.undo, func() error { return eng.Update(meta.ID, ref, oldData) })

	t.db.mu.RLock()
	indexes := t.db.indexes[meta.ID]
	t.db.mu.RUnlock()
	for col, idx := range indexes {
		ord := meta.columnOrdinal(col)
		if ord < 0 {
			continue
		}
		oldKey, newKey := oldValues[ord], values[ord]
		if err := idx.Add(newKey, ref); err != nil {
			return err
		}
		if _, err := idx.Remove(oldKey, ref); err != nil {
			return err
		}
		idx, oldKey, newKey := idx, oldKey, newKey
		t.undo = append(t.undo, func() error {
			if _, err := idx.Remove(newKey, ref); err != nil {
				return err
			}
			return idx.Add(oldKey, ref)
		})
	}
	return nil
}

// Delete removes the row at ref from table.
func (t *Txn) Delete(table string, ref storage.Ref) error {
	meta, eng, err := t.db.resolveTable(table)
	if err != nil {
		return err
	}

	oldData, ok, err := eng.Read(meta.ID, ref)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	oldValues, err := storage.DecodeRow(oldData)
	if err != nil {
		return err
	}

	if err := eng.Delete(meta.ID, ref); err != nil {
		return err
	}
	t.touched[table] = true

	t.db.mu.RLock()
	indexes := t.db.indexes[meta.ID]
	t.db.mu.RUnlock()
	for col, idx := range indexes {
		ord := meta.columnOrdinal(col)
		if ord < 0 {
			continue
		}
		if _, err := idx.Remove(oldValues[ord], ref); err != nil {
			return err
		}
	}

	// Undo re-inserts the removed bytes as a fresh row. The restored row
	// gets a new Ref: neither storage engine exposes an "undelete at the
	// same location" operation (the heap engine's slot may already be
	// compacted away, and the append-only engine never reuses a location),
	// so this mirrors RestoreTablePages's append-only caveat — acceptable
	// because nothing outside the active transaction has observed ref
	// since the delete, the single-writer model guarantees no concurrent
	// transaction raced it, and a transaction that rolls back never
	// commits refs to an outside caller.
	t.undo = append(t.undo, func() error {
		newRef, err := eng.Insert(meta.ID, oldData)
		if err != nil {
			return err
		}
		for col, idx := range indexes {
			ord := meta.columnOrdinal(col)
			if ord < 0 {
				continue
			}
			if err := idx.Add(oldValues[ord], newRef); err != nil {
				return err
			}
		}
		return nil
	})
	return nil
}

// Get reads and decodes the row at ref in table.
func (t *Txn) Get(table string, ref storage.Ref) ([]storage.Value, bool, error) {
	return t.db.Get(table, ref)
}

// Get reads and decodes the row at ref in table, outside of any explicit
// transaction — a plain read never needs undo bookkeeping.
func (d *Database) Get(table string, ref storage.Ref) ([]storage.Value, bool, error) {
	meta, eng, err := d.resolveTable(table)
	if err != nil {
		return nil, false, err
	}
	data, ok, err := eng.Read(meta.ID, ref)
	if err != nil || !ok {
		return nil, ok, err
	}
	values, err := storage.DecodeRow(data)
	if err != nil {
		return nil, false, err
	}
	return values, true, nil
}

func (m *TableMeta) columnOrdinal(name string) int {
	for i, c := range m.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}
