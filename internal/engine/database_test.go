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
	"path/filepath"
	"testing"

	"scdb/internal/config"
	"scdb/internal/storage"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "test.scdb"), filepath.Join(dir, "wal"), config.DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return db
}

func usersColumns() []storage.Column {
	return []storage.Column{
		{Name: "id", Kind: storage.KindInt64},
		{Name: "age", Kind: storage.KindInt64},
		{Name: "name", Kind: storage.KindText, Nullable: true},
	}
}

func TestCreateTableThenLookup(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	meta, err := db.CreateTable("users", usersColumns(), storage.EngineTypeHeap)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if meta.Name != "users" || len(meta.Columns) != 3 {
		t.Fatalf("got %+v", meta)
	}

	got, ok := db.Table("users")
	if !ok || got.ID != meta.ID {
		t.Fatalf("Table lookup mismatch: ok=%v got=%+v", ok, got)
	}
	if names := db.TableNames(); len(names) != 1 || names[0] != "users" {
		t.Fatalf("TableNames: %v", names)
	}
}

func TestCreateIndexRegistersSecondaryIndex(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if _, err := db.CreateTable("users", usersColumns(), storage.EngineTypeHeap); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := db.CreateIndex("users", "age", false); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	meta, _ := db.Table("users")
	if len(meta.IndexedColumns) != 1 || meta.IndexedColumns[0] != "age" {
		t.Fatalf("expected catalog to record the new index, got %+v", meta.IndexedColumns)
	}
	if _, ok := db.indexes[meta.ID]["age"]; !ok {
		t.Fatal("expected a live index handle for users.age")
	}
}

func TestReopenRestoresCatalogAndRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.scdb")
	walDir := filepath.Join(dir, "wal")

	db, err := Open(path, walDir, config.DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := db.CreateTable("users", usersColumns(), storage.EngineTypeHeap); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	ref, err := txn.Insert("users", []storage.Value{
		storage.IntValue(1), storage.IntValue(30), storage.TextValue("alice"),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(path, walDir, config.DefaultConfig())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	meta, ok := db2.Table("users")
	if !ok {
		t.Fatal("expected users table to survive a reopen")
	}
	values, ok, err := db2.Get("users", ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected row to survive a reopen")
	}
	if values[0].I != 1 || values[1].I != 30 {
		t.Fatalf("got %+v", values)
	}
	if len(meta.Columns) != 3 {
		t.Fatalf("got %+v", meta.Columns)
	}
}

func TestReopenAfterUncleanShutdownRecoversWAL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.scdb")
	walDir := filepath.Join(dir, "wal")

	db, err := Open(path, walDir, config.DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := db.CreateTable("users", usersColumns(), storage.EngineTypeHeap); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := txn.Insert("users", []storage.Value{
		storage.IntValue(1), storage.IntValue(30), storage.TextValue("alice"),
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Simulate a crash: tear down the page cache and container without
	// deleting the WAL segment Close() would normally remove.
	if err := db.pages.FlushDirty(); err != nil {
		t.Fatalf("FlushDirty: %v", err)
	}
	if err := db.container.Close(); err != nil {
		t.Fatalf("container.Close: %v", err)
	}

	db2, err := Open(path, walDir, config.DefaultConfig())
	if err != nil {
		t.Fatalf("recovering reopen: %v", err)
	}
	defer db2.Close()

	if _, ok := db2.Table("users"); !ok {
		t.Fatal("expected users table to survive crash recovery")
	}
}
