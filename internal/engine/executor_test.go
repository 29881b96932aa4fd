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
	"testing"

	"scdb/internal/query"
	"scdb/internal/storage"
)

func seedUsers(t *testing.T, db *Database, ages ...int64) {
	t.Helper()
	txn := mustBegin(t, db)
	for i, age := range ages {
		name := "user"
		if _, err := txn.Insert("users", []storage.Value{
			storage.IntValue(int64(i)), storage.IntValue(age), storage.TextValue(name),
		}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestExecuteFullScanWithWhere(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	meta, err := db.CreateTable("users", usersColumns(), storage.EngineTypeHeap)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	seedUsers(t, db, 18, 25, 40, 65)

	plan := &query.Plan{
		Table:   "users",
		Columns: meta.Columns,
		Where:   &query.Predicate{Column: "age", Op: query.OpGte, Value: storage.IntValue(25)},
		Limit:   -1,
	}
	rs, err := db.Execute(plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rows, err := rs.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows with age >= 25, got %d: %+v", len(rows), rows)
	}
}

func TestExecuteRoutesThroughIndexForRangePredicate(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	meta, err := db.CreateTable("users", usersColumns(), storage.EngineTypeHeap)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := db.CreateIndex("users", "age", false); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	seedUsers(t, db, 18, 25, 40, 65)

	plan := &query.Plan{
		Table:   "users",
		Columns: meta.Columns,
		Where:   &query.Predicate{Column: "age", Op: query.OpGte, Value: storage.IntValue(25)},
		Limit:   -1,
	}
	rs, err := db.Execute(plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rows, err := rs.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows with age >= 25 via the index path, got %d: %+v", len(rows), rows)
	}
}

func TestExecuteOrderByLimitOffset(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	meta, err := db.CreateTable("users", usersColumns(), storage.EngineTypeHeap)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	seedUsers(t, db, 40, 18, 65, 25)

	plan := &query.Plan{
		Table:   "users",
		Columns: meta.Columns,
		OrderBy: []query.SortSpec{{Ordinal: 1}},
		Limit:   2,
		Offset:  1,
	}
	rs, err := db.Execute(plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rows, err := rs.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after offset 1/limit 2, got %d", len(rows))
	}
	// Ages sorted ascending: 18, 25, 40, 65. Offset 1 / limit 2 -> 25, 40.
	if rows[0].Get(1).I != 25 || rows[1].Get(1).I != 40 {
		t.Fatalf("expected ages [25 40], got [%d %d]", rows[0].Get(1).I, rows[1].Get(1).I)
	}
}

func TestExecuteCountAggregate(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	meta, err := db.CreateTable("users", usersColumns(), storage.EngineTypeHeap)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	seedUsers(t, db, 18, 25, 40)

	plan := &query.Plan{
		Table:      "users",
		Columns:    meta.Columns,
		Aggregates: []query.Aggregate{{Kind: query.AggCount, Star: true}},
	}
	rs, err := db.Execute(plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rows, err := rs.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected a single aggregate row, got %d", len(rows))
	}
	if rows[0].Get(0).I != 3 {
		t.Fatalf("expected COUNT(*) = 3, got %d", rows[0].Get(0).I)
	}
}

func TestExecuteSumAndAvgAggregate(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	meta, err := db.CreateTable("users", usersColumns(), storage.EngineTypeHeap)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	seedUsers(t, db, 10, 20, 30)

	plan := &query.Plan{
		Table:   "users",
		Columns: meta.Columns,
		Aggregates: []query.Aggregate{
			{Kind: query.AggSum, Ordinal: 1},
			{Kind: query.AggAvg, Ordinal: 1},
		},
	}
	rs, err := db.Execute(plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rows, err := rs.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if rows[0].Get(0).F != 60 {
		t.Fatalf("expected SUM = 60, got %v", rows[0].Get(0).F)
	}
	if rows[0].Get(1).F != 20 {
		t.Fatalf("expected AVG = 20, got %v", rows[0].Get(1).F)
	}
}

func TestExecuteUnknownTableFails(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	_, err := db.Execute(&query.Plan{Table: "ghost", Limit: -1})
	if err == nil {
		t.Fatal("expected an error executing a plan against an unregistered table")
	}
}

func TestExecuteSubqueryCachesNonCorrelated(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	meta, err := db.CreateTable("users", usersColumns(), storage.EngineTypeHeap)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	seedUsers(t, db, 18, 25)

	sq := &query.Subquery{
		SQL:        "SELECT age FROM users",
		Correlated: false,
		Plan:       &query.Plan{Table: "users", Columns: meta.Columns, Limit: -1},
	}
	rows1, err := db.ExecuteSubquery(sq)
	if err != nil {
		t.Fatalf("ExecuteSubquery: %v", err)
	}
	if len(rows1) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows1))
	}

	if _, ok := db.SubqueryCache.Get(sq.Fingerprint()); !ok {
		t.Fatal("expected a non-correlated subquery's result to be cached")
	}
}
