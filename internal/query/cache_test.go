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

import "testing"

func TestPlanCacheHitAfterPut(t *testing.T) {
	c := NewPlanCache(4)
	p := testPlan()
	c.Put("stmt1", p)

	got, ok := c.Get("stmt1")
	if !ok || got != p {
		t.Fatalf("expected a cache hit returning the same plan, got ok=%v", ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected a miss for an unknown key")
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Count != 1 {
		t.Fatalf("got %+v", stats)
	}
}

func TestPlanCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewPlanCache(2)
	c.Put("a", testPlan())
	c.Put("b", testPlan())
	c.Get("a") // a is now most-recently-used
	c.Put("c", testPlan())

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to have been evicted as the least-recently-used entry")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to survive since it was just accessed")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected the newly inserted entry to be present")
	}
}

func TestPlanCacheInvalidateTablePurgesReferencingPlans(t *testing.T) {
	c := NewPlanCache(4)
	c.Put("users-scan", &Plan{Table: "users"})
	c.Put("orders-scan", &Plan{Table: "orders"})

	c.InvalidateTable("users")
	if _, ok := c.Get("users-scan"); ok {
		t.Fatal("expected the users plan to be purged")
	}
	if _, ok := c.Get("orders-scan"); !ok {
		t.Fatal("did not expect the orders plan to be purged")
	}
}

func TestQueryResultCacheRoundTripByCanonicalText(t *testing.T) {
	c := NewQueryResultCache(4)
	plan := &Plan{Table: "users"}
	rows := []IndexedRow{row(1, 1, "x")}
	c.Put("SELECT * FROM users", plan, rows)

	got, ok := c.Get("select   *   from users")
	if !ok || len(got) != 1 {
		t.Fatalf("expected a fingerprint-normalized hit, got ok=%v rows=%v", ok, got)
	}
}

func TestQueryResultCacheInvalidateTable(t *testing.T) {
	c := NewQueryResultCache(4)
	c.Put("select * from users", &Plan{Table: "users"}, []IndexedRow{row(1, 1, "x")})
	c.InvalidateTable("users")
	if _, ok := c.Get("select * from users"); ok {
		t.Fatal("expected the entry to be purged after invalidating its table")
	}
}
