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
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// SubqueryShape is one of the recognized subquery forms spec.md §4.8
// names, grounded on the teacher's ast.go WhereClause.IsSubquery/Subquery
// fields but split into the four named shapes instead of one boolean
// flag.
type SubqueryShape int

const (
	SubqueryScalar SubqueryShape = iota
	SubqueryInList
	SubqueryExists
	SubqueryFromSubquery
)

func (s SubqueryShape) String() string {
	switch s {
	case SubqueryScalar:
		return "SCALAR"
	case SubqueryInList:
		return "IN_LIST"
	case SubqueryExists:
		return "EXISTS"
	case SubqueryFromSubquery:
		return "FROM_SUBQUERY"
	default:
		return "UNKNOWN"
	}
}

// Subquery is one subquery referenced by an outer Plan's WHERE clause (or
// FROM clause, for SubqueryFromSubquery).
type Subquery struct {
	Shape      SubqueryShape
	SQL        string // canonical SQL text, used for the fingerprint cache key
	OuterAlias string // the outer table alias this subquery's Plan reads, if any
	Plan       *Plan
	Correlated bool
}

// ClassifySubquery determines whether sq references outerAlias — the
// table alias of the query it is nested inside — making it correlated.
// A subquery is correlated when its Plan.Table equals outerAlias, when a
// WHERE leaf names a column qualified as "outerAlias.column", or when any
// nested subquery is correlated by the same test, recursively; otherwise
// it runs independently of the outer row and is non-correlated.
func ClassifySubquery(sq *Subquery, outerAlias string) *Subquery {
	sq.Correlated = referencesAlias(sq.Plan, outerAlias)
	sq.OuterAlias = outerAlias
	return sq
}

func referencesAlias(p *Plan, alias string) bool {
	if p == nil {
		return false
	}
	if p.Table == alias {
		return true
	}
	if referencesPredicateAlias(p.Where, alias) {
		return true
	}
	for _, sq := range p.Subqueries {
		if referencesAlias(sq.Plan, alias) {
			return true
		}
	}
	return false
}

// referencesPredicateAlias walks a predicate tree looking for a
// qualified column reference of the form "alias.column", the shape a
// correlated WHERE fragment (e.g. "o.customer_id = c.id") takes.
func referencesPredicateAlias(p *Predicate, alias string) bool {
	if p == nil {
		return false
	}
	if p.isLeaf() {
		return strings.HasPrefix(p.Column, alias+".")
	}
	for _, c := range p.And {
		if referencesPredicateAlias(c, alias) {
			return true
		}
	}
	for _, c := range p.Or {
		if referencesPredicateAlias(c, alias) {
			return true
		}
	}
	return referencesPredicateAlias(p.Not, alias)
}

// Fingerprint returns sq's canonical-SQL cache key: a sha256 of its
// whitespace-normalized, lowercased SQL text. Non-correlated subqueries are cached by
// this fingerprint per spec.md §4.8; correlated subqueries never call
// this, since they are re-executed per outer row and are never cached.
func (sq *Subquery) Fingerprint() string {
	return fingerprintSQL(sq.SQL)
}

func fingerprintSQL(sql string) string {
	fields := strings.Fields(sql)
	normalized := strings.ToLower(strings.Join(fields, " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// SubqueryCache memoizes non-correlated subquery results by canonical SQL
// fingerprint, with invalidation keyed by referenced table, per spec.md
// §4.8 ("Cache invalidation: mutating a table purges any cached entry
// whose plan references that table").
type SubqueryCache struct {
	entries map[string]subqueryCacheEntry
}

type subqueryCacheEntry struct {
	rows   []IndexedRow
	tables []string
}

// NewSubqueryCache builds an empty subquery result cache.
func NewSubqueryCache() *SubqueryCache {
	return &SubqueryCache{entries: make(map[string]subqueryCacheEntry)}
}

// Get returns the cached rows for a non-correlated subquery's
// fingerprint, if present.
func (c *SubqueryCache) Get(fingerprint string) ([]IndexedRow, bool) {
	e, ok := c.entries[fingerprint]
	if !ok {
		return nil, false
	}
	return e.rows, true
}

// Put caches rows for sq's fingerprint. It is a programming error to call
// Put for a correlated subquery; callers should gate on sq.Correlated
// before reaching here.
func (c *SubqueryCache) Put(sq *Subquery, rows []IndexedRow) {
	c.entries[sq.Fingerprint()] = subqueryCacheEntry{
		rows:   rows,
		tables: referencedTables(sq.Plan),
	}
}

// InvalidateTable purges every cached entry whose plan references table.
func (c *SubqueryCache) InvalidateTable(table string) {
	for fp, e := range c.entries {
		for _, t := range e.tables {
			if t == table {
				delete(c.entries, fp)
				break
			}
		}
	}
}

func referencedTables(p *Plan) []string {
	if p == nil {
		return nil
	}
	set := map[string]bool{p.Table: true}
	for _, sq := range p.Subqueries {
		for _, t := range referencedTables(sq.Plan) {
			set[t] = true
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
