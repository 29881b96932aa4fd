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
	"sync"
	"time"

	scdberrors "scdb/internal/errors"
)

// CursorState is a cursor's position in its open/fetch/exhausted/closed
// lifecycle.
type CursorState int

const (
	CursorStateAllocated CursorState = iota
	CursorStateOpen
	CursorStateExhausted
	CursorStateClosed
)

func (s CursorState) String() string {
	switch s {
	case CursorStateAllocated:
		return "ALLOCATED"
	case CursorStateOpen:
		return "OPEN"
	case CursorStateExhausted:
		return "EXHAUSTED"
	case CursorStateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// RowSource yields rows one at a time for a Cursor to walk. Next returns
// (row, false, nil) once exhausted; it does not return an error for plain
// exhaustion.
type RowSource interface {
	Next() (IndexedRow, bool, error)
	Close() error
}

// Cursor is an in-process, forward-only result-set iterator. spec.md
// §4.8 scopes the executor contract to in-process iteration, so this
// drops the teacher's scrollable cursor types (STATIC/KEYSET/DYNAMIC),
// concurrency modes (LOCK/OPTIMISTIC), and absolute/relative fetch
// directions — a single client-side consumer walking forward is the only
// shape a single-process embedded engine needs.
type Cursor struct {
	mu sync.RWMutex

	ID    string
	Query string

	State    CursorState
	Position int64 // 0-based; -1 = before first row.
	RowCount int64 // -1 while unknown (forward-only cursors never know ahead).

	CreatedAt    time.Time
	LastAccessAt time.Time

	source RowSource
	cur    IndexedRow
}

// NewCursor allocates a cursor over src for the given query text. The
// cursor starts in CursorStateAllocated; call Open to begin fetching.
func NewCursor(query string, src RowSource) *Cursor {
	return &Cursor{
		ID:           GenerateCursorID(),
		Query:        query,
		State:        CursorStateAllocated,
		Position:     -1,
		RowCount:     -1,
		CreatedAt:    time.Now(),
		LastAccessAt: time.Now(),
		source:       src,
	}
}

// Open transitions the cursor from allocated to open. It is a no-op if
// already open.
func (c *Cursor) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State == CursorStateClosed {
		return scdberrors.InvariantViolation("query: cannot reopen a closed cursor")
	}
	if c.State == CursorStateAllocated {
		c.State = CursorStateOpen
		c.LastAccessAt = time.Now()
	}
	return nil
}

// Next advances the cursor by one row, returning false once the
// underlying source is exhausted. Call Row to retrieve the row Next just
// positioned on.
func (c *Cursor) Next() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State == CursorStateClosed {
		return false, scdberrors.InvariantViolation("query: cursor is closed")
	}
	if c.State == CursorStateExhausted {
		return false, nil
	}
	if c.State == CursorStateAllocated {
		c.State = CursorStateOpen
	}

	row, ok, err := c.source.Next()
	c.LastAccessAt = time.Now()
	if err != nil {
		return false, err
	}
	if !ok {
		c.State = CursorStateExhausted
		c.RowCount = c.Position + 1
		return false, nil
	}
	c.cur = row
	c.Position++
	return true, nil
}

// Row returns the row Next last positioned the cursor on.
func (c *Cursor) Row() IndexedRow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur
}

// GetPosition returns the current 0-based row position, or -1 before the
// first Next call.
func (c *Cursor) GetPosition() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Position
}

// IsOpen reports whether the cursor is open and not yet exhausted.
func (c *Cursor) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.State == CursorStateOpen
}

// IsExhausted reports whether the cursor has no more rows.
func (c *Cursor) IsExhausted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.State == CursorStateExhausted
}

// Close releases the underlying row source. It is safe to call more than
// once.
func (c *Cursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State == CursorStateClosed {
		return nil
	}
	c.State = CursorStateClosed
	return c.source.Close()
}
