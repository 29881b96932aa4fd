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

package storage

import (
	"bytes"
	"sync"
	"testing"

	"scdb/internal/page"
)

// fakePageStore is a minimal in-memory stand-in for internal/container.Container
// satisfying the unexported backingStore interface page.NewManager expects.
type fakePageStore struct {
	mu       sync.Mutex
	pages    map[uint64][]byte
	pageSize uint32
	next     uint64
}

func newFakePageStore(pageSize uint32) *fakePageStore {
	return &fakePageStore{pages: make(map[uint64][]byte), pageSize: pageSize, next: 1}
}

func (s *fakePageStore) PageSize() uint32 { return s.pageSize }

func (s *fakePageStore) ReadPage(pageID uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pages[pageID]; ok {
		out := make([]byte, len(p))
		copy(out, p)
		return out, nil
	}
	return make([]byte, s.pageSize), nil
}

func (s *fakePageStore) WritePage(pageID uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.pages[pageID] = cp
	return nil
}

func (s *fakePageStore) AllocatePages(n uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next += n
	return id, nil
}

func (s *fakePageStore) FreePages(startPage, n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, startPage)
	return nil
}

func newTestManager() *page.Manager {
	return page.NewManager(newFakePageStore(256), 64)
}

func TestHeapEngineInsertReadRoundTrip(t *testing.T) {
	e := NewHeapEngine(newTestManager(), nil)
	ref, err := e.Insert(1, []byte("hello"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, ok, err := e.Read(1, ref)
	if err != nil || !ok {
		t.Fatalf("Read: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestHeapEngineUpdateInPlace(t *testing.T) {
	e := NewHeapEngine(newTestManager(), nil)
	ref, _ := e.Insert(1, []byte("0123456789"))
	if err := e.Update(1, ref, []byte("short")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, ok, err := e.Read(1, ref)
	if err != nil || !ok {
		t.Fatalf("Read: ok=%v err=%v", ok, err)
	}
	if !bytes.HasPrefix(got, []byte("short")) {
		t.Fatalf("got %q, want prefix %q", got, "short")
	}
}

func TestHeapEngineUpdateForwardsOnOverflow(t *testing.T) {
	e := NewHeapEngine(newTestManager(), nil)
	ref, _ := e.Insert(1, []byte("short"))
	bigger := bytes.Repeat([]byte("x"), 100)
	if err := e.Update(1, ref, bigger); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, ok, err := e.Read(1, ref)
	if err != nil || !ok {
		t.Fatalf("Read after forwarding update: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, bigger) {
		t.Fatal("expected forwarded read to return the relocated (larger) value")
	}
}

func TestHeapEngineDelete(t *testing.T) {
	e := NewHeapEngine(newTestManager(), nil)
	ref, _ := e.Insert(1, []byte("gone soon"))
	if err := e.Delete(1, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := e.Read(1, ref); ok {
		t.Fatal("expected deleted row to read as absent")
	}
}

func TestHeapEngineInsertBatch(t *testing.T) {
	e := NewHeapEngine(newTestManager(), nil)
	refs, err := e.InsertBatch(1, [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("expected 3 refs, got %d", len(refs))
	}
	for i, want := range []string{"a", "b", "c"} {
		got, ok, _ := e.Read(1, refs[i])
		if !ok || string(got) != want {
			t.Fatalf("ref %d: got %q ok=%v, want %q", i, got, ok, want)
		}
	}
}

func TestHeapEngineOverflowAllocatesNewPage(t *testing.T) {
	e := NewHeapEngine(newTestManager(), nil)
	for i := 0; i < 100; i++ {
		if _, err := e.Insert(1, bytes.Repeat([]byte{'y'}, 20)); err != nil {
			t.Fatalf("Insert #%d: %v", i, err)
		}
	}
	if len(e.TablePages(1)) < 2 {
		t.Fatal("expected inserting past one page's capacity to allocate a second page")
	}
}

func TestAppendOnlyEngineInsertReadRoundTrip(t *testing.T) {
	e := NewAppendOnlyEngine(newTestManager(), nil)
	ref, err := e.Insert(1, []byte("logged"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, ok, err := e.Read(1, ref)
	if err != nil || !ok || string(got) != "logged" {
		t.Fatalf("got %q ok=%v err=%v", got, ok, err)
	}
}

func TestAppendOnlyEngineRefsAreMonotonic(t *testing.T) {
	e := NewAppendOnlyEngine(newTestManager(), nil)
	var last Ref
	for i := 0; i < 10; i++ {
		ref, err := e.Insert(1, []byte("row"))
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if ref <= last {
			t.Fatalf("expected strictly increasing refs, got %d after %d", ref, last)
		}
		last = ref
	}
}

func TestAppendOnlyEngineUpdateKeepsRefStable(t *testing.T) {
	e := NewAppendOnlyEngine(newTestManager(), nil)
	ref, _ := e.Insert(1, []byte("v1"))
	if err := e.Update(1, ref, []byte("v2")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, ok, err := e.Read(1, ref)
	if err != nil || !ok || string(got) != "v2" {
		t.Fatalf("got %q ok=%v err=%v, want v2", got, ok, err)
	}
}

func TestAppendOnlyEngineDeleteTombstones(t *testing.T) {
	e := NewAppendOnlyEngine(newTestManager(), nil)
	ref, _ := e.Insert(1, []byte("row"))
	if err := e.Delete(1, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := e.Read(1, ref); ok {
		t.Fatal("expected deleted row to read as absent")
	}
}

func TestStorageEngineMetrics(t *testing.T) {
	e := NewHeapEngine(newTestManager(), nil)
	if _, err := e.Insert(1, []byte("a")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	stats := e.Stats()
	if stats.TotalInserts != 1 {
		t.Fatalf("expected 1 insert recorded, got %d", stats.TotalInserts)
	}
	if stats.EngineType != EngineTypeHeap {
		t.Fatalf("expected EngineTypeHeap, got %s", stats.EngineType)
	}
}

func TestEngineBeginFailsWithoutTransactionLog(t *testing.T) {
	e := NewHeapEngine(newTestManager(), nil)
	if _, err := e.Begin(); err == nil {
		t.Fatal("expected Begin to fail without a configured transaction log")
	}
}
