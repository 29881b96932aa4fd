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

package txn

import (
	"sync"
	"testing"
	"time"
)

type fakeLog struct {
	mu        sync.Mutex
	next      uint64
	active    map[uint64]bool
	preimages map[uint64][]PreimageRecord
}

func newFakeLog() *fakeLog {
	return &fakeLog{next: 1, active: make(map[uint64]bool), preimages: make(map[uint64][]PreimageRecord)}
}

func (f *fakeLog) BeginTransaction() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.active[id] = true
	return id, nil
}

func (f *fakeLog) CommitTransactionAsync(txnID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, txnID)
	delete(f.preimages, txnID)
	return nil
}

func (f *fakeLog) RollbackTransaction(txnID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, txnID)
	delete(f.preimages, txnID)
	return nil
}

func (f *fakeLog) LogWrite(txnID uint64, blockName string, offset uint64, payload, preimage []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active[txnID] {
		return errNotActive
	}
	f.preimages[txnID] = append(f.preimages[txnID], PreimageRecord{BlockName: blockName, Offset: offset, Payload: preimage})
	return nil
}

func (f *fakeLog) Preimages(txnID uint64) []PreimageRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PreimageRecord, len(f.preimages[txnID]))
	copy(out, f.preimages[txnID])
	return out
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errNotActive = fakeErr("txn not active")

func TestBeginCommitRoundTrip(t *testing.T) {
	m := NewManager(newFakeLog())
	tx, err := m.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !tx.IsActive() {
		t.Fatal("expected a fresh transaction to be active")
	}
	if err := m.Write(tx, "block:1", 0, []byte("new"), []byte("old")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := m.Commit(tx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if tx.State() != StateCommitted {
		t.Fatalf("got state %s, want COMMITTED", tx.State())
	}
	if m.Active() != nil {
		t.Fatal("expected no active transaction after commit")
	}
}

func TestRollbackMarksRolledBack(t *testing.T) {
	m := NewManager(newFakeLog())
	tx, _ := m.Begin()
	m.Write(tx, "block:1", 0, []byte("new"), []byte("old"))
	if err := m.Rollback(tx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if tx.State() != StateRolledBack {
		t.Fatalf("got state %s, want ROLLED_BACK", tx.State())
	}
}

func TestBeginBlocksUntilPriorTransactionFinishes(t *testing.T) {
	m := NewManager(newFakeLog())
	tx1, _ := m.Begin()

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		tx2, err := m.Begin()
		if err != nil {
			t.Error(err)
			return
		}
		if tx2.ID == tx1.ID {
			t.Error("expected a distinct transaction id for the second writer")
		}
		m.Commit(tx2)
		close(done)
	}()

	<-started
	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("second Begin should not have completed before the first transaction finished")
	default:
	}
	m.Commit(tx1)
	<-done
}

func TestWriteRejectsReadOnlyTransaction(t *testing.T) {
	m := NewManager(newFakeLog())
	tx, err := m.BeginReadOnly()
	if err != nil {
		t.Fatalf("BeginReadOnly: %v", err)
	}
	defer m.Rollback(tx)
	if err := m.Write(tx, "block:1", 0, []byte("x"), nil); err == nil {
		t.Fatal("expected Write against a read-only transaction to fail")
	}
}

func TestWriteRejectsCompletedTransaction(t *testing.T) {
	m := NewManager(newFakeLog())
	tx, _ := m.Begin()
	m.Commit(tx)
	if err := m.Write(tx, "block:1", 0, []byte("x"), nil); err == nil {
		t.Fatal("expected Write against a completed transaction to fail")
	}
}

func TestSavepointRollbackReturnsOnlyLaterWrites(t *testing.T) {
	m := NewManager(newFakeLog())
	tx, _ := m.Begin()
	m.Write(tx, "block:1", 0, []byte("v1"), []byte("pre1"))
	if err := m.Savepoint(tx, "sp1"); err != nil {
		t.Fatalf("Savepoint: %v", err)
	}
	m.Write(tx, "block:2", 0, []byte("v2"), []byte("pre2"))
	m.Write(tx, "block:3", 0, []byte("v3"), []byte("pre3"))

	reverted, err := m.RollbackToSavepoint(tx, "sp1")
	if err != nil {
		t.Fatalf("RollbackToSavepoint: %v", err)
	}
	if len(reverted) != 2 {
		t.Fatalf("expected 2 preimages after the savepoint, got %d", len(reverted))
	}
	if reverted[0].BlockName != "block:2" || reverted[1].BlockName != "block:3" {
		t.Fatalf("unexpected reverted order: %+v", reverted)
	}
	if !tx.HasSavepoint("sp1") {
		t.Fatal("expected rolling back to sp1 to keep sp1 itself")
	}
	m.Rollback(tx)
}

func TestReleaseSavepointDropsIt(t *testing.T) {
	m := NewManager(newFakeLog())
	tx, _ := m.Begin()
	m.Savepoint(tx, "sp1")
	if err := m.ReleaseSavepoint(tx, "sp1"); err != nil {
		t.Fatalf("ReleaseSavepoint: %v", err)
	}
	if tx.HasSavepoint("sp1") {
		t.Fatal("expected the savepoint to be gone after release")
	}
	if err := m.ReleaseSavepoint(tx, "sp1"); err == nil {
		t.Fatal("expected releasing an unknown savepoint to fail")
	}
	m.Rollback(tx)
}

func TestMarkFailedThenCommitFails(t *testing.T) {
	m := NewManager(newFakeLog())
	tx, _ := m.Begin()
	tx.MarkFailed()
	if err := m.Commit(tx); err == nil {
		t.Fatal("expected Commit to refuse a failed transaction")
	}
}

func TestDurationAdvancesAfterCompletion(t *testing.T) {
	m := NewManager(newFakeLog())
	tx, _ := m.Begin()
	time.Sleep(5 * time.Millisecond)
	m.Commit(tx)
	d1 := tx.Duration()
	time.Sleep(5 * time.Millisecond)
	d2 := tx.Duration()
	if d1 != d2 {
		t.Fatalf("expected duration to freeze once completed: %v vs %v", d1, d2)
	}
}
