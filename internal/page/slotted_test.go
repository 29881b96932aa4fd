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

package page

import (
	"bytes"
	"testing"
)

func newTestPage() []byte {
	buf := make([]byte, 256)
	InitPage(buf)
	return buf
}

func TestInsertReadRoundTrip(t *testing.T) {
	buf := newTestPage()
	idx, err := InsertRecord(buf, []byte("hello"))
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	got, ok := ReadRecord(buf, idx)
	if !ok {
		t.Fatal("expected record to be present")
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestInsertMultipleRecords(t *testing.T) {
	buf := newTestPage()
	values := []string{"alpha", "beta", "gamma", "delta"}
	indices := make([]uint16, len(values))
	for i, v := range values {
		idx, err := InsertRecord(buf, []byte(v))
		if err != nil {
			t.Fatalf("InsertRecord(%s): %v", v, err)
		}
		indices[i] = idx
	}
	for i, v := range values {
		got, ok := ReadRecord(buf, indices[i])
		if !ok || string(got) != v {
			t.Fatalf("slot %d: got %q ok=%v, want %q", indices[i], got, ok, v)
		}
	}
}

func TestDeleteTombstonesRecord(t *testing.T) {
	buf := newTestPage()
	idx, _ := InsertRecord(buf, []byte("to-delete"))
	DeleteRecord(buf, idx)
	if _, ok := ReadRecord(buf, idx); ok {
		t.Fatal("expected tombstoned record to read as absent")
	}
}

func TestCompactReclaimsTombstonedSpace(t *testing.T) {
	buf := newTestPage()
	var idxs []uint16
	for i := 0; i < 3; i++ {
		idx, err := InsertRecord(buf, bytes.Repeat([]byte{byte('a' + i)}, 20))
		if err != nil {
			t.Fatalf("InsertRecord: %v", err)
		}
		idxs = append(idxs, idx)
	}
	DeleteRecord(buf, idxs[0])
	DeleteRecord(buf, idxs[1])

	before := freeSpace(buf)
	Compact(buf)
	after := freeSpace(buf)
	if after <= before {
		t.Fatalf("expected compaction to reclaim space: before=%d after=%d", before, after)
	}

	// The surviving record must still read back correctly after compaction.
	got, ok := ReadRecord(buf, idxs[2])
	if !ok || !bytes.Equal(got, bytes.Repeat([]byte{'c'}, 20)) {
		t.Fatalf("survivor corrupted by compaction: got %q ok=%v", got, ok)
	}
}

func TestInsertFailsWhenPageFull(t *testing.T) {
	buf := newTestPage()
	var lastErr error
	for i := 0; i < 1000; i++ {
		_, err := InsertRecord(buf, bytes.Repeat([]byte{'x'}, 20))
		if err != nil {
			lastErr = err
			break
		}
	}
	if lastErr != ErrPageFull {
		t.Fatalf("expected ErrPageFull, got %v", lastErr)
	}
}

func TestForwardStubRoundTrip(t *testing.T) {
	buf := newTestPage()
	idx, err := InsertRecord(buf, bytes.Repeat([]byte{0}, forwardStubSize))
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := WriteForwardStub(buf, idx, 42, 7); err != nil {
		t.Fatalf("WriteForwardStub: %v", err)
	}
	targetPage, targetSlot, ok := ReadForwardTarget(buf, idx)
	if !ok {
		t.Fatal("expected slot to read back as a forwarding stub")
	}
	if targetPage != 42 || targetSlot != 7 {
		t.Fatalf("got target (%d, %d), want (42, 7)", targetPage, targetSlot)
	}

	// A non-forwarded slot must not be misread as a forward.
	plain, _ := InsertRecord(buf, []byte("plain-record"))
	if _, _, ok := ReadForwardTarget(buf, plain); ok {
		t.Fatal("expected a plain record to not read as a forwarding stub")
	}
}

func TestUpdateInPlace(t *testing.T) {
	buf := newTestPage()
	idx, _ := InsertRecord(buf, []byte("original!!"))
	UpdateInPlace(buf, idx, []byte("replaced!!"))
	got, ok := ReadRecord(buf, idx)
	if !ok || string(got) != "replaced!!" {
		t.Fatalf("got %q ok=%v, want %q", got, ok, "replaced!!")
	}
}
