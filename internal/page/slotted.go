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
	"encoding/binary"

	scdberrors "scdb/internal/errors"
)

// Slotted page layout (spec.md §4.2):
//
//	┌─────────────┬───────────────────────┬──────────────────────┐
//	│ page header │ record bytes (grow →) │ (← grow) slot entries│
//	└─────────────┴───────────────────────┴──────────────────────┘
//
// The header tracks where the record heap currently ends (freeStart) and
// where the slot directory currently begins (freeEnd); the gap between them
// is free space. Slot entries are fixed 6 bytes: {offset uint16, length
// uint16, flags uint16}. Slot index 0 sits at the very end of the page;
// slot i occupies [len(page)-(i+1)*slotSize, len(page)-i*slotSize).

const (
	slottedHeaderSize = 8
	slotEntrySize     = 6

	slotFlagTombstone = uint16(1) << 0
	slotFlagForward   = uint16(1) << 1
)

// forwardMarker begins an 11-byte forwarding stub written in place of a
// record whose update grew past its slot and was relocated: a single-hop
// pointer to the page and slot now holding the current version. Chains
// never grow past length 1 — relocating an already-forwarded record
// rewrites the original stub rather than chaining a second hop.
const forwardMarker = 0xFF
const forwardStubSize = 11

// ErrPageFull indicates neither the slot directory nor the record heap has
// room for the requested insert, even after compaction.
var ErrPageFull = scdberrors.CapacityExceeded("page: insert does not fit")

// Slot describes one slotted-page record's location.
type Slot struct {
	Offset    uint16
	Length    uint16
	Tombstone bool
	Forward   bool
}

// InitPage lays down an empty slotted-page header in buf (which must be
// exactly one page long).
func InitPage(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	putHeader(buf, 0, slottedHeaderSize, uint16(len(buf)))
}

func putHeader(buf []byte, numSlots, freeStart, freeEnd uint16) {
	binary.LittleEndian.PutUint16(buf[0:2], numSlots)
	binary.LittleEndian.PutUint16(buf[2:4], freeStart)
	binary.LittleEndian.PutUint16(buf[4:6], freeEnd)
}

func readHeader(buf []byte) (numSlots, freeStart, freeEnd uint16) {
	numSlots = binary.LittleEndian.Uint16(buf[0:2])
	freeStart = binary.LittleEndian.Uint16(buf[2:4])
	freeEnd = binary.LittleEndian.Uint16(buf[4:6])
	return
}

func slotOffset(pageLen int, idx uint16) int {
	return pageLen - (int(idx)+1)*slotEntrySize
}

func readSlot(buf []byte, idx uint16) Slot {
	o := slotOffset(len(buf), idx)
	entry := buf[o : o+slotEntrySize]
	offset := binary.LittleEndian.Uint16(entry[0:2])
	length := binary.LittleEndian.Uint16(entry[2:4])
	flags := binary.LittleEndian.Uint16(entry[4:6])
	return Slot{Offset: offset, Length: length, Tombstone: flags&slotFlagTombstone != 0, Forward: flags&slotFlagForward != 0}
}

func writeSlot(buf []byte, idx uint16, s Slot) {
	o := slotOffset(len(buf), idx)
	entry := buf[o : o+slotEntrySize]
	binary.LittleEndian.PutUint16(entry[0:2], s.Offset)
	binary.LittleEndian.PutUint16(entry[2:4], s.Length)
	var flags uint16
	if s.Tombstone {
		flags |= slotFlagTombstone
	}
	if s.Forward {
		flags |= slotFlagForward
	}
	binary.LittleEndian.PutUint16(entry[4:6], flags)
}

// NumSlots returns the number of slot entries ever allocated on the page
// (including deleted/forwarded ones — slot indices are stable identifiers).
func NumSlots(buf []byte) uint16 {
	n, _, _ := readHeader(buf)
	return n
}

// freeSpace returns the number of unused bytes between the record heap and
// the slot directory.
func freeSpace(buf []byte) int {
	_, freeStart, freeEnd := readHeader(buf)
	return int(freeEnd) - int(freeStart)
}

// InsertRecord appends rec to buf's record heap and allocates a new slot
// for it, compacting first if the gap is fragmented-but-sufficient. Returns
// ErrPageFull (spec.md's PageFull) when neither compaction nor the current
// layout can make room.
func InsertRecord(buf []byte, rec []byte) (uint16, error) {
	needed := len(rec) + slotEntrySize
	if freeSpace(buf) < needed {
		Compact(buf)
		if freeSpace(buf) < needed {
			return 0, ErrPageFull
		}
	}

	numSlots, freeStart, freeEnd := readHeader(buf)
	copy(buf[freeStart:int(freeStart)+len(rec)], rec)
	slot := Slot{Offset: freeStart, Length: uint16(len(rec))}

	newFreeEnd := freeEnd - slotEntrySize
	putHeader(buf, numSlots+1, freeStart+uint16(len(rec)), newFreeEnd)
	writeSlot(buf, numSlots, slot)
	return numSlots, nil
}

// ReadRecord returns the bytes stored at slot idx. ok is false for an
// out-of-range or tombstoned slot.
func ReadRecord(buf []byte, idx uint16) (data []byte, ok bool) {
	numSlots, _, _ := readHeader(buf)
	if idx >= numSlots {
		return nil, false
	}
	s := readSlot(buf, idx)
	if s.Tombstone {
		return nil, false
	}
	return buf[s.Offset : s.Offset+s.Length], true
}

// DeleteRecord tombstones slot idx; its heap bytes are reclaimed on the
// next Compact.
func DeleteRecord(buf []byte, idx uint16) {
	numSlots, _, _ := readHeader(buf)
	if idx >= numSlots {
		return
	}
	s := readSlot(buf, idx)
	s.Tombstone = true
	writeSlot(buf, idx, s)
}

// UpdateInPlace overwrites slot idx's bytes with rec without changing its
// offset; the caller must have already verified len(rec) <= the slot's
// current length (zero-padding is the caller's responsibility if shorter).
func UpdateInPlace(buf []byte, idx uint16, rec []byte) {
	s := readSlot(buf, idx)
	copy(buf[s.Offset:s.Offset+s.Length], rec)
}

// WriteForwardStub overwrites slot idx's record with a forwarding stub
// pointing at {targetPage, targetSlot}, used when an in-place update no
// longer fits and the row was relocated to a new slot on another page.
func WriteForwardStub(buf []byte, idx uint16, targetPage uint64, targetSlot uint16) error {
	s := readSlot(buf, idx)
	if int(s.Length) < forwardStubSize {
		return scdberrors.InvariantViolation("page: slot %d too small for a forwarding stub", idx)
	}
	stub := make([]byte, forwardStubSize)
	stub[0] = forwardMarker
	binary.LittleEndian.PutUint64(stub[1:9], targetPage)
	binary.LittleEndian.PutUint16(stub[9:11], targetSlot)
	copy(buf[s.Offset:s.Offset+forwardStubSize], stub)
	s.Length = forwardStubSize
	s.Forward = true
	writeSlot(buf, idx, s)
	return nil
}

// ReadForwardTarget returns the {page, slot} a forwarding stub at idx points
// to, and whether idx is in fact a forwarding stub.
func ReadForwardTarget(buf []byte, idx uint16) (targetPage uint64, targetSlot uint16, ok bool) {
	s := readSlot(buf, idx)
	if !s.Forward || s.Length != forwardStubSize {
		return 0, 0, false
	}
	raw := buf[s.Offset : s.Offset+s.Length]
	if raw[0] != forwardMarker {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint64(raw[1:9]), binary.LittleEndian.Uint16(raw[9:11]), true
}

// Compact rewrites the record heap in slot order, dropping tombstoned
// records and reclaiming the gaps their deletion left behind. Live slots
// keep their indices; only their stored Offset changes.
func Compact(buf []byte) {
	numSlots, _, freeEnd := readHeader(buf)
	type liveSlot struct {
		idx uint16
		s   Slot
	}
	live := make([]liveSlot, 0, numSlots)
	for i := uint16(0); i < numSlots; i++ {
		s := readSlot(buf, i)
		if s.Tombstone {
			continue
		}
		live = append(live, liveSlot{idx: i, s: s})
	}

	scratch := make([]byte, 0, int(freeEnd)-slottedHeaderSize)
	newOffsets := make(map[uint16]uint16, len(live))
	cursor := uint16(slottedHeaderSize)
	for _, l := range live {
		rec := make([]byte, l.s.Length)
		copy(rec, buf[l.s.Offset:l.s.Offset+l.s.Length])
		scratch = append(scratch, rec...)
		newOffsets[l.idx] = cursor
		cursor += l.s.Length
	}
	copy(buf[slottedHeaderSize:], scratch)
	for i := len(scratch) + slottedHeaderSize; i < int(freeEnd); i++ {
		buf[i] = 0
	}

	for _, l := range live {
		l.s.Offset = newOffsets[l.idx]
		writeSlot(buf, l.idx, l.s)
	}
	putHeader(buf, numSlots, cursor, freeEnd)
}
