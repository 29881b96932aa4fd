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

package wal

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeWriteRecordRoundTrip(t *testing.T) {
	r := Record{LSN: 7, TxnID: 3, Op: OpWrite, BlockName: "table:1:pages", Offset: 128, Payload: []byte("row-bytes")}
	buf := Encode(r)
	got, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d bytes, want %d", n, len(buf))
	}
	if got.LSN != 7 || got.TxnID != 3 || got.Op != OpWrite {
		t.Fatalf("got %+v", got)
	}
	if got.BlockName != "table:1:pages" || got.Offset != 128 || !bytes.Equal(got.Payload, []byte("row-bytes")) {
		t.Fatalf("payload mismatch: %+v", got)
	}
}

func TestEncodeDecodeControlRecordRoundTrip(t *testing.T) {
	for _, op := range []Op{OpBeginTxn, OpCommit, OpAbort, OpCheckpoint} {
		r := Record{LSN: 1, TxnID: 9, Op: op}
		buf := Encode(r)
		got, _, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode(%s): %v", op, err)
		}
		if got.Op != op || got.TxnID != 9 {
			t.Fatalf("got %+v, want op=%s txn=9", got, op)
		}
	}
}

func TestDecodeRejectsChecksumMismatch(t *testing.T) {
	buf := Encode(Record{LSN: 1, TxnID: 1, Op: OpCommit})
	buf[len(buf)-1] ^= 0xFF // flip a byte of the CRC
	if _, _, err := Decode(buf); err == nil {
		t.Fatal("expected a checksum mismatch to be rejected")
	}
}

func TestDecodeRejectsTornRecord(t *testing.T) {
	buf := Encode(Record{LSN: 1, TxnID: 1, Op: OpWrite, BlockName: "x", Payload: []byte("payload")})
	torn := buf[:len(buf)-3]
	if _, _, err := Decode(torn); err == nil {
		t.Fatal("expected a truncated record to be rejected")
	}
}
