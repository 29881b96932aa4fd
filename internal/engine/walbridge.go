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
	"scdb/internal/txn"
	"scdb/internal/wal"
)

// txnLogBridge adapts *wal.WAL to internal/txn's Log interface. The two
// packages agree on every method except Preimages: wal.WAL returns
// []wal.Record (it also carries the record's LSN/Op, which txn has no use
// for), while txn.Log wants the narrower []txn.PreimageRecord. The
// conversion happens here (internal/txn's Log and PreimageRecord docs say
// so), so internal/txn doesn't need to import
// internal/wal and vice versa.
type txnLogBridge struct {
	w *wal.WAL
}

func newTxnLogBridge(w *wal.WAL) *txnLogBridge {
	return &txnLogBridge{w: w}
}

func (b *txnLogBridge) BeginTransaction() (uint64, error) { return b.w.BeginTransaction() }

func (b *txnLogBridge) CommitTransactionAsync(txnID uint64) error {
	return b.w.CommitTransactionAsync(txnID)
}

func (b *txnLogBridge) RollbackTransaction(txnID uint64) error {
	return b.w.RollbackTransaction(txnID)
}

func (b *txnLogBridge) LogWrite(txnID uint64, blockName string, offset uint64, payload, preimage []byte) error {
	return b.w.LogWrite(txnID, blockName, offset, payload, preimage)
}

func (b *txnLogBridge) Preimages(txnID uint64) []txn.PreimageRecord {
	records := b.w.Preimages(txnID)
	out := make([]txn.PreimageRecord, len(records))
	for i, r := range records {
		out[i] = txn.PreimageRecord{BlockName: r.BlockName, Offset: r.Offset, Payload: r.Payload}
	}
	return out
}
