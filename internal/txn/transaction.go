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

/*
Package txn coordinates transaction lifecycle on top of internal/wal:
single-writer, read-committed, no snapshot isolation (spec.md §4.6). Only
one write transaction may be active at a time; Manager.Begin blocks until
the previous one commits or rolls back.
*/
package txn

import (
	"sync"
	"time"

	scdberrors "scdb/internal/errors"
)

// State represents the current state of a transaction.
type State int

const (
	// StateNone means no transaction is active.
	StateNone State = iota
	// StateActive means a transaction is in progress.
	StateActive
	// StateCommitted means the transaction was committed.
	StateCommitted
	// StateRolledBack means the transaction was rolled back.
	StateRolledBack
	// StateFailed means the transaction failed and must be rolled back.
	StateFailed
)

// String returns the string representation of the transaction state.
func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateActive:
		return "ACTIVE"
	case StateCommitted:
		return "COMMITTED"
	case StateRolledBack:
		return "ROLLED_BACK"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// savepoint records where in the transaction's write-preimage history a
// named savepoint was taken, so RollbackToSavepoint can tell the caller
// which preimages (everything after preimageIndex) to reapply.
type savepoint struct {
	name          string
	preimageIndex int
}

// Transaction is a single logical unit of work. Its identity is the WAL's
// uint64 transaction id (there is no client-session concept at this layer
// — spec.md §4.6 names no isolation levels or session-scoped transactions,
// unlike the multi-isolation-level, session-bound transactions a
// client-facing SQL engine would need).
type Transaction struct {
	mu sync.RWMutex

	ID uint64

	ReadOnly bool

	state State

	startTime time.Time
	endTime   time.Time

	savepoints []savepoint
	writeCount int // number of LogWrite calls made under this transaction so far
}

func newTransaction(id uint64, readOnly bool) *Transaction {
	return &Transaction{
		ID:        id,
		ReadOnly:  readOnly,
		state:     StateActive,
		startTime: time.Now(),
	}
}

// State returns the transaction's current state.
func (tx *Transaction) State() State {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.state
}

// IsActive returns true if the transaction is active.
func (tx *Transaction) IsActive() bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.state == StateActive
}

// IsFailed returns true if the transaction has failed and must be rolled back.
func (tx *Transaction) IsFailed() bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.state == StateFailed
}

// IsCompleted returns true if the transaction is committed or rolled back.
func (tx *Transaction) IsCompleted() bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.state == StateCommitted || tx.state == StateRolledBack
}

func (tx *Transaction) setState(s State) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.state = s
	if s == StateCommitted || s == StateRolledBack {
		tx.endTime = time.Now()
	}
}

// MarkFailed marks the transaction as failed; it can only be rolled back
// from here, never committed.
func (tx *Transaction) MarkFailed() {
	tx.setState(StateFailed)
}

// noteWrite records that a write landed under this transaction, advancing
// the write counter that savepoints are indexed against.
func (tx *Transaction) noteWrite() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.writeCount++
}

// AddSavepoint records a named savepoint at the transaction's current
// write position.
func (tx *Transaction) AddSavepoint(name string) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.savepoints = append(tx.savepoints, savepoint{name: name, preimageIndex: tx.writeCount})
}

// HasSavepoint reports whether name was added and not yet released or
// rolled past.
func (tx *Transaction) HasSavepoint(name string) bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	for _, sp := range tx.savepoints {
		if sp.name == name {
			return true
		}
	}
	return false
}

// ReleaseSavepoint drops a savepoint without rolling back to it.
func (tx *Transaction) ReleaseSavepoint(name string) bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for i, sp := range tx.savepoints {
		if sp.name == name {
			tx.savepoints = append(tx.savepoints[:i], tx.savepoints[i+1:]...)
			return true
		}
	}
	return false
}

// savepointIndex returns the write-preimage index a named savepoint was
// taken at, discarding every savepoint recorded after it (they no longer
// make sense once rolled past).
func (tx *Transaction) savepointIndex(name string) (int, bool) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for i, sp := range tx.savepoints {
		if sp.name == name {
			tx.savepoints = tx.savepoints[:i+1]
			return sp.preimageIndex, true
		}
	}
	return 0, false
}

// Duration returns how long the transaction has been open, or its total
// lifetime once completed.
func (tx *Transaction) Duration() time.Duration {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	if tx.endTime.IsZero() {
		return time.Since(tx.startTime)
	}
	return tx.endTime.Sub(tx.startTime)
}

// Log is the WAL-side collaborator Manager drives. internal/wal.WAL
// provides every method except Preimages, whose []wal.Record result
// internal/engine's txnLogBridge converts; Manager depends on the
// interface so this package need not import internal/wal and so its own
// test suite can substitute a fake.
type Log interface {
	BeginTransaction() (uint64, error)
	CommitTransactionAsync(txnID uint64) error
	RollbackTransaction(txnID uint64) error
	LogWrite(txnID uint64, blockName string, offset uint64, payload, preimage []byte) error
	Preimages(txnID uint64) []PreimageRecord
}

// PreimageRecord is the minimal shape Manager needs back from a rolled-back
// write: enough to let the caller revert a block to its pre-transaction
// bytes. internal/wal.Record satisfies this by field name; engine wiring
// adapts wal.Record values into PreimageRecord when it implements Log.
type PreimageRecord struct {
	BlockName string
	Offset    uint64
	Payload   []byte
}

// Manager serializes transaction lifecycle over a Log, enforcing spec.md
// §4.6's single-writer model: Begin blocks until any previously active
// transaction commits or rolls back.
type Manager struct {
	log Log

	writeLock sync.Mutex // held by the one active write transaction
	mu        sync.Mutex
	active    *Transaction
}

// NewManager builds a Manager driving log.
func NewManager(log Log) *Manager {
	return &Manager{log: log}
}

// Begin starts a new writable transaction, blocking until no other write
// transaction is active.
func (m *Manager) Begin() (*Transaction, error) {
	return m.begin(false)
}

// BeginReadOnly starts a transaction that Manager will refuse to accept
// writes for; read-only transactions still serialize on the single
// writer lock today (spec.md names no concurrent-reader transaction mode),
// so this exists for callers that want the bookkeeping and intend to
// enforce read-only-ness themselves.
func (m *Manager) BeginReadOnly() (*Transaction, error) {
	return m.begin(true)
}

func (m *Manager) begin(readOnly bool) (*Transaction, error) {
	m.writeLock.Lock()
	id, err := m.log.BeginTransaction()
	if err != nil {
		m.writeLock.Unlock()
		return nil, err
	}
	tx := newTransaction(id, readOnly)
	m.mu.Lock()
	m.active = tx
	m.mu.Unlock()
	return tx, nil
}

// Active returns the currently active transaction, or nil.
func (m *Manager) Active() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Write logs a write under tx, rejecting it outright if tx is read-only,
// failed, or already completed.
func (m *Manager) Write(tx *Transaction, blockName string, offset uint64, payload, preimage []byte) error {
	if !tx.IsActive() {
		return scdberrors.InvariantViolation("txn: transaction %d is not active", tx.ID)
	}
	if tx.ReadOnly {
		return scdberrors.InvariantViolation("txn: transaction %d is read-only", tx.ID)
	}
	if err := m.log.LogWrite(tx.ID, blockName, offset, payload, preimage); err != nil {
		return err
	}
	tx.noteWrite()
	return nil
}

// Commit commits tx and releases the writer lock for the next Begin.
func (m *Manager) Commit(tx *Transaction) error {
	defer m.finish(tx)
	if tx.IsFailed() {
		return scdberrors.InvariantViolation("txn: transaction %d has failed and cannot be committed", tx.ID)
	}
	if err := m.log.CommitTransactionAsync(tx.ID); err != nil {
		return err
	}
	tx.setState(StateCommitted)
	return nil
}

// Rollback rolls back tx and releases the writer lock.
func (m *Manager) Rollback(tx *Transaction) error {
	defer m.finish(tx)
	if err := m.log.RollbackTransaction(tx.ID); err != nil {
		return err
	}
	tx.setState(StateRolledBack)
	return nil
}

// Savepoint records a named savepoint on tx.
func (m *Manager) Savepoint(tx *Transaction, name string) error {
	if !tx.IsActive() {
		return scdberrors.InvariantViolation("txn: transaction %d is not active", tx.ID)
	}
	tx.AddSavepoint(name)
	return nil
}

// RollbackToSavepoint returns the preimages recorded after name's savepoint
// so the caller can revert them, and discards savepoints taken after it.
// It does not end the transaction.
func (m *Manager) RollbackToSavepoint(tx *Transaction, name string) ([]PreimageRecord, error) {
	if !tx.IsActive() {
		return nil, scdberrors.InvariantViolation("txn: transaction %d is not active", tx.ID)
	}
	idx, ok := tx.savepointIndex(name)
	if !ok {
		return nil, scdberrors.NotFound("txn: no savepoint %q on transaction %d", name, tx.ID)
	}
	all := m.log.Preimages(tx.ID)
	if idx >= len(all) {
		return nil, nil
	}
	return all[idx:], nil
}

// ReleaseSavepoint drops a savepoint on tx without rolling back to it.
func (m *Manager) ReleaseSavepoint(tx *Transaction, name string) error {
	if !tx.ReleaseSavepoint(name) {
		return scdberrors.NotFound("txn: no savepoint %q on transaction %d", name, tx.ID)
	}
	return nil
}

func (m *Manager) finish(tx *Transaction) {
	m.mu.Lock()
	if m.active == tx {
		m.active = nil
	}
	m.mu.Unlock()
	m.writeLock.Unlock()
}
