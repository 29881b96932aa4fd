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
Package engine wires every lower layer (container, page manager, WAL,
transaction manager, storage engines, indexes, and the query caches) into
one Database handle: the thing a caller opens, issues DDL and CRUD
against, and closes.

Row-level undo works at a different granularity than internal/wal's
block-offset preimage model: the storage engines address rows by Ref, not
by {blockName, offset}, and neither HeapEngine nor AppendOnlyEngine ever
calls LogWrite itself — only internal/txn.Manager.Write does, and this
package never routes row writes through that method. Reconstructing a row
mutation from a raw page-byte preimage would need the storage engines to
expose which bytes within a page frame a given Insert/Update/Delete
touched, which neither engine's API surface does today. Database instead
keeps its own per-transaction undo list of inverse closures (an Update's
undo re-Updates the old bytes back in; an Insert's undo Deletes the new
ref; a Delete's undo re-Inserts the removed bytes, accepting a new Ref,
and patches every index entry that pointed at the old one) and runs it,
LIFO, on Rollback. The WAL and transaction manager still own
transaction-boundary framing (Begin/Commit/Abort records) and
durability-mode-driven fsync timing.
*/
package engine

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"scdb/internal/compression"
	"scdb/internal/config"
	"scdb/internal/container"
	scdberrors "scdb/internal/errors"
	"scdb/internal/index"
	"scdb/internal/logging"
	"scdb/internal/page"
	"scdb/internal/query"
	"scdb/internal/storage"
	"scdb/internal/txn"
	"scdb/internal/wal"
)

func tablePagesBlockName(id storage.TableID) string {
	return fmt.Sprintf("table:%d:pages", id)
}

func encodePageList(pages []uint64) []byte {
	buf := make([]byte, 8*len(pages))
	for i, p := range pages {
		binary.LittleEndian.PutUint64(buf[i*8:], p)
	}
	return buf
}

func decodePageList(data []byte) ([]uint64, error) {
	if len(data)%8 != 0 {
		return nil, scdberrors.Corruption("engine: table page-list block has a trailing %d-byte fragment", len(data)%8)
	}
	out := make([]uint64, len(data)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(data[i*8:])
	}
	return out, nil
}

// Database is the top-level handle over one SCDB instance: the container
// on disk, the page cache, the WAL, the transaction manager, the
// table/index catalog, and the query-side caches.
type Database struct {
	cfg *config.Config
	log *logging.Logger

	container *container.Container
	pages     *page.Manager
	wal       *wal.WAL
	txns      *txn.Manager
	writeBack *storage.WriteBehindQueue

	mu      sync.RWMutex // guards catalog-driven maps below against concurrent DDL
	catalog *Catalog
	engines map[storage.TableID]storage.StorageEngine
	indexes map[storage.TableID]map[string]*index.Lazy

	writerMu sync.Mutex // one write transaction at a time, per spec.md §4.6

	PlanCache     *query.PlanCache
	ResultCache   *query.QueryResultCache
	SubqueryCache *query.SubqueryCache
}

// Open opens (or creates) the SCDB instance at path, using walDir for its
// write-ahead log segment. Any segment left behind by an unclean shutdown
// is replayed before the database is usable.
func Open(path, walDir string, cfg *config.Config) (*Database, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logging.NewLogger("engine")

	strategy, err := container.ParseAllocationStrategy(cfg.AllocationStrategy)
	if err != nil {
		return nil, err
	}
	compAlgo, err := compression.ParseAlgorithm(cfg.CompressionAlgorithm)
	if err != nil {
		return nil, err
	}
	c, err := container.Open(path, container.Options{
		PageSize:             uint32(cfg.PageSize),
		AllocationStrategy:   strategy,
		EnableEncryption:     cfg.EnableEncryption,
		Passphrase:           cfg.EncryptionPassphrase,
		CompressionAlgorithm: compAlgo,
	})
	if err != nil {
		return nil, err
	}

	walCfg := wal.Config{Dir: walDir, Compression: compAlgo}
	switch cfg.Durability {
	case "FullSync":
		walCfg.Durability = wal.FullSync
	case "GroupCommit":
		walCfg.Durability = wal.GroupCommit
		walCfg.GroupCommitSize = cfg.GroupCommitBatchSize
		walCfg.GroupCommitWindow = cfg.GroupCommitTimeout
	case "Async":
		walCfg.Durability = wal.Async
	}

	w, err := openOrRecoverWAL(walCfg, log)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.SetTransactionLog(w)

	pages := page.NewManager(c, cfg.CacheSizePages)

	db := &Database{
		cfg:           cfg,
		log:           log,
		container:     c,
		pages:         pages,
		wal:           w,
		txns:          txn.NewManager(newTxnLogBridge(w)),
		writeBack:     storage.NewWriteBehindQueue(c, storage.DefaultWriteBehindConfig()),
		engines:       make(map[storage.TableID]storage.StorageEngine),
		indexes:       make(map[storage.TableID]map[string]*index.Lazy),
		PlanCache:     query.NewPlanCache(cfg.QueryCacheSize),
		ResultCache:   query.NewQueryResultCache(cfg.QueryCacheSize),
		SubqueryCache: query.NewSubqueryCache(),
	}

	if err := db.loadCatalog(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// openOrRecoverWAL opens a fresh WAL segment, unless a prior run's segment
// is still sitting in walCfg.Dir (left behind by an unclean shutdown — a
// clean Close deletes it), in which case that segment is replayed first.
func openOrRecoverWAL(walCfg wal.Config, log *logging.Logger) (*wal.WAL, error) {
	matches, err := filepath.Glob(filepath.Join(walCfg.Dir, "wal-*.log"))
	if err != nil {
		return nil, scdberrors.InvariantViolation("engine: scanning wal dir %q: %v", walCfg.Dir, err)
	}
	if len(matches) == 0 {
		return wal.Open(walCfg)
	}
	// Only one instance writes a given directory at a time, so at most one
	// leftover segment is expected; recover the first and report the rest.
	if len(matches) > 1 {
		log.Warn("multiple leftover WAL segments found, recovering the first", "count", len(matches))
	}
	recovered, err := wal.Recover(walCfg, matches[0])
	if err != nil {
		return nil, err
	}
	log.Info("recovered WAL segment", "path", matches[0], "committedWrites", len(recovered.Writes))
	return recovered.WAL, nil
}

// loadCatalog restores the table/index registry from its container block,
// and re-creates a storage engine plus index set for every registered
// table. A fresh database (no catalog block yet) starts with an empty
// catalog.
func (d *Database) loadCatalog() error {
	data, ok, err := d.container.ReadBlock(catalogBlockName)
	if err != nil {
		return err
	}
	if !ok {
		d.catalog = NewCatalog()
		return nil
	}
	cat, err := DecodeCatalog(data)
	if err != nil {
		return err
	}
	d.catalog = cat

	for _, name := range cat.Names() {
		meta, _ := cat.Get(name)
		if err := d.restoreTable(meta); err != nil {
			return err
		}
	}
	return nil
}

// restoreTable recreates meta's storage engine and page directory, then
// rebuilds any secondary indexes meta records, after a reopen.
func (d *Database) restoreTable(meta *TableMeta) error {
	eng := d.newEngineFor(meta.EngineType)
	d.engines[meta.ID] = eng

	pagesData, ok, err := d.container.ReadBlock(tablePagesBlockName(meta.ID))
	if err != nil {
		return err
	}
	if ok {
		pages, err := decodePageList(pagesData)
		if err != nil {
			return err
		}
		switch e := eng.(type) {
		case *storage.HeapEngine:
			e.RestoreTablePages(meta.ID, pages)
		case *storage.AppendOnlyEngine:
			if err := e.RestoreTablePages(meta.ID, pages); err != nil {
				return err
			}
		}
	}

	d.indexes[meta.ID] = make(map[string]*index.Lazy)
	for _, col := range meta.IndexedColumns {
		if err := d.buildIndexLocked(meta, col); err != nil {
			return err
		}
	}
	return nil
}

func (d *Database) newEngineFor(t storage.EngineType) storage.StorageEngine {
	switch t {
	case storage.EngineTypeAppendOnly:
		return storage.NewAppendOnlyEngine(d.pages, d.wal)
	default:
		return storage.NewHeapEngine(d.pages, d.wal)
	}
}

func (d *Database) buildIndexLocked(meta *TableMeta, column string) error {
	col, ok := meta.Column(column)
	if !ok {
		return scdberrors.NotFound("engine: table %q has no column %q to index", meta.Name, column)
	}
	var idx index.Index
	if meta.HashIndexed[column] {
		idx = index.NewHash(col)
	} else {
		idx = index.NewBTree(col, 16)
	}
	src := &tableSource{db: d, meta: meta, column: column}
	lazy, err := index.NewLazy(idx, src, index.BuildLazy)
	if err != nil {
		return err
	}
	d.indexes[meta.ID][column] = lazy
	return nil
}

// CreateTable registers a new table and gives it a fresh storage engine.
func (d *Database) CreateTable(name string, columns []storage.Column, engineType storage.EngineType) (*TableMeta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	meta, err := d.catalog.Add(name, columns, engineType)
	if err != nil {
		return nil, err
	}
	d.engines[meta.ID] = d.newEngineFor(engineType)
	d.indexes[meta.ID] = make(map[string]*index.Lazy)
	d.persistCatalogLocked()
	return meta, nil
}

// CreateIndex adds a secondary index on table.column, hash-based when hash
// is true and a B-tree otherwise, and records it in the catalog so it
// survives a reopen.
func (d *Database) CreateIndex(table, column string, hash bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	meta, ok := d.catalog.Get(table)
	if !ok {
		return scdberrors.NotFound("engine: table %q not found", table)
	}
	if err := d.catalog.AddIndex(table, column, hash); err != nil {
		return err
	}
	if err := d.buildIndexLocked(meta, column); err != nil {
		return err
	}
	d.persistCatalogLocked()
	return nil
}

// persistCatalogLocked queues the catalog for write-behind persistence.
// Callers hold d.mu.
func (d *Database) persistCatalogLocked() {
	d.writeBack.Write(catalogBlockName, container.BlockTypeSystem, d.catalog.Encode())
}

// persistTablePages queues tableID's current owned-page list for
// write-behind persistence, so a reopen can restore it via restoreTable.
func (d *Database) persistTablePages(tableID storage.TableID) {
	var pages []uint64
	switch e := d.engines[tableID].(type) {
	case *storage.HeapEngine:
		pages = e.TablePages(tableID)
	case *storage.AppendOnlyEngine:
		pages = e.TablePages(tableID)
	}
	d.writeBack.Write(tablePagesBlockName(tableID), container.BlockTypeTablePages, encodePageList(pages))
}

// Table looks up a registered table's metadata.
func (d *Database) Table(name string) (*TableMeta, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.catalog.Get(name)
}

// TableNames lists every registered table, sorted.
func (d *Database) TableNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.catalog.Names()
}

// Close flushes the catalog and every table's page directory, flushes the
// page cache, and closes the WAL and container.
func (d *Database) Close() error {
	d.mu.Lock()
	if d.catalog != nil {
		d.persistCatalogLocked()
		ids := make([]storage.TableID, 0, len(d.engines))
		for id := range d.engines {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			d.persistTablePages(id)
		}
	}
	d.mu.Unlock()

	if d.writeBack != nil {
		d.writeBack.Close()
	}
	if d.pages != nil {
		if err := d.pages.FlushDirty(); err != nil {
			return err
		}
	}
	if d.wal != nil {
		if err := d.wal.Close(); err != nil {
			return err
		}
	}
	if d.container != nil {
		return d.container.Close()
	}
	return nil
}
