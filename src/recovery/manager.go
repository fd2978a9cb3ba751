package recovery

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Blackdeer1524/ariesdb/src/pkg/assert"
	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

type Phase int32

const (
	PhaseStopped Phase = iota
	PhaseAnalysis
	PhaseRedo
	PhaseUndo
	PhaseRunning
)

func (p Phase) String() string {
	switch p {
	case PhaseStopped:
		return "stopped"
	case PhaseAnalysis:
		return "analysis"
	case PhaseRedo:
		return "redo"
	case PhaseUndo:
		return "undo"
	case PhaseRunning:
		return "running"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Manager implements write-ahead logging and ARIES restart recovery on
// top of a log store, a disk space manager and a buffer pool.
//
// Records that belong to a transaction are appended under a shared
// checkpoint lock together with the table updates they imply, so a
// checkpoint always sees the tables as of a single log position.
type Manager struct {
	log *zap.SugaredLogger

	logStore *LogStore
	disk     DiskSpaceManager
	pool     BufferManager
	newTxn   common.TransactionFactory

	att *ActiveTransactionsTable
	dpt *DirtyPageTable

	checkpointMu sync.RWMutex
	redoComplete atomic.Bool
	phase        atomic.Int32

	metrics *metrics
}

func New(
	logStore *LogStore,
	diskManager DiskSpaceManager,
	pool BufferManager,
	newTxn common.TransactionFactory,
	log *zap.SugaredLogger,
) *Manager {
	return &Manager{
		log:      log,
		logStore: logStore,
		disk:     diskManager,
		pool:     pool,
		newTxn:   newTxn,
		att:      NewATT(),
		dpt:      NewDPT(),
		metrics:  logStore.metrics,
	}
}

func (m *Manager) Phase() Phase {
	return Phase(m.phase.Load())
}

func (m *Manager) setPhase(p Phase) {
	m.phase.Store(int32(p))
}

func (m *Manager) assertRunning() {
	assert.Assert(
		m.Phase() == PhaseRunning,
		"recovery manager is not running: %s",
		m.Phase(),
	)
}

// appendTxnRecord appends a record to the transaction's chain. onAppended
// runs before a concurrent checkpoint can observe the new lastLSN.
func (m *Manager) appendTxnRecord(
	entry *ATTEntry,
	build func(prevLSN common.LSN) TxnLogRecord,
	onAppended func(lsn common.LSN) error,
) (common.LSN, error) {
	m.checkpointMu.RLock()
	defer m.checkpointMu.RUnlock()

	lsn, err := entry.appendRecord(m.logStore, build)
	if err != nil {
		return common.NilLSN, fmt.Errorf("txn %d: %w", entry.Txn.ID(), err)
	}

	if onAppended != nil {
		if err := onAppended(lsn); err != nil {
			return lsn, err
		}
	}

	return lsn, nil
}

func (m *Manager) StartTransaction(txn common.Transaction) {
	m.assertRunning()

	txn.SetStatus(common.TxnStatusRunning)
	m.att.insert(txn, common.NilLSN)
}

// LogPageWrite logs an in-place overwrite of a data page. The caller
// holds the page latch, applies the after image and stamps the returned
// LSN as the new pageLSN. The log is not flushed.
func (m *Manager) LogPageWrite(
	txnID common.TxnID,
	pageNum common.PageNum,
	offset uint16,
	before []byte,
	after []byte,
) (common.LSN, error) {
	assert.Assert(
		len(before) == len(after),
		"image sizes differ: before=%d, after=%d",
		len(before),
		len(after),
	)
	assert.Assert(
		len(after) <= MaxUpdateImageSize,
		"update image is too large: %d bytes",
		len(after),
	)
	assert.Assert(
		pageNum.Part() != common.LogPartNum,
		"log pages can't be updated through the log",
	)

	entry := m.att.mustGet(txnID)

	return m.appendTxnRecord(
		entry,
		func(prevLSN common.LSN) TxnLogRecord {
			return NewUpdatePageLogRecord(txnID, prevLSN, pageNum, offset, before, after)
		},
		func(lsn common.LSN) error {
			m.dpt.dirty(pageNum, lsn)
			return nil
		},
	)
}

// Commit makes the transaction durable. It returns once the commit
// record is on disk.
func (m *Manager) Commit(txnID common.TxnID) (common.LSN, error) {
	entry := m.att.mustGet(txnID)

	lsn, err := m.appendTxnRecord(
		entry,
		func(prevLSN common.LSN) TxnLogRecord {
			return NewCommitLogRecord(txnID, prevLSN)
		},
		func(common.LSN) error {
			entry.Txn.SetStatus(common.TxnStatusCommitting)
			return nil
		},
	)
	if err != nil {
		return common.NilLSN, err
	}

	if err := m.logStore.FlushToLSN(lsn); err != nil {
		return common.NilLSN, fmt.Errorf("flush commit of txn %d: %w", txnID, err)
	}

	return lsn, nil
}

// Abort only marks the transaction. Its changes are rolled back by End.
func (m *Manager) Abort(txnID common.TxnID) (common.LSN, error) {
	entry := m.att.mustGet(txnID)

	return m.appendTxnRecord(
		entry,
		func(prevLSN common.LSN) TxnLogRecord {
			return NewAbortLogRecord(txnID, prevLSN)
		},
		func(common.LSN) error {
			entry.Txn.SetStatus(common.TxnStatusAborting)
			return nil
		},
	)
}

// End finishes a committed or aborted transaction. An aborted
// transaction is rolled back completely first.
func (m *Manager) End(txnID common.TxnID) (common.LSN, error) {
	entry := m.att.mustGet(txnID)

	status := entry.Txn.Status()
	assert.Assert(
		status == common.TxnStatusCommitting || status == common.TxnStatusAborting,
		"txn %d can't end in status %s",
		txnID,
		status,
	)

	if status == common.TxnStatusAborting {
		if err := m.rollbackToLSN(entry, common.NilLSN); err != nil {
			return common.NilLSN, err
		}
	}

	return m.endTransaction(entry)
}

func (m *Manager) endTransaction(entry *ATTEntry) (common.LSN, error) {
	txnID := entry.Txn.ID()

	return m.appendTxnRecord(
		entry,
		func(prevLSN common.LSN) TxnLogRecord {
			return NewTxnEndLogRecord(txnID, prevLSN)
		},
		func(common.LSN) error {
			entry.Txn.Cleanup()
			entry.Txn.SetStatus(common.TxnStatusComplete)
			m.att.remove(txnID)
			return nil
		},
	)
}

// logAndFlush appends an allocation record and forces it to disk. The
// caller performs the allocation only after this returns.
func (m *Manager) logAndFlush(
	txnID common.TxnID,
	build func(prevLSN common.LSN) TxnLogRecord,
	onAppended func(lsn common.LSN) error,
) (common.LSN, error) {
	entry := m.att.mustGet(txnID)

	lsn, err := m.appendTxnRecord(entry, build, onAppended)
	if err != nil {
		return common.NilLSN, err
	}

	if err := m.logStore.FlushToLSN(lsn); err != nil {
		return common.NilLSN, fmt.Errorf("txn %d: %w", txnID, err)
	}

	return lsn, nil
}

// LogAllocPart returns NilLSN without logging for the log partition.
func (m *Manager) LogAllocPart(txnID common.TxnID, part common.PartNum) (common.LSN, error) {
	if part == common.LogPartNum {
		return common.NilLSN, nil
	}

	return m.logAndFlush(
		txnID,
		func(prevLSN common.LSN) TxnLogRecord {
			return NewAllocPartLogRecord(txnID, prevLSN, part)
		},
		nil,
	)
}

// LogFreePart also forgets every dirty page of the partition.
func (m *Manager) LogFreePart(txnID common.TxnID, part common.PartNum) (common.LSN, error) {
	if part == common.LogPartNum {
		return common.NilLSN, nil
	}

	return m.logAndFlush(
		txnID,
		func(prevLSN common.LSN) TxnLogRecord {
			return NewFreePartLogRecord(txnID, prevLSN, part)
		},
		func(common.LSN) error {
			m.dpt.retain(func(pageNum common.PageNum) bool {
				return pageNum.Part() != part
			})
			return nil
		},
	)
}

func (m *Manager) LogAllocPage(txnID common.TxnID, pageNum common.PageNum) (common.LSN, error) {
	if pageNum.Part() == common.LogPartNum {
		return common.NilLSN, nil
	}

	return m.logAndFlush(
		txnID,
		func(prevLSN common.LSN) TxnLogRecord {
			return NewAllocPageLogRecord(txnID, prevLSN, pageNum)
		},
		nil,
	)
}

func (m *Manager) LogFreePage(txnID common.TxnID, pageNum common.PageNum) (common.LSN, error) {
	if pageNum.Part() == common.LogPartNum {
		return common.NilLSN, nil
	}

	return m.logAndFlush(
		txnID,
		func(prevLSN common.LSN) TxnLogRecord {
			return NewFreePageLogRecord(txnID, prevLSN, pageNum)
		},
		func(lsn common.LSN) error {
			// stays dirty until the free reaches the disk
			m.dpt.dirty(pageNum, lsn)
			return nil
		},
	)
}

// Savepoint bookmarks the transaction's current position. Reusing a
// name moves the bookmark.
func (m *Manager) Savepoint(txnID common.TxnID, name string) {
	m.att.mustGet(txnID).addSavepoint(name)
}

func (m *Manager) ReleaseSavepoint(txnID common.TxnID, name string) {
	m.att.mustGet(txnID).deleteSavepoint(name)
}

// RollbackToSavepoint undoes every change made after the savepoint. The
// transaction keeps running.
func (m *Manager) RollbackToSavepoint(txnID common.TxnID, name string) error {
	entry := m.att.mustGet(txnID)

	lsn, ok := entry.savepoint(name)
	assert.Assert(ok, "txn %d has no savepoint %q", txnID, name)

	return m.rollbackToLSN(entry, lsn)
}

// PageFlushHook is called by the buffer pool before it writes a page
// whose pageLSN is given.
func (m *Manager) PageFlushHook(pageLSN common.LSN) error {
	if pageLSN <= m.logStore.FlushedLSN() {
		return nil
	}

	return m.logStore.FlushToLSN(pageLSN)
}

// DiskIOHook is called by the buffer pool once a page is on disk. The
// dirty page table is left alone until redo has used it.
func (m *Manager) DiskIOHook(pageNum common.PageNum) {
	if m.redoComplete.Load() {
		m.dpt.remove(pageNum)
	}
}

// DirtyPage records lsn as the page's recLSN unless it is already dirty.
func (m *Manager) DirtyPage(pageNum common.PageNum, lsn common.LSN) {
	m.dpt.dirty(pageNum, lsn)
}

func (m *Manager) FlushToLSN(lsn common.LSN) error {
	return m.logStore.FlushToLSN(lsn)
}

func (m *Manager) FlushedLSN() common.LSN {
	return m.logStore.FlushedLSN()
}

func (m *Manager) LogStore() *LogStore {
	return m.logStore
}

func (m *Manager) TransactionTableSnapshot() map[common.TxnID]CheckpointTxnInfo {
	return m.att.snapshot()
}

func (m *Manager) DirtyPageTableSnapshot() map[common.PageNum]common.LSN {
	return m.dpt.snapshot()
}

// Close takes a final checkpoint and makes the whole log durable.
func (m *Manager) Close() error {
	if m.Phase() == PhaseRunning {
		if err := m.Checkpoint(); err != nil {
			return err
		}
	}

	m.setPhase(PhaseStopped)

	return m.logStore.Close()
}
