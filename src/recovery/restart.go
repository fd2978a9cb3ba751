package recovery

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Blackdeer1524/ariesdb/src/pkg/assert"
	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

// Restart brings the database back to a transaction-consistent state
// after a crash or a clean shutdown. An empty log is initialized
// instead. No transactions may start before Restart returns.
func (m *Manager) Restart(ctx context.Context) error {
	if m.logStore.IsEmpty() {
		return m.Initialize()
	}

	master, err := m.logStore.Master()
	if err != nil {
		return err
	}

	checkpointLSN := master.LastCheckpointLSN()
	m.log.Infow("restart started", "checkpoint", checkpointLSN)

	err = m.runPhase(ctx, PhaseAnalysis, func() error {
		return m.restartAnalysis(checkpointLSN)
	})
	if err != nil {
		return err
	}

	err = m.runPhase(ctx, PhaseRedo, func() error {
		if err := m.restartRedo(checkpointLSN); err != nil {
			return err
		}

		m.cleanDPT()
		m.redoComplete.Store(true)

		return nil
	})
	if err != nil {
		return err
	}

	err = m.runPhase(ctx, PhaseUndo, m.restartUndo)
	if err != nil {
		return err
	}

	m.setPhase(PhaseRunning)

	if err := m.Checkpoint(); err != nil {
		return fmt.Errorf("checkpoint after restart: %w", err)
	}

	m.log.Infow("restart finished", "dirty_pages", len(m.dpt.snapshot()))

	return nil
}

func (m *Manager) runPhase(ctx context.Context, phase Phase, fn func() error) error {
	_, span := otel.Tracer(meterName).Start(ctx, "recovery."+phase.String())
	defer span.End()

	m.setPhase(phase)
	started := time.Now()

	if err := fn(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return fmt.Errorf("restart %s: %w", phase, err)
	}

	m.metrics.phaseFinished(phase, started)
	span.SetAttributes(
		attribute.Int("dirty_pages", len(m.dpt.snapshot())),
		attribute.Int("txns", len(m.att.snapshot())),
	)

	return nil
}

// restartAnalysis rebuilds the transaction and dirty page tables from
// the last checkpoint onwards.
func (m *Manager) restartAnalysis(checkpointLSN common.LSN) error {
	ended := map[common.TxnID]struct{}{}

	iter := m.logStore.ScanFrom(checkpointLSN)
	for {
		record, err := iter.Next()
		if errors.Is(err, ErrNoSuchRecord) {
			break
		} else if err != nil {
			return err
		}

		if txnRecord, ok := record.(TxnLogRecord); ok {
			entry := m.analysisEntry(txnRecord.TxnID())
			entry.raiseLastLSN(record.LSN())

			m.analyzeTxnRecord(entry, txnRecord, ended)

			continue
		}

		if r, ok := record.(*CheckpointEndLogRecord); ok {
			m.analyzeCheckpointEnd(r, ended)
		}
	}

	for _, entry := range m.att.entries() {
		switch entry.Txn.Status() {
		case common.TxnStatusRunning:
			txnID := entry.Txn.ID()

			_, err := entry.appendRecord(m.logStore, func(prevLSN common.LSN) TxnLogRecord {
				return NewAbortLogRecord(txnID, prevLSN)
			})
			if err != nil {
				return err
			}

			entry.Txn.SetStatus(common.TxnStatusRecoveryAborting)
		case common.TxnStatusCommitting:
			if _, err := m.endTransaction(entry); err != nil {
				return err
			}
		}
	}

	return nil
}

func (m *Manager) analysisEntry(txnID common.TxnID) *ATTEntry {
	entry, created := m.att.getOrCreate(txnID, m.newTxn)
	if created {
		entry.Txn.SetStatus(common.TxnStatusRunning)
	}

	return entry
}

func (m *Manager) analyzeTxnRecord(
	entry *ATTEntry,
	record TxnLogRecord,
	ended map[common.TxnID]struct{},
) {
	switch r := record.(type) {
	case *UpdatePageLogRecord:
		m.dpt.dirty(r.PageNum(), r.LSN())
	case *FreePageLogRecord:
		m.dpt.dirty(r.PageNum(), r.LSN())
	case *FreePartLogRecord:
		m.forgetPart(r.PartNum())
	case *CompensationLogRecord:
		switch r.Undone() {
		case TypeUpdatePage, TypeAllocPage:
			m.dpt.dirty(r.PageNum(), r.LSN())
		case TypeAllocPart:
			m.forgetPart(r.PartNum())
		}
	case *CommitLogRecord:
		entry.Txn.SetStatus(common.TxnStatusCommitting)
	case *AbortLogRecord:
		entry.Txn.SetStatus(common.TxnStatusRecoveryAborting)
	case *TxnEndLogRecord:
		entry.Txn.Cleanup()
		entry.Txn.SetStatus(common.TxnStatusComplete)
		m.att.remove(r.TxnID())
		ended[r.TxnID()] = struct{}{}
	}
}

func (m *Manager) forgetPart(part common.PartNum) {
	m.dpt.retain(func(pageNum common.PageNum) bool {
		return pageNum.Part() != part
	})
}

func (m *Manager) analyzeCheckpointEnd(
	record *CheckpointEndLogRecord,
	ended map[common.TxnID]struct{},
) {
	for pageNum, recLSN := range record.DirtyPageTable() {
		m.dpt.set(pageNum, recLSN)
	}

	for txnID, info := range record.TxnTable() {
		if _, ok := ended[txnID]; ok {
			continue
		}

		entry := m.analysisEntry(txnID)
		entry.raiseLastLSN(info.LastLSN)

		if entry.Txn.Status() != common.TxnStatusRunning {
			continue
		}

		switch info.Status {
		case common.TxnStatusCommitting:
			entry.Txn.SetStatus(common.TxnStatusCommitting)
		case common.TxnStatusAborting, common.TxnStatusRecoveryAborting:
			entry.Txn.SetStatus(common.TxnStatusRecoveryAborting)
		}
	}
}

// restartRedo repeats history from the smallest recLSN. Records that
// touch pages are skipped when the page is clean, the change predates
// the page's recLSN, or the page on disk already has it.
func (m *Manager) restartRedo(checkpointLSN common.LSN) error {
	start := checkpointLSN
	if recLSN, ok := m.dpt.minRecLSN(); ok {
		start = min(start, recLSN)
	}

	redone := 0

	iter := m.logStore.ScanFrom(start)
	for {
		record, err := iter.Next()
		if errors.Is(err, ErrNoSuchRecord) {
			break
		} else if err != nil {
			return err
		}

		if !isRedoable(record) {
			continue
		}

		if pageNum, ok := redoTarget(record); ok {
			skip, err := m.skipPageRedo(pageNum, record.LSN())
			if err != nil {
				return err
			}

			if skip {
				continue
			}
		}

		if err := m.redo(record); err != nil {
			return err
		}
		redone++
	}

	m.log.Infow("redo finished", "from", start, "redone", redone)

	return nil
}

func (m *Manager) skipPageRedo(pageNum common.PageNum, lsn common.LSN) (bool, error) {
	recLSN, dirty := m.dpt.get(pageNum)
	if !dirty || lsn < recLSN {
		return true, nil
	}

	if !m.disk.PageAllocated(pageNum) {
		return true, nil
	}

	pageLSN, err := m.pageLSN(pageNum)
	if err != nil {
		return false, err
	}

	return pageLSN >= lsn, nil
}

// cleanDPT keeps only the pages that are still dirty in the buffer pool.
func (m *Manager) cleanDPT() {
	dirty := map[common.PageNum]struct{}{}
	m.pool.IterPageNums(func(pageNum common.PageNum, isDirty bool) {
		if isDirty {
			dirty[pageNum] = struct{}{}
		}
	})

	m.dpt.retain(func(pageNum common.PageNum) bool {
		_, ok := dirty[pageNum]
		return ok
	})
}

type undoItem struct {
	lsn   common.LSN
	entry *ATTEntry
}

type undoHeap []undoItem

func (h undoHeap) Len() int           { return len(h) }
func (h undoHeap) Less(i, j int) bool { return h[i].lsn > h[j].lsn }
func (h undoHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *undoHeap) Push(x any) {
	*h = append(*h, x.(undoItem))
}

func (h *undoHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}

// restartUndo rolls back every transaction left aborting by analysis,
// always undoing the largest outstanding LSN first.
func (m *Manager) restartUndo() error {
	h := &undoHeap{}
	for _, entry := range m.att.entries() {
		if entry.Txn.Status() == common.TxnStatusRecoveryAborting {
			heap.Push(h, undoItem{lsn: entry.LastLSN(), entry: entry})
		}
	}

	rolledBack := h.Len()

	for h.Len() > 0 {
		item := heap.Pop(h).(undoItem)

		record, err := m.logStore.Fetch(item.lsn)
		if err != nil {
			return err
		}

		txnRecord := assert.Cast[TxnLogRecord](record)

		if isUndoable(txnRecord) {
			if err := m.undo(item.entry, txnRecord); err != nil {
				return err
			}
		}

		next := txnRecord.PrevLSN()
		if clr, ok := txnRecord.(*CompensationLogRecord); ok {
			next = clr.UndoNextLSN()
		}

		if next == common.NilLSN {
			if _, err := m.endTransaction(item.entry); err != nil {
				return err
			}

			continue
		}

		heap.Push(h, undoItem{lsn: next, entry: item.entry})
	}

	m.log.Infow("undo finished", "txns", rolledBack)

	return nil
}
