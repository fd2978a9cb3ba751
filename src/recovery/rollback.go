package recovery

import (
	"fmt"

	"github.com/Blackdeer1524/ariesdb/src/pkg/assert"
	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

// rollbackToLSN undoes the transaction's records with LSNs greater than
// boundary, newest first. Every undo is logged as a CLR and applied at
// once. Records already compensated are skipped through undoNextLSN.
func (m *Manager) rollbackToLSN(entry *ATTEntry, boundary common.LSN) error {
	lastLSN := entry.LastLSN()
	if lastLSN == common.NilLSN {
		return nil
	}

	last, err := m.logStore.Fetch(lastLSN)
	if err != nil {
		return fmt.Errorf("rollback of txn %d: %w", entry.Txn.ID(), err)
	}

	current := lastLSN
	if clr, ok := last.(*CompensationLogRecord); ok {
		current = clr.UndoNextLSN()
	}

	for current > boundary {
		record, err := m.logStore.Fetch(current)
		if err != nil {
			return fmt.Errorf("rollback of txn %d: %w", entry.Txn.ID(), err)
		}

		txnRecord := assert.Cast[TxnLogRecord](record)
		assert.Assert(
			txnRecord.TxnID() == entry.Txn.ID(),
			"record %d belongs to txn %d, not %d",
			current,
			txnRecord.TxnID(),
			entry.Txn.ID(),
		)

		if isUndoable(txnRecord) {
			if err := m.undo(entry, txnRecord); err != nil {
				return err
			}
		}

		if clr, ok := txnRecord.(*CompensationLogRecord); ok {
			current = clr.UndoNextLSN()
		} else {
			current = txnRecord.PrevLSN()
		}
	}

	return nil
}

// undo writes the CLR for record and redoes it.
func (m *Manager) undo(entry *ATTEntry, record TxnLogRecord) error {
	var clr *CompensationLogRecord

	_, err := m.appendTxnRecord(
		entry,
		func(prevLSN common.LSN) TxnLogRecord {
			clr = makeCLR(record, prevLSN)
			return clr
		},
		func(lsn common.LSN) error {
			// allocation changes reach the disk directly
			if clr.Undone() != TypeUpdatePage {
				if err := m.logStore.FlushToLSN(lsn); err != nil {
					return err
				}
			}

			return m.redo(clr)
		},
	)
	if err != nil {
		return fmt.Errorf("undo %d of txn %d: %w", record.LSN(), entry.Txn.ID(), err)
	}

	m.metrics.clrWritten()

	return nil
}
