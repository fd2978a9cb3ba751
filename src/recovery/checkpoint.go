package recovery

import (
	"fmt"
	"maps"
	"slices"

	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

// Checkpoint takes a fuzzy checkpoint: a begin record, the dirty page
// table and the transaction table split over as many end records as
// needed, and finally the master record pointing at the begin record.
func (m *Manager) Checkpoint() error {
	m.checkpointMu.Lock()
	defer m.checkpointMu.Unlock()

	beginLSN, err := m.logStore.Append(NewCheckpointBeginLogRecord())
	if err != nil {
		return fmt.Errorf("begin checkpoint: %w", err)
	}

	dpt := m.dpt.snapshot()
	txns := m.att.snapshot()

	lastLSN, err := m.writeCheckpointEnd(dpt, txns)
	if err != nil {
		return fmt.Errorf("end checkpoint: %w", err)
	}

	if err := m.logStore.FlushToLSN(lastLSN); err != nil {
		return fmt.Errorf("flush checkpoint: %w", err)
	}

	if err := m.logStore.RewriteMaster(NewMasterLogRecord(beginLSN)); err != nil {
		return err
	}

	m.log.Debugw(
		"checkpoint taken",
		"begin", beginLSN,
		"dirty_pages", len(dpt),
		"txns", len(txns),
	)

	return nil
}

// writeCheckpointEnd emits end records, starting a new one whenever the
// next entry would not fit. At least one record is always written.
func (m *Manager) writeCheckpointEnd(
	dpt map[common.PageNum]common.LSN,
	txns map[common.TxnID]CheckpointTxnInfo,
) (common.LSN, error) {
	chunkDPT := map[common.PageNum]common.LSN{}
	chunkTxns := map[common.TxnID]CheckpointTxnInfo{}

	var lastLSN common.LSN
	emit := func() error {
		lsn, err := m.logStore.Append(NewCheckpointEndLogRecord(chunkDPT, chunkTxns))
		if err != nil {
			return err
		}

		lastLSN = lsn
		chunkDPT = map[common.PageNum]common.LSN{}
		chunkTxns = map[common.TxnID]CheckpointTxnInfo{}

		return nil
	}

	for _, pageNum := range slices.Sorted(maps.Keys(dpt)) {
		if !fitsInOneRecord(len(chunkDPT)+1, 0) {
			if err := emit(); err != nil {
				return common.NilLSN, err
			}
		}
		chunkDPT[pageNum] = dpt[pageNum]
	}

	for _, txnID := range slices.Sorted(maps.Keys(txns)) {
		if !fitsInOneRecord(len(chunkDPT), len(chunkTxns)+1) {
			if err := emit(); err != nil {
				return common.NilLSN, err
			}
		}
		chunkTxns[txnID] = txns[txnID]
	}

	if err := emit(); err != nil {
		return common.NilLSN, err
	}

	return lastLSN, nil
}

// Initialize prepares a brand-new log: a master record and a first
// checkpoint.
func (m *Manager) Initialize() error {
	if err := m.logStore.RewriteMaster(NewMasterLogRecord(common.NilLSN)); err != nil {
		return fmt.Errorf("initialize log: %w", err)
	}

	m.redoComplete.Store(true)
	m.setPhase(PhaseRunning)

	if err := m.Checkpoint(); err != nil {
		return fmt.Errorf("initialize log: %w", err)
	}

	m.log.Infow("initialized empty log")

	return nil
}
