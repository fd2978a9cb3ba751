package recovery

import (
	"sync"

	"github.com/Blackdeer1524/ariesdb/src/pkg/assert"
	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

// ATTEntry tracks a live transaction. lastLSN and savepoints are only
// changed by the transaction's own call path; the lock exists so that
// checkpoints can read them.
type ATTEntry struct {
	Txn common.Transaction

	mu         sync.Mutex
	lastLSN    common.LSN
	savepoints map[string]common.LSN
}

func newATTEntry(txn common.Transaction, lastLSN common.LSN) *ATTEntry {
	return &ATTEntry{
		Txn:        txn,
		lastLSN:    lastLSN,
		savepoints: map[string]common.LSN{},
	}
}

func (e *ATTEntry) LastLSN() common.LSN {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.lastLSN
}

func (e *ATTEntry) setLastLSN(lsn common.LSN) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastLSN = lsn
}

// raiseLastLSN keeps the larger of the current and the given LSN.
func (e *ATTEntry) raiseLastLSN(lsn common.LSN) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastLSN = max(e.lastLSN, lsn)
}

// appendRecord chains a new record after lastLSN and makes it the new
// lastLSN.
func (e *ATTEntry) appendRecord(
	store *LogStore,
	build func(prevLSN common.LSN) TxnLogRecord,
) (common.LSN, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lsn, err := store.Append(build(e.lastLSN))
	if err != nil {
		return common.NilLSN, err
	}

	e.lastLSN = lsn

	return lsn, nil
}

func (e *ATTEntry) addSavepoint(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.savepoints[name] = e.lastLSN
}

func (e *ATTEntry) savepoint(name string) (common.LSN, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lsn, ok := e.savepoints[name]

	return lsn, ok
}

func (e *ATTEntry) deleteSavepoint(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.savepoints[name]
	delete(e.savepoints, name)

	return ok
}

type ActiveTransactionsTable struct {
	mu    sync.Mutex
	table map[common.TxnID]*ATTEntry
}

func NewATT() *ActiveTransactionsTable {
	return &ActiveTransactionsTable{
		table: map[common.TxnID]*ATTEntry{},
	}
}

func (att *ActiveTransactionsTable) insert(
	txn common.Transaction,
	lastLSN common.LSN,
) *ATTEntry {
	att.mu.Lock()
	defer att.mu.Unlock()

	_, exists := att.table[txn.ID()]
	assert.Assert(!exists, "transaction %d is already in the table", txn.ID())

	entry := newATTEntry(txn, lastLSN)
	att.table[txn.ID()] = entry

	return entry
}

func (att *ActiveTransactionsTable) get(txnID common.TxnID) (*ATTEntry, bool) {
	att.mu.Lock()
	defer att.mu.Unlock()

	entry, ok := att.table[txnID]

	return entry, ok
}

func (att *ActiveTransactionsTable) mustGet(txnID common.TxnID) *ATTEntry {
	entry, ok := att.get(txnID)
	assert.Assert(ok, "unknown transaction %d", txnID)

	return entry
}

// getOrCreate returns the entry for txnID, creating a fresh transaction
// through newTxn if there is none. The second result is true if the
// entry was created.
func (att *ActiveTransactionsTable) getOrCreate(
	txnID common.TxnID,
	newTxn common.TransactionFactory,
) (*ATTEntry, bool) {
	att.mu.Lock()
	defer att.mu.Unlock()

	if entry, ok := att.table[txnID]; ok {
		return entry, false
	}

	entry := newATTEntry(newTxn(txnID), common.NilLSN)
	att.table[txnID] = entry

	return entry, true
}

func (att *ActiveTransactionsTable) remove(txnID common.TxnID) {
	att.mu.Lock()
	defer att.mu.Unlock()

	delete(att.table, txnID)
}

func (att *ActiveTransactionsTable) entries() []*ATTEntry {
	att.mu.Lock()
	defer att.mu.Unlock()

	res := make([]*ATTEntry, 0, len(att.table))
	for _, entry := range att.table {
		res = append(res, entry)
	}

	return res
}

func (att *ActiveTransactionsTable) snapshot() map[common.TxnID]CheckpointTxnInfo {
	att.mu.Lock()
	defer att.mu.Unlock()

	res := make(map[common.TxnID]CheckpointTxnInfo, len(att.table))
	for txnID, entry := range att.table {
		res[txnID] = CheckpointTxnInfo{
			Status:  entry.Txn.Status(),
			LastLSN: entry.LastLSN(),
		}
	}

	return res
}
