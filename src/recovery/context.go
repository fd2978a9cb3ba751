package recovery

import (
	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

// TxnContext binds the logging hooks to one transaction so that callers
// don't have to pass its id around.
type TxnContext struct {
	m   *Manager
	txn common.Transaction
}

// WithContext returns a context for a transaction that has already
// been started.
func (m *Manager) WithContext(txn common.Transaction) *TxnContext {
	m.att.mustGet(txn.ID())

	return &TxnContext{m: m, txn: txn}
}

func (c *TxnContext) Txn() common.Transaction {
	return c.txn
}

func (c *TxnContext) LogPageWrite(
	pageNum common.PageNum,
	offset uint16,
	before []byte,
	after []byte,
) (common.LSN, error) {
	return c.m.LogPageWrite(c.txn.ID(), pageNum, offset, before, after)
}

func (c *TxnContext) LogAllocPart(part common.PartNum) (common.LSN, error) {
	return c.m.LogAllocPart(c.txn.ID(), part)
}

func (c *TxnContext) LogFreePart(part common.PartNum) (common.LSN, error) {
	return c.m.LogFreePart(c.txn.ID(), part)
}

func (c *TxnContext) LogAllocPage(pageNum common.PageNum) (common.LSN, error) {
	return c.m.LogAllocPage(c.txn.ID(), pageNum)
}

func (c *TxnContext) LogFreePage(pageNum common.PageNum) (common.LSN, error) {
	return c.m.LogFreePage(c.txn.ID(), pageNum)
}

func (c *TxnContext) Savepoint(name string) {
	c.m.Savepoint(c.txn.ID(), name)
}

func (c *TxnContext) ReleaseSavepoint(name string) {
	c.m.ReleaseSavepoint(c.txn.ID(), name)
}

func (c *TxnContext) RollbackToSavepoint(name string) error {
	return c.m.RollbackToSavepoint(c.txn.ID(), name)
}

func (c *TxnContext) Commit() (common.LSN, error) {
	return c.m.Commit(c.txn.ID())
}

func (c *TxnContext) Abort() (common.LSN, error) {
	return c.m.Abort(c.txn.ID())
}

func (c *TxnContext) End() (common.LSN, error) {
	return c.m.End(c.txn.ID())
}
