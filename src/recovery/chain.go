package recovery

import (
	"errors"
	"fmt"

	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

// TxnLogChain drives transactions through the write protocol: every
// change is logged before it is applied, page updates happen under the
// page latch and stamp the pageLSN. The first error stops the chain.
type TxnLogChain struct {
	m *Manager

	txns    map[common.TxnID]*TxnContext
	current *TxnContext
	lastLSN map[common.TxnID]common.LSN

	err error
}

func NewTxnLogChain(m *Manager) *TxnLogChain {
	return &TxnLogChain{
		m:       m,
		txns:    map[common.TxnID]*TxnContext{},
		lastLSN: map[common.TxnID]common.LSN{},
	}
}

// Begin starts txn and makes it the current transaction.
func (c *TxnLogChain) Begin(txn common.Transaction) *TxnLogChain {
	if c.err != nil {
		return c
	}

	c.m.StartTransaction(txn)
	c.current = c.m.WithContext(txn)
	c.txns[txn.ID()] = c.current

	return c
}

func (c *TxnLogChain) SwitchTransactionID(txnID common.TxnID) *TxnLogChain {
	if c.err != nil {
		return c
	}

	ctx, ok := c.txns[txnID]
	if !ok {
		c.err = fmt.Errorf("txn %d wasn't started by this chain", txnID)
		return c
	}

	c.current = ctx

	return c
}

func (c *TxnLogChain) ready() bool {
	if c.err != nil {
		return false
	}

	if c.current == nil {
		c.err = errors.New("no current transaction")
		return false
	}

	return true
}

func (c *TxnLogChain) track(lsn common.LSN, err error) {
	if err != nil {
		c.err = err
		return
	}

	if lsn != common.NilLSN {
		c.lastLSN[c.current.Txn().ID()] = lsn
	}
}

func (c *TxnLogChain) AllocPart(part common.PartNum) *TxnLogChain {
	if !c.ready() {
		return c
	}

	c.track(c.current.LogAllocPart(part))
	if c.err == nil {
		c.err = c.m.disk.AllocPartAt(part)
	}

	return c
}

func (c *TxnLogChain) FreePart(part common.PartNum) *TxnLogChain {
	if !c.ready() {
		return c
	}

	c.track(c.current.LogFreePart(part))
	if c.err == nil {
		c.m.pool.DiscardPart(part)
		c.err = c.m.disk.FreePart(part)
	}

	return c
}

func (c *TxnLogChain) AllocPage(pageNum common.PageNum) *TxnLogChain {
	if !c.ready() {
		return c
	}

	c.track(c.current.LogAllocPage(pageNum))
	if c.err == nil {
		c.err = c.m.disk.AllocPageAt(pageNum)
	}

	return c
}

func (c *TxnLogChain) FreePage(pageNum common.PageNum) *TxnLogChain {
	if !c.ready() {
		return c
	}

	c.track(c.current.LogFreePage(pageNum))
	if c.err == nil {
		c.m.pool.DiscardPage(pageNum)
		c.err = c.m.disk.FreePage(pageNum)
	}

	if c.err == nil {
		c.m.dpt.remove(pageNum)
	}

	return c
}

// Update overwrites len(after) bytes of the page at offset.
func (c *TxnLogChain) Update(
	pageNum common.PageNum,
	offset uint16,
	after []byte,
) *TxnLogChain {
	if !c.ready() {
		return c
	}

	p, err := c.m.pool.FetchPage(pageNum)
	if err != nil {
		c.err = fmt.Errorf("fetch page %v: %w", pageNum, err)
		return c
	}

	p.Lock()
	before := p.Read(offset, len(after))
	lsn, err := c.current.LogPageWrite(pageNum, offset, before, after)
	if err == nil {
		p.Write(offset, after)
		p.SetPageLSN(lsn)
	}
	p.Unlock()

	c.track(lsn, err)

	if err := c.m.pool.Unpin(pageNum); err != nil && c.err == nil {
		c.err = err
	}

	return c
}

func (c *TxnLogChain) Savepoint(name string) *TxnLogChain {
	if !c.ready() {
		return c
	}

	c.current.Savepoint(name)

	return c
}

func (c *TxnLogChain) ReleaseSavepoint(name string) *TxnLogChain {
	if !c.ready() {
		return c
	}

	c.current.ReleaseSavepoint(name)

	return c
}

func (c *TxnLogChain) RollbackToSavepoint(name string) *TxnLogChain {
	if !c.ready() {
		return c
	}

	c.err = c.current.RollbackToSavepoint(name)

	return c
}

func (c *TxnLogChain) Commit() *TxnLogChain {
	if !c.ready() {
		return c
	}

	c.track(c.current.Commit())

	return c
}

func (c *TxnLogChain) Abort() *TxnLogChain {
	if !c.ready() {
		return c
	}

	c.track(c.current.Abort())

	return c
}

func (c *TxnLogChain) TxnEnd() *TxnLogChain {
	if !c.ready() {
		return c
	}

	c.track(c.current.End())

	return c
}

func (c *TxnLogChain) Checkpoint() *TxnLogChain {
	if c.err != nil {
		return c
	}

	c.err = c.m.Checkpoint()

	return c
}

// Loc returns the LSN of the last record the chain appended for the
// current transaction, rollbacks excluded.
func (c *TxnLogChain) Loc() common.LSN {
	if c.current == nil {
		return common.NilLSN
	}

	return c.lastLSN[c.current.Txn().ID()]
}

func (c *TxnLogChain) Err() error {
	return c.err
}
