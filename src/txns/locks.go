package txns

import (
	"slices"
	"sync"

	"github.com/Blackdeer1524/ariesdb/src/pkg/assert"
	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

type lockWaiter struct {
	txnID    common.TxnID
	notifier chan struct{}
}

type pageLock struct {
	owner   common.TxnID
	waiters []lockWaiter
}

// LockManager hands out exclusive page locks that are held until the
// owning transaction is cleaned up. Deadlocks are prevented with
// wait-die: a transaction may only wait for a younger one.
type LockManager struct {
	mu    sync.Mutex
	locks map[common.PageNum]*pageLock
	held  map[common.TxnID]map[common.PageNum]struct{}
}

func NewLockManager() *LockManager {
	return &LockManager{
		locks: map[common.PageNum]*pageLock{},
		held:  map[common.TxnID]map[common.PageNum]struct{}{},
	}
}

func closedNotifier() <-chan struct{} {
	n := make(chan struct{})
	close(n)

	return n
}

// Lock returns a channel that is closed once the lock is granted, or nil
// if the transaction must abort instead of waiting.
func (m *LockManager) Lock(txnID common.TxnID, pageNum common.PageNum) <-chan struct{} {
	assert.Assert(txnID != common.NilTxnID, "nil transaction can't take locks")

	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[pageNum]
	if !ok {
		l = &pageLock{}
		m.locks[pageNum] = l
	}

	switch {
	case l.owner == txnID:
		return closedNotifier()
	case l.owner == common.NilTxnID:
		m.grantAssumeLocked(l, pageNum, txnID)
		return closedNotifier()
	case txnID > l.owner:
		return nil
	}

	notifier := make(chan struct{})
	l.waiters = append(l.waiters, lockWaiter{txnID: txnID, notifier: notifier})

	return notifier
}

func (m *LockManager) grantAssumeLocked(
	l *pageLock,
	pageNum common.PageNum,
	txnID common.TxnID,
) {
	l.owner = txnID

	pages, ok := m.held[txnID]
	if !ok {
		pages = map[common.PageNum]struct{}{}
		m.held[txnID] = pages
	}
	pages[pageNum] = struct{}{}
}

// UnlockAll releases every lock of the transaction. Each page goes to
// its youngest waiter so that the remaining waiters still wait only for
// a younger owner.
func (m *LockManager) UnlockAll(txnID common.TxnID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for pageNum := range m.held[txnID] {
		l := m.locks[pageNum]
		assert.Assert(l != nil && l.owner == txnID, "page %v isn't locked by %d", pageNum, txnID)

		if len(l.waiters) == 0 {
			delete(m.locks, pageNum)
			continue
		}

		youngest := 0
		for i, w := range l.waiters {
			if w.txnID > l.waiters[youngest].txnID {
				youngest = i
			}
		}

		next := l.waiters[youngest]
		l.waiters = slices.Delete(l.waiters, youngest, youngest+1)
		m.grantAssumeLocked(l, pageNum, next.txnID)
		close(next.notifier)
	}

	delete(m.held, txnID)
}

// LockedPages returns how many pages the transaction holds.
func (m *LockManager) LockedPages(txnID common.TxnID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.held[txnID])
}
