package txns

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

// ErrDied is returned when a lock request would make an older
// transaction wait for a younger one. The requester must abort.
var ErrDied = errors.New("transaction died waiting for a lock")

// Transaction is the transaction object handed to the recovery manager.
type Transaction struct {
	id     common.TxnID
	status atomic.Uint32

	locks       *LockManager
	cleanupOnce sync.Once
}

var _ common.Transaction = &Transaction{}

func (t *Transaction) ID() common.TxnID {
	return t.id
}

func (t *Transaction) Status() common.TxnStatus {
	//nolint:gosec
	return common.TxnStatus(t.status.Load())
}

func (t *Transaction) SetStatus(status common.TxnStatus) {
	t.status.Store(uint32(status))
}

// Cleanup releases the transaction's page locks. Calls after the first
// are no-ops.
func (t *Transaction) Cleanup() {
	t.cleanupOnce.Do(func() {
		if t.locks != nil {
			t.locks.UnlockAll(t.id)
		}
	})
}

// Manager allocates transaction ids and owns the page locks.
type Manager struct {
	lastID atomic.Uint64
	locks  *LockManager
}

func NewManager() *Manager {
	return &Manager{locks: NewLockManager()}
}

func (m *Manager) newTransaction(id common.TxnID) *Transaction {
	return &Transaction{id: id, locks: m.locks}
}

// Begin creates a transaction with a fresh id.
func (m *Manager) Begin() *Transaction {
	return m.newTransaction(common.TxnID(m.lastID.Add(1)))
}

// Restore recreates a transaction found in the log. Ids handed out by
// Begin afterwards are larger than every restored id.
func (m *Manager) Restore(id common.TxnID) common.Transaction {
	for {
		last := m.lastID.Load()
		if uint64(id) <= last || m.lastID.CompareAndSwap(last, uint64(id)) {
			break
		}
	}

	return m.newTransaction(id)
}

// LockPage blocks until the transaction holds the page lock, or fails
// with ErrDied.
func (m *Manager) LockPage(txn *Transaction, pageNum common.PageNum) error {
	notifier := m.locks.Lock(txn.id, pageNum)
	if notifier == nil {
		return ErrDied
	}

	<-notifier

	return nil
}

func (m *Manager) Locks() *LockManager {
	return m.locks
}
