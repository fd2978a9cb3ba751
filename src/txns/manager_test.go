package txns

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

func expectClosedChannel(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()

	require.NotNil(t, ch, msg)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal(msg)
	}
}

func expectOpenChannel(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()

	require.NotNil(t, ch, msg)
	select {
	case <-ch:
		t.Fatal(msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBeginAllocatesIncreasingIDs(t *testing.T) {
	m := NewManager()

	first := m.Begin()
	second := m.Begin()
	require.Less(t, first.ID(), second.ID())
	require.Equal(t, common.TxnStatusRunning, first.Status())

	restored := m.Restore(100)
	require.Equal(t, common.TxnID(100), restored.ID())
	require.Equal(t, common.TxnID(101), m.Begin().ID())

	m.Restore(5)
	require.Equal(t, common.TxnID(102), m.Begin().ID())
}

func TestTransactionStatus(t *testing.T) {
	m := NewManager()
	txn := m.Begin()

	txn.SetStatus(common.TxnStatusCommitting)
	assert.Equal(t, common.TxnStatusCommitting, txn.Status())

	txn.SetStatus(common.TxnStatusComplete)
	assert.Equal(t, common.TxnStatusComplete, txn.Status())
}

func TestLockContention(t *testing.T) {
	locks := NewLockManager()
	pageNum := common.VirtualPageNum(1, 3)

	expectClosedChannel(t, locks.Lock(5, pageNum), "free page should be granted")
	expectClosedChannel(t, locks.Lock(5, pageNum), "relocking is a no-op")

	older := locks.Lock(4, pageNum)
	expectOpenChannel(t, older, "older transaction should wait")

	require.Nil(t, locks.Lock(6, pageNum), "younger transaction should die")

	locks.UnlockAll(5)
	expectClosedChannel(t, older, "waiter should get the lock after unlock")
	require.Equal(t, 1, locks.LockedPages(4))
	require.Zero(t, locks.LockedPages(5))

	locks.UnlockAll(4)
	expectClosedChannel(t, locks.Lock(6, pageNum), "page should be free again")
}

func TestCleanupReleasesLocksOnce(t *testing.T) {
	m := NewManager()
	txn := m.Begin()

	require.NoError(t, m.LockPage(txn, common.VirtualPageNum(1, 0)))
	require.NoError(t, m.LockPage(txn, common.VirtualPageNum(1, 1)))
	require.Equal(t, 2, m.Locks().LockedPages(txn.ID()))

	txn.Cleanup()
	txn.Cleanup()
	require.Zero(t, m.Locks().LockedPages(txn.ID()))
}

func TestLockPageDies(t *testing.T) {
	m := NewManager()
	older := m.Begin()
	younger := m.Begin()
	pageNum := common.VirtualPageNum(2, 7)

	require.NoError(t, m.LockPage(older, pageNum))
	require.ErrorIs(t, m.LockPage(younger, pageNum), ErrDied)
}

func TestConcurrentDisjointLocks(t *testing.T) {
	m := NewManager()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)

		go func(index uint64) {
			defer wg.Done()

			txn := m.Begin()
			assert.NoError(t, m.LockPage(txn, common.VirtualPageNum(1, index)))
			txn.Cleanup()
		}(uint64(i)) //nolint:gosec
	}

	wg.Wait()
}

func TestUnlockPassesLockToYoungestWaiter(t *testing.T) {
	locks := NewLockManager()
	pageNum := common.VirtualPageNum(1, 0)

	expectClosedChannel(t, locks.Lock(10, pageNum), "free page should be granted")

	oldest := locks.Lock(2, pageNum)
	middle := locks.Lock(6, pageNum)
	expectOpenChannel(t, oldest, "older transaction should wait")
	expectOpenChannel(t, middle, "older transaction should wait")

	locks.UnlockAll(10)
	expectClosedChannel(t, middle, "youngest waiter should be granted first")
	expectOpenChannel(t, oldest, "oldest waiter keeps waiting")

	locks.UnlockAll(6)
	expectClosedChannel(t, oldest, "last waiter should be granted")
}
