package disk

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

func newTestManager(t testing.TB, fs afero.Fs) *Manager {
	m, err := New(fs, "/data")
	require.NoError(t, err)

	return m
}

func TestLogPartitionIsCreated(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := newTestManager(t, fs)

	assert.True(t, m.PartAllocated(common.LogPartNum))

	exists, err := afero.Exists(fs, "/data/part-0.db")
	require.NoError(t, err)
	assert.True(t, exists)

	require.Error(t, m.FreePart(common.LogPartNum))
}

func TestPartitionLifecycle(t *testing.T) {
	m := newTestManager(t, afero.NewMemMapFs())

	part, err := m.AllocPart()
	require.NoError(t, err)
	assert.Equal(t, common.PartNum(1), part)

	require.ErrorIs(t, m.AllocPartAt(part), ErrPartAllocated)
	require.NoError(t, m.AllocPartAt(5))

	next, err := m.AllocPart()
	require.NoError(t, err)
	assert.Equal(t, common.PartNum(2), next)

	require.NoError(t, m.FreePart(5))
	require.ErrorIs(t, m.FreePart(5), ErrNoSuchPart)
	assert.False(t, m.PartAllocated(5))
}

func TestPageLifecycle(t *testing.T) {
	m := newTestManager(t, afero.NewMemMapFs())

	part, err := m.AllocPart()
	require.NoError(t, err)

	p0, err := m.AllocPage(part)
	require.NoError(t, err)
	assert.Equal(t, common.VirtualPageNum(part, 0), p0)

	require.NoError(t, m.AllocPageAt(common.VirtualPageNum(part, 3)))
	require.ErrorIs(t, m.AllocPageAt(common.VirtualPageNum(part, 3)), ErrPageAllocated)

	p1, err := m.AllocPage(part)
	require.NoError(t, err)
	assert.Equal(t, common.VirtualPageNum(part, 1), p1)

	buf := make([]byte, PageSize)
	require.NoError(t, m.ReadPage(p1, buf))
	assert.Equal(t, make([]byte, PageSize), buf, "fresh page must be zeroed")

	buf[10] = 0xab
	require.NoError(t, m.WritePage(p1, buf))

	read := make([]byte, PageSize)
	require.NoError(t, m.ReadPage(p1, read))
	assert.Equal(t, buf, read)

	require.NoError(t, m.FreePage(p1))
	assert.False(t, m.PageAllocated(p1))
	require.ErrorIs(t, m.ReadPage(p1, read), ErrNoSuchPage)
	require.ErrorIs(t, m.FreePage(p1), ErrNoSuchPage)

	require.ErrorIs(t, m.AllocPageAt(common.VirtualPageNum(9, 0)), ErrNoSuchPart)
	require.Error(t, m.WritePage(p0, []byte{1, 2, 3}))
}

func TestSuccessfulCallsReturnNil(t *testing.T) {
	m := newTestManager(t, afero.NewMemMapFs())

	require.Nil(t, m.AllocPartAt(1))

	pageNum := common.VirtualPageNum(1, 0)
	require.Nil(t, m.AllocPageAt(pageNum))
	require.Nil(t, m.WritePage(pageNum, make([]byte, PageSize)))
	require.Nil(t, m.SyncPart(1))
	require.Nil(t, m.SyncPart(common.LogPartNum))
	require.Nil(t, m.FreePage(pageNum))
	require.Nil(t, m.FreePart(1))
	require.Nil(t, m.Close())
}

func TestStateSurvivesReopen(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := newTestManager(t, fs)

	part, err := m.AllocPart()
	require.NoError(t, err)

	pageNum := common.VirtualPageNum(part, 2)
	require.NoError(t, m.AllocPageAt(pageNum))

	data := make([]byte, PageSize)
	copy(data, "persisted")
	require.NoError(t, m.WritePage(pageNum, data))
	require.NoError(t, m.SyncPart(part))
	require.NoError(t, m.Close())

	reopened := newTestManager(t, fs)
	assert.True(t, reopened.PartAllocated(part))
	assert.True(t, reopened.PageAllocated(pageNum))
	assert.False(t, reopened.PageAllocated(common.VirtualPageNum(part, 0)))

	read := make([]byte, PageSize)
	require.NoError(t, reopened.ReadPage(pageNum, read))
	assert.Equal(t, data, read)
}

func BenchmarkDiskManager(b *testing.B) {
	m := newTestManager(b, afero.NewMemMapFs())

	part, err := m.AllocPart()
	require.NoError(b, err)

	pageNums := make([]common.PageNum, 0, 1024)
	for range 1024 {
		pageNum, err := m.AllocPage(part)
		require.NoError(b, err)
		pageNums = append(pageNums, pageNum)
	}

	data := make([]byte, PageSize)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		require.NoError(b, m.WritePage(pageNums[i%len(pageNums)], data))
	}
}
