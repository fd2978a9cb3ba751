package bufferpool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

var (
	firstPage  = common.VirtualPageNum(1, 0)
	secondPage = common.VirtualPageNum(1, 1)
)

func fillPage(marker byte) func(mock.Arguments) {
	return func(args mock.Arguments) {
		dst := args.Get(1).([]byte)
		dst[len(dst)-1] = marker
	}
}

func TestFetchPage_Cached(t *testing.T) {
	mockDisk := new(MockDiskManager)
	manager := New(2, NewLRUReplacer(), mockDisk, zap.NewNop().Sugar())

	mockDisk.On("ReadPage", firstPage, mock.Anything).
		Run(fillPage(7)).
		Return(nil).
		Once()

	p, err := manager.FetchPage(firstPage)
	require.NoError(t, err)
	require.NoError(t, manager.Unpin(firstPage))

	again, err := manager.FetchPage(firstPage)
	require.NoError(t, err)

	assert.Same(t, p, again)
	assert.Equal(t, byte(7), again.GetData()[len(again.GetData())-1])
	assert.Equal(t, 1, manager.frames[manager.pageToFrame[firstPage]].PinCount)

	mockDisk.AssertExpectations(t)
}

func TestFetchPage_ReadErrorReleasesFrame(t *testing.T) {
	mockDisk := new(MockDiskManager)
	manager := New(1, NewLRUReplacer(), mockDisk, zap.NewNop().Sugar())

	diskErr := errors.New("boom")
	mockDisk.On("ReadPage", firstPage, mock.Anything).Return(diskErr).Once()
	mockDisk.On("ReadPage", secondPage, mock.Anything).Return(nil).Once()

	_, err := manager.FetchPage(firstPage)
	require.ErrorIs(t, err, diskErr)

	_, err = manager.FetchPage(secondPage)
	require.NoError(t, err, "frame must be returned to the free list")

	mockDisk.AssertExpectations(t)
}

func TestFetchPage_EvictsDirtyVictimAfterLogFlush(t *testing.T) {
	mockDisk := new(MockDiskManager)
	hooks := new(MockWALHooks)
	manager := New(1, NewLRUReplacer(), mockDisk, zap.NewNop().Sugar())
	manager.SetWALHooks(hooks)

	var calls []string

	mockDisk.On("ReadPage", mock.Anything, mock.Anything).Return(nil)
	hooks.On("PageFlushHook", common.LSN(20017)).
		Run(func(mock.Arguments) { calls = append(calls, "flush log") }).
		Return(nil).
		Once()
	mockDisk.On("WritePage", firstPage, mock.Anything).
		Run(func(mock.Arguments) { calls = append(calls, "write page") }).
		Return(nil).
		Once()
	hooks.On("DiskIOHook", firstPage).
		Run(func(mock.Arguments) { calls = append(calls, "disk io") }).
		Once()

	p, err := manager.FetchPage(firstPage)
	require.NoError(t, err)

	p.Lock()
	p.Write(0, []byte("dirty"))
	p.SetPageLSN(20017)
	p.Unlock()
	require.NoError(t, manager.Unpin(firstPage))

	_, err = manager.FetchPage(secondPage)
	require.NoError(t, err)

	assert.Equal(t, []string{"flush log", "write page", "disk io"}, calls)

	_, cached := manager.pageToFrame[firstPage]
	assert.False(t, cached)

	mockDisk.AssertExpectations(t)
	hooks.AssertExpectations(t)
}

func TestFetchPage_LogFlushFailureKeepsVictim(t *testing.T) {
	mockDisk := new(MockDiskManager)
	hooks := new(MockWALHooks)
	manager := New(1, NewLRUReplacer(), mockDisk, zap.NewNop().Sugar())
	manager.SetWALHooks(hooks)

	flushErr := errors.New("log device is gone")

	mockDisk.On("ReadPage", firstPage, mock.Anything).Return(nil).Once()
	hooks.On("PageFlushHook", mock.Anything).Return(flushErr).Once()

	p, err := manager.FetchPage(firstPage)
	require.NoError(t, err)
	p.Write(0, []byte{1})
	require.NoError(t, manager.Unpin(firstPage))

	_, err = manager.FetchPage(secondPage)
	require.ErrorIs(t, err, flushErr)

	again, err := manager.FetchPage(firstPage)
	require.NoError(t, err)
	assert.Same(t, p, again)
	assert.True(t, again.IsDirty())

	mockDisk.AssertNotCalled(t, "WritePage", mock.Anything, mock.Anything)
	hooks.AssertNotCalled(t, "DiskIOHook", mock.Anything)
}

func TestFetchPage_AllFramesPinned(t *testing.T) {
	mockDisk := new(MockDiskManager)
	manager := New(1, NewLRUReplacer(), mockDisk, zap.NewNop().Sugar())

	mockDisk.On("ReadPage", firstPage, mock.Anything).Return(nil).Once()

	_, err := manager.FetchPage(firstPage)
	require.NoError(t, err)

	_, err = manager.FetchPage(secondPage)
	require.ErrorIs(t, err, ErrNoVictim)
}

func TestFlushPage(t *testing.T) {
	mockDisk := new(MockDiskManager)
	hooks := new(MockWALHooks)
	manager := New(2, NewLRUReplacer(), mockDisk, zap.NewNop().Sugar())
	manager.SetWALHooks(hooks)

	mockDisk.On("ReadPage", mock.Anything, mock.Anything).Return(nil)
	mockDisk.On("WritePage", firstPage, mock.Anything).Return(nil).Once()
	hooks.On("PageFlushHook", common.LSN(10000)).Return(nil).Once()
	hooks.On("DiskIOHook", firstPage).Once()

	p, err := manager.FetchPage(firstPage)
	require.NoError(t, err)
	p.Write(4, []byte{42})
	p.SetPageLSN(10000)

	_, err = manager.FetchPage(secondPage)
	require.NoError(t, err)

	require.NoError(t, manager.FlushPage(firstPage))
	require.NoError(t, manager.FlushPage(secondPage), "clean page is not written")
	require.NoError(t, manager.FlushAllPages())

	assert.False(t, p.IsDirty())
	require.ErrorIs(t, manager.FlushPage(common.VirtualPageNum(1, 9)), ErrNoSuchPage)

	mockDisk.AssertExpectations(t)
	hooks.AssertExpectations(t)
}

func TestDiscardAndIterPageNums(t *testing.T) {
	mockDisk := new(MockDiskManager)
	manager := New(3, NewLRUReplacer(), mockDisk, zap.NewNop().Sugar())

	otherPart := common.VirtualPageNum(2, 0)

	mockDisk.On("ReadPage", mock.Anything, mock.Anything).Return(nil)

	for _, pageNum := range []common.PageNum{firstPage, secondPage, otherPart} {
		p, err := manager.FetchPage(pageNum)
		require.NoError(t, err)

		if pageNum == secondPage {
			p.Write(0, []byte{1})
		}

		require.NoError(t, manager.Unpin(pageNum))
	}

	seen := map[common.PageNum]bool{}
	manager.IterPageNums(func(pageNum common.PageNum, dirty bool) {
		seen[pageNum] = dirty
	})
	assert.Equal(t, map[common.PageNum]bool{
		firstPage:  false,
		secondPage: true,
		otherPart:  false,
	}, seen)

	manager.DiscardPage(firstPage)
	manager.DiscardPart(1)

	seen = map[common.PageNum]bool{}
	manager.IterPageNums(func(pageNum common.PageNum, dirty bool) {
		seen[pageNum] = dirty
	})
	assert.Equal(t, map[common.PageNum]bool{otherPart: false}, seen)
	assert.Len(t, manager.emptyFrames, 2)

	mockDisk.AssertNotCalled(t, "WritePage", mock.Anything, mock.Anything)
}
