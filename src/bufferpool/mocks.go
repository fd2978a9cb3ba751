package bufferpool

import (
	"github.com/stretchr/testify/mock"

	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

type MockDiskManager struct {
	mock.Mock
}

func (m *MockDiskManager) ReadPage(pageNum common.PageNum, dst []byte) error {
	args := m.Called(pageNum, dst)
	return args.Error(0)
}

func (m *MockDiskManager) WritePage(pageNum common.PageNum, src []byte) error {
	args := m.Called(pageNum, src)
	return args.Error(0)
}

type MockReplacer struct {
	mock.Mock
}

func (m *MockReplacer) Pin(frameID uint64) {
	m.Called(frameID)
}

func (m *MockReplacer) Unpin(frameID uint64) {
	m.Called(frameID)
}

func (m *MockReplacer) ChooseVictim() (uint64, error) {
	args := m.Called()
	return args.Get(0).(uint64), args.Error(1)
}

type MockWALHooks struct {
	mock.Mock
}

func (m *MockWALHooks) PageFlushHook(pageLSN common.LSN) error {
	args := m.Called(pageLSN)
	return args.Error(0)
}

func (m *MockWALHooks) DiskIOHook(pageNum common.PageNum) {
	m.Called(pageNum)
}
