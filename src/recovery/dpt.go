package recovery

import (
	"maps"
	"sync"

	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

// DirtyPageTable maps a page to its recLSN: the first record that
// dirtied it since it was last written to disk.
type DirtyPageTable struct {
	mu    sync.Mutex
	table map[common.PageNum]common.LSN
}

func NewDPT() *DirtyPageTable {
	return &DirtyPageTable{
		table: map[common.PageNum]common.LSN{},
	}
}

// dirty records lsn as the page's recLSN unless the page is already
// dirty.
func (dpt *DirtyPageTable) dirty(pageNum common.PageNum, lsn common.LSN) {
	dpt.mu.Lock()
	defer dpt.mu.Unlock()

	if _, ok := dpt.table[pageNum]; !ok {
		dpt.table[pageNum] = lsn
	}
}

func (dpt *DirtyPageTable) set(pageNum common.PageNum, recLSN common.LSN) {
	dpt.mu.Lock()
	defer dpt.mu.Unlock()

	dpt.table[pageNum] = recLSN
}

func (dpt *DirtyPageTable) remove(pageNum common.PageNum) {
	dpt.mu.Lock()
	defer dpt.mu.Unlock()

	delete(dpt.table, pageNum)
}

func (dpt *DirtyPageTable) get(pageNum common.PageNum) (common.LSN, bool) {
	dpt.mu.Lock()
	defer dpt.mu.Unlock()

	recLSN, ok := dpt.table[pageNum]

	return recLSN, ok
}

func (dpt *DirtyPageTable) minRecLSN() (common.LSN, bool) {
	dpt.mu.Lock()
	defer dpt.mu.Unlock()

	found := false
	var res common.LSN
	for _, recLSN := range dpt.table {
		if !found || recLSN < res {
			res = recLSN
			found = true
		}
	}

	return res, found
}

// retain drops every page for which keep returns false.
func (dpt *DirtyPageTable) retain(keep func(pageNum common.PageNum) bool) {
	dpt.mu.Lock()
	defer dpt.mu.Unlock()

	maps.DeleteFunc(dpt.table, func(pageNum common.PageNum, _ common.LSN) bool {
		return !keep(pageNum)
	})
}

func (dpt *DirtyPageTable) snapshot() map[common.PageNum]common.LSN {
	dpt.mu.Lock()
	defer dpt.mu.Unlock()

	return maps.Clone(dpt.table)
}
