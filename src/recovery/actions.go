package recovery

import (
	"errors"
	"fmt"

	"github.com/Blackdeer1524/ariesdb/src/pkg/assert"
	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
	"github.com/Blackdeer1524/ariesdb/src/storage/disk"
	"github.com/Blackdeer1524/ariesdb/src/storage/page"
)

// DiskSpaceManager is the part of the disk space manager that redo needs.
type DiskSpaceManager interface {
	AllocPartAt(part common.PartNum) error
	FreePart(part common.PartNum) error
	AllocPageAt(pageNum common.PageNum) error
	FreePage(pageNum common.PageNum) error
	PageAllocated(pageNum common.PageNum) bool
}

// BufferManager is the part of the buffer pool that redo needs. Pages
// returned by FetchPage are pinned and unlatched.
type BufferManager interface {
	FetchPage(pageNum common.PageNum) (*page.Page, error)
	Unpin(pageNum common.PageNum) error
	DiscardPage(pageNum common.PageNum)
	DiscardPart(part common.PartNum)
	IterPageNums(fn func(pageNum common.PageNum, dirty bool))
}

func isUndoable(record LogRecord) bool {
	switch record.(type) {
	case *AllocPartLogRecord,
		*FreePartLogRecord,
		*AllocPageLogRecord,
		*FreePageLogRecord,
		*UpdatePageLogRecord:
		return true
	default:
		return false
	}
}

func isRedoable(record LogRecord) bool {
	switch record.(type) {
	case *AllocPartLogRecord,
		*FreePartLogRecord,
		*AllocPageLogRecord,
		*FreePageLogRecord,
		*UpdatePageLogRecord,
		*CompensationLogRecord:
		return true
	default:
		return false
	}
}

// redoTarget returns the page a redoable record modifies in place.
// Records without a target are redone unconditionally.
func redoTarget(record LogRecord) (common.PageNum, bool) {
	switch r := record.(type) {
	case *UpdatePageLogRecord:
		return r.PageNum(), true
	case *FreePageLogRecord:
		return r.PageNum(), true
	case *CompensationLogRecord:
		switch r.Undone() {
		case TypeUpdatePage, TypeAllocPage:
			return r.PageNum(), true
		}
	}

	return 0, false
}

// makeCLR builds the compensation for an undoable record. The CLR is
// chained after prevLSN and skips the undone record on later rollbacks.
func makeCLR(record TxnLogRecord, prevLSN common.LSN) *CompensationLogRecord {
	assert.Assert(isUndoable(record), "%s can't be undone", record.Type())

	clr := &CompensationLogRecord{
		txnHeader:   txnHeader{txnID: record.TxnID(), prevLSN: prevLSN},
		undoNextLSN: record.PrevLSN(),
		undone:      record.Type(),
	}

	switch r := record.(type) {
	case *AllocPartLogRecord:
		clr.partNum = r.PartNum()
	case *FreePartLogRecord:
		clr.partNum = r.PartNum()
	case *AllocPageLogRecord:
		clr.pageNum = r.PageNum()
	case *FreePageLogRecord:
		clr.pageNum = r.PageNum()
	case *UpdatePageLogRecord:
		clr.pageNum = r.PageNum()
		clr.offset = r.Offset()
		clr.before = r.After()
		clr.after = r.Before()
	}

	return clr
}

// ignoreErrs hides errors that mean the action has already taken effect.
func ignoreErrs(err error, targets ...error) error {
	for _, target := range targets {
		if errors.Is(err, target) {
			return nil
		}
	}

	return err
}

// redo reapplies the effect of a redoable record. Every branch is
// idempotent.
func (m *Manager) redo(record LogRecord) error {
	switch r := record.(type) {
	case *AllocPartLogRecord:
		return m.allocPart(r.PartNum())
	case *FreePartLogRecord:
		return m.freePart(r.PartNum())
	case *AllocPageLogRecord:
		return m.allocPage(r.PageNum())
	case *FreePageLogRecord:
		return m.freePage(r.PageNum())
	case *UpdatePageLogRecord:
		return m.writeImage(r.PageNum(), r.Offset(), r.After(), r.LSN())
	case *CompensationLogRecord:
		switch r.Undone() {
		case TypeAllocPart:
			return m.freePart(r.PartNum())
		case TypeFreePart:
			return m.allocPart(r.PartNum())
		case TypeAllocPage:
			return m.freePage(r.PageNum())
		case TypeFreePage:
			return m.allocPage(r.PageNum())
		case TypeUpdatePage:
			return m.writeImage(r.PageNum(), r.Offset(), r.After(), r.LSN())
		}
	}

	assert.Assert(false, "%s can't be redone", record.Type())

	return nil
}

func (m *Manager) allocPart(part common.PartNum) error {
	err := ignoreErrs(m.disk.AllocPartAt(part), disk.ErrPartAllocated)
	if err != nil {
		return fmt.Errorf("redo alloc partition %d: %w", part, err)
	}

	return nil
}

func (m *Manager) freePart(part common.PartNum) error {
	m.pool.DiscardPart(part)

	err := ignoreErrs(m.disk.FreePart(part), disk.ErrNoSuchPart)
	if err != nil {
		return fmt.Errorf("redo free partition %d: %w", part, err)
	}

	return nil
}

func (m *Manager) allocPage(pageNum common.PageNum) error {
	err := ignoreErrs(
		m.disk.AllocPageAt(pageNum),
		disk.ErrPageAllocated,
		disk.ErrNoSuchPart,
	)
	if err != nil {
		return fmt.Errorf("redo alloc page %v: %w", pageNum, err)
	}

	return nil
}

func (m *Manager) freePage(pageNum common.PageNum) error {
	m.pool.DiscardPage(pageNum)

	err := ignoreErrs(
		m.disk.FreePage(pageNum),
		disk.ErrNoSuchPage,
		disk.ErrNoSuchPart,
	)
	if err != nil {
		return fmt.Errorf("redo free page %v: %w", pageNum, err)
	}

	// during restart later records of a reallocated page still need the
	// entry
	if m.redoComplete.Load() {
		m.dpt.remove(pageNum)
	}

	return nil
}

func (m *Manager) writeImage(
	pageNum common.PageNum,
	offset uint16,
	image []byte,
	lsn common.LSN,
) error {
	p, err := m.pool.FetchPage(pageNum)
	if err != nil {
		return fmt.Errorf("redo write to page %v: %w", pageNum, err)
	}

	p.Lock()
	p.Write(offset, image)
	p.SetPageLSN(lsn)
	p.Unlock()

	m.dpt.dirty(pageNum, lsn)

	return m.pool.Unpin(pageNum)
}

// pageLSN reads the pageLSN of an allocated page.
func (m *Manager) pageLSN(pageNum common.PageNum) (common.LSN, error) {
	p, err := m.pool.FetchPage(pageNum)
	if err != nil {
		return common.NilLSN, fmt.Errorf("fetch page %v: %w", pageNum, err)
	}

	p.RLock()
	lsn := p.PageLSN()
	p.RUnlock()

	return lsn, m.pool.Unpin(pageNum)
}
