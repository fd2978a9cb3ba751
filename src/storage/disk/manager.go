package disk

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
	"github.com/Blackdeer1524/ariesdb/src/storage/page"
)

const PageSize = page.PageSize

var (
	ErrNoSuchPart    = errors.New("no such partition")
	ErrPartAllocated = errors.New("partition is already allocated")
	ErrPartFull      = errors.New("partition has no free pages")
	ErrNoSuchPage    = errors.New("no such page")
	ErrPageAllocated = errors.New("page is already allocated")
)

var partFileRe = regexp.MustCompile(`^part-(\d+)\.db$`)

type partition struct {
	file   afero.File
	header partHeader
}

func (p *partition) writeHeader() error {
	_, err := p.file.WriteAt(p.header[:], 0)
	return err
}

// Manager stores every partition in its own file. Page i of a partition
// lives at offset (i+1)*PageSize; the first page holds the allocation
// bitmap. Partition 0 is created on startup and reserved for the log.
type Manager struct {
	fs  afero.Fs
	dir string

	mu    sync.RWMutex
	parts map[common.PartNum]*partition
}

func New(fs afero.Fs, dir string) (*Manager, error) {
	if err := fs.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", dir)
	}

	m := &Manager{
		fs:    fs,
		dir:   dir,
		parts: make(map[common.PartNum]*partition),
	}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read data dir %s", dir)
	}

	for _, entry := range entries {
		match := partFileRe.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}

		num, err := strconv.ParseUint(match[1], 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "parse partition file name %s", entry.Name())
		}

		if err := m.openPart(common.PartNum(num)); err != nil {
			return nil, err
		}
	}

	if _, ok := m.parts[common.LogPartNum]; !ok {
		if err := m.createPart(common.LogPartNum); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Manager) partPath(part common.PartNum) string {
	return filepath.Join(m.dir, fmt.Sprintf("part-%d.db", part))
}

func (m *Manager) openPart(part common.PartNum) error {
	f, err := m.fs.OpenFile(m.partPath(part), os.O_RDWR, 0o600)
	if err != nil {
		return errors.Wrapf(err, "open partition %d", part)
	}

	p := &partition{file: f}
	if _, err := f.ReadAt(p.header[:], 0); err != nil && !errors.Is(err, io.EOF) {
		_ = f.Close()
		return errors.Wrapf(err, "read header of partition %d", part)
	}

	m.parts[part] = p

	return nil
}

func (m *Manager) createPart(part common.PartNum) error {
	f, err := m.fs.OpenFile(m.partPath(part), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrapf(err, "create partition %d", part)
	}

	p := &partition{file: f}
	if err := p.writeHeader(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "write header of partition %d", part)
	}

	m.parts[part] = p

	return nil
}

// AllocPart creates a partition with the smallest unused number.
func (m *Manager) AllocPart() (common.PartNum, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	part := common.LogPartNum + 1
	for {
		if _, ok := m.parts[part]; !ok {
			break
		}
		part++
	}

	return part, m.createPart(part)
}

func (m *Manager) AllocPartAt(part common.PartNum) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.parts[part]; ok {
		return fmt.Errorf("alloc partition %d: %w", part, ErrPartAllocated)
	}

	return m.createPart(part)
}

func (m *Manager) FreePart(part common.PartNum) error {
	if part == common.LogPartNum {
		return errors.New("log partition can't be freed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.parts[part]
	if !ok {
		return fmt.Errorf("free partition %d: %w", part, ErrNoSuchPart)
	}

	delete(m.parts, part)

	if err := p.file.Close(); err != nil {
		return errors.Wrapf(err, "close partition %d", part)
	}

	if err := m.fs.Remove(m.partPath(part)); err != nil {
		return errors.Wrapf(err, "remove partition %d", part)
	}

	return nil
}

func (m *Manager) PartAllocated(part common.PartNum) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.parts[part]

	return ok
}

// AllocPage allocates the first free page of the partition.
func (m *Manager) AllocPage(part common.PartNum) (common.PageNum, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.parts[part]
	if !ok {
		return 0, fmt.Errorf("alloc page in partition %d: %w", part, ErrNoSuchPart)
	}

	index, ok := p.header.firstFree()
	if !ok {
		return 0, fmt.Errorf("alloc page in partition %d: %w", part, ErrPartFull)
	}

	pageNum := common.VirtualPageNum(part, index)

	return pageNum, m.allocPageAssumeLocked(p, pageNum)
}

func (m *Manager) AllocPageAt(pageNum common.PageNum) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.parts[pageNum.Part()]
	if !ok {
		return fmt.Errorf("alloc page %v: %w", pageNum, ErrNoSuchPart)
	}

	if pageNum.Index() >= PagesPerPart {
		return fmt.Errorf("alloc page %v: %w", pageNum, ErrPartFull)
	}

	if p.header.isAllocated(pageNum.Index()) {
		return fmt.Errorf("alloc page %v: %w", pageNum, ErrPageAllocated)
	}

	return m.allocPageAssumeLocked(p, pageNum)
}

func (m *Manager) allocPageAssumeLocked(p *partition, pageNum common.PageNum) error {
	p.header.set(pageNum.Index(), true)
	if err := p.writeHeader(); err != nil {
		return errors.Wrapf(err, "write header for page %v", pageNum)
	}

	var zero [PageSize]byte
	if _, err := p.file.WriteAt(zero[:], pageOffset(pageNum)); err != nil {
		return errors.Wrapf(err, "zero page %v", pageNum)
	}

	return nil
}

func (m *Manager) FreePage(pageNum common.PageNum) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.allocatedPart(pageNum)
	if err != nil {
		return fmt.Errorf("free page: %w", err)
	}

	p.header.set(pageNum.Index(), false)

	if err := p.writeHeader(); err != nil {
		return errors.Wrapf(err, "write header for page %v", pageNum)
	}

	return nil
}

func (m *Manager) PageAllocated(pageNum common.PageNum) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, err := m.allocatedPart(pageNum)

	return err == nil
}

func (m *Manager) ReadPage(pageNum common.PageNum, dst []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, err := m.allocatedPart(pageNum)
	if err != nil {
		return fmt.Errorf("read page: %w", err)
	}

	n, err := p.file.ReadAt(dst[:PageSize], pageOffset(pageNum))
	if err != nil && !(errors.Is(err, io.EOF) && n == PageSize) {
		return errors.Wrapf(err, "read page %v", pageNum)
	}

	return nil
}

func (m *Manager) WritePage(pageNum common.PageNum, src []byte) error {
	if len(src) != PageSize {
		return fmt.Errorf("write page %v: invalid page size %d", pageNum, len(src))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	p, err := m.allocatedPart(pageNum)
	if err != nil {
		return fmt.Errorf("write page: %w", err)
	}

	if _, err := p.file.WriteAt(src, pageOffset(pageNum)); err != nil {
		return errors.Wrapf(err, "write page %v", pageNum)
	}

	return nil
}

func (m *Manager) SyncPart(part common.PartNum) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.parts[part]
	if !ok {
		return fmt.Errorf("sync partition %d: %w", part, ErrNoSuchPart)
	}

	if err := p.file.Sync(); err != nil {
		return errors.Wrapf(err, "sync partition %d", part)
	}

	return nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for part, p := range m.parts {
		if err := p.file.Sync(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "sync partition %d", part)
		}

		if err := p.file.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close partition %d", part)
		}
	}

	m.parts = map[common.PartNum]*partition{}

	return firstErr
}

func (m *Manager) allocatedPart(pageNum common.PageNum) (*partition, error) {
	p, ok := m.parts[pageNum.Part()]
	if !ok {
		return nil, fmt.Errorf("page %v: %w", pageNum, ErrNoSuchPart)
	}

	if pageNum.Index() >= PagesPerPart || !p.header.isAllocated(pageNum.Index()) {
		return nil, fmt.Errorf("page %v: %w", pageNum, ErrNoSuchPage)
	}

	return p, nil
}

func pageOffset(pageNum common.PageNum) int64 {
	//nolint:gosec
	return int64(pageNum.Index()+1) * PageSize
}
