package bufferpool

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Blackdeer1524/ariesdb/src/pkg/assert"
	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
	"github.com/Blackdeer1524/ariesdb/src/storage/page"
)

var ErrNoSuchPage = errors.New("no such page")

// Replacer picks the frame to evict among the unpinned ones.
type Replacer interface {
	Pin(frameID uint64)
	Unpin(frameID uint64)
	ChooseVictim() (uint64, error)
}

type DiskManager interface {
	ReadPage(pageNum common.PageNum, dst []byte) error
	WritePage(pageNum common.PageNum, src []byte) error
}

// WALHooks lets the recovery manager enforce write-ahead logging.
// PageFlushHook runs before a dirty page is written and must make the
// log durable up to the page's pageLSN. DiskIOHook runs after the page
// reached the disk.
type WALHooks interface {
	PageFlushHook(pageLSN common.LSN) error
	DiskIOHook(pageNum common.PageNum)
}

type frame struct {
	Page     *page.Page
	PinCount int
	PageNum  common.PageNum
}

type Manager struct {
	poolSize    uint64
	pageToFrame map[common.PageNum]uint64
	frames      []frame
	emptyFrames []uint64

	replacer    Replacer
	diskManager DiskManager
	hooks       WALHooks

	log *zap.SugaredLogger

	fastPath sync.Mutex
	slowPath sync.Mutex
}

func New(
	poolSize uint64,
	replacer Replacer,
	diskManager DiskManager,
	log *zap.SugaredLogger,
) *Manager {
	assert.Assert(poolSize > 0, "pool size must be greater than zero")

	emptyFrames := make([]uint64, poolSize)
	for i := range poolSize {
		emptyFrames[i] = i
	}

	return &Manager{
		poolSize:    poolSize,
		pageToFrame: make(map[common.PageNum]uint64),
		frames:      make([]frame, poolSize),
		emptyFrames: emptyFrames,
		replacer:    replacer,
		diskManager: diskManager,
		log:         log,
	}
}

// SetWALHooks must be called before the first dirty page can be
// written back.
func (m *Manager) SetWALHooks(hooks WALHooks) {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	m.hooks = hooks
}

func (m *Manager) Unpin(pageNum common.PageNum) error {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	frameID, ok := m.pageToFrame[pageNum]
	if !ok {
		return ErrNoSuchPage
	}

	frame := &m.frames[frameID]

	assert.Assert(frame.PinCount > 0, "invalid pin count for page %v", pageNum)

	frame.PinCount--
	if frame.PinCount == 0 {
		m.replacer.Unpin(frameID)
	}

	return nil
}

func (m *Manager) pinAssumeLocked(frameID uint64) {
	m.frames[frameID].PinCount++
	m.replacer.Pin(frameID)
}

// FetchPage returns the pinned page. Callers latch the page themselves
// and must Unpin it when done.
func (m *Manager) FetchPage(pageNum common.PageNum) (*page.Page, error) {
	m.fastPath.Lock()
	if frameID, ok := m.pageToFrame[pageNum]; ok {
		m.pinAssumeLocked(frameID)
		m.fastPath.Unlock()

		return m.frames[frameID].Page, nil
	}
	m.fastPath.Unlock()

	m.slowPath.Lock()
	defer m.slowPath.Unlock()

	m.fastPath.Lock()
	if frameID, ok := m.pageToFrame[pageNum]; ok {
		m.pinAssumeLocked(frameID)
		m.fastPath.Unlock()

		return m.frames[frameID].Page, nil
	}
	m.fastPath.Unlock()

	frameID, err := m.reserveFrame()
	if err != nil {
		return nil, err
	}

	p := page.New(pageNum)
	if err := m.diskManager.ReadPage(pageNum, p.GetData()); err != nil {
		m.fastPath.Lock()
		m.emptyFrames = append(m.emptyFrames, frameID)
		m.fastPath.Unlock()

		return nil, fmt.Errorf("read page %v: %w", pageNum, err)
	}

	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	m.frames[frameID] = frame{
		Page:    p,
		PageNum: pageNum,
	}
	m.pageToFrame[pageNum] = frameID
	m.pinAssumeLocked(frameID)

	return p, nil
}

// reserveFrame returns a frame that is detached from any page. Must be
// called with slowPath held.
func (m *Manager) reserveFrame() (uint64, error) {
	m.fastPath.Lock()

	if len(m.emptyFrames) > 0 {
		id := m.emptyFrames[0]
		m.emptyFrames = m.emptyFrames[1:]
		m.fastPath.Unlock()

		return id, nil
	}

	victimID, err := m.replacer.ChooseVictim()
	if err != nil {
		m.fastPath.Unlock()
		return 0, fmt.Errorf("no frame to evict: %w", err)
	}

	victim := m.frames[victimID]
	delete(m.pageToFrame, victim.PageNum)
	m.fastPath.Unlock()

	if victim.Page.IsDirty() {
		if err := m.writePage(victim.Page); err != nil {
			m.fastPath.Lock()
			m.pageToFrame[victim.PageNum] = victimID
			m.replacer.Unpin(victimID)
			m.fastPath.Unlock()

			return 0, err
		}
	}

	m.log.Debugw("evicted page", "page", victim.PageNum, "frame", victimID)

	return victimID, nil
}

func (m *Manager) writePage(p *page.Page) error {
	if m.hooks != nil {
		if err := m.hooks.PageFlushHook(p.PageLSN()); err != nil {
			return fmt.Errorf("flush log before page %v: %w", p.PageNum(), err)
		}
	}

	if err := m.diskManager.WritePage(p.PageNum(), p.GetData()); err != nil {
		return fmt.Errorf("failed to write page to disk: %w", err)
	}

	p.SetDirtiness(false)

	if m.hooks != nil {
		m.hooks.DiskIOHook(p.PageNum())
	}

	return nil
}

func (m *Manager) FlushPage(pageNum common.PageNum) error {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	frameID, ok := m.pageToFrame[pageNum]
	if !ok {
		return fmt.Errorf("flush page %v: %w", pageNum, ErrNoSuchPage)
	}

	p := m.frames[frameID].Page

	p.RLock()
	defer p.RUnlock()

	if !p.IsDirty() {
		return nil
	}

	return m.writePage(p)
}

func (m *Manager) FlushAllPages() error {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	for _, frameID := range m.pageToFrame {
		p := m.frames[frameID].Page

		p.RLock()
		var err error
		if p.IsDirty() {
			err = m.writePage(p)
		}
		p.RUnlock()

		if err != nil {
			return err
		}
	}

	return nil
}

// DiscardPage drops the cached copy of a page without writing it back.
// Used when the page is freed on disk.
func (m *Manager) DiscardPage(pageNum common.PageNum) {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	m.discardAssumeLocked(pageNum)
}

func (m *Manager) DiscardPart(part common.PartNum) {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	for pageNum := range m.pageToFrame {
		if pageNum.Part() == part {
			m.discardAssumeLocked(pageNum)
		}
	}
}

func (m *Manager) discardAssumeLocked(pageNum common.PageNum) {
	frameID, ok := m.pageToFrame[pageNum]
	if !ok {
		return
	}

	assert.Assert(
		m.frames[frameID].PinCount == 0,
		"discarding pinned page %v",
		pageNum,
	)

	delete(m.pageToFrame, pageNum)
	m.replacer.Pin(frameID)
	m.frames[frameID] = frame{}
	m.emptyFrames = append(m.emptyFrames, frameID)
}

// IterPageNums reports every cached page together with its dirtiness.
func (m *Manager) IterPageNums(fn func(pageNum common.PageNum, dirty bool)) {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	for pageNum, frameID := range m.pageToFrame {
		fn(pageNum, m.frames[frameID].Page.IsDirty())
	}
}
