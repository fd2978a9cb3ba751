package page

import (
	"encoding/binary"
	"sync"

	"github.com/Blackdeer1524/ariesdb/src/pkg/assert"
	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

const (
	PageSize = 1 << 12

	// HeaderSize bytes at the start of every data page hold its pageLSN.
	HeaderSize = 8

	EffectivePageSize = PageSize - HeaderSize
)

// Page is an in-memory copy of a data page. The first HeaderSize bytes
// store the LSN of the last log record applied to the page; offsets
// passed to Read and Write are relative to the payload that follows.
type Page struct {
	latch sync.RWMutex

	pageNum common.PageNum
	dirty   bool
	data    [PageSize]byte
}

func New(pageNum common.PageNum) *Page {
	return &Page{pageNum: pageNum}
}

func (p *Page) PageNum() common.PageNum {
	return p.pageNum
}

func (p *Page) GetData() []byte {
	return p.data[:]
}

func (p *Page) SetData(d []byte) {
	assert.Assert(len(d) == PageSize, "invalid page size: %d", len(d))
	copy(p.data[:], d)
}

func (p *Page) PageLSN() common.LSN {
	return common.LSN(binary.BigEndian.Uint64(p.data[:HeaderSize]))
}

func (p *Page) SetPageLSN(lsn common.LSN) {
	binary.BigEndian.PutUint64(p.data[:HeaderSize], uint64(lsn))
}

func (p *Page) Read(offset uint16, n int) []byte {
	assert.Assert(
		int(offset)+n <= EffectivePageSize,
		"read out of page bounds: offset=%d, len=%d",
		offset,
		n,
	)

	start := HeaderSize + int(offset)
	res := make([]byte, n)
	copy(res, p.data[start:start+n])

	return res
}

// Write copies data into the page payload and marks the page dirty.
// The caller is responsible for advancing the pageLSN.
func (p *Page) Write(offset uint16, data []byte) {
	assert.Assert(
		int(offset)+len(data) <= EffectivePageSize,
		"write out of page bounds: offset=%d, len=%d",
		offset,
		len(data),
	)

	copy(p.data[HeaderSize+int(offset):], data)
	p.dirty = true
}

func (p *Page) SetDirtiness(val bool) {
	p.dirty = val
}

func (p *Page) IsDirty() bool {
	return p.dirty
}

func (p *Page) Lock() {
	p.latch.Lock()
}

func (p *Page) Unlock() {
	p.latch.Unlock()
}

func (p *Page) RLock() {
	p.latch.RLock()
}

func (p *Page) RUnlock() {
	p.latch.RUnlock()
}
