package disk

import "github.com/Blackdeer1524/ariesdb/src/storage/page"

// PagesPerPart is bounded by the allocation bitmap that fills the
// partition's header page.
const PagesPerPart = page.PageSize * 8

// partHeader is the first page of a partition file. Bit i is set iff
// page i of the partition is allocated.
type partHeader [page.PageSize]byte

func (h *partHeader) isAllocated(index uint64) bool {
	return h[index/8]&(1<<(index%8)) != 0
}

func (h *partHeader) set(index uint64, allocated bool) {
	if allocated {
		h[index/8] |= 1 << (index % 8)
	} else {
		h[index/8] &^= 1 << (index % 8)
	}
}

// firstFree returns the lowest unallocated index or false if the
// partition is full.
func (h *partHeader) firstFree() (uint64, bool) {
	for i, b := range h {
		if b == 0xff {
			continue
		}

		for bit := range uint64(8) {
			if b&(1<<bit) == 0 {
				return uint64(i)*8 + bit, true
			}
		}
	}

	return 0, false
}
