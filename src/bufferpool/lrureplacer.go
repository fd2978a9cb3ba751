package bufferpool

import (
	"container/list"
	"errors"
	"sync"
)

var ErrNoVictim = errors.New("every frame is pinned")

// LRUReplacer evicts the frame that has been unpinned for the longest
// time. Only unpinned frames are tracked.
type LRUReplacer struct {
	mu        sync.Mutex
	evictable *list.List // front is the most recently unpinned frame
	elems     map[uint64]*list.Element
}

var _ Replacer = &LRUReplacer{}

func NewLRUReplacer() *LRUReplacer {
	return &LRUReplacer{
		evictable: list.New(),
		elems:     map[uint64]*list.Element{},
	}
}

func (r *LRUReplacer) Pin(frameID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, ok := r.elems[frameID]; ok {
		r.evictable.Remove(elem)
		delete(r.elems, frameID)
	}
}

// Unpin makes the frame evictable and marks it as the most recently
// used one.
func (r *LRUReplacer) Unpin(frameID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, ok := r.elems[frameID]; ok {
		r.evictable.MoveToFront(elem)
		return
	}

	r.elems[frameID] = r.evictable.PushFront(frameID)
}

func (r *LRUReplacer) ChooseVictim() (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldest := r.evictable.Back()
	if oldest == nil {
		return 0, ErrNoVictim
	}

	frameID := r.evictable.Remove(oldest).(uint64)
	delete(r.elems, frameID)

	return frameID, nil
}

// Len returns the number of evictable frames.
func (r *LRUReplacer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.elems)
}
