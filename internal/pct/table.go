package pct

import (
	"container/heap"
	"container/list"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/arcterra/globecache/internal/tilecode"
)

// ErrCapacityExhausted is returned by Load when the table is full and the
// LRU tail cannot be evicted (held by a live reference, already tearing
// down, or in-flight and cancelled instead). The table is left completely
// unmodified when this error is returned.
var ErrCapacityExhausted = errors.New("pct: capacity exhausted, eviction failed")

// ErrNotReady is returned by Acquire when the entry is absent or its
// observed status is not READY.
var ErrNotReady = errors.New("pct: entry not ready")

// Index addresses one slot within the table: a page number and the slot
// within that page's backing.
type Index struct {
	Page int
	Slot int
}

// Valid reports whether idx addresses a real slot.
func (idx Index) Valid() bool { return idx.Page >= 0 }

// NoIndex is the sentinel invalid Index.
var NoIndex = Index{Page: -1, Slot: -1}

// Result is returned by Load.
type Result struct {
	Index     Index
	Ready     bool
	NeedsLoad bool
}

// Ref is a live reference to a READY entry, obtained from Acquire and
// returned via Release. It pins the backing word directly rather than the
// key, so it stays valid even if the table's map is mutated while the
// reference is held (refs>0 forbids eviction of the slot it points at).
type Ref[B any] struct {
	Index Index
	Code  tilecode.Code
	word  *Word
}

// PageFunc constructs the opaque backing storage for one page of pageSize
// slots. It is supplied once at table construction, the Go replacement for
// the original's function-pointer-plus-context page constructor.
type PageFunc[B any] func(pageSize int) (B, error)

type tablePage[B any] struct {
	backing B
	words   []Word
	codes   []tilecode.Code
	free    []int
}

// pageHeap is a min-heap of page indices with at least one free slot,
// favoring the lowest-numbered page for new allocations.
type pageHeap []int

func (h pageHeap) Len() int            { return len(h) }
func (h pageHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h pageHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pageHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *pageHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Table is a generic, bounded, LRU-evicted keyed store of fixed-size pages.
// A single goroutine owns the map/lru/pages/open fields (the frame driver
// in callers such as cpucache.Cache); only the per-entry Word is touched
// from other goroutines, via atomic compare-and-swap.
type Table[B any] struct {
	pageSize int
	capacity int
	newPage  PageFunc[B]
	log      logrus.FieldLogger

	pages  []*tablePage[B]
	byCode map[tilecode.Code]*list.Element
	lru    *list.List
	open   pageHeap
}

// New constructs an empty table of the given total entry capacity, with
// pages of pageSize entries each, grown on demand via newPage.
func New[B any](capacity, pageSize int, newPage PageFunc[B], log logrus.FieldLogger) *Table[B] {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Table[B]{
		pageSize: pageSize,
		capacity: capacity,
		newPage:  newPage,
		log:      log,
		byCode:   make(map[tilecode.Code]*list.Element, capacity),
		lru:      list.New(),
	}
}

// Len returns the number of live entries.
func (t *Table[B]) Len() int { return len(t.byCode) }

// Cap returns the table's entry capacity.
func (t *Table[B]) Cap() int { return t.capacity }

// PageCount returns the number of pages allocated so far.
func (t *Table[B]) PageCount() int { return len(t.pages) }

// PageSize returns the fixed number of slots per page.
func (t *Table[B]) PageSize() int { return t.pageSize }

func (t *Table[B]) wordAt(idx Index) *Word { return &t.pages[idx.Page].words[idx.Slot] }

// StateAt reads the current state of the entry at idx.
func (t *Table[B]) StateAt(idx Index) State { return t.wordAt(idx).Load() }

// CodeAt returns the key currently installed at idx.
func (t *Table[B]) CodeAt(idx Index) tilecode.Code { return t.pages[idx.Page].codes[idx.Slot] }

// Backing returns a pointer to the opaque page backing holding idx, letting
// callers (cpucache, gpucache) index into their own byte buffers or texture
// pages.
func (t *Table[B]) Backing(idx Index) *B { return &t.pages[idx.Page].backing }

// Word exposes the raw atomic state cell at idx, for callers (the loader
// pipeline) that drive the QUEUED->LOADING->READY protocol themselves.
func (t *Table[B]) Word(idx Index) *Word { return t.wordAt(idx) }

// Touch splices an already-installed key's LRU node to the front without
// going through Load. Used by callers that resolve a cache hit through a
// path other than a direct Load (e.g. an ancestor walk).
func (t *Table[B]) Touch(code tilecode.Code) (Index, bool) {
	elem, ok := t.byCode[code]
	if !ok {
		return Index{}, false
	}
	t.lru.MoveToFront(elem)
	return elem.Value.(Index), true
}

// Lookup reports whether code is installed in the table without touching
// LRU order.
func (t *Table[B]) Lookup(code tilecode.Code) (Index, bool) {
	elem, ok := t.byCode[code]
	if !ok {
		return Index{}, false
	}
	return elem.Value.(Index), true
}

// Load resolves code to a slot. If already present, its LRU node moves to
// the head and the current readiness is reported. If absent, a slot is
// allocated (growing a page if capacity allows) or the LRU tail is evicted;
// on success the slot is reset to EMPTY with its generation bumped and
// installed under code. If eviction is required and fails, the table is
// left entirely unmodified and ErrCapacityExhausted is returned.
func (t *Table[B]) Load(code tilecode.Code) (Result, error) {
	if elem, ok := t.byCode[code]; ok {
		t.lru.MoveToFront(elem)
		idx := elem.Value.(Index)
		st := t.wordAt(idx).Load()
		return Result{
			Index:     idx,
			Ready:     st.Status == StatusReady,
			NeedsLoad: st.Status == StatusEmpty,
		}, nil
	}

	var idx Index
	var err error
	if len(t.byCode) < t.capacity {
		idx, err = t.allocSlot()
	} else {
		idx, err = t.evictTail()
	}
	if err != nil {
		return Result{}, err
	}

	w := t.wordAt(idx)
	cur := w.Load()
	w.Store(State{Status: StatusEmpty, Flags: cur.Flags, Gen: cur.Gen + 1, Refs: 0})
	t.pages[idx.Page].codes[idx.Slot] = code

	elem := t.lru.PushFront(idx)
	t.byCode[code] = elem

	return Result{Index: idx, NeedsLoad: true}, nil
}

// allocSlot hands out a free slot from an existing page, growing a new page
// if none has room. Only called while len(byCode) < capacity.
func (t *Table[B]) allocSlot() (Index, error) {
	for t.open.Len() > 0 {
		pageIdx := t.open[0]
		p := t.pages[pageIdx]
		if len(p.free) == 0 {
			heap.Pop(&t.open)
			continue
		}
		slot := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		if len(p.free) == 0 {
			heap.Pop(&t.open)
		}
		return Index{Page: pageIdx, Slot: slot}, nil
	}

	backing, err := t.newPage(t.pageSize)
	if err != nil {
		return Index{}, fmt.Errorf("pct: allocate page: %w", err)
	}
	p := &tablePage[B]{
		backing: backing,
		words:   make([]Word, t.pageSize),
		codes:   make([]tilecode.Code, t.pageSize),
		free:    make([]int, 0, t.pageSize-1),
	}
	for i := t.pageSize - 1; i >= 1; i-- {
		p.free = append(p.free, i)
	}
	pageIdx := len(t.pages)
	t.pages = append(t.pages, p)
	if len(p.free) > 0 {
		heap.Push(&t.open, pageIdx)
	}
	return Index{Page: pageIdx, Slot: 0}, nil
}

// evictTail attempts to free the LRU tail for reuse. On any failure path
// the map and LRU list are left untouched; the only side effect permitted
// on failure is CAS-ing an in-flight tail to CANCELLED, which is the
// eviction policy itself rather than a partial install.
func (t *Table[B]) evictTail() (Index, error) {
	back := t.lru.Back()
	if back == nil {
		return Index{}, ErrCapacityExhausted
	}
	idx := back.Value.(Index)
	w := t.wordAt(idx)
	cur := w.Load()

	switch cur.Status {
	case StatusEmpty, StatusReady:
		if cur.Refs > 0 {
			return Index{}, ErrCapacityExhausted
		}
		next := State{Status: StatusEmpty, Flags: cur.Flags, Gen: cur.Gen + 1, Refs: 0}
		if !w.CompareAndSwap(cur, next) {
			return Index{}, ErrCapacityExhausted
		}
		oldCode := t.pages[idx.Page].codes[idx.Slot]
		delete(t.byCode, oldCode)
		t.lru.Remove(back)
		return idx, nil
	case StatusLoading, StatusQueued:
		next := State{Status: StatusCancelled, Flags: cur.Flags, Gen: cur.Gen, Refs: cur.Refs}
		w.CompareAndSwap(cur, next)
		return Index{}, ErrCapacityExhausted
	default: // StatusCancelled, or anything else mid-transition
		return Index{}, ErrCapacityExhausted
	}
}

// Acquire returns a live Ref to code's entry if it is installed and READY,
// incrementing its ref count. The ref count keeps the slot pinned against
// eviction until Release.
func (t *Table[B]) Acquire(code tilecode.Code) (Ref[B], error) {
	elem, ok := t.byCode[code]
	if !ok {
		return Ref[B]{}, ErrNotReady
	}
	idx := elem.Value.(Index)
	w := t.wordAt(idx)
	_, ok = w.Transition(func(cur State) (State, bool) {
		if cur.Status != StatusReady {
			return cur, false
		}
		return State{Status: cur.Status, Flags: cur.Flags, Gen: cur.Gen, Refs: cur.Refs + 1}, true
	})
	if !ok {
		return Ref[B]{}, ErrNotReady
	}
	return Ref[B]{Index: idx, Code: code, word: w}, nil
}

// Release decrements the ref count taken by a prior Acquire. Releasing more
// times than acquired is a no-op rather than underflowing refs.
func (t *Table[B]) Release(ref Ref[B]) {
	ref.word.Transition(func(cur State) (State, bool) {
		if cur.Refs == 0 {
			return cur, false
		}
		return State{Status: cur.Status, Flags: cur.Flags, Gen: cur.Gen, Refs: cur.Refs - 1}, true
	})
}
