// Package minmax maintains a sparse tile-code-keyed map of elevation bounds
// used by the selector to build conservative bounding boxes without
// sampling every tile's terrain at traversal time.
package minmax

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/arcterra/globecache/internal/tilecode"
)

// Bounds is a closed elevation interval.
type Bounds struct {
	Min float32
	Max float32
}

// Covers reports whether b fully contains other.
func (b Bounds) Covers(other Bounds) bool {
	return b.Min <= other.Min && b.Max >= other.Max
}

// Union returns the smallest Bounds covering both b and other.
func (b Bounds) Union(other Bounds) Bounds {
	u := b
	if other.Min < u.Min {
		u.Min = other.Min
	}
	if other.Max > u.Max {
		u.Max = other.Max
	}
	return u
}

// pendingUpdate is a load-completion notification queued by a worker
// goroutine for the frame driver to fold in without blocking on the tree
// mutex.
type pendingUpdate struct {
	code   tilecode.Code
	bounds Bounds
}

// Tree is a sparse TileCode -> Bounds map, mutex-guarded, with a buffered
// channel decoupling concurrent producers that call Push from the single
// drain point (the frame driver).
type Tree struct {
	mu     sync.Mutex
	values map[tilecode.Code]Bounds
	log    logrus.FieldLogger

	pending chan pendingUpdate
}

// New constructs an empty tree. pendingCapacity bounds how many load
// completions may be queued before Push blocks; a generous value (e.g. a
// few hundred) keeps workers from stalling on a busy frame.
func New(pendingCapacity int, log logrus.FieldLogger) *Tree {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tree{
		values:  make(map[tilecode.Code]Bounds),
		log:     log,
		pending: make(chan pendingUpdate, pendingCapacity),
	}
}

// Push queues a load-completed tile's bounds for later insertion via Drain.
// Safe to call from any goroutine; blocks only if the pending queue is
// full, which indicates Drain is not being called often enough.
func (t *Tree) Push(code tilecode.Code, b Bounds) {
	t.pending <- pendingUpdate{code: code, bounds: b}
}

// Drain folds in all queued updates via Insert, returning the number
// applied. Intended to be called once per frame by the goroutine that owns
// the tree's mutations.
func (t *Tree) Drain() int {
	n := 0
	for {
		select {
		case u := <-t.pending:
			t.Insert(u.code, u.bounds)
			n++
		default:
			return n
		}
	}
}

// Insert is the monotonic-insert write path: it records b at code if code
// is not already present, then walks ancestors widening each parent's
// interval to cover the child, stopping as soon as a parent already covers
// the new interval.
func (t *Tree) Insert(code tilecode.Code, b Bounds) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.values[code]; !ok {
		t.values[code] = b
	}

	cur := b
	for !code.IsRoot() {
		code = code.Coarsen()
		existing, ok := t.values[code]
		if ok && existing.Covers(cur) {
			return
		}
		if ok {
			cur = existing.Union(cur)
		}
		t.values[code] = cur
	}
}

// Modify overwrites the bounds stored at code (if present) and
// re-aggregates every ancestor from the true union of its existing
// children's stored values; missing children contribute nothing.
func (t *Tree) Modify(code tilecode.Code, b Bounds) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.values[code]; !ok {
		return
	}
	t.values[code] = b

	for !code.IsRoot() {
		parent := code.Coarsen()
		agg, any := t.aggregateChildren(parent)
		if !any {
			return
		}
		t.values[parent] = agg
		code = parent
	}
}

// aggregateChildren recomputes parent's bounds as the union of whichever of
// its four children currently have a stored value. The union uses the true
// component-wise maximum for the upper bound.
func (t *Tree) aggregateChildren(parent tilecode.Code) (Bounds, bool) {
	var agg Bounds
	any := false
	for _, q := range [4]tilecode.Quadrant{tilecode.LowerLeft, tilecode.LowerRight, tilecode.UpperLeft, tilecode.UpperRight} {
		child := parent.Refine(q)
		b, ok := t.values[child]
		if !ok {
			continue
		}
		if !any {
			agg = b
			any = true
			continue
		}
		agg = agg.Union(b)
	}
	return agg, any
}

// Query walks up from code, returning the first stored ancestor's value
// (including code itself), or ok=false if no ancestor has ever been
// inserted.
func (t *Tree) Query(code tilecode.Code) (Bounds, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		if b, ok := t.values[code]; ok {
			return b, true
		}
		if code.IsRoot() {
			return Bounds{}, false
		}
		code = code.Coarsen()
	}
}
