// Package cpucache specializes the paged LRU table for CPU-resident tile
// byte buffers: the first of the two cache levels a tile passes through on
// its way to the GPU.
package cpucache

import (
	"context"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/arcterra/globecache/internal/loader"
	"github.com/arcterra/globecache/internal/pct"
	"github.com/arcterra/globecache/internal/tilecode"
)

// TileCPUPageSize is the fixed number of entries per CPU cache page.
const TileCPUPageSize = 32

// Ref is a borrowed view of a READY CPU tile.
type Ref struct {
	inner pct.Ref[[]byte]
	Data  []byte
}

// Cache is the CPU-resident tile store: a pct.Table[[]byte] where each page
// is one contiguous buffer of TileCPUPageSize*tileSize bytes, slot i
// occupying [i*tileSize, (i+1)*tileSize).
type Cache struct {
	table    *pct.Table[[]byte]
	tileSize int
	pool     *loader.Pool
	sem      *semaphore.Weighted
	log      logrus.FieldLogger
}

// NewCache builds a cache holding up to capacityTiles entries of tileSize
// bytes each, driven by pool for background production. Background
// submissions are gated by a semaphore sized to half the available
// hardware concurrency (minimum 1), the Go-native replacement for the
// original's atomic in-flight counter.
func NewCache(capacityTiles, tileSize int, pool *loader.Pool, log logrus.FieldLogger) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	inFlight := runtime.NumCPU() / 2
	if inFlight < 1 {
		inFlight = 1
	}
	newPage := func(pageSize int) ([]byte, error) {
		return make([]byte, pageSize*tileSize), nil
	}
	return &Cache{
		table:    pct.New[[]byte](capacityTiles, TileCPUPageSize, newPage, log),
		tileSize: tileSize,
		pool:     pool,
		sem:      semaphore.NewWeighted(int64(inFlight)),
		log:      log,
	}
}

func sliceForSlot(backing []byte, slot, tileSize int) []byte {
	return backing[slot*tileSize : (slot+1)*tileSize]
}

// Update resolves each requested tile code against the cache: for every
// entry, it asks source.Find for the code the source can actually produce,
// loads that into the table, enqueues a background production job the
// first time this call sees it need one, and returns either the ideal code
// (if already READY) or the nearest READY ancestor. Duplicate production
// requests within one call are de-duplicated by a per-call set.
func (c *Cache) Update(ctx context.Context, source loader.DataSource, tiles []tilecode.Code) []tilecode.Code {
	out := make([]tilecode.Code, 0, len(tiles))
	submitted := make(map[tilecode.Code]struct{})

	for _, want := range tiles {
		avail := source.Find(want)

		res, err := c.table.Load(avail)
		if err != nil {
			out = append(out, c.findBest(avail))
			continue
		}

		if res.NeedsLoad {
			if _, already := submitted[avail]; !already {
				submitted[avail] = struct{}{}
				c.trySubmit(ctx, source, avail, res.Index)
			}
		}

		if res.Ready {
			out = append(out, avail)
		} else {
			out = append(out, c.findBest(avail))
		}
	}
	return out
}

func (c *Cache) trySubmit(ctx context.Context, source loader.DataSource, code tilecode.Code, idx pct.Index) {
	if !c.sem.TryAcquire(1) {
		return
	}
	word := c.table.Word(idx)
	_, ok := word.Transition(func(cur pct.State) (pct.State, bool) {
		if cur.Status != pct.StatusEmpty {
			return cur, false
		}
		return pct.State{Status: pct.StatusQueued, Flags: cur.Flags, Gen: cur.Gen, Refs: 0}, true
	})
	if !ok {
		c.sem.Release(1)
		return
	}

	backing := c.table.Backing(idx)
	dst := sliceForSlot(*backing, idx.Slot, c.tileSize)
	pool := c.pool
	log := c.log
	pool.SubmitBackground(func(ctx context.Context) {
		defer c.sem.Release(1)
		loader.Run(ctx, word, code, source, dst, log)
	})
}

// findBest walks the ancestry chain of code (starting at its parent, since
// callers have already checked code's own readiness) until a READY entry
// is found, splicing the hit to the LRU head. Returns tilecode.None if no
// ancestor is cached.
func (c *Cache) findBest(code tilecode.Code) tilecode.Code {
	cur := code
	for {
		if cur.IsRoot() {
			if idx, ok := c.table.Lookup(cur); ok && c.table.StateAt(idx).Status == pct.StatusReady {
				c.table.Touch(cur)
				return cur
			}
			return tilecode.None
		}
		cur = cur.Coarsen()
		if idx, ok := c.table.Lookup(cur); ok && c.table.StateAt(idx).Status == pct.StatusReady {
			c.table.Touch(cur)
			return cur
		}
	}
}

// Acquire returns a borrowed view of a READY tile's bytes.
func (c *Cache) Acquire(code tilecode.Code) (Ref, error) {
	ref, err := c.table.Acquire(code)
	if err != nil {
		return Ref{}, err
	}
	backing := c.table.Backing(ref.Index)
	return Ref{inner: ref, Data: sliceForSlot(*backing, ref.Index.Slot, c.tileSize)}, nil
}

// Release returns a Ref obtained from Acquire.
func (c *Cache) Release(ref Ref) {
	c.table.Release(ref.inner)
}

// Len reports the number of live entries, for diagnostics and tests.
func (c *Cache) Len() int { return c.table.Len() }
