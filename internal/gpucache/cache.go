package gpucache

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/arcterra/globecache/internal/bufpool"
	"github.com/arcterra/globecache/internal/cpucache"
	"github.com/arcterra/globecache/internal/loader"
	"github.com/arcterra/globecache/internal/pct"
	"github.com/arcterra/globecache/internal/tilecode"
)

// GPUIndex addresses a slice within a texture array page.
type GPUIndex struct {
	Page uint16
	Slot uint16
}

// GPUIndexNone means "no slot assigned".
var GPUIndexNone = GPUIndex{Page: 0xFFFF, Slot: 0xFFFF}

func fromPctIndex(idx pct.Index) GPUIndex {
	return GPUIndex{Page: uint16(idx.Page), Slot: uint16(idx.Slot)}
}

func (i GPUIndex) toPct() pct.Index { return pct.Index{Page: int(i.Page), Slot: int(i.Slot)} }

// Binding is one page bound to a consecutive texture unit, returned by
// BindTextures for a real renderer to wire into draw-time sampler state.
type Binding struct {
	Unit int
	Page TexturePage
}

// upload is a pending async-upload descriptor created by Update and
// resolved by FlushUploads.
type upload struct {
	idx        pct.Index
	code       tilecode.Code
	cpu        *cpucache.Cache
	cpuRef     cpucache.Ref
	staged     []byte
	stagingBuf []byte // full pooled buffer backing staged, for returning via bufpool
}

// Cache is the GPU-side tile cache: an LRU of tile codes to (page, slot)
// texture-array locations. Its per-slot state machine mirrors pct's
// generic one, reusing StatusLoading to mean UPLOADING (the GPU entry has
// no ref count: draws and uploads are serialized per frame at the
// submission boundary, so nothing else needs to pin a slot).
type Cache struct {
	table    *pct.Table[TexturePage]
	width    int
	pageSize int
	pool     *loader.Pool
	log      logrus.FieldLogger
	staging  *bufpool.Pool

	pending []upload
}

// NewCache builds a GPU cache of up to capacity tile slots, grouped into
// pages of pageSize slices each width x width pixels, backed by backend.
func NewCache(capacity, pageSize, width int, backend TextureBackend, pool *loader.Pool, log logrus.FieldLogger) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	newPage := func(n int) (TexturePage, error) { return backend.NewPage(width, n) }
	return &Cache{
		table:    pct.New[TexturePage](capacity, pageSize, newPage, log),
		width:    width,
		pageSize: pageSize,
		pool:     pool,
		log:      log,
		staging:  bufpool.New(width * width * 4),
	}
}

// Update resolves each CPU-resolved tile code to a GPU slot: a cache hit
// splices to the LRU head; a miss acquires the corresponding CPU reference
// and, on success, reserves a GPU slot (possibly evicting the GPU LRU
// tail) and records an upload descriptor for FlushUploads. Codes the GPU
// cache cannot serve this frame map to GPUIndexNone.
func (c *Cache) Update(cpu *cpucache.Cache, tiles []tilecode.Code) []GPUIndex {
	out := make([]GPUIndex, 0, len(tiles))

	for _, code := range tiles {
		if code == tilecode.None {
			out = append(out, GPUIndexNone)
			continue
		}
		if idx, ok := c.table.Touch(code); ok {
			out = append(out, fromPctIndex(idx))
			continue
		}

		ref, err := cpu.Acquire(code)
		if err != nil {
			out = append(out, GPUIndexNone)
			continue
		}

		res, err := c.table.Load(code)
		if err != nil {
			cpu.Release(ref)
			out = append(out, GPUIndexNone)
			continue
		}

		word := c.table.Word(res.Index)
		_, ok := word.Transition(func(cur pct.State) (pct.State, bool) {
			if cur.Status != pct.StatusEmpty {
				return cur, false
			}
			return pct.State{Status: pct.StatusQueued, Flags: cur.Flags, Gen: cur.Gen, Refs: 0}, true
		})
		if !ok {
			cpu.Release(ref)
			out = append(out, GPUIndexNone)
			continue
		}

		c.pending = append(c.pending, upload{idx: res.Index, code: code, cpu: cpu, cpuRef: ref})
		out = append(out, fromPctIndex(res.Index))
	}
	return out
}

// PendingUploads reports how many descriptors are queued for the next
// FlushUploads call.
func (c *Cache) PendingUploads() int { return len(c.pending) }

// FlushUploads runs the two-stage asynchronous upload: a parallel memcpy
// stage on the foreground pool copying each CPU tile's bytes into a
// per-descriptor staging slice (CAS QUEUED->UPLOADING, releasing the CPU
// reference as it goes), followed — once every memcpy has finished — by a
// serialized stage on the calling goroutine (standing in for the render
// thread that owns the GPU context) issuing the actual TexturePage.Upload
// calls. Descriptors cancelled in the meantime are skipped and their slot
// reset to EMPTY instead of written. Returns the number of tiles
// successfully uploaded.
func (c *Cache) FlushUploads(ctx context.Context) int {
	pending := c.pending
	c.pending = nil
	if len(pending) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for i := range pending {
		d := &pending[i]
		wg.Add(1)
		submitted := c.pool.SubmitForeground(func(ctx context.Context) {
			defer wg.Done()
			c.memcpyStage(d)
		})
		if !submitted {
			c.memcpyStage(d)
			wg.Done()
		}
	}
	wg.Wait()

	uploaded := 0
	for i := range pending {
		d := &pending[i]
		word := c.table.Word(d.idx)
		if word.Load().Status == pct.StatusCancelled {
			word.Transition(func(cur pct.State) (pct.State, bool) {
				if cur.Status != pct.StatusCancelled {
					return cur, false
				}
				return pct.State{Status: pct.StatusEmpty, Flags: cur.Flags, Gen: cur.Gen + 1, Refs: 0}, true
			})
			if d.stagingBuf != nil {
				c.staging.Put(d.stagingBuf)
			}
			continue
		}
		if d.staged == nil {
			continue
		}
		page := *c.table.Backing(d.idx)
		err := page.Upload(d.idx.Slot, d.staged)
		if d.stagingBuf != nil {
			c.staging.Put(d.stagingBuf)
		}
		if err != nil {
			c.log.WithError(err).WithField("tile_code", d.code.String()).Warn("gpu upload failed, retrying next frame")
			continue
		}
		word.Transition(func(cur pct.State) (pct.State, bool) {
			if cur.Status != pct.StatusLoading {
				return cur, false
			}
			return pct.State{Status: pct.StatusReady, Flags: cur.Flags, Gen: cur.Gen, Refs: 0}, true
		})
		uploaded++
	}
	return uploaded
}

// memcpyStage is the per-descriptor foreground-pool task: CAS
// QUEUED->UPLOADING, copy the CPU tile's bytes into the descriptor's
// staging slice, then release the CPU reference regardless of outcome so a
// mid-flight cancellation never leaks a pinned CPU slot.
func (c *Cache) memcpyStage(d *upload) {
	word := c.table.Word(d.idx)
	_, ok := word.Transition(func(cur pct.State) (pct.State, bool) {
		if cur.Status != pct.StatusQueued {
			return cur, false
		}
		return pct.State{Status: pct.StatusLoading, Flags: cur.Flags, Gen: cur.Gen, Refs: 0}, true
	})
	defer d.cpu.Release(d.cpuRef)
	if !ok {
		return
	}
	n := len(d.cpuRef.Data)
	if buf := c.staging.Get(); len(buf) >= n {
		d.stagingBuf = buf
		d.staged = buf[:n]
	} else {
		d.staged = make([]byte, n)
	}
	copy(d.staged, d.cpuRef.Data)
}

// BindTextures returns one Binding per allocated page, starting at
// baseUnit, for a real renderer to bind to consecutive texture units. Any
// slot not currently READY is first overwritten with defaultPixel so
// shaders never sample uninitialized storage.
func (c *Cache) BindTextures(baseUnit int, defaultPixel []byte) []Binding {
	bindings := make([]Binding, 0, c.table.PageCount())
	for p := 0; p < c.table.PageCount(); p++ {
		page := *c.table.Backing(pct.Index{Page: p})
		for slot := 0; slot < c.table.PageSize(); slot++ {
			idx := pct.Index{Page: p, Slot: slot}
			if c.table.StateAt(idx).Status != pct.StatusReady {
				page.Upload(slot, defaultPixel)
			}
		}
		bindings = append(bindings, Binding{Unit: baseUnit + p, Page: page})
	}
	return bindings
}

// Len reports the number of live GPU entries.
func (c *Cache) Len() int { return c.table.Len() }
