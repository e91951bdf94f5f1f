package gpucache

import (
	"context"
	"testing"
	"time"

	"github.com/arcterra/globecache/internal/cpucache"
	"github.com/arcterra/globecache/internal/loader"
	"github.com/arcterra/globecache/internal/pct"
	"github.com/arcterra/globecache/internal/tilecode"
)

type instantSource struct{ fill byte }

func (s *instantSource) Find(code tilecode.Code) tilecode.Code { return code }
func (s *instantSource) Load(ctx context.Context, code tilecode.Code, dst []byte, tok loader.CancelToken) error {
	for i := range dst {
		dst[i] = s.fill
	}
	return nil
}
func (s *instantSource) Sample(u, v float64, face uint8) float32 { return 0 }
func (s *instantSource) Min() float32                            { return 0 }
func (s *instantSource) Max() float32                            { return 0 }

func newTestPool(t *testing.T) (*loader.Pool, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	p := loader.NewPool(ctx, nil)
	return p, func() { cancel(); p.Close() }
}

func readyCPUTile(t *testing.T, cpu *cpucache.Cache, src loader.DataSource, code tilecode.Code) {
	t.Helper()
	cpu.Update(context.Background(), src, []tilecode.Code{code})
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ref, err := cpu.Acquire(code); err == nil {
			cpu.Release(ref)
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("cpu tile %v never became ready", code)
}

func TestUpdateMissReservesSlotAndQueues(t *testing.T) {
	pool, stop := newTestPool(t)
	defer stop()
	src := &instantSource{fill: 5}
	cpu := cpucache.NewCache(8, 4, pool, nil)
	gpu := NewCache(4, 2, 2, NewMemoryBackend(), pool, nil)

	code := tilecode.Pack(0, 0, 0)
	readyCPUTile(t, cpu, src, code)

	handles := gpu.Update(cpu, []tilecode.Code{code})
	if handles[0] == GPUIndexNone {
		t.Fatal("expected a reserved GPU slot")
	}
	if gpu.PendingUploads() != 1 {
		t.Fatalf("PendingUploads() = %d, want 1", gpu.PendingUploads())
	}
	idx := handles[0].toPct()
	if gpu.table.StateAt(idx).Status != pct.StatusQueued {
		t.Errorf("status = %v, want Queued", gpu.table.StateAt(idx).Status)
	}
}

func TestUpdateNoneCodeMapsToSentinel(t *testing.T) {
	pool, stop := newTestPool(t)
	defer stop()
	cpu := cpucache.NewCache(8, 4, pool, nil)
	gpu := NewCache(4, 2, 2, NewMemoryBackend(), pool, nil)

	handles := gpu.Update(cpu, []tilecode.Code{tilecode.None})
	if handles[0] != GPUIndexNone {
		t.Errorf("handles[0] = %v, want GPUIndexNone", handles[0])
	}
}

func TestFlushUploadsWritesPixelsAndMarksReady(t *testing.T) {
	pool, stop := newTestPool(t)
	defer stop()
	src := &instantSource{fill: 9}
	cpu := cpucache.NewCache(8, 4, pool, nil)
	gpu := NewCache(4, 2, 2, NewMemoryBackend(), pool, nil)

	code := tilecode.Pack(0, 0, 0)
	readyCPUTile(t, cpu, src, code)

	handles := gpu.Update(cpu, []tilecode.Code{code})
	n := gpu.FlushUploads(context.Background())
	if n != 1 {
		t.Fatalf("FlushUploads() = %d, want 1", n)
	}
	idx := handles[0].toPct()
	if gpu.table.StateAt(idx).Status != pct.StatusReady {
		t.Errorf("status after flush = %v, want Ready", gpu.table.StateAt(idx).Status)
	}
	page := (*gpu.table.Backing(idx)).(*memoryPage)
	data := page.Slot(idx.Slot)
	if len(data) == 0 || data[0] != 9 {
		t.Errorf("slot data = %v, want filled with 9", data)
	}
}

// Scenario 6: GPU cancellation.
func TestScenarioGPUCancellation(t *testing.T) {
	pool, stop := newTestPool(t)
	defer stop()
	src := &instantSource{fill: 3}
	cpu := cpucache.NewCache(8, 4, pool, nil)
	gpu := NewCache(1, 1, 2, NewMemoryBackend(), pool, nil)

	code := tilecode.Pack(0, 0, 0)
	readyCPUTile(t, cpu, src, code)

	handles := gpu.Update(cpu, []tilecode.Code{code})
	idx := handles[0].toPct()

	// Simulate a competing allocation evicting this QUEUED slot before the
	// copy task runs: CAS QUEUED -> CANCELLED, exactly the GPU eviction
	// policy's treatment of an in-flight slot.
	word := gpu.table.Word(idx)
	cur := word.Load()
	if !word.CompareAndSwap(cur, pct.State{Status: pct.StatusCancelled, Flags: cur.Flags, Gen: cur.Gen, Refs: 0}) {
		t.Fatal("failed to simulate cancellation")
	}

	n := gpu.FlushUploads(context.Background())
	if n != 0 {
		t.Errorf("FlushUploads() = %d, want 0 (cancelled descriptor must not upload)", n)
	}
	page := (*gpu.table.Backing(idx)).(*memoryPage)
	if page.Slot(idx.Slot) != nil {
		t.Error("cancelled descriptor must not write to the texture page")
	}
	if got := gpu.table.StateAt(idx).Status; got != pct.StatusEmpty {
		t.Errorf("slot status = %v, want Empty after cancelled flush", got)
	}

	// CPU ref must have been released despite the cancellation.
	ref, err := cpu.Acquire(code)
	if err != nil {
		t.Fatalf("CPU ref leaked after GPU cancellation: Acquire failed: %v", err)
	}
	cpu.Release(ref)
}

func TestBindTexturesFillsUnreadySlotsWithDefault(t *testing.T) {
	pool, stop := newTestPool(t)
	defer stop()
	gpu := NewCache(2, 2, 2, NewMemoryBackend(), pool, nil)
	cpu := cpucache.NewCache(8, 4, pool, nil)
	src := &instantSource{fill: 1}
	code := tilecode.Pack(0, 0, 0)
	readyCPUTile(t, cpu, src, code)
	gpu.Update(cpu, []tilecode.Code{code})
	gpu.FlushUploads(context.Background())

	defaultPixel := []byte{0xAA, 0xBB}
	bindings := gpu.BindTextures(3, defaultPixel)
	if len(bindings) != 1 {
		t.Fatalf("len(bindings) = %d, want 1", len(bindings))
	}
	if bindings[0].Unit != 3 {
		t.Errorf("Unit = %d, want 3", bindings[0].Unit)
	}
	page := bindings[0].Page.(*memoryPage)
	if page.Slot(1)[0] != 0xAA {
		t.Errorf("unready slot not filled with default pixel: %v", page.Slot(1))
	}
}
