package loader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arcterra/globecache/internal/pct"
	"github.com/arcterra/globecache/internal/tilecode"
)

type fakeSource struct {
	fill      byte
	err       error
	loadDelay time.Duration
	checkTok  bool
}

func (f *fakeSource) Find(code tilecode.Code) tilecode.Code { return code }

func (f *fakeSource) Load(ctx context.Context, code tilecode.Code, dst []byte, tok CancelToken) error {
	if f.loadDelay > 0 {
		time.Sleep(f.loadDelay)
	}
	if f.checkTok && tok.IsCancelled() {
		return errors.New("cancelled")
	}
	if f.err != nil {
		return f.err
	}
	for i := range dst {
		dst[i] = f.fill
	}
	return nil
}

func (f *fakeSource) Sample(u, v float64, face uint8) float32 { return 0 }
func (f *fakeSource) Min() float32                            { return -1 }
func (f *fakeSource) Max() float32                            { return 1 }

func TestRunCompletesQueuedToReady(t *testing.T) {
	var w pct.Word
	w.Store(pct.State{Status: pct.StatusQueued, Gen: 5})
	dst := make([]byte, 4)
	src := &fakeSource{fill: 0x7}

	Run(context.Background(), &w, tilecode.Pack(0, 0, 0), src, dst, nil)

	st := w.Load()
	if st.Status != pct.StatusReady {
		t.Fatalf("status = %v, want Ready", st.Status)
	}
	if st.Gen != 5 {
		t.Errorf("gen changed on success path: got %d, want 5", st.Gen)
	}
	for _, b := range dst {
		if b != 0x7 {
			t.Fatalf("dst not filled: %v", dst)
		}
	}
}

func TestRunObservesPriorCancellationWithoutCallingSource(t *testing.T) {
	var w pct.Word
	w.Store(pct.State{Status: pct.StatusCancelled, Gen: 2, Refs: 0})
	called := false
	src := &fakeSource{}
	_ = src

	probe := &probingSource{fakeSource: fakeSource{fill: 1}, called: &called}
	Run(context.Background(), &w, tilecode.Pack(0, 0, 0), probe, make([]byte, 2), nil)

	if called {
		t.Error("source.Load should not be called when entry was already cancelled")
	}
	st := w.Load()
	if st.Status != pct.StatusEmpty || st.Gen != 3 {
		t.Errorf("state = %+v, want Empty gen=3", st)
	}
}

type probingSource struct {
	fakeSource
	called *bool
}

func (p *probingSource) Load(ctx context.Context, code tilecode.Code, dst []byte, tok CancelToken) error {
	*p.called = true
	return p.fakeSource.Load(ctx, code, dst, tok)
}

func TestRunCancelledDuringLoadResetsToEmpty(t *testing.T) {
	var w pct.Word
	w.Store(pct.State{Status: pct.StatusQueued, Gen: 0})

	src := &fakeSource{fill: 9, loadDelay: 20 * time.Millisecond}

	done := make(chan struct{})
	go func() {
		Run(context.Background(), &w, tilecode.Pack(0, 0, 0), src, make([]byte, 1), nil)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	w.Transition(func(cur pct.State) (pct.State, bool) {
		if cur.Status != pct.StatusLoading {
			return cur, false
		}
		return pct.State{Status: pct.StatusCancelled, Gen: cur.Gen, Refs: cur.Refs}, true
	})

	<-done
	st := w.Load()
	if st.Status != pct.StatusEmpty {
		t.Fatalf("status = %v, want Empty after mid-load cancellation", st.Status)
	}
}

func TestRunSourceErrorResetsToEmpty(t *testing.T) {
	var w pct.Word
	w.Store(pct.State{Status: pct.StatusQueued, Gen: 1})
	src := &fakeSource{err: errors.New("boom")}

	Run(context.Background(), &w, tilecode.Pack(0, 0, 0), src, make([]byte, 1), nil)

	st := w.Load()
	if st.Status != pct.StatusEmpty || st.Gen != 2 {
		t.Errorf("state = %+v, want Empty gen=2 on source error", st)
	}
}

func TestPoolRunsSubmittedWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPool(ctx, nil)

	var wg sync.WaitGroup
	var n int
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		p.SubmitBackground(func(ctx context.Context) {
			defer wg.Done()
			mu.Lock()
			n++
			mu.Unlock()
		})
	}
	wg.Wait()
	if n != 8 {
		t.Fatalf("n = %d, want 8", n)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
