package loader

import (
	"context"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// job is an owning closure; no job depends on the address of another job.
type job func(ctx context.Context)

// Pool is a pair of fixed-size, long-lived worker sets: a foreground pool
// for short, per-frame parallel tasks (e.g. the async GPU upload's memcpy
// stage) and a background pool for blocking tile production. Both are
// sized from hardware concurrency and stay running across many frames
// instead of tearing down after a single pass.
type Pool struct {
	log logrus.FieldLogger

	fgJobs chan job
	bgJobs chan job

	fg *errgroup.Group
	bg *errgroup.Group
}

// NewPool starts the foreground and background worker sets. ctx governs
// the lifetime of every worker goroutine; cancelling it (or calling Close)
// stops the pool.
func NewPool(ctx context.Context, log logrus.FieldLogger) *Pool {
	if log == nil {
		log = logrus.StandardLogger()
	}
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}

	fgCtx, fg := errgroup.WithContext(ctx)
	bgCtx, bg := errgroup.WithContext(ctx)

	p := &Pool{
		log:    log,
		fgJobs: make(chan job, n*4),
		bgJobs: make(chan job, n*4),
		fg:     fg,
		bg:     bg,
	}

	for i := 0; i < n; i++ {
		fg.Go(func() error { p.drain(fgCtx, p.fgJobs); return nil })
		bg.Go(func() error { p.drain(bgCtx, p.bgJobs); return nil })
	}
	return p
}

func (p *Pool) drain(ctx context.Context, jobs chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			j(ctx)
		}
	}
}

// SubmitForeground enqueues a short task on the foreground pool. It never
// blocks: if the queue is momentarily full the task is dropped and false is
// returned, the Go-native analogue of the original's per-frame best-effort
// task submission.
func (p *Pool) SubmitForeground(fn func(ctx context.Context)) bool {
	select {
	case p.fgJobs <- fn:
		return true
	default:
		return false
	}
}

// SubmitBackground enqueues a blocking production task. Callers are
// expected to have already gated admission with their own backpressure
// primitive (cpucache's semaphore), so this may block briefly under a
// burst rather than silently drop work.
func (p *Pool) SubmitBackground(fn func(ctx context.Context)) {
	p.bgJobs <- fn
}

// Close stops accepting new jobs and waits for in-flight jobs to finish.
func (p *Pool) Close() error {
	close(p.fgJobs)
	close(p.bgJobs)
	fgErr := p.fg.Wait()
	bgErr := p.bg.Wait()
	if fgErr != nil {
		return fgErr
	}
	return bgErr
}
