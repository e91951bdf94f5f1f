// Package loader drives the background tile production pipeline: a
// pluggable DataSource filling CPU cache entries through a pair of
// long-lived worker pools, and the QUEUED->LOADING->READY/CANCELLED state
// protocol that keeps loads cancellable without blocking the frame.
package loader

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/arcterra/globecache/internal/pct"
	"github.com/arcterra/globecache/internal/tilecode"
)

// DataSource is the pluggable producer of tile bytes and elevation
// samples. Implementations must tolerate a caller that never checks
// CancelToken: work is wasted in that case, never incorrect.
type DataSource interface {
	// Find returns the best code the source actually has, which may be a
	// coarser ancestor of code.
	Find(code tilecode.Code) tilecode.Code
	// Load fills dst (exactly tile_size bytes) for code. Implementations
	// should poll tok at natural boundaries (e.g. per scanline) but are not
	// required to.
	Load(ctx context.Context, code tilecode.Code, dst []byte, tok CancelToken) error
	// Sample returns an elevation estimate at face-local UV (u,v), used by
	// the selector when no min/max tree entry is yet available.
	Sample(u, v float64, face uint8) float32
	Min() float32
	Max() float32
}

// CancelToken is an observational, allocation-free view of a cache entry's
// own atomic state word. It does not carry a deadline: the original
// contract is purely advisory, so a thin read of the entry's status is all
// a well-behaved producer needs.
type CancelToken struct {
	word *pct.Word
}

// NewCancelToken wraps the atomic word backing a cache entry.
func NewCancelToken(w *pct.Word) CancelToken { return CancelToken{word: w} }

// IsCancelled reports whether the entry's status has moved to CANCELLED
// since the load began.
func (c CancelToken) IsCancelled() bool {
	return c.word.Load().Status == pct.StatusCancelled
}

// Run executes the load protocol against an entry already CAS-transitioned
// EMPTY->QUEUED by its submitter:
//  1. CAS QUEUED->LOADING. If the entry was already CANCELLED, CAS it back
//     to EMPTY and return without calling the source.
//  2. Invoke source.Load with a token reading this entry's own word.
//  3. CAS LOADING->READY, unless the entry went CANCELLED meanwhile (then
//     CAS CANCELLED->EMPTY) or the source returned an error (treated the
//     same as a cancellation: reset to EMPTY so a later frame retries).
//
// Run is meant to be the body of a job submitted to a Pool's background
// worker set; it blocks the calling worker goroutine for the duration of
// source.Load.
func Run(ctx context.Context, word *pct.Word, code tilecode.Code, source DataSource, dst []byte, log logrus.FieldLogger) {
	started, ok := word.Transition(func(cur pct.State) (pct.State, bool) {
		switch cur.Status {
		case pct.StatusQueued:
			return pct.State{Status: pct.StatusLoading, Flags: cur.Flags, Gen: cur.Gen, Refs: cur.Refs}, true
		case pct.StatusCancelled:
			return pct.State{Status: pct.StatusEmpty, Flags: cur.Flags, Gen: cur.Gen + 1, Refs: 0}, true
		default:
			return cur, false
		}
	})
	if !ok || started.Status == pct.StatusEmpty {
		return
	}

	tok := NewCancelToken(word)
	err := source.Load(ctx, code, dst, tok)

	word.Transition(func(cur pct.State) (pct.State, bool) {
		if cur.Status == pct.StatusCancelled {
			return pct.State{Status: pct.StatusEmpty, Flags: cur.Flags, Gen: cur.Gen + 1, Refs: 0}, true
		}
		if err != nil {
			return pct.State{Status: pct.StatusEmpty, Flags: cur.Flags, Gen: cur.Gen + 1, Refs: 0}, true
		}
		return pct.State{Status: pct.StatusReady, Flags: cur.Flags, Gen: cur.Gen, Refs: cur.Refs}, true
	})

	if err != nil && log != nil {
		log.WithFields(logrus.Fields{"tile_code": code.String()}).WithError(err).Warn("tile load failed")
	}
}
