// Package metrics implements C6: the task-metrics ledger and the
// path-computation metrics ledger, plus their CSV export (§4.6).
package metrics

import (
	"math"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/niceyeti/mapd/atomic_float"
)

// PathMetrics is an append-only ledger of per-tick planning durations. It
// is fed concurrently: the manager's per-tick TSWAP pass issues replans
// through a `golang.org/x/sync/semaphore`-bounded pool of goroutines (§5),
// so unlike the single-loop-owned TaskMetrics, this ledger's aggregates
// cross goroutine ownership and are mutated with the teacher's
// atomic_float CAS idiom rather than plain fields, per DESIGN.md's
// documented narrowing of §5's "owned by the loop" rule.
type PathMetrics struct {
	count int64
	sum   float64 // microseconds
	min   float64 // microseconds
	max   float64 // microseconds

	samples []int64 // sample_index -> duration_micros, for CSV export
	mu      sampleMu
}

// sampleMu guards only the samples slice (appended from many goroutines);
// the running aggregates above do not need it, since they are each updated
// with their own CAS loop.
type sampleMu struct{ ch chan struct{} }

func newSampleMu() sampleMu {
	m := sampleMu{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}
func (m sampleMu) lock()   { <-m.ch }
func (m sampleMu) unlock() { m.ch <- struct{}{} }

// NewPathMetrics returns an empty path-computation metrics ledger.
func NewPathMetrics() *PathMetrics {
	return &PathMetrics{
		min: math.MaxFloat64,
		mu:  newSampleMu(),
	}
}

// Record appends one planning-duration sample. Safe for concurrent use.
func (p *PathMetrics) Record(d time.Duration) {
	micros := float64(d.Microseconds())

	atomic.AddInt64(&p.count, 1)
	atomic_float.AtomicAdd(&p.sum, micros)
	casMin(&p.min, micros)
	casMax(&p.max, micros)

	p.mu.lock()
	p.samples = append(p.samples, d.Microseconds())
	p.mu.unlock()
}

// PathStats is the §4.6 summary: sample count, mean, min, max (all in
// microseconds).
type PathStats struct {
	Count int64
	Mean  float64
	Min   float64
	Max   float64
}

// Stats computes the current summary. With zero samples, Min/Max are
// reported as zero rather than the internal MaxFloat64 sentinel.
func (p *PathMetrics) Stats() PathStats {
	count := atomic.LoadInt64(&p.count)
	if count == 0 {
		return PathStats{}
	}
	sum := atomic_float.AtomicRead(&p.sum)
	return PathStats{
		Count: count,
		Mean:  sum / float64(count),
		Min:   atomic_float.AtomicRead(&p.min),
		Max:   atomic_float.AtomicRead(&p.max),
	}
}

// casMin/casMax generalize atomic_float's CAS-retry pattern (see
// atomic_float.AtomicAdd) from unconditional writes to "update only if the
// candidate improves the current value" — the same unsafe-pointer-as-
// uint64 bit-swap trick, the same narrow-critical-section discipline.
func casMin(addr *float64, candidate float64) {
	for {
		old := atomic_float.AtomicRead(addr)
		if candidate >= old {
			return
		}
		if atomic.CompareAndSwapUint64(
			(*uint64)(unsafe.Pointer(addr)),
			math.Float64bits(old),
			math.Float64bits(candidate),
		) {
			return
		}
	}
}

func casMax(addr *float64, candidate float64) {
	for {
		old := atomic_float.AtomicRead(addr)
		if candidate <= old {
			return
		}
		if atomic.CompareAndSwapUint64(
			(*uint64)(unsafe.Pointer(addr)),
			math.Float64bits(old),
			math.Float64bits(candidate),
		) {
			return
		}
	}
}
