// Package orchestra gates retrieval results into the shared acoustic space.
// Authorized announcements occupy a niche (their normalized Bark vector) for
// their duration; a queued announcement too similar to any active niche
// waits. The queue is strict FIFO: nothing behind a blocked head is
// considered, so arrival order is always emission order.
package orchestra

import (
	"context"
	"sync"
	"time"

	"hibikido/core/audio"
	"hibikido/core/retrieve"
	"hibikido/logger"
	"hibikido/model"
)

// EmitFunc delivers an authorized announcement. It runs with the
// orchestrator lock held so deliveries leave in authorization order; it
// must not block or call back into the orchestrator. A failed delivery is
// logged but the niche stays registered; the sound is presumed playing.
type EmitFunc func(model.Announcement) error

// ExpireFunc observes a niche leaving the space. Same contract as EmitFunc:
// called under the lock, must not block.
type ExpireFunc func(segmentID int64)

// Clock returns the current time. Injected in tests.
type Clock func() time.Time

type niche struct {
	segmentID int64
	barkNorm  []float64
	expiresAt time.Time
	silent    bool // zero Bark vector, occupies no spectrum
}

// Orchestrator holds the pending queue and the active niches.
type Orchestrator struct {
	mu        sync.Mutex
	queue     []model.Announcement
	niches    []niche
	threshold float64
	clock     Clock
	emit      EmitFunc
	onExpire  ExpireFunc

	emitted int64
	expired int64
}

// New creates an orchestrator with the given similarity threshold and
// emission callback. onExpire may be nil.
func New(threshold float64, emit EmitFunc, onExpire ExpireFunc) *Orchestrator {
	return &Orchestrator{
		threshold: threshold,
		clock:     time.Now,
		emit:      emit,
		onExpire:  onExpire,
	}
}

// SetClock replaces the time source. Call before use.
func (o *Orchestrator) SetClock(clock Clock) { o.clock = clock }

// Enqueue appends announcements in order and immediately attempts to drain.
func (o *Orchestrator) Enqueue(anns ...model.Announcement) {
	o.mu.Lock()
	o.queue = append(o.queue, anns...)
	o.mu.Unlock()
	o.Tick()
}

// Tick expires finished niches, then authorizes from the head of the queue
// until the head conflicts or the queue empties. Each announcement is
// delivered before the lock is released, so concurrent ticks cannot
// reorder deliveries against the drain order.
func (o *Orchestrator) Tick() {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.clock()

	kept := o.niches[:0]
	for _, n := range o.niches {
		if now.Before(n.expiresAt) {
			kept = append(kept, n)
			continue
		}
		o.expired++
		logger.Debug("niche expired", logger.Int64("segmentID", n.segmentID))
		if o.onExpire != nil {
			o.onExpire(n.segmentID)
		}
	}
	o.niches = kept

	for len(o.queue) > 0 {
		head := o.queue[0]
		if o.blocked(head) {
			break
		}
		o.register(head, now)
		o.queue = o.queue[1:]
		o.emitted++
		if err := o.emit(head); err != nil {
			logger.Error("announcement delivery failed",
				logger.Int64("segmentID", head.SegmentID),
				logger.ErrorField(err))
		}
	}
	if len(o.queue) == 0 {
		o.queue = nil
	}
}

// blocked reports whether ann conflicts with any active niche. Callers hold
// the mutex.
func (o *Orchestrator) blocked(ann model.Announcement) bool {
	barkNorm := audio.Normalize(ann.BarkRaw)
	silent := isZero(barkNorm)

	for _, n := range o.niches {
		if ann.Collection == retrieve.CollectionSegments && n.segmentID == ann.SegmentID {
			return true
		}
		if silent || n.silent {
			continue
		}
		if audio.Cosine(barkNorm, n.barkNorm) >= o.threshold {
			return true
		}
	}
	return false
}

// register adds ann's niche. A non-positive duration still registers; the
// niche falls out on the next tick. Callers hold the mutex.
func (o *Orchestrator) register(ann model.Announcement, now time.Time) {
	barkNorm := audio.Normalize(ann.BarkRaw)
	o.niches = append(o.niches, niche{
		segmentID: ann.SegmentID,
		barkNorm:  barkNorm,
		expiresAt: now.Add(time.Duration(ann.Duration * float64(time.Second))),
		silent:    isZero(barkNorm),
	})
}

// Run ticks at the given interval until ctx is done.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Tick()
		}
	}
}

// ActiveNiches returns the number of currently occupied niches.
func (o *Orchestrator) ActiveNiches() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.niches)
}

// Queued returns the number of announcements waiting for authorization.
func (o *Orchestrator) Queued() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// ActiveSegmentIDs lists the segment ids of the active niches.
func (o *Orchestrator) ActiveSegmentIDs() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]int64, len(o.niches))
	for i, n := range o.niches {
		ids[i] = n.segmentID
	}
	return ids
}

// Counters returns totals since startup: announcements emitted and niches
// expired.
func (o *Orchestrator) Counters() (emitted, expired int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.emitted, o.expired
}

func isZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
