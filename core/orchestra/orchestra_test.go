package orchestra

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"hibikido/model"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu      sync.Mutex
	emitted []int64
	fail    bool
}

func (r *recorder) emit(ann model.Announcement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted = append(r.emitted, ann.SegmentID)
	if r.fail {
		return fmt.Errorf("peer unreachable")
	}
	return nil
}

func (r *recorder) order() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.emitted))
	copy(out, r.emitted)
	return out
}

// bandVector returns a Bark vector with all energy in one band.
func bandVector(band int) []float64 {
	vec := make([]float64, model.BarkBands)
	vec[band] = 1
	return vec
}

func announcement(id int64, bark []float64, duration float64) model.Announcement {
	return model.Announcement{
		Collection: "segments",
		SegmentID:  id,
		BarkRaw:    bark,
		Duration:   duration,
	}
}

func newTestOrchestrator(threshold float64, rec *recorder) (*Orchestrator, *fakeClock) {
	clock := newFakeClock()
	o := New(threshold, rec.emit, nil)
	o.SetClock(clock.Now)
	return o, clock
}

func TestEnqueueEmitsWhenSpaceClear(t *testing.T) {
	rec := &recorder{}
	o, _ := newTestOrchestrator(0.5, rec)

	o.Enqueue(announcement(1, bandVector(0), 2))

	if got := rec.order(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("emitted = %v, want [1]", got)
	}
	if o.ActiveNiches() != 1 {
		t.Fatalf("active niches = %d, want 1", o.ActiveNiches())
	}
	if o.Queued() != 0 {
		t.Fatalf("queued = %d, want 0", o.Queued())
	}
}

func TestConflictingHeadBlocksQueue(t *testing.T) {
	rec := &recorder{}
	o, clock := newTestOrchestrator(0.5, rec)

	// Same band as the active niche: cosine 1, blocked. The third uses a
	// distant band and could play, but strict FIFO holds it behind the head.
	o.Enqueue(announcement(1, bandVector(3), 10))
	o.Enqueue(announcement(2, bandVector(3), 10))
	o.Enqueue(announcement(3, bandVector(20), 10))

	if got := rec.order(); len(got) != 1 {
		t.Fatalf("emitted = %v, want only segment 1", got)
	}
	if o.Queued() != 2 {
		t.Fatalf("queued = %d, want 2", o.Queued())
	}

	// Once the niche expires the queue drains in order.
	clock.Advance(11 * time.Second)
	o.Tick()

	want := []int64{1, 2, 3}
	got := rec.order()
	if len(got) != len(want) {
		t.Fatalf("emitted = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("emitted = %v, want %v", got, want)
		}
	}
}

func TestNicheExpiry(t *testing.T) {
	rec := &recorder{}
	o, clock := newTestOrchestrator(0.5, rec)

	o.Enqueue(announcement(1, bandVector(5), 3))
	if o.ActiveNiches() != 1 {
		t.Fatalf("active niches = %d, want 1", o.ActiveNiches())
	}

	clock.Advance(2 * time.Second)
	o.Tick()
	if o.ActiveNiches() != 1 {
		t.Fatal("niche expired before its duration")
	}

	clock.Advance(1500 * time.Millisecond)
	o.Tick()
	if o.ActiveNiches() != 0 {
		t.Fatal("niche still active past its duration")
	}

	// The same spectral shape no longer conflicts.
	o.Enqueue(announcement(2, bandVector(5), 3))
	if got := rec.order(); len(got) != 2 {
		t.Fatalf("emitted = %v, want two segments", got)
	}
}

func TestDissimilarVectorsCoexist(t *testing.T) {
	rec := &recorder{}
	o, _ := newTestOrchestrator(0.5, rec)

	o.Enqueue(announcement(1, bandVector(0), 10))
	o.Enqueue(announcement(2, bandVector(23), 10))

	if o.ActiveNiches() != 2 {
		t.Fatalf("active niches = %d, want 2", o.ActiveNiches())
	}
	if o.Queued() != 0 {
		t.Fatalf("queued = %d, want 0", o.Queued())
	}
}

func TestZeroVectorNeverConflicts(t *testing.T) {
	rec := &recorder{}
	o, _ := newTestOrchestrator(0.5, rec)

	zero := make([]float64, model.BarkBands)
	o.Enqueue(announcement(1, zero, 10))
	o.Enqueue(announcement(2, zero, 10))
	o.Enqueue(announcement(3, bandVector(2), 10))

	if o.ActiveNiches() != 3 {
		t.Fatalf("active niches = %d, want 3", o.ActiveNiches())
	}
}

func TestDuplicateSegmentIDBlocks(t *testing.T) {
	rec := &recorder{}
	o, clock := newTestOrchestrator(0.5, rec)

	// Silent vectors so only the id check can block.
	zero := make([]float64, model.BarkBands)
	o.Enqueue(announcement(7, zero, 5))
	o.Enqueue(announcement(7, zero, 5))

	if got := rec.order(); len(got) != 1 {
		t.Fatalf("emitted = %v, want a single emission while active", got)
	}

	clock.Advance(6 * time.Second)
	o.Tick()
	if got := rec.order(); len(got) != 2 {
		t.Fatalf("emitted = %v, want re-emission after expiry", got)
	}
}

func TestCallbackFailureStillRegistersNiche(t *testing.T) {
	rec := &recorder{fail: true}
	o, _ := newTestOrchestrator(0.5, rec)

	o.Enqueue(announcement(1, bandVector(4), 10))

	if o.ActiveNiches() != 1 {
		t.Fatal("failed delivery must still occupy the niche")
	}
	// The conflicting follower stays queued behind the occupied niche.
	o.Enqueue(announcement(2, bandVector(4), 10))
	if o.Queued() != 1 {
		t.Fatalf("queued = %d, want 1", o.Queued())
	}
}

func TestZeroDurationExpiresNextTick(t *testing.T) {
	rec := &recorder{}
	o, clock := newTestOrchestrator(0.5, rec)

	o.Enqueue(announcement(1, bandVector(1), 0))
	if got := rec.order(); len(got) != 1 {
		t.Fatalf("emitted = %v, want [1]", got)
	}

	clock.Advance(time.Millisecond)
	o.Tick()
	if o.ActiveNiches() != 0 {
		t.Fatal("zero-duration niche survived a tick")
	}
}

func TestConcurrentEnqueueKeepsDeliveryOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int64
	started := make(chan struct{})
	release := make(chan struct{})

	// The first delivery stalls, modeling an in-flight send, while a
	// second enqueue arrives on another goroutine.
	o := New(0.5, func(ann model.Announcement) error {
		if ann.SegmentID == 1 {
			close(started)
			<-release
		}
		mu.Lock()
		order = append(order, ann.SegmentID)
		mu.Unlock()
		return nil
	}, nil)
	o.SetClock(newFakeClock().Now)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.Enqueue(announcement(1, bandVector(0), 10))
	}()
	<-started
	go func() {
		defer wg.Done()
		o.Enqueue(announcement(2, bandVector(20), 10))
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("delivery order = %v, want [1 2]", order)
	}
}

func TestCounters(t *testing.T) {
	rec := &recorder{}
	o, clock := newTestOrchestrator(0.5, rec)

	o.Enqueue(announcement(1, bandVector(0), 1))
	o.Enqueue(announcement(2, bandVector(12), 1))
	clock.Advance(2 * time.Second)
	o.Tick()

	emitted, expired := o.Counters()
	if emitted != 2 || expired != 2 {
		t.Fatalf("counters = (%d, %d), want (2, 2)", emitted, expired)
	}
}

func TestExpireCallback(t *testing.T) {
	var mu sync.Mutex
	var gone []int64
	rec := &recorder{}
	clock := newFakeClock()
	o := New(0.5, rec.emit, func(id int64) {
		mu.Lock()
		gone = append(gone, id)
		mu.Unlock()
	})
	o.SetClock(clock.Now)

	o.Enqueue(announcement(9, bandVector(8), 1))
	clock.Advance(2 * time.Second)
	o.Tick()

	mu.Lock()
	defer mu.Unlock()
	if len(gone) != 1 || gone[0] != 9 {
		t.Fatalf("expired = %v, want [9]", gone)
	}
}
