// Package barrier implements the reusable thread-rendezvous primitives
// described in spec.md §9: a plain all-arrive barrier (SyncThreads), and a
// distinguished-control-thread critical section (LockThreads/ReleaseThreads)
// that the other participants wait out via WaitForRelease. The teacher
// coordinates its parallel block builders with channels and an errgroup
// (builder_parallel.go); the F1 generator and Fx pipeline need a tighter,
// lower-latency rendezvous that happens many times per bucket, so this is a
// small condition-variable barrier instead, generalized from the same
// "control goroutine does the shared bookkeeping, workers wait" shape.
package barrier

import "sync"

// Barrier coordinates n participants through repeated rendezvous points.
// It is safe to reuse across many rounds; each round is a new "generation".
type Barrier struct {
	n          int
	mu         sync.Mutex
	cond       *sync.Cond
	arrived    int
	generation uint64
}

// New returns a Barrier for exactly n participants.
func New(n int) *Barrier {
	b := &Barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// SyncThreads blocks the caller until all n participants have called it for
// this round, then releases all of them together. Used for the "write first
// two entries, then let every thread race on the rest" protocol of spec.md
// §4.5 and §4.6.
//
// It returns the round's generation number. A caller about to follow the
// rendezvous with a LockThreads/ReleaseThreads critical section (control
// thread) or a WaitForRelease wait (everyone else) must pass this value to
// WaitForRelease — capturing the generation anywhere other than under this
// same locked read reopens a missed-wakeup race against ReleaseThreads.
func (b *Barrier) SyncThreads() uint64 {
	b.mu.Lock()
	gen := b.generation
	b.arrived++
	if b.arrived == b.n {
		b.arrived = 0
		b.generation++
		b.cond.Broadcast()
	} else {
		for gen == b.generation {
			b.cond.Wait()
		}
	}
	// gen+1 is the generation this rendezvous advanced to. b.generation
	// itself may already include a control thread's ReleaseThreads that
	// ran before this waiter reacquired the lock.
	result := gen + 1
	b.mu.Unlock()
	return result
}

// LockThreads is called by the elected control thread to begin a critical
// section. Every other participant must already be past its own
// SyncThreads call for this round (i.e. about to call WaitForRelease, or
// already inside it) before this is called.
func (b *Barrier) LockThreads() {
	b.mu.Lock()
}

// ReleaseThreads ends the control thread's critical section, advances the
// generation, and wakes everyone blocked in WaitForRelease.
func (b *Barrier) ReleaseThreads() {
	b.generation++
	b.cond.Broadcast()
	b.mu.Unlock()
}

// WaitForRelease blocks until the barrier's generation has advanced past
// sinceGen — i.e. until the LockThreads/ReleaseThreads critical section
// that started at generation sinceGen has completed. sinceGen must be the
// value returned by this round's SyncThreads call; reading the generation
// any other way (e.g. a separate locked read after SyncThreads returns)
// admits a window where ReleaseThreads could already have fired before
// this call observes the value to wait past, and the broadcast would be
// missed.
func (b *Barrier) WaitForRelease(sinceGen uint64) {
	b.mu.Lock()
	for b.generation == sinceGen {
		b.cond.Wait()
	}
	b.mu.Unlock()
}
