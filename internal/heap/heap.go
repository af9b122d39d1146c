// Package heap implements the Bounded Work Heap (spec.md §4.1): a
// contiguous, block-aligned byte arena serving the disk buffer queue's I/O
// buffers. Allocation is first-fit over a free-list; release is two-phase
// (queue, then physically free on CompletePendingReleases) so a producer
// goroutine can hand a buffer to the I/O dispatch thread and return
// immediately, without the dispatch thread's eventual free contending with
// the producer's next allocation.
//
// There is no heap allocator of this shape anywhere in the example pack
// (the closest analog, internal/ptrhash's bucketHeap, is an unrelated
// priority heap over bucket sizes); this is grounded instead on the
// teacher's own pre-allocate-then-subdivide discipline for I/O buffers
// (indexWriter's upfront region sizing, unsortedBuffer's single mmap'd
// extent) generalized into a reusable free-list arena, per DESIGN.md.
package heap

import (
	"sync"

	plotdiskerrors "github.com/harold-b/bladebit/errors"
)

// Buffer is a handle to a live allocation. It carries no pointer into the
// arena directly; callers retrieve the backing slice via Heap.Bytes so that
// a Buffer cannot be dereferenced after the arena has been Reset.
type Buffer struct {
	offset int64
	size   int64
}

// Size returns the number of bytes requested by Alloc (not including any
// internal alignment padding).
func (b Buffer) Size() int64 { return b.size }

type span struct {
	offset int64
	size   int64
}

// Heap is a bounded arena with first-fit allocation and deferred release.
type Heap struct {
	mu   sync.Mutex
	cond *sync.Cond

	base []byte
	size int64

	free    []span // sorted by offset, coalesced
	pending []span // released but not yet physically freed
}

// New creates a Heap over buf, using at most size bytes of it.
func New(size int64, buf []byte) *Heap {
	h := &Heap{}
	h.cond = sync.NewCond(&h.mu)
	h.Reset(size, buf)
	return h
}

// Reset discards all tracking and reinitializes the heap with new bounds.
// Any outstanding Buffer handles become invalid.
func (h *Heap) Reset(size int64, buf []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.base = buf
	h.size = size
	h.free = h.free[:0]
	h.pending = h.pending[:0]
	if size > 0 {
		h.free = append(h.free, span{offset: 0, size: size})
		// Best-effort: fault in the arena's pages up front so the first
		// Alloc'd buffer a producer writes into doesn't stall the I/O
		// dispatch goroutine on page faults mid-command.
		prefaultRegion(buf[:size])
	}
}

// Alloc reserves a size-byte, alignment-aligned span. It blocks only if no
// free span can satisfy the request after draining pending releases; it
// returns ErrHeapExhausted immediately if size exceeds the heap's total
// capacity, since no amount of waiting could ever satisfy it (invariant 5:
// the heap never overcommits).
func (h *Heap) Alloc(size, alignment int64) (Buffer, error) {
	if alignment <= 0 {
		alignment = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if size > h.size {
		return Buffer{}, plotdiskerrors.ErrHeapExhausted
	}

	for {
		if off, ok := h.tryAllocLocked(size, alignment); ok {
			return Buffer{offset: off, size: size}, nil
		}
		h.completePendingLocked()
		if off, ok := h.tryAllocLocked(size, alignment); ok {
			return Buffer{offset: off, size: size}, nil
		}
		h.cond.Wait()
	}
}

// tryAllocLocked attempts a first-fit allocation over the current free list.
// Caller must hold h.mu.
func (h *Heap) tryAllocLocked(size, alignment int64) (int64, bool) {
	for i, s := range h.free {
		alignedStart := roundUp(s.offset, alignment)
		end := alignedStart + size
		if end > s.offset+s.size {
			continue
		}

		// Consume this span, keeping any leftover front/back slivers.
		var replacement []span
		if alignedStart > s.offset {
			replacement = append(replacement, span{offset: s.offset, size: alignedStart - s.offset})
		}
		if back := s.offset + s.size - end; back > 0 {
			replacement = append(replacement, span{offset: end, size: back})
		}

		h.free = append(h.free[:i], append(replacement, h.free[i+1:]...)...)
		return alignedStart, true
	}
	return 0, false
}

// Release queues buf for release. It is safe to call from any goroutine.
// The buffer is only physically returned to the free list on the next
// CompletePendingReleases call made by the heap's owner.
func (h *Heap) Release(buf Buffer) {
	h.mu.Lock()
	h.pending = append(h.pending, span{offset: buf.offset, size: buf.size})
	h.mu.Unlock()
	h.cond.Broadcast()
}

// CompletePendingReleases physically returns every queued release to the
// free list, coalescing adjacent spans. Typically called by the I/O
// dispatch thread after it drains a command that consumed the buffer.
func (h *Heap) CompletePendingReleases() {
	h.mu.Lock()
	h.completePendingLocked()
	h.mu.Unlock()
	h.cond.Broadcast()
}

func (h *Heap) completePendingLocked() {
	if len(h.pending) == 0 {
		return
	}
	h.free = append(h.free, h.pending...)
	h.pending = h.pending[:0]
	sortSpans(h.free)
	h.free = coalesce(h.free)
}

// Bytes returns the byte slice backing buf. Valid until the next Reset.
func (h *Heap) Bytes(buf Buffer) []byte {
	return h.base[buf.offset : buf.offset+buf.size]
}

// FreeBytes returns the total number of bytes currently available for
// allocation, not counting buffers queued for release but not yet
// physically freed.
func (h *Heap) FreeBytes() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var total int64
	for _, s := range h.free {
		total += s.size
	}
	return total
}

func roundUp(v, boundary int64) int64 {
	if boundary <= 1 {
		return v
	}
	return (v + boundary - 1) / boundary * boundary
}

func sortSpans(s []span) {
	// Insertion sort: the free list is small (bounded by fragmentation,
	// itself bounded by in-flight command count) so this stays cheap and
	// avoids pulling in sort.Slice's interface overhead on a hot path.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].offset > s[j].offset; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func coalesce(s []span) []span {
	if len(s) == 0 {
		return s
	}
	out := s[:1]
	for _, cur := range s[1:] {
		last := &out[len(out)-1]
		if last.offset+last.size == cur.offset {
			last.size += cur.size
		} else {
			out = append(out, cur)
		}
	}
	return out
}
