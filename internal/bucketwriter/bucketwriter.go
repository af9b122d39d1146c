// Package bucketwriter implements the Bit-Bucket Writer (spec.md §4.4): it
// streams variable-bit-width entries, concatenated without byte alignment,
// into per-bucket byte regions carved out of one heap allocation, then hands
// the filled regions to the Disk Buffer Queue as a single WriteBuckets
// batch.
//
// There is no teacher analog (tamirms/streamhash never packs entries
// narrower than a byte); this is grounded on original_source's
// DiskF1.h/DiskFp.h's begin_write_buckets/get_writer/submit call shape,
// rebuilt on top of this repo's own internal/bitio and internal/heap rather
// than a single giant pointer-arithmetic arena.
package bucketwriter

import (
	ibits "github.com/harold-b/bladebit/internal/bits"
	"github.com/harold-b/bladebit/internal/bitio"
	"github.com/harold-b/bladebit/internal/heap"
	"github.com/harold-b/bladebit/internal/ioqueue"
)

// Writer stages one round of per-bucket entries in a single heap allocation
// and submits them to the Disk Buffer Queue as a block-aligned WriteBuckets
// batch.
type Writer struct {
	q          *ioqueue.DiskBufferQueue
	h          *heap.Heap
	numBuckets int
	blockSize  int64

	fileId ioqueue.FileId
	buf    heap.Buffer
	bytes  []byte

	bucketBase []uint64 // byte offset of each bucket's region within bytes
	byteSize   []uint64 // block-aligned byte size reserved for each bucket
	trueBytes  []uint64 // true (unpadded) payload byte length per bucket
}

// New returns a Writer that submits to fileId through q, sourcing its
// staging buffer from h.
func New(q *ioqueue.DiskBufferQueue, h *heap.Heap, fileId ioqueue.FileId, numBuckets int, blockSize int64) *Writer {
	return &Writer{q: q, h: h, fileId: fileId, numBuckets: numBuckets, blockSize: blockSize}
}

// BeginWriteBuckets reserves a heap buffer sized to hold every bucket's
// bitSizes[b] bits, each bucket's region padded up to a blockSize multiple,
// and returns cursors are obtained afterwards via GetWriter.
func (w *Writer) BeginWriteBuckets(bitSizes []uint64) error {
	if len(bitSizes) != w.numBuckets {
		panic("bucketwriter: bitSizes length must equal numBuckets")
	}

	w.byteSize = make([]uint64, w.numBuckets)
	w.trueBytes = make([]uint64, w.numBuckets)
	w.bucketBase = make([]uint64, w.numBuckets)

	var total uint64
	for b, bits := range bitSizes {
		trueBytes := ibits.RoundUpBytes(bits)
		aligned := trueBytes
		if w.blockSize > 1 {
			aligned = ibits.RoundUpToBoundary(trueBytes, uint64(w.blockSize))
		}
		w.trueBytes[b] = trueBytes
		w.byteSize[b] = aligned
		w.bucketBase[b] = total
		total += aligned
	}

	buf, err := w.h.Alloc(int64(total), w.blockSize)
	if err != nil {
		return err
	}
	w.buf = buf
	w.bytes = w.h.Bytes(buf)
	// Zero the tail of every bucket's region up front, since entries are
	// written with |= and never clear bits themselves; this guarantees the
	// block-alignment padding spec.md §8 property 7 requires is zero.
	for i := range w.bytes {
		w.bytes[i] = 0
	}
	return nil
}

// GetWriter returns a cursor positioned at bit bitOffset inside bucket's
// region. Concurrent cursors for the same bucket are only safe over
// disjoint bit ranges; see spec.md §4.5 step 6 for the paired-write-then-
// barrier protocol used where two cursors might otherwise share a byte.
func (w *Writer) GetWriter(bucket int, bitOffset uint64) *bitio.Writer {
	base := w.bucketBase[bucket]
	region := w.bytes[base : base+w.byteSize[bucket]]
	return bitio.NewWriter(region, bitOffset)
}

// TrueByteLengths returns, per bucket, the unpadded payload length in bytes
// reserved by the most recent BeginWriteBuckets — the sidecar metadata a
// reader needs to know how many trailing pad bits to discard.
func (w *Writer) TrueByteLengths() []uint64 {
	return w.trueBytes
}

// Submit hands the filled buffer to the Disk Buffer Queue as one
// WriteBuckets batch, then releases it back to the heap once that command
// retires.
func (w *Writer) Submit() {
	sizes := make([]int64, w.numBuckets)
	for b, s := range w.byteSize {
		sizes[b] = int64(s)
	}
	buf, data := w.buf, w.bytes
	w.q.WriteBuckets(w.fileId, data, sizes)
	w.q.ReleaseBuffer(func() { w.h.Release(buf) })
}

// SubmitLeftOvers finalizes the round in progress: it is functionally
// Submit, named distinctly because it is the call a producer makes after
// the last bucket of a pass has been filled (spec.md §4.4), as opposed to a
// mid-pass flush. Since BeginWriteBuckets always reserves a fully
// block-aligned region for every bucket up front, there is no additional
// sub-block tail to special-case here — the tail is already the zero-padded
// remainder of the bucket's own region.
func (w *Writer) SubmitLeftOvers() {
	w.Submit()
}
