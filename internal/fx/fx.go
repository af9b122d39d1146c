// Package fx implements the Fx Pipeline (spec.md §4.6): for each table
// transition N -> N+1, it reads table N's bucketed entries back off disk,
// sorts them by y, finds every kBC-matched pair, derives table N+1's
// (y, metaA, metaB) via BLAKE3, and redistributes the results into table
// N+1's buckets through a bucketwriter.Writer — while also emitting the
// matched-pair stream table N's entries produced.
//
// There is no teacher analog (tamirms/streamhash never forward-propagates
// matched records across tables); this is grounded on original_source's
// FxGenBucketized.cpp for the per-bucket job shape, ComputeFxForTable for
// the BLAKE3 input/output bit layout (generalized over the metadata
// multiplier — see compute.go), and PlotValidator.cpp's FxMatch for the
// kBC grouping rule (see match.go, ltargets.go). The cross-thread
// histogram/prefix-sum/bucketwriter handoff reuses internal/f1's
// control-thread-election shape over internal/barrier.
package fx

import (
	"sync"

	"golang.org/x/sync/errgroup"

	plotdiskerrors "github.com/harold-b/bladebit/errors"
	"github.com/harold-b/bladebit/internal/barrier"
	ibits "github.com/harold-b/bladebit/internal/bits"
	"github.com/harold-b/bladebit/internal/bitio"
	"github.com/harold-b/bladebit/internal/bucketwriter"
	"github.com/harold-b/bladebit/internal/ioqueue"
	"github.com/harold-b/bladebit/internal/prefixsum"
)

// Config carries the parameters one table-to-table Fx pass needs.
type Config struct {
	K           int
	NumBuckets  int
	ThreadCount int
	TableN      int // producing table TableN; reads table TableN-1. 2..7.

	// CombinedXY is true only for the table1 -> table2 pass: table 1's
	// bucket files store (x, y) packed into one entry (internal/f1) rather
	// than a separate y stream plus a metaA stream.
	CombinedXY bool
}

// Streams names the bucketed file IDs a pass reads from and writes to.
type Streams struct {
	ReadY, ReadMetaA, ReadMetaB    ioqueue.FileId
	WriteY, WriteMetaA, WriteMetaB ioqueue.FileId
	Pairs                          ioqueue.FileId
}

type matchedInput struct {
	y            uint64
	metaL, metaR metaValue
}

// Run executes one table-to-table pass. q is shared with every writer;
// wY/wMetaA/wMetaB are bucketwriter.Writers already constructed against
// streams.WriteY/WriteMetaA/WriteMetaB (wMetaA/wMetaB are nil when the
// produced table has no metadata, i.e. TableN == 7). oldBucketCounts is
// table TableN-1's per-bucket entry count, as returned by the previous
// pass (or by internal/f1.Generate for TableN == 2).
func Run(cfg Config, q *ioqueue.DiskBufferQueue, streams Streams, wY, wMetaA, wMetaB *bucketwriter.Writer, oldBucketCounts []uint64) ([]uint64, error) {
	if cfg.ThreadCount <= 0 || cfg.NumBuckets <= 0 || !ibits.IsPowerOfTwo(uint32(cfg.NumBuckets)) {
		return nil, plotdiskerrors.ErrInvalidThreadCount
	}
	if cfg.TableN < 2 || cfg.TableN > 7 {
		return nil, plotdiskerrors.ErrInvalidTableId
	}

	k := cfg.K
	ySize := k + ExtraBits
	mIn := MetaMultiplier[cfg.TableN-1]
	mOut := MetaMultiplier[cfg.TableN]

	// fullYBits is the width computeFx hands back (used to pick the
	// destination bucket); storedYBits is the width actually written to
	// that bucket's Y stream. For tables 2..6 the top log2(numBuckets) bits
	// of the full value select the bucket and are then implicit in which
	// bucket file the entry lives in, so only the remaining low bits are
	// written (original_source's FxGenBucketized.cpp splits these into
	// yOut/bucketOut the same way). Table 7 has no extra-bits margin to
	// spare for this: its bucket-selecting bits are themselves proof-value
	// bits, so nothing is stripped.
	logBuckets := int(ibits.Log2(uint32(cfg.NumBuckets)))
	fullYBits := ySize
	storedYBits := ySize - logBuckets
	if cfg.TableN == 7 {
		fullYBits = k
		storedYBits = k
	}
	metaAOutBits, metaBOutBits := metaWidths(mOut, k)

	newCounts := make([]uint64, cfg.NumBuckets)
	bar := barrier.New(cfg.ThreadCount)

	perThreadCounts := make([][]uint64, cfg.ThreadCount)
	for t := range perThreadCounts {
		perThreadCounts[t] = make([]uint64, cfg.NumBuckets)
	}
	var roundResult prefixsum.Result

	// Shared, control-thread-built per-round state. Written only by the
	// control thread before the round's first SyncThreads, read by every
	// thread only after that rendezvous.
	var matched []matchedInput

	var mu sync.Mutex
	var firstErr error
	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	hasErr := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}
	getErr := func() error {
		mu.Lock()
		defer mu.Unlock()
		return firstErr
	}

	var g errgroup.Group
	for t := 0; t < cfg.ThreadCount; t++ {
		id := t
		g.Go(func() error {
			isControl := id == 0

			for b := 0; b < cfg.NumBuckets && !hasErr(); b++ {
				if isControl {
					ms, err := readAndMatch(cfg, streams, q, b, oldBucketCounts[b], mIn, k)
					if err != nil {
						setErr(err)
					}
					matched = ms
				}

				bar.SyncThreads()
				if err := getErr(); err != nil {
					return err
				}

				lo, hi := split(len(matched), cfg.ThreadCount, id)
				local := make([]fxResult, 0, hi-lo)
				localCounts := perThreadCounts[id]
				for i := range localCounts {
					localCounts[i] = 0
				}
				for i := lo; i < hi; i++ {
					m := matched[i]
					res := computeFx(k, m.y, m.metaL, m.metaR, mIn, mOut)
					local = append(local, res)
					localCounts[ibits.BucketOf(res.y, uint32(fullYBits), uint32(cfg.NumBuckets))]++
				}
				gen2 := bar.SyncThreads()

				if isControl {
					bar.LockThreads()
					roundResult = prefixsum.Compute(perThreadCounts, cfg.NumBuckets)
					for bk := 0; bk < cfg.NumBuckets; bk++ {
						newCounts[bk] += roundResult.BucketCounts[bk]
					}
					if err := beginRoundWrites(wY, wMetaA, wMetaB, roundResult, storedYBits, metaAOutBits, metaBOutBits); err != nil {
						setErr(err)
					}
					bar.ReleaseThreads()
				} else {
					bar.WaitForRelease(gen2)
				}
				if err := getErr(); err != nil {
					return err
				}

				writeThreadResults(wY, wMetaA, wMetaB, bar, roundResult.Offset[id], local, fullYBits, storedYBits, metaAOutBits, metaBOutBits)

				bar.SyncThreads()
				if isControl {
					wY.Submit()
					if wMetaA != nil {
						wMetaA.Submit()
					}
					if wMetaB != nil {
						wMetaB.Submit()
					}
				}
				bar.SyncThreads()
			}

			if isControl && !hasErr() {
				wY.SubmitLeftOvers()
				if wMetaA != nil {
					wMetaA.SubmitLeftOvers()
				}
				if wMetaB != nil {
					wMetaB.SubmitLeftOvers()
				}
			}
			return getErr()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return newCounts, nil
}

// split divides n items evenly across threadCount workers, handing the
// remainder to the last worker — the same partitioning rule internal/f1
// uses for its per-bucket x-range split.
func split(n, threadCount, id int) (lo, hi int) {
	per := n / threadCount
	lo = per * id
	hi = lo + per
	if id == threadCount-1 {
		hi = n
	}
	return lo, hi
}

// readAndMatch reads old bucket b's entries, sorts them by y, matches
// them, writes this bucket's pair stream, and gathers the metaL/metaR
// inputs every matched pair needs for computeFx. Runs on the control
// thread only, once per round, before the parallel fx-compute fan-out —
// sort and match are index/pointer bookkeeping dominated in cost by the
// BLAKE3 hashing that follows, so this repo does not also data-parallelize
// them the way the original's per-thread histogram-then-merge scheme does.
func readAndMatch(cfg Config, streams Streams, q *ioqueue.DiskBufferQueue, bucket int, n uint64, mIn, k int) ([]matchedInput, error) {
	if n == 0 {
		return nil, nil
	}
	ySize := k + ExtraBits

	ys := make([]uint64, n)
	metaA := make([]uint64, n)
	metaB := make([]uint64, n)

	if cfg.CombinedXY {
		entryBits := ySize + k
		buf := make([]byte, (n*uint64(entryBits)+7)/8)
		if _, err := q.ReadFile(streams.ReadY, bucket, buf); err != nil {
			return nil, err
		}
		r := bitio.NewReader(buf, 0)
		yMask := (uint64(1) << uint(ySize)) - 1
		for i := uint64(0); i < n; i++ {
			entry := r.Read(entryBits)
			ys[i] = entry & yMask
			metaA[i] = entry >> uint(ySize)
		}
	} else {
		// Table 1 (the CombinedXY case above) stores the full, unstripped
		// y; every later table's Y stream was written with its top
		// log2(numBuckets) bits stripped off (see Run), so the bucket this
		// entry came from must be OR'd back in to recover the full value
		// before it can be hashed or matched against.
		logBuckets := int(ibits.Log2(uint32(cfg.NumBuckets)))
		storedBits := ySize - logBuckets
		buf := make([]byte, (n*uint64(storedBits)+7)/8)
		if _, err := q.ReadFile(streams.ReadY, bucket, buf); err != nil {
			return nil, err
		}
		r := bitio.NewReader(buf, 0)
		bucketHigh := uint64(bucket) << uint(storedBits)
		for i := uint64(0); i < n; i++ {
			ys[i] = bucketHigh | r.Read(storedBits)
		}

		aBits, bBits := metaWidths(mIn, k)
		if aBits > 0 {
			abuf := make([]byte, (n*uint64(aBits)+7)/8)
			if _, err := q.ReadFile(streams.ReadMetaA, bucket, abuf); err != nil {
				return nil, err
			}
			ar := bitio.NewReader(abuf, 0)
			for i := uint64(0); i < n; i++ {
				metaA[i] = ar.Read(aBits)
			}
		}
		if bBits > 0 {
			bbuf := make([]byte, (n*uint64(bBits)+7)/8)
			if _, err := q.ReadFile(streams.ReadMetaB, bucket, bbuf); err != nil {
				return nil, err
			}
			br := bitio.NewReader(bbuf, 0)
			for i := uint64(0); i < n; i++ {
				metaB[i] = br.Read(bBits)
			}
		}
	}

	perm := SortByY(ys, ySize)
	sortedY := make([]uint64, n)
	for i, p := range perm {
		sortedY[i] = ys[p]
	}

	pairs := Match(sortedY)

	aBitsIn, bBitsIn := metaWidths(mIn, k)
	matched := make([]matchedInput, len(pairs))
	pairBuf := make([]byte, (len(pairs)*64+7)/8) // left(32) + delta(32) per pair
	pw := bitio.NewWriter(pairBuf, 0)
	for i, p := range pairs {
		leftIdx := perm[p.Left]
		rightIdx := perm[p.Left+p.Delta]
		matched[i] = matchedInput{
			y: sortedY[p.Left],
			metaL: metaValue{a: metaA[leftIdx], b: metaB[leftIdx], aBits: aBitsIn, bBits: bBitsIn},
			metaR: metaValue{a: metaA[rightIdx], b: metaB[rightIdx], aBits: aBitsIn, bBits: bBitsIn},
		}
		pw.Write(uint64(p.Left), 32)
		pw.Write(uint64(p.Delta), 32)
	}
	if len(pairs) > 0 {
		q.WriteFile(streams.Pairs, 0, pairBuf)
	}

	return matched, nil
}

func beginRoundWrites(wY, wMetaA, wMetaB *bucketwriter.Writer, res prefixsum.Result, yBits, aBits, bBits int) error {
	ySizes := make([]uint64, len(res.BucketCounts))
	for b, c := range res.BucketCounts {
		ySizes[b] = c * uint64(yBits)
	}
	if err := wY.BeginWriteBuckets(ySizes); err != nil {
		return err
	}
	if wMetaA != nil && aBits > 0 {
		aSizes := make([]uint64, len(res.BucketCounts))
		for b, c := range res.BucketCounts {
			aSizes[b] = c * uint64(aBits)
		}
		if err := wMetaA.BeginWriteBuckets(aSizes); err != nil {
			return err
		}
	}
	if wMetaB != nil && bBits > 0 {
		bSizes := make([]uint64, len(res.BucketCounts))
		for b, c := range res.BucketCounts {
			bSizes[b] = c * uint64(bBits)
		}
		if err := wMetaB.BeginWriteBuckets(bSizes); err != nil {
			return err
		}
	}
	return nil
}

// writeThreadResults writes this thread's slice of computed results into
// every destination bucket's region, using the same paired
// write-first-two-then-barrier-then-race protocol as internal/f1 (every
// thread calls bar.SyncThreads() exactly once per destination bucket,
// unconditionally, so the barrier's arrival count never desyncs across
// goroutines with differing per-bucket counts). fullYBits is the width of
// r.y as computeFx produced it (used only to pick the destination bucket);
// storedYBits is the narrower width actually written to disk, with the
// bucket-selecting high bits stripped off (see Run).
func writeThreadResults(wY, wMetaA, wMetaB *bucketwriter.Writer, bar *barrier.Barrier, globalOffset []uint64, local []fxResult, fullYBits, storedYBits, aBits, bBits int) {
	numBuckets := len(globalOffset)

	localStart := make([]uint64, numBuckets)
	localCount := make([]uint64, numBuckets)
	for _, r := range local {
		localCount[bucketOfY(r.y, fullYBits, numBuckets)]++
	}
	var run uint64
	for b := 0; b < numBuckets; b++ {
		localStart[b] = run
		run += localCount[b]
	}
	cursor := append([]uint64(nil), localStart...)
	ordered := make([]fxResult, len(local))
	for _, r := range local {
		b := bucketOfY(r.y, fullYBits, numBuckets)
		ordered[cursor[b]] = r
		cursor[b]++
	}

	for b := 0; b < numBuckets; b++ {
		cnt := localCount[b]
		start := localStart[b]
		off := globalOffset[b]

		if cnt > 0 {
			n := cnt
			if n > 2 {
				n = 2
			}
			writeEntries(wY, wMetaA, wMetaB, b, off, ordered[start:start+n], storedYBits, aBits, bBits)
		}

		bar.SyncThreads()

		if cnt > 2 {
			writeEntries(wY, wMetaA, wMetaB, b, off+2, ordered[start+2:start+cnt], storedYBits, aBits, bBits)
		}
	}
}

func bucketOfY(y uint64, yBits, numBuckets int) int {
	return int(ibits.BucketOf(y, uint32(yBits), uint32(numBuckets)))
}

// writeEntries writes results into bucket's region starting at startOffset.
// yBits here is the stored width (see writeThreadResults); r.y is masked
// down to it, dropping the bucket-selecting high bits that are already
// implicit in which bucket file this is.
func writeEntries(wY, wMetaA, wMetaB *bucketwriter.Writer, bucket int, startOffset uint64, results []fxResult, yBits, aBits, bBits int) {
	yw := wY.GetWriter(bucket, startOffset*uint64(yBits))
	var aw, bw *bitio.Writer
	if wMetaA != nil && aBits > 0 {
		aw = wMetaA.GetWriter(bucket, startOffset*uint64(aBits))
	}
	if wMetaB != nil && bBits > 0 {
		bw = wMetaB.GetWriter(bucket, startOffset*uint64(bBits))
	}
	yMask := (uint64(1) << uint(yBits)) - 1
	for _, r := range results {
		yw.Write(r.y&yMask, yBits)
		if aw != nil {
			aw.Write(r.metaA, aBits)
		}
		if bw != nil {
			bw.Write(r.metaB, bBits)
		}
	}
}
