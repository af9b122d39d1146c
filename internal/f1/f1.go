// Package f1 implements the F1 Generator (spec.md §4.5): it derives Table 1
// deterministically from a plot identifier's ChaCha8 keystream, partitions
// the x-range of every bucket across a thread pool, and writes the packed
// (x, y) entries for each bucket through a bucketwriter.Writer.
//
// There is no teacher analog; this is grounded on original_source's
// DiskF1.h (GenF1: the per-bucket, per-thread keystream-then-distribute
// loop, the paired-write-then-barrier protocol for the first two entries of
// each bucket) reimplemented over goroutines and this repo's own
// internal/barrier instead of a bespoke MTJob/AnonPrefixSumJob framework.
package f1

import (
	"sync"

	"golang.org/x/sync/errgroup"

	plotdiskerrors "github.com/harold-b/bladebit/errors"
	"github.com/harold-b/bladebit/internal/barrier"
	"github.com/harold-b/bladebit/internal/bitio"
	ibits "github.com/harold-b/bladebit/internal/bits"
	"github.com/harold-b/bladebit/internal/bucketwriter"
	"github.com/harold-b/bladebit/internal/chacha8"
	"github.com/harold-b/bladebit/internal/prefixsum"
)

// Constants bit-exact per spec.md §6.
const (
	ExtraBits     = 6
	BlockSize     = chacha8.BlockSize // 64 bytes
	BlockSizeBits = BlockSize * 8     // 512
)

// Config carries the parameters one F1 generation run needs.
type Config struct {
	K           int
	NumBuckets  int
	ThreadCount int
	PlotId      [32]byte
}

// key derives the ChaCha8 key for this plot: 0x01 followed by the first 31
// bytes of plotId (original_source/DiskF1.h: "key[0] = 1;
// memcpy(key+1, plotId, BB_PLOT_ID_LEN-1)" — the final plotId byte is not
// part of the key).
func (c Config) key() [32]byte {
	var k [32]byte
	k[0] = 1
	copy(k[1:], c.PlotId[:31])
	return k
}

// Generate runs the F1 generator end to end, writing every bucket's packed
// entries through w, and returns the final per-bucket entry counts
// (spec.md §8 property 3: sums to 2^k after table 1).
func Generate(cfg Config, w *bucketwriter.Writer) ([]uint64, error) {
	if cfg.ThreadCount <= 0 || cfg.NumBuckets <= 0 || !ibits.IsPowerOfTwo(uint32(cfg.NumBuckets)) {
		return nil, plotdiskerrors.ErrInvalidThreadCount
	}

	k := uint32(cfg.K)
	yBits := k + ExtraBits
	entrySizeBits := uint64(yBits) + uint64(k)
	bucketBitShift := k - ibits.Log2(uint32(cfg.NumBuckets))
	yMask := (uint64(1) << yBits) - 1
	kMinusExtra := k - ExtraBits

	entriesPerBucket := ibits.CDiv(int64(1)<<k, int64(cfg.NumBuckets))

	bucketCounts := make([]uint64, cfg.NumBuckets)

	bar := barrier.New(cfg.ThreadCount)

	// Shared, barrier-protected per-round state. perThreadCounts[t][b] is
	// written only by thread t before the first SyncThreads of a round and
	// read by every thread only after that rendezvous, so no further
	// locking is needed around it.
	perThreadCounts := make([][]uint64, cfg.ThreadCount)
	for t := range perThreadCounts {
		perThreadCounts[t] = make([]uint64, cfg.NumBuckets)
	}
	var roundResult prefixsum.Result

	var (
		mu              sync.Mutex
		tableEntryCount = int64(1) << k
		nextX           int64
		firstErr        error
	)
	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	var g errgroup.Group
	for t := 0; t < cfg.ThreadCount; t++ {
		id := t
		g.Go(func() error {
			isControl := id == 0

			ctx := chacha8.NewCtx(cfg.key())
			var blocks []byte
			var entries []uint64

			for bucket := 0; bucket < cfg.NumBuckets && firstErrOrNil(&mu, &firstErr) == nil; bucket++ {
				mu.Lock()
				bucketEntryCount := entriesPerBucket
				if tableEntryCount < bucketEntryCount {
					bucketEntryCount = tableEntryCount
				}
				entriesThisThread := bucketEntryCount / int64(cfg.ThreadCount)
				x := nextX + entriesThisThread*int64(id)
				if id == cfg.ThreadCount-1 {
					entriesThisThread = bucketEntryCount - entriesThisThread*int64(cfg.ThreadCount-1)
				}
				mu.Unlock()

				// The keystream is read as consecutive k-bit big-endian
				// values; x's value starts at bit x*k.
				startBit := uint64(x) * uint64(k)
				chachaBlock := startBit / uint64(BlockSizeBits)
				endBit := startBit + uint64(entriesThisThread)*uint64(k)
				blockCount := ibits.CDivU64(endBit, uint64(BlockSizeBits)) - chachaBlock
				if blockCount == 0 {
					blockCount = 1
				}
				need := blockCount * BlockSize
				if uint64(len(blocks)) < need {
					blocks = make([]byte, need)
				}
				ctx.Keystream(chachaBlock, blockCount, blocks)

				if int64(len(entries)) < entriesThisThread {
					entries = make([]uint64, entriesThisThread)
				}

				counts := perThreadCounts[id]
				for b := range counts {
					counts[b] = 0
				}
				rawY := make([]uint32, entriesThisThread)
				kr := bitio.NewReader(blocks, startBit-chachaBlock*uint64(BlockSizeBits))
				for i := int64(0); i < entriesThisThread; i++ {
					v := uint32(kr.Read(int(k)))
					rawY[i] = v
					counts[v>>bucketBitShift]++
				}

				// Rendezvous: every thread's counts for this bucket are now
				// visible to the control thread.
				gen := bar.SyncThreads()

				if isControl {
					bar.LockThreads()
					roundResult = prefixsum.Compute(perThreadCounts, cfg.NumBuckets)
					for b := 0; b < cfg.NumBuckets; b++ {
						bucketCounts[b] += roundResult.BucketCounts[b]
					}
					bitSizes := make([]uint64, cfg.NumBuckets)
					for b := 0; b < cfg.NumBuckets; b++ {
						bitSizes[b] = roundResult.BucketCounts[b] * entrySizeBits
					}
					if err := w.BeginWriteBuckets(bitSizes); err != nil {
						setErr(err)
					}
					bar.ReleaseThreads()
				} else {
					bar.WaitForRelease(gen)
				}
				if err := firstErrOrNil(&mu, &firstErr); err != nil {
					return err
				}

				// Pack this thread's entries into its own scratch buffer,
				// grouped by bucket (local running sum, independent of the
				// global destination offsets just computed).
				localStart := make([]uint64, cfg.NumBuckets)
				var run uint64
				for b := 0; b < cfg.NumBuckets; b++ {
					localStart[b] = run
					run += counts[b]
				}
				cursor := append([]uint64(nil), localStart...)
				for i := int64(0); i < entriesThisThread; i++ {
					y := uint64(rawY[i])
					b := y >> bucketBitShift
					xi := uint64(x) + uint64(i)
					yPacked := ((y << ExtraBits) | (xi >> kMinusExtra)) & yMask
					idx := cursor[b]
					cursor[b]++
					entries[idx] = (xi << yBits) | yPacked
				}

				// Every thread must call bar.SyncThreads() exactly once per
				// bucket regardless of whether it has any entries in that
				// bucket this round — a conditional call here would desync
				// the barrier's arrival count across goroutines. The first
				// two entries of a bucket are written before the
				// rendezvous, the remainder after, per spec.md §4.5 step 6.
				globalOffset := roundResult.Offset[id]
				for b := 0; b < cfg.NumBuckets; b++ {
					cnt := counts[b]
					start := localStart[b]
					if cnt > 0 {
						cw := w.GetWriter(b, globalOffset[b]*entrySizeBits)
						n := cnt
						if n > 2 {
							n = 2
						}
						for i := uint64(0); i < n; i++ {
							cw.Write(entries[start+i], int(entrySizeBits))
						}
					}

					bar.SyncThreads()

					if cnt > 2 {
						cw := w.GetWriter(b, (globalOffset[b]+2)*entrySizeBits)
						for i := start + 2; i < start+cnt; i++ {
							cw.Write(entries[i], int(entrySizeBits))
						}
					}
				}

				bar.SyncThreads()
				if isControl {
					w.Submit()
					mu.Lock()
					tableEntryCount -= bucketEntryCount
					nextX += bucketEntryCount
					mu.Unlock()
				}
				bar.SyncThreads()
			}

			if isControl && firstErrOrNil(&mu, &firstErr) == nil {
				w.SubmitLeftOvers()
			}
			return firstErrOrNil(&mu, &firstErr)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bucketCounts, nil
}

func firstErrOrNil(mu *sync.Mutex, errp *error) error {
	mu.Lock()
	defer mu.Unlock()
	return *errp
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
