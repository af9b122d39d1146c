package plotdisk

import (
	"io"

	"github.com/zeebo/xxh3"

	plotdiskerrors "github.com/harold-b/bladebit/errors"
	"github.com/harold-b/bladebit/internal/bucketwriter"
	"github.com/harold-b/bladebit/internal/f1"
	"github.com/harold-b/bladebit/internal/fx"
	"github.com/harold-b/bladebit/internal/heap"
	"github.com/harold-b/bladebit/internal/ioqueue"
)

// Pipeline drives one plot's external-memory construction end to end:
// Table 1 via internal/f1, then six internal/fx passes producing Tables
// 2..7, per the linear Init -> F1 -> Pass(T2) -> ... -> Pass(T7) -> Done
// state machine (spec.md §4.7). Each pass's completion is gated by a
// MemoryFence, and the active read/write FileId pair for Y/MetaA/MetaB is
// swapped after every pass so the next one reads what the last one wrote.
type Pipeline struct {
	cfg Config
	q   *ioqueue.DiskBufferQueue
	h   *heap.Heap
	log Logger
	ran bool
}

// queueLogger adapts plotdisk.Logger to internal/ioqueue.Logger. The two
// interfaces are structurally identical, but internal/ioqueue's Logger is
// defined at its own point of use rather than imported here, so this small
// adapter keeps the public Config.Log field from naming an internal type.
type queueLogger struct{ log Logger }

func (l queueLogger) Linef(format string, args ...any) {
	if l.log != nil {
		l.log.Linef(format, args...)
	}
}

// NewPipeline validates cfg, opens the Disk Buffer Queue's temporary file
// set, and allocates the Bounded Work Heap every stage shares. The caller
// must Close the returned Pipeline once done with it, whether or not Run is
// ever called.
func NewPipeline(opts ...Option) (*Pipeline, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	h := heap.New(cfg.HeapSize, make([]byte, cfg.HeapSize))
	q, err := ioqueue.Open(cfg.WorkDir, cfg.NumBuckets, cfg.BlockSize, cfg.UseDirectIO, queueLogger{cfg.Log})
	if err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, q: q, h: h, log: cfg.Log}, nil
}

// Close releases every temporary file handle. Safe to call more than once;
// Run calls it itself once the pipeline finishes or aborts.
func (p *Pipeline) Close() error {
	if p.q == nil {
		return nil
	}
	err := p.q.Close()
	p.q = nil
	return err
}

// Run executes the full Init -> F1 -> Pass(T2) -> ... -> Pass(T7) -> Done
// state machine and returns the resulting Manifest. A Pipeline may only be
// Run once; the Disk Buffer Queue is always closed before Run returns,
// whether it succeeds or fails.
func (p *Pipeline) Run() (*Manifest, error) {
	if p.ran {
		return nil, plotdiskerrors.ErrPipelineAlreadyRun
	}
	p.ran = true
	defer p.Close()

	m := &Manifest{WorkDir: p.cfg.WorkDir}

	p.log.Linef("plotdisk: generating table 1 (k=%d, buckets=%d)", p.cfg.K, p.cfg.NumBuckets)
	counts, err := p.runF1()
	if err != nil {
		return nil, err
	}
	m.BucketCounts[1] = counts

	// Table 1 lands in Y0; table 2's pass reads it and writes Y1/MetaA1, so
	// the read/write pair starts here and swaps after every later pass.
	readY, writeY := ioqueue.Y0, ioqueue.Y1
	readA, writeA := ioqueue.MetaA0, ioqueue.MetaA1
	readB, writeB := ioqueue.MetaB0, ioqueue.MetaB1

	var finalY ioqueue.FileId
	var finalTrueBytes []uint64
	for tableN := 2; tableN <= 7; tableN++ {
		p.log.Linef("plotdisk: computing table %d", tableN)
		streams := fx.Streams{
			ReadY: readY, ReadMetaA: readA, ReadMetaB: readB,
			WriteY: writeY, WriteMetaA: writeA, WriteMetaB: writeB,
			Pairs: ioqueue.PairsFileId(tableN),
		}
		newCounts, matchTotal, trueBytes, err := p.runFx(tableN, tableN == 2, streams, counts)
		if err != nil {
			return nil, err
		}
		m.BucketCounts[tableN] = newCounts

		checksum, err := p.checksumPairs(tableN, matchTotal)
		if err != nil {
			return nil, err
		}
		m.PairsPaths[tableN] = pairsPath(p.cfg.WorkDir, tableN)
		m.PairsChecksums[tableN] = checksum

		counts = newCounts
		finalY = writeY
		finalTrueBytes = trueBytes
		readY, writeY = writeY, readY
		readA, writeA = writeA, readA
		readB, writeB = writeB, readB
	}

	p.log.Linef("plotdisk: linearizing table 7")
	f7Checksum, f7FoldedHash, err := p.linearizeF7(finalY, finalTrueBytes)
	if err != nil {
		return nil, err
	}
	m.F7Path = f7Path(p.cfg.WorkDir)
	m.F7Checksum = f7Checksum
	m.F7FoldedHash = f7FoldedHash

	return m, nil
}

func (p *Pipeline) runF1() ([]uint64, error) {
	w := bucketwriter.New(p.q, p.h, ioqueue.Y0, p.cfg.NumBuckets, p.q.BlockSize())
	cfg := f1.Config{K: p.cfg.K, NumBuckets: p.cfg.NumBuckets, ThreadCount: p.cfg.F1ThreadCount, PlotId: p.cfg.PlotId}
	counts, err := f1.Generate(cfg, w)
	if err != nil {
		return nil, err
	}
	if err := p.q.MemoryFence(); err != nil {
		return nil, err
	}
	return counts, nil
}

// runFx constructs the bucketwriter.Writers a pass needs (wMetaA/wMetaB are
// left nil when the produced table's metadata multiplier gives them zero
// width, per internal/fx.MetaWidths) and runs one internal/fx.Run pass. The
// returned per-bucket byte lengths are wY's own TrueByteLengths, the
// unpadded payload length BeginWriteBuckets reserved for each bucket — the
// only pass that consumes them today is the final one, read back by
// linearizeF7, but every pass computes them the same way.
func (p *Pipeline) runFx(tableN int, combinedXY bool, streams fx.Streams, oldCounts []uint64) ([]uint64, uint64, []uint64, error) {
	mOut := fx.MetaMultiplier[tableN]
	aBits, bBits := fx.MetaWidths(mOut, p.cfg.K)

	wY := bucketwriter.New(p.q, p.h, streams.WriteY, p.cfg.NumBuckets, p.q.BlockSize())
	var wMetaA, wMetaB *bucketwriter.Writer
	if aBits > 0 {
		wMetaA = bucketwriter.New(p.q, p.h, streams.WriteMetaA, p.cfg.NumBuckets, p.q.BlockSize())
	}
	if bBits > 0 {
		wMetaB = bucketwriter.New(p.q, p.h, streams.WriteMetaB, p.cfg.NumBuckets, p.q.BlockSize())
	}

	// The write side was the previous pass's read side, whose reads left each
	// file's cursor where the read ended; this pass's output starts at 0.
	for b := 0; b < p.cfg.NumBuckets; b++ {
		p.q.SeekBucket(streams.WriteY, b, 0, io.SeekStart)
		if wMetaA != nil {
			p.q.SeekBucket(streams.WriteMetaA, b, 0, io.SeekStart)
		}
		if wMetaB != nil {
			p.q.SeekBucket(streams.WriteMetaB, b, 0, io.SeekStart)
		}
	}

	cfg := fx.Config{K: p.cfg.K, NumBuckets: p.cfg.NumBuckets, ThreadCount: p.cfg.ThreadCount, TableN: tableN, CombinedXY: combinedXY}
	newCounts, err := fx.Run(cfg, p.q, streams, wY, wMetaA, wMetaB, oldCounts)
	if err != nil {
		return nil, 0, nil, err
	}
	if err := p.q.MemoryFence(); err != nil {
		return nil, 0, nil, err
	}

	var total uint64
	for _, c := range newCounts {
		total += c
	}
	return newCounts, total, wY.TrueByteLengths(), nil
}

// linearizeF7 concatenates table 7's bucketed y-value stream (written
// through the ordinary wY path every other pass uses — table 7's terminal
// pass is not special-cased in internal/fx, per DESIGN.md's resolution)
// into the single sequential F7 stream the plot finalizer expects (spec.md
// §6). trueBytes names each bucket's exact unpadded payload length, as
// reserved by that pass's bucketwriter.Writer, so bucketwriter.Writer's
// block-alignment padding is never copied into F7.
func (p *Pipeline) linearizeF7(finalY ioqueue.FileId, trueBytes []uint64) (uint64, uint64, error) {
	var all []byte
	var perBucket [][]byte
	for b, n := range trueBytes {
		if n == 0 {
			continue
		}
		buf := make([]byte, n)
		if _, err := p.q.ReadFile(finalY, b, buf); err != nil {
			return 0, 0, err
		}
		p.q.WriteFile(ioqueue.F7, 0, buf)
		all = append(all, buf...)
		perBucket = append(perBucket, buf)
	}
	if err := p.q.MemoryFence(); err != nil {
		return 0, 0, err
	}
	return xxh3.Hash(all), foldHashes(perBucket), nil
}
