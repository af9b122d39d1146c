package plotdisk

import (
	"fmt"
	"os"

	plotdiskerrors "github.com/harold-b/bladebit/errors"
	ibits "github.com/harold-b/bladebit/internal/bits"
)

// minHeapSize is the smallest heap this pipeline will run with: enough to
// stage one full bucket's worth of entries for the widest stream (table 4's
// combined y+metaA+metaB) at the smallest supported NumBuckets, with room
// left over for double-buffering read and write staging simultaneously.
// Below this, Alloc calls inside internal/bucketwriter would block forever
// waiting for a release that can never come.
const minHeapSize = 16 << 20

// Logger is the progress/timing sink the pipeline and its Disk Buffer Queue
// report through (spec.md §7). It is defined here, structurally identical
// to internal/ioqueue.Logger, so a caller's *log.Logger-wrapping type (or
// any other Linef-shaped sink) satisfies both without an adapter.
type Logger interface {
	Linef(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Linef(string, ...any) {}

// stdLogger is the default sink: one line per call to os.Stderr, in the
// same plain fmt.Fprintf style the teacher's own CLI driver logs through.
type stdLogger struct{}

func (stdLogger) Linef(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// Config is the full set of parameters one plot's pipeline run needs.
// NewPipeline assembles it from the defaults and the WithX options below;
// every field has a documented valid range, checked by validate at
// NewPipeline construction time, before any file is opened.
type Config struct {
	// PlotId is the 32-byte plot identifier Table 1's ChaCha8 keystream is
	// derived from (spec.md §6).
	PlotId [32]byte

	// K is the plot size parameter. Valid range 26..50 (spec.md §6); k<26
	// makes kBC matching degenerate, k>50 overflows the 64-bit y encoding
	// used throughout internal/f1 and internal/fx.
	K int

	// NumBuckets is the number of buckets every table's entries are
	// partitioned into. Must be a power of two in {64,128,256,512,1024}
	// (spec.md §6) — the upper bound bounds per-bucket staging memory, the
	// lower bound keeps kBC groups from spanning too few buckets to matter.
	NumBuckets int

	// ThreadCount is the compute-pool size used by every Fx pass (table 2
	// onward). F1ThreadCount is F1's own compute-pool size; the two are
	// independent since F1's per-bucket work (keystream generation) and an
	// Fx pass's per-bucket work (BLAKE3 hashing of matched pairs) scale
	// differently with thread count.
	ThreadCount   int
	F1ThreadCount int

	// WorkDir is the directory every intermediate bucket/pair/f7 file is
	// created in. It must already exist; the pipeline never creates it.
	WorkDir string

	// HeapSize is the total byte size of the Bounded Work Heap (spec.md
	// §4.1) every bucketwriter.Writer and read buffer in this run draws
	// from. Must be at least minHeapSize.
	HeapSize int64

	// UseDirectIO enables O_DIRECT (and its block-aligned write/remainder
	// fixup path) on every temporary file, matching production plotting's
	// I/O pattern (spec.md §4.3). Off by default for ordinary filesystem
	// testing, where O_DIRECT either isn't supported or only adds overhead.
	UseDirectIO bool

	// BlockSize is the Direct-I/O alignment unit, in bytes. Required
	// (validate rejects a non-positive value) when UseDirectIO is set;
	// ignored otherwise. Per spec.md's out-of-scope list, physical
	// block-size autodetection is not performed — the caller supplies it.
	BlockSize int64

	// Log receives progress lines. The default configuration sends them to
	// stderr; a Log set to nil discards them.
	Log Logger
}

// Option mutates a Config under construction. Grounded on the teacher's
// functional-options builder (builder_options.go's BuildOption/WithX
// pattern), generalized from the teacher's single buildConfig receiver to
// this package's Config.
type Option func(*Config)

// WithPlotId sets the plot identifier Table 1's keystream derives from.
func WithPlotId(id [32]byte) Option {
	return func(c *Config) { c.PlotId = id }
}

// WithK sets the plot size parameter.
func WithK(k int) Option {
	return func(c *Config) { c.K = k }
}

// WithNumBuckets sets the bucket count every table is partitioned into.
func WithNumBuckets(n int) Option {
	return func(c *Config) { c.NumBuckets = n }
}

// WithThreadCount sets the Fx compute-pool size (tables 2..7).
func WithThreadCount(n int) Option {
	return func(c *Config) { c.ThreadCount = n }
}

// WithF1ThreadCount sets the F1 compute-pool size (table 1).
func WithF1ThreadCount(n int) Option {
	return func(c *Config) { c.F1ThreadCount = n }
}

// WithWorkDir sets the directory temporary files are created under.
func WithWorkDir(dir string) Option {
	return func(c *Config) { c.WorkDir = dir }
}

// WithHeapSize sets the Bounded Work Heap's total byte size.
func WithHeapSize(size int64) Option {
	return func(c *Config) { c.HeapSize = size }
}

// WithDirectIO enables or disables O_DIRECT and sets its block-alignment
// unit in one call, since the two are only ever meaningful together.
func WithDirectIO(enabled bool, blockSize int64) Option {
	return func(c *Config) {
		c.UseDirectIO = enabled
		c.BlockSize = blockSize
	}
}

// WithLogger overrides the default stderr progress sink.
func WithLogger(log Logger) Option {
	return func(c *Config) { c.Log = log }
}

// defaultConfig returns a Config with every field at a reasonable default
// for ordinary (non-Direct-I/O) local testing, mirroring the teacher's
// defaultBuildConfig.
func defaultConfig() Config {
	return Config{
		K:             32,
		NumBuckets:    256,
		ThreadCount:   4,
		F1ThreadCount: 4,
		HeapSize:      1 << 30,
		Log:           stdLogger{},
	}
}

// validate checks every field's range, per spec.md §7's configuration-error
// class: these are all caught at construction, before any file is opened.
func (c *Config) validate() error {
	if c.K < 26 || c.K > 50 {
		return plotdiskerrors.ErrInvalidK
	}
	if c.NumBuckets <= 0 || !ibits.IsPowerOfTwo(uint32(c.NumBuckets)) {
		return plotdiskerrors.ErrInvalidNumBuckets
	}
	switch c.NumBuckets {
	case 64, 128, 256, 512, 1024:
	default:
		return plotdiskerrors.ErrInvalidNumBuckets
	}
	if c.ThreadCount <= 0 || c.F1ThreadCount <= 0 {
		return plotdiskerrors.ErrInvalidThreadCount
	}
	if c.HeapSize < minHeapSize {
		return plotdiskerrors.ErrHeapTooSmall
	}
	if c.WorkDir == "" {
		return plotdiskerrors.ErrInvalidWorkDir
	}
	info, err := os.Stat(c.WorkDir)
	if err != nil || !info.IsDir() {
		return plotdiskerrors.ErrInvalidWorkDir
	}
	if c.UseDirectIO && c.BlockSize <= 0 {
		return plotdiskerrors.ErrBlockSize
	}
	if c.Log == nil {
		c.Log = nopLogger{}
	}
	return nil
}
