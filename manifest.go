package plotdisk

import (
	"encoding/binary"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"

	"github.com/harold-b/bladebit/internal/ioqueue"
)

// Manifest is everything a run of the pipeline hands off to the
// out-of-scope plot finalizer (spec.md §6: "The core does not emit a
// finished plot file itself"). It names every artifact's on-disk path and
// per-bucket entry count, plus an xxh3 content checksum per stream so the
// finalizer can detect a truncated or corrupted hand-off before it starts
// reading.
type Manifest struct {
	WorkDir string

	// BucketCounts[n] is table n's per-bucket entry count, for n in 1..7.
	// Index 0 is unused.
	BucketCounts [8][]uint64

	// PairsPaths[n] and PairsChecksums[n] describe the pair stream written
	// while producing table n, for n in 2..7. Index 0 and 1 are unused
	// (table 1 has no incoming pairs).
	PairsPaths      [8]string
	PairsChecksums  [8]uint64

	// F7Path and F7Checksum describe the final, linearized (non-bucketed)
	// table 7 y-value stream.
	F7Path     string
	F7Checksum uint64

	// F7FoldedHash is a hash-of-hashes over table 7's per-bucket regions,
	// folded in bucket order: the same shape as the teacher's
	// foldPayloadHash folding per-block payload hashes into a running
	// xxhash digest. Two independent runs with identical bucket contents
	// produce the same value without either one re-reading the other's
	// full F7 stream.
	F7FoldedHash uint64
}

// foldHashes folds each []byte chunk's xxhash.Sum64 into a single streaming
// digest, in the order given — the teacher's index_writer.go
// foldPayloadHash pattern (fold a per-block hash into a running
// *xxhash.Digest) generalized to an arbitrary ordered sequence of chunks.
func foldHashes(chunks [][]byte) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, c := range chunks {
		binary.LittleEndian.PutUint64(buf[:], xxhash.Sum64(c))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// checksumPairs reads back table n's complete pair stream (every matched
// (left, delta) index pair is written as one 8-byte record by
// internal/fx.Run, with no cross-record padding since 32+32 bits always
// lands on a byte boundary) and returns its xxh3 hash, or 0 if the
// transition produced no matches at all.
func (p *Pipeline) checksumPairs(tableN int, matchCount uint64) (uint64, error) {
	if matchCount == 0 {
		return 0, nil
	}
	buf := make([]byte, matchCount*8)
	if _, err := p.q.ReadFile(ioqueue.PairsFileId(tableN), 0, buf); err != nil {
		return 0, err
	}
	return xxh3.Hash(buf), nil
}

func pairsPath(workDir string, tableN int) string {
	return filepath.Join(workDir, ioqueue.PairsFileId(tableN).String()+".tmp")
}

func f7Path(workDir string) string {
	return filepath.Join(workDir, ioqueue.F7.String()+".tmp")
}
