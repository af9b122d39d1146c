package fx

import (
	"github.com/zeebo/blake3"

	"github.com/harold-b/bladebit/internal/bitio"
)

// ExtraBits mirrors internal/f1.ExtraBits (kExtraBits, spec.md §6). Kept
// as its own constant rather than importing internal/f1 to avoid a
// dependency edge from the Fx pipeline back onto the F1 generator.
const ExtraBits = 6

// MetaMultiplier[tableN] is table tableN's metadata width in units of k
// bits (spec.md §4.6's m_in/m_out): table 1's "metadata" is x itself
// (multiplier 1); table 7 carries none (multiplier 0, f7 is terminal).
var MetaMultiplier = [8]int{0, 1, 2, 4, 4, 3, 2, 0}

// metaValue holds one entry's metadata, split the way it is stored on
// disk: up to 64 bits in A, with any remainder (multiplier 3 or 4) in B.
type metaValue struct {
	a, b         uint64
	aBits, bBits int
}

// metaWidths splits a multiplier*k-bit metadata value into its on-disk
// A/B storage widths (spec.md §6: metaA holds up to 64 bits, metaB the
// remainder — multiplier 3 and 4 are the only cases with a nonzero B).
func metaWidths(multiplier, k int) (aBits, bBits int) {
	total := multiplier * k
	aBits = total
	if aBits > 64 {
		aBits = 64
	}
	bBits = total - aBits
	return aBits, bBits
}

// MetaWidths is metaWidths exported for the Coordinator: given the table
// transition's output metadata multiplier, it reports the on-disk A/B
// storage widths so the caller knows which of metaA/metaB writers (if any)
// a pass actually needs to construct.
func MetaWidths(multiplier, k int) (aBits, bBits int) {
	return metaWidths(multiplier, k)
}

// fxResult is one matched pair's computed output.
type fxResult struct {
	y     uint64
	metaA uint64
	metaB uint64
}

// computeFx runs one entry's BLAKE3 forward-propagation step (spec.md
// §4.6 step 4): pack y (shifted by kExtraBits) and the pair's metaL/metaR
// into a big-endian bit buffer, hash it, and slice the new y (and, unless
// this is the table 7 terminal step, the new metadata) out of the hash.
//
// Grounded on original_source's FxGenBucketized.cpp ComputeFxForTable,
// generalized over the metadata multiplier instead of the original's
// per-multiplier C++ template specializations — idiomatic Go favors one
// parametrized function over compile-time-unrolled variants here, and the
// bit widths involved are already runtime values (k, NumBuckets) in this
// repo rather than the original's compile-time k=32 constant.
func computeFx(k int, y uint64, metaL, metaR metaValue, mIn, mOut int) fxResult {
	ySize := k + ExtraBits
	inputBits := ySize + metaL.aBits + metaL.bBits + metaR.aBits + metaR.bBits
	buf := make([]byte, (inputBits+7)/8)

	w := bitio.NewWriter(buf, 0)
	w.Write(y, ySize)
	if metaL.aBits > 0 {
		w.Write(metaL.a, metaL.aBits)
	}
	if metaL.bBits > 0 {
		w.Write(metaL.b, metaL.bBits)
	}
	if metaR.aBits > 0 {
		w.Write(metaR.a, metaR.aBits)
	}
	if metaR.bBits > 0 {
		w.Write(metaR.b, metaR.bBits)
	}

	hash := blake3.Sum256(buf)
	r := bitio.NewReader(hash[:], 0)

	if mOut == 0 {
		return fxResult{y: r.Read(k)}
	}

	// newY is the full ySize-bit hash output, bucket-selecting high bits
	// included; Run strips those bits off before writing it to disk (and
	// reconstructs them from the bucket index on read back), so the value
	// returned here is always the full width callers need for bucket
	// selection.
	newY := r.Read(ySize)

	var out fxResult
	out.y = newY

	switch {
	case mOut == 2 && mIn == 1:
		// Pure concatenation of the original (unhashed) metadata —
		// table 1 -> table 2's x-pair carries forward untouched.
		out.metaA = (metaL.a << uint(k)) | metaR.a
	case mOut == 4 && mIn == 2:
		// Pure concatenation: the 2k-bit metaL/metaR values become the
		// new entry's metaA/metaB verbatim.
		out.metaA = metaL.a
		out.metaB = metaR.a
	default:
		aBits, bBits := metaWidths(mOut, k)
		out.metaA = r.Read(aBits)
		if bBits > 0 {
			out.metaB = r.Read(bBits)
		}
	}
	return out
}
