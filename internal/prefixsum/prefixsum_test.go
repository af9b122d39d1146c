package prefixsum

import "testing"

// TestComputeContiguousDisjointCoverage verifies spec.md §8 property 6: for
// every thread t and bucket b, the destination range assigned to t is
// contiguous, of size counts[t][b], and disjoint from every other thread's
// range, collectively covering [0, bucketCounts[b]).
func TestComputeContiguousDisjointCoverage(t *testing.T) {
	counts := [][]uint64{
		{5, 0, 3},
		{2, 4, 0},
		{0, 1, 7},
	}
	const numBuckets = 3
	res := Compute(counts, numBuckets)

	for b := 0; b < numBuckets; b++ {
		var expectedTotal uint64
		for th := range counts {
			expectedTotal += counts[th][b]
		}
		if res.BucketCounts[b] != expectedTotal {
			t.Fatalf("bucket %d: total = %d, want %d", b, res.BucketCounts[b], expectedTotal)
		}

		// Verify ranges are contiguous and disjoint by walking them in
		// thread order and checking each starts where the last ended.
		var cursor uint64
		for th := range counts {
			if res.Offset[th][b] != cursor {
				t.Errorf("bucket %d thread %d: offset = %d, want %d", b, th, res.Offset[th][b], cursor)
			}
			cursor += counts[th][b]
		}
		if cursor != expectedTotal {
			t.Errorf("bucket %d: ranges cover %d, want %d", b, cursor, expectedTotal)
		}
	}
}

// TestComputeBlockAlignedMatchesE6 is spec.md §8 scenario E6: three buckets
// with byte sizes {4097, 8192, 100} under blockSize=4096 must start at
// offsets {0, 8192, 16384}.
func TestComputeBlockAlignedMatchesE6(t *testing.T) {
	const blockSize = 4096
	const entrySizeBits = 8 // 1 byte/entry keeps the math in plain bytes

	counts := [][]uint64{
		{4097, 8192, 100},
	}
	res := ComputeBlockAligned(counts, 3, entrySizeBits, blockSize)

	wantSizes := []uint64{8192, 8192, 4096}
	for b, want := range wantSizes {
		if res.BucketByteSize[b] != want {
			t.Errorf("bucket %d byte size = %d, want %d", b, res.BucketByteSize[b], want)
		}
	}

	bases := BucketBaseOffsets(res.BucketByteSize)
	wantBases := []uint64{0, 8192, 16384}
	for b, want := range wantBases {
		if bases[b] != want {
			t.Errorf("bucket %d base offset = %d, want %d", b, bases[b], want)
		}
	}
}

// TestComputeBlockAlignedPaddingAccounting verifies EntryPadding always
// equals BucketByteSize minus the true (unpadded) payload size.
func TestComputeBlockAlignedPaddingAccounting(t *testing.T) {
	const blockSize = 512
	const entrySizeBits = 38 // k + kExtraBits, the Table 1 y width

	counts := [][]uint64{
		{100, 7, 900},
		{50, 0, 1},
	}
	res := ComputeBlockAligned(counts, 3, entrySizeBits, blockSize)

	for b, total := range res.BucketCounts {
		trueBytes := (total*entrySizeBits + 7) / 8
		if res.BucketByteSize[b]-res.EntryPadding[b] != trueBytes {
			t.Errorf("bucket %d: byteSize(%d) - padding(%d) = %d, want true payload %d",
				b, res.BucketByteSize[b], res.EntryPadding[b],
				res.BucketByteSize[b]-res.EntryPadding[b], trueBytes)
		}
		if res.BucketByteSize[b]%blockSize != 0 {
			t.Errorf("bucket %d: byteSize %d is not block-aligned", b, res.BucketByteSize[b])
		}
	}
}
