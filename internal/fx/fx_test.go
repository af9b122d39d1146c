package fx

import (
	"testing"

	"github.com/harold-b/bladebit/internal/bitio"
	"github.com/harold-b/bladebit/internal/bucketwriter"
	"github.com/harold-b/bladebit/internal/f1"
	"github.com/harold-b/bladebit/internal/heap"
	"github.com/harold-b/bladebit/internal/ioqueue"
)

func TestLTargetsStructure(t *testing.T) {
	if kB*kC != KBC {
		t.Fatalf("kB*kC = %d, want KBC = %d", kB*kC, KBC)
	}
	targets := LTargets()
	for parity := 0; parity < 2; parity++ {
		for m := 0; m < KExtraBitsPow; m++ {
			if v := targets[parity][0][m]; v >= KBC {
				t.Fatalf("parity %d localL 0 m %d: target %d out of range [0,%d)", parity, m, v, KBC)
			}
		}
	}
}

func TestSortByYOrdersAscending(t *testing.T) {
	y := []uint64{5, 1, 4, 1, 3, 9, 2, 6}
	perm := SortByY(y, 8)
	if len(perm) != len(y) {
		t.Fatalf("perm length = %d, want %d", len(perm), len(y))
	}
	for i := 1; i < len(perm); i++ {
		if y[perm[i-1]] > y[perm[i]] {
			t.Fatalf("not sorted at %d: y[perm[%d]]=%d > y[perm[%d]]=%d", i, i-1, y[perm[i-1]], i, y[perm[i]])
		}
	}
}

// TestMatchFindsPlantedPair plants one left/right entry that LTargets says
// is a valid match for candidate index 0 of group parity 0, and checks
// Match finds exactly that pair.
func TestMatchFindsPlantedPair(t *testing.T) {
	targets := LTargets()
	const localL = 42
	localR := targets[0][localL][0]

	group := uint64(2) // even group -> parity 0
	sortedY := []uint64{group*KBC + localL, (group+1)*KBC + uint64(localR)}

	pairs := Match(sortedY)
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1: %v", len(pairs), pairs)
	}
	if pairs[0].Left != 0 || pairs[0].Delta != 1 {
		t.Fatalf("got pair %+v, want {Left:0 Delta:1}", pairs[0])
	}
}

func TestMatchSkipsNonAdjacentGroups(t *testing.T) {
	sortedY := []uint64{0, 3 * KBC}
	if pairs := Match(sortedY); len(pairs) != 0 {
		t.Fatalf("got %d pairs for non-adjacent groups, want 0", len(pairs))
	}
}

// TestComputeFxConcatenation exercises the table1->2 pure-concatenation
// path (spec.md §4.6): the new metaA is exactly metaL.a<<k | metaR.a with
// no hashing involved for the metadata (only y is derived from BLAKE3).
func TestComputeFxConcatenation(t *testing.T) {
	const k = 12
	metaL := metaValue{a: 0xABC, aBits: k}
	metaR := metaValue{a: 0x123, aBits: k}

	res := computeFx(k, 555, metaL, metaR, 1, 2)
	want := (uint64(0xABC) << k) | uint64(0x123)
	if res.metaA != want {
		t.Fatalf("metaA = %#x, want %#x", res.metaA, want)
	}
}

func TestComputeFxTable7HasNoMetadata(t *testing.T) {
	const k = 12
	res := computeFx(k, 42, metaValue{}, metaValue{}, 2, 0)
	if res.metaA != 0 || res.metaB != 0 {
		t.Fatalf("table 7 output must carry no metadata, got metaA=%d metaB=%d", res.metaA, res.metaB)
	}
	if res.y >= 1<<k {
		t.Fatalf("table 7 y = %d exceeds k=%d bits", res.y, k)
	}
}

func TestComputeFxDeterministic(t *testing.T) {
	const k = 16
	metaL := metaValue{a: 111, aBits: k}
	metaR := metaValue{a: 222, aBits: k}
	a := computeFx(k, 9001, metaL, metaR, 1, 2)
	b := computeFx(k, 9001, metaL, metaR, 1, 2)
	if a != b {
		t.Fatalf("computeFx not deterministic: %+v vs %+v", a, b)
	}
}

// TestRunTable1To2 is a small end-to-end rendering of spec.md §8 scenario
// E2: F1 followed by one Fx pass, checked against the pipeline's structural
// invariants (every new entry lands in the bucket its own top bits name;
// the pass never produces more matched entries than input entries).
func TestRunTable1To2(t *testing.T) {
	const k = 16
	const numBuckets = 4
	const threadCount = 2

	dir := t.TempDir()
	q, err := ioqueue.Open(dir, numBuckets, 0, false, nil)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	defer q.Close()

	h := heap.New(64<<20, make([]byte, 64<<20))

	f1cfg := f1.Config{K: k, NumBuckets: numBuckets, ThreadCount: threadCount}
	wF1 := bucketwriter.New(q, h, ioqueue.Y0, numBuckets, 0)
	oldCounts, err := f1.Generate(f1cfg, wF1)
	if err != nil {
		t.Fatalf("f1 generate: %v", err)
	}
	if err := q.MemoryFence(); err != nil {
		t.Fatalf("fence after f1: %v", err)
	}

	var oldTotal uint64
	for _, c := range oldCounts {
		oldTotal += c
	}
	if oldTotal != uint64(1)<<k {
		t.Fatalf("f1 total = %d, want %d", oldTotal, uint64(1)<<k)
	}

	fxCfg := Config{K: k, NumBuckets: numBuckets, ThreadCount: threadCount, TableN: 2, CombinedXY: true}
	streams := Streams{
		ReadY:      ioqueue.Y0,
		WriteY:     ioqueue.Y1,
		WriteMetaA: ioqueue.MetaA1,
		Pairs:      ioqueue.PairsFileId(2),
	}
	wY := bucketwriter.New(q, h, ioqueue.Y1, numBuckets, 0)
	wMetaA := bucketwriter.New(q, h, ioqueue.MetaA1, numBuckets, 0)

	newCounts, err := Run(fxCfg, q, streams, wY, wMetaA, nil, oldCounts)
	if err != nil {
		t.Fatalf("fx run: %v", err)
	}
	if err := q.MemoryFence(); err != nil {
		t.Fatalf("fence after fx: %v", err)
	}

	var newTotal uint64
	for _, c := range newCounts {
		newTotal += c
	}
	if newTotal == 0 {
		t.Fatalf("no matched pairs produced at all, expected some at k=%d", k)
	}
	if newTotal > oldTotal {
		t.Fatalf("matched entry total %d exceeds input entry total %d", newTotal, oldTotal)
	}

	// Table 2's Y1 stream has its bucket-selecting high bits stripped
	// before being written (see fx.go's Run), so each stored entry is
	// narrower than the full k+ExtraBits value computeFx produced: only
	// the low storedYBits bits survive, with the rest implicit in which
	// bucket b this stream is. Reconstructing the full y by OR-ing b back
	// in at storedYBits must land every entry back in its own bucket.
	fullYBits := k + ExtraBits
	storedYBits := fullYBits - int(log2(numBuckets))
	// Y1 holds only the stored y bits; metaA goes to its own MetaA1 stream.
	entryBits := storedYBits

	for b := 0; b < numBuckets; b++ {
		n := newCounts[b]
		if n == 0 {
			continue
		}
		buf := make([]byte, (n*uint64(entryBits)+7)/8)
		if _, err := q.ReadFile(ioqueue.Y1, b, buf); err != nil {
			t.Fatalf("read Y1 bucket %d: %v", b, err)
		}
		r := bitio.NewReader(buf, 0)
		for i := uint64(0); i < n; i++ {
			stored := r.Read(storedYBits)
			fullY := (uint64(b) << uint(storedYBits)) | stored
			if got := fullY >> uint(storedYBits); got != uint64(b) {
				t.Fatalf("bucket %d entry %d: reconstructed y top bits = %d, want %d", b, i, got, b)
			}
		}
	}
}

func log2(n int) int {
	p := 0
	for (1 << p) < n {
		p++
	}
	return p
}
