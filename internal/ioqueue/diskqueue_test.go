package ioqueue

import (
	"os"
	"testing"
)

// TestWriteFileFenceOrdering is spec.md §8 scenario E4: a ring of capacity 4
// submitting 1000 WriteFile commands followed by a MemoryFence; the fence
// must observe every write already retired (no error) and the file must
// contain exactly 1000*len(payload) bytes.
func TestWriteFileFenceOrdering(t *testing.T) {
	dir := t.TempDir()
	q, err := OpenWithRingCapacity(dir, 1, 0, false, 4, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer q.Close()

	payload := []byte("0123456789")
	const n = 1000
	for i := 0; i < n; i++ {
		q.WriteFile(Pairs2, 0, payload)
	}
	if err := q.MemoryFence(); err != nil {
		t.Fatalf("fence returned error: %v", err)
	}

	path := dir + "/table_2.tmp"
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if want := int64(n * len(payload)); info.Size() != want {
		t.Fatalf("file size = %d, want %d", info.Size(), want)
	}
}

// TestWriteBucketsDirectIOAlignment is spec.md §8 scenario E6: three buckets
// with sizes {4097, 8192, 100} under blockSize=4096, each written to its own
// bucket file, must occupy {8192, 8192, 4096} bytes on disk once each
// bucket's tail is padded up to a whole block.
//
// Direct-I/O itself (O_DIRECT) requires page-aligned buffers and a real
// block device to exercise meaningfully, so this test opens the queue with
// useDirectIO=false and then sets q.useDirectIO, so that WriteBuckets goes
// through writeAligned's block-padding path without the O_DIRECT flag.
func TestWriteBucketsDirectIOAlignment(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(dir, 1, 4096, false, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer q.Close()
	q.useDirectIO = true // exercise the alignment/padding path without O_DIRECT's buffer-alignment requirement

	sizes := []int64{4097, 8192, 100}
	var total int64
	for _, s := range sizes {
		total += s
	}
	data := make([]byte, total)
	for i := range data {
		data[i] = 0xAA
	}

	fs := &q.sets[Y0]
	for len(fs.files) < 3 {
		f, err := os.CreateTemp(dir, "extra")
		if err != nil {
			t.Fatalf("extra file: %v", err)
		}
		fs.files = append(fs.files, f)
		fs.allocated = append(fs.allocated, 0)
	}

	q.WriteBuckets(Y0, data, sizes)
	if err := q.MemoryFence(); err != nil {
		t.Fatalf("fence: %v", err)
	}

	wantSizeOnDisk := []int64{8192, 8192, 4096}
	for b, want := range wantSizeOnDisk {
		info, err := fs.files[b].Stat()
		if err != nil {
			t.Fatalf("bucket %d stat: %v", b, err)
		}
		if info.Size() != want {
			t.Errorf("bucket %d on-disk size = %d, want %d", b, info.Size(), want)
		}
	}
}

// TestReleaseBufferRunsAfterPriorCommands verifies a ReleaseBuffer command
// queued behind writes only fires once those writes have retired, keeping
// heap releases ordered with the I/O that produced the data being released.
func TestReleaseBufferRunsAfterPriorCommands(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(dir, 1, 0, false, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer q.Close()

	released := make(chan struct{}, 1)
	q.WriteFile(Pairs2, 0, []byte("hello"))
	q.ReleaseBuffer(func() { released <- struct{}{} })
	if err := q.MemoryFence(); err != nil {
		t.Fatalf("fence: %v", err)
	}

	select {
	case <-released:
	default:
		t.Fatal("release callback did not run before fence returned")
	}
}

// TestReadFileRoundTrip verifies a ReadFile after a WriteFile+fence+seek
// observes exactly the bytes written.
func TestReadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(dir, 1, 0, false, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer q.Close()

	want := []byte("the quick brown fox")
	q.WriteFile(F7, 0, want)
	if err := q.MemoryFence(); err != nil {
		t.Fatalf("fence: %v", err)
	}
	q.SeekFile(F7, 0, os.SEEK_SET)

	got := make([]byte, len(want))
	if _, err := q.ReadFile(F7, 0, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("read back %q, want %q", got, want)
	}
}
