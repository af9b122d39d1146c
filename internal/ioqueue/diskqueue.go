package ioqueue

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	plotdiskerrors "github.com/harold-b/bladebit/errors"
	ibits "github.com/harold-b/bladebit/internal/bits"
)

// Logger is the minimal progress/timing sink the Disk Buffer Queue reports
// through (spec.md §7: "Progress and timings are emitted via a log sink").
// Defined here, at the point of use, rather than imported from the root
// package, so internal packages stay import-cycle-free; the root package's
// concrete logger satisfies this structurally.
type Logger interface {
	Linef(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Linef(string, ...any) {}

type commandKind int

const (
	cmdWriteBuckets commandKind = iota
	cmdWriteFile
	cmdSeekFile
	cmdReleaseBuffer
	cmdMemoryFence
)

type command struct {
	kind   commandKind
	fileId FileId
	bucket int // target bucket for WriteFile/SeekFile

	data  []byte  // WriteFile payload, or WriteBuckets' concatenated payload
	sizes []int64 // WriteBuckets: per-bucket byte size within data

	offset int64 // SeekFile
	whence int

	release func() // ReleaseBuffer: invokes the owning heap's Release

	fence chan error // MemoryFence: signaled once every prior command retired
}

type fileSet struct {
	files      []*os.File
	allocated  []int64 // fallocateFile high-water mark per file, bytes
}

// DiskBufferQueue owns every temporary FileSet and services commands
// strictly in FIFO order on a single dispatch goroutine (spec.md §4.3,
// §5 "bucket files are exclusive to the dispatch thread").
type DiskBufferQueue struct {
	workDir     string
	useDirectIO bool
	blockSize   int64
	log         Logger

	sets [numFileIds]fileSet

	cmds    chan command
	readReq chan readRequest
	wg      sync.WaitGroup

	mu    sync.Mutex
	fatal error
}

type readRequest struct {
	fileId FileId
	bucket int
	dst    []byte
	resp   chan readResult
}

type readResult struct {
	n   int
	err error
}

// Open creates (or truncates) every temporary file for the given FileIds
// under workDir and starts the dispatch goroutine. numBuckets applies to
// bucketed FileIds (Y*, MetaA*, MetaB*); pair/f7 streams get exactly one
// file. blockSize is the Direct-I/O alignment unit; per spec.md's
// out-of-scope list, physical-disk block-size detection is not performed —
// the caller supplies it (plotdisk.Config.BlockSize).
func Open(workDir string, numBuckets int, blockSize int64, useDirectIO bool, log Logger) (*DiskBufferQueue, error) {
	return OpenWithRingCapacity(workDir, numBuckets, blockSize, useDirectIO, 64, log)
}

// OpenWithRingCapacity is Open with an explicit command-ring capacity
// (spec.md §4.2's "fixed-capacity ring, e.g. 64 slots"); exposed mainly so
// tests can exercise backpressure at a small capacity (spec.md §8 E4).
func OpenWithRingCapacity(workDir string, numBuckets int, blockSize int64, useDirectIO bool, ringCapacity int, log Logger) (*DiskBufferQueue, error) {
	if log == nil {
		log = nopLogger{}
	}
	if ringCapacity <= 0 {
		ringCapacity = 64
	}
	q := &DiskBufferQueue{
		workDir:     workDir,
		useDirectIO: useDirectIO,
		blockSize:   blockSize,
		log:         log,
		cmds:        make(chan command, ringCapacity),
		readReq:     make(chan readRequest, ringCapacity),
	}

	for id := FileId(0); id < numFileIds; id++ {
		n := 1
		if id.isBucketed() {
			n = numBuckets
		}
		fs := fileSet{files: make([]*os.File, n), allocated: make([]int64, n)}
		for b := 0; b < n; b++ {
			name := fmt.Sprintf("%s_%d.tmp", fileIdNames[id], b)
			if !id.isBucketed() {
				name = fmt.Sprintf("%s.tmp", fileIdNames[id])
			}
			path := filepath.Join(workDir, name)
			f, err := openFileDirect(path, useDirectIO)
			if err != nil {
				q.closeAll()
				return nil, fmt.Errorf("%w: %s: %v", plotdiskerrors.ErrFileOpen, path, err)
			}
			fs.files[b] = f
		}
		q.sets[id] = fs
	}

	q.wg.Add(1)
	go q.dispatchLoop()
	return q, nil
}

func (q *DiskBufferQueue) closeAll() {
	for _, fs := range q.sets {
		for _, f := range fs.files {
			if f != nil {
				_ = f.Close()
			}
		}
	}
}

// Close stops the dispatch goroutine and closes every file handle. The
// caller must ensure no further commands are submitted after calling Close.
func (q *DiskBufferQueue) Close() error {
	close(q.cmds)
	q.wg.Wait()
	q.closeAll()
	return q.Fatal()
}

// Fatal returns the first I/O error observed by the dispatch goroutine, if
// any. Per spec.md §7, any I/O error is fatal to the plot.
func (q *DiskBufferQueue) Fatal() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fatal
}

func (q *DiskBufferQueue) setFatal(err error) {
	q.mu.Lock()
	if q.fatal == nil {
		q.fatal = err
	}
	q.mu.Unlock()
}

// WriteBuckets writes data[off:off+sizes[i]] to bucket i's file, for each
// bucket of fileId, where off is the running sum of every earlier bucket's
// sizes[i]. Enqueues and returns without waiting for the write to land; call
// MemoryFence to wait for durability-before-this-point.
func (q *DiskBufferQueue) WriteBuckets(fileId FileId, data []byte, sizes []int64) {
	q.cmds <- command{kind: cmdWriteBuckets, fileId: fileId, data: data, sizes: sizes}
}

// WriteFile appends data to fileId's single file (pair/f7 streams) or to
// bucket-th file of a bucketed set. Enqueues and returns immediately.
func (q *DiskBufferQueue) WriteFile(fileId FileId, bucket int, data []byte) {
	q.cmds <- command{kind: cmdWriteFile, fileId: fileId, bucket: bucket, data: data}
}

// SeekBucket repositions fileId's bucket-th file, e.g. rewinding to 0 before
// a new generation reads it, or seeking past a header. Enqueues and returns
// immediately; subsequent reads/writes on that file observe the new
// position once this command retires.
func (q *DiskBufferQueue) SeekBucket(fileId FileId, bucket int, offset int64, whence int) {
	q.cmds <- command{kind: cmdSeekFile, fileId: fileId, bucket: bucket, offset: offset, whence: whence}
}

// SeekFile is SeekBucket for a non-bucketed (pair/f7) stream, which only
// ever has one file.
func (q *DiskBufferQueue) SeekFile(fileId FileId, offset int64, whence int) {
	q.SeekBucket(fileId, 0, offset, whence)
}

// ReleaseBuffer queues release of a heap-owned buffer once every command
// submitted before it has retired. release is typically heap.Heap.Release
// bound to a specific Buffer handle.
func (q *DiskBufferQueue) ReleaseBuffer(release func()) {
	q.cmds <- command{kind: cmdReleaseBuffer, release: release}
}

// MemoryFence blocks until every command submitted before it has been
// dispatched, then returns the first fatal error observed so far (nil if
// none). This is the only synchronization point exposed to callers (spec.md
// §4.2, §5 "A MemoryFence completes strictly after all commands submitted
// before it").
func (q *DiskBufferQueue) MemoryFence() error {
	done := make(chan error, 1)
	q.cmds <- command{kind: cmdMemoryFence, fence: done}
	return <-done
}

// ReadFile synchronously reads exactly len(dst) bytes from fileId's
// bucket-th file at its current position into dst, serialized through the
// dispatch goroutine along with every other command. Unlike writes, reads
// are synchronous from the caller's perspective: the compute stage that
// issued the read cannot proceed without the bytes.
func (q *DiskBufferQueue) ReadFile(fileId FileId, bucket int, dst []byte) (int, error) {
	resp := make(chan readResult, 1)
	q.readReq <- readRequest{fileId: fileId, bucket: bucket, dst: dst, resp: resp}
	res := <-resp
	return res.n, res.err
}

func (q *DiskBufferQueue) dispatchLoop() {
	defer q.wg.Done()
	for {
		select {
		case cmd, ok := <-q.cmds:
			if !ok {
				return
			}
			q.dispatch(cmd)
		case req := <-q.readReq:
			req.resp <- q.serviceRead(req)
		}
	}
}

func (q *DiskBufferQueue) dispatch(cmd command) {
	switch cmd.kind {
	case cmdWriteBuckets:
		q.serviceWriteBuckets(cmd)
	case cmdWriteFile:
		q.serviceWriteFile(cmd)
	case cmdSeekFile:
		q.serviceSeekFile(cmd)
	case cmdReleaseBuffer:
		if cmd.release != nil {
			cmd.release()
		}
	case cmdMemoryFence:
		cmd.fence <- q.Fatal()
	}
}

func (q *DiskBufferQueue) serviceWriteBuckets(cmd command) {
	fs := &q.sets[cmd.fileId]
	var off int64
	for i, size := range cmd.sizes {
		if i >= len(fs.files) {
			q.setFatal(fmt.Errorf("%w: bucket %d for fileset %s", plotdiskerrors.ErrBucketOutOfRange, i, cmd.fileId))
			return
		}
		if off+size > int64(len(cmd.data)) {
			q.setFatal(fmt.Errorf("%w: write buckets payload too short for %s bucket %d", plotdiskerrors.ErrFileIO, cmd.fileId, i))
			return
		}
		q.ensureAllocated(fs, i, size)
		if err := q.writeAligned(fs.files[i], cmd.data[off:off+size]); err != nil {
			q.setFatal(fmt.Errorf("%w: %s bucket %d: %v", plotdiskerrors.ErrFileIO, cmd.fileId, i, err))
			return
		}
		off += size
	}
}

func (q *DiskBufferQueue) serviceWriteFile(cmd command) {
	fs := &q.sets[cmd.fileId]
	if cmd.bucket < 0 || cmd.bucket >= len(fs.files) {
		q.setFatal(fmt.Errorf("%w: %s bucket %d", plotdiskerrors.ErrBucketOutOfRange, cmd.fileId, cmd.bucket))
		return
	}
	q.ensureAllocated(fs, cmd.bucket, int64(len(cmd.data)))
	if err := q.writeAligned(fs.files[cmd.bucket], cmd.data); err != nil {
		q.setFatal(fmt.Errorf("%w: %s bucket %d: %v", plotdiskerrors.ErrFileIO, cmd.fileId, cmd.bucket, err))
	}
}

// ensureAllocated grows bucket i's preallocation high-water mark by
// growBy bytes via fallocateFile, best-effort. Writes to a temporary bucket
// file are always sequential appends, so the new high-water mark
// (previously allocated + growBy) never shrinks the file — fallocateFile's
// Ftruncate is always extending, never truncating live data.
func (q *DiskBufferQueue) ensureAllocated(fs *fileSet, i int, growBy int64) {
	if growBy <= 0 {
		return
	}
	target := fs.allocated[i] + growBy
	if err := fallocateFile(fs.files[i], target); err == nil {
		fs.allocated[i] = target
	}
	// Best-effort: a failed preallocation just forgoes the hint: the
	// subsequent write still succeeds by growing the file the normal way.
}

func (q *DiskBufferQueue) serviceSeekFile(cmd command) {
	fs := &q.sets[cmd.fileId]
	if cmd.bucket < 0 || cmd.bucket >= len(fs.files) {
		q.setFatal(fmt.Errorf("%w: %s bucket %d", plotdiskerrors.ErrBucketOutOfRange, cmd.fileId, cmd.bucket))
		return
	}
	if _, err := fs.files[cmd.bucket].Seek(cmd.offset, cmd.whence); err != nil {
		q.setFatal(fmt.Errorf("%w: seek %s bucket %d: %v", plotdiskerrors.ErrFileIO, cmd.fileId, cmd.bucket, err))
		return
	}
	if cmd.offset == 0 && cmd.whence == io.SeekStart {
		// A rewind-to-start precedes a full sequential scan of this bucket
		// (the Fx pipeline reading Table N back in to compute Table N+1).
		fadviseSequential(int(fs.files[cmd.bucket].Fd()), 0, 0)
	}
}

func (q *DiskBufferQueue) serviceRead(req readRequest) readResult {
	fs := &q.sets[req.fileId]
	if req.bucket < 0 || req.bucket >= len(fs.files) {
		err := fmt.Errorf("%w: %s bucket %d", plotdiskerrors.ErrBucketOutOfRange, req.fileId, req.bucket)
		q.setFatal(err)
		return readResult{err: err}
	}
	f := fs.files[req.bucket]
	// Every ReadFile call reads one file's entries in a single full-bucket
	// pass (spec.md §4.6 step 1's "read table N back in"); the file's
	// cursor otherwise sits at EOF from the writes that produced it, so
	// reading without rewinding first would return nothing.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		err = fmt.Errorf("%w: seek %s bucket %d: %v", plotdiskerrors.ErrFileIO, req.fileId, req.bucket, err)
		q.setFatal(err)
		return readResult{err: err}
	}
	fadviseSequential(int(f.Fd()), 0, 0)
	n, err := io.ReadFull(f, req.dst)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		// A short final read is expected at the tail of a bucket/file.
		err = nil
	}
	if err != nil {
		err = fmt.Errorf("%w: read %s bucket %d: %v", plotdiskerrors.ErrFileIO, req.fileId, req.bucket, err)
		q.setFatal(err)
	}
	return readResult{n: n, err: err}
}

// writeAligned writes buf to f. In Direct-I/O mode the payload is split
// into a block-aligned body and a tail < blockSize; the tail is copied into
// a zero-padded block-sized buffer and written as one full block (spec.md
// §4.3's remainder-block fixup).
func (q *DiskBufferQueue) writeAligned(f *os.File, buf []byte) error {
	if !q.useDirectIO || q.blockSize <= 1 {
		_, err := f.Write(buf)
		return err
	}

	full := len(buf) - len(buf)%int(q.blockSize)
	if full > 0 {
		if _, err := f.Write(buf[:full]); err != nil {
			return err
		}
	}
	if tail := buf[full:]; len(tail) > 0 {
		block := make([]byte, q.blockSize)
		copy(block, tail)
		if _, err := f.Write(block); err != nil {
			return err
		}
	}
	return nil
}

// BlockSize returns the Direct-I/O alignment unit this queue was opened
// with.
func (q *DiskBufferQueue) BlockSize() int64 { return q.blockSize }

// RoundUpToBlock rounds v up to a multiple of the queue's block size.
func (q *DiskBufferQueue) RoundUpToBlock(v int64) int64 {
	return int64(ibits.RoundUpToBoundary(uint64(v), uint64(q.blockSize)))
}
