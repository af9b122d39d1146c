package plotdisk

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	plotdiskerrors "github.com/harold-b/bladebit/errors"
)

// F7Reader is a read-only, memory-mapped view over a finished F7 stream,
// for a finalizer that wants to consume proof values directly rather than
// go back through the Disk Buffer Queue's ReadFile path. Grounded on the
// teacher's own index.go (OpenFile: mmap.Map(f, mmap.RDONLY, 0) over a
// finished, read-only artifact) — this repo's small-plot/testing-mode
// counterpart to that always-mmap'd read path.
type F7Reader struct {
	mm   mmap.MMap
	data []byte
}

// OpenF7 memory-maps manifest's F7 stream read-only. The caller must Close
// the returned F7Reader once done; f may be closed immediately after OpenF7
// returns, per POSIX mmap(2).
func OpenF7(m *Manifest) (*F7Reader, error) {
	f, err := os.Open(m.F7Path)
	if err != nil {
		return nil, fmt.Errorf("open f7 stream: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat f7 stream: %w", err)
	}
	if stat.Size() == 0 {
		return nil, plotdiskerrors.ErrEmptyF7Stream
	}

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap f7 stream: %w", err)
	}
	return &F7Reader{mm: mm, data: []byte(mm)}, nil
}

// Bytes returns the full mapped F7 stream. The returned slice is only
// valid until Close.
func (r *F7Reader) Bytes() []byte {
	return r.data
}

// Close unmaps the F7 stream.
func (r *F7Reader) Close() error {
	return r.mm.Unmap()
}
