//go:build linux

package ioqueue

import (
	"os"

	"golang.org/x/sys/unix"
)

// openFileDirect opens (creating/truncating) path, optionally with
// O_DIRECT. Grounded on the teacher's fallocate_linux.go/fadvise_linux.go
// split between a real Linux syscall path and a no-op fallback elsewhere.
func openFileDirect(path string, direct bool) (*os.File, error) {
	flags := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	if direct {
		flags |= unix.O_DIRECT
	}
	return os.OpenFile(path, flags, 0o644)
}
