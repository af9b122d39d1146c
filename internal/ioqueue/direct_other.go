//go:build !linux

package ioqueue

import "os"

// openFileDirect opens (creating/truncating) path. Direct-I/O has no
// portable equivalent outside Linux's O_DIRECT, so non-Linux builds always
// go through the regular buffered path, mirroring the teacher's
// fallocate_other.go/fadvise_other.go no-op fallbacks.
func openFileDirect(path string, direct bool) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}
