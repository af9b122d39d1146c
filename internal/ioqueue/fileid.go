// Package ioqueue implements the Command Queue (spec.md §4.2) and Disk
// Buffer Queue (spec.md §4.3): a single-producer/single-consumer command
// pipe onto a dispatch goroutine that owns every bucket FileSet and
// performs block-aligned, optionally Direct-I/O, reads and writes.
//
// The teacher has no analog to a bucketed file set (tamirms/streamhash
// writes one mmap'd index file, plus — in unsorted mode — one mmap'd
// scratch file); this is grounded on original_source's
// DiskBufferQueue.cpp for the FileId enum and file-set naming convention,
// and on the teacher's own fallocate/fadvise/madvise helpers
// (fallocate_linux.go, fadvise_linux.go) and builder_parallel.go's
// channel-based producer/worker/writer pipeline for the concurrency shape.
package ioqueue

import "fmt"

// FileId identifies one logical stream. Y/MetaA/MetaB streams are
// double-buffered (two FileIds each, _0 read this pass while _1 is
// written) and bucketed: one file per bucket. Pairs and F7 streams are
// single contiguous files (spec.md §6 "per-table pair streams"). Table 1's
// entries carry x packed alongside y within the Y stream itself (see
// internal/f1) rather than through a separate file, since x *is* table 1's
// single-k-bit metadata value once table 2 reads it back as metaA.
type FileId int

const (
	Y0 FileId = iota
	Y1
	MetaA0
	MetaA1
	MetaB0
	MetaB1
	Pairs2
	Pairs3
	Pairs4
	Pairs5
	Pairs6
	Pairs7
	F7
	numFileIds
)

var fileIdNames = [numFileIds]string{
	Y0: "y0", Y1: "y1",
	MetaA0: "meta_a0", MetaA1: "meta_a1",
	MetaB0: "meta_b0", MetaB1: "meta_b1",
	Pairs2: "table_2", Pairs3: "table_3", Pairs4: "table_4",
	Pairs5: "table_5", Pairs6: "table_6", Pairs7: "table_7",
	F7: "f7",
}

func (id FileId) String() string {
	if id < 0 || id >= numFileIds {
		return fmt.Sprintf("FileId(%d)", int(id))
	}
	return fileIdNames[id]
}

// isBucketed reports whether a FileId is materialized as one file per
// bucket (true) or as a single sequential file (false, for pair/f7 streams).
func (id FileId) isBucketed() bool {
	return id == Y0 || id == Y1 || id == MetaA0 || id == MetaA1 || id == MetaB0 || id == MetaB1
}

// PairsFileId returns the pair-stream FileId for the transition into table
// tableN (tableN in 2..7).
func PairsFileId(tableN int) FileId {
	switch tableN {
	case 2:
		return Pairs2
	case 3:
		return Pairs3
	case 4:
		return Pairs4
	case 5:
		return Pairs5
	case 6:
		return Pairs6
	case 7:
		return Pairs7
	default:
		panic(fmt.Sprintf("ioqueue: invalid pairs table id %d", tableN))
	}
}
