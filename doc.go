// Package plotdisk implements an external-memory, bucketized proof-of-space
// plot generator: it derives Table 1 from a plot identifier, then forward-
// propagates kBC-matched pairs through Tables 2..7 entirely off disk, using
// a bounded heap and a fixed-size thread pool regardless of k.
//
// # Basic Usage
//
// Running a plot:
//
//	p, err := plotdisk.NewPipeline(
//		plotdisk.WithPlotId(id),
//		plotdisk.WithK(32),
//		plotdisk.WithWorkDir("/mnt/plot-scratch"),
//		plotdisk.WithHeapSize(4<<30),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	manifest, err := p.Run()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("table 7 stream: %s\n", manifest.F7Path)
//
// The returned Manifest names every artifact the pipeline produced (per-
// table pair streams, the final table 7 stream, per-bucket entry counts)
// for an out-of-scope plot finalizer to consume; this package does not
// itself emit a finished plot file.
//
// # Package Structure
//
//   - Public API: config.go (Config, With* options), pipeline.go (NewPipeline, Run)
//   - Artifact hand-off: manifest.go (Manifest, pair/f7 checksums), f7reader.go (read-only mmap'd F7 access)
//   - Work scheduling: internal/heap (Bounded Work Heap), internal/ioqueue (Command Queue, Disk Buffer Queue)
//   - Serialization: internal/bitio (bit-packed variable-width entries), internal/bucketwriter (Bit-Bucket Writer)
//   - Table 1: internal/f1 (F1 Generator), internal/chacha8 (keystream)
//   - Tables 2..7: internal/fx (Fx Pipeline: sort, kBC match, BLAKE3 forward-propagation)
//   - Shared primitives: internal/barrier (thread-pool rendezvous), internal/prefixsum (bucket-offset computation), internal/bits (bit/alignment helpers)
package plotdisk
