// Plotbench drives a single plotdisk.Pipeline run end to end and reports
// per-table entry counts and timings.
//
// Usage:
//
//	go run ./cmd/plotbench -k 28 -buckets 256 -threads 4
//
// Flags:
//
//	-k          Plot size parameter (default: 28)
//	-buckets    Bucket count, one of {64,128,256,512,1024} (default: 256)
//	-threads    Fx compute-pool size (default: 4)
//	-f1threads  F1 compute-pool size (default: 4)
//	-heap       Work heap size in MiB (default: 512)
//	-workdir    Temporary file directory (default: a fresh os.MkdirTemp)
//	-direct     Enable Direct-I/O (default: false)
//	-block      Direct-I/O block size in bytes, required with -direct (default: 4096)
//	-seed       Seed for the synthetic plot identifier (default: 1)
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/harold-b/bladebit"
)

func main() {
	kFlag := flag.Int("k", 28, "plot size parameter")
	bucketsFlag := flag.Int("buckets", 256, "bucket count")
	threadsFlag := flag.Int("threads", 4, "fx compute-pool size")
	f1ThreadsFlag := flag.Int("f1threads", 4, "f1 compute-pool size")
	heapFlag := flag.Int("heap", 512, "work heap size in MiB")
	workDirFlag := flag.String("workdir", "", "temporary file directory (default: a fresh os.MkdirTemp)")
	directFlag := flag.Bool("direct", false, "enable Direct-I/O")
	blockFlag := flag.Int64("block", 4096, "Direct-I/O block size in bytes")
	seedFlag := flag.Uint64("seed", 1, "seed for the synthetic plot identifier")
	flag.Parse()

	workDir := *workDirFlag
	if workDir == "" {
		dir, err := os.MkdirTemp("", "plotbench-")
		if err != nil {
			fmt.Printf("failed to create temp dir: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = os.RemoveAll(dir) }()
		workDir = dir
	}

	plotId := syntheticPlotId(*seedFlag)

	opts := []plotdisk.Option{
		plotdisk.WithPlotId(plotId),
		plotdisk.WithK(*kFlag),
		plotdisk.WithNumBuckets(*bucketsFlag),
		plotdisk.WithThreadCount(*threadsFlag),
		plotdisk.WithF1ThreadCount(*f1ThreadsFlag),
		plotdisk.WithWorkDir(workDir),
		plotdisk.WithHeapSize(int64(*heapFlag) << 20),
	}
	if *directFlag {
		opts = append(opts, plotdisk.WithDirectIO(true, *blockFlag))
	}

	p, err := plotdisk.NewPipeline(opts...)
	if err != nil {
		fmt.Printf("NewPipeline failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("plotId (seed=%d): %x\n", *seedFlag, plotId)
	fmt.Printf("k=%d buckets=%d threads=%d f1threads=%d heap=%dMiB direct=%v\n",
		*kFlag, *bucketsFlag, *threadsFlag, *f1ThreadsFlag, *heapFlag, *directFlag)

	start := time.Now()
	manifest, err := p.Run()
	elapsed := time.Since(start)
	if err != nil {
		fmt.Printf("Run failed: %v\n", err)
		os.Exit(1)
	}

	printReport(manifest, elapsed, *kFlag)
}

// syntheticPlotId derives a deterministic 32-byte plot identifier from seed
// using murmur3.Sum128WithSeed twice over a small label buffer — one call
// per half of the identifier — the same "hash a label with a seed" shape
// the teacher's own benchmark uses to derive repeatable per-run input.
func syntheticPlotId(seed uint64) [32]byte {
	var label [8]byte
	binary.BigEndian.PutUint64(label[:], seed)

	var id [32]byte
	hi1, hi2 := murmur3.Sum128WithSeed(label[:], uint32(seed))
	binary.BigEndian.PutUint64(id[0:8], hi1)
	binary.BigEndian.PutUint64(id[8:16], hi2)
	lo1, lo2 := murmur3.Sum128WithSeed(label[:], uint32(seed>>32)+1)
	binary.BigEndian.PutUint64(id[16:24], lo1)
	binary.BigEndian.PutUint64(id[24:32], lo2)
	return id
}

func printReport(m *plotdisk.Manifest, elapsed time.Duration, k int) {
	var t1Total uint64
	for _, c := range m.BucketCounts[1] {
		t1Total += c
	}

	fmt.Printf("\n")
	fmt.Printf("╔══════════════════════╦════════════════╗\n")
	fmt.Printf("║ Table                ║ Entries        ║\n")
	fmt.Printf("╠══════════════════════╬════════════════╣\n")
	for n := 1; n <= 7; n++ {
		var total uint64
		for _, c := range m.BucketCounts[n] {
			total += c
		}
		fmt.Printf("║ %-21d║ %14d ║\n", n, total)
	}
	fmt.Printf("╠══════════════════════╬════════════════╣\n")
	fmt.Printf("║ Total time           ║ %11.2f s  ║\n", elapsed.Seconds())
	fmt.Printf("║ Throughput (table 1)  ║ %10.2f M/s ║\n", float64(t1Total)/elapsed.Seconds()/1_000_000)
	fmt.Printf("╚══════════════════════╩════════════════╝\n")

	fmt.Printf("\nf7 stream: %s (checksum %x)\n", m.F7Path, m.F7Checksum)
	for n := 2; n <= 7; n++ {
		fmt.Printf("table %d pairs: %s (checksum %x)\n", n, m.PairsPaths[n], m.PairsChecksums[n])
	}
}
