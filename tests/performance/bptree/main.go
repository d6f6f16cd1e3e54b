// Load harness for the B+ tree index: concurrent writers followed by
// concurrent readers over a real data file, reporting throughput per phase.
package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soradb/soradb/core/buffer"
	"github.com/soradb/soradb/core/indexing/bptree"
	"github.com/soradb/soradb/core/storage/disk"
	"github.com/soradb/soradb/pkg/logger"
)

const (
	numKeys      = 100000
	writeWorkers = 20
	readWorkers  = 10
	poolSize     = 1024
	pageSize     = 4096
)

func main() {
	baseDir, err := os.MkdirTemp("", "soradb-perf")
	if err != nil {
		log.Fatalf("failed to create work dir: %v", err)
	}
	defer os.RemoveAll(baseDir)

	zlogger, _ := logger.New(logger.Config{Level: "error", Format: "console", OutputFile: "stderr"})
	defer zlogger.Sync()

	dm, err := disk.NewFileManager(filepath.Join(baseDir, "bptree.db"), pageSize, zlogger)
	if err != nil {
		log.Fatalf("failed to open data file: %v", err)
	}
	defer dm.Close()

	bpm, err := buffer.NewBufferPoolManager(poolSize, 2, dm, buffer.WithLogger(zlogger))
	if err != nil {
		log.Fatalf("failed to create buffer pool: %v", err)
	}

	tree, err := bptree.New[uint64, uint64](bpm, bptree.Uint64Codec{}, bptree.Uint64Codec{}, bptree.DefaultOrder,
		bptree.WithIndexName[uint64, uint64]("perf"),
		bptree.WithTreeLogger[uint64, uint64](zlogger.Named("bptree_index")))
	if err != nil {
		log.Fatalf("failed to open index: %v", err)
	}

	write(tree)
	read(tree)
	scan(tree)

	if err := bpm.FlushAllPages(); err != nil {
		zlogger.Error("Flush failed", zap.Error(err))
	}
}

func write(tree *bptree.BPlusTree[uint64, uint64]) {
	ctx := context.Background()
	wg := sync.WaitGroup{}
	sem := make(chan struct{}, writeWorkers)
	start := time.Now()
	for i := uint64(1); i <= numKeys; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(k uint64) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := tree.Insert(ctx, k, k*2); err != nil {
				log.Println("Write error: ", err)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)
	log.Printf("write: %d keys in %v (%.0f ops/s)", numKeys, elapsed, numKeys/elapsed.Seconds())
}

func read(tree *bptree.BPlusTree[uint64, uint64]) {
	ctx := context.Background()
	wg := sync.WaitGroup{}
	sem := make(chan struct{}, readWorkers)
	start := time.Now()
	for i := uint64(1); i <= numKeys; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(k uint64) {
			defer wg.Done()
			defer func() { <-sem }()
			vals, err := tree.GetValue(ctx, k)
			if err != nil {
				log.Println("Read error: ", err)
				return
			}
			if len(vals) != 1 || vals[0] != k*2 {
				log.Println("Mismatch for key: ", k)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)
	log.Printf("read: %d keys in %v (%.0f ops/s)", numKeys, elapsed, numKeys/elapsed.Seconds())
}

func scan(tree *bptree.BPlusTree[uint64, uint64]) {
	start := time.Now()
	it, err := tree.Begin()
	if err != nil {
		log.Fatalf("failed to start scan: %v", err)
	}
	defer it.Close()

	count := 0
	var prev uint64
	for !it.IsEnd() {
		k := it.Key()
		if count > 0 && k <= prev {
			log.Println("Out of order at key: ", k)
		}
		prev = k
		count++
		if err := it.Next(); err != nil {
			log.Fatalf("scan failed: %v", err)
		}
	}
	elapsed := time.Since(start)
	log.Printf("scan: %d entries in %v (%.0f entries/s)", count, elapsed, float64(count)/elapsed.Seconds())
}
