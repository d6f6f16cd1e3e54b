// End-to-end durability harness: runs three full engine lifecycles over one
// data file, with a process-style close and reopen between each, and checks
// that the index contents match across restarts.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/soradb/soradb/config"
	"github.com/soradb/soradb/core/buffer"
	"github.com/soradb/soradb/core/indexing/bptree"
	"github.com/soradb/soradb/core/storage/disk"
	"github.com/soradb/soradb/pkg/logger"
)

const numKeys = 5000

type engine struct {
	dm   *disk.FileManager
	bpm  *buffer.BufferPoolManager
	tree *bptree.BPlusTree[uint64, uint64]
}

// open brings up the full stack the way the CLI does, from the default
// configuration.
func open(cfg config.Config, lg *zap.Logger) (*engine, error) {
	dm, err := disk.NewFileManager(cfg.Storage.DataFile, cfg.Storage.PageSize, lg)
	if err != nil {
		return nil, err
	}
	bpm, err := buffer.NewBufferPoolManager(cfg.Storage.PoolSize, cfg.Storage.LRUK, dm, buffer.WithLogger(lg))
	if err != nil {
		dm.Close()
		return nil, err
	}
	tree, err := bptree.New[uint64, uint64](bpm, bptree.Uint64Codec{}, bptree.Uint64Codec{}, bptree.DefaultOrder,
		bptree.WithIndexName[uint64, uint64](cfg.Index.Name),
		bptree.WithTreeLogger[uint64, uint64](lg))
	if err != nil {
		dm.Close()
		return nil, err
	}
	return &engine{dm: dm, bpm: bpm, tree: tree}, nil
}

// close flushes everything and releases the file, like a clean shutdown.
func (e *engine) close() error {
	if err := e.bpm.FlushAllPages(); err != nil {
		return err
	}
	return e.dm.Close()
}

func main() {
	baseDir, err := os.MkdirTemp("", "soradb-e2e")
	if err != nil {
		log.Fatalf("failed to create work dir: %v", err)
	}
	defer os.RemoveAll(baseDir)

	cfg := config.Default()
	cfg.Storage.DataFile = filepath.Join(baseDir, "e2e.db")
	lg, _ := logger.New(logger.Config{Level: "warn", Format: "console", OutputFile: "stderr"})
	defer lg.Sync()

	ctx := context.Background()

	// --- 1. First lifecycle: populate and shut down ---
	eng, err := open(cfg, lg)
	if err != nil {
		log.Fatalf("first open failed: %v", err)
	}
	for k := uint64(1); k <= numKeys; k++ {
		ok, err := eng.tree.Insert(ctx, k, k*10)
		if err != nil || !ok {
			log.Fatalf("insert %d failed: ok=%v err=%v", k, ok, err)
		}
	}
	if err := eng.close(); err != nil {
		log.Fatalf("first close failed: %v", err)
	}
	fmt.Printf("populated %d keys\n", numKeys)

	// --- 2. Second lifecycle: verify, delete the odd keys, shut down ---
	eng, err = open(cfg, lg)
	if err != nil {
		log.Fatalf("second open failed: %v", err)
	}
	for k := uint64(1); k <= numKeys; k++ {
		vals, err := eng.tree.GetValue(ctx, k)
		if err != nil {
			log.Fatalf("lookup %d failed: %v", k, err)
		}
		if len(vals) != 1 || vals[0] != k*10 {
			log.Fatalf("key %d did not survive restart: %v", k, vals)
		}
	}
	for k := uint64(1); k <= numKeys; k += 2 {
		ok, err := eng.tree.Remove(ctx, k)
		if err != nil || !ok {
			log.Fatalf("remove %d failed: ok=%v err=%v", k, ok, err)
		}
	}
	if err := eng.close(); err != nil {
		log.Fatalf("second close failed: %v", err)
	}
	fmt.Println("verified after restart, deleted odd keys")

	// --- 3. Third lifecycle: only the even keys remain, in order ---
	eng, err = open(cfg, lg)
	if err != nil {
		log.Fatalf("third open failed: %v", err)
	}
	it, err := eng.tree.Begin()
	if err != nil {
		log.Fatalf("scan failed: %v", err)
	}
	want := uint64(2)
	count := 0
	for !it.IsEnd() {
		k, v, err := it.Entry()
		if err != nil {
			log.Fatalf("scan entry failed: %v", err)
		}
		if k != want || v != k*10 {
			log.Fatalf("scan mismatch: got (%d,%d), want key %d", k, v, want)
		}
		want += 2
		count++
		if err := it.Next(); err != nil {
			log.Fatalf("scan step failed: %v", err)
		}
	}
	it.Close()
	if count != numKeys/2 {
		log.Fatalf("scan counted %d entries, want %d", count, numKeys/2)
	}
	if err := eng.close(); err != nil {
		log.Fatalf("third close failed: %v", err)
	}
	fmt.Printf("final scan verified %d surviving keys\n", count)
}
