// Command soradb_cli is an interactive shell over a single B+ tree index.
// It speaks a small verb language: insert, find, delete, scan, dump, end.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/soradb/soradb/config"
	"github.com/soradb/soradb/core/buffer"
	"github.com/soradb/soradb/core/indexing/bptree"
	"github.com/soradb/soradb/core/storage/disk"
	"github.com/soradb/soradb/pkg/logger"
	"github.com/soradb/soradb/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	dataFile := flag.String("data", "", "override the configured data file")
	flag.Parse()

	if err := run(*configPath, *dataFile); err != nil {
		fmt.Fprintf(os.Stderr, "soradb_cli: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, dataFile string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dataFile != "" {
		cfg.Storage.DataFile = dataFile
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer lg.Sync()

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())
	metrics := tel.Engine

	dm, err := disk.NewFileManager(cfg.Storage.DataFile, cfg.Storage.PageSize, lg)
	if err != nil {
		return err
	}
	defer dm.Close()

	mode := buffer.ModeThreadSafe
	if cfg.Storage.SingleThreaded {
		mode = buffer.ModeSingleThreaded
	}
	bpm, err := buffer.NewBufferPoolManager(cfg.Storage.PoolSize, cfg.Storage.LRUK, dm,
		buffer.WithLogger(lg), buffer.WithMetrics(metrics), buffer.WithMode(mode))
	if err != nil {
		return err
	}
	defer func() {
		if err := bpm.FlushAllPages(); err != nil {
			lg.Error("Flush on shutdown failed", zap.Error(err))
		}
	}()

	tree, err := bptree.New[uint64, uint64](bpm, bptree.Uint64Codec{}, bptree.Uint64Codec{}, bptree.DefaultOrder,
		bptree.WithIndexName[uint64, uint64](cfg.Index.Name),
		bptree.WithInheritFile[uint64, uint64](cfg.Index.InheritFile),
		bptree.WithLeafMaxSize[uint64, uint64](cfg.Index.LeafMaxSize),
		bptree.WithInternalMaxSize[uint64, uint64](cfg.Index.InternalMaxSize),
		bptree.WithTreeLogger[uint64, uint64](lg),
		bptree.WithTreeMetrics[uint64, uint64](metrics))
	if err != nil {
		return err
	}

	rl, err := readline.New("soradb> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	lg.Info("Interactive session started", logger.DataFile(cfg.Storage.DataFile))
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if done := dispatch(tree, strings.Fields(strings.TrimSpace(line))); done {
			return nil
		}
	}
}

func dispatch(tree *bptree.BPlusTree[uint64, uint64], args []string) bool {
	if len(args) == 0 {
		return false
	}
	ctx := context.Background()
	switch args[0] {
	case "insert":
		key, val, err := parsePair(args[1:])
		if err != nil {
			fmt.Println(err)
			return false
		}
		ok, err := tree.Insert(ctx, key, val)
		report(ok, err, "duplicate key")
	case "find":
		key, err := parseKey(args[1:])
		if err != nil {
			fmt.Println(err)
			return false
		}
		vals, err := tree.GetValue(ctx, key)
		switch {
		case err != nil:
			fmt.Println("error:", err)
		case len(vals) == 0:
			fmt.Println("not found")
		default:
			for _, v := range vals {
				fmt.Println(v)
			}
		}
	case "delete":
		key, err := parseKey(args[1:])
		if err != nil {
			fmt.Println(err)
			return false
		}
		ok, err := tree.Remove(ctx, key)
		report(ok, err, "not found")
	case "scan":
		scan(tree, args[1:])
	case "dump":
		out, err := tree.DebugString()
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		fmt.Print(out)
	case "end", "exit", "quit":
		return true
	default:
		fmt.Println("commands: insert <key> <value> | find <key> | delete <key> | scan [start [end]] | dump | end")
	}
	return false
}

// scan walks entries in key order, optionally bounded by [start, end].
func scan(tree *bptree.BPlusTree[uint64, uint64], args []string) {
	var it *bptree.Iterator[uint64, uint64]
	var err error
	if len(args) >= 1 {
		start, perr := strconv.ParseUint(args[0], 10, 64)
		if perr != nil {
			fmt.Println("bad start key:", args[0])
			return
		}
		it, err = seek(tree, start)
	} else {
		it, err = tree.Begin()
	}
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer it.Close()

	var end uint64
	bounded := false
	if len(args) >= 2 {
		if end, err = strconv.ParseUint(args[1], 10, 64); err != nil {
			fmt.Println("bad end key:", args[1])
			return
		}
		bounded = true
	}
	for !it.IsEnd() {
		key, val, err := it.Entry()
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		if bounded && key > end {
			return
		}
		fmt.Printf("%d -> %d\n", key, val)
		if err := it.Next(); err != nil {
			fmt.Println("error:", err)
			return
		}
	}
}

// seek positions an iterator at the first entry with key >= start.
func seek(tree *bptree.BPlusTree[uint64, uint64], start uint64) (*bptree.Iterator[uint64, uint64], error) {
	it, err := tree.Find(start)
	if err != nil || !it.IsEnd() {
		return it, err
	}
	it, err = tree.BeginAt(start)
	if err != nil {
		return nil, err
	}
	if it.IsEnd() {
		// Every key in the index is greater than start.
		return tree.Begin()
	}
	// Seated on the last key below start; step past it.
	if err := it.Next(); err != nil {
		it.Close()
		return nil, err
	}
	return it, nil
}

func report(ok bool, err error, negative string) {
	switch {
	case err != nil:
		fmt.Println("error:", err)
	case ok:
		fmt.Println("ok")
	default:
		fmt.Println(negative)
	}
}

func parsePair(args []string) (uint64, uint64, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("expected <key> <value>")
	}
	key, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad key: %s", args[0])
	}
	val, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad value: %s", args[1])
	}
	return key, val, nil
}

func parseKey(args []string) (uint64, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("expected <key>")
	}
	key, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad key: %s", args[0])
	}
	return key, nil
}
