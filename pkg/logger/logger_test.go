package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/soradb/soradb/core/storage/page"
)

// TestNew_JSONFileOutput verifies the full pipeline: a JSON logger writing to
// a file produces parseable records carrying the service identity fields.
func TestNew_JSONFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	lg, err := New(Config{Level: "info", Format: "json", OutputFile: path})
	require.NoError(t, err)

	lg.Info("index opened", zap.String("index", "primary"))
	require.NoError(t, lg.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(raw, &record))
	require.Equal(t, "index opened", record["msg"])
	require.Equal(t, "INFO", record["level"])
	require.Equal(t, "soradb", record["service"])
	require.Equal(t, "primary", record["index"])
	require.NotEmpty(t, record["instance_id"])
}

// TestNew_LevelFiltering verifies that records below the configured level are
// dropped and that an unparseable level falls back to info.
func TestNew_LevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warn.log")
	lg, err := New(Config{Level: "warn", Format: "json", OutputFile: path})
	require.NoError(t, err)

	lg.Info("filtered out")
	lg.Warn("kept")
	require.NoError(t, lg.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "filtered out")
	require.Contains(t, string(raw), "kept")

	// A nonsense level degrades to info rather than failing.
	path2 := filepath.Join(t.TempDir(), "fallback.log")
	lg2, err := New(Config{Level: "loud", Format: "json", OutputFile: path2})
	require.NoError(t, err)
	require.True(t, lg2.Core().Enabled(zap.InfoLevel))
	require.False(t, lg2.Core().Enabled(zap.DebugLevel))
}

// TestNew_ConsoleFormat verifies the console encoder path produces plain
// text, not JSON.
func TestNew_ConsoleFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.log")
	lg, err := New(Config{Level: "debug", Format: "console", OutputFile: path})
	require.NoError(t, err)

	lg.Debug("readable line")
	require.NoError(t, lg.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "readable line")
	var record map[string]any
	require.Error(t, json.Unmarshal(raw, &record))
}

// TestNew_AppendsToExistingFile verifies that restarts append instead of
// truncating the previous run's records.
func TestNew_AppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "append.log")

	lg1, err := New(Config{Level: "info", Format: "json", OutputFile: path})
	require.NoError(t, err)
	lg1.Info("first run")
	require.NoError(t, lg1.Sync())

	lg2, err := New(Config{Level: "info", Format: "json", OutputFile: path})
	require.NoError(t, err)
	lg2.Info("second run")
	require.NoError(t, lg2.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "first run")
	require.Contains(t, string(raw), "second run")
}

// TestFieldHelpers verifies the engine field constructors emit the keys the
// rest of the codebase greps logs by.
func TestFieldHelpers(t *testing.T) {
	require.Equal(t, "page_id", Page(page.HeaderPageID).Key)
	require.Equal(t, "frame_id", Frame(3).Key)
	require.Equal(t, "index", Index("primary").Key)
	require.Equal(t, "data_file", DataFile("soradb.db").Key)

	path := filepath.Join(t.TempDir(), "fields.log")
	lg, err := New(Config{Level: "info", Format: "json", OutputFile: path})
	require.NoError(t, err)
	lg.Info("page evicted", Page(7), Index("primary"))
	require.NoError(t, lg.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var record map[string]any
	require.NoError(t, json.Unmarshal(raw, &record))
	require.Equal(t, float64(7), record["page_id"])
	require.Equal(t, "primary", record["index"])
}

// TestNew_BadOutputPath verifies that an unwritable destination fails fast.
func TestNew_BadOutputPath(t *testing.T) {
	_, err := New(Config{Level: "info", Format: "json", OutputFile: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	require.Error(t, err)
}
