package ledger

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fireshakti/noc-engine/internal/config"
)

func newTestEngine(t *testing.T, difficulty int) *Engine {
	t.Helper()
	cfg := config.LedgerConfig{
		DataFile:            filepath.Join(t.TempDir(), "chain.json"),
		Difficulty:          difficulty,
		MaxMiningIterations: 10000000,
	}
	engine := New(cfg, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	require.NoError(t, engine.Initialize())
	return engine
}

func TestInitializeCreatesGenesis(t *testing.T) {
	engine := newTestEngine(t, 2)

	assert.Equal(t, 1, engine.Length())

	genesis := engine.chain[0]
	assert.Equal(t, 0, genesis.Index)
	assert.Equal(t, "0", genesis.PreviousHash)
	assert.True(t, strings.HasPrefix(genesis.Hash, "00"))

	var data map[string]string
	require.NoError(t, json.Unmarshal(genesis.Data, &data))
	assert.Equal(t, "Genesis Block", data["message"])
}

func TestAppendLinksAndMines(t *testing.T) {
	engine := newTestEngine(t, 2)

	first, err := engine.Append(map[string]string{"transaction_id": "tx-1"})
	require.NoError(t, err)
	second, err := engine.Append(map[string]string{"transaction_id": "tx-2"})
	require.NoError(t, err)

	assert.Equal(t, 1, first.Index)
	assert.Equal(t, 2, second.Index)
	assert.Equal(t, first.Hash, second.PreviousHash)
	assert.True(t, strings.HasPrefix(first.Hash, "00"))
	assert.True(t, strings.HasPrefix(second.Hash, "00"))
	assert.Equal(t, first.Hash, first.ComputeHash())

	assert.True(t, engine.Validate())
}

func TestValidateDetectsTamperedData(t *testing.T) {
	engine := newTestEngine(t, 1)

	_, err := engine.Append(map[string]string{"transaction_id": "tx-1"})
	require.NoError(t, err)
	require.True(t, engine.Validate())

	engine.chain[1].Data = json.RawMessage(`{"transaction_id":"tx-forged"}`)
	assert.False(t, engine.Validate())
}

func TestValidateDetectsBrokenLink(t *testing.T) {
	engine := newTestEngine(t, 1)

	_, err := engine.Append(map[string]string{"transaction_id": "tx-1"})
	require.NoError(t, err)
	_, err = engine.Append(map[string]string{"transaction_id": "tx-2"})
	require.NoError(t, err)

	// Re-mine the middle block so its own hash is consistent but the
	// successor's predecessor link no longer matches.
	engine.chain[1].Nonce++
	engine.chain[1].Hash = engine.chain[1].ComputeHash()
	assert.False(t, engine.Validate())
}

func TestChainReloadsFromDisk(t *testing.T) {
	cfg := config.LedgerConfig{
		DataFile:            filepath.Join(t.TempDir(), "chain.json"),
		Difficulty:          1,
		MaxMiningIterations: 10000000,
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	engine := New(cfg, logger)
	require.NoError(t, engine.Initialize())
	block, err := engine.Append(map[string]string{"transaction_id": "tx-1"})
	require.NoError(t, err)

	reloaded := New(cfg, logger)
	require.NoError(t, reloaded.Initialize())
	assert.Equal(t, 2, reloaded.Length())
	assert.Equal(t, block.Hash, reloaded.chain[1].Hash)
	assert.True(t, reloaded.Validate())
}

func TestCorruptChainFileResets(t *testing.T) {
	dataFile := filepath.Join(t.TempDir(), "chain.json")
	require.NoError(t, os.WriteFile(dataFile, []byte("{not json"), 0o644))

	cfg := config.LedgerConfig{
		DataFile:            dataFile,
		Difficulty:          1,
		MaxMiningIterations: 10000000,
	}
	engine := New(cfg, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	require.NoError(t, engine.Initialize())

	assert.Equal(t, 1, engine.Length())
	assert.Equal(t, "0", engine.chain[0].PreviousHash)
}

func TestMiningBudgetExceeded(t *testing.T) {
	cfg := config.LedgerConfig{
		DataFile:            filepath.Join(t.TempDir(), "chain.json"),
		Difficulty:          10,
		MaxMiningIterations: 100,
	}
	engine := New(cfg, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))

	err := engine.Initialize()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMiningBudgetExceeded)
}

func TestAppendRequiresInitialize(t *testing.T) {
	cfg := config.LedgerConfig{
		DataFile:   filepath.Join(t.TempDir(), "chain.json"),
		Difficulty: 1,
	}
	engine := New(cfg, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))

	_, err := engine.Append(map[string]string{"transaction_id": "tx-1"})
	require.Error(t, err)
}

type miningRecorder struct {
	mined int
	total time.Duration
}

func (r *miningRecorder) RecordBlockMined(d time.Duration) {
	r.mined++
	r.total += d
}

func TestAppendReportsMiningToRecorder(t *testing.T) {
	engine := newTestEngine(t, 1)
	recorder := &miningRecorder{}
	engine.SetRecorder(recorder)

	_, err := engine.Append(map[string]string{"transaction_id": "tx-1"})
	require.NoError(t, err)
	_, err = engine.Append(map[string]string{"transaction_id": "tx-2"})
	require.NoError(t, err)

	assert.Equal(t, 2, recorder.mined)
}

func TestInitializePersistFailureKeepsChainUsable(t *testing.T) {
	// A regular file in the data path makes every chain write fail.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	cfg := config.LedgerConfig{
		DataFile:            filepath.Join(blocker, "ledger", "chain.json"),
		Difficulty:          1,
		MaxMiningIterations: 10000000,
	}
	engine := New(cfg, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))

	err := engine.Initialize()
	require.ErrorIs(t, err, ErrPersistFailed)
	assert.Equal(t, 1, engine.Length())

	// The in-memory chain keeps accepting anchors while persistence is down.
	block, err := engine.Append(map[string]string{"transaction_id": "tx-1"})
	require.ErrorIs(t, err, ErrPersistFailed)
	require.NotNil(t, block)
	assert.Equal(t, 2, engine.Length())
	assert.True(t, engine.Validate())
}

func TestFindLocatesPayload(t *testing.T) {
	engine := newTestEngine(t, 1)

	_, err := engine.Append(map[string]string{"transaction_id": "tx-1"})
	require.NoError(t, err)
	_, err = engine.Append(map[string]string{"transaction_id": "tx-2"})
	require.NoError(t, err)

	found := engine.Find(func(b *Block) bool {
		var payload map[string]string
		if err := json.Unmarshal(b.Data, &payload); err != nil {
			return false
		}
		return payload["transaction_id"] == "tx-2"
	})
	require.NotNil(t, found)
	assert.Equal(t, 2, found.Index)

	missing := engine.Find(func(b *Block) bool { return false })
	assert.Nil(t, missing)
}
