// Package ledger maintains the append-only hash-linked chain used to anchor
// certificate issuance events.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fireshakti/noc-engine/internal/config"
)

// ErrPersistFailed signals that a mined block was appended in memory but the
// chain could not be written to disk. The block is not lost; callers should
// treat this as a warning.
var ErrPersistFailed = errors.New("ledger: chain persistence failed")

// ErrMiningBudgetExceeded signals that proof-of-work did not converge within
// the configured iteration cap. This indicates a misconfigured difficulty.
var ErrMiningBudgetExceeded = errors.New("ledger: mining iteration budget exceeded")

const timestampLayout = "2006-01-02 15:04:05.000000"

// MiningRecorder observes successful block mining. Implementations must be
// safe for concurrent use.
type MiningRecorder interface {
	RecordBlockMined(duration time.Duration)
}

// Engine owns the in-memory chain and its durable copy. All appends are
// serialized through a single writer lock because each block's validity
// depends on the tail hash.
type Engine struct {
	config   config.LedgerConfig
	logger   *slog.Logger
	recorder MiningRecorder

	mu    sync.Mutex
	chain []*Block
}

// New creates a ledger engine. Call Initialize before use.
func New(cfg config.LedgerConfig, logger *slog.Logger) *Engine {
	return &Engine{
		config: cfg,
		logger: logger,
	}
}

// SetRecorder wires a mining recorder after construction. May stay unset.
func (e *Engine) SetRecorder(recorder MiningRecorder) {
	e.recorder = recorder
}

// Initialize loads the persisted chain, or mines a fresh genesis block when no
// usable chain exists. A corrupt chain file is logged and replaced, never fatal.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.loadChain(); err != nil {
		e.logger.Error("Failed to load ledger chain, resetting to fresh genesis", "error", err)
		e.chain = nil
	}

	if len(e.chain) > 0 {
		e.logger.Info("Ledger chain loaded", "blocks", len(e.chain))
		return nil
	}

	genesisData, _ := json.Marshal(map[string]string{
		"message": "Genesis Block",
		"system":  "Fire NOC System Ledger",
	})

	genesis := &Block{
		Index:        0,
		Timestamp:    time.Now().UTC().Format(timestampLayout),
		Data:         genesisData,
		PreviousHash: "0",
	}

	if err := e.mine(genesis); err != nil {
		return fmt.Errorf("failed to mine genesis block: %w", err)
	}

	e.chain = []*Block{genesis}
	if err := e.persistChain(); err != nil {
		e.logger.Warn("Failed to persist genesis block", "error", err)
		return ErrPersistFailed
	}

	e.logger.Info("Ledger initialized with genesis block", "hash", genesis.Hash)
	return nil
}

// Append mines a new block holding payload onto the chain tail and persists
// the full chain. On persistence failure the block remains in memory and
// ErrPersistFailed is returned alongside the block.
func (e *Engine) Append(payload interface{}) (*Block, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize block payload: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.chain) == 0 {
		return nil, fmt.Errorf("ledger not initialized")
	}

	tail := e.chain[len(e.chain)-1]
	block := &Block{
		Index:        tail.Index + 1,
		Timestamp:    time.Now().UTC().Format(timestampLayout),
		Data:         data,
		PreviousHash: tail.Hash,
	}

	start := time.Now()
	if err := e.mine(block); err != nil {
		return nil, err
	}
	if e.recorder != nil {
		e.recorder.RecordBlockMined(time.Since(start))
	}

	e.chain = append(e.chain, block)
	e.logger.Info("Block mined",
		"index", block.Index,
		"hash", block.Hash,
		"nonce", block.Nonce,
		"duration", time.Since(start))

	if err := e.persistChain(); err != nil {
		e.logger.Warn("Failed to persist chain after append, block retained in memory",
			"index", block.Index,
			"error", err)
		return block, ErrPersistFailed
	}

	return block, nil
}

// Validate walks the chain from index 1, recomputing every hash and checking
// every predecessor link. Returns false on the first mismatch.
func (e *Engine) Validate() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := 1; i < len(e.chain); i++ {
		current := e.chain[i]
		previous := e.chain[i-1]

		if current.Hash != current.ComputeHash() {
			e.logger.Error("Ledger integrity violation: block hash mismatch", "index", current.Index)
			return false
		}
		if current.PreviousHash != previous.Hash {
			e.logger.Error("Ledger integrity violation: broken predecessor link", "index", current.Index)
			return false
		}
	}

	return true
}

// Find returns the first block whose payload satisfies the predicate, or nil.
func (e *Engine) Find(predicate func(*Block) bool) *Block {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, block := range e.chain {
		if predicate(block) {
			return block
		}
	}
	return nil
}

// Length returns the number of blocks in the chain.
func (e *Engine) Length() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.chain)
}

// mine performs the bounded proof-of-work search. The iteration cap exists so
// a misconfigured difficulty fails loudly instead of spinning forever.
func (e *Engine) mine(block *Block) error {
	maxIterations := e.config.MaxMiningIterations
	if maxIterations <= 0 {
		maxIterations = 10000000
	}

	block.Nonce = 0
	block.Hash = block.ComputeHash()
	for !block.HasDifficulty(e.config.Difficulty) {
		if block.Nonce >= maxIterations {
			return fmt.Errorf("%w: difficulty=%d iterations=%d", ErrMiningBudgetExceeded, e.config.Difficulty, block.Nonce)
		}
		block.Nonce++
		block.Hash = block.ComputeHash()
	}

	return nil
}

// persistChain writes the whole chain to the data file. The write is not
// incremental; the file is replaced wholesale on every append.
func (e *Engine) persistChain() error {
	if err := os.MkdirAll(filepath.Dir(e.config.DataFile), 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	serialized, err := json.MarshalIndent(e.chain, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize chain: %w", err)
	}

	tmpFile := e.config.DataFile + ".tmp"
	if err := os.WriteFile(tmpFile, serialized, 0o644); err != nil {
		return fmt.Errorf("failed to write chain file: %w", err)
	}
	if err := os.Rename(tmpFile, e.config.DataFile); err != nil {
		return fmt.Errorf("failed to replace chain file: %w", err)
	}

	return nil
}

// loadChain reads the persisted chain from disk. A missing file leaves the
// chain empty; a malformed file is an error the caller handles by resetting.
func (e *Engine) loadChain() error {
	contents, err := os.ReadFile(e.config.DataFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read chain file: %w", err)
	}

	var chain []*Block
	if err := json.Unmarshal(contents, &chain); err != nil {
		return fmt.Errorf("failed to parse chain file: %w", err)
	}

	e.chain = chain
	return nil
}
