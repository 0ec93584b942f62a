package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Block is a single unit of the anchoring chain.
type Block struct {
	Index        int             `json:"index"`
	Timestamp    string          `json:"timestamp"`
	Data         json.RawMessage `json:"data"`
	PreviousHash string          `json:"previous_hash"`
	Nonce        int64           `json:"nonce"`
	Hash         string          `json:"hash"`
}

// hashEnvelope fixes the serialization used for hashing. Field order is
// alphabetical so the digest is stable across encoders.
type hashEnvelope struct {
	Data         json.RawMessage `json:"data"`
	Index        int             `json:"index"`
	Nonce        int64           `json:"nonce"`
	PreviousHash string          `json:"previous_hash"`
	Timestamp    string          `json:"timestamp"`
}

// ComputeHash recalculates the SHA-256 hash of the block from its fields.
func (b *Block) ComputeHash() string {
	envelope := hashEnvelope{
		Data:         b.Data,
		Index:        b.Index,
		Nonce:        b.Nonce,
		PreviousHash: b.PreviousHash,
		Timestamp:    b.Timestamp,
	}

	// Marshaling a struct with fixed field order cannot fail for these types.
	serialized, _ := json.Marshal(envelope)
	digest := sha256.Sum256(serialized)
	return hex.EncodeToString(digest[:])
}

// HasDifficulty reports whether the block hash carries the required number of
// leading zero hex characters.
func (b *Block) HasDifficulty(difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(b.Hash) < difficulty {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if b.Hash[i] != '0' {
			return false
		}
	}
	return true
}
