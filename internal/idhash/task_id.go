package idhash

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeTaskID computes a deterministic task_id using SHA256.
// Formula: SHA256("task|" + tx_signature)
// Returns hex-encoded hash (64 characters).
//
// One buy event yields exactly one task ID, which makes enqueue idempotent
// across restarts and replays.
func ComputeTaskID(txSignature string) string {
	hash := sha256.Sum256([]byte("task|" + txSignature))
	return hex.EncodeToString(hash[:])
}
