package embedding

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashText computes the stable content fingerprint of an embeddable text.
// Two source items with equal projections always hash equally, so the hash
// detects staleness without recomputing embeddings.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// VersionedHash prefixes the content hash with the model version. A model
// upgrade therefore invalidates every stored hash at once, which is exactly
// what feeds the reconciliation sweep: vectors from a previous model version
// must never be compared against new query vectors.
func VersionedHash(modelVersion, text string) string {
	return modelVersion + ":" + HashText(text)
}
