package serialization

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Checksum returns the SHA-256 digest of a data section.
func Checksum(data []byte) [ChecksumSize]byte {
	return sha256.Sum256(data)
}

// VerifyChecksum fails with ErrChecksumMismatch unless data hashes to stored.
func VerifyChecksum(data []byte, stored [ChecksumSize]byte) error {
	if got := Checksum(data); got != stored {
		return fmt.Errorf("%w: stored %s, data hashes to %s", ErrChecksumMismatch,
			hex.EncodeToString(stored[:8]), hex.EncodeToString(got[:8]))
	}
	return nil
}
