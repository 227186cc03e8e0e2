package autotune

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/samcharles93/kerneltune/internal/version"
)

// Store persists the decisions of one device across processes.
//
// Load returns ErrChecksumMismatch when the stored decisions were made under
// another checksum, and no entries with it. A missing store is not an error.
// Save replaces the stored decisions for deviceID atomically.
type Store interface {
	Load(deviceID, checksum string) ([]Entry, error)
	Save(deviceID, checksum string, entries []Entry) error
}

// Checksum fingerprints the hardware and runtime a decision is valid for:
// the device identity plus the build that produced it.
func Checksum(identity []string) string {
	h := sha256.New()
	for _, part := range version.Identity() {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write([]byte{1})
	for _, part := range identity {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
