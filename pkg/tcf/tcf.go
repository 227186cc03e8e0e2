// Package tcf implements the Tuning Cache File format.
//
// A TCF holds the autotuning decisions made on one device. The layout is a
// fixed little-endian header, the hardware checksum the decisions were made
// under, then a JSON payload of records:
//
//	[header 48B][checksum][pad to 8][payload]
//
// Readers validate the header and expose the checksum before touching the
// payload, so a file from other hardware is rejected without decoding any
// record.
package tcf

import (
	"errors"

	"github.com/goccy/go-json"
)

// TCF global constants must never change.
const (
	// MagicTCF is the file magic, encoded as "TCF\0".
	MagicTCF = "TCF\x00"

	// CurrentMajor changes on breaking layout changes, including a reorder of
	// any registered candidate list (the record index would change meaning).
	CurrentMajor uint16 = 1

	// CurrentMinor changes when optional record fields are added.
	CurrentMinor uint16 = 0

	headerSize = 48
	tcfAlign   = 8

	// maxChecksumSize bounds the checksum section of untrusted files.
	maxChecksumSize = 4096
)

var (
	ErrInvalidMagic     = errors.New("invalid TCF magic")
	ErrUnsupportedMajor = errors.New("unsupported TCF major version")
	ErrCorruptFile      = errors.New("corrupt TCF file")
	ErrPayloadCRC       = errors.New("TCF payload crc mismatch")
)

// Header is the fixed-size file header.
type Header struct {
	Magic         [4]byte
	Major         uint16
	Minor         uint16
	HeaderSize    uint32
	ChecksumSize  uint32
	RecordCount   uint32
	Flags         uint32
	PayloadOffset uint64
	PayloadSize   uint64
	PayloadCRC    uint32
	Reserved      uint32
}

func (h *Header) Valid() bool {
	if string(h.Magic[:]) != MagicTCF {
		return false
	}
	return h.HeaderSize >= headerSize
}

func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

// Record is one tuning decision. Key is the family-specific key encoding,
// opaque to this package.
type Record struct {
	Family      string          `json:"family"`
	Key         json.RawMessage `json:"key"`
	Index       int             `json:"index"`
	Candidate   string          `json:"candidate,omitempty"`
	DurationsNS []int64         `json:"durations_ns,omitempty"`
	TunedAt     int64           `json:"tuned_at,omitempty"`
}
