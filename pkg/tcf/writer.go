package tcf

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// Encode writes a complete TCF image for the given checksum and records.
func Encode(w io.Writer, checksum string, records []Record) error {
	if len(checksum) > maxChecksumSize {
		return fmt.Errorf("tcf: checksum too long (%d bytes)", len(checksum))
	}
	if records == nil {
		records = []Record{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("tcf: encode records: %w", err)
	}

	payloadOffset := alignUp(uint64(headerSize+len(checksum)), tcfAlign)
	hdr := Header{
		Major:         CurrentMajor,
		Minor:         CurrentMinor,
		HeaderSize:    headerSize,
		ChecksumSize:  uint32(len(checksum)),
		RecordCount:   uint32(len(records)),
		PayloadOffset: payloadOffset,
		PayloadSize:   uint64(len(payload)),
		PayloadCRC:    crc32.ChecksumIEEE(payload),
	}
	copy(hdr.Magic[:], MagicTCF)

	buf := make([]byte, 0, payloadOffset+uint64(len(payload)))
	buf = append(buf, encodeHeader(&hdr)...)
	buf = append(buf, checksum...)
	for uint64(len(buf)) < payloadOffset {
		buf = append(buf, 0)
	}
	buf = append(buf, payload...)
	return writeFull(w, buf)
}

// WriteFile replaces path with a new TCF image. The image is written to a
// temporary file in the same directory, synced, then renamed over path, so
// readers observe either the old file or the new one.
func WriteFile(path, checksum string, records []Record) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = Encode(tmp, checksum, records); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpName, path); err != nil {
		return err
	}
	return nil
}

func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("tcf: short write")
		}
		b = b[n:]
	}
	return nil
}
