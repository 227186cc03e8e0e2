package tcf

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"
)

type File struct {
	Data    []byte
	Header  *Header
	mmapped bool
}

// Open maps a TCF file read-only and validates its header.
// If mmap is unavailable, it falls back to ReadAt-based loading.
// The returned file must be closed to release any mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size64 := stat.Size()
	if size64 < headerSize || size64 > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	size := int(size64)

	data, err := unix.Mmap(
		int(f.Fd()),
		0,
		size,
		unix.PROT_READ,
		unix.MAP_SHARED,
	)
	if err == nil {
		tf, parseErr := parseFileData(data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return tf, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

// OpenReaderAt loads and validates a TCF from a random-access reader without mmap.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < headerSize || size > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	data, err := readAllAt(r, int(size))
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func parseFileData(data []byte, mmapped bool) (*File, error) {
	hdr, ok := decodeHeader(data)
	if !ok {
		return nil, ErrCorruptFile
	}
	if !hdr.Valid() {
		return nil, ErrInvalidMagic
	}
	if !hdr.Compatible() {
		return nil, ErrUnsupportedMajor
	}

	size := uint64(len(data))
	if uint64(hdr.HeaderSize) > size {
		return nil, ErrCorruptFile
	}
	if hdr.ChecksumSize > maxChecksumSize {
		return nil, fmt.Errorf("%w: checksum size %d", ErrCorruptFile, hdr.ChecksumSize)
	}
	sumEnd := uint64(hdr.HeaderSize) + uint64(hdr.ChecksumSize)
	if sumEnd > size {
		return nil, fmt.Errorf("%w: checksum out of bounds", ErrCorruptFile)
	}
	if hdr.PayloadOffset < sumEnd || hdr.PayloadOffset%tcfAlign != 0 {
		return nil, fmt.Errorf("%w: payload offset %d", ErrCorruptFile, hdr.PayloadOffset)
	}
	end := hdr.PayloadOffset + hdr.PayloadSize
	if end < hdr.PayloadOffset || end != size {
		return nil, fmt.Errorf("%w: payload out of bounds", ErrCorruptFile)
	}

	return &File{
		Data:    data,
		Header:  &hdr,
		mmapped: mmapped,
	}, nil
}

// Checksum returns the hardware checksum the records were produced under.
// It never looks at the payload.
func (f *File) Checksum() string {
	if f == nil || f.Header == nil {
		return ""
	}
	start := uint64(f.Header.HeaderSize)
	return string(f.Data[start : start+uint64(f.Header.ChecksumSize)])
}

// Records verifies the payload CRC and decodes the records. Callers compare
// Checksum first and only call Records for a matching file.
func (f *File) Records() ([]Record, error) {
	if f == nil || f.Header == nil {
		return nil, ErrCorruptFile
	}
	payload := f.Data[f.Header.PayloadOffset : f.Header.PayloadOffset+f.Header.PayloadSize]
	if crc32.ChecksumIEEE(payload) != f.Header.PayloadCRC {
		return nil, ErrPayloadCRC
	}
	var records []Record
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	if len(records) != int(f.Header.RecordCount) {
		return nil, fmt.Errorf("%w: header declares %d records, payload has %d",
			ErrCorruptFile, f.Header.RecordCount, len(records))
	}
	return records, nil
}

// Close releases file resources and any mmap backing.
func (f *File) Close() error {
	if f == nil || f.Data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.Data)
	}
	f.Data = nil
	f.Header = nil
	f.mmapped = false
	return err
}
