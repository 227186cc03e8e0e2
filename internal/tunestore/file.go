package tunestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/samcharles93/kerneltune/internal/autotune"
	"github.com/samcharles93/kerneltune/pkg/tcf"
)

const fileExt = ".tcf"

// FileStore keeps one TCF file per device in a directory.
type FileStore struct {
	dir string
}

var _ autotune.Store = (*FileStore)(nil)

func New(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file holding the decisions of deviceID.
func (s *FileStore) Path(deviceID string) string {
	return filepath.Join(s.dir, fileName(deviceID)+fileExt)
}

// Load returns the decisions stored for deviceID. The payload is only read
// when the stored checksum equals checksum; otherwise Load returns
// autotune.ErrChecksumMismatch. A missing file yields no entries.
func (s *FileStore) Load(deviceID, checksum string) ([]autotune.Entry, error) {
	f, err := tcf.Open(s.Path(deviceID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tunestore: open %s: %w", deviceID, err)
	}
	defer func() { _ = f.Close() }()

	if f.Checksum() != checksum {
		return nil, autotune.ErrChecksumMismatch
	}
	records, err := f.Records()
	if err != nil {
		return nil, fmt.Errorf("tunestore: read %s: %w", deviceID, err)
	}
	entries, _ := decodeRecords(records)
	return entries, nil
}

// Save replaces the stored decisions for deviceID.
func (s *FileStore) Save(deviceID, checksum string, entries []autotune.Entry) error {
	records := make([]tcf.Record, 0, len(entries))
	for _, e := range entries {
		r, err := encodeEntry(e)
		if err != nil {
			return fmt.Errorf("tunestore: %w", err)
		}
		records = append(records, r)
	}
	if err := tcf.WriteFile(s.Path(deviceID), checksum, records); err != nil {
		return fmt.Errorf("tunestore: save %s: %w", deviceID, err)
	}
	return nil
}

// Snapshot is the decoded content of one store file.
type Snapshot struct {
	DeviceID string
	Path     string
	Size     int64
	ModTime  time.Time
	Checksum string
	Entries  []autotune.Entry

	// Skipped counts records that no longer decode, for example after a
	// key field was removed.
	Skipped int
}

// List reads every store file in the directory, ordered by device ID.
// A missing directory yields no snapshots.
func (s *FileStore) List() ([]Snapshot, error) {
	dirents, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Snapshot
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), fileExt) {
			continue
		}
		snap, err := ReadFile(filepath.Join(s.dir, d.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	slices.SortFunc(out, func(a, b Snapshot) int {
		return strings.Compare(a.DeviceID, b.DeviceID)
	})
	return out, nil
}

// ReadFile decodes one store file without checking its checksum.
func ReadFile(path string) (Snapshot, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Snapshot{}, err
	}
	f, err := tcf.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("tunestore: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	records, err := f.Records()
	if err != nil {
		return Snapshot{}, fmt.Errorf("tunestore: read %s: %w", path, err)
	}
	entries, skipped := decodeRecords(records)
	return Snapshot{
		DeviceID: deviceID(strings.TrimSuffix(filepath.Base(path), fileExt)),
		Path:     path,
		Size:     st.Size(),
		ModTime:  st.ModTime(),
		Checksum: f.Checksum(),
		Entries:  entries,
		Skipped:  skipped,
	}, nil
}

// Clear removes the store files of the given devices, or every store file
// when none are given. It returns the number of files removed.
func (s *FileStore) Clear(deviceIDs ...string) (int, error) {
	var paths []string
	if len(deviceIDs) == 0 {
		matches, err := filepath.Glob(filepath.Join(s.dir, "*"+fileExt))
		if err != nil {
			return 0, err
		}
		paths = matches
	} else {
		for _, id := range deviceIDs {
			paths = append(paths, s.Path(id))
		}
	}
	removed := 0
	for _, p := range paths {
		err := os.Remove(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func encodeEntry(e autotune.Entry) (tcf.Record, error) {
	key, err := autotune.EncodeKey(e.Key)
	if err != nil {
		return tcf.Record{}, err
	}
	r := tcf.Record{
		Family:    e.Family.String(),
		Key:       key,
		Index:     e.Index,
		Candidate: e.Name,
	}
	if !e.TunedAt.IsZero() {
		r.TunedAt = e.TunedAt.Unix()
	}
	if len(e.Durations) > 0 {
		r.DurationsNS = make([]int64, len(e.Durations))
		for i, d := range e.Durations {
			r.DurationsNS[i] = d.Nanoseconds()
		}
	}
	return r, nil
}

func decodeRecords(records []tcf.Record) ([]autotune.Entry, int) {
	entries := make([]autotune.Entry, 0, len(records))
	skipped := 0
	for _, r := range records {
		e, err := decodeRecord(r)
		if err != nil {
			skipped++
			continue
		}
		entries = append(entries, e)
	}
	return entries, skipped
}

func decodeRecord(r tcf.Record) (autotune.Entry, error) {
	family, err := autotune.ParseFamily(r.Family)
	if err != nil {
		return autotune.Entry{}, err
	}
	key, err := autotune.DecodeKey(family, r.Key)
	if err != nil {
		return autotune.Entry{}, err
	}
	if r.Index < 0 {
		return autotune.Entry{}, fmt.Errorf("negative candidate index %d", r.Index)
	}
	e := autotune.Entry{
		Family: family,
		Key:    key,
		Index:  r.Index,
		Name:   r.Candidate,
	}
	if r.TunedAt != 0 {
		e.TunedAt = time.Unix(r.TunedAt, 0).UTC()
	}
	if len(r.DurationsNS) > 0 {
		e.Durations = make([]time.Duration, len(r.DurationsNS))
		for i, ns := range r.DurationsNS {
			e.Durations[i] = time.Duration(ns)
		}
	}
	return e, nil
}

// fileName maps a device ID to a file base name. Letters, digits, '-' and
// '.' are kept; every other byte becomes '_' followed by two hex digits, so
// distinct IDs never share a file. The empty ID is "_".
func fileName(id string) string {
	if id == "" {
		return "_"
	}
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '.':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return b.String()
}

// deviceID reverses fileName. Names it did not produce are returned as is.
func deviceID(name string) string {
	if name == "_" {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		if name[i] != '_' {
			b.WriteByte(name[i])
			continue
		}
		if i+2 >= len(name) {
			return name
		}
		v, err := strconv.ParseUint(name[i+1:i+3], 16, 8)
		if err != nil {
			return name
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String()
}
