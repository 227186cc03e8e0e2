package autotune

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/samcharles93/kerneltune/internal/backend"
	"github.com/samcharles93/kerneltune/internal/logger"
)

// Options configures a State.
type Options struct {
	// Store persists decisions. Nil keeps decisions in memory only.
	Store Store

	// Retune skips loading persisted decisions, so every key is tuned
	// afresh and the store is overwritten.
	Retune bool

	Benchmark Benchmarker
	Logger    logger.Logger
}

// State is the process-wide tuning state shared by every Tuner. It holds
// one partition per device identity, created on first use.
type State struct {
	opts  Options
	log   logger.Logger
	bench Benchmarker

	mu         sync.Mutex
	partitions map[string]*partition
}

func NewState(opts Options) *State {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &State{
		opts:       opts,
		log:        log,
		bench:      opts.Benchmark.withDefaults(),
		partitions: make(map[string]*partition),
	}
}

// Devices returns the IDs of devices that have a partition, sorted.
func (s *State) Devices() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.partitions))
	for id := range s.partitions {
		out = append(out, id)
	}
	s.mu.Unlock()
	slices.Sort(out)
	return out
}

// Cache returns the decision cache of a device, if the device has been used.
func (s *State) Cache(deviceID string) (*Cache, bool) {
	p, ok := s.lookup(deviceID)
	if !ok {
		return nil, false
	}
	return p.cache, true
}

// MemoryOnly reports whether persistence for the device has been disabled,
// either because no store is configured or because a save failed.
func (s *State) MemoryOnly(deviceID string) bool {
	p, ok := s.lookup(deviceID)
	return ok && p.memoryOnly.Load()
}

// Open readies the partition of dev, loading its persisted decisions the
// first time the device is seen. Status and Lookup only see devices that
// have been opened or tuned on.
func (s *State) Open(dev backend.Device) {
	s.partition(dev)
}

func (s *State) lookup(deviceID string) (*partition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[deviceID]
	return p, ok
}

// partition returns the device partition, loading the persisted store the
// first time the device is seen.
func (s *State) partition(dev backend.Device) *partition {
	id := dev.ID()
	s.mu.Lock()
	p, ok := s.partitions[id]
	if !ok {
		p = &partition{
			id:       id,
			cache:    NewCache(),
			inflight: make(map[cacheKey]struct{}),
			log:      s.log.With("device", id),
		}
		s.partitions[id] = p
	}
	s.mu.Unlock()

	p.loadOnce.Do(func() {
		p.checksum = Checksum(dev.Identity())
		s.load(p)
	})
	return p
}

func (s *State) load(p *partition) {
	if s.opts.Store == nil {
		p.memoryOnly.Store(true)
		return
	}
	if s.opts.Retune {
		p.log.Info("ignoring persisted tuning cache", "reason", "retune requested")
		return
	}
	entries, err := s.opts.Store.Load(p.id, p.checksum)
	switch {
	case errors.Is(err, ErrChecksumMismatch):
		p.log.Info("discarding tuning cache from other hardware or build")
		return
	case err != nil:
		p.log.Warn("failed to load tuning cache", "error", err)
		return
	}
	for _, e := range entries {
		p.cache.Put(e)
	}
	p.log.Debug("loaded tuning cache", "entries", len(entries))
}

// partition is the tuning state of one device.
type partition struct {
	id       string
	checksum string
	cache    *Cache
	log      logger.Logger

	loadOnce sync.Once
	group    singleflight.Group

	mu       sync.Mutex
	inflight map[cacheKey]struct{}

	saveMu     sync.Mutex
	memoryOnly atomic.Bool
}

func (p *partition) tuning(k cacheKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[k]
	return ok
}

func (p *partition) setTuning(k cacheKey, on bool) {
	p.mu.Lock()
	if on {
		p.inflight[k] = struct{}{}
	} else {
		delete(p.inflight, k)
	}
	p.mu.Unlock()
}

// record stores a decision in memory, then persists the whole cache. A save
// failure switches the partition to memory-only for the rest of the process.
func (s *State) record(p *partition, e Entry) {
	p.cache.Put(e)
	if p.memoryOnly.Load() {
		return
	}

	p.saveMu.Lock()
	defer p.saveMu.Unlock()
	if p.memoryOnly.Load() {
		return
	}
	start := time.Now()
	if err := s.opts.Store.Save(p.id, p.checksum, p.cache.Entries()); err != nil {
		p.memoryOnly.Store(true)
		p.log.Warn("tuning cache persistence disabled", "error", err)
		return
	}
	p.log.Debug("saved tuning cache", "entries", p.cache.Len(), "elapsed", time.Since(start))
}
