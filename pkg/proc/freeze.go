package proc

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/memctl/memctl/pkg/logflags"
)

const (
	// DefaultFreezeInterval is the delay between two writes of a frozen value.
	DefaultFreezeInterval = 35 * time.Millisecond
	// DefaultFreezeThreshold is the number of consecutive failed writes
	// after which a freeze cancels itself.
	DefaultFreezeThreshold = 5
)

// WriteFunc writes data at the address path resolves to.
type WriteFunc func(path PointerPath, module string, data []byte) error

// FreezeInfo describes an active freeze.
type FreezeInfo struct {
	Key      string
	Path     PointerPath
	Module   string
	Payload  []byte
	Since    time.Time
	Failures int
}

type freezeEntry struct {
	key     string
	path    PointerPath
	module  string
	payload []byte
	since   time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	failures atomic.Int32
}

// FreezeRegistry keeps frozen values in place by rewriting them from a
// background goroutine, one per frozen location.
type FreezeRegistry struct {
	write     WriteFunc
	interval  time.Duration
	threshold int
	log       logflags.Logger

	mu      sync.Mutex
	entries map[string]*freezeEntry
}

// NewFreezeRegistry returns a registry that writes through write. Zero
// values for interval and threshold select the defaults.
func NewFreezeRegistry(write WriteFunc, interval time.Duration, threshold int, log logflags.Logger) *FreezeRegistry {
	if interval <= 0 {
		interval = DefaultFreezeInterval
	}
	if threshold <= 0 {
		threshold = DefaultFreezeThreshold
	}
	return &FreezeRegistry{
		write:     write,
		interval:  interval,
		threshold: threshold,
		log:       log,
		entries:   make(map[string]*freezeEntry),
	}
}

// Freeze starts rewriting payload at the location described by path and
// module. It returns false, leaving the existing freeze alone, if the
// location is already frozen.
func (r *FreezeRegistry) Freeze(path PointerPath, module string, payload []byte) bool {
	if len(path) == 0 {
		return false
	}
	key := path.Key(module)

	r.mu.Lock()
	if _, exists := r.entries[key]; exists {
		r.mu.Unlock()
		r.log.Warnf("%s is already frozen", key)
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	ent := &freezeEntry{
		key:     key,
		path:    append(PointerPath(nil), path...),
		module:  module,
		payload: append([]byte(nil), payload...),
		since:   time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.entries[key] = ent
	r.mu.Unlock()

	r.log.Infof("froze %d bytes at %s", len(payload), key)
	go r.loop(ctx, ent, func() { r.expire(ent) })
	return true
}

// loop rewrites the payload of ent until ctx is cancelled or threshold
// consecutive writes failed, in which case expire is called.
func (r *FreezeRegistry) loop(ctx context.Context, ent *freezeEntry, expire func()) {
	defer close(ent.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if err := r.write(ent.path, ent.module, ent.payload); err != nil {
			failures++
			r.log.Debugf("write %d/%d for %s failed: %v", failures, r.threshold, ent.key, err)
		} else {
			failures = 0
		}
		ent.failures.Store(int32(failures))
		if failures >= r.threshold {
			r.log.Warnf("unfreezing %s after %d consecutive failed writes", ent.key, failures)
			expire()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// expire removes ent if the table still maps its key to it.
func (r *FreezeRegistry) expire(ent *freezeEntry) {
	r.mu.Lock()
	if r.entries[ent.key] == ent {
		delete(r.entries, ent.key)
	}
	r.mu.Unlock()
	ent.cancel()
}

// Unfreeze stops the freeze at path and module. It returns false if the
// location was not frozen. The background writer may complete one more
// write after Unfreeze returns.
func (r *FreezeRegistry) Unfreeze(path PointerPath, module string) bool {
	key := path.Key(module)
	r.mu.Lock()
	ent, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	if !ok {
		r.log.Infof("%s is not frozen", key)
		return false
	}
	ent.cancel()
	r.log.Infof("unfroze %s", key)
	return true
}

// IsFrozen reports whether path and module are currently frozen.
func (r *FreezeRegistry) IsFrozen(path PointerPath, module string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[path.Key(module)]
	return ok
}

// Frozen returns the active freezes sorted by key.
func (r *FreezeRegistry) Frozen() []FreezeInfo {
	r.mu.Lock()
	infos := make([]FreezeInfo, 0, len(r.entries))
	for _, ent := range r.entries {
		infos = append(infos, FreezeInfo{
			Key:      ent.key,
			Path:     append(PointerPath(nil), ent.path...),
			Module:   ent.module,
			Payload:  append([]byte(nil), ent.payload...),
			Since:    ent.since,
			Failures: int(ent.failures.Load()),
		})
	}
	r.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// UnfreezeAll stops every freeze and waits for the writers to return.
func (r *FreezeRegistry) UnfreezeAll() {
	r.mu.Lock()
	ents := make([]*freezeEntry, 0, len(r.entries))
	for key, ent := range r.entries {
		ents = append(ents, ent)
		delete(r.entries, key)
	}
	r.mu.Unlock()
	for _, ent := range ents {
		ent.cancel()
	}
	for _, ent := range ents {
		<-ent.done
	}
}
