package settings

import (
	"fmt"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/stream-tts/internal/core"
)

// Holder subscribes to every setting stream and keeps the latest value of each.
// Fields are overwritten independently; there is no ordering across keys.
type Holder struct {
	source core.SettingsSource
	log    *logger.Logger

	mu       sync.RWMutex
	snapshot Snapshot

	stopsMu sync.Mutex
	stops   []func()
	closed  bool
}

// NewHolder creates a holder seeded with DefaultSnapshot.
func NewHolder(source core.SettingsSource, log *logger.Logger) *Holder {
	return &Holder{
		source:   source,
		log:      log,
		mu:       sync.RWMutex{},
		snapshot: DefaultSnapshot(),
		stopsMu:  sync.Mutex{},
		stops:    nil,
		closed:   false,
	}
}

// Start registers one watcher per setting key. If any registration fails the
// ones already taken are released.
func (h *Holder) Start() error {
	for _, key := range Keys() {
		stop, err := h.source.Watch(key, h.updater(key))
		if err != nil {
			h.Close()

			return fmt.Errorf("failed to watch setting %q: %w", key, err)
		}

		h.stopsMu.Lock()
		if h.closed {
			h.stopsMu.Unlock()
			stop()

			return nil
		}

		h.stops = append(h.stops, stop)
		h.stopsMu.Unlock()
	}

	return nil
}

// Snapshot returns a copy of the latest known settings.
func (h *Holder) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.snapshot.clone()
}

// Close releases every setting subscription. It is safe to call more than once.
func (h *Holder) Close() {
	h.stopsMu.Lock()
	stops := h.stops
	h.stops = nil
	h.closed = true
	h.stopsMu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

func (h *Holder) updater(key string) func([]byte) {
	return func(raw []byte) {
		h.mu.Lock()
		err := h.snapshot.apply(key, raw)
		h.mu.Unlock()

		if err != nil {
			h.log.Warn("Ignoring setting update: %v", err)
		}
	}
}
