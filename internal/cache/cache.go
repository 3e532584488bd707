package cache

import (
	"sync"
	"time"
)

// Store is a TTL key-value store. The spread controller and volume
// metrics are written against this interface so tests can inject a
// deterministic store and production can swap in a shared backend.
type Store interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration)
	Delete(key string)
}

type item struct {
	value     interface{}
	expiresAt time.Time
}

// MemoryStore is an in-memory Store with lazy expiry on read and a
// background sweep for abandoned keys.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]item

	sweepTicker *time.Ticker
	stopSweep   chan struct{}
	stopOnce    sync.Once
}

// NewMemoryStore creates a store sweeping expired entries every minute.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		items:       make(map[string]item),
		sweepTicker: time.NewTicker(time.Minute),
		stopSweep:   make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *MemoryStore) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()

	if !ok || time.Now().After(it.expiresAt) {
		return nil, false
	}
	return it.value, true
}

// Set stores the value for ttl. A non-positive ttl means no expiry.
func (s *MemoryStore) Set(key string, value interface{}, ttl time.Duration) {
	expires := time.Now().Add(ttl)
	if ttl <= 0 {
		expires = time.Now().Add(100 * 365 * 24 * time.Hour)
	}

	s.mu.Lock()
	s.items[key] = item{value: value, expiresAt: expires}
	s.mu.Unlock()
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Close stops the background sweep.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() {
		s.sweepTicker.Stop()
		close(s.stopSweep)
	})
}

func (s *MemoryStore) sweepLoop() {
	for {
		select {
		case <-s.stopSweep:
			return
		case <-s.sweepTicker.C:
			now := time.Now()
			s.mu.Lock()
			for k, it := range s.items {
				if now.After(it.expiresAt) {
					delete(s.items, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

// GetFloat reads a float64 value, returning fallback when the key is
// missing, expired, or holds a different type.
func GetFloat(s Store, key string, fallback float64) float64 {
	v, ok := s.Get(key)
	if !ok {
		return fallback
	}
	f, ok := v.(float64)
	if !ok {
		return fallback
	}
	return f
}

// GetFloats reads a []float64 value, returning nil when absent.
func GetFloats(s Store, key string) []float64 {
	v, ok := s.Get(key)
	if !ok {
		return nil
	}
	fs, ok := v.([]float64)
	if !ok {
		return nil
	}
	return fs
}
