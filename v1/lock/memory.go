package lock

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// link is one entry of a per-key operation chain. done is closed once the
// operation settled, whatever its outcome.
type link struct {
	done chan struct{}
}

// Serializer runs operations sharing a key strictly one after the other.
type Serializer struct {
	mu      sync.Mutex
	tails   map[any]*link
	pending map[any]int

	waitHist  prometheus.Histogram
	keysGauge prometheus.Gauge
}

// Option configures a Serializer.
type Option func(*Serializer)

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Serializer) {
		s.waitHist = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ipcbridge_lock_wait_seconds",
			Help:    "Time spent queued behind earlier operations on the same key",
			Buckets: prometheus.DefBuckets,
		})
		s.keysGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ipcbridge_lock_keys",
			Help: "Current number of keys with queued or running operations",
		})
		reg.MustRegister(s.waitHist, s.keysGauge)
	}
}

// New returns an empty Serializer.
func New(opts ...Option) *Serializer {
	s := &Serializer{
		tails:   make(map[any]*link),
		pending: make(map[any]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// enqueue appends a new link for key and returns it along with the link it
// must wait for. prev is nil when the chain was idle.
func (s *Serializer) enqueue(key any) (prev, next *link) {
	next = &link{done: make(chan struct{})}
	s.mu.Lock()
	prev = s.tails[key]
	s.tails[key] = next
	s.pending[key]++
	if prev == nil && s.keysGauge != nil {
		s.keysGauge.Inc()
	}
	s.mu.Unlock()
	return prev, next
}

// settle marks next as done and drops the key if nothing was queued after it.
func (s *Serializer) settle(key any, next *link) {
	s.mu.Lock()
	if s.pending[key]--; s.pending[key] == 0 {
		delete(s.pending, key)
	}
	if s.tails[key] == next {
		delete(s.tails, key)
		if s.keysGauge != nil {
			s.keysGauge.Dec()
		}
	}
	s.mu.Unlock()
	close(next.done)
}

// WithLock runs fn once every operation previously submitted for key has
// settled, and returns fn's own error. key must be comparable.
func (s *Serializer) WithLock(key any, fn func() error) error {
	_, err := Do(s, key, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Do is the value-returning form of WithLock.
func Do[T any](s *Serializer, key any, fn func() (T, error)) (T, error) {
	prev, next := s.enqueue(key)
	defer s.settle(key, next)

	if prev != nil {
		start := time.Now()
		<-prev.done
		if s.waitHist != nil {
			s.waitHist.Observe(time.Since(start).Seconds())
		}
	}
	return fn()
}

// Pending returns the number of operations queued or running for key.
func (s *Serializer) Pending(key any) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[key]
}

// Len returns the number of keys with queued or running operations.
func (s *Serializer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tails)
}
