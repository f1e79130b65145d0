package service

import (
	"sync"

	"github.com/kjstillabower/forecast-cache-service/internal/observability"
)

// stampedeTracker counts provider fetches in flight per key. Without coalescing every
// concurrent miss issues its own provider call and may insert a duplicate record,
// so overlap is reported as a stampede.
type stampedeTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{active: make(map[string]int)}
}

// begin registers a fetch for key and returns how many fetches for key are now in flight,
// including this one, and a release func that must be called when the fetch finishes.
// Overlapping fetches are counted under the record label.
func (st *stampedeTracker) begin(key, record string) (int, func()) {
	st.mu.Lock()
	st.active[key]++
	n := st.active[key]
	st.mu.Unlock()

	if n > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(record).Inc()
		observability.CacheStampedeConcurrency.WithLabelValues(record).Observe(float64(n))
	}

	var once sync.Once
	return n, func() {
		once.Do(func() { st.release(key) })
	}
}

func (st *stampedeTracker) release(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.active[key] <= 1 {
		delete(st.active, key)
		return
	}
	st.active[key]--
}

// inFlight returns the number of fetches currently registered for key.
func (st *stampedeTracker) inFlight(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active[key]
}
