// Package timesync pairs samples from two independently arriving streams
// whose timestamps fall within a tolerance of each other.
//
// Pairing policy: among the buffered, unconsumed samples, the candidate pairs
// are those with |tA - tB| <= Tolerance. The pair whose newer stamp is latest
// wins, ties going to the pair whose older stamp is later. Once a pair is
// emitted, it and every older sample of both streams are discarded. Each
// stream holds at most QueueSize samples, all within Horizon of the stamp
// most recently added to that stream. A sample stamped far ahead of the
// rest of its stream therefore leaves with the next arrival instead of
// holding the window open. Unpaired samples are dropped silently.
package timesync

import (
	"sort"
	"sync"
	"time"
)

// Config holds the correlation parameters.
type Config struct {
	// Tolerance is the largest stamp difference that still counts as the
	// same instant.
	Tolerance time.Duration
	// QueueSize bounds the number of buffered samples per stream.
	QueueSize int
	// Horizon bounds how far a buffered sample may be from the stamp most
	// recently added to its stream, in either direction.
	Horizon time.Duration
}

// DefaultConfig returns 100ms tolerance, 10 samples per stream and a 1s
// horizon.
func DefaultConfig() Config {
	return Config{
		Tolerance: 100 * time.Millisecond,
		QueueSize: 10,
		Horizon:   time.Second,
	}
}

// Stats counts synchronizer activity.
type Stats struct {
	Pairs         uint64 `json:"pairs"`
	DroppedFirst  uint64 `json:"dropped_first"`
	DroppedSecond uint64 `json:"dropped_second"`
	PendingFirst  int    `json:"pending_first"`
	PendingSecond int    `json:"pending_second"`
}

type sample[T any] struct {
	stamp time.Time
	value T
}

// Synchronizer correlates a stream of A with a stream of B.
type Synchronizer[A, B any] struct {
	cfg    Config
	stampA func(A) time.Time
	stampB func(B) time.Time

	mu       sync.Mutex
	first    []sample[A]
	second   []sample[B]
	callback func(A, B)
	stats    Stats
}

// New creates a Synchronizer. stampA and stampB extract the timestamp used
// for correlation from each sample.
func New[A, B any](cfg Config, stampA func(A) time.Time, stampB func(B) time.Time) *Synchronizer[A, B] {
	def := DefaultConfig()
	if cfg.QueueSize < 1 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	if cfg.Tolerance < 0 {
		cfg.Tolerance = 0
	}
	return &Synchronizer[A, B]{
		cfg:    cfg,
		stampA: stampA,
		stampB: stampB,
	}
}

// Config returns the effective configuration.
func (s *Synchronizer[A, B]) Config() Config {
	return s.cfg
}

// RegisterCallback sets the function invoked with each matched pair. The
// callback runs on the goroutine that added the completing sample, after
// the synchronizer's lock is released.
func (s *Synchronizer[A, B]) RegisterCallback(fn func(A, B)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = fn
}

// AddFirst buffers a sample of the first stream and emits a pair if one
// is now available.
func (s *Synchronizer[A, B]) AddFirst(a A) {
	s.mu.Lock()
	stamp := s.stampA(a)
	var n int
	s.first, n = admit(s.first, sample[A]{stamp: stamp, value: a}, s.cfg.Horizon, s.cfg.QueueSize)
	s.stats.DroppedFirst += uint64(n)
	s.emit()
}

// AddSecond buffers a sample of the second stream and emits a pair if one
// is now available.
func (s *Synchronizer[A, B]) AddSecond(b B) {
	s.mu.Lock()
	stamp := s.stampB(b)
	var n int
	s.second, n = admit(s.second, sample[B]{stamp: stamp, value: b}, s.cfg.Horizon, s.cfg.QueueSize)
	s.stats.DroppedSecond += uint64(n)
	s.emit()
}

// Stats returns a snapshot of the counters.
func (s *Synchronizer[A, B]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.PendingFirst = len(s.first)
	st.PendingSecond = len(s.second)
	return st
}

// Reset discards all buffered samples. Counters are kept.
func (s *Synchronizer[A, B]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.first = nil
	s.second = nil
}

// emit searches for a pair and unlocks s.mu before running the callback.
func (s *Synchronizer[A, B]) emit() {
	ai, bi, ok := s.bestPair()
	if !ok {
		s.mu.Unlock()
		return
	}

	a := s.first[ai].value
	b := s.second[bi].value
	s.stats.DroppedFirst += uint64(ai)
	s.stats.DroppedSecond += uint64(bi)
	s.stats.Pairs++
	s.first = append(s.first[:0:0], s.first[ai+1:]...)
	s.second = append(s.second[:0:0], s.second[bi+1:]...)
	cb := s.callback
	s.mu.Unlock()

	if cb != nil {
		cb(a, b)
	}
}

func (s *Synchronizer[A, B]) bestPair() (ai, bi int, ok bool) {
	var bestNewer, bestOlder time.Time
	for i := range s.first {
		ta := s.first[i].stamp
		for j := range s.second {
			tb := s.second[j].stamp
			if absDuration(ta.Sub(tb)) > s.cfg.Tolerance {
				continue
			}
			newer, older := ta, tb
			if tb.After(ta) {
				newer, older = tb, ta
			}
			if !ok || newer.After(bestNewer) || (newer.Equal(bestNewer) && older.After(bestOlder)) {
				ai, bi, ok = i, j, true
				bestNewer, bestOlder = newer, older
			}
		}
	}
	return ai, bi, ok
}

// insertSorted keeps the stream ordered by stamp; equal stamps keep arrival
// order.
func insertSorted[T any](q []sample[T], s sample[T]) []sample[T] {
	i := sort.Search(len(q), func(i int) bool { return q[i].stamp.After(s.stamp) })
	q = append(q, sample[T]{})
	copy(q[i+1:], q[i:])
	q[i] = s
	return q
}

// admit inserts smp into q and drops every sample further than horizon
// from smp's stamp, then the oldest samples beyond max. It returns the new
// queue and the number of samples dropped.
func admit[T any](q []sample[T], smp sample[T], horizon time.Duration, max int) ([]sample[T], int) {
	q = insertSorted(q, smp)
	lo, hi := smp.stamp.Add(-horizon), smp.stamp.Add(horizon)

	kept := q[:0:0]
	for _, v := range q {
		if v.stamp.Before(lo) || v.stamp.After(hi) {
			continue
		}
		kept = append(kept, v)
	}
	if len(kept) > max {
		kept = append(kept[:0:0], kept[len(kept)-max:]...)
	}
	return kept, len(q) - len(kept)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
