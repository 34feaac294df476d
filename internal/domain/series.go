package domain

import (
	"errors"
	"sync"
	"time"
)

// DefaultSeriesCapacity bounds a rolling series.
const DefaultSeriesCapacity = 500

// ErrStaleKline is returned when a bar is older than the series tail.
var ErrStaleKline = errors.New("kline is older than series tail")

// AppendResult reports what Append did with a bar.
type AppendResult int

const (
	Appended AppendResult = iota
	ReplacedTail
	Rejected
)

// Series is a bounded, strictly ascending sequence of klines for one
// symbol and interval. It is safe for concurrent use: a single writer
// (the stream handler) and any number of readers.
type Series struct {
	mu        sync.RWMutex
	symbol    string
	interval  string
	capacity  int
	klines    []*Kline
	updatedAt time.Time
}

// NewSeries creates an empty series. A non-positive capacity uses DefaultSeriesCapacity.
func NewSeries(symbol, interval string, capacity int) *Series {
	if capacity <= 0 {
		capacity = DefaultSeriesCapacity
	}
	return &Series{
		symbol:   symbol,
		interval: interval,
		capacity: capacity,
		klines:   make([]*Kline, 0, capacity),
	}
}

// Symbol returns the series symbol.
func (s *Series) Symbol() string { return s.symbol }

// Interval returns the series interval.
func (s *Series) Interval() string { return s.interval }

// Capacity returns the maximum number of bars retained.
func (s *Series) Capacity() int { return s.capacity }

// Append merges a bar into the series. A bar with the same open time as the
// tail replaces it, a newer bar is appended (evicting the oldest when full),
// and an older bar is rejected with ErrStaleKline.
func (s *Series) Append(k *Kline) (AppendResult, error) {
	if k == nil {
		return Rejected, errors.New("nil kline")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.klines)
	if n > 0 {
		tail := s.klines[n-1]
		switch {
		case k.OpenTime.Equal(tail.OpenTime):
			s.klines[n-1] = k
			s.updatedAt = time.Now()
			return ReplacedTail, nil
		case k.OpenTime.Before(tail.OpenTime):
			return Rejected, ErrStaleKline
		}
	}

	if n >= s.capacity {
		// Shift instead of reslicing so the backing array does not grow unbounded.
		copy(s.klines, s.klines[1:])
		s.klines[n-1] = k
	} else {
		s.klines = append(s.klines, k)
	}
	s.updatedAt = time.Now()
	return Appended, nil
}

// Backfill merges historical bars strictly older than the current head into
// the front of the series. Bars overlapping existing data are ignored, so
// stream data always wins. Returns the number of bars added.
func (s *Series) Backfill(history []*Kline) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var head time.Time
	if len(s.klines) > 0 {
		head = s.klines[0].OpenTime
	}

	older := make([]*Kline, 0, len(history))
	var last time.Time
	for _, k := range history {
		if k == nil {
			continue
		}
		if !head.IsZero() && !k.OpenTime.Before(head) {
			break
		}
		if len(older) > 0 && !k.OpenTime.After(last) {
			continue
		}
		older = append(older, k)
		last = k.OpenTime
	}
	if len(older) == 0 {
		return 0
	}

	room := s.capacity - len(s.klines)
	if room <= 0 {
		return 0
	}
	if len(older) > room {
		older = older[len(older)-room:]
	}
	merged := make([]*Kline, 0, s.capacity)
	merged = append(merged, older...)
	merged = append(merged, s.klines...)
	s.klines = merged
	if s.updatedAt.IsZero() {
		s.updatedAt = time.Now()
	}
	return len(older)
}

// Last returns a copy of the newest limit bars in ascending order.
// A non-positive limit returns everything.
func (s *Series) Last(limit int) []*Kline {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.klines)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Kline, limit)
	copy(out, s.klines[n-limit:])
	return out
}

// Latest returns the tail bar, or nil when the series is empty.
func (s *Series) Latest() *Kline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.klines) == 0 {
		return nil
	}
	return s.klines[len(s.klines)-1]
}

// Len returns the number of bars held.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.klines)
}

// UpdatedAt is the wall-clock time of the last accepted write.
func (s *Series) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}
