package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(open time.Time, close float64) *Kline {
	return &Kline{OpenTime: open, Symbol: "BTCUSDT", Interval: "3m", Open: close, High: close, Low: close, Close: close}
}

func TestSeries_Append(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	step := 3 * time.Minute

	tests := []struct {
		name       string
		bars       []*Kline
		wantCloses []float64
		wantLast   AppendResult
		wantErr    error
	}{
		{
			name:       "ascending bars are appended",
			bars:       []*Kline{bar(base, 1), bar(base.Add(step), 2), bar(base.Add(2*step), 3)},
			wantCloses: []float64{1, 2, 3},
			wantLast:   Appended,
		},
		{
			name:       "same open time replaces tail",
			bars:       []*Kline{bar(base, 1), bar(base.Add(step), 2), bar(base.Add(step), 2.5)},
			wantCloses: []float64{1, 2.5},
			wantLast:   ReplacedTail,
		},
		{
			name:       "older bar is rejected",
			bars:       []*Kline{bar(base, 1), bar(base.Add(step), 2), bar(base, 9)},
			wantCloses: []float64{1, 2},
			wantLast:   Rejected,
			wantErr:    ErrStaleKline,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSeries("BTCUSDT", "3m", 10)
			var res AppendResult
			var err error
			for _, b := range tt.bars {
				res, err = s.Append(b)
			}
			assert.Equal(t, tt.wantLast, res)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
			} else {
				assert.NoError(t, err)
			}

			got := s.Last(0)
			require.Len(t, got, len(tt.wantCloses))
			for i, k := range got {
				assert.Equal(t, tt.wantCloses[i], k.Close)
			}
		})
	}
}

func TestSeries_EvictsOldestAtCapacity(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	s := NewSeries("ETHUSDT", "1m", 3)
	for i := 0; i < 5; i++ {
		_, err := s.Append(bar(base.Add(time.Duration(i)*time.Minute), float64(i)))
		require.NoError(t, err)
	}

	got := s.Last(0)
	require.Len(t, got, 3)
	assert.Equal(t, 2.0, got[0].Close)
	assert.Equal(t, 4.0, got[2].Close)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].OpenTime.After(got[i-1].OpenTime), "series must stay strictly ascending")
	}
}

func TestSeries_LastReturnsCopy(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	s := NewSeries("ETHUSDT", "1m", 10)
	for i := 0; i < 4; i++ {
		_, _ = s.Append(bar(base.Add(time.Duration(i)*time.Minute), float64(i)))
	}

	last2 := s.Last(2)
	require.Len(t, last2, 2)
	assert.Equal(t, 2.0, last2[0].Close)

	last2[0] = nil
	assert.NotNil(t, s.Last(2)[0], "mutating the returned slice must not affect the series")
	assert.Len(t, s.Last(100), 4)
	assert.Equal(t, 3.0, s.Latest().Close)
}

func TestSeries_Backfill(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	s := NewSeries("ETHUSDT", "1m", 5)
	_, _ = s.Append(bar(base.Add(3*time.Minute), 3))
	_, _ = s.Append(bar(base.Add(4*time.Minute), 4))

	history := []*Kline{
		bar(base, 0),
		bar(base.Add(1*time.Minute), 1),
		bar(base.Add(2*time.Minute), 2),
		bar(base.Add(3*time.Minute), 99), // overlaps stream data, ignored
	}
	added := s.Backfill(history)
	assert.Equal(t, 3, added)

	got := s.Last(0)
	require.Len(t, got, 5)
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, []float64{got[0].Close, got[1].Close, got[2].Close, got[3].Close, got[4].Close})

	assert.Equal(t, 0, s.Backfill(history), "full series accepts no more history")
}

func TestSeries_EmptyLatest(t *testing.T) {
	s := NewSeries("ETHUSDT", "1m", 0)
	assert.Nil(t, s.Latest())
	assert.Equal(t, DefaultSeriesCapacity, s.Capacity())
	assert.True(t, s.UpdatedAt().IsZero())
}
