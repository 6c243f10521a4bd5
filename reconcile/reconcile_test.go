package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/lucasjlepore/wear-epochs/epoch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

const step = 30 * time.Second

func records(idx ...int) []epoch.Record {
	out := make([]epoch.Record, 0, len(idx))
	for n, i := range idx {
		out = append(out, epoch.Record{
			Timestamp:    t0.Add(time.Duration(i) * step),
			Counts:       [epoch.MaxAxes]uint32{uint32(100 + i), 1, 2},
			Axes:         3,
			SourceOffset: int64(18 + n*10),
		})
	}
	return out
}

func TestTwoHourGapIsFilled(t *testing.T) {
	// 10 records, then the device resumes 2 hours (240 epochs) later.
	idx := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	for i := 250; i < 260; i++ {
		idx = append(idx, i)
	}
	in := records(idx...)

	r := New(step, 120)
	out, err := epoch.Collect(r.Reconcile(epoch.FromSlice(in)))
	require.NoError(t, err)

	stats := r.Stats()
	assert.Equal(t, 240, stats.Inserted)
	assert.Equal(t, len(in), stats.Input)
	assert.Equal(t, len(in)+240, len(out))
	assert.Equal(t, stats.Output(), len(out))

	require.Len(t, stats.Gaps, 1)
	gap := stats.Gaps[0]
	assert.Equal(t, 240, gap.Epochs)
	assert.True(t, gap.Long)
	assert.True(t, gap.Start.Equal(t0.Add(10*step)))
	assert.True(t, gap.End.Equal(t0.Add(249*step)))
	assert.Equal(t, in[9].SourceOffset, gap.AfterOffset)

	for i := 10; i < 250; i++ {
		assert.True(t, out[i].Gap, "epoch %d should be a placeholder", i)
		assert.Equal(t, epoch.SyntheticOffset, out[i].SourceOffset)
		assert.Equal(t, [epoch.MaxAxes]uint32{}, out[i].Counts)
		assert.Equal(t, 3, out[i].Axes)
	}
	assert.False(t, out[250].Gap)
}

func TestOutputIsContinuous(t *testing.T) {
	in := records(0, 3, 4, 9, 10, 11, 40)
	r := New(step, 0)
	out, err := epoch.Collect(r.Reconcile(epoch.FromSlice(in)))
	require.NoError(t, err)

	assert.Equal(t, len(in)+r.Stats().Inserted, len(out))
	for i := 1; i < len(out); i++ {
		assert.Equal(t, step, out[i].Timestamp.Sub(out[i-1].Timestamp), "step at %d", i)
	}
	for _, g := range r.Stats().Gaps {
		assert.False(t, g.Long)
	}

	seen := 0
	for _, rec := range out {
		if !rec.Gap {
			assert.Equal(t, in[seen], rec)
			seen++
		}
	}
	assert.Equal(t, len(in), seen)
}

func TestTimestampErrors(t *testing.T) {
	dup := records(0, 1, 1)
	_, err := epoch.Collect(New(step, 0).Reconcile(epoch.FromSlice(dup)))
	var nm *NonMonotonicTimestampError
	require.True(t, errors.As(err, &nm), "got %v", err)
	assert.Equal(t, dup[2].SourceOffset, nm.Offset)

	back := records(0, 5, 2)
	_, err = epoch.Collect(New(step, 0).Reconcile(epoch.FromSlice(back)))
	require.True(t, errors.As(err, &nm), "got %v", err)

	skew := records(0, 1)
	skew = append(skew, epoch.Record{Timestamp: t0.Add(2*step + 7*time.Second), Axes: 3, SourceOffset: 38})
	out, err := epoch.Collect(New(step, 0).Reconcile(epoch.FromSlice(skew)))
	var ma *MisalignedTimestampError
	require.True(t, errors.As(err, &ma), "got %v", err)
	assert.Equal(t, int64(38), ma.Offset)
	assert.Len(t, out, 2)
}

func TestUpstreamErrorPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	_, err := epoch.Collect(New(step, 0).Reconcile(epoch.Fail[epoch.Record](boom)))
	assert.ErrorIs(t, err, boom)
}

func TestStatsResetPerPass(t *testing.T) {
	r := New(step, 0)
	seq := r.Reconcile(epoch.FromSlice(records(0, 3)))
	for range 2 {
		_, err := epoch.Collect(seq)
		require.NoError(t, err)
		assert.Equal(t, 2, r.Stats().Inserted)
	}
}
