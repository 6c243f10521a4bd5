package label

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/lucasjlepore/wear-epochs/config"
	"github.com/lucasjlepore/wear-epochs/epoch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const step = 30 * time.Second

func testConfig() config.Config {
	cfg := config.Default()
	cfg.NonWearMinWindowEpochs = 120
	cfg.NonWearZeroThreshold = 10
	return cfg
}

// stream builds single-axis records starting at start, one per activity value.
// A negative value yields a gap placeholder.
func stream(start time.Time, values []int) []epoch.Record {
	out := make([]epoch.Record, len(values))
	for i, v := range values {
		ts := start.Add(time.Duration(i) * step)
		if v < 0 {
			out[i] = epoch.Placeholder(ts, 1)
			continue
		}
		out[i] = epoch.Record{Timestamp: ts, Counts: [epoch.MaxAxes]uint32{uint32(v)}, Axes: 1, SourceOffset: int64(i)}
	}
	return out
}

func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func concat(parts ...[]int) []int {
	var out []int
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func labelAll(t *testing.T, l *Labeler, recs []epoch.Record) []epoch.Labeled {
	t.Helper()
	out, err := epoch.Collect(l.Label(epoch.FromSlice(recs)))
	require.NoError(t, err)
	require.Len(t, out, len(recs))
	return out
}

func TestEightHoursZeroThenActive(t *testing.T) {
	l, err := New(testConfig())
	require.NoError(t, err)

	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	recs := stream(start, concat(repeat(0, 960), repeat(500, 1920)))
	out := labelAll(t, l, recs)

	for i, e := range out[:960] {
		require.Equal(t, epoch.StateNonWear, e.State, "epoch %d", i)
		require.Equal(t, epoch.RuleNonWear, e.Rule)
		require.False(t, e.Demoted)
	}
	for i, e := range out[960:] {
		require.Equal(t, epoch.StateActiveVigorous, e.State, "epoch %d", 960+i)
		require.Equal(t, epoch.RuleIntensityVigorous, e.Rule)
	}
}

func TestShortZeroRunIsDemoted(t *testing.T) {
	l, err := New(testConfig())
	require.NoError(t, err)

	start := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	out := labelAll(t, l, stream(start, concat(repeat(200, 10), repeat(0, 50), repeat(200, 10))))

	for i, e := range out {
		if i >= 10 && i < 60 {
			assert.True(t, e.Demoted, "epoch %d", i)
			assert.Equal(t, epoch.StateSedentary, e.State)
			assert.Equal(t, epoch.RuleIntensitySedentary, e.Rule)
			continue
		}
		assert.False(t, e.Demoted)
		assert.Equal(t, epoch.StateActiveModerate, e.State)
	}
}

func TestGapsBreakNonWearRuns(t *testing.T) {
	l, err := New(testConfig())
	require.NoError(t, err)

	start := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	// 100 zeros + gap + 100 zeros: neither side reaches the 120 epoch window.
	out := labelAll(t, l, stream(start, concat(repeat(0, 100), repeat(-1, 5), repeat(0, 100))))
	for i, e := range out {
		if i >= 100 && i < 105 {
			assert.Equal(t, epoch.StateGap, e.State)
			assert.Equal(t, epoch.RuleGap, e.Rule)
			continue
		}
		assert.Equal(t, epoch.StateSedentary, e.State, "epoch %d", i)
		assert.True(t, e.Demoted)
	}
}

func TestSleepRuns(t *testing.T) {
	cfg := testConfig()
	cfg.SleepMinRunEpochs = 60
	l, err := New(cfg)
	require.NoError(t, err)

	start := time.Date(2024, 6, 3, 23, 0, 0, 0, time.UTC)
	// 80 quiet epochs (sleep), 10 active, 30 quiet (too short), then 70 zeros:
	// the zeros are too short for non-wear but long enough to sleep.
	out := labelAll(t, l, stream(start, concat(repeat(20, 80), repeat(300, 10), repeat(20, 30), repeat(200, 1), repeat(0, 70))))

	for i, e := range out {
		switch {
		case i < 80:
			assert.Equal(t, epoch.StateSleep, e.State, "epoch %d", i)
			assert.Equal(t, epoch.RuleSleep, e.Rule)
		case i < 90:
			assert.Equal(t, epoch.StateActiveModerate, e.State, "epoch %d", i)
		case i < 120:
			assert.Equal(t, epoch.StateSedentary, e.State, "epoch %d", i)
		case i == 120:
			assert.Equal(t, epoch.StateActiveModerate, e.State)
		default:
			assert.Equal(t, epoch.StateSleep, e.State, "epoch %d", i)
			assert.True(t, e.Demoted)
		}
	}
}

func TestSleepWindowWrapsMidnight(t *testing.T) {
	l, err := New(testConfig())
	require.NoError(t, err)

	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	assert.True(t, l.InSleepWindow(day.Add(23*time.Hour)))
	assert.True(t, l.InSleepWindow(day.Add(2*time.Hour)))
	assert.False(t, l.InSleepWindow(day.Add(7*time.Hour)))
	assert.False(t, l.InSleepWindow(day.Add(12*time.Hour)))

	cfg := testConfig()
	cfg.Timezone = "America/New_York"
	ny, err := New(cfg)
	require.NoError(t, err)
	// 03:00 UTC is 23:00 in New York during daylight time.
	assert.True(t, ny.InSleepWindow(time.Date(2024, 6, 4, 3, 0, 0, 0, time.UTC)))
	assert.False(t, ny.InSleepWindow(time.Date(2024, 6, 4, 12, 0, 0, 0, time.UTC)))
}

func TestActivityCalibration(t *testing.T) {
	cfg := testConfig()
	cfg.Calibration = []config.Calibration{{Gain: 2, Offset: 10}, {Gain: 1, Offset: 0}, {Gain: 1, Offset: 4}}
	l, err := New(cfg)
	require.NoError(t, err)

	rec := epoch.Record{Counts: [epoch.MaxAxes]uint32{16, 4, 4}, Axes: 3}
	assert.InDelta(t, 5.0, l.Activity(rec), 1e-9) // (3, 4, 0)

	single := epoch.Record{Counts: [epoch.MaxAxes]uint32{30}, Axes: 1}
	assert.InDelta(t, 10.0, l.Activity(single), 1e-9)
}

func TestNonWearUsesRawCounts(t *testing.T) {
	cfg := testConfig()
	cfg.Calibration = []config.Calibration{{Gain: 1, Offset: 50}}
	l, err := New(cfg)
	require.NoError(t, err)

	start := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	out := labelAll(t, l, stream(start, repeat(0, 120)))
	for _, e := range out {
		require.Equal(t, epoch.StateNonWear, e.State)
	}
	assert.InDelta(t, 50.0, out[0].Activity, 1e-9)

	// Every axis at 8 is near zero although the norm is about 13.9.
	plain, err := New(testConfig())
	require.NoError(t, err)
	assert.True(t, plain.NearZero(epoch.Record{Counts: [epoch.MaxAxes]uint32{8, 8, 8}, Axes: 3}))
	assert.False(t, plain.NearZero(epoch.Record{Counts: [epoch.MaxAxes]uint32{0, 11, 0}, Axes: 3}))
}

func TestLabelingIsDeterministicAndTotal(t *testing.T) {
	l, err := New(testConfig())
	require.NoError(t, err)

	start := time.Date(2024, 6, 3, 21, 0, 0, 0, time.UTC)
	values := make([]int, 0, 3000)
	for i := 0; i < 3000; i++ {
		switch {
		case i%997 < 150:
			values = append(values, 0)
		case i%400 == 7:
			values = append(values, -1)
		default:
			values = append(values, (i*53)%600)
		}
	}
	recs := stream(start, values)

	first := labelAll(t, l, recs)
	second := labelAll(t, l, recs)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("labeling is not deterministic (-first +second):\n%s", diff)
	}

	valid := map[epoch.State]bool{}
	for _, s := range epoch.States() {
		valid[s] = true
	}
	for i, e := range first {
		require.True(t, valid[e.State], "epoch %d has state %v", i, e.State)
		require.NotEmpty(t, e.Rule)
		require.True(t, e.Timestamp.Equal(recs[i].Timestamp), "order changed at %d", i)
		require.Equal(t, recs[i].Gap, e.State == epoch.StateGap)
	}
}

func TestLabelStopsEarlyAndPropagatesErrors(t *testing.T) {
	l, err := New(testConfig())
	require.NoError(t, err)

	start := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	n := 0
	for range l.Label(epoch.FromSlice(stream(start, repeat(500, 100)))) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)

	boom := errors.New("boom")
	_, err = epoch.Collect(l.Label(epoch.Fail[epoch.Record](boom)))
	assert.ErrorIs(t, err, boom)
}

func TestNewRejectsInvalidThresholds(t *testing.T) {
	cfg := testConfig()
	cfg.ActivityThresholds = []float64{100, 50, 200}
	_, err := New(cfg)
	var ce *config.ConfigurationError
	assert.True(t, errors.As(err, &ce))
}

func TestRulesOrder(t *testing.T) {
	l, err := New(testConfig())
	require.NoError(t, err)
	rules := l.Rules()
	require.Len(t, rules, 7)
	assert.Equal(t, epoch.RuleGap, rules[0])
	assert.Equal(t, epoch.RuleNonWear, rules[1])
	assert.Equal(t, epoch.RuleSleep, rules[2])
}
