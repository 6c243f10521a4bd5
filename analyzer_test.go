package wearepochs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/lucasjlepore/wear-epochs/aggregate"
	"github.com/lucasjlepore/wear-epochs/binfile"
	"github.com/lucasjlepore/wear-epochs/config"
	"github.com/lucasjlepore/wear-epochs/epoch"
	"github.com/lucasjlepore/wear-epochs/internal/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var midnight = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.NonWearMinWindowEpochs = 120
	cfg.NonWearZeroThreshold = 10
	return cfg
}

func TestAnalyzeFileNonWearMorning(t *testing.T) {
	rec := fixture.Default(midnight, fixture.Hours(8, 0), fixture.Hours(16, 500))
	path, err := rec.WriteFile(t.TempDir(), "P-017.bin")
	require.NoError(t, err)

	a, err := AnalyzeFile(context.Background(), path, testConfig(), Options{KeepEpochs: true})
	require.NoError(t, err)

	assert.Equal(t, "P-017", a.ParticipantID)
	assert.Equal(t, path, a.FilePath)
	assert.Equal(t, "geneactiv-epoch-v1", a.Format)
	assert.Equal(t, 2880, a.TotalEpochs)
	assert.Equal(t, 960, a.StateEpochs[epoch.StateNonWear])
	assert.Equal(t, 1920, a.StateEpochs[epoch.StateActiveVigorous])
	assert.Len(t, a.Epochs, 2880)
	assert.True(t, a.EndTime.Equal(midnight.Add(24*time.Hour)))

	require.Len(t, a.Days, 1)
	assert.InDelta(t, 960, a.Days[0].WearMinutes, 1e-9)
	require.NotNil(t, a.Vector)
	v, ok := a.Vector.Get("total_active_vigorous_minutes")
	require.True(t, ok)
	assert.InDelta(t, 960, v, 1e-9)

	require.Len(t, a.Audit, 2)
	assert.Equal(t, AuditStateRun, a.Audit[0].Kind)
	assert.Equal(t, epoch.RuleNonWear, a.Audit[0].Rule)
	assert.Equal(t, 960, a.Audit[0].Epochs)
	assert.Equal(t, int64(a.Header.Size), a.Audit[0].FirstOffset)
	assert.Equal(t, epoch.RuleIntensityVigorous, a.Audit[1].Rule)

	assert.Contains(t, a.Notes, "NON_WEAR: 8h00m")
}

func TestAnalyzeReaderFillsGaps(t *testing.T) {
	rec := fixture.Default(midnight,
		fixture.Hours(11, 300),
		fixture.Segment{Epochs: 240, Missing: true},
		fixture.Hours(11, 300),
	)
	rec.Profile = binfile.DefaultProfiles()[1]
	rec.Axes = 3
	data, err := rec.Bytes()
	require.NoError(t, err)

	a, err := AnalyzeReader(context.Background(), bytes.NewReader(data), int64(len(data)), testConfig(), Options{ParticipantID: "p9"})
	require.NoError(t, err)
	assert.Equal(t, 240, a.GapEpochs)
	assert.Equal(t, 2640, a.SourceEpochs)
	assert.Equal(t, 2880, a.TotalEpochs)
	require.Len(t, a.Gaps, 1)
	assert.True(t, a.Gaps[0].Long)

	var gapEntries []AuditEntry
	for _, e := range a.Audit {
		if e.Kind == AuditGap {
			gapEntries = append(gapEntries, e)
		}
	}
	require.Len(t, gapEntries, 1)
	assert.Equal(t, 240, gapEntries[0].Epochs)
	assert.Equal(t, 240, a.StateEpochs[epoch.StateGap])
	assert.Contains(t, a.Notes, "Long gaps")
}

func TestAuditIsChronological(t *testing.T) {
	rec := fixture.Default(midnight,
		fixture.Hours(1, 300),
		fixture.Segment{Epochs: 30, Count: 0},
		fixture.Hours(1, 300),
		fixture.Segment{Epochs: 10, Missing: true},
		fixture.Hours(1, 300),
	)
	data, err := rec.Bytes()
	require.NoError(t, err)

	a, err := AnalyzeReader(context.Background(), bytes.NewReader(data), int64(len(data)), testConfig(), Options{ParticipantID: "p"})
	var insufficient *aggregate.InsufficientValidDaysError
	require.True(t, errors.As(err, &insufficient), "got %v", err)

	kinds := make([]AuditKind, len(a.Audit))
	for i, e := range a.Audit {
		kinds[i] = e.Kind
		if i > 0 {
			assert.False(t, e.First.Before(a.Audit[i-1].First), "entry %d starts before entry %d", i, i-1)
		}
	}
	assert.Equal(t, []AuditKind{
		AuditStateRun,
		AuditDayExcluded,
		AuditStateRun,
		AuditDemotedRun,
		AuditStateRun,
		AuditStateRun,
		AuditGap,
		AuditStateRun,
	}, kinds)
	assert.Equal(t, epoch.RuleIntensitySedentary, a.Audit[2].Rule)
	assert.Equal(t, epoch.RuleGap, a.Audit[5].Rule)
}

func TestAnalyzeExcludedParticipant(t *testing.T) {
	rec := fixture.Default(midnight, fixture.Hours(2, 300))
	data, err := rec.Bytes()
	require.NoError(t, err)

	a, err := AnalyzeReader(context.Background(), bytes.NewReader(data), int64(len(data)), testConfig(), Options{ParticipantID: "short"})
	var insufficient *aggregate.InsufficientValidDaysError
	require.True(t, errors.As(err, &insufficient), "got %v", err)
	require.NotNil(t, a)
	assert.Nil(t, a.Vector)
	assert.Len(t, a.Excluded, 1)
	assert.Equal(t, AuditDayExcluded, a.Audit[len(a.Audit)-1].Kind)
	assert.Contains(t, a.Notes, "No feature vector")
}

func TestAnalyzeFailures(t *testing.T) {
	ctx := context.Background()

	_, err := AnalyzeReader(ctx, strings.NewReader("nope"), 4, testConfig(), Options{ParticipantID: "x"})
	var fe *binfile.FormatError
	assert.True(t, errors.As(err, &fe), "got %v", err)

	rec := fixture.Default(midnight, fixture.Hours(1, 300))
	data, err := rec.Bytes()
	require.NoError(t, err)
	data = append(data, 0xAA)
	a, err := AnalyzeReader(ctx, bytes.NewReader(data), int64(len(data)), testConfig(), Options{ParticipantID: "x"})
	var te *binfile.TruncatedRecordError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Nil(t, a.Vector)
	assert.Equal(t, 120, a.TotalEpochs)
	assert.Contains(t, a.Notes, "Analysis stopped after 120 epochs")
	assert.NotEmpty(t, a.Stopped)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = AnalyzeReader(canceled, bytes.NewReader(data), int64(len(data)), testConfig(), Options{ParticipantID: "x"})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = AnalyzeFile(ctx, "/does/not/exist.bin", testConfig(), Options{})
	assert.ErrorContains(t, err, "participant exist")
}

// cancelOnRecords cancels the analysis context on the first read past the header.
type cancelOnRecords struct {
	src        io.ReaderAt
	headerSize int64
	cancel     context.CancelFunc
}

func (r cancelOnRecords) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.headerSize {
		r.cancel()
	}
	return r.src.ReadAt(p, off)
}

func TestAnalyzeCanceledMidStream(t *testing.T) {
	rec := fixture.Default(midnight, fixture.Hours(24, 300))
	data, err := rec.Bytes()
	require.NoError(t, err)
	h, err := binfile.NewHeader(rec.Profile, rec.Start, rec.Epoch, rec.Axes)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.CancelCheckEpochs = 100
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := cancelOnRecords{src: bytes.NewReader(data), headerSize: int64(h.Size), cancel: cancel}

	a, err := AnalyzeReader(ctx, src, int64(len(data)), cfg, Options{ParticipantID: "p"})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, a)
	assert.Nil(t, a.Vector)
	assert.Empty(t, a.Days)
	assert.Equal(t, cfg.CancelCheckEpochs, a.TotalEpochs)
	assert.Contains(t, a.Notes, "context canceled")
}

func TestParticipantID(t *testing.T) {
	assert.Equal(t, "486-partial2", ParticipantID("../data/486-partial2.bin"))
	assert.Equal(t, "noext", ParticipantID("noext"))
}
