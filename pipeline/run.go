// Package pipeline runs many participant recordings through the analysis
// stages in parallel and writes the batch artifacts.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	wearepochs "github.com/lucasjlepore/wear-epochs"
	"github.com/lucasjlepore/wear-epochs/aggregate"
	"github.com/lucasjlepore/wear-epochs/binfile"
	"github.com/lucasjlepore/wear-epochs/config"
	"github.com/lucasjlepore/wear-epochs/label"
	"github.com/lucasjlepore/wear-epochs/monitoring"
	"github.com/lucasjlepore/wear-epochs/reconcile"
	"golang.org/x/sync/errgroup"
)

// Coordinator sequences the stages for each file. It holds only immutable
// configuration and may run several batches concurrently.
type Coordinator struct {
	cfg   config.Config
	opts  Options
	rules []string
}

// New validates cfg before anything is read. An invalid configuration is
// returned as *config.ConfigurationError.
func New(cfg config.Config, opts Options) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	l, err := label.New(cfg)
	if err != nil {
		return nil, err
	}
	var rules []string
	for _, r := range l.Rules() {
		rules = append(rules, string(r))
	}
	return &Coordinator{cfg: cfg, opts: opts, rules: rules}, nil
}

// Rules lists the labeling rule ids in priority order.
func (c *Coordinator) Rules() []string {
	return append([]string(nil), c.rules...)
}

// Run processes every input and returns one outcome per input in input
// order. A failing file never stops the batch; cancelling ctx marks the
// files not yet finished as FAILED/Canceled. A participant id already used
// by an earlier input is FAILED/DuplicateParticipant without being read.
func (c *Coordinator) Run(ctx context.Context, inputs []Input) (*BatchResult, error) {
	batch := &BatchResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Outcomes:  make([]Outcome, len(inputs)),
	}
	monitoring.Logf("run %s: processing %d files with %d workers", batch.RunID, len(inputs), c.opts.Workers)

	seen := make(map[string]string, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, in := range inputs {
		if in.ParticipantID == "" {
			in.ParticipantID = wearepochs.ParticipantID(in.Path)
		}
		if first, dup := seen[in.ParticipantID]; dup {
			batch.Outcomes[i] = duplicate(in, first)
			continue
		}
		seen[in.ParticipantID] = in.Path
		g.Go(func() error {
			batch.Outcomes[i] = c.ProcessFile(gctx, in)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch.FinishedAt = time.Now().UTC()
	counts := batch.Counts()
	monitoring.Logf("run %s: %d ok, %d excluded, %d failed", batch.RunID,
		counts[StatusOK], counts[StatusExcluded], counts[StatusFailed])
	return batch, nil
}

// RunBytes processes one in-memory recording as a single-file batch.
func (c *Coordinator) RunBytes(ctx context.Context, participantID string, data []byte) *BatchResult {
	batch := &BatchResult{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	batch.Outcomes = []Outcome{c.ProcessBytes(ctx, participantID, data)}
	batch.FinishedAt = time.Now().UTC()
	return batch
}

// ProcessFile analyzes one recording and classifies the outcome.
func (c *Coordinator) ProcessFile(ctx context.Context, in Input) Outcome {
	if in.ParticipantID == "" {
		in.ParticipantID = wearepochs.ParticipantID(in.Path)
	}
	return c.process(ctx, in, func(opts wearepochs.Options) (*wearepochs.Analysis, error) {
		return wearepochs.AnalyzeFile(ctx, in.Path, c.cfg, opts)
	})
}

// ProcessBytes analyzes a recording already held in memory.
func (c *Coordinator) ProcessBytes(ctx context.Context, participantID string, data []byte) Outcome {
	in := Input{ParticipantID: participantID}
	return c.process(ctx, in, func(opts wearepochs.Options) (*wearepochs.Analysis, error) {
		return wearepochs.AnalyzeReader(ctx, bytes.NewReader(data), int64(len(data)), c.cfg, opts)
	})
}

func (c *Coordinator) process(ctx context.Context, in Input, analyze func(wearepochs.Options) (*wearepochs.Analysis, error)) Outcome {
	logf := monitoring.Prefixed(in.ParticipantID)
	report := FileReport{ParticipantID: in.ParticipantID, SourcePath: in.Path}
	started := time.Now()

	var (
		analysis *wearepochs.Analysis
		err      error
	)
	if err = ctx.Err(); err == nil {
		analysis, err = analyze(wearepochs.Options{
			ParticipantID: in.ParticipantID,
			KeepEpochs:    c.opts.KeepEpochs,
		})
	}
	report.ElapsedMillis = time.Since(started).Milliseconds()

	if analysis != nil {
		report.Format = analysis.Format
		report.ValidDayCount = analysis.ValidDays()
		report.ExcludedDays = len(analysis.Excluded)
		report.TotalEpochCount = analysis.TotalEpochs
		report.GapEpochCount = analysis.GapEpochs
	}

	if err == nil {
		report.Status = StatusOK
		logf("ok: %d epochs, %d valid days", report.TotalEpochCount, report.ValidDayCount)
		return Outcome{Report: report, Analysis: analysis}
	}

	report.Reason, report.ByteOffset = Classify(err)
	report.Detail = err.Error()
	if report.Reason == ReasonInsufficientDays {
		report.Status = StatusExcluded
		logf("excluded: %s", report.Detail)
		return Outcome{Report: report, Analysis: analysis}
	}

	report.Status = StatusFailed
	if analysis != nil {
		analysis.Vector = nil
	}
	logf("failed (%s): %s", report.Reason, report.Detail)
	return Outcome{Report: report, Analysis: analysis}
}

func duplicate(in Input, first string) Outcome {
	report := FileReport{
		ParticipantID: in.ParticipantID,
		SourcePath:    in.Path,
		Status:        StatusFailed,
		Reason:        ReasonDuplicate,
		Detail:        fmt.Sprintf("participant %s already provided by %s", in.ParticipantID, first),
	}
	monitoring.Prefixed(in.ParticipantID)("failed (%s): %s", report.Reason, report.Detail)
	return Outcome{Report: report}
}

// Classify maps an analysis error to its reason name and, when known, the
// byte offset it occurred at.
func Classify(err error) (string, *int64) {
	var (
		formatErr    *binfile.FormatError
		truncatedErr *binfile.TruncatedRecordError
		versionErr   *binfile.UnsupportedVersionError
		nonMonotonic *reconcile.NonMonotonicTimestampError
		misaligned   *reconcile.MisalignedTimestampError
		insufficient *aggregate.InsufficientValidDaysError
		configErr    *config.ConfigurationError
	)
	switch {
	case errors.As(err, &formatErr):
		return ReasonFormat, offset(formatErr.Offset)
	case errors.As(err, &truncatedErr):
		return ReasonTruncatedRecord, offset(truncatedErr.Offset)
	case errors.As(err, &versionErr):
		return ReasonUnsupportedVersion, offset(0)
	case errors.As(err, &nonMonotonic):
		return ReasonNonMonotonic, offset(nonMonotonic.Offset)
	case errors.As(err, &misaligned):
		return ReasonMisaligned, offset(misaligned.Offset)
	case errors.As(err, &insufficient):
		return ReasonInsufficientDays, nil
	case errors.As(err, &configErr):
		return ReasonConfiguration, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCanceled, nil
	}
	return ReasonIO, nil
}

func offset(v int64) *int64 { return &v }

// DiscoverInputs lists the .bin recordings directly inside dir, sorted by
// name. The participant id is the file name without its extension.
func DiscoverInputs(dir string) ([]Input, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}
	var inputs []Input
	for _, e := range entries {
		if e.IsDir() || !IsRecording(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		inputs = append(inputs, Input{ParticipantID: wearepochs.ParticipantID(path), Path: path})
	}
	return inputs, nil
}

// IsRecording reports whether name has the .bin extension.
func IsRecording(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".bin")
}
