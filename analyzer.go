// Package wearepochs analyzes one wearable epoch recording end to end:
// decode, gap reconciliation, labeling and day aggregation.
package wearepochs

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasjlepore/wear-epochs/aggregate"
	"github.com/lucasjlepore/wear-epochs/binfile"
	"github.com/lucasjlepore/wear-epochs/config"
	"github.com/lucasjlepore/wear-epochs/epoch"
	"github.com/lucasjlepore/wear-epochs/label"
	"github.com/lucasjlepore/wear-epochs/reconcile"
)

// Options controls per-file extras that do not change the analysis itself.
type Options struct {
	// ParticipantID defaults to the file name without extension.
	ParticipantID string
	// KeepEpochs retains every labeled epoch on the Analysis.
	KeepEpochs bool
}

// Analysis is the outcome of one recording.
type Analysis struct {
	ParticipantID string         `json:"participant_id"`
	FilePath      string         `json:"file_path,omitempty"`
	Format        string         `json:"format"`
	Header        binfile.Header `json:"header"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`

	TotalEpochs  int                 `json:"total_epochs"`
	SourceEpochs int                 `json:"source_epochs"`
	GapEpochs    int                 `json:"gap_epochs"`
	StateEpochs  map[epoch.State]int `json:"state_epochs"`
	Rules        []epoch.RuleID      `json:"rules"`

	Gaps     []reconcile.Gap          `json:"gaps,omitempty"`
	Days     []aggregate.DayWindow    `json:"days"`
	Excluded []aggregate.DayWindow    `json:"excluded_days"`
	Vector   *aggregate.FeatureVector `json:"vector,omitempty"`
	Audit    []AuditEntry             `json:"audit"`

	Epochs []epoch.Labeled `json:"-"`
	Notes  string          `json:"notes"`
	// Stopped holds the error that ended the analysis early.
	Stopped string `json:"stopped,omitempty"`
}

// ValidDays is the number of days that reached the wear minimum.
func (a *Analysis) ValidDays() int { return len(a.Days) }

// AllDays returns valid and excluded days in chronological order.
func (a *Analysis) AllDays() []aggregate.DayWindow {
	return (&aggregate.Result{Days: a.Days, Excluded: a.Excluded}).All()
}

// ParticipantID derives a participant id from a recording path.
func ParticipantID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// AnalyzeFile opens and analyzes a recording on disk.
func AnalyzeFile(ctx context.Context, path string, cfg config.Config, opts Options) (*Analysis, error) {
	if opts.ParticipantID == "" {
		opts.ParticipantID = ParticipantID(path)
	}
	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	r, err := binfile.Open(path, reg, cfg.ReaderOptions())
	if err != nil {
		return nil, fmt.Errorf("participant %s: %w", opts.ParticipantID, err)
	}
	defer r.Close()

	a, err := analyze(ctx, r, cfg, opts)
	if a != nil {
		a.FilePath = path
	}
	return a, err
}

// AnalyzeReader analyzes size bytes of a recording read from src.
func AnalyzeReader(ctx context.Context, src io.ReaderAt, size int64, cfg config.Config, opts Options) (*Analysis, error) {
	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	r, err := binfile.NewReader(src, size, reg, cfg.ReaderOptions())
	if err != nil {
		return nil, fmt.Errorf("participant %s: %w", opts.ParticipantID, err)
	}
	return analyze(ctx, r, cfg, opts)
}

// analyze drains the stage chain. After the header is decoded it always
// returns the Analysis built so far, also alongside an error; the feature
// vector is only set on success.
func analyze(ctx context.Context, r *binfile.Reader, cfg config.Config, opts Options) (*Analysis, error) {
	labeler, err := label.New(cfg)
	if err != nil {
		return nil, err
	}
	agg, err := aggregate.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := r.Header()
	a := &Analysis{
		ParticipantID: opts.ParticipantID,
		Format:        h.Profile.Name,
		Header:        h,
		StartTime:     h.Start,
		StateEpochs:   make(map[epoch.State]int, epoch.NumStates),
		Rules:         labeler.Rules(),
	}
	rec := reconcile.New(cfg.EpochDuration(), cfg.MaxGapEpochs)
	builder := agg.NewBuilder(a.ParticipantID)
	audit := newAuditor(a.ParticipantID)

	fail := func(err error) (*Analysis, error) {
		a.Gaps = rec.Stats().Gaps
		a.Audit = audit.entries(a.Gaps, nil)
		a.Stopped = err.Error()
		a.Notes = BuildParticipantNotes(a)
		return a, fmt.Errorf("participant %s: %w", a.ParticipantID, err)
	}

	for e, err := range labeler.Label(rec.Reconcile(r.Epochs())) {
		if err != nil {
			return fail(err)
		}
		a.TotalEpochs++
		if a.TotalEpochs%cfg.CancelCheckEpochs == 0 {
			if err := ctx.Err(); err != nil {
				return fail(err)
			}
		}
		if e.Gap {
			a.GapEpochs++
		} else {
			a.SourceEpochs++
		}
		if a.TotalEpochs == 1 {
			a.StartTime = e.Timestamp
		}
		a.EndTime = e.Timestamp.Add(cfg.EpochDuration())
		a.StateEpochs[e.State]++
		builder.Add(e)
		audit.add(e)
		if opts.KeepEpochs {
			a.Epochs = append(a.Epochs, e)
		}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	res, aggErr := builder.Finish()
	a.Days, a.Excluded = res.Days, res.Excluded
	a.Vector = res.Vector
	a.Gaps = rec.Stats().Gaps
	a.Audit = audit.entries(a.Gaps, res.Excluded)
	a.Notes = BuildParticipantNotes(a)
	if aggErr != nil {
		return a, fmt.Errorf("participant %s: %w", a.ParticipantID, aggErr)
	}
	return a, nil
}
