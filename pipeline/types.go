package pipeline

import (
	"time"

	wearepochs "github.com/lucasjlepore/wear-epochs"
	"github.com/lucasjlepore/wear-epochs/aggregate"
)

// Options configures a Coordinator.
type Options struct {
	// Workers bounds the files processed in parallel; zero means one per CPU.
	Workers int
	// KeepEpochs retains labeled epochs for the labeled_epochs artifact.
	KeepEpochs bool
}

// Input is one participant recording.
type Input struct {
	ParticipantID string `json:"participant_id"`
	Path          string `json:"path"`
}

// Status is the per-file outcome class.
type Status string

const (
	StatusOK       Status = "OK"
	StatusExcluded Status = "EXCLUDED"
	StatusFailed   Status = "FAILED"
)

// Failure reasons reported on FileReport.Reason.
const (
	ReasonFormat             = "FormatError"
	ReasonTruncatedRecord    = "TruncatedRecordError"
	ReasonUnsupportedVersion = "UnsupportedVersionError"
	ReasonNonMonotonic       = "NonMonotonicTimestampError"
	ReasonMisaligned         = "MisalignedTimestampError"
	ReasonInsufficientDays   = "InsufficientValidDaysError"
	ReasonConfiguration      = "ConfigurationError"
	ReasonCanceled           = "Canceled"
	ReasonDuplicate          = "DuplicateParticipant"
	ReasonIO                 = "IOError"
)

// FileReport is the machine-readable outcome of one file.
type FileReport struct {
	ParticipantID   string `json:"participant_id"`
	SourcePath      string `json:"source_path"`
	Status          Status `json:"status"`
	Reason          string `json:"reason,omitempty"`
	Detail          string `json:"detail,omitempty"`
	ByteOffset      *int64 `json:"byte_offset,omitempty"`
	Format          string `json:"format,omitempty"`
	ValidDayCount   int    `json:"valid_day_count"`
	ExcludedDays    int    `json:"excluded_day_count"`
	TotalEpochCount int    `json:"total_epoch_count"`
	GapEpochCount   int    `json:"gap_epoch_count"`
	ElapsedMillis   int64  `json:"elapsed_ms"`
}

// Outcome pairs a report with the analysis it came from. Analysis is nil
// when the file failed before its header was decoded.
type Outcome struct {
	Report   FileReport
	Analysis *wearepochs.Analysis
}

// BatchResult holds one outcome per input, in input order.
type BatchResult struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"-"`
}

// Reports lists the file reports in input order.
func (b *BatchResult) Reports() []FileReport {
	out := make([]FileReport, len(b.Outcomes))
	for i, o := range b.Outcomes {
		out[i] = o.Report
	}
	return out
}

// Vectors lists the feature vectors of OK files.
func (b *BatchResult) Vectors() []*aggregate.FeatureVector {
	var out []*aggregate.FeatureVector
	for _, o := range b.Outcomes {
		if o.Report.Status == StatusOK && o.Analysis != nil && o.Analysis.Vector != nil {
			out = append(out, o.Analysis.Vector)
		}
	}
	return out
}

// Counts tallies outcomes per status.
func (b *BatchResult) Counts() map[Status]int {
	out := map[Status]int{StatusOK: 0, StatusExcluded: 0, StatusFailed: 0}
	for _, o := range b.Outcomes {
		out[o.Report.Status]++
	}
	return out
}

// ArtifactOptions controls WriteArtifacts.
type ArtifactOptions struct {
	Format    string // parquet|csv
	Overwrite bool
	// IncludeEpochs writes labeled_epochs; it requires Options.KeepEpochs.
	IncludeEpochs bool
}

// Artifacts returns generated output paths.
type Artifacts struct {
	OutputDir         string `json:"output_dir"`
	FeaturesPath      string `json:"features_path"`
	DaysPath          string `json:"days_path"`
	LabeledEpochsPath string `json:"labeled_epochs_path,omitempty"`
	ReportPath        string `json:"report_path"`
	AuditPath         string `json:"audit_path"`
}

// ReportFile is the report.json document.
type ReportFile struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Counts     map[Status]int `json:"counts"`
	Rules      []string       `json:"rules"`
	Files      []FileReport   `json:"files"`
}
