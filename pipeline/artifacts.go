package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lucasjlepore/wear-epochs/aggregate"
	"github.com/lucasjlepore/wear-epochs/epoch"
	"github.com/lucasjlepore/wear-epochs/monitoring"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type featureRow struct {
	ParticipantID string  `parquet:"name=participant_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Feature       string  `parquet:"name=feature, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Value         float64 `parquet:"name=value, type=DOUBLE"`
}

var featureHeader = []string{"participant_id", "feature", "value"}

func (r featureRow) csvRecord() []string {
	return []string{r.ParticipantID, r.Feature, formatFloat(r.Value)}
}

type dayRow struct {
	ParticipantID         string  `parquet:"name=participant_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	DayIndex              int64   `parquet:"name=day_index, type=INT64"`
	Date                  string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	StartUTC              string  `parquet:"name=start_utc, type=BYTE_ARRAY, convertedtype=UTF8"`
	EndUTC                string  `parquet:"name=end_utc, type=BYTE_ARRAY, convertedtype=UTF8"`
	EpochCount            int64   `parquet:"name=epoch_count, type=INT64"`
	WearMinutes           float64 `parquet:"name=wear_minutes, type=DOUBLE"`
	Valid                 bool    `parquet:"name=valid, type=BOOLEAN"`
	ShortfallMinutes      float64 `parquet:"name=shortfall_minutes, type=DOUBLE"`
	Weekend               bool    `parquet:"name=weekend, type=BOOLEAN"`
	GapMinutes            float64 `parquet:"name=gap_minutes, type=DOUBLE"`
	NonWearMinutes        float64 `parquet:"name=non_wear_minutes, type=DOUBLE"`
	SleepMinutes          float64 `parquet:"name=sleep_minutes, type=DOUBLE"`
	SedentaryMinutes      float64 `parquet:"name=sedentary_minutes, type=DOUBLE"`
	ActiveLowMinutes      float64 `parquet:"name=active_low_minutes, type=DOUBLE"`
	ActiveModerateMinutes float64 `parquet:"name=active_moderate_minutes, type=DOUBLE"`
	ActiveVigorousMinutes float64 `parquet:"name=active_vigorous_minutes, type=DOUBLE"`
	MeanActivity          float64 `parquet:"name=mean_activity_per_wear_epoch, type=DOUBLE"`
}

var dayHeader = []string{
	"participant_id", "day_index", "date", "start_utc", "end_utc", "epoch_count", "wear_minutes", "valid", "shortfall_minutes", "weekend",
	"gap_minutes", "non_wear_minutes", "sleep_minutes", "sedentary_minutes", "active_low_minutes", "active_moderate_minutes", "active_vigorous_minutes",
	"mean_activity_per_wear_epoch",
}

func newDayRow(participantID string, d aggregate.DayWindow) dayRow {
	row := dayRow{
		ParticipantID:         participantID,
		DayIndex:              int64(d.Index),
		Date:                  d.Date,
		StartUTC:              d.Start.UTC().Format(time.RFC3339),
		EndUTC:                d.End.UTC().Format(time.RFC3339),
		EpochCount:            int64(d.EpochCount),
		WearMinutes:           d.WearMinutes,
		Valid:                 d.Valid,
		ShortfallMinutes:      d.ShortfallMinutes,
		Weekend:               d.Weekend,
		GapMinutes:            d.StateMinutes(epoch.StateGap),
		NonWearMinutes:        d.StateMinutes(epoch.StateNonWear),
		SleepMinutes:          d.StateMinutes(epoch.StateSleep),
		SedentaryMinutes:      d.StateMinutes(epoch.StateSedentary),
		ActiveLowMinutes:      d.StateMinutes(epoch.StateActiveLow),
		ActiveModerateMinutes: d.StateMinutes(epoch.StateActiveModerate),
		ActiveVigorousMinutes: d.StateMinutes(epoch.StateActiveVigorous),
	}
	if worn := d.WornEpochs(); worn > 0 {
		row.MeanActivity = d.ActivitySum / float64(worn)
	}
	return row
}

func (r dayRow) csvRecord() []string {
	return []string{
		r.ParticipantID,
		strconv.FormatInt(r.DayIndex, 10),
		r.Date,
		r.StartUTC,
		r.EndUTC,
		strconv.FormatInt(r.EpochCount, 10),
		formatFloat(r.WearMinutes),
		strconv.FormatBool(r.Valid),
		formatFloat(r.ShortfallMinutes),
		strconv.FormatBool(r.Weekend),
		formatFloat(r.GapMinutes),
		formatFloat(r.NonWearMinutes),
		formatFloat(r.SleepMinutes),
		formatFloat(r.SedentaryMinutes),
		formatFloat(r.ActiveLowMinutes),
		formatFloat(r.ActiveModerateMinutes),
		formatFloat(r.ActiveVigorousMinutes),
		formatFloat(r.MeanActivity),
	}
}

type epochRow struct {
	ParticipantID string  `parquet:"name=participant_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	EpochIndex    int64   `parquet:"name=epoch_index, type=INT64"`
	TSUTCISO      string  `parquet:"name=ts_utc_iso, type=BYTE_ARRAY, convertedtype=UTF8"`
	State         string  `parquet:"name=state, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Rule          string  `parquet:"name=rule, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Activity      float64 `parquet:"name=activity, type=DOUBLE"`
	CountX        int64   `parquet:"name=count_x, type=INT64"`
	CountY        int64   `parquet:"name=count_y, type=INT64"`
	CountZ        int64   `parquet:"name=count_z, type=INT64"`
	Gap           bool    `parquet:"name=gap, type=BOOLEAN"`
	Demoted       bool    `parquet:"name=demoted, type=BOOLEAN"`
	FileOffset    int64   `parquet:"name=file_offset, type=INT64"`
}

var epochHeader = []string{
	"participant_id", "epoch_index", "ts_utc_iso", "state", "rule", "activity", "count_x", "count_y", "count_z", "gap", "demoted", "file_offset",
}

func newEpochRow(participantID string, i int, e epoch.Labeled) epochRow {
	return epochRow{
		ParticipantID: participantID,
		EpochIndex:    int64(i),
		TSUTCISO:      e.Timestamp.UTC().Format(time.RFC3339),
		State:         e.State.String(),
		Rule:          string(e.Rule),
		Activity:      e.Activity,
		CountX:        int64(e.Counts[0]),
		CountY:        int64(e.Counts[1]),
		CountZ:        int64(e.Counts[2]),
		Gap:           e.Gap,
		Demoted:       e.Demoted,
		FileOffset:    e.SourceOffset,
	}
}

func (r epochRow) csvRecord() []string {
	return []string{
		r.ParticipantID,
		strconv.FormatInt(r.EpochIndex, 10),
		r.TSUTCISO,
		r.State,
		r.Rule,
		formatFloat(r.Activity),
		strconv.FormatInt(r.CountX, 10),
		strconv.FormatInt(r.CountY, 10),
		strconv.FormatInt(r.CountZ, 10),
		strconv.FormatBool(r.Gap),
		strconv.FormatBool(r.Demoted),
		strconv.FormatInt(r.FileOffset, 10),
	}
}

type tableRow interface {
	csvRecord() []string
}

func tableFormat(format string) (string, error) {
	switch format {
	case "":
		return "parquet", nil
	case "parquet", "csv":
		return format, nil
	}
	return "", fmt.Errorf("unsupported format %q (use parquet or csv)", format)
}

// WriteArtifacts writes the batch outputs into outDir: the long-format
// feature table of OK files, the day table of every analysed file, the
// optional labeled epoch table, report.json and audit.jsonl.
func WriteArtifacts(outDir string, batch *BatchResult, rules []string, opts ArtifactOptions) (*Artifacts, error) {
	if batch == nil {
		return nil, fmt.Errorf("batch result is nil")
	}
	format, err := tableFormat(opts.Format)
	if err != nil {
		return nil, err
	}
	if err := ensureOutputDir(outDir, opts.Overwrite); err != nil {
		return nil, err
	}

	out := &Artifacts{
		OutputDir:    outDir,
		FeaturesPath: filepath.Join(outDir, "features."+format),
		DaysPath:     filepath.Join(outDir, "days."+format),
		ReportPath:   filepath.Join(outDir, "report.json"),
		AuditPath:    filepath.Join(outDir, "audit.jsonl"),
	}

	if err := writeTable(out.FeaturesPath, format, featureHeader, featureRows(batch)); err != nil {
		return nil, fmt.Errorf("write features: %w", err)
	}
	if err := writeTable(out.DaysPath, format, dayHeader, dayRows(batch)); err != nil {
		return nil, fmt.Errorf("write days: %w", err)
	}
	if opts.IncludeEpochs {
		out.LabeledEpochsPath = filepath.Join(outDir, "labeled_epochs."+format)
		if err := writeTable(out.LabeledEpochsPath, format, epochHeader, epochRows(batch)); err != nil {
			return nil, fmt.Errorf("write labeled epochs: %w", err)
		}
	}

	if err := writeJSON(out.ReportPath, newReport(batch, rules)); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	if err := writeAudit(out.AuditPath, batch); err != nil {
		return nil, fmt.Errorf("write audit: %w", err)
	}

	monitoring.Logf("run %s: artifacts written to %s", batch.RunID, outDir)
	return out, nil
}

func newReport(batch *BatchResult, rules []string) ReportFile {
	return ReportFile{
		RunID:      batch.RunID,
		StartedAt:  batch.StartedAt,
		FinishedAt: batch.FinishedAt,
		Counts:     batch.Counts(),
		Rules:      rules,
		Files:      batch.Reports(),
	}
}

func featureRows(batch *BatchResult) []featureRow {
	var rows []featureRow
	for _, v := range batch.Vectors() {
		for _, f := range v.Features {
			rows = append(rows, featureRow{ParticipantID: v.ParticipantID, Feature: f.Name, Value: f.Value})
		}
	}
	return rows
}

func dayRows(batch *BatchResult) []dayRow {
	var rows []dayRow
	for _, o := range batch.Outcomes {
		a := o.Analysis
		if a == nil {
			continue
		}
		for _, d := range a.AllDays() {
			rows = append(rows, newDayRow(a.ParticipantID, d))
		}
	}
	return rows
}

func epochRows(batch *BatchResult) []epochRow {
	var rows []epochRow
	for _, o := range batch.Outcomes {
		a := o.Analysis
		if a == nil {
			continue
		}
		for i, e := range a.Epochs {
			rows = append(rows, newEpochRow(a.ParticipantID, i, e))
		}
	}
	return rows
}

func writeTable[T tableRow](path, format string, header []string, rows []T) error {
	if format == "csv" {
		return writeCSV(path, header, rows)
	}
	return writeParquet(path, rows)
}

func writeCSV[T tableRow](path string, header []string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return encodeCSV(f, header, rows)
}

func encodeCSV[T tableRow](dst io.Writer, header []string, rows []T) error {
	w := csv.NewWriter(dst)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write(r.csvRecord()); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeParquet[T any](path string, rows []T) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	pw, err := writer.NewParquetWriter(fw, new(T), 4)
	if err != nil {
		_ = fw.Close()
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range rows {
		if err := pw.Write(r); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return err
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return err
	}
	return fw.Close()
}

func writeAudit(path string, batch *BatchResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := bufio.NewWriterSize(f, 1<<20)
	if err := encodeAudit(buf, batch); err != nil {
		return err
	}
	return buf.Flush()
}

// encodeAudit writes one JSON line per audit entry, then one per file report
// so failures without an analysis remain traceable.
func encodeAudit(dst io.Writer, batch *BatchResult) error {
	enc := json.NewEncoder(dst)
	enc.SetEscapeHTML(false)
	for _, o := range batch.Outcomes {
		if o.Analysis == nil {
			continue
		}
		for _, entry := range o.Analysis.Audit {
			if err := enc.Encode(entry); err != nil {
				return err
			}
		}
	}
	for _, r := range batch.Reports() {
		line := struct {
			Kind string `json:"kind"`
			FileReport
		}{Kind: "file_outcome", FileReport: r}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

func ensureOutputDir(path string, overwrite bool) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("read output directory: %w", err)
	}
	if len(entries) > 0 && !overwrite {
		return fmt.Errorf("output directory is not empty: %s (set overwrite=true to allow)", path)
	}
	return nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
