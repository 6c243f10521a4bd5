// Package store keeps batch results in a sqlite database so runs can be
// compared and re-exported without reprocessing the recordings.
package store

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lucasjlepore/wear-epochs/aggregate"
	"github.com/lucasjlepore/wear-epochs/monitoring"
	"github.com/lucasjlepore/wear-epochs/pipeline"

	_ "modernc.org/sqlite"
)

// schema.sql creates the runs, file_reports, features and days tables.
//
//go:embed schema.sql
var schemaSQL string

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// ErrRunNotFound is returned when a run id is not in the database.
var ErrRunNotFound = errors.New("run not found")

type Store struct {
	*sql.DB
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Counts     map[pipeline.Status]int
	Rules      []string
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db}, nil
}

// SaveBatch stores one batch in a single transaction. Saving the same run
// twice fails on the runs primary key.
func (s *Store) SaveBatch(batch *pipeline.BatchResult, rules []string) error {
	blob, err := pipeline.FeaturesParquet(batch)
	if err != nil {
		return fmt.Errorf("encode features parquet: %w", err)
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return err
	}

	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	counts := batch.Counts()
	_, err = tx.Exec(
		`INSERT INTO runs (run_id, started_at, finished_at, ok_count, excluded_count, failed_count, rules_json, features_parquet)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.RunID,
		batch.StartedAt.UTC().Format(time.RFC3339Nano),
		batch.FinishedAt.UTC().Format(time.RFC3339Nano),
		counts[pipeline.StatusOK],
		counts[pipeline.StatusExcluded],
		counts[pipeline.StatusFailed],
		string(rulesJSON),
		blob,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", batch.RunID, err)
	}

	for i, o := range batch.Outcomes {
		r := o.Report
		_, err := tx.Exec(
			`INSERT INTO file_reports (run_id, participant_id, source_path, status, reason, detail, byte_offset, format,
				valid_day_count, excluded_day_count, total_epoch_count, gap_epoch_count, elapsed_ms, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			batch.RunID, r.ParticipantID, r.SourcePath, string(r.Status), r.Reason, r.Detail, r.ByteOffset, r.Format,
			r.ValidDayCount, r.ExcludedDays, r.TotalEpochCount, r.GapEpochCount, r.ElapsedMillis, i,
		)
		if err != nil {
			return fmt.Errorf("insert report %s: %w", r.ParticipantID, err)
		}
		if o.Analysis == nil {
			continue
		}
		for _, d := range o.Analysis.Days {
			if err := insertDay(tx, batch.RunID, r.ParticipantID, d); err != nil {
				return err
			}
		}
		for _, d := range o.Analysis.Excluded {
			if err := insertDay(tx, batch.RunID, r.ParticipantID, d); err != nil {
				return err
			}
		}
	}

	for _, v := range batch.Vectors() {
		for i, f := range v.Features {
			_, err := tx.Exec(
				"INSERT INTO features (run_id, participant_id, position, name, value) VALUES (?, ?, ?, ?, ?)",
				batch.RunID, v.ParticipantID, i, f.Name, f.Value,
			)
			if err != nil {
				return fmt.Errorf("insert feature %s/%s: %w", v.ParticipantID, f.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	monitoring.Logf("run %s: stored %d file reports", batch.RunID, len(batch.Outcomes))
	return nil
}

func insertDay(tx *sql.Tx, runID, participantID string, d aggregate.DayWindow) error {
	_, err := tx.Exec(
		`INSERT INTO days (run_id, participant_id, day_index, date, start_utc, end_utc, epoch_count, wear_minutes, valid, shortfall_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, participantID, d.Index, d.Date,
		d.Start.UTC().Format(time.RFC3339), d.End.UTC().Format(time.RFC3339),
		d.EpochCount, d.WearMinutes, d.Valid, d.ShortfallMinutes,
	)
	if err != nil {
		return fmt.Errorf("insert day %s/%d: %w", participantID, d.Index, err)
	}
	return nil
}

// Runs lists stored runs, most recent first.
func (s *Store) Runs() ([]RunSummary, error) {
	rows, err := s.Query(`SELECT run_id, started_at, finished_at, ok_count, excluded_count, failed_count, rules_json
		FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			run                 RunSummary
			started, finished   string
			ok, excluded, fails int
			rulesJSON           string
		)
		if err := rows.Scan(&run.RunID, &started, &finished, &ok, &excluded, &fails, &rulesJSON); err != nil {
			return nil, err
		}
		if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, err
		}
		if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, err
		}
		run.Counts = map[pipeline.Status]int{
			pipeline.StatusOK:       ok,
			pipeline.StatusExcluded: excluded,
			pipeline.StatusFailed:   fails,
		}
		if err := json.Unmarshal([]byte(rulesJSON), &run.Rules); err != nil {
			return nil, fmt.Errorf("decode rules of run %s: %w", run.RunID, err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Reports returns the file reports of a run in input order.
func (s *Store) Reports(runID string) ([]pipeline.FileReport, error) {
	rows, err := s.Query(`SELECT participant_id, source_path, status, reason, detail, byte_offset, format,
			valid_day_count, excluded_day_count, total_epoch_count, gap_epoch_count, elapsed_ms
		FROM file_reports WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pipeline.FileReport
	for rows.Next() {
		var (
			r      pipeline.FileReport
			status string
			offset sql.NullInt64
		)
		err := rows.Scan(&r.ParticipantID, &r.SourcePath, &status, &r.Reason, &r.Detail, &offset, &r.Format,
			&r.ValidDayCount, &r.ExcludedDays, &r.TotalEpochCount, &r.GapEpochCount, &r.ElapsedMillis)
		if err != nil {
			return nil, err
		}
		r.Status = pipeline.Status(status)
		if offset.Valid {
			v := offset.Int64
			r.ByteOffset = &v
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		if _, err := s.FeaturesParquet(runID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Vector returns the stored feature vector of one participant, or nil when
// the participant has none in that run.
func (s *Store) Vector(runID, participantID string) (*aggregate.FeatureVector, error) {
	rows, err := s.Query(
		"SELECT name, value FROM features WHERE run_id = ? AND participant_id = ? ORDER BY position",
		runID, participantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var v *aggregate.FeatureVector
	for rows.Next() {
		var f aggregate.Feature
		if err := rows.Scan(&f.Name, &f.Value); err != nil {
			return nil, err
		}
		if v == nil {
			v = &aggregate.FeatureVector{ParticipantID: participantID}
		}
		v.Features = append(v.Features, f)
	}
	return v, rows.Err()
}

// FeaturesParquet returns the parquet feature table saved with a run.
func (s *Store) FeaturesParquet(runID string) ([]byte, error) {
	var blob []byte
	err := s.QueryRow("SELECT features_parquet FROM runs WHERE run_id = ?", runID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return blob, err
}
