// Package fixture builds small binary recordings for tests.
package fixture

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/lucasjlepore/wear-epochs/binfile"
	"github.com/lucasjlepore/wear-epochs/epoch"
)

// Segment is a run of epochs with constant counts on every axis.
// A Missing segment advances the clock without writing records.
type Segment struct {
	Epochs  int
	Count   uint32
	Missing bool
}

// Recording describes a file to encode.
type Recording struct {
	Profile  binfile.Profile
	Start    time.Time
	Epoch    time.Duration
	Axes     int
	Segments []Segment
}

// Default returns a single-axis recording in the first default profile with 30 second epochs.
func Default(start time.Time, segs ...Segment) Recording {
	return Recording{
		Profile:  binfile.DefaultProfiles()[0],
		Start:    start,
		Epoch:    30 * time.Second,
		Axes:     1,
		Segments: segs,
	}
}

// Hours is a segment of h hours of constant counts at 30 second epochs.
func Hours(h float64, count uint32) Segment {
	return Segment{Epochs: int(h * 120), Count: count}
}

// Records expands the segments into source records.
func (r Recording) Records() []epoch.Record {
	var out []epoch.Record
	i := 0
	for _, s := range r.Segments {
		for n := 0; n < s.Epochs; n++ {
			if !s.Missing {
				rec := epoch.Record{Timestamp: r.Start.Add(time.Duration(i) * r.Epoch), Axes: r.Axes}
				for a := 0; a < r.Axes; a++ {
					rec.Counts[a] = s.Count
				}
				out = append(out, rec)
			}
			i++
		}
	}
	return out
}

// Bytes encodes the recording.
func (r Recording) Bytes() ([]byte, error) {
	h, err := binfile.NewHeader(r.Profile, r.Start, r.Epoch, r.Axes)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := binfile.Encode(&buf, h, r.Records()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile encodes the recording to dir/name and returns the path.
func (r Recording) WriteFile(dir, name string) (string, error) {
	data, err := r.Bytes()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
