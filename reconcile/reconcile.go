// Package reconcile turns a decoded epoch stream into a continuous one by
// inserting gap placeholders wherever the device stopped recording.
package reconcile

import (
	"fmt"
	"time"

	"github.com/lucasjlepore/wear-epochs/epoch"
)

// Gap is one run of inserted placeholders.
type Gap struct {
	Start time.Time `json:"start"` // first placeholder timestamp
	End   time.Time `json:"end"`   // last placeholder timestamp
	// Epochs is the number of placeholders inserted.
	Epochs int `json:"epochs"`
	// AfterOffset is the source offset of the record preceding the gap.
	AfterOffset int64 `json:"after_offset"`
	// Long marks gaps above the configured maximum; they are still filled.
	Long bool `json:"long,omitempty"`
}

// Stats describes the last completed or in-progress pass.
type Stats struct {
	Input    int   `json:"input"`
	Inserted int   `json:"inserted"`
	Gaps     []Gap `json:"gaps,omitempty"`
}

// Output is the total number of epochs emitted.
func (s Stats) Output() int { return s.Input + s.Inserted }

// Reconciler fills discontinuities. It is not safe for concurrent passes;
// each pipeline worker owns its own.
type Reconciler struct {
	duration     time.Duration
	maxGapEpochs int
	stats        Stats
}

// New returns a reconciler for epochs of the given duration. Gaps longer than
// maxGapEpochs are flagged Long; zero disables the flag.
func New(duration time.Duration, maxGapEpochs int) *Reconciler {
	return &Reconciler{duration: duration, maxGapEpochs: maxGapEpochs}
}

// Stats returns the counters of the most recent pass.
func (r *Reconciler) Stats() Stats {
	s := r.stats
	s.Gaps = append([]Gap(nil), r.stats.Gaps...)
	return s
}

// Reconcile returns a continuous stream: consecutive timestamps differ by
// exactly one epoch duration. Duplicate or backwards timestamps end the
// stream with *NonMonotonicTimestampError, steps that are not a whole number
// of epochs with *MisalignedTimestampError. Each iteration resets Stats.
func (r *Reconciler) Reconcile(seq epoch.Seq[epoch.Record]) epoch.Seq[epoch.Record] {
	return func(yield func(epoch.Record, error) bool) {
		r.stats = Stats{}
		var prev epoch.Record
		first := true
		for rec, err := range seq {
			if err != nil {
				yield(epoch.Record{}, err)
				return
			}
			if !first {
				step := rec.Timestamp.Sub(prev.Timestamp)
				switch {
				case step <= 0:
					yield(epoch.Record{}, &NonMonotonicTimestampError{
						Previous: prev.Timestamp,
						Current:  rec.Timestamp,
						Offset:   rec.SourceOffset,
					})
					return
				case step%r.duration != 0:
					yield(epoch.Record{}, &MisalignedTimestampError{
						Previous: prev.Timestamp,
						Current:  rec.Timestamp,
						Offset:   rec.SourceOffset,
						Epoch:    r.duration,
					})
					return
				case step > r.duration:
					missing := int(step/r.duration) - 1
					gap := Gap{
						Start:       prev.Timestamp.Add(r.duration),
						End:         rec.Timestamp.Add(-r.duration),
						Epochs:      missing,
						AfterOffset: prev.SourceOffset,
						Long:        r.maxGapEpochs > 0 && missing > r.maxGapEpochs,
					}
					r.stats.Gaps = append(r.stats.Gaps, gap)
					for i := 1; i <= missing; i++ {
						r.stats.Inserted++
						ts := prev.Timestamp.Add(time.Duration(i) * r.duration)
						if !yield(epoch.Placeholder(ts, prev.Axes), nil) {
							return
						}
					}
				}
			}
			r.stats.Input++
			if !yield(rec, nil) {
				return
			}
			prev = rec
			first = false
		}
	}
}

// NonMonotonicTimestampError reports a duplicated or backwards timestamp.
type NonMonotonicTimestampError struct {
	Previous time.Time
	Current  time.Time
	Offset   int64
}

func (e *NonMonotonicTimestampError) Error() string {
	return fmt.Sprintf("non-monotonic timestamp at byte %d: %s follows %s",
		e.Offset, e.Current.Format(time.RFC3339), e.Previous.Format(time.RFC3339))
}

// MisalignedTimestampError reports a forward step that is not a whole number of epochs.
type MisalignedTimestampError struct {
	Previous time.Time
	Current  time.Time
	Offset   int64
	Epoch    time.Duration
}

func (e *MisalignedTimestampError) Error() string {
	return fmt.Sprintf("timestamp at byte %d: step %s from %s is not a multiple of %s",
		e.Offset, e.Current.Sub(e.Previous), e.Previous.Format(time.RFC3339), e.Epoch)
}
