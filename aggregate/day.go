// Package aggregate groups labeled epochs into days and reduces the valid
// days of one participant to a feature vector.
package aggregate

import (
	"fmt"
	"time"

	"github.com/lucasjlepore/wear-epochs/epoch"
)

// DayWindow summarises the labeled epochs of one day. Days are built once,
// when the stream moves past their end, and not modified afterwards.
type DayWindow struct {
	Index      int       `json:"index"`
	Date       string    `json:"date"` // local date of Start, YYYY-MM-DD
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	EpochCount int       `json:"epoch_count"`

	StateEpochs   [epoch.NumStates]int `json:"state_epochs"`
	EpochDuration time.Duration        `json:"epoch_duration"`

	WearMinutes      float64      `json:"wear_minutes"`
	Valid            bool         `json:"valid"`
	ShortfallMinutes float64      `json:"shortfall_minutes,omitempty"`
	Weekend          bool         `json:"weekend"`
	Weekday          time.Weekday `json:"weekday"`

	// HourlyStateEpochs counts epochs per local clock hour and state.
	HourlyStateEpochs [24][epoch.NumStates]int `json:"hourly_state_epochs"`
	// HourlyActivitySum and HourlyWornEpochs cover worn epochs only.
	HourlyActivitySum [24]float64 `json:"hourly_activity_sum"`
	HourlyWornEpochs  [24]int     `json:"hourly_worn_epochs"`
	// ActivitySum is the summed activity of worn epochs.
	ActivitySum float64 `json:"activity_sum"`
}

// StateMinutes returns the minutes spent in s.
func (d DayWindow) StateMinutes(s epoch.State) float64 {
	return float64(d.StateEpochs[s]) * d.EpochDuration.Minutes()
}

// HourMinutes returns the minutes spent in s during local hour h.
func (d DayWindow) HourMinutes(h int, s epoch.State) float64 {
	return float64(d.HourlyStateEpochs[h][s]) * d.EpochDuration.Minutes()
}

// HourActiveMinutes is light, moderate and vigorous time during local hour h.
func (d DayWindow) HourActiveMinutes(h int) float64 {
	n := 0
	for _, s := range epoch.States() {
		if s.Active() {
			n += d.HourlyStateEpochs[h][s]
		}
	}
	return float64(n) * d.EpochDuration.Minutes()
}

// WornEpochs is the number of epochs that count towards wear time.
func (d DayWindow) WornEpochs() int {
	n := 0
	for _, s := range epoch.States() {
		if s.Worn() {
			n += d.StateEpochs[s]
		}
	}
	return n
}

// MVPAMinutes is moderate plus vigorous time.
func (d DayWindow) MVPAMinutes() float64 {
	return d.StateMinutes(epoch.StateActiveModerate) + d.StateMinutes(epoch.StateActiveVigorous)
}

func (d DayWindow) String() string {
	status := "valid"
	if !d.Valid {
		status = fmt.Sprintf("excluded, %.0f min short", d.ShortfallMinutes)
	}
	return fmt.Sprintf("day %d (%s): %.0f wear min, %s", d.Index, d.Date, d.WearMinutes, status)
}

// dayKey identifies the day an epoch belongs to.
type dayKey struct {
	start time.Time
	end   time.Time
}

func (k dayKey) contains(ts time.Time) bool {
	return !ts.Before(k.start) && ts.Before(k.end)
}
