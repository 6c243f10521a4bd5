// Package epoch holds the record types shared by every pipeline stage.
package epoch

import (
	"fmt"
	"time"
)

// MaxAxes is the largest accelerometer axis count a record can carry.
const MaxAxes = 3

// SyntheticOffset marks records that were not read from the source file.
const SyntheticOffset int64 = -1

// Record is one fixed-duration epoch as decoded from a recording.
// Gap placeholders have Gap set and all counts zero.
type Record struct {
	Timestamp    time.Time       `json:"timestamp"`
	Counts       [MaxAxes]uint32 `json:"counts"`
	Axes         int             `json:"axes"`
	SourceOffset int64           `json:"source_offset"`
	Gap          bool            `json:"gap,omitempty"`
}

// AxisCounts returns the populated counts in axis order.
func (r Record) AxisCounts() []uint32 {
	out := make([]uint32, r.Axes)
	copy(out, r.Counts[:r.Axes])
	return out
}

// Placeholder builds a synthetic gap record at ts.
func Placeholder(ts time.Time, axes int) Record {
	return Record{
		Timestamp:    ts,
		Axes:         axes,
		SourceOffset: SyntheticOffset,
		Gap:          true,
	}
}

// State is the activity state assigned to one epoch.
type State uint8

const (
	StateGap State = iota
	StateNonWear
	StateSleep
	StateSedentary
	StateActiveLow
	StateActiveModerate
	StateActiveVigorous

	NumStates = int(StateActiveVigorous) + 1
)

var stateNames = [NumStates]string{
	StateGap:            "GAP",
	StateNonWear:        "NON_WEAR",
	StateSleep:          "SLEEP",
	StateSedentary:      "SEDENTARY",
	StateActiveLow:      "ACTIVE_LOW",
	StateActiveModerate: "ACTIVE_MODERATE",
	StateActiveVigorous: "ACTIVE_VIGOROUS",
}

// States lists every state in a stable order.
func States() []State {
	out := make([]State, NumStates)
	for i := range out {
		out[i] = State(i)
	}
	return out
}

func (s State) String() string {
	if int(s) < NumStates {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Worn reports whether the state counts towards wear time.
func (s State) Worn() bool {
	return s != StateGap && s != StateNonWear
}

// Active reports whether the state is light, moderate or vigorous activity.
func (s State) Active() bool {
	return s == StateActiveLow || s == StateActiveModerate || s == StateActiveVigorous
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown epoch state %q", string(b))
}

// RuleID identifies the labeling rule that produced a state.
type RuleID string

const (
	RuleGap                RuleID = "gap"
	RuleNonWear            RuleID = "non_wear"
	RuleSleep              RuleID = "sleep"
	RuleIntensitySedentary RuleID = "intensity_sedentary"
	RuleIntensityLight     RuleID = "intensity_light"
	RuleIntensityModerate  RuleID = "intensity_moderate"
	RuleIntensityVigorous  RuleID = "intensity_vigorous"
)

// Labeled is a record with exactly one state and the rule that assigned it.
type Labeled struct {
	Record
	Activity float64 `json:"activity"`
	State    State   `json:"state"`
	Rule     RuleID  `json:"rule"`
	// Demoted is set when the epoch belonged to a near-zero run shorter than
	// the non-wear window and was labeled by a later rule instead.
	Demoted bool `json:"demoted,omitempty"`
}
