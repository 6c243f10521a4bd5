package aggregate

import (
	"fmt"
	"strings"
)

// Feature is one named value of a participant feature vector.
type Feature struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// FeatureVector is the ordered feature list handed to the clustering step.
// The order is fixed for a given configuration.
type FeatureVector struct {
	ParticipantID string    `json:"participant_id"`
	Features      []Feature `json:"features"`
}

// Get returns the value of the named feature.
func (v *FeatureVector) Get(name string) (float64, bool) {
	for _, f := range v.Features {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// Map returns the features keyed by name.
func (v *FeatureVector) Map() map[string]float64 {
	out := make(map[string]float64, len(v.Features))
	for _, f := range v.Features {
		out[f.Name] = f.Value
	}
	return out
}

func (v *FeatureVector) add(name string, value float64) {
	v.Features = append(v.Features, Feature{Name: name, Value: value})
}

func stateKey(name string) string {
	return strings.ToLower(name)
}

func hourFeature(h int, suffix string) string {
	return fmt.Sprintf("hour_%02d_%s", h, suffix)
}

// InsufficientValidDaysError means no day reached the minimum wear time.
type InsufficientValidDaysError struct {
	ParticipantID      string
	Days               int
	MinValidDayMinutes float64
}

func (e *InsufficientValidDaysError) Error() string {
	return fmt.Sprintf("participant %s: none of %d days reached %.0f wear minutes", e.ParticipantID, e.Days, e.MinValidDayMinutes)
}
