package wearepochs

import (
	"fmt"
	"math"
	"strings"

	"github.com/lucasjlepore/wear-epochs/epoch"
)

// BuildParticipantNotes turns an analysis into a short plain-text summary
// for reviewers.
func BuildParticipantNotes(a *Analysis) string {
	if a == nil {
		return ""
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Participant: %s (%s)\n", a.ParticipantID, a.Format)
	if !a.StartTime.IsZero() {
		fmt.Fprintf(
			&b,
			"Recording: %s to %s (%s)\n",
			a.StartTime.Format("2006-01-02 15:04"),
			a.EndTime.Format("2006-01-02 15:04"),
			formatMinutes(a.EndTime.Sub(a.StartTime).Minutes()),
		)
	}
	fmt.Fprintf(
		&b,
		"Epochs %d | from file %d | gap placeholders %d in %d gaps\n",
		a.TotalEpochs,
		a.SourceEpochs,
		a.GapEpochs,
		len(a.Gaps),
	)
	if long := longGaps(a); long > 0 {
		fmt.Fprintf(&b, "Long gaps (possible device removal): %d\n", long)
	}

	if a.TotalEpochs > 0 {
		b.WriteString("\nState Distribution\n")
		minutes := a.Header.EpochDuration.Minutes()
		for _, s := range epoch.States() {
			n := a.StateEpochs[s]
			if n == 0 {
				continue
			}
			fmt.Fprintf(
				&b,
				"- %s: %s (%.1f%%)\n",
				s,
				formatMinutes(float64(n)*minutes),
				100*float64(n)/float64(a.TotalEpochs),
			)
		}
	}

	if a.Stopped != "" {
		fmt.Fprintf(&b, "\nAnalysis stopped after %d epochs: %s\n", a.TotalEpochs, a.Stopped)
		return strings.TrimSpace(b.String())
	}

	b.WriteString("\nDays\n")
	fmt.Fprintf(&b, "- %d valid, %d excluded\n", len(a.Days), len(a.Excluded))
	for _, d := range a.Excluded {
		fmt.Fprintf(&b, "- %s excluded: %s worn, %s short\n", d.Date, formatMinutes(d.WearMinutes), formatMinutes(d.ShortfallMinutes))
	}

	if a.Vector != nil {
		m := a.Vector.Map()
		b.WriteString("\nDaily Means (valid days)\n")
		fmt.Fprintf(
			&b,
			"- Wear %s | Sleep %s | Sedentary %s | MVPA %s\n",
			formatMinutes(m["mean_daily_wear_minutes"]),
			formatMinutes(m["mean_daily_sleep_minutes"]),
			formatMinutes(m["mean_daily_sedentary_minutes"]),
			formatMinutes(m["mean_daily_mvpa_minutes"]),
		)
		fmt.Fprintf(
			&b,
			"- MVPA weekday %s / weekend %s | peak active hour %02d:00\n",
			formatMinutes(m["weekday_mean_mvpa_minutes"]),
			formatMinutes(m["weekend_mean_mvpa_minutes"]),
			peakHour(m),
		)
	} else {
		b.WriteString("\nNo feature vector: no day reached the wear minimum.\n")
	}

	return strings.TrimSpace(b.String())
}

func longGaps(a *Analysis) int {
	n := 0
	for _, g := range a.Gaps {
		if g.Long {
			n++
		}
	}
	return n
}

func peakHour(features map[string]float64) int {
	best, hour := -1.0, 0
	for h := 0; h < 24; h++ {
		v := features[fmt.Sprintf("hour_%02d_active_minutes", h)]
		if v > best {
			best, hour = v, h
		}
	}
	return hour
}

func formatMinutes(minutes float64) string {
	if minutes <= 0 || math.IsNaN(minutes) {
		return "0m"
	}
	m := int(math.Round(minutes))
	h := m / 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m%60)
	}
	return fmt.Sprintf("%dm", m)
}
