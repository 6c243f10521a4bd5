package aggregate

import (
	"sort"
	"time"

	"github.com/lucasjlepore/wear-epochs/config"
	"github.com/lucasjlepore/wear-epochs/epoch"
	"gonum.org/v1/gonum/stat"
)

// dailyStates get mean and standard deviation features per valid day.
var dailyStates = []epoch.State{
	epoch.StateSedentary,
	epoch.StateActiveLow,
	epoch.StateActiveModerate,
	epoch.StateActiveVigorous,
	epoch.StateSleep,
}

// profileStates get per-hour and per-weekday minute features.
var profileStates = []epoch.State{
	epoch.StateSedentary,
	epoch.StateActiveLow,
	epoch.StateActiveModerate,
	epoch.StateActiveVigorous,
}

// Result is the outcome for one participant. Days are the valid days,
// Excluded the days below the wear minimum, both in chronological order.
type Result struct {
	Days     []DayWindow    `json:"days"`
	Excluded []DayWindow    `json:"excluded"`
	Vector   *FeatureVector `json:"vector,omitempty"`
}

// All returns valid and excluded days merged in index order.
func (r *Result) All() []DayWindow {
	out := make([]DayWindow, 0, len(r.Days)+len(r.Excluded))
	out = append(out, r.Days...)
	out = append(out, r.Excluded...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Aggregator holds the day and validity settings.
type Aggregator struct {
	mode       config.DayBoundaryMode
	loc        *time.Location
	duration   time.Duration
	minWearMin float64
}

// New validates cfg and returns an aggregator for it.
func New(cfg config.Config) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{
		mode:       cfg.DayBoundaryMode,
		loc:        cfg.Location(),
		duration:   cfg.EpochDuration(),
		minWearMin: cfg.MinValidDayMinutes,
	}, nil
}

// Aggregate drains seq and builds the participant result. With no valid day
// it returns the result, for auditing, together with *InsufficientValidDaysError.
func (a *Aggregator) Aggregate(participantID string, seq epoch.Seq[epoch.Labeled]) (*Result, error) {
	b := a.NewBuilder(participantID)
	for e, err := range seq {
		if err != nil {
			return nil, err
		}
		b.Add(e)
	}
	return b.Finish()
}

// Builder accumulates one participant's epochs day by day.
type Builder struct {
	a             *Aggregator
	participantID string

	anchor  time.Time
	started bool
	key     dayKey
	current *DayWindow
	days    []DayWindow
}

// NewBuilder starts an incremental aggregation. Epochs must be added in time order.
func (a *Aggregator) NewBuilder(participantID string) *Builder {
	return &Builder{a: a, participantID: participantID}
}

// Add assigns e to its day, closing the previous day when e falls outside it.
func (b *Builder) Add(e epoch.Labeled) {
	if !b.started {
		b.anchor = e.Timestamp
		b.started = true
	}
	if b.current == nil || !b.key.contains(e.Timestamp) {
		b.closeDay()
		b.key = b.a.dayFor(b.anchor, e.Timestamp)
		local := b.key.start.In(b.a.loc)
		b.current = &DayWindow{
			Index:         len(b.days),
			Date:          local.Format("2006-01-02"),
			Start:         b.key.start,
			End:           b.key.end,
			EpochDuration: b.a.duration,
			Weekend:       local.Weekday() == time.Saturday || local.Weekday() == time.Sunday,
			Weekday:       local.Weekday(),
		}
	}
	d := b.current
	h := e.Timestamp.In(b.a.loc).Hour()
	d.EpochCount++
	d.StateEpochs[e.State]++
	d.HourlyStateEpochs[h][e.State]++
	if e.State.Worn() {
		d.ActivitySum += e.Activity
		d.HourlyActivitySum[h] += e.Activity
		d.HourlyWornEpochs[h]++
	}
}

func (b *Builder) closeDay() {
	if b.current == nil {
		return
	}
	d := *b.current
	d.WearMinutes = float64(d.WornEpochs()) * d.EpochDuration.Minutes()
	d.Valid = d.WearMinutes >= b.a.minWearMin
	if !d.Valid {
		d.ShortfallMinutes = b.a.minWearMin - d.WearMinutes
	}
	b.days = append(b.days, d)
	b.current = nil
}

// Finish closes the last day and computes the feature vector from valid days.
func (b *Builder) Finish() (*Result, error) {
	b.closeDay()
	res := &Result{}
	for _, d := range b.days {
		if d.Valid {
			res.Days = append(res.Days, d)
		} else {
			res.Excluded = append(res.Excluded, d)
		}
	}
	if len(res.Days) == 0 {
		return res, &InsufficientValidDaysError{
			ParticipantID:      b.participantID,
			Days:               len(b.days),
			MinValidDayMinutes: b.a.minWearMin,
		}
	}
	res.Vector = buildVector(b.participantID, res.Days, len(res.Excluded))
	return res, nil
}

func (a *Aggregator) dayFor(anchor, ts time.Time) dayKey {
	if a.mode == config.DayWear {
		n := ts.Sub(anchor) / (24 * time.Hour)
		start := anchor.Add(n * 24 * time.Hour)
		return dayKey{start: start, end: start.Add(24 * time.Hour)}
	}
	local := ts.In(a.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.loc)
	return dayKey{start: start, end: start.AddDate(0, 0, 1)}
}

func buildVector(participantID string, days []DayWindow, excluded int) *FeatureVector {
	v := &FeatureVector{ParticipantID: participantID}
	v.add("valid_days", float64(len(days)))
	v.add("excluded_days", float64(excluded))

	for _, s := range epoch.States() {
		var total float64
		for _, d := range days {
			total += d.StateMinutes(s)
		}
		v.add("total_"+stateKey(s.String())+"_minutes", total)
	}

	for _, s := range dailyStates {
		xs := perDay(days, func(d DayWindow) float64 { return d.StateMinutes(s) })
		v.add("mean_daily_"+stateKey(s.String())+"_minutes", stat.Mean(xs, nil))
		v.add("sd_daily_"+stateKey(s.String())+"_minutes", stdDev(xs))
	}

	wear := perDay(days, func(d DayWindow) float64 { return d.WearMinutes })
	mvpa := perDay(days, DayWindow.MVPAMinutes)
	v.add("mean_daily_wear_minutes", stat.Mean(wear, nil))
	v.add("mean_daily_mvpa_minutes", stat.Mean(mvpa, nil))

	var weekday, weekend []float64
	for _, d := range days {
		if d.Weekend {
			weekend = append(weekend, d.MVPAMinutes())
		} else {
			weekday = append(weekday, d.MVPAMinutes())
		}
	}
	v.add("weekday_mean_mvpa_minutes", mean(weekday))
	v.add("weekend_mean_mvpa_minutes", mean(weekend))

	m := v.Map()
	sedentary := m["total_sedentary_minutes"]
	v.add("vigorous_to_sedentary_ratio", ratio(m["total_active_vigorous_minutes"], sedentary))
	v.add("mvpa_to_sedentary_ratio", ratio(m["total_active_moderate_minutes"]+m["total_active_vigorous_minutes"], sedentary))

	var activity float64
	var worn int
	for _, d := range days {
		activity += d.ActivitySum
		worn += d.WornEpochs()
	}
	v.add("mean_activity_per_wear_epoch", ratio(activity, float64(worn)))

	for h := 0; h < 24; h++ {
		active := perDay(days, func(d DayWindow) float64 { return d.HourActiveMinutes(h) })
		v.add(hourFeature(h, "active_minutes"), stat.Mean(active, nil))
		for _, s := range profileStates {
			hs := perDay(days, func(d DayWindow) float64 { return d.HourMinutes(h, s) })
			v.add(hourFeature(h, stateKey(s.String())+"_minutes"), stat.Mean(hs, nil))
		}
		var sum float64
		var n int
		for _, d := range days {
			sum += d.HourlyActivitySum[h]
			n += d.HourlyWornEpochs[h]
		}
		v.add(hourFeature(h, "mean_activity"), ratio(sum, float64(n)))
	}

	// Weekdays run Monday to Sunday; a weekday without a valid day scores zero.
	for i := 1; i <= 7; i++ {
		wd := time.Weekday(i % 7)
		var same []DayWindow
		for _, d := range days {
			if d.Weekday == wd {
				same = append(same, d)
			}
		}
		for _, s := range profileStates {
			xs := perDay(same, func(d DayWindow) float64 { return d.StateMinutes(s) })
			v.add("dow_"+stateKey(wd.String())+"_"+stateKey(s.String())+"_minutes", mean(xs))
		}
	}
	return v
}

func perDay(days []DayWindow, f func(DayWindow) float64) []float64 {
	out := make([]float64, len(days))
	for i, d := range days {
		out[i] = f(d)
	}
	return out
}

// mean is zero for an empty sample.
func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// stdDev is zero below two samples.
func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil)
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
