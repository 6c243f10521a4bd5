// Package label assigns exactly one activity state to every epoch of a
// continuous stream using an ordered rule list.
//
// Rule order is priority: gap placeholders first, then sustained runs of
// near-zero raw axis counts (non-wear), then nightly low-activity runs (sleep), then the intensity
// cut points. A near-zero run too short to be non-wear is demoted and
// evaluated by the sleep and intensity rules instead.
package label

import (
	"math"
	"time"

	"github.com/lucasjlepore/wear-epochs/config"
	"github.com/lucasjlepore/wear-epochs/epoch"
)

// Labeler is a pure function of its configuration and input stream.
// One Labeler may label many streams, including concurrently.
type Labeler struct {
	calibration [epoch.MaxAxes]config.Calibration

	nonWearMin  int
	zeroCeiling float64

	sleepStart time.Duration
	sleepEnd   time.Duration
	sleepBelow float64
	sleepMin   int

	cuts [3]float64
	loc  *time.Location
}

// New validates cfg and returns a labeler for it.
func New(cfg config.Config) (*Labeler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Labeler{
		nonWearMin:  cfg.NonWearMinWindowEpochs,
		zeroCeiling: cfg.NonWearZeroThreshold,
		sleepBelow:  cfg.SleepThreshold,
		sleepMin:    cfg.SleepMinRunEpochs,
		cuts:        cfg.Thresholds(),
		loc:         cfg.Location(),
	}
	l.sleepStart, l.sleepEnd = cfg.SleepWindow()
	for i := range l.calibration {
		l.calibration[i] = cfg.AxisCalibration(i)
	}
	return l, nil
}

// Rules lists the rule ids in priority order.
func (l *Labeler) Rules() []epoch.RuleID {
	return []epoch.RuleID{
		epoch.RuleGap,
		epoch.RuleNonWear,
		epoch.RuleSleep,
		epoch.RuleIntensitySedentary,
		epoch.RuleIntensityLight,
		epoch.RuleIntensityModerate,
		epoch.RuleIntensityVigorous,
	}
}

// Activity is the Euclidean norm of the calibrated axis counts.
func (l *Labeler) Activity(rec epoch.Record) float64 {
	var sum float64
	for i := 0; i < rec.Axes; i++ {
		cal := l.calibration[i]
		v := (float64(rec.Counts[i]) - cal.Offset) / cal.Gain
		sum += v * v
	}
	return math.Sqrt(sum)
}

// NearZero reports whether every raw axis count of rec is at or below the
// non-wear threshold. Calibration does not apply.
func (l *Labeler) NearZero(rec epoch.Record) bool {
	for i := 0; i < rec.Axes; i++ {
		if float64(rec.Counts[i]) > l.zeroCeiling {
			return false
		}
	}
	return true
}

// InSleepWindow reports whether ts falls in the local nightly window
// [start, end). A window whose start is after its end wraps midnight.
func (l *Labeler) InSleepWindow(ts time.Time) bool {
	local := ts.In(l.loc)
	tod := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second
	switch {
	case l.sleepStart < l.sleepEnd:
		return tod >= l.sleepStart && tod < l.sleepEnd
	case l.sleepStart > l.sleepEnd:
		return tod >= l.sleepStart || tod < l.sleepEnd
	}
	return false
}

// Intensity applies the cut points to an activity value.
func (l *Labeler) Intensity(activity float64) (epoch.State, epoch.RuleID) {
	switch {
	case activity < l.cuts[0]:
		return epoch.StateSedentary, epoch.RuleIntensitySedentary
	case activity < l.cuts[1]:
		return epoch.StateActiveLow, epoch.RuleIntensityLight
	case activity < l.cuts[2]:
		return epoch.StateActiveModerate, epoch.RuleIntensityModerate
	}
	return epoch.StateActiveVigorous, epoch.RuleIntensityVigorous
}

// Label returns the labeled stream. Output order equals input order; only
// the current candidate non-wear or sleep run is held in memory. An upstream
// error ends the stream without emitting the undecided run.
func (l *Labeler) Label(seq epoch.Seq[epoch.Record]) epoch.Seq[epoch.Labeled] {
	return func(yield func(epoch.Labeled, error) bool) {
		p := &pass{l: l, yield: yield}
		for rec, err := range seq {
			if err != nil {
				yield(epoch.Labeled{}, err)
				return
			}
			if !p.push(rec) {
				return
			}
		}
		if p.flushZero() {
			p.flushSleep()
		}
	}
}

// pass holds the two candidate runs of one Label iteration.
type pass struct {
	l     *Labeler
	yield func(epoch.Labeled, error) bool

	zeroRun []epoch.Labeled
	nonWear bool // zero run already confirmed, remaining epochs stream through

	sleepRun []epoch.Labeled
	sleeping bool
}

func (p *pass) push(rec epoch.Record) bool {
	e := epoch.Labeled{Record: rec}
	if rec.Gap {
		e.State, e.Rule = epoch.StateGap, epoch.RuleGap
		return p.flushZero() && p.emitFixed(e)
	}

	e.Activity = p.l.Activity(rec)
	if p.l.NearZero(rec) {
		if p.nonWear {
			return p.emitNonWear(e)
		}
		p.zeroRun = append(p.zeroRun, e)
		if len(p.zeroRun) < p.l.nonWearMin {
			return true
		}
		p.nonWear = true
		run := p.zeroRun
		p.zeroRun = p.zeroRun[:0]
		for _, z := range run {
			if !p.emitNonWear(z) {
				return false
			}
		}
		return true
	}
	return p.flushZero() && p.evaluate(e)
}

// flushZero closes the current near-zero run. A confirmed run was already
// emitted; a short one is demoted to the later rules.
func (p *pass) flushZero() bool {
	p.nonWear = false
	run := p.zeroRun
	p.zeroRun = p.zeroRun[:0]
	for _, e := range run {
		e.Demoted = true
		if !p.evaluate(e) {
			return false
		}
	}
	return true
}

func (p *pass) emitNonWear(e epoch.Labeled) bool {
	e.State, e.Rule = epoch.StateNonWear, epoch.RuleNonWear
	return p.emitFixed(e)
}

// emitFixed emits an epoch whose state is final, closing any sleep run first.
func (p *pass) emitFixed(e epoch.Labeled) bool {
	return p.flushSleep() && p.yield(e, nil)
}

// evaluate applies the sleep and intensity rules.
func (p *pass) evaluate(e epoch.Labeled) bool {
	if e.Activity < p.l.sleepBelow && p.l.InSleepWindow(e.Timestamp) {
		if p.sleeping {
			return p.emitSleep(e)
		}
		p.sleepRun = append(p.sleepRun, e)
		if len(p.sleepRun) < p.l.sleepMin {
			return true
		}
		p.sleeping = true
		run := p.sleepRun
		p.sleepRun = p.sleepRun[:0]
		for _, s := range run {
			if !p.emitSleep(s) {
				return false
			}
		}
		return true
	}
	return p.flushSleep() && p.emitIntensity(e)
}

func (p *pass) flushSleep() bool {
	p.sleeping = false
	run := p.sleepRun
	p.sleepRun = p.sleepRun[:0]
	for _, e := range run {
		if !p.emitIntensity(e) {
			return false
		}
	}
	return true
}

func (p *pass) emitSleep(e epoch.Labeled) bool {
	e.State, e.Rule = epoch.StateSleep, epoch.RuleSleep
	return p.yield(e, nil)
}

func (p *pass) emitIntensity(e epoch.Labeled) bool {
	e.State, e.Rule = p.l.Intensity(e.Activity)
	return p.yield(e, nil)
}
