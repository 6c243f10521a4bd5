package wearepochs

import (
	"sort"
	"time"

	"github.com/lucasjlepore/wear-epochs/aggregate"
	"github.com/lucasjlepore/wear-epochs/epoch"
	"github.com/lucasjlepore/wear-epochs/reconcile"
)

// AuditKind classifies an audit entry.
type AuditKind string

const (
	AuditStateRun    AuditKind = "state_run"
	AuditDemotedRun  AuditKind = "demoted_non_wear"
	AuditGap         AuditKind = "gap"
	AuditDayExcluded AuditKind = "day_excluded"
)

// AuditEntry records one labeling or exclusion decision so every state in
// the output can be traced back to a rule and a byte range of the source.
type AuditEntry struct {
	ParticipantID string       `json:"participant_id"`
	Kind          AuditKind    `json:"kind"`
	State         string       `json:"state,omitempty"`
	Rule          epoch.RuleID `json:"rule,omitempty"`
	First         time.Time    `json:"first"`
	Last          time.Time    `json:"last"`

	// Offsets of the first and last source records; -1 for placeholders.
	FirstOffset int64 `json:"first_offset"`
	LastOffset  int64 `json:"last_offset"`
	Epochs      int   `json:"epochs"`

	// AfterOffset is the source record preceding a gap.
	AfterOffset      int64   `json:"after_offset,omitempty"`
	Long             bool    `json:"long,omitempty"`
	Date             string  `json:"date,omitempty"`
	WearMinutes      float64 `json:"wear_minutes,omitempty"`
	ShortfallMinutes float64 `json:"shortfall_minutes,omitempty"`
}

type auditor struct {
	participantID string
	runs          []AuditEntry
	run           *AuditEntry
	demoted       *AuditEntry
}

func newAuditor(participantID string) *auditor {
	return &auditor{participantID: participantID}
}

func (au *auditor) add(e epoch.Labeled) {
	if au.run != nil && au.run.Rule != e.Rule {
		au.closeRun()
	}
	if au.run == nil {
		au.run = au.open(AuditStateRun, e)
		au.run.State = e.State.String()
		au.run.Rule = e.Rule
	}
	au.extend(au.run, e)

	if !e.Demoted {
		au.closeDemoted()
		return
	}
	if au.demoted == nil {
		au.demoted = au.open(AuditDemotedRun, e)
	}
	au.extend(au.demoted, e)
}

func (au *auditor) open(kind AuditKind, e epoch.Labeled) *AuditEntry {
	return &AuditEntry{
		ParticipantID: au.participantID,
		Kind:          kind,
		First:         e.Timestamp,
		FirstOffset:   e.SourceOffset,
	}
}

func (au *auditor) extend(entry *AuditEntry, e epoch.Labeled) {
	entry.Last = e.Timestamp
	entry.LastOffset = e.SourceOffset
	entry.Epochs++
}

func (au *auditor) closeRun() {
	if au.run != nil {
		au.runs = append(au.runs, *au.run)
		au.run = nil
	}
}

func (au *auditor) closeDemoted() {
	if au.demoted != nil {
		au.runs = append(au.runs, *au.demoted)
		au.demoted = nil
	}
}

// entries closes open runs, adds gap and excluded-day entries and returns
// everything ordered by start time. Entries starting together keep the
// order they were recorded in.
func (au *auditor) entries(gaps []reconcile.Gap, excluded []aggregate.DayWindow) []AuditEntry {
	au.closeDemoted()
	au.closeRun()
	out := append([]AuditEntry(nil), au.runs...)
	for _, g := range gaps {
		out = append(out, AuditEntry{
			ParticipantID: au.participantID,
			Kind:          AuditGap,
			State:         epoch.StateGap.String(),
			Rule:          epoch.RuleGap,
			First:         g.Start,
			Last:          g.End,
			FirstOffset:   epoch.SyntheticOffset,
			LastOffset:    epoch.SyntheticOffset,
			AfterOffset:   g.AfterOffset,
			Epochs:        g.Epochs,
			Long:          g.Long,
		})
	}
	for _, d := range excluded {
		out = append(out, AuditEntry{
			ParticipantID:    au.participantID,
			Kind:             AuditDayExcluded,
			First:            d.Start,
			Last:             d.End,
			FirstOffset:      epoch.SyntheticOffset,
			LastOffset:       epoch.SyntheticOffset,
			Epochs:           d.EpochCount,
			Date:             d.Date,
			WearMinutes:      d.WearMinutes,
			ShortfallMinutes: d.ShortfallMinutes,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].First.Before(out[j].First) })
	return out
}
