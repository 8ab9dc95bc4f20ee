// Package automation decides which pipeline stages run unattended for a topic.
//
// The engine is a Mealy machine: the permitted stage set is a pure function of
// the stored mode, the holiday flag and, for gated stages, the originality
// confidence of the item being advanced.
package automation

import (
	"fmt"
	"strings"
)

// Mode is the level of unattended autonomy for a topic, in increasing order.
type Mode int

const (
	Manual Mode = iota
	AutoGather
	AutoSimplify
	AutoIllustrate
)

// Modes lists every mode in order of increasing autonomy.
var Modes = []Mode{Manual, AutoGather, AutoSimplify, AutoIllustrate}

// HolidayLabel is accepted by ParseLabel as a request to enter holiday.
const HolidayLabel = "holiday"

func (m Mode) String() string {
	switch m {
	case Manual:
		return "manual"
	case AutoGather:
		return "auto_gather"
	case AutoSimplify:
		return "auto_simplify"
	case AutoIllustrate:
		return "auto_illustrate"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Valid reports whether m is one of the declared modes.
func (m Mode) Valid() bool {
	return m >= Manual && m <= AutoIllustrate
}

// ParseMode converts a stored or user-supplied label into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual":
		return Manual, nil
	case "auto_gather":
		return AutoGather, nil
	case "auto_simplify":
		return AutoSimplify, nil
	case "auto_illustrate":
		return AutoIllustrate, nil
	}
	return Manual, fmt.Errorf("unknown automation mode %q", s)
}

// MarshalText lets modes round-trip through JSON and YAML as labels.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid automation mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Stage is one step of the ingestion-to-publication pipeline.
type Stage uint8

const (
	Gather Stage = 1 << iota
	Dedup
	Simplify
	Illustrate
	Publish
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{Gather, Dedup, Simplify, Illustrate, Publish}

func (s Stage) String() string {
	switch s {
	case Gather:
		return "gather"
	case Dedup:
		return "dedup"
	case Simplify:
		return "simplify"
	case Illustrate:
		return "illustrate"
	case Publish:
		return "publish"
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// publicationFacing are the stages frozen by holiday and guarded by the quality gate.
const publicationFacing = StageSet(Simplify | Illustrate | Publish)

// StageSet is a set of stages. The zero value is the empty set.
type StageSet uint8

// NewStageSet builds a set from the given stages.
func NewStageSet(stages ...Stage) StageSet {
	var set StageSet
	for _, s := range stages {
		set |= StageSet(s)
	}
	return set
}

func (ss StageSet) Has(s Stage) bool { return ss&StageSet(s) != 0 }

func (ss StageSet) Without(other StageSet) StageSet { return ss &^ other }

func (ss StageSet) Empty() bool { return ss == 0 }

// List returns the members of the set in pipeline order.
func (ss StageSet) List() []Stage {
	out := make([]Stage, 0, len(Stages))
	for _, s := range Stages {
		if ss.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

func (ss StageSet) String() string {
	names := make([]string, 0, len(Stages))
	for _, s := range ss.List() {
		names = append(names, s.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// MarshalJSON renders the set as a list of stage names.
func (ss StageSet) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, s := range ss.List() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(`"` + s.String() + `"`)
	}
	sb.WriteByte(']')
	return []byte(sb.String()), nil
}

// State is the stored automation state of a topic.
type State struct {
	Mode    Mode `json:"mode"`
	Holiday bool `json:"holiday"`
}

// EventKind enumerates the inputs of the transition function.
type EventKind int

const (
	SetMode EventKind = iota
	EnterHoliday
	ExitHoliday
)

// Event is an editor command. Mode is only read for SetMode.
type Event struct {
	Kind EventKind
	Mode Mode
}

// ParseLabel turns an editor-facing label into an event. "holiday" enters
// holiday; every other label must name a mode.
func ParseLabel(label string) (Event, error) {
	if strings.EqualFold(strings.TrimSpace(label), HolidayLabel) {
		return Event{Kind: EnterHoliday}, nil
	}
	m, err := ParseMode(label)
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: SetMode, Mode: m}, nil
}

// Transition returns the next state. It is defined for every (state, event)
// pair; an invalid mode in a SetMode event leaves the state unchanged.
// Holiday overrides the stored mode without destroying it, so a mode set
// during holiday takes effect once holiday ends.
func Transition(s State, e Event) State {
	switch e.Kind {
	case SetMode:
		if e.Mode.Valid() {
			s.Mode = e.Mode
		}
	case EnterHoliday:
		s.Holiday = true
	case ExitHoliday:
		s.Holiday = false
	}
	return s
}

// Permitted returns the stages that run without human approval.
func Permitted(s State) StageSet {
	if s.Holiday {
		return NewStageSet(Gather, Dedup)
	}
	switch s.Mode {
	case Manual:
		return 0
	case AutoGather:
		return NewStageSet(Gather, Dedup)
	case AutoSimplify:
		return NewStageSet(Gather, Dedup, Simplify)
	case AutoIllustrate:
		return NewStageSet(Gather, Dedup, Simplify, Illustrate, Publish)
	}
	return 0
}

// Decision is the gated output for a single item.
type Decision struct {
	Stages StageSet `json:"stages"`
	// Held is set when the quality gate removed a stage the mode would
	// otherwise have run; the item goes to manual review.
	Held bool `json:"held"`
}

// Gate applies the quality gate: content whose originality confidence is
// below the topic threshold never advances past dedup unattended.
func Gate(s State, confidence, threshold int) Decision {
	stages := Permitted(s)
	if confidence >= threshold {
		return Decision{Stages: stages}
	}
	gated := stages.Without(publicationFacing)
	return Decision{Stages: gated, Held: gated != stages}
}
