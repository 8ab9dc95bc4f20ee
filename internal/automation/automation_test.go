package automation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermittedIsTotal(t *testing.T) {
	for _, m := range Modes {
		for _, holiday := range []bool{false, true} {
			s := State{Mode: m, Holiday: holiday}
			got := Permitted(s)
			if m == Manual && !holiday {
				assert.True(t, got.Empty(), "manual must run nothing unattended")
				continue
			}
			assert.False(t, got.Empty(), "state %+v has no stages", s)
		}
	}
}

func TestPermittedStages(t *testing.T) {
	tests := []struct {
		state State
		want  StageSet
	}{
		{State{Mode: Manual}, 0},
		{State{Mode: AutoGather}, NewStageSet(Gather, Dedup)},
		{State{Mode: AutoSimplify}, NewStageSet(Gather, Dedup, Simplify)},
		{State{Mode: AutoIllustrate}, NewStageSet(Gather, Dedup, Simplify, Illustrate, Publish)},
		{State{Mode: Manual, Holiday: true}, NewStageSet(Gather, Dedup)},
		{State{Mode: AutoIllustrate, Holiday: true}, NewStageSet(Gather, Dedup)},
	}

	for _, tt := range tests {
		t.Run(tt.state.Mode.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Permitted(tt.state))
		})
	}
}

func TestHolidayFreezesPublicationFacingStages(t *testing.T) {
	for _, m := range Modes {
		got := Permitted(State{Mode: m, Holiday: true})
		assert.True(t, got.Has(Gather), "holiday must keep ingestion running for %s", m)
		assert.False(t, got.Has(Simplify))
		assert.False(t, got.Has(Illustrate))
		assert.False(t, got.Has(Publish))
	}
}

func TestTransitionIsTotal(t *testing.T) {
	events := []Event{{Kind: EnterHoliday}, {Kind: ExitHoliday}}
	for _, m := range Modes {
		events = append(events, Event{Kind: SetMode, Mode: m})
	}
	events = append(events, Event{Kind: SetMode, Mode: Mode(42)})

	for _, m := range Modes {
		for _, holiday := range []bool{false, true} {
			for _, e := range events {
				next := Transition(State{Mode: m, Holiday: holiday}, e)
				assert.True(t, next.Mode.Valid(), "transition produced invalid mode from %s on %+v", m, e)
			}
		}
	}
}

func TestHolidayRestoresPriorMode(t *testing.T) {
	s := State{Mode: AutoSimplify}
	s = Transition(s, Event{Kind: EnterHoliday})
	assert.Equal(t, NewStageSet(Gather, Dedup), Permitted(s))

	s = Transition(s, Event{Kind: ExitHoliday})
	assert.Equal(t, State{Mode: AutoSimplify}, s)
}

func TestSetModeDuringHolidayKeepsHoliday(t *testing.T) {
	s := Transition(State{Mode: AutoGather, Holiday: true}, Event{Kind: SetMode, Mode: AutoIllustrate})
	assert.True(t, s.Holiday)
	assert.Equal(t, AutoIllustrate, s.Mode)
}

func TestGate(t *testing.T) {
	tests := []struct {
		name       string
		state      State
		confidence int
		threshold  int
		want       Decision
	}{
		{
			name:       "below threshold under full automation is held",
			state:      State{Mode: AutoIllustrate},
			confidence: 55,
			threshold:  60,
			want:       Decision{Stages: NewStageSet(Gather, Dedup), Held: true},
		},
		{
			name:       "at threshold passes",
			state:      State{Mode: AutoIllustrate},
			confidence: 60,
			threshold:  60,
			want:       Decision{Stages: NewStageSet(Gather, Dedup, Simplify, Illustrate, Publish)},
		},
		{
			name:       "auto_gather is not held, it never had gated stages",
			state:      State{Mode: AutoGather},
			confidence: 10,
			threshold:  60,
			want:       Decision{Stages: NewStageSet(Gather, Dedup)},
		},
		{
			name:       "holiday is not held",
			state:      State{Mode: AutoIllustrate, Holiday: true},
			confidence: 10,
			threshold:  60,
			want:       Decision{Stages: NewStageSet(Gather, Dedup)},
		},
		{
			name:       "auto_simplify below threshold",
			state:      State{Mode: AutoSimplify},
			confidence: 49,
			threshold:  50,
			want:       Decision{Stages: NewStageSet(Gather, Dedup), Held: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Gate(tt.state, tt.confidence, tt.threshold))
		})
	}
}

func TestParseLabel(t *testing.T) {
	e, err := ParseLabel("Holiday")
	require.NoError(t, err)
	assert.Equal(t, EnterHoliday, e.Kind)

	e, err = ParseLabel("auto_simplify")
	require.NoError(t, err)
	assert.Equal(t, Event{Kind: SetMode, Mode: AutoSimplify}, e)

	_, err = ParseLabel("turbo")
	assert.Error(t, err)
}

func TestModeJSON(t *testing.T) {
	data, err := json.Marshal(State{Mode: AutoGather})
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"auto_gather","holiday":false}`, string(data))

	var s State
	require.NoError(t, json.Unmarshal([]byte(`{"mode":"auto_illustrate","holiday":true}`), &s))
	assert.Equal(t, State{Mode: AutoIllustrate, Holiday: true}, s)

	stages, err := json.Marshal(NewStageSet(Publish, Gather))
	require.NoError(t, err)
	assert.Equal(t, `["gather","publish"]`, string(stages))
}
