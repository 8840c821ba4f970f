package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/cable-trainer/internal/protocol"
)

func validExercise() *ExerciseSpec {
	return &ExerciseSpec{Mode: protocol.ModeOldSchool, PerCableKg: 20, Reps: 8, Cables: 2}
}

func TestPlanValidate(t *testing.T) {
	p := Plan{Name: "push day", Items: []Item{
		{Name: "press", Sets: 3, RestSec: 90, Exercise: validExercise()},
		{Name: "burnout", Sets: 1, Echo: &EchoSpec{Level: 2, EccentricPct: 110, TargetReps: 12}},
	}}
	assert.NoError(t, p.Validate())
	assert.Equal(t, 4, p.totalSets())
}

func TestPlanValidate_Empty(t *testing.T) {
	assert.ErrorIs(t, Plan{Name: "empty"}.Validate(), ErrEmptyPlan)
}

func TestItemValidate(t *testing.T) {
	cases := []struct {
		name string
		item Item
	}{
		{"zero sets", Item{Name: "x", Sets: 0, Exercise: validExercise()}},
		{"negative rest", Item{Name: "x", Sets: 1, RestSec: -1, Exercise: validExercise()}},
		{"no spec", Item{Name: "x", Sets: 1}},
		{"both specs", Item{Name: "x", Sets: 1, Exercise: validExercise(), Echo: &EchoSpec{Level: 1}}},
		{"bad cables", Item{Name: "x", Sets: 1, Exercise: &ExerciseSpec{Mode: protocol.ModePump, PerCableKg: 10, Reps: 5, Cables: 3}}},
		{"weight out of range", Item{Name: "x", Sets: 1, Exercise: &ExerciseSpec{Mode: protocol.ModePump, PerCableKg: 150, Reps: 5, Cables: 2}}},
		{"echo level out of range", Item{Name: "x", Sets: 1, Echo: &EchoSpec{Level: 9, TargetReps: 5}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.item.Validate())
		})
	}
}

func TestItemValidate_RangeErrorsCarryField(t *testing.T) {
	item := Item{Name: "x", Sets: 1, Exercise: &ExerciseSpec{Mode: protocol.ModePump, PerCableKg: 10, Reps: 5, Cables: 2, ProgressionKg: 9}}
	err := item.Validate()
	var verr *protocol.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "progressionKg", verr.Field)
}
