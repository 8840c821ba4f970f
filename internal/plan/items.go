package plan

import (
	"errors"
	"fmt"

	"github.com/lowaak/cable-trainer/internal/protocol"
)

// ExerciseSpec is one standard-mode block definition.
type ExerciseSpec struct {
	Mode          protocol.Mode `yaml:"mode" json:"mode"`
	PerCableKg    float64       `yaml:"perCableKg" json:"perCableKg"`
	Reps          int           `yaml:"reps" json:"reps"`
	Cables        int           `yaml:"cables" json:"cables"`
	ProgressionKg float64       `yaml:"progressionKg,omitempty" json:"progressionKg,omitempty"`
	JustLift      bool          `yaml:"justLift,omitempty" json:"justLift,omitempty"`
	StopAtTop     bool          `yaml:"stopAtTop,omitempty" json:"stopAtTop,omitempty"`
}

// EchoSpec is one echo-mode block definition.
type EchoSpec struct {
	Level        int  `yaml:"level" json:"level"`
	EccentricPct int  `yaml:"eccentricPct" json:"eccentricPct"`
	TargetReps   int  `yaml:"targetReps" json:"targetReps"`
	JustLift     bool `yaml:"justLift,omitempty" json:"justLift,omitempty"`
	StopAtTop    bool `yaml:"stopAtTop,omitempty" json:"stopAtTop,omitempty"`
}

// Item is one plan entry: exactly one of Exercise or Echo, plus the shared
// set/rest structure.
type Item struct {
	Name     string        `yaml:"name" json:"name"`
	Sets     int           `yaml:"sets" json:"sets"`
	RestSec  int           `yaml:"restSec" json:"restSec"`
	Exercise *ExerciseSpec `yaml:"exercise,omitempty" json:"exercise,omitempty"`
	Echo     *EchoSpec     `yaml:"echo,omitempty" json:"echo,omitempty"`
}

// Plan is a named ordered list of items.
type Plan struct {
	Name  string `yaml:"name" json:"name"`
	Items []Item `yaml:"items" json:"items"`
}

var ErrEmptyPlan = errors.New("plan: no items")

// Validate checks a whole plan before it may be started or saved.
func (p Plan) Validate() error {
	if len(p.Items) == 0 {
		return ErrEmptyPlan
	}
	for i, item := range p.Items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("plan: item %d (%s): %w", i, item.Name, err)
		}
	}
	return nil
}

func (p Plan) totalSets() int {
	total := 0
	for _, item := range p.Items {
		total += item.Sets
	}
	return total
}

func (it Item) Validate() error {
	if it.Sets < 1 {
		return fmt.Errorf("sets must be at least 1, got %d", it.Sets)
	}
	if it.RestSec < 0 {
		return fmt.Errorf("restSec must not be negative, got %d", it.RestSec)
	}
	switch {
	case it.Exercise != nil && it.Echo != nil:
		return errors.New("item is both exercise and echo")
	case it.Exercise != nil:
		return it.Exercise.validate()
	case it.Echo != nil:
		return it.Echo.validate()
	default:
		return errors.New("item is neither exercise nor echo")
	}
}

// validate reuses the codec's range checks so a plan that loads is a plan
// that encodes.
func (e ExerciseSpec) validate() error {
	if e.Cables != 1 && e.Cables != 2 {
		return fmt.Errorf("cables must be 1 or 2, got %d", e.Cables)
	}
	_, err := protocol.EncodeProgramParams(protocol.ProgramParams{
		Mode:          e.Mode,
		Reps:          e.Reps,
		JustLift:      e.JustLift,
		PerCableKg:    e.PerCableKg,
		ProgressionKg: e.ProgressionKg,
	})
	return err
}

func (e EchoSpec) validate() error {
	_, err := protocol.EncodeEchoControl(protocol.EchoControl{
		Level:        e.Level,
		EccentricPct: e.EccentricPct,
		TargetReps:   e.TargetReps,
		JustLift:     e.JustLift,
	})
	return err
}
