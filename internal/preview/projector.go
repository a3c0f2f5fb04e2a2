// Package preview computes what a modal renders at a given moment: the
// visible field subset for the current step under the current values, and
// the server-side sessions the builder's live preview drives.
package preview

import (
	"github.com/proposehq/formbff/internal/rules"
	"github.com/proposehq/formbff/model"
)

// Projector filters a configuration's fields down to what the renderer
// shows, combining step membership with condition evaluation. The zero
// value projects with the default fail-closed evaluator.
type Projector struct {
	eval rules.Evaluator
}

// NewProjector creates a Projector using the given evaluator.
func NewProjector(eval rules.Evaluator) *Projector {
	return &Projector{eval: eval}
}

// VisibleFields returns the fields shown at stepIndex under the given
// values, preserving their relative order. With no steps every field is a
// candidate; otherwise only the fields assigned to steps[stepIndex] are.
// Fields whose conditions evaluate false are dropped.
func (p *Projector) VisibleFields(fields []model.Field, steps []model.Step, stepIndex int, values map[string]any) []model.Field {
	var stepID string
	if len(steps) > 0 {
		stepID = steps[ClampStep(stepIndex, len(steps))].ID
	}

	visible := make([]model.Field, 0, len(fields))
	for _, f := range fields {
		if len(steps) > 0 && f.StepID != stepID {
			continue
		}
		if !p.eval.Evaluate(f.Conditions, values) {
			continue
		}
		visible = append(visible, f)
	}
	return visible
}

// ClampStep bounds a step index to [0, stepCount-1]. A config with no steps
// clamps everything to 0.
func ClampStep(index, stepCount int) int {
	if index < 0 || stepCount <= 0 {
		return 0
	}
	if index >= stepCount {
		return stepCount - 1
	}
	return index
}
