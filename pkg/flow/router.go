package flow

import (
	"errors"
	"fmt"

	"github.com/taskbridge/taskbridge/pkg/models"
)

// ErrNoDefaultOutput indicates the flow has no active default output, so an
// unroutable task has nowhere to go.
var ErrNoDefaultOutput = errors.New("flow has no active default output")

// ErrMultipleDefaults indicates more than one active output claims to be the
// default. A data-integrity fault: the affected task fails, siblings proceed.
var ErrMultipleDefaults = errors.New("flow has multiple active default outputs")

// Route selects the outputs a detected task is delivered to. Outputs whose
// domain filter contains the task's domain (case-sensitive) receive it; a
// task with no domain, or one no filter matches, goes to the unique default
// output as the non-routable safety net.
func Route(task *models.DetectedTask, outputs []*models.FlowOutput) ([]*models.FlowOutput, error) {
	if task.Domain != nil && *task.Domain != "" {
		var matched []*models.FlowOutput
		for _, o := range outputs {
			if o.MatchesDomain(*task.Domain) {
				matched = append(matched, o)
			}
		}
		if len(matched) > 0 {
			return matched, nil
		}
	}

	def, err := defaultOutput(outputs)
	if err != nil {
		return nil, err
	}
	return []*models.FlowOutput{def}, nil
}

func defaultOutput(outputs []*models.FlowOutput) (*models.FlowOutput, error) {
	var def *models.FlowOutput
	for _, o := range outputs {
		if !o.IsDefault {
			continue
		}
		if def != nil {
			return nil, fmt.Errorf("%w: %s and %s", ErrMultipleDefaults, def.ID, o.ID)
		}
		def = o
	}
	if def == nil {
		return nil, ErrNoDefaultOutput
	}
	return def, nil
}
