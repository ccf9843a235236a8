package browser

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"scene-forge/internal/locator"
)

type StepAction string

const (
	ActionClick StepAction = "click"
	ActionFill  StepAction = "fill"
)

// Step is one entry of an ordered action script. A mandatory step whose
// control cannot be resolved aborts the script with a *locator.NotFoundError.
// An optional step is skipped with a log line; its Then steps only run when
// the step itself ran.
type Step struct {
	Target   locator.Strategy
	Action   StepAction
	Value    string
	Optional bool
	// Skipped is logged when an optional step's control is absent.
	Skipped string
	Then    []Step
}

// Run executes steps in order. There is no rollback: an error after some
// steps succeeded leaves the page partially advanced.
func (c *Controller) Run(ctx context.Context, steps []Step) error {
	for i, step := range steps {
		ran, err := c.runStep(ctx, step)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Target.Action, err)
		}
		if !ran {
			continue
		}
		if err := c.Run(ctx, step.Then); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) runStep(ctx context.Context, step Step) (bool, error) {
	if step.Optional {
		rule, ok := c.Lookup(ctx, step.Target)
		if !ok {
			msg := step.Skipped
			if msg == "" {
				msg = "Optional control absent, continuing."
			}
			c.log.Info(msg, zap.String("action", step.Target.Action))
			return false, nil
		}
		return true, c.apply(ctx, step, rule)
	}
	rule, err := c.Resolve(ctx, step.Target)
	if err != nil {
		return false, err
	}
	return true, c.apply(ctx, step, rule)
}

func (c *Controller) apply(ctx context.Context, step Step, rule locator.Rule) error {
	switch step.Action {
	case ActionFill:
		return c.driver.SetValue(ctx, rule, step.Value)
	case ActionClick, "":
		return c.driver.Click(ctx, rule)
	default:
		return fmt.Errorf("unknown step action %q", step.Action)
	}
}
