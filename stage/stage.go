// Package stage implements the pipeline stage engine: pure stage-transition
// logic with no I/O. Every rule here is evaluated against an in-memory
// model.Ticket snapshot so it can be unit tested without a Store.
package stage

import (
	"github.com/stagehand-run/stagehand/model"
)

// Planning is the reserved bootstrap stage name, exempt from WorkerType
// existence checks everywhere it appears. Declared once here rather than
// re-checked at every call site.
const Planning = model.PlanningStage

// NextStage returns the stage that follows the ticket's current_stage in its
// execution plan. If current_stage is the planning sentinel and planning is
// not itself an element of the plan, the first element of the plan is next;
// if planning is in the plan, the element after it is next. Returns
// ("", false) if there is no next stage (the ticket is at the end of its plan).
func NextStage(t *model.Ticket) (string, bool) {
	idx := indexOf(t.ExecutionPlan, t.CurrentStage)
	if t.CurrentStage == Planning && idx < 0 {
		// Bootstrap: planning is not itself a plan element, so the first
		// element is next.
		if len(t.ExecutionPlan) == 0 {
			return "", false
		}
		return t.ExecutionPlan[0], true
	}
	if idx < 0 || idx+1 >= len(t.ExecutionPlan) {
		return "", false
	}
	return t.ExecutionPlan[idx+1], true
}

// PreviousStage returns the stage immediately preceding current_stage in the
// execution plan, or ("", false) if current_stage is first, is the planning
// sentinel, or is not present in the plan.
func PreviousStage(t *model.Ticket) (string, bool) {
	if t.CurrentStage == Planning {
		return "", false
	}
	idx := indexOf(t.ExecutionPlan, t.CurrentStage)
	if idx <= 0 {
		return "", false
	}
	return t.ExecutionPlan[idx-1], true
}

// ValidateTargetStage reports whether moving the ticket to target is a legal
// transition: forward at most one position, any distance backward, or to
// the planning sentinel. Skipping stages forward is never allowed.
func ValidateTargetStage(t *model.Ticket, target string) bool {
	if target == Planning {
		return true
	}

	targetIdx := indexOf(t.ExecutionPlan, target)
	if targetIdx < 0 {
		return false
	}

	currentIdx := indexOf(t.ExecutionPlan, t.CurrentStage)
	if currentIdx < 0 {
		if t.CurrentStage == Planning {
			// Bootstrap with planning outside the plan: only the first
			// stage is reachable.
			return targetIdx == 0
		}
		return false
	}
	return targetIdx <= currentIdx+1
}

func indexOf(plan []string, stage string) int {
	for i, s := range plan {
		if s == stage {
			return i
		}
	}
	return -1
}
