package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stagehand-run/stagehand/model"
)

func ticket(currentStage string, plan []string) *model.Ticket {
	return &model.Ticket{CurrentStage: currentStage, ExecutionPlan: plan}
}

func TestNextStage(t *testing.T) {
	tests := []struct {
		name     string
		ticket   *model.Ticket
		wantNext string
		wantOK   bool
	}{
		{"planning to first stage", ticket(Planning, []string{"dev", "qa"}), "dev", true},
		{"planning listed in plan advances past itself", ticket(Planning, []string{Planning, "dev"}), "dev", true},
		{"planning with empty plan", ticket(Planning, nil), "", false},
		{"planning-only plan has no next", ticket(Planning, []string{Planning}), "", false},
		{"mid plan advances one", ticket("dev", []string{"dev", "qa", "done"}), "qa", true},
		{"last stage has no next", ticket("done", []string{"dev", "qa", "done"}), "", false},
		{"stage not in plan", ticket("ghost", []string{"dev", "qa"}), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextStage(tt.ticket)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantNext, got)
		})
	}
}

func TestPreviousStage(t *testing.T) {
	tests := []struct {
		name     string
		ticket   *model.Ticket
		wantPrev string
		wantOK   bool
	}{
		{"planning has no previous", ticket(Planning, []string{"dev", "qa"}), "", false},
		{"first stage has no previous", ticket("dev", []string{"dev", "qa"}), "", false},
		{"mid plan steps back one", ticket("qa", []string{"dev", "qa", "done"}), "dev", true},
		{"stage not in plan", ticket("ghost", []string{"dev", "qa"}), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PreviousStage(tt.ticket)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantPrev, got)
		})
	}
}

func TestValidateTargetStage(t *testing.T) {
	plan := []string{"dev", "qa", "done"}

	tests := []struct {
		name   string
		ticket *model.Ticket
		target string
		want   bool
	}{
		{"planning sentinel always legal", ticket("dev", plan), Planning, true},
		{"from planning, only first stage reachable", ticket(Planning, plan), "dev", true},
		{"from planning, skipping ahead illegal", ticket(Planning, plan), "qa", false},
		{"planning listed in plan, next stage legal", ticket(Planning, []string{Planning, "dev", "qa"}), "dev", true},
		{"planning listed in plan, skip still illegal", ticket(Planning, []string{Planning, "dev", "qa"}), "qa", false},
		{"forward one step legal", ticket("dev", plan), "qa", true},
		{"forward two steps illegal", ticket("dev", plan), "done", false},
		{"any distance backward legal", ticket("done", plan), "dev", true},
		{"target not in plan illegal", ticket("dev", plan), "ghost", false},
		{"current stage not in plan illegal", ticket("ghost", plan), "dev", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateTargetStage(tt.ticket, tt.target))
		})
	}
}
