// Package wireformat extracts and validates the WorkerCommand a child
// worker process emits as a fenced code block in its stdout. Everything a
// worker decides — advance, return, escalate — arrives through this one
// canonical record; there is no second output format.
package wireformat

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/stagehand-run/stagehand/model"
)

// Outcome enumerates the worker command's legal outcome values.
type Outcome string

const (
	OutcomeNextStage            Outcome = "next_stage"
	OutcomePrevStage            Outcome = "prev_stage"
	OutcomeCoordinatorAttention Outcome = "coordinator_attention"
)

// EscalationPrefix marks a synthetic comment produced for a
// coordinator_attention outcome.
const EscalationPrefix = "⚠️ COORDINATOR ATTENTION REQUIRED: "

// NoCommandReason is the synthesised reason used when no fenced block is
// found or the block fails schema validation.
const NoCommandReason = "no valid command produced"

// WorkerCommand is the single canonical wire shape a worker's fenced block
// is parsed into.
type WorkerCommand struct {
	Outcome        Outcome  `json:"outcome" validate:"required,oneof=next_stage prev_stage coordinator_attention"`
	TargetStage    *string  `json:"target_stage"`
	PipelineUpdate []string `json:"pipeline_update"`
	Comment        string   `json:"comment"`
	Reason         string   `json:"reason"`
}

var validate = validator.New()

var fencedBlock = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9_+-]*\\n)?(.*?)```")

// Parse extracts the first fenced block from stdout and decodes it into a
// WorkerCommand. If no block is present, the JSON is malformed, or the
// schema fails validation (including the outcome-specific target_stage
// requirement), Parse returns a synthesised coordinator_attention command
// with reason NoCommandReason and ok=false.
func Parse(stdout string) (cmd WorkerCommand, ok bool) {
	matches := fencedBlock.FindStringSubmatch(stdout)
	if matches == nil {
		return fallback(), false
	}

	body := strings.TrimSpace(matches[1])
	var c WorkerCommand
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return fallback(), false
	}

	if err := validate.Struct(c); err != nil {
		return fallback(), false
	}

	if (c.Outcome == OutcomeNextStage || c.Outcome == OutcomePrevStage) && (c.TargetStage == nil || *c.TargetStage == "") {
		return fallback(), false
	}

	return c, true
}

func fallback() WorkerCommand {
	return WorkerCommand{
		Outcome: OutcomeCoordinatorAttention,
		Reason:  NoCommandReason,
	}
}

// ExtractSignoffBlock returns the raw JSON body of the second fenced block in
// stdout, if one is present. The worker command block is always the first
// match; a signoff report, if present, is the second.
func ExtractSignoffBlock(stdout string) (string, bool) {
	matches := fencedBlock.FindAllStringSubmatch(stdout, -1)
	if len(matches) < 2 {
		return "", false
	}
	return strings.TrimSpace(matches[1][1]), true
}

// ParseSignoff decodes the optional second fenced block into a
// SignoffReport. Absence or a malformed body is not an error — the report
// is best-effort enrichment, never load-bearing for the dispatch outcome.
func ParseSignoff(stdout string) (*model.SignoffReport, bool) {
	body, ok := ExtractSignoffBlock(stdout)
	if !ok {
		return nil, false
	}
	var report model.SignoffReport
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, false
	}
	if report.Status == "" {
		return nil, false
	}
	return &report, true
}
