package wireformat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNextStageCommand(t *testing.T) {
	stdout := "some worker chatter\n```json\n" +
		`{"outcome":"next_stage","target_stage":"qa","comment":"looks good"}` +
		"\n```\ntrailing noise"

	cmd, ok := Parse(stdout)
	require.True(t, ok)
	assert.Equal(t, OutcomeNextStage, cmd.Outcome)
	require.NotNil(t, cmd.TargetStage)
	assert.Equal(t, "qa", *cmd.TargetStage)
	assert.Equal(t, "looks good", cmd.Comment)
}

func TestParseAcceptsFenceWithoutLanguageTag(t *testing.T) {
	stdout := "```\n" + `{"outcome":"prev_stage","target_stage":"dev"}` + "\n```"

	cmd, ok := Parse(stdout)
	require.True(t, ok)
	assert.Equal(t, OutcomePrevStage, cmd.Outcome)
}

func TestParseCoordinatorAttentionNeedsNoTargetStage(t *testing.T) {
	stdout := "```json\n" + `{"outcome":"coordinator_attention","reason":"flaky test"}` + "\n```"

	cmd, ok := Parse(stdout)
	require.True(t, ok)
	assert.Equal(t, OutcomeCoordinatorAttention, cmd.Outcome)
	assert.Equal(t, "flaky test", cmd.Reason)
}

func TestParseFallsBackWhenNoFencedBlock(t *testing.T) {
	cmd, ok := Parse("no fenced block here at all")
	assert.False(t, ok)
	assert.Equal(t, OutcomeCoordinatorAttention, cmd.Outcome)
	assert.Equal(t, NoCommandReason, cmd.Reason)
}

func TestParseFallsBackOnMalformedJSON(t *testing.T) {
	cmd, ok := Parse("```json\n{not valid json\n```")
	assert.False(t, ok)
	assert.Equal(t, NoCommandReason, cmd.Reason)
}

func TestParseFallsBackOnUnknownOutcome(t *testing.T) {
	cmd, ok := Parse("```json\n" + `{"outcome":"do_a_barrel_roll"}` + "\n```")
	assert.False(t, ok)
	assert.Equal(t, NoCommandReason, cmd.Reason)
}

func TestParseFallsBackWhenNextStageMissingTarget(t *testing.T) {
	cmd, ok := Parse("```json\n" + `{"outcome":"next_stage"}` + "\n```")
	assert.False(t, ok)
	assert.Equal(t, NoCommandReason, cmd.Reason)
}

func TestParseFallsBackWhenTargetStageIsEmptyString(t *testing.T) {
	cmd, ok := Parse("```json\n" + `{"outcome":"next_stage","target_stage":""}` + "\n```")
	assert.False(t, ok)
	assert.Equal(t, NoCommandReason, cmd.Reason)
}

func TestParseWithPipelineUpdate(t *testing.T) {
	stdout := "```json\n" + `{"outcome":"next_stage","target_stage":"qa","pipeline_update":["dev","qa","done"]}` + "\n```"

	cmd, ok := Parse(stdout)
	require.True(t, ok)
	assert.Equal(t, []string{"dev", "qa", "done"}, cmd.PipelineUpdate)
}

func TestExtractSignoffBlockReturnsSecondBlock(t *testing.T) {
	stdout := "```json\n" + `{"outcome":"next_stage","target_stage":"qa"}` + "\n```\n" +
		"some text\n```json\n" + `{"status":"pass"}` + "\n```"

	body, ok := ExtractSignoffBlock(stdout)
	require.True(t, ok)
	assert.Equal(t, `{"status":"pass"}`, body)
}

func TestExtractSignoffBlockAbsentWhenOnlyOneBlock(t *testing.T) {
	stdout := "```json\n" + `{"outcome":"next_stage","target_stage":"qa"}` + "\n```"

	_, ok := ExtractSignoffBlock(stdout)
	assert.False(t, ok)
}

func TestParseSignoffDecodesReport(t *testing.T) {
	stdout := "```json\n" + `{"outcome":"next_stage","target_stage":"qa"}` + "\n```\n" +
		"```json\n" + `{"status":"pass","summary":"all green","tests_run":{"framework":"go test","passed":12,"failed":0}}` + "\n```"

	report, ok := ParseSignoff(stdout)
	require.True(t, ok)
	assert.Equal(t, "pass", report.Status)
	assert.Equal(t, "all green", report.Summary)
	require.NotNil(t, report.TestsRun)
	assert.Equal(t, 12, report.TestsRun.Passed)
}

func TestParseSignoffIgnoresMalformedSecondBlock(t *testing.T) {
	stdout := "```json\n" + `{"outcome":"next_stage","target_stage":"qa"}` + "\n```\n" +
		"```\nnot json at all\n```"

	_, ok := ParseSignoff(stdout)
	assert.False(t, ok)
}
