package mediator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlayer/coordinator/internal/toolsource"
)

func stubDef(path string) toolsource.ToolDefinition {
	return toolsource.ToolDefinition{
		Path: path,
		Run: func(context.Context, map[string]any, toolsource.RunContext) (any, error) {
			return path, nil
		},
	}
}

func TestResolveTool_ExactMatch(t *testing.T) {
	tools := map[string]toolsource.ToolDefinition{"slack.send_message": stubDef("slack.send_message")}
	def, suggestions := resolveTool("slack.send_message", tools)
	require.NotNil(t, def)
	assert.Nil(t, suggestions)
}

func TestResolveTool_UniqueNormalizedAlias(t *testing.T) {
	tools := map[string]toolsource.ToolDefinition{"Slack.Send-Message": stubDef("Slack.Send-Message")}
	def, _ := resolveTool("slack.sendmessage", tools)
	require.NotNil(t, def)
	assert.Equal(t, "Slack.Send-Message", def.Path)
}

func TestResolveTool_UnknownProducesRankedSuggestions(t *testing.T) {
	tools := map[string]toolsource.ToolDefinition{
		"slack.send_message": stubDef("slack.send_message"),
		"slack.list_channels": stubDef("slack.list_channels"),
		"github.create_issue": stubDef("github.create_issue"),
	}
	def, suggestions := resolveTool("slack.send_msg", tools)
	assert.Nil(t, def)
	require.NotEmpty(t, suggestions)
	assert.Equal(t, "slack.send_message", suggestions[0])
}

func TestNormalizeToolPath(t *testing.T) {
	assert.Equal(t, "slack.sendmessage", normalizeToolPath("Slack.Send-Message"))
	assert.Equal(t, "a.b", normalizeToolPath("A.B"))
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 1, levenshtein("abc", "abd"))
	assert.Equal(t, 3, levenshtein("", "abc"))
}
