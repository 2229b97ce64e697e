package mediator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/policy"
	"github.com/runlayer/coordinator/internal/toolsource"
)

func TestDecideFor_PlainTool(t *testing.T) {
	def := toolsource.ToolDefinition{Path: "slack.send_message", ApprovalRequired: true}
	decision, path := decideFor(def, "slack.send_message", nil, policy.Caller{}, nil)
	assert.Equal(t, models.DecisionRequireApproval, decision)
	assert.Equal(t, "slack.send_message", path)
}

func TestDecideFor_GraphQLRawAggregatesWorstFieldDecision(t *testing.T) {
	def := toolsource.ToolDefinition{
		Path:     "gh.mutation",
		Metadata: map[string]any{"graphqlRaw": true, "graphqlOp": "mutation", "graphqlSource": "gh"},
	}
	policies := []models.AccessPolicy{
		{ToolPathPattern: "gh.mutation.deleteRepo", Decision: models.DecisionDeny, Priority: 10},
	}
	input := map[string]any{"query": `mutation { createIssue(input: {title: "t"}) { id } deleteRepo(id: "x") { ok } }`}

	decision, path := decideFor(def, "gh.mutation", input, policy.Caller{}, policies)
	assert.Equal(t, models.DecisionDeny, decision)
	assert.Equal(t, "gh.mutation.createIssue,gh.mutation.deleteRepo", path)
}

func TestDecideFor_GraphQLRawNoDocumentFallsBackToRawPath(t *testing.T) {
	def := toolsource.ToolDefinition{
		Path:     "gh.query",
		Metadata: map[string]any{"graphqlRaw": true, "graphqlOp": "query", "graphqlSource": "gh"},
	}
	decision, path := decideFor(def, "gh.query", map[string]any{}, policy.Caller{}, nil)
	assert.Equal(t, models.DecisionAllow, decision)
	assert.Equal(t, "gh.query", path)
}
