package inventory

import (
	"context"

	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/toolsource"
)

// DiscoverPath is the synthesized catalog-introspection tool's path,
// per spec §4.E "a synthesized discover tool is added whose return value
// is the descriptor list of everything else."
const DiscoverPath = "discover"

// ToolDescriptor is the serializable, cacheable half of a ToolDefinition —
// everything except its Run closure. This is what the snapshot cache (§4.E
// layer 1) stores and what "list visible tools for caller" returns.
type ToolDescriptor struct {
	Path             string                 `json:"path"`
	Description      string                 `json:"description"`
	InputSchema      map[string]any         `json:"inputSchema,omitempty"`
	ApprovalRequired bool                   `json:"approvalRequired"`
	SourceID         string                 `json:"sourceId"`
	Metadata         map[string]any         `json:"metadata,omitempty"`
	Credential       *models.CredentialSpec `json:"credential,omitempty"`
}

// Snapshot is the compiled, cacheable artifact for one workspace signature.
type Snapshot struct {
	Signature string           `json:"signature"`
	Tools     []ToolDescriptor `json:"tools"`
	Warnings  []string         `json:"warnings,omitempty"`
}

func describe(def toolsource.ToolDefinition) ToolDescriptor {
	return ToolDescriptor{
		Path:             def.Path,
		Description:      def.Description,
		InputSchema:      def.InputSchema,
		ApprovalRequired: def.ApprovalRequired,
		SourceID:         def.SourceID,
		Metadata:         def.Metadata,
		Credential:       def.Credential,
	}
}

// merge implements spec §4.E's "base_tools ⊎ external_tools... base_tools
// always win over identical external paths; within external tools,
// later-loaded sources overwrite earlier ones (with a warning)" plus the
// synthesized discover tool, appended last.
func merge(baseTools, externalTools []toolsource.ToolDefinition) (map[string]toolsource.ToolDefinition, []string) {
	merged := make(map[string]toolsource.ToolDefinition, len(baseTools)+len(externalTools)+1)
	var warnings []string

	for _, t := range baseTools {
		merged[t.Path] = t
	}
	for _, t := range externalTools {
		if base, ok := merged[t.Path]; ok && isBase(base, baseTools) {
			continue // base always wins
		}
		if _, exists := merged[t.Path]; exists {
			warnings = append(warnings, "tool path \""+t.Path+"\" redefined by a later source; overwriting")
		}
		merged[t.Path] = t
	}

	descriptors := make([]ToolDescriptor, 0, len(merged))
	for _, t := range merged {
		descriptors = append(descriptors, describe(t))
	}
	merged[DiscoverPath] = toolsource.ToolDefinition{
		Path:        DiscoverPath,
		Description: "List every tool available in this workspace's catalog.",
		Run: func(_ context.Context, _ map[string]any, _ toolsource.RunContext) (any, error) {
			return descriptors, nil
		},
	}

	return merged, warnings
}

func isBase(candidate toolsource.ToolDefinition, baseTools []toolsource.ToolDefinition) bool {
	for _, b := range baseTools {
		if b.Path == candidate.Path {
			return true
		}
	}
	return false
}
