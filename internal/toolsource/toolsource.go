// Package toolsource defines the common shape every tool-source compiler
// (MCP, OpenAPI, GraphQL) produces, per spec §4.D.
//
// Maps to: internal/tools/registry.go's ToolHandler/ToolRegistry split —
// generalized from a single in-process handler interface to a per-source
// compiler that produces a set of callable definitions from an external
// contract (an MCP server, an OpenAPI document, a GraphQL schema).
package toolsource

import (
	"context"

	"github.com/runlayer/coordinator/internal/models"
)

// RunContext is the context exposed to a ToolDefinition's Run function,
// per spec §4.G step 6.
type RunContext struct {
	TaskID        string
	WorkspaceID   string
	ActorID       string
	ClientID      string
	Credential    map[string]string // resolved HTTP headers, empty if none required
	IsToolAllowed func(path string) bool
}

// ToolDefinition is one callable tool produced by a source compiler.
type ToolDefinition struct {
	Path             string
	Description      string
	InputSchema      map[string]any
	ApprovalRequired bool
	SourceID         string
	Metadata         map[string]any
	Credential       *models.CredentialSpec
	Run              func(ctx context.Context, input map[string]any, rc RunContext) (any, error)
}

// CompiledToolSource is the result of compiling one ToolSource.
type CompiledToolSource struct {
	SourceID string
	Tools    []ToolDefinition
	Warnings []string
}

// Compiler compiles one configured ToolSource into a CompiledToolSource.
// Implemented by mcpsource.Compiler, openapisource.Compiler, and
// graphqlsource.Compiler.
type Compiler interface {
	Compile(ctx context.Context, source models.ToolSource) (*CompiledToolSource, error)
}
