// Package mcpsource compiles a workspace's MCP ToolSource into callable
// ToolDefinitions, per spec §4.D.
//
// Maps to: internal/mcp/manager.go's McpConnectionManager — same connect/
// list-tools/qualify shape, but adapted from "one manager per session,
// connections held for the session's lifetime" to "one Compile call per
// inventory build; each resulting ToolDefinition.Run reopens its own
// transport," since a compiled snapshot may be served long after the
// inventory build that produced it and must not pin a live connection.
package mcpsource

import (
	"context"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/toolsource"
)

const (
	connectTimeout = 10 * time.Second
	listTimeout    = 15 * time.Second
	callTimeout    = 30 * time.Second
)

// sourceConfig is the shape of ToolSource.Config for an MCP source.
type sourceConfig struct {
	URL string `json:"url"`
}

// Compiler compiles MCP ToolSources.
type Compiler struct{}

func New() *Compiler { return &Compiler{} }

func (c *Compiler) Compile(ctx context.Context, source models.ToolSource) (*toolsource.CompiledToolSource, error) {
	cfg, err := parseConfig(source.Config)
	if err != nil {
		return &toolsource.CompiledToolSource{
			SourceID: source.SourceID,
			Warnings: []string{fmt.Sprintf("mcp source %s: invalid config: %v", source.Name, err)},
		}, nil
	}

	session, err := connect(ctx, cfg.URL)
	if err != nil {
		return &toolsource.CompiledToolSource{
			SourceID: source.SourceID,
			Warnings: []string{fmt.Sprintf("mcp source %s: connect failed: %v", source.Name, err)},
		}, nil
	}
	defer session.Close()

	listCtx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()
	result, err := session.ListTools(listCtx, nil)
	if err != nil {
		return &toolsource.CompiledToolSource{
			SourceID: source.SourceID,
			Warnings: []string{fmt.Sprintf("mcp source %s: list tools failed: %v", source.Name, err)},
		}, nil
	}

	out := &toolsource.CompiledToolSource{SourceID: source.SourceID}
	for _, t := range result.Tools {
		t := t
		schema, _ := t.InputSchema.(map[string]any)
		out.Tools = append(out.Tools, toolsource.ToolDefinition{
			Path:        fmt.Sprintf("%s.%s", source.Name, t.Name),
			Description: t.Description,
			InputSchema: schema,
			SourceID:    source.SourceID,
			Run: func(ctx context.Context, input map[string]any, rc toolsource.RunContext) (any, error) {
				return invoke(ctx, cfg.URL, t.Name, input)
			},
		})
	}
	return out, nil
}

func parseConfig(raw map[string]any) (sourceConfig, error) {
	var cfg sourceConfig
	u, ok := raw["url"].(string)
	if !ok || u == "" {
		return cfg, fmt.Errorf("config.url is required")
	}
	cfg.URL = u
	return cfg, nil
}

// connect dials the server over streamable HTTP, falling back to SSE if the
// streamable transport handshake fails, per spec §4.D "streamable-HTTP
// (fallback SSE)".
func connect(ctx context.Context, url string) (*gomcp.ClientSession, error) {
	client := gomcp.NewClient(&gomcp.Implementation{Name: "runlayer-coordinator", Version: "1.0.0"}, nil)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	session, err := client.Connect(connectCtx, &gomcp.StreamableClientTransport{Endpoint: url}, nil)
	if err == nil {
		return session, nil
	}

	sseCtx, cancel2 := context.WithTimeout(ctx, connectTimeout)
	defer cancel2()
	session, sseErr := client.Connect(sseCtx, &gomcp.SSEClientTransport{Endpoint: url}, nil)
	if sseErr != nil {
		return nil, fmt.Errorf("streamable-http: %w; sse fallback: %v", err, sseErr)
	}
	return session, nil
}

// invoke reopens a fresh session for a single tool call, per the package
// doc comment above.
func invoke(ctx context.Context, url, toolName string, args map[string]any) (any, error) {
	session, err := connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("reconnect for call %s: %w", toolName, err)
	}
	defer session.Close()

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	result, err := session.CallTool(callCtx, &gomcp.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("mcp call %s failed: %w", toolName, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp tool %s returned an error result", toolName)
	}
	return result.Content, nil
}
