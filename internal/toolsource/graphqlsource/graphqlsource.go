// Package graphqlsource compiles a workspace's GraphQL ToolSource into
// callable ToolDefinitions, per spec §4.D: one tool per root field plus a
// single raw `<source>.query`/`<source>.mutation` operation tool.
package graphqlsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/hasura/go-graphql-client"

	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/toolsource"
)

const callTimeout = 30 * time.Second

type sourceConfig struct {
	Endpoint string `json:"endpoint"`
}

// Compiler compiles GraphQL ToolSources via schema introspection.
type Compiler struct {
	HTTP *http.Client
}

func New() *Compiler {
	return &Compiler{HTTP: &http.Client{Timeout: callTimeout}}
}

func (c *Compiler) Compile(ctx context.Context, source models.ToolSource) (*toolsource.CompiledToolSource, error) {
	cfg, err := parseConfig(source.Config)
	if err != nil {
		return &toolsource.CompiledToolSource{
			SourceID: source.SourceID,
			Warnings: []string{fmt.Sprintf("graphql source %s: invalid config: %v", source.Name, err)},
		}, nil
	}

	client := graphql.NewClient(cfg.Endpoint, c.HTTP)

	schema, err := introspect(ctx, client)
	if err != nil {
		return &toolsource.CompiledToolSource{
			SourceID: source.SourceID,
			Warnings: []string{fmt.Sprintf("graphql source %s: introspection failed: %v", source.Name, err)},
		}, nil
	}

	out := &toolsource.CompiledToolSource{SourceID: source.SourceID}

	for _, field := range sortedFields(schema.QueryType.Fields) {
		field := field
		out.Tools = append(out.Tools, toolsource.ToolDefinition{
			Path:        fmt.Sprintf("%s.query.%s", source.Name, field.Name),
			Description: field.Description,
			SourceID:    source.SourceID,
			Run: func(ctx context.Context, input map[string]any, rc toolsource.RunContext) (any, error) {
				return c.postRaw(ctx, cfg.Endpoint, buildFieldQuery("query", field.Name, field.Args), input, rc)
			},
		})
	}
	for _, field := range sortedFields(schema.MutationType.Fields) {
		field := field
		out.Tools = append(out.Tools, toolsource.ToolDefinition{
			Path:        fmt.Sprintf("%s.mutation.%s", source.Name, field.Name),
			Description: field.Description,
			SourceID:    source.SourceID,
			Run: func(ctx context.Context, input map[string]any, rc toolsource.RunContext) (any, error) {
				return c.postRaw(ctx, cfg.Endpoint, buildFieldQuery("mutation", field.Name, field.Args), input, rc)
			},
		})
	}

	// The raw passthrough tools, per spec §4.D "a single <source>.query /
	// <source>.mutation raw-operation tool": caller supplies the full
	// document plus variables.
	out.Tools = append(out.Tools,
		toolsource.ToolDefinition{
			Path:        fmt.Sprintf("%s.query", source.Name),
			Description: "Issue a raw GraphQL query document against " + source.Name,
			SourceID:    source.SourceID,
			Metadata:    map[string]any{"graphqlRaw": true, "graphqlOp": "query", "graphqlSource": source.Name},
			Run: func(ctx context.Context, input map[string]any, rc toolsource.RunContext) (any, error) {
				return c.postRawDocument(ctx, cfg.Endpoint, input, rc)
			},
		},
		toolsource.ToolDefinition{
			Path:        fmt.Sprintf("%s.mutation", source.Name),
			Description: "Issue a raw GraphQL mutation document against " + source.Name,
			SourceID:    source.SourceID,
			Metadata:    map[string]any{"graphqlRaw": true, "graphqlOp": "mutation", "graphqlSource": source.Name},
			Run: func(ctx context.Context, input map[string]any, rc toolsource.RunContext) (any, error) {
				return c.postRawDocument(ctx, cfg.Endpoint, input, rc)
			},
		},
	)

	return out, nil
}

func parseConfig(raw map[string]any) (sourceConfig, error) {
	var cfg sourceConfig
	e, ok := raw["endpoint"].(string)
	if !ok || e == "" {
		return cfg, fmt.Errorf("config.endpoint is required")
	}
	cfg.Endpoint = e
	return cfg, nil
}

// introspectionSchema is the minimal slice of the standard introspection
// result this compiler needs.
type introspectionSchema struct {
	QueryType    introspectionType
	MutationType introspectionType
}

type introspectionType struct {
	Fields []introspectionField
}

type introspectionField struct {
	Name        string
	Description string
	Args        []introspectionArg
}

type introspectionArg struct {
	Name string
}

// introspect runs the standard GraphQL introspection query and extracts the
// query/mutation root field lists, per spec §4.D "introspects ... the
// schema."
func introspect(ctx context.Context, client *graphql.Client) (introspectionSchema, error) {
	var q struct {
		Schema struct {
			QueryType struct {
				Fields []struct {
					Name        graphql.String
					Description graphql.String
					Args        []struct {
						Name graphql.String
					}
				}
			} `graphql:"queryType"`
			MutationType struct {
				Fields []struct {
					Name        graphql.String
					Description graphql.String
					Args        []struct {
						Name graphql.String
					}
				}
			} `graphql:"mutationType"`
		} `graphql:"__schema"`
	}
	if err := client.Query(ctx, &q, nil); err != nil {
		return introspectionSchema{}, err
	}

	var out introspectionSchema
	for _, f := range q.Schema.QueryType.Fields {
		field := introspectionField{Name: string(f.Name), Description: string(f.Description)}
		for _, a := range f.Args {
			field.Args = append(field.Args, introspectionArg{Name: string(a.Name)})
		}
		out.QueryType.Fields = append(out.QueryType.Fields, field)
	}
	for _, f := range q.Schema.MutationType.Fields {
		field := introspectionField{Name: string(f.Name), Description: string(f.Description)}
		for _, a := range f.Args {
			field.Args = append(field.Args, introspectionArg{Name: string(a.Name)})
		}
		out.MutationType.Fields = append(out.MutationType.Fields, field)
	}
	return out, nil
}

func sortedFields(fields []introspectionField) []introspectionField {
	out := make([]introspectionField, len(fields))
	copy(out, fields)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// buildFieldQuery constructs a single-field document, e.g.
// `query($a: String) { viewer(a: $a) }`, with one variable per introspected
// argument; every variable is declared as String, whatever the argument's
// schema type.
func buildFieldQuery(op, fieldName string, args []introspectionArg) string {
	if len(args) == 0 {
		return fmt.Sprintf("%s { %s }", op, fieldName)
	}
	var params, call string
	for i, a := range args {
		if i > 0 {
			params += ", "
			call += ", "
		}
		params += fmt.Sprintf("$%s: String", a.Name)
		call += fmt.Sprintf("%s: $%s", a.Name, a.Name)
	}
	return fmt.Sprintf("%s(%s) { %s(%s) }", op, params, fieldName, call)
}

// postRaw issues a single POST carrying the given document plus input as
// variables, per spec §4.D "run issues a single POST...carrying the stored
// query plus variables."
func (c *Compiler) postRaw(ctx context.Context, endpoint, document string, variables map[string]any, rc toolsource.RunContext) (any, error) {
	return doPost(ctx, c.HTTP, endpoint, document, variables, rc)
}

// postRawDocument is the passthrough tool: input must carry "query" and
// optionally "variables".
func (c *Compiler) postRawDocument(ctx context.Context, endpoint string, input map[string]any, rc toolsource.RunContext) (any, error) {
	doc, ok := input["query"].(string)
	if !ok || doc == "" {
		return nil, fmt.Errorf("input.query is required")
	}
	vars, _ := input["variables"].(map[string]any)
	return doPost(ctx, c.HTTP, endpoint, doc, vars, rc)
}

func doPost(ctx context.Context, client *http.Client, endpoint, document string, variables map[string]any, rc toolsource.RunContext) (any, error) {
	payload, err := json.Marshal(map[string]any{"query": document, "variables": variables})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range rc.Credential {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graphql request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data   any `json:"data"`
		Errors any `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if parsed.Errors != nil {
		return nil, fmt.Errorf("graphql errors: %v", parsed.Errors)
	}
	return parsed.Data, nil
}
