// Package openapisource compiles a workspace's OpenAPI ToolSource into
// callable ToolDefinitions, per spec §4.D.
//
// Maps to: internal/mcp/manager.go's qualify-then-extract-specs shape,
// adapted to an HTTP-request-building runner instead of an MCP call.
package openapisource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/toolsource"
)

const callTimeout = 30 * time.Second

// SpecCache abstracts the inventory's spec cache (§4.E layer 2): prepared
// (dereferenced, indexed) specs are fetched once per (specUrl, schemaVersion)
// and reused across workspace builds.
type SpecCache interface {
	Get(ctx context.Context, specURL string) (*openapi3.T, bool, error)
	Put(ctx context.Context, specURL string, doc *openapi3.T) error
}

type sourceConfig struct {
	Spec    string `json:"spec"`    // inline document, or URL
	BaseURL string `json:"baseUrl"` // override server URL
}

// Compiler compiles OpenAPI ToolSources.
type Compiler struct {
	Cache SpecCache
	HTTP  *http.Client
}

func New(cache SpecCache) *Compiler {
	return &Compiler{Cache: cache, HTTP: &http.Client{Timeout: callTimeout}}
}

func (c *Compiler) Compile(ctx context.Context, source models.ToolSource) (*toolsource.CompiledToolSource, error) {
	cfg, err := parseConfig(source.Config)
	if err != nil {
		return &toolsource.CompiledToolSource{
			SourceID: source.SourceID,
			Warnings: []string{fmt.Sprintf("openapi source %s: invalid config: %v", source.Name, err)},
		}, nil
	}

	doc, err := c.loadSpec(ctx, cfg.Spec)
	if err != nil {
		return &toolsource.CompiledToolSource{
			SourceID: source.SourceID,
			Warnings: []string{fmt.Sprintf("openapi source %s: load spec failed: %v", source.Name, err)},
		}, nil
	}

	baseURL := cfg.BaseURL
	if baseURL == "" && len(doc.Servers) > 0 {
		baseURL = doc.Servers[0].URL
	}

	out := &toolsource.CompiledToolSource{SourceID: source.SourceID}
	paths := doc.Paths
	if paths == nil {
		return out, nil
	}

	for _, path := range sortedPathKeys(paths) {
		item := paths.Value(path)
		ops := item.Operations()
		methods := make([]string, 0, len(ops))
		for m := range ops {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		for _, method := range methods {
			method, op, path := method, ops[method], path
			if op.OperationID == "" {
				op.OperationID = strings.ToLower(method) + strings.ReplaceAll(path, "/", "_")
			}
			toolPath := fmt.Sprintf("%s.%s", source.Name, op.OperationID)
			out.Tools = append(out.Tools, toolsource.ToolDefinition{
				Path:        toolPath,
				Description: opDescription(op),
				InputSchema: paramSchema(op),
				SourceID:    source.SourceID,
				Credential:  credentialSpec(source, op),
				Run: func(ctx context.Context, input map[string]any, rc toolsource.RunContext) (any, error) {
					return c.call(ctx, baseURL, method, path, op, input, rc)
				},
			})
		}
	}
	return out, nil
}

func parseConfig(raw map[string]any) (sourceConfig, error) {
	var cfg sourceConfig
	spec, ok := raw["spec"].(string)
	if !ok || spec == "" {
		return cfg, fmt.Errorf("config.spec is required")
	}
	cfg.Spec = spec
	if b, ok := raw["baseUrl"].(string); ok {
		cfg.BaseURL = b
	}
	return cfg, nil
}

// loadSpec fetches-once-and-caches a URL spec (§4.E spec cache), or parses
// an inline document directly.
func (c *Compiler) loadSpec(ctx context.Context, spec string) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	if !strings.HasPrefix(spec, "http://") && !strings.HasPrefix(spec, "https://") {
		doc, err := loader.LoadFromData([]byte(spec))
		if err != nil {
			return nil, err
		}
		return doc, doc.Validate(ctx)
	}

	if c.Cache != nil {
		if doc, ok, err := c.Cache.Get(ctx, spec); err == nil && ok {
			return doc, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch spec %s: status %d", spec, resp.StatusCode)
	}

	doc, err := loader.LoadFromData(body)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, err
	}
	if c.Cache != nil {
		_ = c.Cache.Put(ctx, spec, doc)
	}
	return doc, nil
}

func opDescription(op *openapi3.Operation) string {
	if op.Summary != "" {
		return op.Summary
	}
	return op.Description
}

// paramSchema builds a flat JSON-schema-ish map of path/query/header
// parameters keyed by parameter name, each recording only where it goes
// ("in"), plus a "body" entry when the operation has a request body. The
// parameters' and body's own schemas are not copied in.
func paramSchema(op *openapi3.Operation) map[string]any {
	props := map[string]any{}
	var required []string
	for _, p := range op.Parameters {
		if p.Value == nil {
			continue
		}
		props[p.Value.Name] = map[string]any{"in": p.Value.In}
		if p.Value.Required {
			required = append(required, p.Value.Name)
		}
	}
	if op.RequestBody != nil && op.RequestBody.Value != nil {
		props["body"] = map[string]any{"in": "body"}
	}
	return map[string]any{"type": "object", "properties": props, "required": required}
}

func credentialSpec(source models.ToolSource, op *openapi3.Operation) *models.CredentialSpec {
	if len(op.Security) == 0 {
		return nil
	}
	return &models.CredentialSpec{
		SourceKey: source.Name,
		Scope:     models.ScopeWorkspace,
		AuthType:  models.AuthBearer,
	}
}

// call implements spec §4.D's "constructs the request, substitutes path
// params, merges credential headers, issues the HTTP call, and normalizes
// the response."
func (c *Compiler) call(ctx context.Context, baseURL, method, path string, op *openapi3.Operation, input map[string]any, rc toolsource.RunContext) (any, error) {
	resolvedPath := path
	query := make([]string, 0)
	var bodyReader io.Reader

	for _, p := range op.Parameters {
		if p.Value == nil {
			continue
		}
		v, ok := input[p.Value.Name]
		if !ok {
			continue
		}
		switch p.Value.In {
		case openapi3.ParameterInPath:
			resolvedPath = strings.ReplaceAll(resolvedPath, "{"+p.Value.Name+"}", fmt.Sprint(v))
		case openapi3.ParameterInQuery:
			query = append(query, fmt.Sprintf("%s=%s", p.Value.Name, fmt.Sprint(v)))
		}
	}

	if body, ok := input["body"]; ok {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	url := strings.TrimRight(baseURL, "/") + resolvedPath
	if len(query) > 0 {
		url += "?" + strings.Join(query, "&")
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, bodyReader)
	if err != nil {
		return nil, err
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range rc.Credential {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			parsed = string(respBody)
		}
	}
	return map[string]any{"status": strconv.Itoa(resp.StatusCode), "body": parsed}, nil
}

func sortedPathKeys(paths *openapi3.Paths) []string {
	keys := make([]string, 0, paths.Len())
	for k := range paths.Map() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
