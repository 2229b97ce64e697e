package openapisource

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/toolsource"
)

const testSpec = `{
  "openapi": "3.0.0",
  "info": {"title": "t", "version": "1"},
  "servers": [{"url": "%s"}],
  "paths": {
    "/widgets/{id}": {
      "get": {
        "operationId": "getWidget",
        "summary": "Get a widget",
        "parameters": [{"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}],
        "responses": {"200": {"description": "ok"}}
      }
    }
  }
}`

func TestCompile_ExtractsOperationsAndRunsCall(t *testing.T) {
	var gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()

	specJSON := fmt.Sprintf(testSpec, backend.URL)

	compiler := New(nil)
	source := models.ToolSource{
		SourceID: "src-1",
		Name:     "widgets",
		Type:     models.SourceTypeOpenAPI,
		Config:   map[string]any{"spec": specJSON},
	}

	compiled, err := compiler.Compile(context.Background(), source)
	require.NoError(t, err)
	require.Empty(t, compiled.Warnings)
	require.Len(t, compiled.Tools, 1)

	tool := compiled.Tools[0]
	assert.Equal(t, "widgets.getWidget", tool.Path)
	assert.Equal(t, "Get a widget", tool.Description)

	out, err := tool.Run(context.Background(), map[string]any{"id": "abc"}, toolsource.RunContext{
		Credential: map[string]string{"Authorization": "Bearer tok"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/widgets/abc", gotPath)
	assert.NotNil(t, out)
}

func TestCompile_InvalidConfigProducesWarningNotError(t *testing.T) {
	compiler := New(nil)
	compiled, err := compiler.Compile(context.Background(), models.ToolSource{
		SourceID: "src-2",
		Name:     "broken",
		Config:   map[string]any{},
	})
	require.NoError(t, err)
	assert.Empty(t, compiled.Tools)
	assert.Len(t, compiled.Warnings, 1)
}
