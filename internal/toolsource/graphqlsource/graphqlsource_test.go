package graphqlsource

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/toolsource"
)

const introspectionResponse = `{
  "data": {
    "__schema": {
      "queryType": {"fields": [{"name": "viewer", "description": "current viewer", "args": []}]},
      "mutationType": {"fields": []}
    }
  }
}`

func newTestServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.Unmarshal(body, &req))

		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(req.Query, "__schema") {
			w.Write([]byte(introspectionResponse))
			return
		}
		w.Write([]byte(`{"data":{"viewer":{"id":"u1"}}}`))
	}))
}

func TestCompile_IntrospectsAndEmitsRootFieldAndRawTools(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	compiler := New()
	compiled, err := compiler.Compile(context.Background(), models.ToolSource{
		SourceID: "src-1",
		Name:     "gh",
		Config:   map[string]any{"endpoint": srv.URL},
	})
	require.NoError(t, err)
	require.Empty(t, compiled.Warnings)

	var paths []string
	for _, tl := range compiled.Tools {
		paths = append(paths, tl.Path)
	}
	assert.Contains(t, paths, "gh.query.viewer")
	assert.Contains(t, paths, "gh.query")
	assert.Contains(t, paths, "gh.mutation")

	for _, tl := range compiled.Tools {
		if tl.Path == "gh.query.viewer" {
			out, err := tl.Run(context.Background(), map[string]any{}, toolsource.RunContext{})
			require.NoError(t, err)
			assert.NotNil(t, out)
		}
	}
}

func TestCompile_InvalidConfigProducesWarning(t *testing.T) {
	compiler := New()
	compiled, err := compiler.Compile(context.Background(), models.ToolSource{
		SourceID: "src-2",
		Name:     "broken",
		Config:   map[string]any{},
	})
	require.NoError(t, err)
	assert.Empty(t, compiled.Tools)
	assert.Len(t, compiled.Warnings, 1)
}
