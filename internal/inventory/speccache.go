package inventory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// openAPISchemaVersion pins the Cache's (specUrl, schemaVersion) key to the
// kin-openapi version this deployment parses specs with, so a library
// upgrade can't serve a stale cached *openapi3.T shape.
const openAPISchemaVersion = "kin-openapi-v0.128"

// OpenAPISpecCache adapts the Cache's byte-oriented GetSpec/PutSpec (spec
// §4.E layer 2) to openapisource.SpecCache's *openapi3.T-typed interface.
type OpenAPISpecCache struct {
	cache *Cache
}

func NewOpenAPISpecCache(cache *Cache) *OpenAPISpecCache {
	return &OpenAPISpecCache{cache: cache}
}

func (c *OpenAPISpecCache) Get(ctx context.Context, specURL string) (*openapi3.T, bool, error) {
	raw, ok, err := c.cache.GetSpec(ctx, specURL, openAPISchemaVersion)
	if err != nil || !ok {
		return nil, ok, err
	}
	var doc openapi3.T
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached openapi spec: %w", err)
	}
	return &doc, true, nil
}

func (c *OpenAPISpecCache) Put(ctx context.Context, specURL string, doc *openapi3.T) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal openapi spec: %w", err)
	}
	return c.cache.PutSpec(ctx, specURL, openAPISchemaVersion, raw)
}
