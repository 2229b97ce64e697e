// Package inventory implements the Workspace Tool Inventory (spec §4.E):
// per-workspace signature computation, single-flight builds coordinated
// through the Store, and the three-layer Redis cache (snapshot/spec/
// declarations).
//
// Maps to: goadesign-goa-ai registry/result_stream.go's redis.Client
// Set/Get/Expire usage for the cache read/write shape.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	snapshotPrefix     = "inventory:snapshot:"
	declarationsPrefix = "inventory:decl:"

	specCacheTTL = 5 * time.Hour
)

// Cache wraps the three Redis-backed caching layers of spec §4.E.
type Cache struct {
	rdb *redis.Client
}

func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// GetSnapshot reads the compiled snapshot cache (layer 1), keyed by
// signature. A cache miss is reported as (nil, false, nil), not an error.
func (c *Cache) GetSnapshot(ctx context.Context, signature string) (*Snapshot, bool, error) {
	raw, err := c.rdb.Get(ctx, snapshotPrefix+signature).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

// PutSnapshot persists a compiled snapshot with no expiry; it is superseded
// (not expired) by a new signature when the workspace's sources change.
func (c *Cache) PutSnapshot(ctx context.Context, signature string, snap *Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, snapshotPrefix+signature, raw, 0).Err()
}

// specCacheKey implements "(specUrl, schemaVersion)" (spec §4.E layer 2).
func specCacheKey(specURL, schemaVersion string) string {
	return "inventory:spec:" + schemaVersion + ":" + specURL
}

// GetSpec reads the prepared-spec cache (layer 2). Returned bytes are the
// already-dereferenced, indexed document as produced by the OpenAPI
// compiler's loader.
func (c *Cache) GetSpec(ctx context.Context, specURL, schemaVersion string) ([]byte, bool, error) {
	raw, err := c.rdb.Get(ctx, specCacheKey(specURL, schemaVersion)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// PutSpec writes the prepared-spec cache with a 5 hour TTL (spec §4.E).
func (c *Cache) PutSpec(ctx context.Context, specURL, schemaVersion string, doc []byte) error {
	return c.rdb.Set(ctx, specCacheKey(specURL, schemaVersion), doc, specCacheTTL).Err()
}

// PutDeclarations stores the generated type-declaration blob under the
// caller-supplied content hash, with a 24 hour TTL (the supplemented
// /declarations/{hash} endpoint reads it back by that same hash).
func (c *Cache) PutDeclarations(ctx context.Context, hash string, blob []byte) error {
	return c.rdb.Set(ctx, declarationsPrefix+hash, blob, 24*time.Hour).Err()
}

// GetDeclarations reads a previously stored declarations blob by hash.
func (c *Cache) GetDeclarations(ctx context.Context, hash string) ([]byte, bool, error) {
	raw, err := c.rdb.Get(ctx, declarationsPrefix+hash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}
