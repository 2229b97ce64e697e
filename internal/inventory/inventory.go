package inventory

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/policy"
	"github.com/runlayer/coordinator/internal/store"
	"github.com/runlayer/coordinator/internal/toolsource"
)

// fanOutLimit caps bounded parallelism for tool-source compilation, per
// spec §9's design note (min(NumCPU, 8)).
func fanOutLimit() int {
	n := runtime.NumCPU()
	if n > 8 {
		return 8
	}
	if n < 1 {
		return 1
	}
	return n
}

// Inventory answers "list visible tools for caller" and "materialize the
// runnable tool map for a task", per spec §4.E.
type Inventory struct {
	store     *store.Store
	cache     *Cache
	compilers map[models.SourceType]toolsource.Compiler
	baseTools []toolsource.ToolDefinition
}

func New(st *store.Store, cache *Cache, compilers map[models.SourceType]toolsource.Compiler, baseTools []toolsource.ToolDefinition) *Inventory {
	return &Inventory{store: st, cache: cache, compilers: compilers, baseTools: baseTools}
}

// BuildResult is the outcome of materializing a workspace's runnable tools.
type BuildResult struct {
	Signature string
	Tools     map[string]toolsource.ToolDefinition
	Warnings  []string
	Stale     bool
}

// EnsureFresh implements the mutation-path caller of spec §4.E's staleness
// policy. Unlike ReadOptimistic, it never serves a descriptor-only cache hit:
// a task dispatch needs live Run closures (bound to real HTTP clients/MCP
// sessions), which are never cacheable, so every caller compiles its own.
// It still publishes the compiled snapshot for ReadOptimistic's benefit.
func (inv *Inventory) EnsureFresh(ctx context.Context, workspaceID string) (*BuildResult, error) {
	sources, err := inv.listSources(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	sig := Signature(workspaceID, sources)
	return inv.compileAndPublish(ctx, workspaceID, sig, sources)
}

// ReadOptimistic implements the read-path caller of spec §4.E's staleness
// policy: a cache hit returns immediately; on a miss it coordinates with any
// concurrent builder via buildOrWait so only one process pays the network
// cost of compiling the descriptor snapshot.
func (inv *Inventory) ReadOptimistic(ctx context.Context, workspaceID string) (*BuildResult, error) {
	sources, err := inv.listSources(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	sig := Signature(workspaceID, sources)

	if snap, ok, err := inv.cache.GetSnapshot(ctx, sig); err == nil && ok {
		return inv.hydrate(snap, false), nil
	}

	return inv.buildOrWait(ctx, workspaceID, sig, sources)
}

// buildOrWait implements the single-flight descriptor-build coordination of
// spec §4.E: allocate a buildId, try to become the owner via TryStartBuild;
// if another builder already owns the in-flight build, wait for its
// signature to publish instead of racing it. This only ever produces
// descriptor-only BuildResults (Tools left nil) — callers that need live
// Tools must use EnsureFresh/MaterializeForTask instead.
func (inv *Inventory) buildOrWait(ctx context.Context, workspaceID, sig string, sources []models.ToolSource) (*BuildResult, error) {
	buildID := "build_" + uuid.NewString()
	var state *models.InventoryState
	err := inv.store.Mutate(ctx, workspaceID, func(ctx context.Context, mc *store.MutationContext) error {
		s, err := mc.TryStartBuild(ctx, workspaceID, buildID, time.Now().UnixMilli())
		if err != nil {
			return err
		}
		state = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	if state.BuildingBuildID != buildID {
		// Someone else owns the in-flight build; wait for it to publish.
		return inv.waitForReady(ctx, sig)
	}

	result, err := inv.compileAndPublish(ctx, workspaceID, sig, sources)

	completeErr := inv.store.Mutate(ctx, workspaceID, func(ctx context.Context, mc *store.MutationContext) error {
		var buildErr error
		if err != nil {
			buildErr = err
		}
		_, cErr := mc.CompleteBuild(ctx, workspaceID, buildID, sig, buildErr)
		return cErr
	})
	if completeErr != nil {
		return nil, completeErr
	}
	if err != nil {
		return nil, err
	}

	return inv.hydrate(&Snapshot{Signature: sig, Tools: toDescriptors(result.Tools), Warnings: result.Warnings}, false), nil
}

// compileAndPublish compiles every enabled source, merges with base tools,
// persists the descriptor-only snapshot, and returns the live Tools map.
func (inv *Inventory) compileAndPublish(ctx context.Context, workspaceID, sig string, sources []models.ToolSource) (*BuildResult, error) {
	compiled, warnings, err := inv.compileAll(ctx, sources)
	if err != nil {
		return nil, err
	}

	merged, mergeWarnings := merge(inv.baseTools, compiled)
	warnings = append(warnings, mergeWarnings...)

	snap := &Snapshot{Signature: sig, Tools: toDescriptors(merged), Warnings: warnings}
	if err := inv.cache.PutSnapshot(ctx, sig, snap); err != nil {
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}

	return &BuildResult{Signature: sig, Tools: merged, Warnings: warnings}, nil
}

// toDescriptors renders a merged tool map into a deterministically ordered
// descriptor slice (sorted by path), per the tool-set determinism
// requirement of spec §4.D/§4.E — map iteration order is otherwise random.
func toDescriptors(merged map[string]toolsource.ToolDefinition) []ToolDescriptor {
	paths := make([]string, 0, len(merged))
	for path := range merged {
		if path == DiscoverPath {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	descriptors := make([]ToolDescriptor, 0, len(paths))
	for _, path := range paths {
		descriptors = append(descriptors, describe(merged[path]))
	}
	return descriptors
}

func (inv *Inventory) waitForReady(ctx context.Context, sig string) (*BuildResult, error) {
	for {
		snap, ok, err := inv.cache.GetSnapshot(ctx, sig)
		if err != nil {
			return nil, err
		}
		if ok {
			return inv.hydrate(snap, false), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// compileAll fans out across enabled sources bounded to fanOutLimit(),
// per spec §9's design note and SPEC_FULL.md §7. A single source's failure
// is folded into warnings; it does not fail the whole build (spec §4.D
// "Failures opening the transport cause the source to contribute a warning
// but the rest of the inventory still builds").
func (inv *Inventory) compileAll(ctx context.Context, sources []models.ToolSource) ([]toolsource.ToolDefinition, []string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit())

	var mu sync.Mutex
	var allTools []toolsource.ToolDefinition
	var warnings []string

	for _, source := range sources {
		source := source
		g.Go(func() error {
			compiler, ok := inv.compilers[source.Type]
			if !ok {
				mu.Lock()
				warnings = append(warnings, fmt.Sprintf("source %s: no compiler registered for type %q", source.Name, source.Type))
				mu.Unlock()
				return nil
			}
			result, err := compiler.Compile(gctx, source)
			if err != nil {
				mu.Lock()
				warnings = append(warnings, fmt.Sprintf("source %s: %v", source.Name, err))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			allTools = append(allTools, result.Tools...)
			warnings = append(warnings, result.Warnings...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return allTools, warnings, nil
}

func (inv *Inventory) listSources(ctx context.Context, workspaceID string) ([]models.ToolSource, error) {
	var sources []models.ToolSource
	err := inv.store.Query(ctx, workspaceID, func(ctx context.Context, qc *store.QueryContext) error {
		s, err := qc.ListEnabledToolSources(ctx, workspaceID)
		if err != nil {
			return err
		}
		sources = s
		return nil
	})
	return sources, err
}

// hydrate converts a cached descriptor-only Snapshot into a BuildResult.
// Descriptors carry enough metadata to list/rank tools without recompiling,
// but Run closures are never cached (they bind live HTTP clients/sessions),
// so BuildResult.Tools is left nil here — only MaterializeForTask's
// freshly-compiled path populates it.
func (inv *Inventory) hydrate(snap *Snapshot, stale bool) *BuildResult {
	return &BuildResult{Signature: snap.Signature, Warnings: snap.Warnings, Stale: stale}
}

// ListVisibleTools implements "list visible tools for caller": descriptors
// from the cached/fresh snapshot, filtered and annotated by policy (denied
// tools are hidden entirely; require_approval tools are marked).
func (inv *Inventory) ListVisibleTools(ctx context.Context, workspaceID string, caller policy.Caller, policies []models.AccessPolicy) ([]ToolDescriptor, []string, error) {
	result, err := inv.ReadOptimistic(ctx, workspaceID)
	if err != nil {
		return nil, nil, err
	}

	snap, ok, err := inv.cache.GetSnapshot(ctx, result.Signature)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, result.Warnings, nil
	}

	visible := make([]ToolDescriptor, 0, len(snap.Tools))
	for _, d := range snap.Tools {
		decision := policy.Decide(policy.Tool{Path: d.Path, ApprovalRequired: d.ApprovalRequired}, caller, policies)
		if decision == models.DecisionDeny {
			continue
		}
		d.ApprovalRequired = decision == models.DecisionRequireApproval
		visible = append(visible, d)
	}
	return visible, snap.Warnings, nil
}

// MaterializeForTask implements "materialize the runnable tool map for a
// task": always compiles a fresh runnable tool map against the current
// signature (the mutation-path rule of spec §4.E's staleness policy).
func (inv *Inventory) MaterializeForTask(ctx context.Context, workspaceID string) (*BuildResult, error) {
	return inv.EnsureFresh(ctx, workspaceID)
}
