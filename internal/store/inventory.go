package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/runlayer/coordinator/internal/models"
)

// GetOrInitInventoryState reads the inventory row, creating an empty one if
// absent.
func (mc *MutationContext) GetOrInitInventoryState(ctx context.Context, workspaceID string) (*models.InventoryState, error) {
	row := mc.tx.QueryRow(ctx, `
		INSERT INTO inventory_state (workspace_id) VALUES ($1)
		ON CONFLICT (workspace_id) DO UPDATE SET workspace_id = inventory_state.workspace_id
		RETURNING workspace_id, coalesce(signature,''), coalesce(ready_build_id,''), coalesce(building_build_id,''), building_started_at, coalesce(last_error,'')
	`, workspaceID)
	return scanInventoryState(row)
}

// TryStartBuild atomically sets buildingBuildId := buildId iff it was empty,
// per spec §4.E single-flight build. Returns the state after the attempt;
// the caller compares BuildingBuildID against the id it proposed to tell
// whether it won the race or should wait on the returned in-flight id.
func (mc *MutationContext) TryStartBuild(ctx context.Context, workspaceID, buildID string, now int64) (*models.InventoryState, error) {
	row := mc.tx.QueryRow(ctx, `
		UPDATE inventory_state
		SET building_build_id = $2, building_started_at = $3
		WHERE workspace_id = $1 AND (building_build_id IS NULL OR building_build_id = '')
		RETURNING workspace_id, coalesce(signature,''), coalesce(ready_build_id,''), coalesce(building_build_id,''), building_started_at, coalesce(last_error,'')
	`, workspaceID, buildID, now)
	st, err := scanInventoryState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Someone else already owns the in-flight build; return current state.
		return mc.GetOrInitInventoryState(ctx, workspaceID)
	}
	return st, err
}

// CompleteBuild clears buildingBuildId and publishes the new ready build +
// signature on success; on failure it clears buildingBuildId and records
// lastError without advancing readyBuildId/signature.
func (mc *MutationContext) CompleteBuild(ctx context.Context, workspaceID, buildID, signature string, buildErr error) (*models.InventoryState, error) {
	var row pgx.Row
	if buildErr != nil {
		row = mc.tx.QueryRow(ctx, `
			UPDATE inventory_state
			SET building_build_id = NULL, building_started_at = NULL, last_error = $2
			WHERE workspace_id = $1
			RETURNING workspace_id, coalesce(signature,''), coalesce(ready_build_id,''), coalesce(building_build_id,''), building_started_at, coalesce(last_error,'')
		`, workspaceID, buildErr.Error())
	} else {
		row = mc.tx.QueryRow(ctx, `
			UPDATE inventory_state
			SET building_build_id = NULL, building_started_at = NULL, ready_build_id = $2, signature = $3, last_error = NULL
			WHERE workspace_id = $1
			RETURNING workspace_id, coalesce(signature,''), coalesce(ready_build_id,''), coalesce(building_build_id,''), building_started_at, coalesce(last_error,'')
		`, workspaceID, buildID, signature)
	}
	return scanInventoryState(row)
}

func scanInventoryState(row pgx.Row) (*models.InventoryState, error) {
	var st models.InventoryState
	if err := row.Scan(&st.WorkspaceID, &st.Signature, &st.ReadyBuildID, &st.BuildingBuildID, &st.BuildingStartedAt, &st.LastError); err != nil {
		return nil, err
	}
	return &st, nil
}
