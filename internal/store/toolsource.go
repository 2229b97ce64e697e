package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/runlayer/coordinator/internal/models"
)

// ListEnabledToolSources returns enabled sources for a workspace, ordered by
// name — used both to compute sig(ws) and to drive compilation.
func (qc *QueryContext) ListEnabledToolSources(ctx context.Context, workspaceID string) ([]models.ToolSource, error) {
	rows, err := qc.tx.Query(ctx, `
		SELECT source_id, workspace_id, name, type, config, enabled, created_at, updated_at
		FROM tool_sources WHERE workspace_id = $1 AND enabled = true ORDER BY name ASC
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ToolSource
	for rows.Next() {
		var ts models.ToolSource
		var cfg []byte
		if err := rows.Scan(&ts.SourceID, &ts.WorkspaceID, &ts.Name, &ts.Type, &cfg, &ts.Enabled, &ts.CreatedAt, &ts.UpdatedAt); err != nil {
			return nil, err
		}
		if len(cfg) > 0 {
			if err := json.Unmarshal(cfg, &ts.Config); err != nil {
				return nil, err
			}
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// InsertToolSource creates a new source. Name must be unique per workspace.
func (mc *MutationContext) InsertToolSource(ctx context.Context, ts *models.ToolSource) error {
	cfg, err := json.Marshal(ts.Config)
	if err != nil {
		return err
	}
	_, err = mc.tx.Exec(ctx, `
		INSERT INTO tool_sources (source_id, workspace_id, name, type, config, enabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
	`, ts.SourceID, ts.WorkspaceID, ts.Name, ts.Type, cfg, ts.Enabled, ts.CreatedAt)
	return err
}

// ListAccessPolicies returns every policy row for a workspace.
func (qc *QueryContext) ListAccessPolicies(ctx context.Context, workspaceID string) ([]models.AccessPolicy, error) {
	rows, err := qc.tx.Query(ctx, `
		SELECT tool_path_pattern, coalesce(actor_id,''), coalesce(client_id,''), decision, priority
		FROM access_policies WHERE workspace_id = $1
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AccessPolicy
	for rows.Next() {
		p := models.AccessPolicy{WorkspaceID: workspaceID}
		var decision string
		if err := rows.Scan(&p.ToolPathPattern, &p.ActorID, &p.ClientID, &decision, &p.Priority); err != nil {
			return nil, err
		}
		p.Decision = parseDecision(decision)
		out = append(out, p)
	}
	return out, rows.Err()
}

func parseDecision(s string) models.PolicyDecision {
	switch s {
	case "deny":
		return models.DecisionDeny
	case "require_approval":
		return models.DecisionRequireApproval
	default:
		return models.DecisionAllow
	}
}

// GetSourceCredential resolves the binding for (workspaceId, sourceKey,
// scope[, actorId]) per spec §4.C step 1.
func (qc *QueryContext) GetSourceCredential(ctx context.Context, workspaceID, sourceKey string, scope models.CredentialScope, actorID string) (*models.SourceCredential, error) {
	var row pgx.Row
	if scope == models.ScopeActor {
		row = qc.tx.QueryRow(ctx, `
			SELECT credential_id, source_key, scope, coalesce(actor_id,''), provider, secret_payload, header_override, created_at, updated_at
			FROM source_credentials
			WHERE workspace_id = $1 AND source_key = $2 AND scope = $3 AND actor_id = $4
		`, workspaceID, sourceKey, scope, actorID)
	} else {
		row = qc.tx.QueryRow(ctx, `
			SELECT credential_id, source_key, scope, coalesce(actor_id,''), provider, secret_payload, header_override, created_at, updated_at
			FROM source_credentials
			WHERE workspace_id = $1 AND source_key = $2 AND scope = $3
		`, workspaceID, sourceKey, scope)
	}
	var c models.SourceCredential
	c.WorkspaceID = workspaceID
	var hdr []byte
	if err := row.Scan(&c.CredentialID, &c.SourceKey, &c.Scope, &c.ActorID, &c.Provider, &c.SecretPayload, &hdr, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(hdr) > 0 {
		if err := json.Unmarshal(hdr, &c.HeaderOverride); err != nil {
			return nil, err
		}
	}
	return &c, nil
}
