package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/runlayer/coordinator/internal/models"
)

// GetActiveSigningKey returns the process-wide active RS256 key, if any.
func (qc *QueryContext) GetActiveSigningKey(ctx context.Context) (*models.OAuthSigningKey, error) {
	row := qc.tx.QueryRow(ctx, `
		SELECT key_id, private_jwk, public_jwk, active, created_at
		FROM oauth_signing_keys WHERE active = true LIMIT 1
	`)
	var k models.OAuthSigningKey
	if err := row.Scan(&k.KeyID, &k.PrivateJWK, &k.PublicJWK, &k.Active, &k.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &k, nil
}

// InsertActiveSigningKey persists a freshly generated key pair as active.
// The partial unique index on (active) WHERE active enforces "exactly one
// active process-wide" even under a concurrent first-start race.
func (mc *MutationContext) InsertActiveSigningKey(ctx context.Context, k *models.OAuthSigningKey) error {
	_, err := mc.tx.Exec(ctx, `
		INSERT INTO oauth_signing_keys (key_id, private_jwk, public_jwk, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, k.KeyID, k.PrivateJWK, k.PublicJWK, k.CreatedAt)
	return err
}

// InsertOAuthClient persists a dynamically registered client (RFC 7591).
func (mc *MutationContext) InsertOAuthClient(ctx context.Context, c *models.OAuthClient) error {
	uris, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return err
	}
	_, err = mc.tx.Exec(ctx, `
		INSERT INTO oauth_clients (client_id, client_name, redirect_uris, created_at)
		VALUES ($1,$2,$3,$4)
	`, c.ClientID, nullableString(c.ClientName), uris, c.CreatedAt)
	return err
}

// GetOAuthClient reads a registered client by id.
func (qc *QueryContext) GetOAuthClient(ctx context.Context, clientID string) (*models.OAuthClient, error) {
	row := qc.tx.QueryRow(ctx, `
		SELECT client_id, coalesce(client_name,''), redirect_uris, created_at
		FROM oauth_clients WHERE client_id = $1
	`, clientID)
	var c models.OAuthClient
	var uris []byte
	if err := row.Scan(&c.ClientID, &c.ClientName, &uris, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(uris, &c.RedirectURIs); err != nil {
		return nil, err
	}
	return &c, nil
}

// CountAuthorizationCodes returns the number of outstanding (not yet purged)
// codes, used by the pending-code cap check in spec §4.I step 4.
func (qc *QueryContext) CountAuthorizationCodes(ctx context.Context) (int, error) {
	var n int
	err := qc.tx.QueryRow(ctx, `SELECT count(*) FROM authorization_codes`).Scan(&n)
	return n, err
}

// PurgeExpiredAuthorizationCodes deletes codes past their expiry and returns
// the number removed.
func (mc *MutationContext) PurgeExpiredAuthorizationCodes(ctx context.Context, now int64) (int64, error) {
	tag, err := mc.tx.Exec(ctx, `DELETE FROM authorization_codes WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InsertAuthorizationCode persists a freshly minted code.
func (mc *MutationContext) InsertAuthorizationCode(ctx context.Context, c *models.AuthorizationCode) error {
	claims, err := json.Marshal(c.TokenClaims)
	if err != nil {
		return err
	}
	_, err = mc.tx.Exec(ctx, `
		INSERT INTO authorization_codes (code, client_id, redirect_uri, code_challenge, code_challenge_method,
			actor_id, token_claims, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, c.Code, c.ClientID, c.RedirectURI, c.CodeChallenge, c.CodeChallengeMethod, c.ActorID, claims, c.ExpiresAt, c.CreatedAt)
	return err
}

// ConsumeAuthorizationCode atomically reads and deletes a code in one
// statement, so a second consumer sees no row (spec §5 single-flight).
func (mc *MutationContext) ConsumeAuthorizationCode(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	row := mc.tx.QueryRow(ctx, `
		DELETE FROM authorization_codes WHERE code = $1
		RETURNING code, client_id, redirect_uri, code_challenge, code_challenge_method, actor_id, token_claims, expires_at, created_at
	`, code)
	var c models.AuthorizationCode
	var claims []byte
	if err := row.Scan(&c.Code, &c.ClientID, &c.RedirectURI, &c.CodeChallenge, &c.CodeChallengeMethod, &c.ActorID, &claims, &c.ExpiresAt, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(claims) > 0 {
		if err := json.Unmarshal(claims, &c.TokenClaims); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// UpsertAnonymousSession creates or returns the existing session row.
func (mc *MutationContext) UpsertAnonymousSession(ctx context.Context, s *models.AnonymousSession) (*models.AnonymousSession, error) {
	row := mc.tx.QueryRow(ctx, `
		INSERT INTO anonymous_sessions (session_id, workspace_id, actor_id, account_id, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (session_id) DO UPDATE SET session_id = anonymous_sessions.session_id
		RETURNING session_id, workspace_id, actor_id, account_id, created_at
	`, s.SessionID, s.WorkspaceID, s.ActorID, s.AccountID, s.CreatedAt)
	var out models.AnonymousSession
	if err := row.Scan(&out.SessionID, &out.WorkspaceID, &out.ActorID, &out.AccountID, &out.CreatedAt); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAnonymousSession reads a session by id.
func (qc *QueryContext) GetAnonymousSession(ctx context.Context, sessionID string) (*models.AnonymousSession, error) {
	row := qc.tx.QueryRow(ctx, `
		SELECT session_id, workspace_id, actor_id, account_id, created_at
		FROM anonymous_sessions WHERE session_id = $1
	`, sessionID)
	var s models.AnonymousSession
	if err := row.Scan(&s.SessionID, &s.WorkspaceID, &s.ActorID, &s.AccountID, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}
