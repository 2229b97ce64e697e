// Package oauth implements the Anonymous OAuth Authorization Server
// (spec §4.I): RFC 7591 dynamic registration, PKCE S256 authorization-code
// grant, RS256 JWT minting/verification, and the discovery endpoints an MCP
// client needs to bootstrap against a self-issued issuer.
//
// Maps to: erauner12-toolbridge-api internal/auth/jwt.go (JWKS cache shape,
// RS256 kid-based verification) and internal/mcpserver/server/oauth_metadata.go
// (protected-resource / authorization-server metadata documents).
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/store"
)

const signingKeyBits = 2048

// signingKey is the in-memory, already-parsed form of models.OAuthSigningKey.
type signingKey struct {
	id      string
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// loadOrCreateSigningKey implements spec §4.I "Key management": load the
// active key from the Store, or generate, persist, and cache one. A unique
// partial index on oauth_signing_keys(active) WHERE active enforces
// "exactly one active, process-wide" even if two processes race to
// generate the first key; the loser reloads the winner's row instead of
// erroring.
func loadOrCreateSigningKey(ctx context.Context, st *store.Store) (*signingKey, error) {
	if key, err := loadActiveSigningKey(ctx, st); err != nil {
		return nil, err
	} else if key != nil {
		return key, nil
	}

	priv, err := rsa.GenerateKey(rand.Reader, signingKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	id, err := newKeyID()
	if err != nil {
		return nil, err
	}
	record := &models.OAuthSigningKey{
		KeyID:      id,
		PrivateJWK: encodePrivateKey(priv),
		PublicJWK:  encodePublicKey(&priv.PublicKey),
		Active:     true,
		CreatedAt:  time.Now().UnixMilli(),
	}

	err = st.Mutate(ctx, "", func(ctx context.Context, mc *store.MutationContext) error {
		return mc.InsertActiveSigningKey(ctx, record)
	})
	if err == nil {
		return &signingKey{id: id, private: priv, public: &priv.PublicKey}, nil
	}
	if !isUniqueViolation(err) {
		return nil, fmt.Errorf("persist signing key: %w", err)
	}

	// Lost the first-start race; the winner's key is now active.
	key, loadErr := loadActiveSigningKey(ctx, st)
	if loadErr != nil {
		return nil, loadErr
	}
	if key == nil {
		return nil, errors.New("signing key insert conflicted but no active key found")
	}
	return key, nil
}

func loadActiveSigningKey(ctx context.Context, st *store.Store) (*signingKey, error) {
	var record *models.OAuthSigningKey
	err := st.Query(ctx, "", func(ctx context.Context, qc *store.QueryContext) error {
		k, err := qc.GetActiveSigningKey(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		record = k
		return nil
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	priv, err := decodePrivateKey(record.PrivateJWK)
	if err != nil {
		return nil, fmt.Errorf("decode stored signing key %s: %w", record.KeyID, err)
	}
	return &signingKey{id: record.KeyID, private: priv, public: &priv.PublicKey}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func newKeyID() (string, error) {
	raw := make([]byte, 4)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate key id: %w", err)
	}
	return "anon_key_" + hex.EncodeToString(raw), nil
}

// encodePrivateKey/decodePrivateKey persist the RSA private key as PKCS#8 PEM.
// The Store column is named for the JWK it backs, not its wire encoding.
func encodePrivateKey(priv *rsa.PrivateKey) string {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		panic("marshal generated RSA key: " + err.Error())
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func decodePrivateKey(s string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, errors.New("not a PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("stored key is %T, not *rsa.PrivateKey", key)
	}
	return rsaKey, nil
}

// encodePublicKey stores the PEM rendering of the public key; jwk (served
// by handleJWKS) derives the JWK Set representation from the live *rsa.PublicKey instead
// of round-tripping through this, so it is kept only as an audit artifact.
func encodePublicKey(pub *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		panic("marshal generated RSA public key: " + err.Error())
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// jwk renders the public half of k as one entry of a JWK Set (RFC 7517),
// the shape /oauth2/jwks serves and erauner12-toolbridge-api's jwksCache
// consumes on the verifying side.
func (k *signingKey) jwk() map[string]any {
	return map[string]any{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": k.id,
		"n":   base64.RawURLEncoding.EncodeToString(k.public.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.public.E)).Bytes()),
	}
}
