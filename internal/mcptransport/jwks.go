package mcptransport

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const externalJWKSCacheTTL = 10 * time.Minute

// externalVerifier validates bearer tokens issued by an upstream OIDC
// authorization server (spec §4.H "an external-OIDC JWT").
//
// Grounded on erauner12-toolbridge-api/internal/auth/jwt.go's jwksCache:
// keys are cached by kid and refreshed on a TTL expiry or on a cache miss
// for an unrecognized kid (handling upstream key rotation).
type externalVerifier struct {
	issuer     string
	httpClient *http.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	jwksURL   string
	lastFetch time.Time
}

func newExternalVerifier(issuer string) *externalVerifier {
	return &externalVerifier{issuer: issuer, httpClient: &http.Client{Timeout: 5 * time.Second}}
}

func (v *externalVerifier) verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		return v.publicKey(kid)
	}, jwt.WithIssuer(v.issuer))
	if err != nil {
		return "", fmt.Errorf("external token invalid: %w", err)
	}
	if !token.Valid {
		return "", errors.New("external token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("external token carries no claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("external token carries no sub claim")
	}
	return sub, nil
}

func (v *externalVerifier) publicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	fresh := time.Since(v.lastFetch) < externalJWKSCacheTTL
	v.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := v.refresh(); err != nil {
		if ok {
			return key, nil
		}
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	key, ok = v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key id %s not found in upstream JWKS", kid)
	}
	return key, nil
}

func (v *externalVerifier) refresh() error {
	jwksURL, err := v.resolveJWKSURL()
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Get(jwksURL)
	if err != nil {
		return fmt.Errorf("fetch upstream jwks: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read upstream jwks: %w", err)
	}

	var doc struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("parse upstream jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		var eInt int
		for _, b := range eBytes {
			eInt = eInt<<8 | int(b)
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: eInt}
	}
	if len(keys) == 0 {
		return errors.New("upstream jwks carried no usable RSA keys")
	}

	v.mu.Lock()
	v.keys = keys
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}

// resolveJWKSURL discovers the upstream's jwks_uri from its own RFC 8414
// metadata document, the same document internal/oauth's
// handleAuthorizationServerMetadata serves for this coordinator's own
// anonymous sessions.
func (v *externalVerifier) resolveJWKSURL() (string, error) {
	v.mu.RLock()
	if v.jwksURL != "" {
		defer v.mu.RUnlock()
		return v.jwksURL, nil
	}
	v.mu.RUnlock()

	resp, err := v.httpClient.Get(strings.TrimRight(v.issuer, "/") + "/.well-known/oauth-authorization-server")
	if err != nil {
		return "", fmt.Errorf("discover upstream metadata: %w", err)
	}
	defer resp.Body.Close()

	var meta struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", fmt.Errorf("parse upstream metadata: %w", err)
	}
	if meta.JWKSURI == "" {
		return "", errors.New("upstream metadata carries no jwks_uri")
	}

	v.mu.Lock()
	v.jwksURL = meta.JWKSURI
	v.mu.Unlock()
	return meta.JWKSURI, nil
}
