package oauth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/google/uuid"
)

// reservedClaims are the JWT claim names mintToken always sets itself;
// a stored AuthorizationCode.TokenClaims entry under one of these keys is
// silently dropped rather than allowed to shadow it (spec §4.I step 5
// "Reserved JWT claim names cannot be shadowed by stored tokenClaims").
var reservedClaims = map[string]bool{
	"iss": true, "aud": true, "sub": true, "exp": true,
	"iat": true, "jti": true, "provider": true,
}

// mintToken signs the RS256 access token described in spec §4.I step 5.
func mintToken(key *signingKey, issuer, actorID string, extra map[string]any, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{}
	for k, v := range extra {
		if reservedClaims[k] {
			continue
		}
		claims[k] = v
	}
	claims["iss"] = issuer
	claims["aud"] = issuer + "/mcp"
	claims["sub"] = actorID
	claims["provider"] = "anonymous"
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(ttl).Unix()
	claims["jti"] = uuid.NewString()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.id
	return token.SignedString(key.private)
}

// verifyToken validates signature, iss, and aud per spec §4.I step 6.
func verifyToken(key *signingKey, issuer, tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		if kid, _ := t.Header["kid"].(string); kid != key.id {
			return nil, fmt.Errorf("unknown key id %q", t.Header["kid"])
		}
		return key.public, nil
	}, jwt.WithIssuer(issuer), jwt.WithAudience(issuer+"/mcp"))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("token not valid")
	}
	return claims, nil
}
