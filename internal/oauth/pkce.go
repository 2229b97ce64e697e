package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// verifyPKCE checks a code_verifier against the stored S256 code_challenge
// (spec §4.I step 5: "SHA-256, base64url"). Only the S256 method is
// supported; handleAuthorize rejects any other code_challenge_method before
// a code is ever minted.
func verifyPKCE(challenge, verifier string) bool {
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
