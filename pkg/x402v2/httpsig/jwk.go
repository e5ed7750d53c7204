package httpsig

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// JWK is the subset of JSON Web Key members this profile cares about: Ed25519
// (OKP/Ed25519) public keys only.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
}

// Directory is the Web-Bot-Auth JWKS directory document shape:
// `{ "keys": [ JWK, ... ] }`.
type Directory struct {
	Keys []JWK `json:"keys"`
}

// Thumbprint computes the RFC 7638 thumbprint of an Ed25519 JWK: SHA-256 over the
// canonical JSON `{"crv","kty","x"}` (keys sorted lexicographically, no whitespace),
// base64url with no padding.
func (k JWK) Thumbprint() (string, error) {
	if k.Kty != "OKP" || k.Crv != "Ed25519" {
		return "", fmt.Errorf("thumbprint only supported for OKP/Ed25519 keys, got kty=%s crv=%s", k.Kty, k.Crv)
	}
	// "crv" < "kty" < "x" lexicographically, matching RFC 7638's sorted-member rule.
	canonical := fmt.Sprintf(`{"crv":%s,"kty":%s,"x":%s}`, jsonString(k.Crv), jsonString(k.Kty), jsonString(k.X))
	sum := sha256.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// PublicKey decodes the JWK's "x" member into a raw Ed25519 public key.
func (k JWK) PublicKey() (ed25519.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("decoding jwk x member: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("jwk x member has length %d, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// FindByThumbprint locates the key in the directory whose RFC 7638 thumbprint
// matches keyID. Non-Ed25519/OKP keys are ignored.
func (d Directory) FindByThumbprint(keyID string) (JWK, bool) {
	for _, k := range d.Keys {
		if k.Kty != "OKP" || k.Crv != "Ed25519" {
			continue
		}
		tp, err := k.Thumbprint()
		if err != nil {
			continue
		}
		if tp == keyID {
			return k, true
		}
	}
	return JWK{}, false
}
