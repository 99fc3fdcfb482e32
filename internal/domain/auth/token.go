// Package auth provides the bearer-token principal resolver.
//
// Token issuance and full authentication live in an external collaborator;
// this package is the narrow stand-in that maps a presented token to a
// principal ID and roles so the governance layer can key its stores.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidToken is returned when a token matches no configured principal.
var ErrInvalidToken = errors.New("invalid token")

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// Principal is the authenticated identity associated with a request. It is
// the preferred rate-limit and cache key over the raw network address.
type Principal struct {
	// ID is the unique identifier for this principal.
	ID string

	// Roles drive quota escalation in the policy tables.
	Roles []string
}

// Credential binds a stored token hash to a principal.
type Credential struct {
	// Hash is the stored token hash: "sha256:<hex>" or Argon2id PHC format.
	Hash string

	// Principal is the identity the token authenticates as.
	Principal Principal
}

// Resolver verifies presented tokens against configured credentials.
type Resolver struct {
	credentials []Credential
	bySHA256    map[string]Principal
}

// NewResolver creates a resolver over the given credentials. SHA-256 hashes
// are indexed for direct lookup; Argon2id hashes are verified by iteration.
func NewResolver(credentials []Credential) *Resolver {
	r := &Resolver{
		credentials: credentials,
		bySHA256:    make(map[string]Principal),
	}
	for _, c := range credentials {
		if DetectHashType(c.Hash) == "sha256" {
			r.bySHA256[strings.TrimPrefix(c.Hash, "sha256:")] = c.Principal
		}
	}
	return r
}

// Resolve maps a raw token to its principal.
// Returns ErrInvalidToken when no credential matches.
func (r *Resolver) Resolve(rawToken string) (Principal, error) {
	// Fast path: direct SHA-256 lookup.
	if p, ok := r.bySHA256[HashToken(rawToken)]; ok {
		return p, nil
	}

	// Fallback: iterate and verify (covers Argon2id hashes).
	for _, c := range r.credentials {
		match, err := VerifyToken(rawToken, c.Hash)
		if err != nil {
			continue
		}
		if match {
			return c.Principal, nil
		}
	}
	return Principal{}, ErrInvalidToken
}

// HashToken returns the SHA-256 hex hash of the raw token.
func HashToken(rawToken string) string {
	hash := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(hash[:])
}

// argon2idParams defines OWASP minimum parameters for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashTokenArgon2id returns an Argon2id hash of the raw token in PHC format.
func HashTokenArgon2id(rawToken string) (string, error) {
	return argon2id.CreateHash(rawToken, argon2idParams)
}

// DetectHashType identifies the hash algorithm of a stored hash.
// Returns "argon2id", "sha256", or "unknown".
func DetectHashType(storedHash string) string {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(storedHash, "sha256:") {
		return "sha256"
	}
	if len(storedHash) == 64 && isHexString(storedHash) {
		return "sha256"
	}
	return "unknown"
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyToken verifies a raw token against a stored hash. Supports Argon2id
// PHC format, "sha256:"-prefixed, and bare SHA-256 hex.
func VerifyToken(rawToken, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case "argon2id":
		match, err := argon2id.ComparePasswordAndHash(rawToken, storedHash)
		if err != nil {
			return false, err
		}
		return match, nil

	case "sha256":
		expected := strings.TrimPrefix(storedHash, "sha256:")
		computed := HashToken(rawToken)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil

	default:
		return false, ErrUnknownHashType
	}
}
