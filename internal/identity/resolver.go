// SPDX-License-Identifier: MIT

// Package identity resolves bearer credentials to the (user, organization,
// admin) triple a stream connection is scoped by.
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidToken covers every credential failure: malformed, bad signature,
// expired, or unresolvable. Resolver failures are deliberately not
// distinguished further at this boundary.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated principal behind a credential.
type Identity struct {
	UserID         string
	OrganizationID string
	Admin          bool
}

// Resolver validates a credential and returns the identity it belongs to.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

type claims struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId,omitempty"`
	Admin          bool   `json:"isAdmin,omitempty"`
	ExpiresAt      int64  `json:"exp,omitempty"`
}

// TokenResolver verifies HMAC-SHA256-signed tokens of the form
// base64url(payload) "." base64url(signature).
type TokenResolver struct {
	secret []byte
}

// NewTokenResolver constructs a resolver keyed with secret.
func NewTokenResolver(secret []byte) (*TokenResolver, error) {
	if len(secret) == 0 {
		return nil, errors.New("identity: empty signing secret")
	}
	return &TokenResolver{secret: secret}, nil
}

// Resolve implements Resolver.
func (r *TokenResolver) Resolve(_ context.Context, token string) (Identity, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	gotSig, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	mac := hmac.New(sha256.New, r.secret)
	mac.Write([]byte(payload))
	if !hmac.Equal(gotSig, mac.Sum(nil)) {
		return Identity{}, ErrInvalidToken
	}
	return identityFromPayload(raw, time.Now())
}

// Sign mints a token for id, valid for ttl (no expiry when ttl <= 0).
// Used by tests and by the token-minting CLI.
func (r *TokenResolver) Sign(id Identity, ttl time.Duration) (string, error) {
	c := claims{
		UserID:         id.UserID,
		OrganizationID: id.OrganizationID,
		Admin:          id.Admin,
	}
	if ttl > 0 {
		c.ExpiresAt = time.Now().Add(ttl).Unix()
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("identity: marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	mac := hmac.New(sha256.New, r.secret)
	mac.Write([]byte(payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return payload + "." + sig, nil
}

// InsecureResolver decodes token claims WITHOUT verifying the signature.
// It exists for local development and tests only and is constructible solely
// through this explicit type; configuration refuses to select it when the
// environment is production.
type InsecureResolver struct{}

// Resolve implements Resolver. The signature part, if present, is ignored.
func (InsecureResolver) Resolve(_ context.Context, token string) (Identity, error) {
	payload, _, _ := strings.Cut(token, ".")
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	return identityFromPayload(raw, time.Now())
}

func identityFromPayload(raw []byte, now time.Time) (Identity, error) {
	var c claims
	if err := json.Unmarshal(raw, &c); err != nil {
		return Identity{}, ErrInvalidToken
	}
	if c.UserID == "" {
		return Identity{}, ErrInvalidToken
	}
	if c.ExpiresAt != 0 && now.Unix() >= c.ExpiresAt {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		UserID:         c.UserID,
		OrganizationID: c.OrganizationID,
		Admin:          c.Admin,
	}, nil
}
