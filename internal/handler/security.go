package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"

	"github.com/xenking/homedeco-fulfillment/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

// SecurityHandler authenticates API keys stored as HMAC-SHA256 hashes and
// binds the owning user to the request context.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// HandleAPIKey returns a context carrying the user id of key.
func (s *SecurityHandler) HandleAPIKey(ctx context.Context, key string) (context.Context, error) {
	hexHash := auth.HashKey(s.pepper, key)

	info, err := s.apikeys.FindByHash(ctx, hexHash)
	if err != nil {
		return ctx, errors.Wrap(auth.ErrUnauthorized, err.Error())
	}

	// The stored row must match what we computed, not only what we queried.
	computed, _ := hex.DecodeString(hexHash)
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(computed, stored) != 1 {
		return ctx, auth.ErrUnauthorized
	}
	if info.UserID == "" {
		return ctx, auth.ErrUnauthorized
	}
	return auth.WithUserID(ctx, info.UserID), nil
}
