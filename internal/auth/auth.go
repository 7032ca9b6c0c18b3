// Package auth decides whether a request may publish, unlist or delete packages.
package auth

import (
	"context"
	"crypto/subtle"
)

// Authenticator 校验 X-NuGet-ApiKey。
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) bool
}

// APIKeyAuthenticator 与单个配置的 key 比较；未配置 key 时放行所有请求。
type APIKeyAuthenticator struct {
	key []byte
}

func NewAPIKeyAuthenticator(key string) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{key: []byte(key)}
}

func (a *APIKeyAuthenticator) Authenticate(_ context.Context, apiKey string) bool {
	if len(a.key) == 0 {
		return true
	}
	return subtle.ConstantTimeCompare(a.key, []byte(apiKey)) == 1
}

var _ Authenticator = (*APIKeyAuthenticator)(nil)
