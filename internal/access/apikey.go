package access

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

const keyProviderName = "config-api-key"

// keyProvider accepts requests carrying one of the configured client keys as a
// Bearer token, an x-api-key header or a raw Authorization value.
type keyProvider struct {
	keys []string
}

func newKeyProvider(keys []string) *keyProvider {
	if len(keys) == 0 {
		return nil
	}
	return &keyProvider{keys: append([]string(nil), keys...)}
}

func (p *keyProvider) Identifier() string { return keyProviderName }

func (p *keyProvider) Authenticate(_ context.Context, r *http.Request) (*Result, *AuthError) {
	if p == nil || len(p.keys) == 0 {
		return nil, NewNotHandledError()
	}
	provided, source := extractKey(r)
	if provided == "" {
		return nil, NewNoCredentialsError()
	}
	for _, key := range p.keys {
		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1 {
			return &Result{
				Provider:  p.Identifier(),
				Principal: key,
				Metadata:  map[string]string{"source": source},
			}, nil
		}
	}
	return nil, NewInvalidCredentialError()
}

func (p *keyProvider) equal(other *keyProvider) bool {
	if p == nil || other == nil {
		return p == other
	}
	if len(p.keys) != len(other.keys) {
		return false
	}
	for i := range p.keys {
		if p.keys[i] != other.keys[i] {
			return false
		}
	}
	return true
}

func extractKey(r *http.Request) (string, string) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, token, ok := strings.Cut(authHeader, " "); ok && strings.EqualFold(scheme, "bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token, "authorization"
		}
	}
	if key := strings.TrimSpace(r.Header.Get("X-Api-Key")); key != "" {
		return key, "x-api-key"
	}
	if authHeader != "" && !strings.EqualFold(authHeader, "bearer") {
		return authHeader, "authorization-raw"
	}
	return "", ""
}
