// Package access authenticates inbound API requests against the configured
// client keys and throttles them per key.
package access

import (
	"context"
	"net/http"
	"sync"

	"github.com/poeproxy/poe-openai-proxy/internal/config"
	log "github.com/sirupsen/logrus"
)

// Provider validates credentials for incoming requests.
type Provider interface {
	Identifier() string
	Authenticate(ctx context.Context, r *http.Request) (*Result, *AuthError)
}

// Result conveys authentication outcome.
type Result struct {
	Provider  string
	Principal string
	Metadata  map[string]string
}

// Manager coordinates authentication providers.
type Manager struct {
	mu        sync.RWMutex
	providers []Provider
}

// NewManager constructs an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// SetProviders replaces the active provider list.
func (m *Manager) SetProviders(providers []Provider) {
	if m == nil {
		return
	}
	cloned := make([]Provider, len(providers))
	copy(cloned, providers)
	m.mu.Lock()
	m.providers = cloned
	m.mu.Unlock()
}

// Providers returns a snapshot of the active providers.
func (m *Manager) Providers() []Provider {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := make([]Provider, len(m.providers))
	copy(snapshot, m.providers)
	return snapshot
}

// Authenticate evaluates providers until one succeeds. With no providers every
// request is accepted and a nil result is returned.
func (m *Manager) Authenticate(ctx context.Context, r *http.Request) (*Result, *AuthError) {
	providers := m.Providers()
	if len(providers) == 0 {
		return nil, nil
	}

	invalid := false
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		res, authErr := provider.Authenticate(ctx, r)
		if authErr == nil {
			return res, nil
		}
		switch {
		case IsAuthErrorCode(authErr, AuthErrorCodeNotHandled),
			IsAuthErrorCode(authErr, AuthErrorCodeNoCredentials):
		case IsAuthErrorCode(authErr, AuthErrorCodeInvalidCredential):
			invalid = true
		default:
			return nil, authErr
		}
	}

	if invalid {
		return nil, NewInvalidCredentialError()
	}
	return nil, NewNoCredentialsError()
}

// ApplyConfig rebuilds the providers from cfg and reports whether the key set changed.
func ApplyConfig(manager *Manager, cfg *config.Config) bool {
	if manager == nil || cfg == nil {
		return false
	}
	var providers []Provider
	if p := newKeyProvider(cfg.APIKeys); p != nil {
		providers = append(providers, p)
	}
	changed := !sameProviders(manager.Providers(), providers)
	manager.SetProviders(providers)
	if changed {
		log.Debugf("access providers updated (%d configured)", len(providers))
	}
	if len(providers) == 0 {
		log.Warn("no api-keys configured; the API accepts unauthenticated requests")
	}
	return changed
}

func sameProviders(a, b []Provider) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ka, okA := a[i].(*keyProvider)
		kb, okB := b[i].(*keyProvider)
		if !okA || !okB || !ka.equal(kb) {
			return false
		}
	}
	return true
}
