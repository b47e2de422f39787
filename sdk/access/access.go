// Package access exposes the request authentication types for embedders.
//
// It re-exports the internal access manager so a custom Manager can be handed
// to the service builder without importing internal packages.
package access

import internalaccess "github.com/poeproxy/poe-openai-proxy/internal/access"

type Manager = internalaccess.Manager
type Provider = internalaccess.Provider
type Result = internalaccess.Result
type AuthError = internalaccess.AuthError
type AuthErrorCode = internalaccess.AuthErrorCode

const (
	AuthErrorCodeNoCredentials     = internalaccess.AuthErrorCodeNoCredentials
	AuthErrorCodeInvalidCredential = internalaccess.AuthErrorCodeInvalidCredential
	AuthErrorCodeNotHandled        = internalaccess.AuthErrorCodeNotHandled
)

// NewManager constructs an empty manager.
func NewManager() *Manager { return internalaccess.NewManager() }
