// Package identity wraps the identity provider: anonymous and credential
// sign-in, account linking, sign-out, account deletion and the live stream
// of session changes.
package identity

import (
	"context"
	"time"

	"github.com/shotsapp/shots/internal/model"
)

// DefaultProviderID is the third-party provider used for credential sign-in.
const DefaultProviderID = "apple.com"

// Principal is a signed-in provider account.
type Principal struct {
	UID          string    `json:"uid"`
	Anonymous    bool      `json:"anonymous"`
	Email        string    `json:"email,omitempty"`
	ProviderID   string    `json:"provider_id,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Session converts p to the session value seen by the rest of the service.
// A nil principal is no session.
func (p *Principal) Session() model.Session {
	if p == nil {
		return model.NoSession
	}
	return model.Session{UserID: p.UID, Anonymous: p.Anonymous, Email: p.Email}
}

// Completion is what the UI glue hands back after the third-party provider
// finishes its sign-in sheet.
type Completion struct {
	IDToken   string `json:"id_token"`
	Email     string `json:"email,omitempty"`
	GivenName string `json:"given_name,omitempty"`
}

// StateSource delivers principal changes. Registered callbacks run once
// immediately with the current principal, then on every change, in order.
// Callbacks must not block.
type StateSource interface {
	AddStateListener(fn func(*Principal)) (remove func())
}

// Provider is the identity provider façade.
type Provider interface {
	StateSource

	SignInAnonymously(ctx context.Context) (*Principal, error)
	SignInWithCredential(ctx context.Context, cred Credential) (*Principal, error)
	// LinkWithCredential attaches cred to the current anonymous account.
	// The uid is kept.
	LinkWithCredential(ctx context.Context, cred Credential) (*Principal, error)
	SignOut(ctx context.Context) error
	DeleteAccount(ctx context.Context) error
	Current() *Principal
}
