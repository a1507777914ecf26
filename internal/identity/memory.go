package identity

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Op names a provider operation for failure injection and call counting.
type Op string

const (
	OpSignInAnonymously    Op = "sign_in_anonymously"
	OpSignInWithCredential Op = "sign_in_with_credential"
	OpLinkWithCredential   Op = "link_with_credential"
	OpSignOut              Op = "sign_out"
	OpDeleteAccount        Op = "delete_account"
)

// Hook runs before every MemoryProvider operation. A non-nil error fails
// the operation.
type Hook func(ctx context.Context, op Op) error

// MemoryProvider is an in-process identity provider for development and
// tests. Anonymous uids look like anon_<ULID>. Credential subjects map to a
// stable uid per provider.
type MemoryProvider struct {
	stateNotifier

	mu       sync.Mutex
	subjects map[string]string // providerID/subject -> uid
	calls    map[Op]int
	failures map[Op][]error
	hook     Hook
}

// NewMemoryProvider returns a provider with no signed-in account.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		subjects: make(map[string]string),
		calls:    make(map[Op]int),
		failures: make(map[Op][]error),
	}
}

// SetHook installs h. Passing nil removes it.
func (m *MemoryProvider) SetHook(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

// FailNext makes the next len(errs) calls of op fail with errs in order.
func (m *MemoryProvider) FailNext(op Op, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], errs...)
}

// Calls returns how many times op was invoked.
func (m *MemoryProvider) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Listeners returns the number of registered state callbacks.
func (m *MemoryProvider) Listeners() int {
	return m.listenerCount()
}

// SetPrincipal replaces the signed-in principal as if the provider had
// restored or refreshed it.
func (m *MemoryProvider) SetPrincipal(p *Principal) {
	m.set(p)
}

func (m *MemoryProvider) begin(ctx context.Context, op Op) error {
	if err := ctx.Err(); err != nil {
		return withOp(ErrTransient, string(op), err)
	}

	m.mu.Lock()
	m.calls[op]++
	hook := m.hook
	var injected error
	if q := m.failures[op]; len(q) > 0 {
		injected = q[0]
		m.failures[op] = q[1:]
	}
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, op); err != nil {
			return err
		}
	}
	return injected
}

// SignInAnonymously implements Provider.
func (m *MemoryProvider) SignInAnonymously(ctx context.Context) (*Principal, error) {
	if err := m.begin(ctx, OpSignInAnonymously); err != nil {
		return nil, err
	}
	p := &Principal{UID: "anon_" + ulid.Make().String(), Anonymous: true}
	m.set(p)
	return clonePrincipal(p), nil
}

// SignInWithCredential implements Provider.
func (m *MemoryProvider) SignInWithCredential(ctx context.Context, cred Credential) (*Principal, error) {
	const op = OpSignInWithCredential
	if err := m.begin(ctx, op); err != nil {
		return nil, err
	}
	if cred.Subject == "" {
		return nil, withOp(ErrNoCredentials, string(op), nil)
	}

	key := cred.ProviderID + "/" + cred.Subject
	m.mu.Lock()
	uid, ok := m.subjects[key]
	if !ok {
		uid = "uid_" + ulid.Make().String()
		m.subjects[key] = uid
	}
	m.mu.Unlock()

	p := &Principal{UID: uid, Email: cred.Email, ProviderID: cred.ProviderID}
	m.set(p)
	return clonePrincipal(p), nil
}

// LinkWithCredential implements Provider.
func (m *MemoryProvider) LinkWithCredential(ctx context.Context, cred Credential) (*Principal, error) {
	const op = OpLinkWithCredential
	if err := m.begin(ctx, op); err != nil {
		return nil, err
	}
	if cred.Subject == "" {
		return nil, withOp(ErrNoCredentials, string(op), nil)
	}

	cur := m.Current()
	if cur == nil {
		return nil, withOp(ErrNoCurrentUser, string(op), nil)
	}
	if !cur.Anonymous {
		return nil, withOp(ErrNotAnonymous, string(op), nil)
	}

	key := cred.ProviderID + "/" + cred.Subject
	m.mu.Lock()
	if existing, ok := m.subjects[key]; ok && existing != cur.UID {
		m.mu.Unlock()
		return nil, withOp(ErrCredentialInUse, string(op), nil)
	}
	m.subjects[key] = cur.UID
	m.mu.Unlock()

	p := &Principal{UID: cur.UID, Email: cred.Email, ProviderID: cred.ProviderID}
	m.set(p)
	return clonePrincipal(p), nil
}

// SignOut implements Provider.
func (m *MemoryProvider) SignOut(ctx context.Context) error {
	if err := m.begin(ctx, OpSignOut); err != nil {
		return err
	}
	m.set(nil)
	return nil
}

// DeleteAccount implements Provider. Credentials linked to the account are
// forgotten.
func (m *MemoryProvider) DeleteAccount(ctx context.Context) error {
	const op = OpDeleteAccount
	if err := m.begin(ctx, op); err != nil {
		return err
	}
	cur := m.Current()
	if cur == nil {
		return withOp(ErrNoCurrentUser, string(op), nil)
	}

	m.mu.Lock()
	for k, uid := range m.subjects {
		if uid == cur.UID {
			delete(m.subjects, k)
		}
	}
	m.mu.Unlock()

	m.set(nil)
	return nil
}
