package identity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cred(sub, email string) Credential {
	return Credential{ProviderID: DefaultProviderID, IDToken: "token", Subject: sub, Email: email}
}

func TestMemoryProvider_AnonymousSignIn(t *testing.T) {
	t.Parallel()

	p := NewMemoryProvider()
	got, err := p.SignInAnonymously(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.UID, "anon_"))
	assert.True(t, got.Anonymous)
	assert.Equal(t, got, p.Current())
	assert.Equal(t, 1, p.Calls(OpSignInAnonymously))
}

func TestMemoryProvider_CredentialSubjectIsStable(t *testing.T) {
	t.Parallel()

	p := NewMemoryProvider()
	ctx := context.Background()

	first, err := p.SignInWithCredential(ctx, cred("sub-1", "a@example.com"))
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx))
	assert.Nil(t, p.Current())

	second, err := p.SignInWithCredential(ctx, cred("sub-1", ""))
	require.NoError(t, err)
	assert.Equal(t, first.UID, second.UID)
	assert.False(t, second.Anonymous)
}

func TestMemoryProvider_LinkKeepsUID(t *testing.T) {
	t.Parallel()

	p := NewMemoryProvider()
	ctx := context.Background()

	anon, err := p.SignInAnonymously(ctx)
	require.NoError(t, err)

	linked, err := p.LinkWithCredential(ctx, cred("sub-1", "a@example.com"))
	require.NoError(t, err)
	assert.Equal(t, anon.UID, linked.UID)
	assert.False(t, linked.Anonymous)
	assert.Equal(t, "a@example.com", linked.Email)

	_, err = p.LinkWithCredential(ctx, cred("sub-2", ""))
	assert.ErrorIs(t, err, ErrNotAnonymous)
}

func TestMemoryProvider_LinkCredentialInUse(t *testing.T) {
	t.Parallel()

	p := NewMemoryProvider()
	ctx := context.Background()

	_, err := p.SignInWithCredential(ctx, cred("sub-1", ""))
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx))

	_, err = p.SignInAnonymously(ctx)
	require.NoError(t, err)
	_, err = p.LinkWithCredential(ctx, cred("sub-1", ""))
	assert.ErrorIs(t, err, ErrCredentialInUse)
	assert.Equal(t, KindCredential, KindOf(err))
}

func TestMemoryProvider_DeleteAccount(t *testing.T) {
	t.Parallel()

	p := NewMemoryProvider()
	ctx := context.Background()

	err := p.DeleteAccount(ctx)
	assert.ErrorIs(t, err, ErrNoCurrentUser)

	first, err := p.SignInWithCredential(ctx, cred("sub-1", ""))
	require.NoError(t, err)
	require.NoError(t, p.DeleteAccount(ctx))
	assert.Nil(t, p.Current())

	second, err := p.SignInWithCredential(ctx, cred("sub-1", ""))
	require.NoError(t, err)
	assert.NotEqual(t, first.UID, second.UID, "a deleted account is not resurrected")
}

func TestMemoryProvider_FailureInjection(t *testing.T) {
	t.Parallel()

	p := NewMemoryProvider()
	ctx := context.Background()
	boom := withOp(ErrTransient, "sign_up", errors.New("offline"))

	p.FailNext(OpSignInAnonymously, boom, boom)
	_, err := p.SignInAnonymously(ctx)
	assert.ErrorIs(t, err, ErrTransient)
	_, err = p.SignInAnonymously(ctx)
	assert.ErrorIs(t, err, ErrTransient)
	_, err = p.SignInAnonymously(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 3, p.Calls(OpSignInAnonymously))

	hookErr := errors.New("hooked")
	p.SetHook(func(ctx context.Context, op Op) error {
		if op == OpSignOut {
			return hookErr
		}
		return nil
	})
	assert.ErrorIs(t, p.SignOut(ctx), hookErr)
	assert.NotNil(t, p.Current())
}

func TestMemoryProvider_ListenerSeesCurrentImmediately(t *testing.T) {
	t.Parallel()

	p := NewMemoryProvider()
	p.SetPrincipal(&Principal{UID: "u1"})

	var got []*Principal
	remove := p.AddStateListener(func(pr *Principal) { got = append(got, pr) })
	require.NoError(t, p.SignOut(context.Background()))
	remove()
	p.SetPrincipal(&Principal{UID: "u2"})

	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].UID)
	assert.Nil(t, got[1])
}
