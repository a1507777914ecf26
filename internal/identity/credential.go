package identity

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is a provider ID token bound to the raw nonce of the sign-in
// request that produced it.
type Credential struct {
	ProviderID string
	IDToken    string
	RawNonce   string
	Subject    string
	Email      string
}

// NewCredential checks the claims of idToken and builds a Credential.
//
// The token signature is not verified here; the identity provider does that
// during the exchange. What is checked locally is that a request was made
// (rawNonce is set), that the token's nonce claim is the hash of that
// request's nonce, and that the token names a subject.
func NewCredential(providerID, rawNonce, idToken string) (Credential, error) {
	const op = "credential"

	if rawNonce == "" {
		return Credential{}, withOp(ErrNoLoginRequest, op, nil)
	}
	if idToken == "" {
		return Credential{}, withOp(ErrNoIdentityToken, op, nil)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return Credential{}, withOp(ErrNoIdentityToken, op, err)
	}

	nonce, _ := claims["nonce"].(string)
	if nonce != HashNonce(rawNonce) {
		return Credential{}, withOp(ErrNonceMismatch, op, nil)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		if err == nil {
			err = errors.New("missing sub claim")
		}
		return Credential{}, withOp(ErrNoCredentials, op, err)
	}

	email, _ := claims["email"].(string)
	if providerID == "" {
		providerID = DefaultProviderID
	}

	return Credential{
		ProviderID: providerID,
		IDToken:    idToken,
		RawNonce:   rawNonce,
		Subject:    sub,
		Email:      email,
	}, nil
}
