package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shotsapp/shots/internal/retry"
)

// Default REST endpoints.
const (
	DefaultBaseURL    = "https://identitytoolkit.googleapis.com/v1"
	DefaultTokenURL   = "https://securetoken.googleapis.com/v1/token"
	DefaultRequestURI = "http://localhost"
)

// tokenRefreshSkew refreshes ID tokens this long before they expire.
const tokenRefreshSkew = time.Minute

// Provider error codes that mean the credential itself was rejected.
var credentialCodes = map[string]bool{
	"INVALID_IDP_RESPONSE":             true,
	"INVALID_ID_TOKEN":                 true,
	"MISSING_OR_INVALID_NONCE":         true,
	"TOKEN_EXPIRED":                    true,
	"INVALID_REFRESH_TOKEN":            true,
	"CREDENTIAL_TOO_OLD_LOGIN_AGAIN":   true,
	"FEDERATED_USER_ID_ALREADY_LINKED": true,
	"USER_DISABLED":                    true,
}

// RESTConfig configures a RESTProvider.
type RESTConfig struct {
	APIKey     string
	BaseURL    string
	TokenURL   string
	ProviderID string
	RequestURI string
	HTTPClient *http.Client
	Retrier    *retry.Retrier
	Vault      *SessionVault
	Logger     *slog.Logger
	Now        func() time.Time
}

// RESTProvider talks to an Identity Toolkit compatible REST API.
type RESTProvider struct {
	stateNotifier

	apiKey     string
	baseURL    string
	tokenURL   string
	providerID string
	requestURI string
	client     *http.Client
	retrier    *retry.Retrier
	vault      *SessionVault
	logger     *slog.Logger
	now        func() time.Time
}

// NewRESTProvider creates a provider and restores the persisted principal
// from the vault, if any.
func NewRESTProvider(ctx context.Context, cfg RESTConfig) (*RESTProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("identity API key is required")
	}

	p := &RESTProvider{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(orDefault(cfg.BaseURL, DefaultBaseURL), "/"),
		tokenURL:   orDefault(cfg.TokenURL, DefaultTokenURL),
		providerID: orDefault(cfg.ProviderID, DefaultProviderID),
		requestURI: orDefault(cfg.RequestURI, DefaultRequestURI),
		client:     cfg.HTTPClient,
		retrier:    cfg.Retrier,
		vault:      cfg.Vault,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 15 * time.Second}
	}
	if p.retrier == nil {
		p.retrier = retry.Default()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "identity.rest")
	if p.now == nil {
		p.now = time.Now
	}

	if p.vault != nil {
		restored, err := p.vault.Load(ctx)
		if err != nil {
			// A session that cannot be restored means signing in again.
			p.logger.Warn("failed to restore session", "error", err)
		} else if restored != nil {
			p.logger.Info("session restored", "user_id", restored.UID, "anonymous", restored.Anonymous)
			p.current = restored
		}
	}

	return p, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

type idpResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	ErrorMessage string `json:"errorMessage"`
}

type tokenResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignInAnonymously implements Provider.
func (p *RESTProvider) SignInAnonymously(ctx context.Context) (*Principal, error) {
	const op = "sign_up"

	var resp idpResponse
	err := p.call(ctx, op, p.endpoint("accounts:signUp"), map[string]any{
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	principal := p.principalFrom(resp, true, "")
	p.commit(ctx, principal)
	return clonePrincipal(principal), nil
}

// SignInWithCredential implements Provider.
func (p *RESTProvider) SignInWithCredential(ctx context.Context, cred Credential) (*Principal, error) {
	return p.signInWithIdp(ctx, "sign_in_with_idp", cred, "")
}

// LinkWithCredential implements Provider.
func (p *RESTProvider) LinkWithCredential(ctx context.Context, cred Credential) (*Principal, error) {
	const op = "link_with_idp"

	cur, err := p.freshPrincipal(ctx, op)
	if err != nil {
		return nil, err
	}
	if !cur.Anonymous {
		return nil, withOp(ErrNotAnonymous, op, nil)
	}

	linked, err := p.signInWithIdp(ctx, op, cred, cur.IDToken)
	if err != nil {
		return nil, err
	}
	if linked.UID != cur.UID {
		p.logger.Warn("link returned a different account", "anonymous_uid", cur.UID, "user_id", linked.UID)
	}
	return linked, nil
}

func (p *RESTProvider) signInWithIdp(ctx context.Context, op string, cred Credential, idToken string) (*Principal, error) {
	if cred.IDToken == "" {
		return nil, withOp(ErrNoIdentityToken, op, nil)
	}
	providerID := orDefault(cred.ProviderID, p.providerID)

	post := url.Values{}
	post.Set("id_token", cred.IDToken)
	post.Set("providerId", providerID)
	if cred.RawNonce != "" {
		post.Set("nonce", cred.RawNonce)
	}

	body := map[string]any{
		"postBody":            post.Encode(),
		"requestUri":          p.requestURI,
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}
	if idToken != "" {
		body["idToken"] = idToken
	}

	var resp idpResponse
	if err := p.call(ctx, op, p.endpoint("accounts:signInWithIdp"), body, &resp); err != nil {
		return nil, err
	}
	if resp.ErrorMessage != "" {
		return nil, classify(op, http.StatusBadRequest, resp.ErrorMessage)
	}

	principal := p.principalFrom(resp, false, orDefault(resp.Email, cred.Email))
	principal.ProviderID = providerID
	p.commit(ctx, principal)
	return clonePrincipal(principal), nil
}

// SignOut implements Provider. It only forgets the local session.
func (p *RESTProvider) SignOut(ctx context.Context) error {
	p.commit(ctx, nil)
	return nil
}

// DeleteAccount implements Provider.
func (p *RESTProvider) DeleteAccount(ctx context.Context) error {
	const op = "delete"

	cur, err := p.freshPrincipal(ctx, op)
	if err != nil {
		return err
	}
	if err := p.call(ctx, op, p.endpoint("accounts:delete"), map[string]any{
		"idToken": cur.IDToken,
	}, nil); err != nil {
		return err
	}

	p.logger.Info("account deleted", "user_id", cur.UID)
	p.commit(ctx, nil)
	return nil
}

// freshPrincipal returns the current principal with an ID token that is
// not about to expire.
func (p *RESTProvider) freshPrincipal(ctx context.Context, op string) (*Principal, error) {
	cur := p.Current()
	if cur == nil {
		return nil, withOp(ErrNoCurrentUser, op, nil)
	}
	if cur.ExpiresAt.IsZero() || p.now().Add(tokenRefreshSkew).Before(cur.ExpiresAt) {
		return cur, nil
	}
	if cur.RefreshToken == "" {
		return nil, withOp(ErrNoCredentials, op, nil)
	}

	var resp tokenResponse
	err := p.call(ctx, "refresh_token", p.tokenURL+"?key="+url.QueryEscape(p.apiKey), map[string]any{
		"grant_type":    "refresh_token",
		"refresh_token": cur.RefreshToken,
	}, &resp)
	if err != nil {
		return nil, err
	}

	cur.IDToken = resp.IDToken
	if resp.RefreshToken != "" {
		cur.RefreshToken = resp.RefreshToken
	}
	cur.ExpiresAt = p.expiry(resp.ExpiresIn)

	// Same principal, new tokens: persist without re-emitting.
	if p.vault != nil {
		if err := p.vault.Save(ctx, cur); err != nil {
			p.logger.Warn("failed to persist refreshed session", "error", err)
		}
	}
	p.mu.Lock()
	if p.current != nil && p.current.UID == cur.UID {
		p.current = clonePrincipal(cur)
	}
	p.mu.Unlock()

	return cur, nil
}

func (p *RESTProvider) principalFrom(resp idpResponse, anonymous bool, email string) *Principal {
	return &Principal{
		UID:          resp.LocalID,
		Anonymous:    anonymous,
		Email:        email,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    p.expiry(resp.ExpiresIn),
	}
}

func (p *RESTProvider) expiry(expiresIn string) time.Time {
	secs, err := strconv.Atoi(expiresIn)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return p.now().Add(time.Duration(secs) * time.Second)
}

// commit persists principal and emits it to listeners.
func (p *RESTProvider) commit(ctx context.Context, principal *Principal) {
	if p.vault != nil {
		if err := p.vault.Save(ctx, principal); err != nil {
			p.logger.Warn("failed to persist session", "error", err)
		}
	}
	p.set(principal)
}

func (p *RESTProvider) endpoint(method string) string {
	return p.baseURL + "/" + method + "?key=" + url.QueryEscape(p.apiKey)
}

// call posts body with the bounded retry policy. Only transient failures
// are retried.
func (p *RESTProvider) call(ctx context.Context, op, endpoint string, body, out any) error {
	return retry.Run(ctx, p.retrier, func(ctx context.Context) error {
		err := p.post(ctx, op, endpoint, body, out)
		if err != nil && KindOf(err) != KindTransient {
			return retry.Permanent(err)
		}
		return err
	})
}

func (p *RESTProvider) post(ctx context.Context, op, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Kind: KindProvider, Op: op, Description: "failed to encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return &Error{Kind: KindProvider, Op: op, Description: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &Error{Kind: KindTransient, Op: op, Description: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Kind: KindTransient, Op: op, Description: "failed to read response", Err: err}
	}

	if resp.StatusCode >= 300 {
		var er errorResponse
		_ = json.Unmarshal(raw, &er)
		msg := er.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		p.logger.Debug("identity request rejected", "op", op, "status", resp.StatusCode, "message", msg)
		return classify(op, resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: KindProvider, Op: op, Description: "failed to decode response", Err: err}
	}
	return nil
}

// classify maps a provider error message like "INVALID_IDP_RESPONSE : ..."
// to an Error.
func classify(op string, status int, message string) *Error {
	code := strings.TrimSpace(strings.SplitN(message, ":", 2)[0])
	cause := fmt.Errorf("%d %s", status, message)

	switch {
	case status >= 500 || status == http.StatusTooManyRequests:
		return &Error{Kind: KindTransient, Op: op, Description: "provider unavailable", Err: cause}
	case code == "FEDERATED_USER_ID_ALREADY_LINKED":
		return withOp(ErrCredentialInUse, op, cause)
	case credentialCodes[code]:
		return &Error{Kind: KindCredential, Op: op, Description: "credential rejected", Err: cause}
	default:
		return &Error{Kind: KindProvider, Op: op, Description: "request rejected", Err: cause}
	}
}
