package oauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v80/github"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Authentication describes a user token issued to the app.
type Authentication struct {
	Type       string `json:"type"`
	TokenType  string `json:"tokenType"`
	ClientType string `json:"clientType"`
	ClientID   string `json:"clientId"`

	Token  string   `json:"token"`
	Scopes []string `json:"scopes"`

	// Expiring tokens are only issued when the app has token expiration
	// enabled.
	ExpiresAt             *time.Time `json:"expiresAt,omitempty"`
	RefreshToken          string     `json:"refreshToken,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refreshTokenExpiresAt,omitempty"`

	// User is only known for tokens returned by CheckToken and ResetToken.
	User *github.User `json:"user,omitempty"`
}

// AuthorizationURLOptions customise a single web flow. Empty values fall
// back to the App configuration.
type AuthorizationURLOptions struct {
	RedirectURL string
	Scopes      []string
	// Login suggests the account to sign in with.
	Login       string
	AllowSignup *bool
}

// AuthorizationURL starts a web flow, returning the URL the user must be
// sent to and the state that GitHub will return to the callback. The state
// is stored, and can be redeemed once by CreateToken.
func (a *App) AuthorizationURL(ctx context.Context, opts AuthorizationURLOptions) (authURL string, state string, err error) {
	conf := *a.oauth
	if opts.RedirectURL != "" {
		conf.RedirectURL = opts.RedirectURL
	}
	if len(opts.Scopes) > 0 {
		conf.Scopes = opts.Scopes
	}

	state = uuid.NewString()

	err = a.states.Set(ctx, state, AuthorizationState{
		RedirectURL: conf.RedirectURL,
		Scopes:      conf.Scopes,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return "", "", fmt.Errorf("could not store authorization state: %w", err)
	}

	var params []oauth2.AuthCodeOption

	allowSignup := a.allowSignup
	if opts.AllowSignup != nil {
		allowSignup = opts.AllowSignup
	}
	if allowSignup != nil {
		params = append(params, oauth2.SetAuthURLParam("allow_signup", strconv.FormatBool(*allowSignup)))
	}
	if opts.Login != "" {
		params = append(params, oauth2.SetAuthURLParam("login", opts.Login))
	}

	return conf.AuthCodeURL(state, params...), state, nil
}

// CreateTokenOptions complete a web flow.
type CreateTokenOptions struct {
	Code string
	// State is verified against the states issued by AuthorizationURL. An
	// empty state skips the check, for flows started by another party.
	State       string
	RedirectURL string
}

// CreateToken exchanges the code of a web flow callback for a user token.
func (a *App) CreateToken(ctx context.Context, opts CreateTokenOptions) (*Authentication, error) {
	if opts.Code == "" {
		return nil, ErrMissingCode
	}

	conf := *a.oauth
	if opts.RedirectURL != "" {
		conf.RedirectURL = opts.RedirectURL
	}

	if opts.State != "" {
		state, found, err := a.states.Take(ctx, opts.State)
		if err != nil {
			return nil, fmt.Errorf("could not read authorization state: %w", err)
		}
		if !found {
			return nil, ErrInvalidState
		}
		if opts.RedirectURL == "" && state.RedirectURL != "" {
			conf.RedirectURL = state.RedirectURL
		}
	}

	tok, err := conf.Exchange(a.exchangeContext(ctx), opts.Code)
	if err != nil {
		return nil, err
	}

	auth := a.authentication(tok)
	if err := a.emit(ctx, EventTokenCreated, auth); err != nil {
		return nil, err
	}

	return auth, nil
}

// CreateDeviceCode starts a device flow. The user enters the returned
// UserCode at VerificationURI while the caller polls with PollDeviceToken.
func (a *App) CreateDeviceCode(ctx context.Context, scopes ...string) (*oauth2.DeviceAuthResponse, error) {
	conf := *a.oauth
	if len(scopes) > 0 {
		conf.Scopes = scopes
	}

	return conf.DeviceAuth(a.exchangeContext(ctx))
}

// PollDeviceToken waits for the user to complete a device flow, polling at
// the interval GitHub requests. It returns when the token is issued, the
// flow fails or ctx is done.
func (a *App) PollDeviceToken(ctx context.Context, device *oauth2.DeviceAuthResponse) (*Authentication, error) {
	tok, err := a.oauth.DeviceAccessToken(a.exchangeContext(ctx), device)
	if err != nil {
		return nil, err
	}

	auth := a.authentication(tok)
	if err := a.emit(ctx, EventTokenCreated, auth); err != nil {
		return nil, err
	}

	return auth, nil
}

// CheckToken validates a user token, returning its details.
func (a *App) CheckToken(ctx context.Context, token string) (*Authentication, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	authz, _, err := a.api.Authorizations.Check(ctx, a.clientID, token)
	if err != nil {
		return nil, err
	}

	return a.fromAuthorization(authz), nil
}

// ResetToken invalidates a user token and issues a replacement.
func (a *App) ResetToken(ctx context.Context, token string) (*Authentication, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	authz, _, err := a.api.Authorizations.Reset(ctx, a.clientID, token)
	if err != nil {
		return nil, err
	}

	auth := a.fromAuthorization(authz)
	if err := a.emit(ctx, EventTokenReset, auth); err != nil {
		return nil, err
	}

	return auth, nil
}

// RefreshToken exchanges a refresh token for a new user token. Only
// expiring tokens have a refresh token.
func (a *App) RefreshToken(ctx context.Context, refreshToken string) (*Authentication, error) {
	if refreshToken == "" {
		return nil, ErrMissingRefreshToken
	}

	tok, err := a.oauth.TokenSource(a.exchangeContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, err
	}

	auth := a.authentication(tok)
	if err := a.emit(ctx, EventTokenRefreshed, auth); err != nil {
		return nil, err
	}

	return auth, nil
}

// DeleteToken revokes a user token.
func (a *App) DeleteToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrMissingToken
	}

	if _, err := a.api.Authorizations.Revoke(ctx, a.clientID, token); err != nil {
		return err
	}

	return a.emit(ctx, EventTokenDeleted, a.tokenOnly(token))
}

// DeleteAuthorization revokes the user's grant of the app, along with every
// token issued under it.
func (a *App) DeleteAuthorization(ctx context.Context, token string) error {
	if token == "" {
		return ErrMissingToken
	}

	if _, err := a.api.Authorizations.DeleteGrant(ctx, a.clientID, token); err != nil {
		return err
	}

	auth := a.tokenOnly(token)
	return errors.Join(
		a.emit(ctx, EventTokenDeleted, auth),
		a.emit(ctx, EventAuthorizationDeleted, auth),
	)
}

func (a *App) authentication(tok *oauth2.Token) *Authentication {
	auth := a.tokenOnly(tok.AccessToken)
	auth.RefreshToken = tok.RefreshToken
	auth.Scopes = splitScopes(tok.Extra("scope"))

	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		auth.ExpiresAt = &expiry
	}

	if secs, ok := seconds(tok.Extra("refresh_token_expires_in")); ok {
		expiry := time.Now().Add(time.Duration(secs) * time.Second)
		auth.RefreshTokenExpiresAt = &expiry
	}

	return auth
}

func (a *App) fromAuthorization(authz *github.Authorization) *Authentication {
	auth := a.tokenOnly(authz.GetToken())
	auth.User = authz.User
	for _, s := range authz.Scopes {
		auth.Scopes = append(auth.Scopes, string(s))
	}
	return auth
}

func (a *App) tokenOnly(token string) *Authentication {
	return &Authentication{
		Type:       "token",
		TokenType:  "oauth",
		ClientType: "github-app",
		ClientID:   a.clientID,
		Token:      token,
		Scopes:     []string{},
	}
}

// splitScopes reads the scope value of a token response. GitHub Apps
// receive an empty value: permissions come from the app installation.
func splitScopes(v any) []string {
	s, _ := v.(string)

	scopes := []string{}
	for _, scope := range strings.Split(s, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			scopes = append(scopes, scope)
		}
	}
	return scopes
}

// seconds reads a numeric value of a token response, which is a string
// when the response is form encoded.
func seconds(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), n > 0
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil && i > 0
	default:
		return 0, false
	}
}
