package oauth_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chinmina/ghapp/internal/cache"
	"github.com/chinmina/ghapp/internal/testhelpers"
	"github.com/chinmina/ghapp/oauth"
	"github.com/google/go-github/v80/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newApp(t *testing.T, mock *testhelpers.MockGitHubServer, mutate ...func(*oauth.Config)) *oauth.App {
	t.Helper()

	cfg := oauth.Config{
		ClientID:     mock.ClientID,
		ClientSecret: mock.ClientSecret,
		RedirectURL:  "https://app.example.com/callback",
		WebURL:       mock.URL(),
		APIURL:       mock.URL(),
	}
	for _, m := range mutate {
		m(&cfg)
	}

	app, err := oauth.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	return app
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := oauth.New(oauth.Config{ClientID: "Iv1.client"})
	assert.ErrorIs(t, err, oauth.ErrMissingCredentials)

	_, err = oauth.New(oauth.Config{ClientSecret: "secret"})
	assert.ErrorIs(t, err, oauth.ErrMissingCredentials)
}

func TestNew_Accessors(t *testing.T) {
	allow := false
	app, err := oauth.New(oauth.Config{
		ClientID:     "Iv1.client",
		ClientSecret: "secret",
		AllowSignup:  &allow,
		PathPrefix:   "/custom/",
	})
	require.NoError(t, err)

	assert.Equal(t, "Iv1.client", app.ClientID())
	assert.Equal(t, "secret", app.ClientSecret())
	require.NotNil(t, app.AllowSignup())
	assert.False(t, *app.AllowSignup())
	assert.Equal(t, "/custom", app.PathPrefix())
}

func TestNew_DefaultPathPrefix(t *testing.T) {
	app, err := oauth.New(oauth.Config{ClientID: "Iv1.client", ClientSecret: "secret"})
	require.NoError(t, err)

	assert.Equal(t, oauth.DefaultPathPrefix, app.PathPrefix())
	assert.Nil(t, app.AllowSignup())
}

func TestAuthorizationURL(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock, func(c *oauth.Config) {
		c.DefaultScopes = []string{"repo"}
	})

	allow := true
	authURL, state, err := app.AuthorizationURL(context.Background(), oauth.AuthorizationURLOptions{
		Login:       "octocat",
		AllowSignup: &allow,
	})
	require.NoError(t, err)
	require.NotEmpty(t, state)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "/login/oauth/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, mock.ClientID, q.Get("client_id"))
	assert.Equal(t, state, q.Get("state"))
	assert.Equal(t, "https://app.example.com/callback", q.Get("redirect_uri"))
	assert.Equal(t, "repo", q.Get("scope"))
	assert.Equal(t, "true", q.Get("allow_signup"))
	assert.Equal(t, "octocat", q.Get("login"))
}

func TestAuthorizationURL_Overrides(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)

	authURL, _, err := app.AuthorizationURL(context.Background(), oauth.AuthorizationURLOptions{
		RedirectURL: "https://other.example.com/cb",
		Scopes:      []string{"read:user", "repo"},
	})
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "https://other.example.com/cb", q.Get("redirect_uri"))
	assert.Equal(t, "read:user repo", q.Get("scope"))
	assert.False(t, q.Has("allow_signup"), "allow_signup is only sent when configured")
	assert.False(t, q.Has("login"))
}

func TestAuthorizationURL_StoresState(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)

	states, err := cache.NewMemory[oauth.AuthorizationState](time.Minute, 10)
	require.NoError(t, err)

	app := newApp(t, mock, func(c *oauth.Config) { c.States = states })

	_, state, err := app.AuthorizationURL(context.Background(), oauth.AuthorizationURLOptions{
		RedirectURL: "https://other.example.com/cb",
	})
	require.NoError(t, err)

	stored, found, err := states.Get(context.Background(), state)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "https://other.example.com/cb", stored.RedirectURL)
	assert.WithinDuration(t, time.Now(), stored.CreatedAt, time.Minute)
}

func TestAuthorizationURL_StoreFailure(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock, func(c *oauth.Config) { c.States = failingStore{} })

	_, _, err := app.AuthorizationURL(context.Background(), oauth.AuthorizationURLOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestCreateToken_ConcurrentCallbacksRedeemStateOnce(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)

	_, state, err := app.AuthorizationURL(context.Background(), oauth.AuthorizationURLOptions{})
	require.NoError(t, err)

	const callbacks = 16

	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	for range callbacks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := app.CreateToken(context.Background(), oauth.CreateTokenOptions{Code: "abc", State: state})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, oauth.ErrInvalidState):
				rejected.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(callbacks-1), rejected.Load())
	assert.Equal(t, 1, mock.RequestCount(http.MethodPost, "/login/oauth/access_token"))
}

func TestCreateToken(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)

	_, state, err := app.AuthorizationURL(context.Background(), oauth.AuthorizationURLOptions{
		RedirectURL: "https://other.example.com/cb",
	})
	require.NoError(t, err)

	auth, err := app.CreateToken(context.Background(), oauth.CreateTokenOptions{
		Code:  "abc",
		State: state,
	})
	require.NoError(t, err)

	assert.Equal(t, "token", auth.Type)
	assert.Equal(t, "oauth", auth.TokenType)
	assert.Equal(t, "github-app", auth.ClientType)
	assert.Equal(t, mock.ClientID, auth.ClientID)
	assert.Equal(t, "ghu_abc", auth.Token)
	assert.Equal(t, "ghr_abc", auth.RefreshToken)
	assert.Equal(t, []string{}, auth.Scopes)
	require.NotNil(t, auth.ExpiresAt)
	require.NotNil(t, auth.RefreshTokenExpiresAt)
	assert.True(t, auth.RefreshTokenExpiresAt.After(*auth.ExpiresAt))

	form := mock.LastTokenRequest()
	assert.Equal(t, "abc", form.Get("code"))
	assert.Equal(t, "https://other.example.com/cb", form.Get("redirect_uri"), "redirect of the flow is used")
	assert.Equal(t, mock.ClientSecret, form.Get("client_secret"))
}

func TestCreateToken_StateIsSingleUse(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)

	_, state, err := app.AuthorizationURL(context.Background(), oauth.AuthorizationURLOptions{})
	require.NoError(t, err)

	_, err = app.CreateToken(context.Background(), oauth.CreateTokenOptions{Code: "abc", State: state})
	require.NoError(t, err)

	_, err = app.CreateToken(context.Background(), oauth.CreateTokenOptions{Code: "abc", State: state})
	assert.ErrorIs(t, err, oauth.ErrInvalidState)
}

func TestCreateToken_UnknownState(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)

	_, err := app.CreateToken(context.Background(), oauth.CreateTokenOptions{Code: "abc", State: "forged"})

	assert.ErrorIs(t, err, oauth.ErrInvalidState)
	assert.Equal(t, 0, mock.RequestCount("POST", "/login/oauth/access_token"))
}

func TestCreateToken_WithoutState(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)

	auth, err := app.CreateToken(context.Background(), oauth.CreateTokenOptions{Code: "xyz"})
	require.NoError(t, err)

	assert.Equal(t, "ghu_xyz", auth.Token)
	assert.Equal(t, "https://app.example.com/callback", mock.LastTokenRequest().Get("redirect_uri"))
}

func TestCreateToken_MissingCode(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)

	_, err := app.CreateToken(context.Background(), oauth.CreateTokenOptions{})

	assert.ErrorIs(t, err, oauth.ErrMissingCode)
}

func TestCreateToken_BadCode(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)

	_, err := app.CreateToken(context.Background(), oauth.CreateTokenOptions{Code: testhelpers.BadCode})

	var retrieveErr *oauth2.RetrieveError
	require.ErrorAs(t, err, &retrieveErr)
	assert.Equal(t, "bad_verification_code", retrieveErr.ErrorCode)
}

func TestDeviceFlow(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)

	device, err := app.CreateDeviceCode(context.Background(), "repo")
	require.NoError(t, err)

	assert.Equal(t, "device123", device.DeviceCode)
	assert.Equal(t, "WDJB-MJHT", device.UserCode)
	assert.Equal(t, mock.URL()+"/login/device", device.VerificationURI)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	auth, err := app.PollDeviceToken(ctx, device)
	require.NoError(t, err)

	assert.Equal(t, "ghu_device_device123", auth.Token)
	assert.Empty(t, auth.RefreshToken)
	assert.Nil(t, auth.ExpiresAt)
}

func TestCheckToken(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)

	auth, err := app.CheckToken(context.Background(), testhelpers.ValidUserToken)
	require.NoError(t, err)

	assert.Equal(t, testhelpers.ValidUserToken, auth.Token)
	require.NotNil(t, auth.User)
	assert.Equal(t, "octocat", auth.User.GetLogin())
	assert.Equal(t, []string{"POST /applications/Iv1.client/token"}, mock.Requests())
}

func TestCheckToken_Unknown(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)

	_, err := app.CheckToken(context.Background(), "ghu_unknown")

	var ghErr *github.ErrorResponse
	require.ErrorAs(t, err, &ghErr)
	assert.Equal(t, 404, ghErr.Response.StatusCode)
}

func TestCheckToken_BadCredentials(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock, func(c *oauth.Config) { c.ClientSecret = "wrong" })

	_, err := app.CheckToken(context.Background(), testhelpers.ValidUserToken)

	var ghErr *github.ErrorResponse
	require.ErrorAs(t, err, &ghErr)
	assert.Equal(t, 401, ghErr.Response.StatusCode)
}

func TestTokenOperations_RequireToken(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)
	ctx := context.Background()

	_, err := app.CheckToken(ctx, "")
	assert.ErrorIs(t, err, oauth.ErrMissingToken)

	_, err = app.ResetToken(ctx, "")
	assert.ErrorIs(t, err, oauth.ErrMissingToken)

	_, err = app.RefreshToken(ctx, "")
	assert.ErrorIs(t, err, oauth.ErrMissingRefreshToken)

	assert.ErrorIs(t, app.DeleteToken(ctx, ""), oauth.ErrMissingToken)
	assert.ErrorIs(t, app.DeleteAuthorization(ctx, ""), oauth.ErrMissingToken)

	assert.Empty(t, mock.Requests())
}

func TestResetToken(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)

	auth, err := app.ResetToken(context.Background(), testhelpers.ValidUserToken)
	require.NoError(t, err)

	assert.Equal(t, "ghu_reset", auth.Token)
	assert.Equal(t, "octocat", auth.User.GetLogin())
}

func TestRefreshToken(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)

	auth, err := app.RefreshToken(context.Background(), "ghr_abc")
	require.NoError(t, err)

	assert.Equal(t, "ghu_refreshed", auth.Token)
	assert.Equal(t, "ghr_refreshed", auth.RefreshToken)

	form := mock.LastTokenRequest()
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "ghr_abc", form.Get("refresh_token"))
}

func TestDeleteToken(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)

	err := app.DeleteToken(context.Background(), testhelpers.ValidUserToken)
	require.NoError(t, err)

	assert.Equal(t, []string{"DELETE /applications/Iv1.client/token"}, mock.Requests())
}

func TestDeleteAuthorization(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)

	err := app.DeleteAuthorization(context.Background(), testhelpers.ValidUserToken)
	require.NoError(t, err)

	assert.Equal(t, []string{"DELETE /applications/Iv1.client/grant"}, mock.Requests())
}

func TestOnToken(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)
	ctx := context.Background()

	var events []string
	app.OnToken(func(ctx context.Context, e oauth.TokenEvent) error {
		events = append(events, e.Name+":"+e.Authentication.Token)
		return nil
	},
		oauth.EventTokenCreated,
		oauth.EventTokenReset,
		oauth.EventTokenRefreshed,
		oauth.EventTokenDeleted,
		oauth.EventAuthorizationDeleted,
	)

	_, err := app.CreateToken(ctx, oauth.CreateTokenOptions{Code: "abc"})
	require.NoError(t, err)
	_, err = app.ResetToken(ctx, testhelpers.ValidUserToken)
	require.NoError(t, err)
	_, err = app.RefreshToken(ctx, "ghr_abc")
	require.NoError(t, err)
	require.NoError(t, app.DeleteToken(ctx, testhelpers.ValidUserToken))
	require.NoError(t, app.DeleteAuthorization(ctx, testhelpers.ValidUserToken))

	_, err = app.CheckToken(ctx, testhelpers.ValidUserToken)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"token.created:ghu_abc",
		"token.reset:ghu_reset",
		"token.refreshed:ghu_refreshed",
		"token.deleted:ghu_valid",
		"token.deleted:ghu_valid",
		"authorization.deleted:ghu_valid",
	}, events)
}

func TestOnToken_HookFailure(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newApp(t, mock)

	first := errors.New("first")
	second := errors.New("second")
	app.OnToken(func(context.Context, oauth.TokenEvent) error { return first }, oauth.EventTokenCreated)
	app.OnToken(func(context.Context, oauth.TokenEvent) error { return second }, oauth.EventTokenCreated)

	auth, err := app.CreateToken(context.Background(), oauth.CreateTokenOptions{Code: "abc"})

	assert.Nil(t, auth)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (oauth.AuthorizationState, bool, error) {
	return oauth.AuthorizationState{}, false, assert.AnError
}

func (failingStore) Set(context.Context, string, oauth.AuthorizationState) error {
	return assert.AnError
}

func (failingStore) Invalidate(context.Context, string) error {
	return assert.AnError
}

func (failingStore) Take(context.Context, string) (oauth.AuthorizationState, bool, error) {
	return oauth.AuthorizationState{}, false, assert.AnError
}

func (failingStore) Close() error {
	return nil
}
