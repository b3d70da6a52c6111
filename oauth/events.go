package oauth

import (
	"context"
	"errors"
)

// Token lifecycle events.
const (
	EventTokenCreated         = "token.created"
	EventTokenReset           = "token.reset"
	EventTokenRefreshed       = "token.refreshed"
	EventTokenDeleted         = "token.deleted"
	EventAuthorizationDeleted = "authorization.deleted"
)

var (
	ErrMissingCode         = errors.New("oauth: code is required")
	ErrMissingToken        = errors.New("oauth: token is required")
	ErrMissingRefreshToken = errors.New("oauth: refresh token is required")
)

// TokenEvent is passed to token hooks.
type TokenEvent struct {
	Name           string
	Authentication *Authentication
}

// TokenHandlerFunc is called after a token operation succeeds. An error
// fails the operation that triggered it, although the token change has
// already been made.
type TokenHandlerFunc func(ctx context.Context, event TokenEvent) error

// OnToken registers fn for the named token events.
func (a *App) OnToken(fn TokenHandlerFunc, names ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, name := range names {
		a.hooks[name] = append(a.hooks[name], fn)
	}
}

func (a *App) emit(ctx context.Context, name string, auth *Authentication) error {
	a.mu.RLock()
	hooks := a.hooks[name]
	a.mu.RUnlock()

	var errs []error
	for _, fn := range hooks {
		if err := fn(ctx, TokenEvent{Name: name, Authentication: auth}); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
