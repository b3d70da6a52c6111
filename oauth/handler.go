package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/chinmina/ghapp/internal/respond"
	"github.com/google/go-github/v80/github"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// maxBodySize caps the JSON bodies accepted by the token routes.
const maxBodySize = 64 * 1024

var errInvalidBody = errors.New("oauth: request body must be a JSON object")

type tokenResponse struct {
	Authentication *Authentication `json:"authentication"`
}

type createTokenRequest struct {
	Code        string `json:"code"`
	State       string `json:"state"`
	RedirectURL string `json:"redirectUrl"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Handler serves the OAuth routes under the path prefix:
//
//	GET    {prefix}/login
//	GET    {prefix}/callback
//	POST   {prefix}/token
//	GET    {prefix}/token
//	PATCH  {prefix}/token
//	PATCH  {prefix}/refresh-token
//	DELETE {prefix}/token
//	DELETE {prefix}/grant
//
// Requests that match no route, including a known path with another method,
// are passed to unhandled. A nil unhandled answers them with a 404.
func (a *App) Handler(unhandled http.Handler) http.Handler {
	if unhandled == nil {
		unhandled = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respond.Error(w, http.StatusNotFound, "unknown route: "+r.Method+" "+r.URL.Path)
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+a.prefix+"/login", a.handleLogin)
	mux.HandleFunc("GET "+a.prefix+"/callback", a.handleCallback)
	mux.HandleFunc("POST "+a.prefix+"/token", a.handleCreateToken)
	mux.HandleFunc("GET "+a.prefix+"/token", a.handleCheckToken)
	mux.HandleFunc("PATCH "+a.prefix+"/token", a.handleResetToken)
	mux.HandleFunc("PATCH "+a.prefix+"/refresh-token", a.handleRefreshToken)
	mux.HandleFunc("DELETE "+a.prefix+"/token", a.handleDeleteToken)
	mux.HandleFunc("DELETE "+a.prefix+"/grant", a.handleDeleteGrant)
	mux.Handle("/", unhandled)

	return mux
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	defer respond.DrainRequestBody(r)

	q := r.URL.Query()
	opts := AuthorizationURLOptions{
		RedirectURL: q.Get("redirectUrl"),
		Login:       q.Get("login"),
	}
	if scopes := q.Get("scopes"); scopes != "" {
		opts.Scopes = splitScopes(scopes)
	}
	if signup := q.Get("allowSignup"); signup != "" {
		allow, err := strconv.ParseBool(signup)
		if err != nil {
			respond.Error(w, http.StatusBadRequest, "allowSignup must be true or false")
			return
		}
		opts.AllowSignup = &allow
	}

	authURL, _, err := a.AuthorizationURL(r.Context(), opts)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	defer respond.DrainRequestBody(r)

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		message := fmt.Sprintf("authorization failed: %s", e)
		if d := q.Get("error_description"); d != "" {
			message += ": " + d
		}
		respond.Error(w, http.StatusBadRequest, message)
		return
	}

	auth, err := a.CreateToken(r.Context(), CreateTokenOptions{
		Code:  q.Get("code"),
		State: q.Get("state"),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err = fmt.Fprintf(w,
		"<h1>Token created successfully</h1>\n\n<p>Your token is: <strong>%s</strong>. Copy it now as it cannot be shown again.</p>\n",
		html.EscapeString(auth.Token),
	)
	if err != nil {
		log.Info().Msgf("failed to write response: %v", err)
	}
}

func (a *App) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	defer respond.DrainRequestBody(r)

	var body createTokenRequest
	if err := readJSON(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}

	auth, err := a.CreateToken(r.Context(), CreateTokenOptions(body))
	if err != nil {
		a.fail(w, r, err)
		return
	}

	respond.JSON(w, http.StatusCreated, tokenResponse{Authentication: auth})
}

func (a *App) handleCheckToken(w http.ResponseWriter, r *http.Request) {
	defer respond.DrainRequestBody(r)

	auth, err := a.CheckToken(r.Context(), bearerToken(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, tokenResponse{Authentication: auth})
}

func (a *App) handleResetToken(w http.ResponseWriter, r *http.Request) {
	defer respond.DrainRequestBody(r)

	auth, err := a.ResetToken(r.Context(), bearerToken(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, tokenResponse{Authentication: auth})
}

func (a *App) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	defer respond.DrainRequestBody(r)

	var body refreshTokenRequest
	if err := readJSON(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}

	auth, err := a.RefreshToken(r.Context(), body.RefreshToken)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, tokenResponse{Authentication: auth})
}

func (a *App) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	defer respond.DrainRequestBody(r)

	if err := a.DeleteToken(r.Context(), bearerToken(r)); err != nil {
		a.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleDeleteGrant(w http.ResponseWriter, r *http.Request) {
	defer respond.DrainRequestBody(r)

	if err := a.DeleteAuthorization(r.Context(), bearerToken(r)); err != nil {
		a.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorStatus(err)

	event := log.Info()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("oauth request failed")

	respond.Error(w, status, message)
}

// errorStatus maps the errors of the OAuth operations to a response. Client
// errors are reported as is; GitHub API errors keep their status.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMissingCode),
		errors.Is(err, ErrMissingToken),
		errors.Is(err, ErrMissingRefreshToken),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, errInvalidBody):
		return http.StatusBadRequest, err.Error()
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode, ghErr.Message
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		message := retrieveErr.ErrorCode
		if retrieveErr.ErrorDescription != "" {
			message = retrieveErr.ErrorDescription
		}
		if message == "" {
			message = "token exchange failed"
		}
		return http.StatusBadRequest, message
	}

	return respond.ErrorStatus(err)
}

// bearerToken reads the user token from the Authorization header, accepting
// both the "token" and "bearer" schemes.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok {
		return ""
	}
	switch strings.ToLower(scheme) {
	case "token", "bearer":
		return strings.TrimSpace(token)
	default:
		return ""
	}
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errInvalidBody, err)
	}
	return nil
}
