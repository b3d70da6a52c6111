package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/url"
)

const (
	// ValidUserToken is accepted by the application token endpoints.
	ValidUserToken = "ghu_valid"
	// BadCode is rejected by the token endpoint.
	BadCode = "bad_code"
)

// oauthRoutes serves the web endpoints of the OAuth flows and the
// client-authenticated application endpoints of the API.
func (m *MockGitHubServer) oauthRoutes(router *http.ServeMux) {
	router.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		m.record(r)

		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.setLastTokenRequest(r.PostForm)

		if !m.clientAuthenticated(r) {
			WriteJSON(w, map[string]string{"error": "incorrect_client_credentials"})
			return
		}

		switch r.PostForm.Get("grant_type") {
		case "authorization_code", "":
			code := r.PostForm.Get("code")
			if code == BadCode {
				WriteJSON(w, map[string]string{
					"error":             "bad_verification_code",
					"error_description": "The code passed is incorrect or expired.",
				})
				return
			}
			writeUserToken(w, "ghu_"+code, "ghr_"+code)

		case "refresh_token":
			writeUserToken(w, "ghu_refreshed", "ghr_refreshed")

		case "urn:ietf:params:oauth:grant-type:device_code":
			writeUserToken(w, "ghu_device_"+r.PostForm.Get("device_code"), "")

		default:
			WriteJSON(w, map[string]string{"error": "unsupported_grant_type"})
		}
	})

	router.HandleFunc("POST /login/device/code", func(w http.ResponseWriter, r *http.Request) {
		m.record(r)

		WriteJSON(w, map[string]any{
			"device_code":      "device123",
			"user_code":        "WDJB-MJHT",
			"verification_uri": m.Server.URL + "/login/device",
			"expires_in":       900,
			"interval":         1,
		})
	})

	router.HandleFunc("/applications/{clientID}/{resource}", func(w http.ResponseWriter, r *http.Request) {
		m.record(r)

		user, pass, ok := r.BasicAuth()
		if !ok || user != m.ClientID || pass != m.ClientSecret || r.PathValue("clientID") != m.ClientID {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			WriteJSON(w, map[string]string{"message": "Bad credentials"})
			return
		}

		var body struct {
			AccessToken string `json:"access_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		if body.AccessToken != ValidUserToken {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			WriteJSON(w, map[string]string{"message": "Not Found"})
			return
		}

		switch r.PathValue("resource") + " " + r.Method {
		case "token POST":
			WriteJSON(w, authorization(ValidUserToken))
		case "token PATCH":
			WriteJSON(w, authorization("ghu_reset"))
		case "token DELETE", "grant DELETE":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// LastTokenRequest returns the form of the last token endpoint request.
func (m *MockGitHubServer) LastTokenRequest() url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastTokenRequest
}

func (m *MockGitHubServer) setLastTokenRequest(form url.Values) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastTokenRequest = form
}

func (m *MockGitHubServer) clientAuthenticated(r *http.Request) bool {
	if user, pass, ok := r.BasicAuth(); ok {
		return user == m.ClientID && pass == m.ClientSecret
	}
	return r.PostForm.Get("client_id") == m.ClientID && r.PostForm.Get("client_secret") == m.ClientSecret
}

func writeUserToken(w http.ResponseWriter, token, refresh string) {
	body := map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"scope":        "",
	}
	if refresh != "" {
		body["refresh_token"] = refresh
		body["expires_in"] = 28800
		body["refresh_token_expires_in"] = 15897600
	}
	WriteJSON(w, body)
}

func authorization(token string) map[string]any {
	return map[string]any{
		"id":     1,
		"token":  token,
		"scopes": []string{},
		"user": map[string]any{
			"login": "octocat",
			"id":    1,
		},
		"app": map[string]any{
			"client_id": "Iv1.client",
			"name":      "test app",
		},
	}
}
