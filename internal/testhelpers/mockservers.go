package testhelpers

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v80/github"
	"github.com/stretchr/testify/require"
)

// MockGitHubServer is a GitHub API and web server for testing. Listings are
// served from fixed pages of raw JSON records, so tests control exactly
// where page boundaries fall and can compare records byte for byte.
type MockGitHubServer struct {
	Server *httptest.Server

	// InstallationPages are the pages of GET /app/installations.
	InstallationPages [][]string
	// RepositoryPages are the pages of GET /installation/repositories, by
	// installation ID.
	RepositoryPages map[int64][][]string

	// ClientID and ClientSecret are required by the OAuth endpoints.
	ClientID     string
	ClientSecret string

	// TokenStatusCode overrides the status of installation token requests.
	TokenStatusCode int

	mu               sync.Mutex
	requests         []string
	lastTokenRequest url.Values
}

// SetupMockGitHubServer creates the mock server. It is closed when the test
// ends.
func SetupMockGitHubServer(t *testing.T) *MockGitHubServer {
	t.Helper()

	mock := &MockGitHubServer{
		RepositoryPages: map[int64][][]string{},
		ClientID:        "Iv1.client",
		ClientSecret:    "client-secret",
	}

	router := http.NewServeMux()

	router.HandleFunc("POST /app/installations/{installationID}/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		mock.record(r)

		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")

		if mock.TokenStatusCode != 0 {
			w.WriteHeader(mock.TokenStatusCode)
			WriteJSON(w, map[string]string{"message": "Bad credentials"})
			return
		}

		id, err := strconv.ParseInt(r.PathValue("installationID"), 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.WriteHeader(http.StatusCreated)
		WriteJSON(w, &github.InstallationToken{
			Token:     github.Ptr(InstallationToken(id)),
			ExpiresAt: &github.Timestamp{Time: time.Now().Add(time.Hour)},
		})
	})

	router.HandleFunc("GET /app/installations", func(w http.ResponseWriter, r *http.Request) {
		mock.record(r)

		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		page := mock.page(w, r, mock.InstallationPages)
		writeRaw(w, "["+strings.Join(page, ",")+"]")
	})

	router.HandleFunc("GET /installation/repositories", func(w http.ResponseWriter, r *http.Request) {
		mock.record(r)

		id, ok := installationFromToken(r.Header.Get("Authorization"))
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		pages := mock.RepositoryPages[id]
		page := mock.page(w, r, pages)

		total := 0
		for _, p := range pages {
			total += len(p)
		}
		writeRaw(w, fmt.Sprintf(`{"total_count":%d,"repositories":[%s]}`, total, strings.Join(page, ",")))
	})

	mock.oauthRoutes(router)

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)

	return mock
}

// URL returns the base URL of the server.
func (m *MockGitHubServer) URL() string {
	return m.Server.URL
}

// Close shuts down the mock server.
func (m *MockGitHubServer) Close() {
	m.Server.Close()
}

// Requests returns every request received, as "METHOD /path?query".
func (m *MockGitHubServer) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.requests...)
}

// RequestCount returns the number of requests received whose path starts
// with prefix.
func (m *MockGitHubServer) RequestCount(method, prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, r := range m.requests {
		if strings.HasPrefix(r, method+" "+prefix) {
			n++
		}
	}
	return n
}

// InstallationToken is the token issued to an installation.
func InstallationToken(installationID int64) string {
	return fmt.Sprintf("ghs_installation_%d", installationID)
}

// Installation returns a raw installation record.
func Installation(id int64, account string) string {
	return fmt.Sprintf(`{"id":%d,"account":{"login":%q,"type":"Organization"},"app_id":1,"target_type":"Organization","permissions":{"contents":"read"}}`, id, account)
}

// Repository returns a raw repository record.
func Repository(id int64, fullName string) string {
	return fmt.Sprintf(`{"id":%d,"name":%q,"full_name":%q,"private":true,"topics":[],"x_unknown_field":{"kept":true}}`,
		id, fullName[strings.Index(fullName, "/")+1:], fullName)
}

func (m *MockGitHubServer) record(r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := r.Method + " " + r.URL.Path
	if r.URL.RawQuery != "" {
		entry += "?" + r.URL.RawQuery
	}
	m.requests = append(m.requests, entry)
}

// page selects the requested page and writes the Link header pointing at
// the next one. Pages past the end are empty.
func (m *MockGitHubServer) page(w http.ResponseWriter, r *http.Request, pages [][]string) []string {
	n := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			n = v
		}
	}

	if n < len(pages) {
		next := *r.URL
		q := next.Query()
		q.Set("page", strconv.Itoa(n+1))
		next.RawQuery = q.Encode()
		w.Header().Set("Link", fmt.Sprintf(`<%s%s>; rel="next", <%s%s?page=%d>; rel="last"`,
			m.Server.URL, next.RequestURI(), m.Server.URL, r.URL.Path, len(pages)))
	}

	if n > len(pages) {
		return nil
	}
	return pages[n-1]
}

func installationFromToken(header string) (int64, bool) {
	token, ok := strings.CutPrefix(header, "token ")
	if !ok {
		return 0, false
	}
	id, ok := strings.CutPrefix(token, "ghs_installation_")
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(id, 10, 64)
	return v, err == nil
}

// GenerateKey returns a new PEM encoded RSA private key.
func GenerateKey(t *testing.T) string {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privateKeyPEM := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}

	return string(pem.EncodeToMemory(privateKeyPEM))
}

func writeRaw(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

// WriteJSON writes a JSON response to the http.ResponseWriter.
// It sets the Content-Type header and marshals the payload.
// If marshaling fails, it returns a 500 error (should not happen with valid test data).
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
