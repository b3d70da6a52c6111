package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalEnv() map[string]string {
	return map[string]string{
		"GITHUB_APP_ID":          "123",
		"GITHUB_APP_PRIVATE_KEY": "test-key",
	}
}

func loadMap(t *testing.T, env map[string]string) (Config, error) {
	t.Helper()
	return load(context.Background(), envconfig.MapLookuper(env))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadMap(t, minimalEnv())
	require.NoError(t, err)

	assert.Equal(t, int64(123), cfg.Github.ApplicationID)
	assert.Equal(t, "", cfg.Github.APIURL)
	assert.Equal(t, 0, cfg.Github.PerPage)

	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, 10*time.Minute, cfg.Cache.StateTTL)
	assert.Equal(t, 10_000, cfg.Cache.MaxMemoryEntries)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Server.ShutdownTimeoutSeconds)
	assert.Equal(t, "ghapp", cfg.Observe.ServiceName)

	assert.False(t, cfg.Webhooks.Enabled())
	assert.False(t, cfg.OAuth.Enabled())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("GITHUB_APP_ID", "123")
	t.Setenv("GITHUB_APP_PRIVATE_KEY", "test-key")
	t.Setenv("GITHUB_WEBHOOK_SECRET", "secret")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.True(t, cfg.Webhooks.Enabled())
	assert.Equal(t, "secret", cfg.Webhooks.Secret)
}

func TestLoad_AppIDRequired(t *testing.T) {
	env := minimalEnv()
	delete(env, "GITHUB_APP_ID")

	_, err := loadMap(t, env)
	assert.ErrorContains(t, err, "GITHUB_APP_ID")
}

func TestLoad_OAuth(t *testing.T) {
	env := minimalEnv()
	env["GITHUB_OAUTH_CLIENT_ID"] = "Iv1.abc"
	env["GITHUB_OAUTH_CLIENT_SECRET"] = "shh"
	env["GITHUB_OAUTH_ALLOW_SIGNUP"] = "false"
	env["GITHUB_OAUTH_SCOPES"] = "repo,read:org"

	cfg, err := loadMap(t, env)
	require.NoError(t, err)

	assert.True(t, cfg.OAuth.Enabled())
	require.NotNil(t, cfg.OAuth.AllowSignup)
	assert.False(t, *cfg.OAuth.AllowSignup)
	assert.Equal(t, []string{"repo", "read:org"}, cfg.OAuth.Scopes)
}

func TestLoad_Redis(t *testing.T) {
	env := minimalEnv()
	env["CACHE_TYPE"] = "redis"
	env["REDIS_ADDRESS"] = "localhost:6379"

	cfg, err := loadMap(t, env)
	require.NoError(t, err)

	expected := RedisConfig{
		Address:   "localhost:6379",
		TLS:       true, // default
		KeyPrefix: "ghapp:oauth-state:",
	}
	assert.Equal(t, expected, cfg.Cache.Redis)
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "no private key",
			env:     map[string]string{"GITHUB_APP_ID": "1"},
			wantErr: "GITHUB_APP_PRIVATE_KEY",
		},
		{
			name: "both private keys",
			env: map[string]string{
				"GITHUB_APP_ID":              "1",
				"GITHUB_APP_PRIVATE_KEY":     "key",
				"GITHUB_APP_PRIVATE_KEY_ARN": "arn:aws:kms:us-east-1:123456789012:key/abc",
			},
			wantErr: "cannot both be set",
		},
		{
			name: "per page too large",
			env: map[string]string{
				"GITHUB_APP_ID":          "1",
				"GITHUB_APP_PRIVATE_KEY": "key",
				"GITHUB_PER_PAGE":        "101",
			},
			wantErr: "GITHUB_PER_PAGE",
		},
		{
			name: "client id without secret",
			env: map[string]string{
				"GITHUB_APP_ID":          "1",
				"GITHUB_APP_PRIVATE_KEY": "key",
				"GITHUB_OAUTH_CLIENT_ID": "Iv1.abc",
			},
			wantErr: "GITHUB_OAUTH_CLIENT_SECRET",
		},
		{
			name: "redis without address",
			env: map[string]string{
				"GITHUB_APP_ID":          "1",
				"GITHUB_APP_PRIVATE_KEY": "key",
				"CACHE_TYPE":             "redis",
			},
			wantErr: "REDIS_ADDRESS",
		},
		{
			name: "unknown cache type",
			env: map[string]string{
				"GITHUB_APP_ID":          "1",
				"GITHUB_APP_PRIVATE_KEY": "key",
				"CACHE_TYPE":             "valkey",
			},
			wantErr: "invalid cache type",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadMap(t, tc.env)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}
