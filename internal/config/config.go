package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Cache     CacheConfig
	Github    GithubConfig
	Webhooks  WebhooksConfig
	OAuth     OAuthConfig
	Inventory InventoryConfig
	Observe   ObserveConfig
	Server    ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// CacheConfig specifies where OAuth authorization state is kept between the
// login and callback requests.
type CacheConfig struct {
	// Type selects the cache implementation: "memory" (default) or "redis".
	// Use "redis" when more than one replica serves the OAuth routes.
	Type string `env:"CACHE_TYPE, default=memory"`

	// StateTTL is how long a started web flow may take to complete.
	StateTTL time.Duration `env:"CACHE_STATE_TTL, default=10m"`

	// MaxMemoryEntries bounds the in-memory cache.
	MaxMemoryEntries int `env:"CACHE_MAX_MEMORY_ENTRIES, default=10000"`

	Redis RedisConfig
}

// RedisConfig specifies the distributed cache connection.
type RedisConfig struct {
	// Address is the Redis server address (host:port).
	Address string `env:"REDIS_ADDRESS"`

	// TLS enables TLS connection to Redis. Defaults to true so the secure option
	// is the default.
	TLS bool `env:"REDIS_TLS, default=true"`

	Username string `env:"REDIS_USERNAME"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB, default=0"`

	// KeyPrefix namespaces the keys written by this service.
	KeyPrefix string `env:"REDIS_KEY_PREFIX, default=ghapp:oauth-state:"`
}

type GithubConfig struct {
	APIURL string `env:"GITHUB_API_URL"`
	WebURL string `env:"GITHUB_WEB_URL"`

	PrivateKey    string `env:"GITHUB_APP_PRIVATE_KEY"`
	PrivateKeyARN string `env:"GITHUB_APP_PRIVATE_KEY_ARN"`

	ApplicationID int64 `env:"GITHUB_APP_ID, required"`

	// PerPage sets the page size of installation and repository listings.
	// Zero leaves the GitHub default.
	PerPage int `env:"GITHUB_PER_PAGE, default=0"`
}

// WebhooksConfig enables webhook handling when a secret is set.
type WebhooksConfig struct {
	Secret string `env:"GITHUB_WEBHOOK_SECRET"`
	Path   string `env:"GITHUB_WEBHOOK_PATH"`
}

// Enabled reports whether webhooks are configured.
func (c WebhooksConfig) Enabled() bool {
	return c.Secret != ""
}

// OAuthConfig enables the OAuth flows when the client credentials are set.
type OAuthConfig struct {
	ClientID     string   `env:"GITHUB_OAUTH_CLIENT_ID"`
	ClientSecret string   `env:"GITHUB_OAUTH_CLIENT_SECRET"`
	AllowSignup  *bool    `env:"GITHUB_OAUTH_ALLOW_SIGNUP"`
	RedirectURL  string   `env:"GITHUB_OAUTH_REDIRECT_URL"`
	Scopes       []string `env:"GITHUB_OAUTH_SCOPES"`
	PathPrefix   string   `env:"GITHUB_OAUTH_PATH_PREFIX"`
}

// Enabled reports whether OAuth is configured.
func (c OAuthConfig) Enabled() bool {
	return c.ClientID != ""
}

type InventoryConfig struct {
	// InstallationID limits the inventory to one installation.
	InstallationID int64 `env:"INVENTORY_INSTALLATION_ID, default=0"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=ghapp"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	if err := cfg.Github.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid GitHub configuration: %w", err)
	}

	if err := cfg.OAuth.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid OAuth configuration: %w", err)
	}

	if err := cfg.Cache.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that exactly one private key source is configured.
func (c *GithubConfig) Validate() error {
	switch {
	case c.PrivateKey == "" && c.PrivateKeyARN == "":
		return errors.New("one of GITHUB_APP_PRIVATE_KEY or GITHUB_APP_PRIVATE_KEY_ARN is required")
	case c.PrivateKey != "" && c.PrivateKeyARN != "":
		return errors.New("GITHUB_APP_PRIVATE_KEY and GITHUB_APP_PRIVATE_KEY_ARN cannot both be set")
	}

	if c.PerPage < 0 || c.PerPage > 100 {
		return fmt.Errorf("GITHUB_PER_PAGE must be between 0 and 100, got %d", c.PerPage)
	}

	return nil
}

// Validate checks that the client secret accompanies the client ID.
func (c *OAuthConfig) Validate() error {
	if c.ClientID != "" && c.ClientSecret == "" {
		return errors.New("GITHUB_OAUTH_CLIENT_SECRET required when GITHUB_OAUTH_CLIENT_ID is set")
	}
	if c.ClientID == "" && c.ClientSecret != "" {
		return errors.New("GITHUB_OAUTH_CLIENT_ID required when GITHUB_OAUTH_CLIENT_SECRET is set")
	}
	return nil
}

// Validate checks that the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	switch c.Type {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("REDIS_ADDRESS required when CACHE_TYPE=redis")
		}
	default:
		return fmt.Errorf("invalid cache type %q: must be either \"memory\" or \"redis\"", c.Type)
	}

	if c.StateTTL <= 0 {
		return fmt.Errorf("CACHE_STATE_TTL must be positive, got %s", c.StateTTL)
	}

	return nil
}
