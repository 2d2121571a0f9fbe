// Package config provides configuration management for the portal gateway.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Default values applied by DefaultConfig.
const (
	DefaultListenAddr      = ":8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultUserStorePath   = "data/sessions.json"
	DefaultAdminStorePath  = "data/admin-sessions.json"
	DefaultAttemptsPath    = "data/login-attempts.json"
	DefaultIssuesPath      = "data/content-issues.json"
	DefaultInvitesPath     = "data/invites.json"
	DefaultCredentialHead  = "X-Api-Key"
	DefaultThrottleRate    = 50.0
	DefaultThrottleBurst   = 100
	DefaultUpstreamTimeout = 30 * time.Second
)

// Config is the root gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Admin     AdminConfig     `yaml:"admin"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Search    SearchConfig    `yaml:"search"`
	Storage   StorageConfig   `yaml:"storage"`
	Services  ServicesConfig  `yaml:"services"`
	Throttle  ThrottleConfig  `yaml:"throttle"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Vault     VaultConfig     `yaml:"vault"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string   `yaml:"listenAddr"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string `yaml:"allowedOrigins"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AdminConfig configures the admin-daemon proxy target. Token may be a
// literal value or a secret reference (env://NAME, vault://path#key).
type AdminConfig struct {
	BaseURL          string   `yaml:"baseUrl"`
	Token            string   `yaml:"token"`
	CredentialHeader string   `yaml:"credentialHeader"`
	UpstreamTimeout  Duration `yaml:"upstreamTimeout"`
}

// SessionsConfig locates the persisted session stores.
type SessionsConfig struct {
	UserStorePath  string `yaml:"userStorePath"`
	AdminStorePath string `yaml:"adminStorePath"`
}

// RateLimitConfig configures the failed-attempt limiter.
type RateLimitConfig struct {
	MaxAttempts int      `yaml:"maxAttempts"`
	Window      Duration `yaml:"window"`
	Lockout     Duration `yaml:"lockout"`
	StorePath   string   `yaml:"storePath"`
}

// IndexerConfig configures one media indexer. APIKey may be a secret
// reference. An empty BaseURL disables the indexer.
type IndexerConfig struct {
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey"`
}

// SearchConfig configures the media search indexers.
type SearchConfig struct {
	Movies IndexerConfig `yaml:"movies"`
	Series IndexerConfig `yaml:"series"`
}

// StorageConfig locates the portal's flat-file datasets.
type StorageConfig struct {
	IssuesPath  string `yaml:"issuesPath"`
	InvitesPath string `yaml:"invitesPath"`
}

// ServicesConfig carries static named-service bindings. Bindings from the
// SERVICE_URL_<NAME> environment take effect when a name is absent here.
type ServicesConfig struct {
	Bindings map[string]string `yaml:"bindings"`
}

// ThrottleConfig configures the per-client request throttle.
type ThrottleConfig struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"`
	Burst   int     `yaml:"burst"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	ServiceName  string  `yaml:"serviceName"`
}

// VaultConfig configures the Vault client used to resolve vault:// secret
// references.
type VaultConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      DefaultListenAddr,
			ReadTimeout:     Duration(DefaultReadTimeout),
			WriteTimeout:    Duration(DefaultWriteTimeout),
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Admin: AdminConfig{
			CredentialHeader: DefaultCredentialHead,
			UpstreamTimeout:  Duration(DefaultUpstreamTimeout),
		},
		Sessions: SessionsConfig{
			UserStorePath:  DefaultUserStorePath,
			AdminStorePath: DefaultAdminStorePath,
		},
		RateLimit: RateLimitConfig{
			MaxAttempts: 5,
			Window:      Duration(15 * time.Minute),
			Lockout:     Duration(60 * time.Minute),
			StorePath:   DefaultAttemptsPath,
		},
		Storage: StorageConfig{
			IssuesPath:  DefaultIssuesPath,
			InvitesPath: DefaultInvitesPath,
		},
		Throttle: ThrottleConfig{
			Enabled: true,
			Rate:    DefaultThrottleRate,
			Burst:   DefaultThrottleBurst,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			SamplingRate: 1.0,
			ServiceName:  "portal-gateway",
		},
	}
}

// Validate checks the configuration for contradictions and missing required
// values. It returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listenAddr must not be empty")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}

	if c.RateLimit.MaxAttempts <= 0 {
		return fmt.Errorf("rateLimit.maxAttempts must be positive, got %d", c.RateLimit.MaxAttempts)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rateLimit.window must be positive")
	}
	if c.RateLimit.Lockout <= 0 {
		return fmt.Errorf("rateLimit.lockout must be positive")
	}

	if c.Admin.BaseURL != "" && !strings.HasPrefix(c.Admin.BaseURL, "http://") && !strings.HasPrefix(c.Admin.BaseURL, "https://") {
		return fmt.Errorf("admin.baseUrl must be an http(s) URL, got %q", c.Admin.BaseURL)
	}

	if c.Throttle.Enabled {
		if c.Throttle.Rate <= 0 {
			return fmt.Errorf("throttle.rate must be positive when throttling is enabled")
		}
		if c.Throttle.Burst <= 0 {
			return fmt.Errorf("throttle.burst must be positive when throttling is enabled")
		}
	}

	if c.Tracing.Enabled && c.Tracing.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlpEndpoint is required when tracing is enabled")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.samplingRate must be between 0 and 1, got %g", c.Tracing.SamplingRate)
	}

	if c.Vault.Enabled && c.Vault.Address == "" {
		return fmt.Errorf("vault.address is required when vault is enabled")
	}

	for name, target := range c.Services.Bindings {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("services.bindings contains an empty service name")
		}
		if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
			return fmt.Errorf("services.bindings[%s] must be an http(s) URL, got %q", name, target)
		}
	}

	return nil
}
