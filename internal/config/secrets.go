package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/medialobby/gateway/internal/observability"
)

// Secret reference schemes. A secret-bearing config field holds either a
// literal value, "env://NAME" resolved from the environment, or
// "vault://logical/path#key" resolved from Vault's KV store.
const (
	envScheme   = "env://"
	vaultScheme = "vault://"
)

// SecretResolver resolves secret references in a loaded Config.
type SecretResolver struct {
	vault  *vaultapi.Client
	logger observability.Logger
}

// SecretResolverOption is a functional option for configuring the resolver.
type SecretResolverOption func(*SecretResolver)

// WithSecretLogger sets the logger for the resolver.
func WithSecretLogger(logger observability.Logger) SecretResolverOption {
	return func(r *SecretResolver) {
		r.logger = logger
	}
}

// NewSecretResolver creates a resolver. The Vault client is built only when
// cfg.Vault.Enabled is set; without it, vault:// references fail to resolve.
func NewSecretResolver(cfg VaultConfig, opts ...SecretResolverOption) (*SecretResolver, error) {
	r := &SecretResolver{
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if cfg.Enabled {
		vaultCfg := vaultapi.DefaultConfig()
		vaultCfg.Address = cfg.Address

		client, err := vaultapi.NewClient(vaultCfg)
		if err != nil {
			return nil, fmt.Errorf("create vault client: %w", err)
		}
		if cfg.Token != "" {
			client.SetToken(cfg.Token)
		}
		r.vault = client
	}

	return r, nil
}

// ResolveConfig resolves every secret-bearing field of cfg in place.
func (r *SecretResolver) ResolveConfig(ctx context.Context, cfg *Config) error {
	fields := []struct {
		name  string
		value *string
	}{
		{name: "admin.token", value: &cfg.Admin.Token},
		{name: "search.movies.apiKey", value: &cfg.Search.Movies.APIKey},
		{name: "search.series.apiKey", value: &cfg.Search.Series.APIKey},
	}

	for _, field := range fields {
		resolved, err := r.Resolve(ctx, *field.value)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", field.name, err)
		}
		*field.value = resolved
	}

	return nil
}

// Resolve turns one secret reference into its value. Literal values pass
// through unchanged.
func (r *SecretResolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, envScheme):
		name := strings.TrimPrefix(ref, envScheme)
		value, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
		return value, nil

	case strings.HasPrefix(ref, vaultScheme):
		return r.resolveVault(ctx, strings.TrimPrefix(ref, vaultScheme))

	default:
		return ref, nil
	}
}

// resolveVault reads "path#key" from Vault's logical store.
func (r *SecretResolver) resolveVault(ctx context.Context, ref string) (string, error) {
	if r.vault == nil {
		return "", fmt.Errorf("vault reference %q used but vault is not enabled", ref)
	}

	path, key, found := strings.Cut(ref, "#")
	if !found || path == "" || key == "" {
		return "", fmt.Errorf("vault reference must look like vault://path#key, got %q", ref)
	}

	secret, err := r.vault.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("read vault path %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault path %s has no data", path)
	}

	data := secret.Data
	// KV v2 wraps the payload in a nested "data" map.
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data[key].(string)
	if !ok {
		return "", fmt.Errorf("vault path %s has no string value for key %s", path, key)
	}

	r.logger.Debug("resolved vault secret",
		observability.String("path", path),
		observability.String("key", key),
	)
	return value, nil
}
