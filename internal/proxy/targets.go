package proxy

import (
	"os"
	"strings"
	"sync/atomic"
)

// ServiceURLPrefix is the environment naming convention for named-service
// bindings: SERVICE_URL_<NAME> with the service name uppercased.
const ServiceURLPrefix = "SERVICE_URL_"

// DefaultCredentialHeader is the header used to inject the admin daemon
// token when the configuration does not name one.
const DefaultCredentialHeader = "X-Api-Key"

// Target describes a resolved upstream destination. Read-only at request
// time.
type Target struct {
	// Name is the logical upstream name, safe to surface in errors.
	Name string

	// BaseURL is the upstream base URL.
	BaseURL string

	// CredentialHeader is the header to inject; empty means none.
	CredentialHeader string

	// Credential is the header value. Never logged or surfaced.
	Credential string
}

// Resolver resolves named upstream targets from the admin daemon
// configuration, a reloadable binding table, and the SERVICE_URL_<NAME>
// environment convention.
type Resolver struct {
	admin     atomic.Pointer[Target]
	bindings  atomic.Pointer[map[string]string]
	lookupEnv func(string) (string, bool)
}

// ResolverOption is a functional option for configuring the resolver.
type ResolverOption func(*Resolver)

// WithEnvLookup overrides the environment lookup. Used by tests.
func WithEnvLookup(lookup func(string) (string, bool)) ResolverOption {
	return func(r *Resolver) {
		r.lookupEnv = lookup
	}
}

// NewResolver creates a target resolver. adminBase may be empty when no
// admin daemon is deployed; AdminDaemon then fails with ErrNoAdminDaemon.
func NewResolver(adminBase, adminToken, credentialHeader string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		lookupEnv: os.LookupEnv,
	}

	empty := map[string]string{}
	r.bindings.Store(&empty)

	if adminBase != "" {
		if credentialHeader == "" {
			credentialHeader = DefaultCredentialHeader
		}
		r.admin.Store(&Target{
			Name:             "admin-daemon",
			BaseURL:          strings.TrimRight(adminBase, "/"),
			CredentialHeader: credentialHeader,
			Credential:       adminToken,
		})
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// AdminDaemon returns the admin daemon target.
func (r *Resolver) AdminDaemon() (*Target, error) {
	t := r.admin.Load()
	if t == nil {
		return nil, ErrNoAdminDaemon
	}
	return t, nil
}

// NamedService resolves a service name against the binding table, then the
// SERVICE_URL_<NAME> environment convention. Resolution happens before any
// network activity; an unknown name yields ErrNoBinding.
func (r *Resolver) NamedService(name string) (*Target, error) {
	key := envKey(name)

	if bindings := r.bindings.Load(); bindings != nil {
		if base, ok := (*bindings)[key]; ok && base != "" {
			return &Target{Name: name, BaseURL: strings.TrimRight(base, "/")}, nil
		}
	}

	if base, ok := r.lookupEnv(ServiceURLPrefix + key); ok && base != "" {
		return &Target{Name: name, BaseURL: strings.TrimRight(base, "/")}, nil
	}

	return nil, ErrNoBinding
}

// SetBindings atomically replaces the named-service binding table. Keys
// are normalized the same way as environment lookups. Called by the
// configuration watcher on reload.
func (r *Resolver) SetBindings(bindings map[string]string) {
	normalized := make(map[string]string, len(bindings))
	for name, base := range bindings {
		normalized[envKey(name)] = base
	}
	r.bindings.Store(&normalized)
}

// envKey normalizes a service name for binding lookup: uppercased, with
// hyphens mapped to underscores to stay a legal environment variable name.
func envKey(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
