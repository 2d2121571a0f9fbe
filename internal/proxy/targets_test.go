package proxy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestResolver_AdminDaemon(t *testing.T) {
	r := NewResolver("http://daemon:9090/", "tok", "")

	target, err := r.AdminDaemon()
	require.NoError(t, err)
	assert.Equal(t, "admin-daemon", target.Name)
	assert.Equal(t, "http://daemon:9090", target.BaseURL)
	assert.Equal(t, DefaultCredentialHeader, target.CredentialHeader)
	assert.Equal(t, "tok", target.Credential)
}

func TestResolver_AdminDaemonUnconfigured(t *testing.T) {
	r := NewResolver("", "", "")

	_, err := r.AdminDaemon()
	assert.True(t, errors.Is(err, ErrNoAdminDaemon))
}

func TestResolver_NamedServiceFromEnv(t *testing.T) {
	r := NewResolver("", "", "", WithEnvLookup(envMap(map[string]string{
		"SERVICE_URL_SONARR": "http://sonarr:8989",
	})))

	tests := []struct {
		name        string
		service     string
		expectedURL string
		expectErr   error
	}{
		{
			name:        "lowercase name uppercased",
			service:     "sonarr",
			expectedURL: "http://sonarr:8989",
		},
		{
			name:        "already uppercase",
			service:     "SONARR",
			expectedURL: "http://sonarr:8989",
		},
		{
			name:      "unknown service",
			service:   "radarr",
			expectErr: ErrNoBinding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := r.NamedService(tt.service)
			if tt.expectErr != nil {
				assert.True(t, errors.Is(err, tt.expectErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedURL, target.BaseURL)
			assert.Empty(t, target.CredentialHeader)
		})
	}
}

func TestResolver_BindingTablePrecedesEnv(t *testing.T) {
	r := NewResolver("", "", "", WithEnvLookup(envMap(map[string]string{
		"SERVICE_URL_SONARR": "http://env-sonarr:8989",
	})))
	r.SetBindings(map[string]string{"sonarr": "http://cfg-sonarr:8989"})

	target, err := r.NamedService("sonarr")
	require.NoError(t, err)
	assert.Equal(t, "http://cfg-sonarr:8989", target.BaseURL)
}

func TestResolver_HyphenatedNameNormalized(t *testing.T) {
	r := NewResolver("", "", "", WithEnvLookup(envMap(map[string]string{
		"SERVICE_URL_BOOK_INDEX": "http://books:7000",
	})))

	target, err := r.NamedService("book-index")
	require.NoError(t, err)
	assert.Equal(t, "http://books:7000", target.BaseURL)
}

func TestResolver_SetBindingsSwapsAtomically(t *testing.T) {
	r := NewResolver("", "", "", WithEnvLookup(envMap(nil)))
	r.SetBindings(map[string]string{"a": "http://a:1"})
	r.SetBindings(map[string]string{"b": "http://b:2"})

	_, err := r.NamedService("a")
	assert.True(t, errors.Is(err, ErrNoBinding))

	target, err := r.NamedService("b")
	require.NoError(t, err)
	assert.Equal(t, "http://b:2", target.BaseURL)
}
