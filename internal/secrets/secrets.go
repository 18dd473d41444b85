// Package secrets resolves opaque credential references into secret
// material. Provider credentials in config are written as references
// ("env://BRAVE_API_KEY") so that raw key material never appears in
// config files or logs.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSecretNotFound is returned when a credential reference cannot be resolved.
var ErrSecretNotFound = errors.New("secret not found")

// Secret holds resolved credential material. It must never be serialized
// into responses or log records.
type Secret struct {
	Value    string
	Metadata map[string]string
}

// Provider resolves credential references. Implementations must be safe
// for concurrent use.
type Provider interface {
	// Resolve takes a reference such as "env://MY_KEY" and returns the raw
	// secret, or ErrSecretNotFound when it cannot be resolved.
	Resolve(ctx context.Context, credentialRef string) (*Secret, error)

	// Name returns the provider identifier for logging.
	Name() string
}

// EnvProvider resolves "env://VARIABLE_NAME" references from the process
// environment. Bare references without a scheme are treated as variable
// names directly.
type EnvProvider struct{}

// NewEnvProvider creates an environment-backed provider.
func NewEnvProvider() *EnvProvider { return &EnvProvider{} }

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Resolve(_ context.Context, credentialRef string) (*Secret, error) {
	envVar := strings.TrimPrefix(credentialRef, "env://")
	if envVar == "" {
		return nil, fmt.Errorf("%w: empty environment variable name", ErrSecretNotFound)
	}
	value := os.Getenv(envVar)
	if value == "" {
		return nil, fmt.Errorf("%w: environment variable %q is not set or empty",
			ErrSecretNotFound, envVar)
	}
	return &Secret{
		Value:    value,
		Metadata: map[string]string{"source": "env", "variable": envVar},
	}, nil
}
