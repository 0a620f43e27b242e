// Package secret retrieves credentials for optional collaborators (the voice
// sink, notification transports) via viant/scy. Secret retrieval failures
// degrade the optional feature – they never block authorization.
package secret

import (
	"context"
	"errors"
	"fmt"

	"github.com/viant/afs/url"
	"github.com/viant/scy"
	"github.com/viant/toolbox"
)

// ErrUnavailable is returned when a secret cannot be retrieved. Callers are
// expected to treat the dependent feature as absent.
var ErrUnavailable = errors.New("secret: unavailable")

// Provider resolves a named secret to its plain value.
type Provider interface {
	Secret(ctx context.Context, name string) (string, error)
}

// Service loads encrypted secrets stored under a base URL, one resource per
// secret name.
type Service struct {
	scyService *scy.Service
	baseURL    string
	key        string // e.g. "blowfish://default"
}

// New creates a secret service reading from baseURL with the given
// encryption key.
func New(baseURL, key string) *Service {
	return &Service{
		scyService: scy.New(),
		baseURL:    baseURL,
		key:        key,
	}
}

// Secret loads and decrypts the named secret. Structured secrets expose
// their "value" entry; raw secrets return their content verbatim.
func (s *Service) Secret(ctx context.Context, name string) (string, error) {
	if s.baseURL == "" {
		return "", fmt.Errorf("no secret base URL configured: %w", ErrUnavailable)
	}
	resource := scy.NewResource(nil, url.Join(s.baseURL, name), s.key)
	loaded, err := s.scyService.Load(ctx, resource)
	if err != nil {
		return "", fmt.Errorf("failed to load secret %q: %w", name, ErrUnavailable)
	}
	if !loaded.IsPlain && loaded.Target != nil {
		values := map[string]interface{}{}
		if err := toolbox.DefaultConverter.AssignConverted(&values, loaded.Target); err != nil {
			return "", fmt.Errorf("failed to convert secret %q: %w", name, ErrUnavailable)
		}
		values = toolbox.DeleteEmptyKeys(values)
		if value, ok := values["value"].(string); ok {
			return value, nil
		}
		return "", fmt.Errorf("secret %q has no value entry: %w", name, ErrUnavailable)
	}
	return loaded.String(), nil
}

var _ Provider = (*Service)(nil)
