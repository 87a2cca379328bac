package core

import (
	"context"
	"os"

	"github.com/mrmushfiq/llm-gateway/internal/shared/models"
)

// CredentialResolver produces the upstream API key for a provider.
type CredentialResolver interface {
	ResolveCredential(ctx context.Context, provider *models.Provider) (string, error)
}

// EnvCredentialResolver reads provider credentials from the environment
// variable named by the provider's credential_ref column. Keys never live
// in the database.
type EnvCredentialResolver struct{}

func (EnvCredentialResolver) ResolveCredential(_ context.Context, provider *models.Provider) (string, error) {
	if provider.CredentialRef == "" {
		return "", &ProviderUnavailableError{Provider: provider.Name}
	}
	key := os.Getenv(provider.CredentialRef)
	if key == "" {
		return "", &ProviderUnavailableError{Provider: provider.Name}
	}
	return key, nil
}
