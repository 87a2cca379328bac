// Package core wires resolution, protection and invocation into the
// request path shared by both API surfaces.
package core

import (
	"context"
	"log/slog"

	"github.com/mrmushfiq/llm-gateway/internal/gateway/breaker"
	"github.com/mrmushfiq/llm-gateway/internal/shared/models"
)

// ConfigStore supplies the routing configuration: models, providers and
// fallback groups.
type ConfigStore interface {
	ModelByName(ctx context.Context, name string) (*models.ModelConfig, error)
	Model(ctx context.Context, id int64) (*models.ModelConfig, error)
	Provider(ctx context.Context, id int64) (*models.Provider, error)
	GroupByType(ctx context.Context, modelType string) (*models.ModelGroup, error)
}

// Resolution is a model/provider pair cleared for invocation. The breaker
// admission for the provider has already been granted when a Resolution is
// returned.
type Resolution struct {
	Model    *models.ModelConfig
	Provider *models.Provider
	Fallback bool
}

// Resolver turns a requested model name into an invocable model/provider
// pair, falling back within the model's group when the primary provider's
// breaker rejects the call.
type Resolver struct {
	store    ConfigStore
	breakers *breaker.Registry
	log      *slog.Logger
}

func NewResolver(store ConfigStore, breakers *breaker.Registry, log *slog.Logger) *Resolver {
	return &Resolver{store: store, breakers: breakers, log: log}
}

// Resolve implements the primary-then-fallback selection. A nil error means
// the returned provider's breaker granted admission; the caller must report
// the outcome back via RecordSuccess or RecordFailure.
func (r *Resolver) Resolve(ctx context.Context, modelName string) (*Resolution, error) {
	model, err := r.store.ModelByName(ctx, modelName)
	if err != nil {
		return nil, err
	}
	if model == nil || !model.Enabled {
		return nil, &ModelNotFoundError{Model: modelName}
	}

	provider, err := r.store.Provider(ctx, model.ProviderID)
	if err != nil {
		return nil, err
	}
	if provider == nil || !provider.Enabled {
		return nil, &ProviderUnavailableError{Provider: modelName}
	}

	if r.breakers.Get(provider.Name).Allow() {
		return &Resolution{Model: model, Provider: provider}, nil
	}

	res, err := r.fallback(ctx, model)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, &ProviderUnavailableError{Provider: provider.Name}
	}

	r.log.Warn("primary provider unavailable, falling back",
		"requested_model", modelName,
		"fallback_model", res.Model.Name,
		"fallback_provider", res.Provider.Name)
	return res, nil
}

// fallback walks the model's group in configured order and returns the
// first enabled candidate whose provider is enabled and admitted by its
// breaker. The requested model itself is skipped.
func (r *Resolver) fallback(ctx context.Context, model *models.ModelConfig) (*Resolution, error) {
	group, err := r.store.GroupByType(ctx, model.Type)
	if err != nil {
		return nil, err
	}
	if group == nil || !group.Enabled || !group.FallbackEnabled {
		return nil, nil
	}

	for _, id := range group.ModelIDs {
		if id == model.ID {
			continue
		}
		candidate, err := r.store.Model(ctx, id)
		if err != nil {
			return nil, err
		}
		if candidate == nil || !candidate.Enabled {
			continue
		}
		provider, err := r.store.Provider(ctx, candidate.ProviderID)
		if err != nil {
			return nil, err
		}
		if provider == nil || !provider.Enabled {
			continue
		}
		if !r.breakers.Get(provider.Name).Allow() {
			continue
		}
		return &Resolution{Model: candidate, Provider: provider, Fallback: true}, nil
	}
	return nil, nil
}
