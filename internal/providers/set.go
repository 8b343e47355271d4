package providers

import (
	"fmt"
	"net/http"

	"github.com/vidora/genjobs/config"
	"github.com/vidora/genjobs/internal/core"
	"github.com/vidora/genjobs/internal/domain/model"
)

// Set holds the statically known adapters plus the default/fallback
// selection policy. It is an explicitly constructed object passed to the
// orchestrator and reconciler, never ambient state.
type Set struct {
	adapters map[model.Provider]core.ProviderAdapter
	def      model.Provider
	fallback model.Provider
}

// NewSet builds the adapter set from provider configuration. Both vendor
// adapters are always constructed; a vendor without credentials fails at
// call time with a provider_unavailable error, which is what drives the
// orchestrator's fallback.
func NewSet(cfg config.ProvidersConfig, httpClient *http.Client) (*Set, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	wuyin, err := NewWuyinAdapter(WuyinOptions{
		BaseURL:    cfg.Wuyin.BaseURL,
		APIKey:     cfg.Wuyin.APIKey,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("wuyin adapter: %w", err)
	}

	keling, err := NewKelingAdapter(KelingOptions{
		BaseURL:    cfg.Keling.BaseURL,
		APIKey:     cfg.Keling.APIKey,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("keling adapter: %w", err)
	}

	return &Set{
		adapters: map[model.Provider]core.ProviderAdapter{
			model.ProviderWuyin:  wuyin,
			model.ProviderKeling: keling,
		},
		def:      cfg.Default,
		fallback: cfg.Fallback,
	}, nil
}

// NewSetFromAdapters builds a Set from explicit adapters (useful for tests).
func NewSetFromAdapters(def, fallback model.Provider, adapters ...core.ProviderAdapter) *Set {
	m := make(map[model.Provider]core.ProviderAdapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Set{adapters: m, def: def, fallback: fallback}
}

// Get returns the adapter for a provider tag.
func (s *Set) Get(provider model.Provider) (core.ProviderAdapter, error) {
	adapter, ok := s.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", provider)
	}
	return adapter, nil
}

// Resolve maps an optional explicit selection to a concrete provider tag.
func (s *Set) Resolve(explicit model.Provider) model.Provider {
	if explicit.Valid() {
		return explicit
	}
	return s.def
}

// Fallback returns the designated fallback for a resolved provider, or
// false when the resolved provider is itself the fallback.
func (s *Set) Fallback(resolved model.Provider) (model.Provider, bool) {
	if resolved == s.fallback {
		return "", false
	}
	return s.fallback, true
}
