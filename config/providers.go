package config

import (
	"strings"
	"time"

	"github.com/vidora/genjobs/internal/domain/model"
)

// ProvidersConfig contains generation vendor configuration.
// The provider set is statically known; Default is used when the caller does
// not select a vendor explicitly and Fallback is the single vendor attempted
// once if task creation fails on the resolved one.
type ProvidersConfig struct {
	Default  model.Provider `env:"PROVIDER_DEFAULT"  envDefault:"wuyin"`
	Fallback model.Provider `env:"PROVIDER_FALLBACK" envDefault:"keling"`

	// RequestTimeout bounds every vendor HTTP call (creation and polling).
	RequestTimeout time.Duration `env:"PROVIDER_REQUEST_TIMEOUT" envDefault:"30s"`

	Wuyin  VendorConfig `envPrefix:"WUYIN_"`
	Keling VendorConfig `envPrefix:"KELING_"`
}

// VendorConfig holds per-vendor credentials and endpoints.
type VendorConfig struct {
	BaseURL string `env:"BASE_URL"`
	APIKey  string `env:"API_KEY"`
}

// Configured reports whether the vendor has credentials.
func (v VendorConfig) Configured() bool {
	return strings.TrimSpace(v.BaseURL) != "" && strings.TrimSpace(v.APIKey) != ""
}

// Sanitize applies guardrails to provider configuration values.
func (p *ProvidersConfig) Sanitize() {
	if !p.Default.Valid() {
		p.Default = model.ProviderWuyin
	}
	if !p.Fallback.Valid() || p.Fallback == p.Default {
		if p.Default == model.ProviderWuyin {
			p.Fallback = model.ProviderKeling
		} else {
			p.Fallback = model.ProviderWuyin
		}
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = 30 * time.Second
	}
	p.Wuyin.BaseURL = strings.TrimSpace(p.Wuyin.BaseURL)
	p.Keling.BaseURL = strings.TrimSpace(p.Keling.BaseURL)
}

// Vendor returns the VendorConfig for a provider tag.
func (p *ProvidersConfig) Vendor(provider model.Provider) VendorConfig {
	switch provider {
	case model.ProviderKeling:
		return p.Keling
	case model.ProviderWuyin:
		return p.Wuyin
	default:
		return VendorConfig{}
	}
}
