package provider

import (
	"fmt"
	"sync"

	"github.com/hwendt/llmgate/internal/config"
	"github.com/hwendt/llmgate/internal/secret"
)

// builder knows how to turn a provider record into a live client. One entry
// per supported provider type.
type builder func(p *config.Provider, est Estimator) (Client, error)

var builders = map[config.ProviderType]builder{
	config.ProviderTypeOllama: func(p *config.Provider, est Estimator) (Client, error) {
		cfg, err := OllamaConfigFromProvider(p)
		if err != nil {
			return nil, err
		}
		return NewOllamaClient(cfg, est), nil
	},
	config.ProviderTypeAzureAI: func(p *config.Provider, est Estimator) (Client, error) {
		cfg, err := AzureAIConfigFromProvider(p)
		if err != nil {
			return nil, err
		}
		return NewAzureAIClient(cfg, est), nil
	},
	config.ProviderTypeAzureOpenAI: func(p *config.Provider, est Estimator) (Client, error) {
		cfg, err := AzureOpenAIConfigFromProvider(p)
		if err != nil {
			return nil, err
		}
		return NewAzureOpenAIClient(cfg, est), nil
	},
}

// Registry builds and caches clients for configured providers. Credentials
// are decrypted on the way in, so client configs hold plaintext keys in
// memory only.
type Registry struct {
	keeper *secret.Keeper
	est    Estimator

	mu      sync.Mutex
	clients map[string]Client
}

func NewRegistry(keeper *secret.Keeper, est Estimator) *Registry {
	return &Registry{
		keeper:  keeper,
		est:     est,
		clients: make(map[string]Client),
	}
}

// ClientFor returns the client for a provider record, building it on first
// use. Disabled providers are rejected here so every call path gets the same
// answer.
func (r *Registry) ClientFor(p *config.Provider) (Client, error) {
	if p == nil {
		return nil, fmt.Errorf("provider is nil")
	}
	if !p.IsEnabled() {
		return nil, fmt.Errorf("provider %q is disabled", p.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[p.Name]; ok {
		return client, nil
	}
	client, err := r.build(p)
	if err != nil {
		return nil, err
	}
	r.clients[p.Name] = client
	return client, nil
}

// Build constructs a client without caching it. Used by the management API
// to probe candidate configurations before they are saved.
func (r *Registry) Build(p *config.Provider) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.build(p)
}

func (r *Registry) build(p *config.Provider) (Client, error) {
	construct, ok := builders[p.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported provider type %q", p.Type)
	}
	record := *p
	apiKey, err := r.keeper.Decrypt(record.APIKey)
	if err != nil {
		return nil, fmt.Errorf("provider %q: decrypt credential: %w", p.Name, err)
	}
	record.APIKey = apiKey
	return construct(&record, r.est)
}

// Reset drops all cached clients. Called after a configuration change so the
// next request picks up new endpoints and credentials.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = make(map[string]Client)
}

// SetEstimator swaps the token estimator used for newly built clients.
// Existing cached clients keep the old one until the next Reset.
func (r *Registry) SetEstimator(est Estimator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.est = est
}
