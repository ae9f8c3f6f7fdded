package provider

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Registry resolves provider names from payment requests to adapters. The set
// is fixed at startup; providers are injected collaborators, never discovered.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

type providersConfig struct {
	Providers []HTTPConfig `yaml:"providers"`
}

// LoadRegistry reads providers.yaml and builds an HTTP adapter per entry.
func LoadRegistry(providersFile string) (*Registry, error) {
	var configPath string
	if filepath.IsAbs(providersFile) {
		configPath = providersFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		configPath = filepath.Join(wd, providersFile)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", providersFile, err)
	}

	var config providersConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", providersFile, err)
	}
	if len(config.Providers) == 0 {
		return nil, fmt.Errorf("no providers configured in %s", providersFile)
	}

	registry := NewRegistry()
	for i, cfg := range config.Providers {
		if cfg.Name == "" {
			return nil, fmt.Errorf("provider at index %d missing name", i)
		}
		if cfg.URL == "" {
			return nil, fmt.Errorf("provider at index %d missing url", i)
		}
		p, err := NewHTTPProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("unable to build provider %s: %w", cfg.Name, err)
		}
		registry.Register(p)
	}
	return registry, nil
}
