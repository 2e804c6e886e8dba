// Package registry maps backend names to provider constructors. Adapter
// packages register themselves in init(), so importing an adapter makes it
// available to Connect by name — no deep type hierarchy, just a factory per
// backend.
package registry

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/strataio/strata/pkg/config"
	"github.com/strataio/strata/pkg/logger"
	"github.com/strataio/strata/pkg/provider/core"
	"github.com/strataio/strata/pkg/strataerrors"
)

// Factory creates a connected provider from a spec. The returned provider
// owns the spec's credentials for its lifetime.
type Factory func(ctx context.Context, spec *config.ProviderSpec) (core.Provider, error)

// Info describes a registered backend.
type Info struct {
	Name        string      `json:"name"`
	Family      core.Family `json:"family"`
	Description string      `json:"description"`
}

// Registry manages provider registration and connection.
type Registry struct {
	factories map[string]Factory
	info      map[string]Info
	mu        sync.RWMutex
	logger    *zap.Logger
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		info:      make(map[string]Info),
		logger:    logger.Get().With(zap.String("component", "provider_registry")),
	}
}

// Register adds a backend factory under the given name.
func (r *Registry) Register(info Info, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[info.Name]; exists {
		return strataerrors.Newf(strataerrors.KindInvalidInput, "provider %s already registered", info.Name)
	}

	r.factories[info.Name] = factory
	r.info[info.Name] = info
	r.logger.Info("provider registered",
		zap.String("name", info.Name),
		zap.String("family", string(info.Family)))
	return nil
}

// Connect creates a connected provider for the spec's backend.
func (r *Registry) Connect(ctx context.Context, spec *config.ProviderSpec) (core.Provider, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	factory, exists := r.factories[spec.Provider]
	r.mu.RUnlock()

	if !exists {
		return nil, strataerrors.Newf(strataerrors.KindNotFound, "provider %s not registered", spec.Provider)
	}

	provider, err := factory(ctx, spec)
	if err != nil {
		return nil, err
	}

	return provider, nil
}

// List returns the registered backends sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.info))
	for _, info := range r.info {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Register adds a backend factory to the global registry. Called from adapter
// init() functions; panics on duplicate registration since that is a
// programming error.
func Register(info Info, factory Factory) {
	if err := globalRegistry.Register(info, factory); err != nil {
		panic(err)
	}
}

// Connect creates a connected provider using the global registry.
func Connect(ctx context.Context, spec *config.ProviderSpec) (core.Provider, error) {
	return globalRegistry.Connect(ctx, spec)
}

// List returns the backends registered globally.
func List() []Info {
	return globalRegistry.List()
}
