package transform

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"

	"stylepipe/css"
)

// ProcessOptions is passed to every plugin in a chain.
type ProcessOptions struct {
	// From and To are the asset path, used for diagnostics and relative
	// resolution.
	From string
	To   string
	Log  *zap.Logger
}

// Plugin is a single step of a transform chain. Plugin may change document
// in place and return it or return a new document.
type Plugin interface {
	Name() string
	Transform(ctx context.Context, doc *css.Document, opts *ProcessOptions) (*css.Document, error)
}

// Factory creates plugin instance from options found in configuration.
// Options may be nil.
type Factory func(opts map[string]any) (Plugin, error)

// Module is a registered plugin implementation.
type Module struct {
	Name    string
	Version string
	New     Factory
}

// PluginSpec names a plugin and its options as found in configuration.
type PluginSpec struct {
	Name    string
	Options map[string]any
	// Disabled plugins are listed in configuration with "false".
	Disabled bool
}

// Registry maps plugin and parser names to implementations. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*Module
	parsers map[string]css.Parser
}

// NewRegistry returns empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]*Module),
		parsers: make(map[string]css.Parser),
	}
}

// DefaultRegistry returns registry with all built-in plugins and parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ModulesPluginName, func(opts map[string]any) (Plugin, error) {
		mo, err := decodeModulesOptions(opts)
		if err != nil {
			return nil, err
		}
		return NewModules(mo), nil
	})
	r.RegisterVersion(MinifyPluginName, esbuildVersion(), newMinifier)
	r.Register("strip-comments", newStripComments)
	r.Register("banner", newBanner)
	r.Register("prefix-selectors", newPrefixSelectors)
	r.RegisterParser("css", css.Strict)
	r.RegisterParser("safe", css.Lenient)
	return r
}

// Register adds plugin factory under name replacing previous registration.
func (r *Registry) Register(name string, f Factory) {
	r.RegisterVersion(name, "", f)
}

// RegisterVersion adds plugin factory together with its semantic version.
func (r *Registry) RegisterVersion(name, version string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[name] = &Module{Name: name, Version: version, New: f}
}

// RegisterParser adds alternate stylesheet parser.
func (r *Registry) RegisterParser(name string, p css.Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[name] = p
}

// Names returns sorted names of registered plugins.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.modules))
}

// Require looks up plugin module by name. contextPath is the asset the
// request originates from and is only used in error message.
func (r *Registry) Require(name, contextPath string) (*Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("cannot find plugin %q from %q", name, contextPath)
	}
	return m, nil
}

// Parser looks up alternate parser by name.
func (r *Registry) Parser(name, contextPath string) (css.Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[name]
	if !ok {
		return nil, fmt.Errorf("cannot find parser %q from %q", name, contextPath)
	}
	return p, nil
}

// LoadPlugins instantiates plugins in configuration order skipping disabled
// ones.
func (r *Registry) LoadPlugins(specs []PluginSpec, contextPath string) ([]Plugin, error) {
	plugins := make([]Plugin, 0, len(specs))
	for _, spec := range specs {
		if spec.Disabled {
			continue
		}
		m, err := r.Require(spec.Name, contextPath)
		if err != nil {
			return nil, err
		}
		p, err := m.New(spec.Options)
		if err != nil {
			return nil, fmt.Errorf("unable to create plugin %q: %w", spec.Name, err)
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}
