package transform

import (
	"context"
	"fmt"
	"maps"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"stylepipe/css"
)

var (
	// ConfigFiles are file names searched for transform configuration,
	// nearest directory wins.
	ConfigFiles = []string{".cssrc", ".cssrc.json", ".cssrc.yaml", ".cssrc.yml", ".cssrc.toml"}
	// PackageKey is the package.json key holding transform configuration.
	PackageKey = "css"
	// MinifierConfigFiles hold explicit minifier options.
	MinifierConfigFiles = []string{".minifyrc", ".minifyrc.json", ".minifyrc.yaml"}
)

// ConfigSource discovers nearest project configuration. It returns nil node
// when nothing was found.
type ConfigSource interface {
	GetConfig(ctx context.Context, from string, candidates []string, packageKey string) (*yaml.Node, error)
}

// fileConfig is the shape of transform configuration file.
type fileConfig struct {
	Plugins pluginList `yaml:"plugins"`
	Parser  string     `yaml:"parser"`
	Modules bool       `yaml:"modules"`
}

// pluginList accepts either ordered mapping of plugin name to options or a
// sequence of names and single-key mappings.
type pluginList []PluginSpec

func (l *pluginList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			spec, err := pluginSpec(n.Content[i].Value, n.Content[i+1])
			if err != nil {
				return err
			}
			*l = append(*l, spec)
		}
	case yaml.SequenceNode:
		for _, item := range n.Content {
			switch item.Kind {
			case yaml.ScalarNode:
				*l = append(*l, PluginSpec{Name: item.Value})
			case yaml.MappingNode:
				if len(item.Content) != 2 {
					return fmt.Errorf("line %d: plugin entry must have exactly one name", item.Line)
				}
				spec, err := pluginSpec(item.Content[0].Value, item.Content[1])
				if err != nil {
					return err
				}
				*l = append(*l, spec)
			default:
				return fmt.Errorf("line %d: unexpected plugin entry", item.Line)
			}
		}
	case yaml.ScalarNode:
		if n.Tag != "!!null" {
			return fmt.Errorf("line %d: plugins should be a map or a list", n.Line)
		}
	default:
		return fmt.Errorf("line %d: plugins should be a map or a list", n.Line)
	}
	return nil
}

func pluginSpec(name string, v *yaml.Node) (PluginSpec, error) {
	spec := PluginSpec{Name: name}
	switch v.Kind {
	case yaml.ScalarNode:
		switch v.Tag {
		case "!!null":
		case "!!bool":
			var enabled bool
			if err := v.Decode(&enabled); err != nil {
				return spec, err
			}
			spec.Disabled = !enabled
		default:
			return spec, fmt.Errorf("line %d: options of plugin %q should be an object", v.Line, name)
		}
	case yaml.MappingNode:
		if err := v.Decode(&spec.Options); err != nil {
			return spec, fmt.Errorf("line %d: options of plugin %q: %w", v.Line, name, err)
		}
	default:
		return spec, fmt.Errorf("line %d: options of plugin %q should be an object", v.Line, name)
	}
	return spec, nil
}

// Chain is the plugin chain configuration of a single pass. It is built per
// asset and pass and never persisted.
type Chain struct {
	Plugins []Plugin
	// Parser replaces strict parser when building the document the chain
	// runs over.
	Parser  css.Parser
	Modules bool
	Minify  bool
	From    string
	To      string
}

type pass int

const (
	passModules pass = iota // resolves CSS-Modules names, never minifies
	passFinal               // identity scoping, minifies on request
)

func (p pass) String() string {
	if p == passModules {
		return "modules"
	}
	return "final"
}

// decodeConfig turns configuration node into fileConfig.
func decodeConfig(n *yaml.Node, file string) (*fileConfig, error) {
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return nil, &ConfigurationError{File: file, Reason: "config should be an object"}
	}
	var fc fileConfig
	if err := n.Decode(&fc); err != nil {
		return nil, &ConfigurationError{File: file, Reason: err.Error()}
	}
	return &fc, nil
}

// buildChain assembles plugin chain for the pass. Nil chain means there is
// nothing to do for the target.
func (p *Pipeline) buildChain(ctx context.Context, t Target, ps pass) (*Chain, error) {
	name := t.Name()

	var node *yaml.Node
	if p.configs != nil {
		var err error
		if node, err = p.configs.GetConfig(ctx, name, ConfigFiles, PackageKey); err != nil {
			return nil, fmt.Errorf("unable to load css config for %s: %w", name, err)
		}
	}

	enableModules := t.Rendition().Modules
	if node == nil && !t.Minify() && !enableModules {
		return nil, nil
	}

	fc := &fileConfig{}
	if node != nil {
		var err error
		if fc, err = decodeConfig(node, name); err != nil {
			return nil, err
		}
	}

	chain := &Chain{
		Modules: fc.Modules || enableModules,
		Minify:  t.Minify() && ps == passFinal,
		From:    name,
		To:      name,
	}

	if fc.Parser != "" {
		parser, err := p.registry.Parser(fc.Parser, name)
		if err != nil {
			return nil, err
		}
		chain.Parser = parser
	}

	modOpts := p.modulesOptions(t, ps)
	specs := make([]PluginSpec, 0, len(fc.Plugins))
	for _, spec := range fc.Plugins {
		if spec.Name == ModulesPluginName {
			// user options, pipeline callbacks take precedence
			merged := maps.Clone(spec.Options)
			if merged == nil {
				merged = make(map[string]any)
			}
			maps.Copy(merged, modOpts)
			modOpts = merged
			continue
		}
		specs = append(specs, spec)
	}

	plugins, err := p.registry.LoadPlugins(specs, name)
	if err != nil {
		return nil, err
	}
	chain.Plugins = plugins

	if chain.Modules {
		m, err := p.registry.Require(ModulesPluginName, name)
		if err != nil {
			return nil, err
		}
		pl, err := m.New(modOpts)
		if err != nil {
			return nil, fmt.Errorf("unable to create plugin %q: %w", ModulesPluginName, err)
		}
		chain.Plugins = append(chain.Plugins, pl)
	}

	if chain.Minify {
		m, err := p.registry.Require(p.minifier, name)
		if err != nil {
			return nil, err
		}
		opts, err := p.minifierOptions(ctx, name, m)
		if err != nil {
			return nil, err
		}
		pl, err := m.New(opts)
		if err != nil {
			return nil, fmt.Errorf("unable to create plugin %q: %w", m.Name, err)
		}
		chain.Plugins = append(chain.Plugins, pl)
	}

	p.log.Debug("Built plugin chain",
		zap.String("asset", name),
		zap.Stringer("pass", ps),
		zap.Int("plugins", len(chain.Plugins)),
		zap.Bool("modules", chain.Modules),
		zap.Bool("minify", chain.Minify),
		zap.Bool("parser", chain.Parser != nil))

	return chain, nil
}

func (p *Pipeline) modulesOptions(t Target, ps pass) map[string]any {
	if ps == passFinal {
		return map[string]any{
			"getJSON":            func(string, map[string]string) {},
			"generateScopedName": ScopedNameFunc(func(local, _, _ string) string { return local }),
		}
	}
	return map[string]any{
		"getJSON": func(_ string, m map[string]string) { t.SetClassMap(m) },
		"loader":  p.loaderFor(t.Name()),
	}
}

// minifierOptions come from explicit minifier configuration when present,
// otherwise safe mode is derived from minifier version.
func (p *Pipeline) minifierOptions(ctx context.Context, name string, m *Module) (map[string]any, error) {
	if p.configs != nil {
		node, err := p.configs.GetConfig(ctx, name, MinifierConfigFiles, "")
		if err != nil {
			return nil, fmt.Errorf("unable to load minifier config for %s: %w", name, err)
		}
		if node != nil {
			if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
				node = node.Content[0]
			}
			if node.Kind != yaml.MappingNode {
				return nil, &ConfigurationError{File: name, Reason: "minifier config should be an object"}
			}
			var opts map[string]any
			if err := node.Decode(&opts); err != nil {
				return nil, &ConfigurationError{File: name, Reason: err.Error()}
			}
			return opts, nil
		}
	}

	safe, err := SafeMode(m.Version)
	if err != nil {
		p.log.Debug("Unable to interpret minifier version, using full mode",
			zap.String("minifier", m.Name), zap.String("version", m.Version), zap.Error(err))
	}
	return map[string]any{"safe": safe}, nil
}
