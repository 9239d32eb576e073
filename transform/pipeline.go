package transform

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"stylepipe/css"
	"stylepipe/project"
)

// PackageSource finds package manifest governing a file.
type PackageSource interface {
	Package(ctx context.Context, from string) (*project.Package, error)
}

// AliasResolver maps bare specifier to a path using package aliases.
type AliasResolver interface {
	ResolveAliases(ctx context.Context, spec string, pkg *project.Package) (string, error)
}

// Pipeline runs asset documents through configured plugin chains. Single
// pipeline may serve many assets concurrently, per-asset state lives in
// the Target.
type Pipeline struct {
	registry *Registry
	configs  ConfigSource
	packages PackageSource
	aliases  AliasResolver
	minifier string
	fsLoader *FileSystemLoader
	log      *zap.Logger
}

// Option configures Pipeline.
type Option func(*Pipeline)

// WithRegistry replaces default plugin registry.
func WithRegistry(r *Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// WithConfigSource sets configuration loader. Without it every asset is
// treated as having no configuration.
func WithConfigSource(c ConfigSource) Option {
	return func(p *Pipeline) { p.configs = c }
}

// WithAliases enables package alias resolution for composed files.
func WithAliases(packages PackageSource, aliases AliasResolver) Option {
	return func(p *Pipeline) {
		p.packages = packages
		p.aliases = aliases
	}
}

// WithMinifier selects minifier plugin by registry name.
func WithMinifier(name string) Option {
	return func(p *Pipeline) {
		if name != "" {
			p.minifier = name
		}
	}
}

// WithLoader replaces file loader used to fetch composed files.
func WithLoader(l *FileSystemLoader) Option {
	return func(p *Pipeline) { p.fsLoader = l }
}

// WithLogger sets logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// New creates pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		minifier: MinifyPluginName,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.Named("transform")
	if p.registry == nil {
		p.registry = DefaultRegistry()
	}
	if p.fsLoader == nil {
		p.fsLoader = NewFileSystemLoader("", ModulesOptions{}, p.log)
	}
	return p
}

// Run transforms target document. First pass resolves CSS-Modules class
// names, second pass produces final text which is adopted by the target
// document. When there is no configuration and neither modules nor
// minification is requested Run does nothing.
func (p *Pipeline) Run(ctx context.Context, t Target) error {
	log := p.log.With(zap.String("asset", t.Name()))

	chain, err := p.buildChain(ctx, t, passModules)
	if err != nil {
		return err
	}
	if chain == nil {
		log.Debug("Nothing to transform")
		return nil
	}

	doc := t.Document()
	if chain.Parser != nil {
		if doc, err = doc.Reparse(chain.Parser); err != nil {
			return newTransformError("parser", t.Name(), err)
		}
	}
	res, err := p.process(ctx, chain, doc, log)
	if err != nil {
		return err
	}

	// normalize whatever representation plugins or custom parser left
	norm, err := css.ParseLenient(res.Render(), t.Name())
	if err != nil {
		return newTransformError("normalize", t.Name(), err)
	}
	if doc, err = css.Parse(norm.Render(), t.Name()); err != nil {
		return newTransformError("normalize", t.Name(), err)
	}
	t.SetDocument(doc)

	if err := ctx.Err(); err != nil {
		return err
	}

	if chain, err = p.buildChain(ctx, t, passFinal); err != nil {
		return err
	}
	if chain == nil {
		return nil
	}
	if res, err = p.process(ctx, chain, t.Document(), log); err != nil {
		return err
	}
	if err := t.Document().Adopt(res.Render()); err != nil {
		return newTransformError("adopt", t.Name(), err)
	}
	log.Debug("Transformed", zap.Int("bytes", len(t.Document().Render())))
	return nil
}

func (p *Pipeline) process(ctx context.Context, chain *Chain, doc *css.Document, log *zap.Logger) (*css.Document, error) {
	opts := &ProcessOptions{From: chain.From, To: chain.To, Log: log}
	for _, pl := range chain.Plugins {
		out, err := pl.Transform(ctx, doc, opts)
		if err != nil {
			return nil, newTransformError(pl.Name(), chain.From, err)
		}
		if out == nil {
			return nil, newTransformError(pl.Name(), chain.From, errors.New("plugin returned no document"))
		}
		doc = out
	}
	return doc, nil
}

// loaderFor returns loader used by CSS-Modules plugin to fetch composed
// files of the asset.
func (p *Pipeline) loaderFor(from string) Loader {
	if p.packages == nil || p.aliases == nil {
		return p.fsLoader
	}
	return &AliasLoader{
		Delegate: p.fsLoader,
		Packages: p.packages,
		Aliases:  p.aliases,
		From:     from,
	}
}
