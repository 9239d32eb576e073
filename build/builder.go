// Package build implements program commands over stylesheet sources.
package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stylepipe/asset"
	"stylepipe/config"
	"stylepipe/source"
	"stylepipe/state"
	"stylepipe/transform"
)

// Settings control a single run, they start from configuration and may be
// overwritten from command line.
type Settings struct {
	OutDir     string
	PublicURL  string
	Minify     bool
	HMR        bool
	Modules    bool
	Workers    int
	Extensions []string
}

func SettingsFrom(cfg *config.PipelineConfig) Settings {
	return Settings{
		OutDir:     cfg.OutDir,
		PublicURL:  cfg.PublicURL,
		Minify:     cfg.Minify,
		HMR:        cfg.HMR,
		Modules:    cfg.Modules,
		Workers:    cfg.Workers,
		Extensions: cfg.Extensions,
	}
}

// Failure is a stylesheet which could not be processed.
type Failure struct {
	Name string
	Diag asset.Diagnostic
	Err  error
}

func (f *Failure) Error() string {
	if f.Diag.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", f.Name, f.Diag.Line, f.Diag.Column, f.Diag.Message)
	}
	return fmt.Sprintf("%s: %s", f.Name, f.Diag.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// Builder processes stylesheets with pipeline of the environment.
type Builder struct {
	env      *state.LocalEnv
	settings Settings
	log      *zap.Logger
}

// NewBuilder prepares environment pipeline if that has not been done yet.
func NewBuilder(env *state.LocalEnv, settings Settings) (*Builder, error) {
	if env.Pipeline == nil {
		if err := env.Prepare(); err != nil {
			return nil, err
		}
	}
	log := env.Log
	if log == nil {
		log = zap.NewNop()
	}
	if settings.Workers <= 0 {
		settings.Workers = runtime.NumCPU()
	}
	return &Builder{env: env, settings: settings, log: log.Named("build")}, nil
}

func (b *Builder) newAsset(name, contents string, rendition transform.Rendition) *asset.Asset {
	return asset.New(name, contents, asset.Options{
		RootDir:   b.env.Project.Root(),
		PublicURL: b.settings.PublicURL,
		Rendition: rendition,
		Minify:    b.settings.Minify,
		HMR:       b.settings.HMR,
		Pipeline:  b.env.Pipeline,
		Log:       b.log,
	})
}

// compile runs asset through all stages. Errors are returned as *Failure.
func (b *Builder) compile(ctx context.Context, name, contents string, rendition transform.Rendition) (*asset.Asset, []asset.Output, error) {
	a := b.newAsset(name, contents, rendition)
	out, err := a.Process(ctx)
	if err != nil {
		return nil, nil, b.failure(name, contents, err)
	}
	return a, out, nil
}

func (b *Builder) failure(name, contents string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	f := &Failure{Name: name, Diag: asset.Diagnose(err, contents), Err: err}
	frame := f.Diag.CodeFrame
	if config.EnableColorOutput(os.Stderr) {
		frame = f.Diag.HighlightedCodeFrame
	}
	if len(frame) > 0 {
		b.log.Error("Unable to process stylesheet", zap.String("file", name), zap.Error(f), zap.String("source", "\n"+frame))
	} else {
		b.log.Error("Unable to process stylesheet", zap.String("file", name), zap.Error(f))
	}
	return f
}

// forEach walks inputs and calls fn for every stylesheet found using
// limited number of workers. Failures of fn do not stop other stylesheets,
// all of them are returned together.
func (b *Builder) forEach(ctx context.Context, inputs []string, fn func(context.Context, source.File) error) (total int, err error) {
	var files []source.File
	for _, in := range inputs {
		err := source.Walk(ctx, in, b.settings.Extensions, func(f source.File) error {
			files = append(files, f)
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("unable to read input (%s): %w", in, err)
		}
	}
	if len(files) == 0 {
		b.log.Warn("Nothing to process", zap.Strings("inputs", inputs))
		return 0, nil
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	g.SetLimit(b.settings.Workers)
	for _, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, f); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	return len(files), multierr.Append(g.Wait(), errs)
}

// outputName replaces stylesheet extension with the one of output type.
func outputName(rel, typ string) string {
	return strings.TrimSuffix(rel, filepath.Ext(rel)) + "." + typ
}

// Build processes inputs writing generated files under output directory.
func (b *Builder) Build(ctx context.Context, inputs []string) error {
	total, err := b.forEach(ctx, inputs, func(ctx context.Context, f source.File) error {
		data, err := f.ReadAll()
		if err != nil {
			return fmt.Errorf("unable to read stylesheet (%s): %w", f.Name, err)
		}
		b.env.Rpt.StoreData(path.Join("input", filepath.ToSlash(f.Rel)), data)

		a, outputs, err := b.compile(ctx, f.Name, string(data), transform.Rendition{Modules: b.settings.Modules})
		if err != nil {
			return err
		}
		for _, out := range outputs {
			rel := outputName(f.Rel, out.Type)
			dst := filepath.Join(b.settings.OutDir, rel)
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return fmt.Errorf("unable to create output directory: %w", err)
			}
			if err := os.WriteFile(dst, []byte(out.Value), 0644); err != nil {
				return fmt.Errorf("unable to write output (%s): %w", dst, err)
			}
			b.env.Rpt.StoreData(path.Join("output", filepath.ToSlash(rel)), []byte(out.Value))
		}
		b.log.Debug("Stylesheet processed", zap.String("file", f.Name), zap.Int("outputs", len(outputs)), zap.Int("dependencies", len(a.Dependencies())))
		return nil
	})
	if total > 0 {
		failed := len(multierr.Errors(err))
		b.log.Info("Build completed", zap.Int("stylesheets", total), zap.Int("failed", failed), zap.String("destination", b.settings.OutDir))
	}
	return err
}
