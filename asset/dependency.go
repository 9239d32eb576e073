package asset

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/h2non/filetype"
	"go.uber.org/zap"

	"stylepipe/css"
)

// Kind classifies external reference of a stylesheet.
type Kind int

const (
	// KindImport is a stylesheet merged at bundle time, removed from output.
	KindImport Kind = iota + 1
	// KindURL is an asset reference rewritten in place and kept in output.
	KindURL
	// KindComposes is a stylesheet referenced by "composes ... from", never
	// inlined.
	KindComposes
	// KindRuntime is a script module required by generated code.
	KindRuntime
)

func (k Kind) String() string {
	switch k {
	case KindImport:
		return "import"
	case KindURL:
		return "url"
	case KindComposes:
		return "composes"
	case KindRuntime:
		return "runtime"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Dependency is a single external reference discovered in a stylesheet.
type Dependency struct {
	// Specifier as written in the stylesheet.
	Specifier string
	Kind      Kind
	// Media condition of an import, may be empty.
	Media string
	Loc   css.Position
	// Dynamic is false only for references which must be loaded together
	// with the asset.
	Dynamic bool
	// Resolved is absolute path of url and composes references.
	Resolved string
}

// DepOptions describe dependency being recorded.
type DepOptions struct {
	// Kind defaults to KindImport for AddDependency and to KindURL for
	// AddURLDependency.
	Kind   Kind
	Media  string
	Loc    css.Position
	Static bool
}

// Sink receives dependencies of an asset. Implemented by the surrounding
// bundler, Collector is the default one.
type Sink interface {
	// AddDependency records mergeable or runtime dependency.
	AddDependency(spec string, opts DepOptions)
	// AddURLDependency records referenced file and returns its final
	// addressable form. Absolute URLs are returned unchanged.
	AddURLDependency(spec string, opts DepOptions) string
}

var schemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)

// IsURL reports whether specifier is an absolute or document-local
// reference which bundler never resolves.
func IsURL(spec string) bool {
	return schemeRe.MatchString(spec) || strings.HasPrefix(spec, "//") || strings.HasPrefix(spec, "#")
}

// stylesheets produce css bundles regardless of source language
var stylesheetExts = map[string]bool{
	".css":     true,
	".scss":    true,
	".sass":    true,
	".less":    true,
	".styl":    true,
	".stylus":  true,
	".pcss":    true,
	".postcss": true,
}

// Collector is the default Sink. It keeps dependencies of a single asset
// and names referenced files after their resolved paths.
type Collector struct {
	name      string
	rootDir   string
	publicURL string
	log       *zap.Logger

	deps  []Dependency
	index map[string]int
}

// NewCollector creates sink for asset name. Paths starting with "/" or "~"
// are resolved from rootDir, returned URLs are prefixed with publicURL.
func NewCollector(name, rootDir, publicURL string, log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{
		name:      name,
		rootDir:   rootDir,
		publicURL: publicURL,
		log:       log.Named("deps"),
		index:     make(map[string]int),
	}
}

// Dependencies returns recorded dependencies in discovery order.
func (c *Collector) Dependencies() []Dependency {
	return append([]Dependency(nil), c.deps...)
}

// add records dependency. Specifier seen before keeps its position, later
// options win.
func (c *Collector) add(dep Dependency) {
	if i, ok := c.index[dep.Specifier]; ok {
		c.deps[i] = dep
		return
	}
	c.index[dep.Specifier] = len(c.deps)
	c.deps = append(c.deps, dep)
}

func (c *Collector) AddDependency(spec string, opts DepOptions) {
	kind := opts.Kind
	if kind == 0 {
		kind = KindImport
	}
	c.add(Dependency{
		Specifier: spec,
		Kind:      kind,
		Media:     opts.Media,
		Loc:       opts.Loc,
		Dynamic:   !opts.Static,
	})
	c.log.Debug("Dependency", zap.String("asset", c.name), zap.Stringer("kind", kind), zap.String("spec", spec))
}

func (c *Collector) AddURLDependency(spec string, opts DepOptions) string {
	if spec == "" || IsURL(spec) {
		return spec
	}
	kind := opts.Kind
	if kind == 0 {
		kind = KindURL
	}

	pathname, suffix := splitURL(spec)
	resolved := c.resolve(pathname)
	c.add(Dependency{
		Specifier: spec,
		Kind:      kind,
		Loc:       opts.Loc,
		Dynamic:   !opts.Static,
		Resolved:  resolved,
	})

	out := bundleName(resolved)
	if c.publicURL != "" {
		out = strings.TrimSuffix(c.publicURL, "/") + "/" + out
	}
	out += suffix
	c.log.Debug("URL dependency", zap.String("asset", c.name), zap.Stringer("kind", kind),
		zap.String("spec", spec), zap.String("resolved", resolved), zap.String("url", out))
	return out
}

// splitURL separates path from query and fragment, path is unescaped.
func splitURL(spec string) (string, string) {
	pathname, suffix := spec, ""
	if i := strings.IndexAny(spec, "?#"); i >= 0 {
		pathname, suffix = spec[:i], spec[i:]
	}
	if p, err := url.PathUnescape(pathname); err == nil {
		pathname = p
	}
	return pathname, suffix
}

func (c *Collector) resolve(filename string) string {
	var path string
	switch {
	case strings.HasPrefix(filename, "~/"):
		path = filepath.Join(c.rootDir, filename[2:])
	case strings.HasPrefix(filename, "~"):
		path = filepath.Join(c.rootDir, "node_modules", filename[1:])
	case strings.HasPrefix(filename, "/"):
		path = filepath.Join(c.rootDir, filepath.FromSlash(filename))
	default:
		path = filepath.Join(filepath.Dir(c.name), filepath.FromSlash(filename))
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path
}

// bundleName is the name referenced file gets in the bundle: short hash of
// its resolved path plus extension of the produced type.
func bundleName(resolved string) string {
	ext := strings.ToLower(filepath.Ext(resolved))
	switch {
	case stylesheetExts[ext]:
		ext = ".css"
	case ext == "":
		if kind, err := filetype.MatchFile(resolved); err == nil && kind != filetype.Unknown {
			ext = "." + kind.Extension
		}
	}
	return fmt.Sprintf("%08x%s", uint32(xxhash.Sum64String(filepath.ToSlash(resolved))), ext)
}
