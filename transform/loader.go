package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"stylepipe/css"
)

// Loader fetches a stylesheet referenced by composition and returns its
// exported class names. relativeTo is the file holding the reference.
type Loader interface {
	Fetch(ctx context.Context, path, relativeTo string) (map[string]string, error)
}

// trimQuotes removes one leading and one trailing quote character.
func trimQuotes(s string) string {
	if len(s) > 0 && (s[0] == '"' || s[0] == '\'') {
		s = s[1:]
	}
	if len(s) > 0 && (s[len(s)-1] == '"' || s[len(s)-1] == '\'') {
		s = s[:len(s)-1]
	}
	return s
}

type fetchChainKey struct{}

type scopingKey struct{}

// scoping is the part of CSS-Modules options composed files are scoped
// with.
type scoping struct {
	pattern    string
	hashPrefix string
	scopedName ScopedNameFunc
}

// withScoping makes loaders scope composed files the same way as the
// requesting file.
func withScoping(ctx context.Context, opts ModulesOptions) context.Context {
	return context.WithValue(ctx, scopingKey{}, scoping{
		pattern:    opts.Pattern,
		hashPrefix: opts.HashPrefix,
		scopedName: opts.ScopedName,
	})
}

// remoteRe matches URL schemes. Single letter is a drive on Windows.
var remoteRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]+:`)

func isRemote(path string) bool {
	return strings.HasPrefix(path, "//") || remoteRe.MatchString(path)
}

// FileSystemLoader reads composed stylesheets from disk and scopes them with
// CSS-Modules plugin. Results are cached per absolute path and scoping, loader
// is safe for concurrent use.
type FileSystemLoader struct {
	root string
	opts ModulesOptions
	log  *zap.Logger

	mu     sync.Mutex
	tokens map[string]map[string]string
}

// NewFileSystemLoader creates loader. Paths starting with "~/" are resolved
// from root, "~name" from root node_modules. opts are used when the caller
// does not pass its own scoping, Loader and GetJSON of opts are ignored.
func NewFileSystemLoader(root string, opts ModulesOptions, log *zap.Logger) *FileSystemLoader {
	if log == nil {
		log = zap.NewNop()
	}
	opts.GetJSON, opts.Loader = nil, nil
	return &FileSystemLoader{
		root:   root,
		opts:   opts,
		log:    log.Named("loader"),
		tokens: make(map[string]map[string]string),
	}
}

func (l *FileSystemLoader) resolve(path, relativeTo string) (string, error) {
	if isRemote(path) {
		return "", fmt.Errorf("unable to compose from remote stylesheet %s", path)
	}
	var file string
	switch {
	case strings.HasPrefix(path, "~/"):
		file = filepath.Join(l.root, path[2:])
	case strings.HasPrefix(path, "~"):
		file = filepath.Join(l.root, "node_modules", path[1:])
	case filepath.IsAbs(path):
		file = path
	default:
		file = filepath.Join(filepath.Dir(relativeTo), path)
	}
	return filepath.Abs(file)
}

func (l *FileSystemLoader) Fetch(ctx context.Context, path, relativeTo string) (map[string]string, error) {
	file, err := l.resolve(trimQuotes(path), relativeTo)
	if err != nil {
		return nil, err
	}

	opts := l.opts
	if s, ok := ctx.Value(scopingKey{}).(scoping); ok {
		opts.Pattern, opts.HashPrefix, opts.ScopedName = s.pattern, s.hashPrefix, s.scopedName
	}
	key := cacheKey(file, opts)

	l.mu.Lock()
	cached, ok := l.tokens[key]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}

	chain, _ := ctx.Value(fetchChainKey{}).([]string)
	if slices.Contains(chain, file) {
		return nil, fmt.Errorf("circular composition: %s", strings.Join(append(chain, file), " -> "))
	}
	ctx = context.WithValue(ctx, fetchChainKey{}, append(slices.Clip(chain), file))

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("unable to read composed stylesheet: %w", err)
	}
	doc, err := css.Parse(string(data), file)
	if err != nil {
		return nil, err
	}

	var tokens map[string]string
	opts.GetJSON = func(_ string, m map[string]string) { tokens = m }
	opts.Loader = l
	if _, err := NewModules(opts).Transform(ctx, doc, &ProcessOptions{From: file, To: file, Log: l.log}); err != nil {
		return nil, fmt.Errorf("unable to scope %s: %w", file, err)
	}

	l.mu.Lock()
	l.tokens[key] = tokens
	l.mu.Unlock()

	l.log.Debug("Fetched composed stylesheet", zap.String("file", file), zap.Int("classes", len(tokens)))
	return tokens, nil
}

// cacheKey identifies scoped names of file. Scoping functions are compared
// by address.
func cacheKey(file string, opts ModulesOptions) string {
	pattern := opts.Pattern
	if pattern == "" {
		pattern = DefaultScopedNamePattern
	}
	key := file + "\x00" + pattern + "\x00" + opts.HashPrefix
	if opts.ScopedName != nil {
		key += fmt.Sprintf("\x00%p", opts.ScopedName)
	}
	return key
}

// AliasLoader resolves package aliases of bare paths before delegating to
// wrapped loader. Paths starting with "~", "/" or "." and URLs are passed
// as is.
type AliasLoader struct {
	Delegate Loader
	Packages PackageSource
	Aliases  AliasResolver
	// From is the asset whose package manifest provides aliases.
	From string
}

func (l *AliasLoader) Fetch(ctx context.Context, path, relativeTo string) (map[string]string, error) {
	path = trimQuotes(path)
	if path != "" && path[0] != '~' && path[0] != '/' && path[0] != '.' && !isRemote(path) {
		pkg, err := l.Packages.Package(ctx, l.From)
		if err != nil {
			return nil, fmt.Errorf("unable to find package of %s: %w", l.From, err)
		}
		if path, err = l.Aliases.ResolveAliases(ctx, path, pkg); err != nil {
			return nil, fmt.Errorf("unable to resolve aliases: %w", err)
		}
	}
	return l.Delegate.Fetch(ctx, path, relativeTo)
}
