package project

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Package is a package manifest.
type Package struct {
	Name    string            `json:"name"`
	Version string            `json:"version"`
	Alias   map[string]string `json:"alias"`
	// Dir is the directory holding manifest, project root when there is
	// none.
	Dir string `json:"-"`

	fields map[string]json.RawMessage
}

// Field returns manifest field converted to yaml node, nil when field is
// absent.
func (pkg *Package) Field(key string) (*yaml.Node, error) {
	raw, ok := pkg.fields[key]
	if !ok {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		return nil, fmt.Errorf("unable to convert %q of %s: %w", key, filepath.Join(pkg.Dir, ManifestName), err)
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		n := doc.Content[0]
		if n.Tag == "!!null" {
			return nil, nil
		}
		return n, nil
	}
	return nil, nil
}

// Package returns nearest package manifest of a file. When there is no
// manifest up to the project root, empty package rooted at project root is
// returned.
func (p *Project) Package(ctx context.Context, from string) (*Package, error) {
	dirs, err := p.parents(from)
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pkg, ok := p.packages.Get(dir); ok {
			if pkg != nil {
				return pkg, nil
			}
			continue
		}
		pkg, err := readPackage(dir)
		if err != nil {
			return nil, err
		}
		p.packages.Add(dir, pkg)
		if pkg != nil {
			p.log.Debug("Found package", zap.String("dir", dir), zap.String("name", pkg.Name))
			return pkg, nil
		}
	}
	return &Package{Dir: p.root}, nil
}

func readPackage(dir string) (*Package, error) {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read package: %w", err)
	}
	pkg := &Package{Dir: dir}
	if err := json.Unmarshal(data, pkg); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &pkg.fields); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}
	return pkg, nil
}

// ResolveAliases maps specifier through "alias" field of the package. Exact
// match wins over the longest matching "prefix/" entry. Relative alias
// targets are resolved from package directory, specifier without matching
// alias is returned unchanged.
func (p *Project) ResolveAliases(_ context.Context, spec string, pkg *Package) (string, error) {
	if pkg == nil || len(pkg.Alias) == 0 {
		return spec, nil
	}

	target, rest, ok := "", "", false
	if t, found := pkg.Alias[spec]; found {
		target, ok = t, true
	} else {
		best := ""
		for k, t := range pkg.Alias {
			if strings.HasPrefix(spec, k+"/") && len(k) > len(best) {
				best, target = k, t
			}
		}
		if best != "" {
			rest, ok = spec[len(best):], true
		}
	}
	if !ok {
		return spec, nil
	}
	if target == "" {
		return "", fmt.Errorf("alias for %q is empty", spec)
	}

	resolved := target + rest
	switch {
	case strings.HasPrefix(target, "./"), strings.HasPrefix(target, "../"), target == ".":
		resolved = filepath.Join(pkg.Dir, filepath.FromSlash(resolved))
	case strings.HasPrefix(target, "/"):
		resolved = filepath.Join(p.root, filepath.FromSlash(resolved))
	}
	p.log.Debug("Resolved alias", zap.String("spec", spec), zap.String("resolved", resolved))
	return resolved, nil
}
