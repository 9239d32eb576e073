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

	lru "github.com/hashicorp/golang-lru/v2"
	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ManifestName is the package manifest file name.
const ManifestName = "package.json"

const cacheSize = 512

// Project gives access to configuration files and package manifests of a
// source tree. Lookups walk up from a file to the project root and are
// cached, Project is safe for concurrent use.
type Project struct {
	root string
	log  *zap.Logger

	configs  *lru.Cache[string, *yaml.Node]
	packages *lru.Cache[string, *Package]
}

// New creates project rooted at dir.
func New(dir string, log *zap.Logger) (*Project, error) {
	if log == nil {
		log = zap.NewNop()
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve project root: %w", err)
	}
	configs, err := lru.New[string, *yaml.Node](cacheSize)
	if err != nil {
		return nil, err
	}
	packages, err := lru.New[string, *Package](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Project{
		root:     root,
		log:      log.Named("project"),
		configs:  configs,
		packages: packages,
	}, nil
}

// Root returns absolute project root.
func (p *Project) Root() string { return p.root }

// parents returns directories from the one holding file up to project
// root, or to the file system root when file is outside of the project.
func (p *Project) parents(from string) ([]string, error) {
	abs, err := filepath.Abs(from)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for dir := filepath.Dir(abs); ; {
		dirs = append(dirs, dir)
		if dir == p.root {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return dirs, nil
}

// GetConfig finds configuration nearest to file. Package manifest key takes
// precedence over candidate files found in the same or upper directories.
// It returns nil when nothing is found.
func (p *Project) GetConfig(ctx context.Context, from string, candidates []string, packageKey string) (*yaml.Node, error) {
	if packageKey != "" {
		pkg, err := p.Package(ctx, from)
		if err != nil {
			return nil, err
		}
		if n, err := pkg.Field(packageKey); err != nil || n != nil {
			return n, err
		}
	}

	dirs, err := p.parents(from)
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := p.configIn(dir, candidates)
		if err != nil || n != nil {
			return n, err
		}
	}
	return nil, nil
}

func (p *Project) configIn(dir string, candidates []string) (*yaml.Node, error) {
	key := dir + "\x00" + strings.Join(candidates, "\x00")
	if n, ok := p.configs.Get(key); ok {
		return n, nil
	}

	var found *yaml.Node
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("unable to read config: %w", err)
		}
		if found, err = decodeConfig(path, data); err != nil {
			return nil, err
		}
		p.log.Debug("Found config", zap.String("file", path))
		break
	}
	p.configs.Add(key, found)
	return found, nil
}

// decodeConfig converts configuration file of any supported format into
// yaml node.
func decodeConfig(path string, data []byte) (*yaml.Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}

	if filepath.Ext(path) == ".toml" {
		var m map[string]any
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("unable to parse %s: %w", path, err)
		}
		n := &yaml.Node{}
		if err := n.Encode(m); err != nil {
			return nil, fmt.Errorf("unable to convert %s: %w", path, err)
		}
		return n, nil
	}

	// JSON is accepted by yaml decoder, tabs are not
	if trimmed := bytes.TrimSpace(data); trimmed[0] == '{' || trimmed[0] == '[' {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err == nil {
			data = buf.Bytes()
		}
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return doc.Content[0], nil
	}
	return &doc, nil
}
