package frameworks

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed configs/*.yaml
var builtinConfigs embed.FS

// Catalog holds the loaded framework configurations
type Catalog struct {
	mu         sync.RWMutex
	frameworks map[FrameworkID]*Framework
}

// NewCatalog creates a catalog with the built-in framework configurations
func NewCatalog() (*Catalog, error) {
	c := &Catalog{frameworks: make(map[FrameworkID]*Framework)}
	if err := c.LoadFS(builtinConfigs, "configs"); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadDir loads framework YAML files from a directory, replacing built-ins
// with the same id
func (c *Catalog) LoadDir(dir string) error {
	return c.LoadFS(os.DirFS(dir), ".")
}

// LoadFS loads every *.yaml file under root
func (c *Catalog) LoadFS(fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return fmt.Errorf("failed to read framework configs: %w", err)
	}

	loaded := make(map[FrameworkID]*Framework)
	for _, entry := range entries {
		if entry.IsDir() || !(strings.HasSuffix(entry.Name(), ".yaml") || strings.HasSuffix(entry.Name(), ".yml")) {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(root, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		f, err := ParseFramework(data)
		if err != nil {
			return fmt.Errorf("%s: %w", entry.Name(), err)
		}
		loaded[f.ID] = f
	}

	c.mu.Lock()
	for id, f := range loaded {
		c.frameworks[id] = f
	}
	c.mu.Unlock()
	return nil
}

// ParseFramework decodes and validates one framework configuration
func ParseFramework(data []byte) (*Framework, error) {
	var f Framework
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse framework config: %w", err)
	}
	f.ID = ParseFrameworkID(string(f.ID))
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Register adds or replaces a framework
func (c *Catalog) Register(f *Framework) error {
	if err := f.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frameworks[f.ID] = f
	return nil
}

// Get returns the framework configuration for id
func (c *Catalog) Get(id FrameworkID) (*Framework, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.frameworks[ParseFrameworkID(string(id))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFramework, id)
	}
	return f, nil
}

// List returns all frameworks ordered by id
func (c *Catalog) List() []*Framework {
	c.mu.RLock()
	out := make([]*Framework, 0, len(c.frameworks))
	for _, f := range c.frameworks {
		out = append(out, f)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
