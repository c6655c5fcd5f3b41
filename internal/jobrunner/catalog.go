package jobrunner

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Icon media types
const (
	MediaTypeHVIF = "application/x-vnd.haiku-icon"
	MediaTypePNG  = "image/png"
)

// Icon is one stored package icon. Size is zero for vector icons.
type Icon struct {
	MediaType string `db:"media_type"`
	Size      int    `db:"size"`
	Data      []byte `db:"data"`
	SHA256    string `db:"sha256"`
}

// IconStore persists package icons.
type IconStore interface {
	// PkgExists reports whether the package is known.
	PkgExists(ctx context.Context, pkgName string) (bool, error)

	// ReplaceIcons removes every icon of the package and stores icons in
	// their place, attributing the change to agent.
	ReplaceIcons(ctx context.Context, pkgName string, icons []Icon, agent string) error
}

// CategoryStore persists package category assignments.
type CategoryStore interface {
	// CategoryCodes returns every known category code.
	CategoryCodes(ctx context.Context) ([]string, error)

	// PkgCategories returns the package's category codes. ok is false
	// when the package is unknown.
	PkgCategories(ctx context.Context, pkgName string) (codes []string, ok bool, err error)

	// SetPkgCategories replaces the package's category codes.
	SetPkgCategories(ctx context.Context, pkgName string, codes []string, agent string) error
}

type memoryPkg struct {
	icons      []Icon
	categories []string
}

// MemoryCatalog is an in-process IconStore and CategoryStore.
type MemoryCatalog struct {
	mu            sync.RWMutex
	categories    map[string]struct{}
	pkgs          map[string]*memoryPkg
	modifications []string
}

// NewMemoryCatalog creates a catalog knowing the given category codes.
func NewMemoryCatalog(categoryCodes ...string) *MemoryCatalog {
	c := &MemoryCatalog{
		categories: make(map[string]struct{}),
		pkgs:       make(map[string]*memoryPkg),
	}
	for _, code := range categoryCodes {
		c.categories[code] = struct{}{}
	}
	return c
}

// AddPkg registers a package with its initial categories.
func (c *MemoryCatalog) AddPkg(name string, categoryCodes ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pkgs[name] = &memoryPkg{categories: sortedCopy(categoryCodes)}
}

// Icons returns the package's icons.
func (c *MemoryCatalog) Icons(name string) []Icon {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.pkgs[name]; ok {
		return slices.Clone(p.icons)
	}
	return nil
}

// Modifications returns the change log in order.
func (c *MemoryCatalog) Modifications() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.modifications)
}

// PkgExists implements IconStore.
func (c *MemoryCatalog) PkgExists(_ context.Context, name string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.pkgs[name]
	return ok, nil
}

// ReplaceIcons implements IconStore.
func (c *MemoryCatalog) ReplaceIcons(_ context.Context, name string, icons []Icon, agent string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pkgs[name]
	if !ok {
		return fmt.Errorf("pkg %q not found", name)
	}
	p.icons = slices.Clone(icons)
	for _, icon := range icons {
		c.modifications = append(c.modifications, fmt.Sprintf("%s: add icon for pkg [%s]; size [%d]; media type [%s]; sha256 [%s]",
			agent, name, icon.Size, icon.MediaType, icon.SHA256))
	}
	return nil
}

// CategoryCodes implements CategoryStore.
func (c *MemoryCatalog) CategoryCodes(context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.categories)), nil
}

// PkgCategories implements CategoryStore.
func (c *MemoryCatalog) PkgCategories(_ context.Context, name string) ([]string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pkgs[name]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(p.categories), true, nil
}

// SetPkgCategories implements CategoryStore.
func (c *MemoryCatalog) SetPkgCategories(_ context.Context, name string, codes []string, agent string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pkgs[name]
	if !ok {
		return fmt.Errorf("pkg %q not found", name)
	}
	p.categories = sortedCopy(codes)
	c.modifications = append(c.modifications, fmt.Sprintf("%s: set categories for pkg [%s] to %v", agent, name, p.categories))
	return nil
}

func sortedCopy(s []string) []string {
	out := slices.Clone(s)
	slices.Sort(out)
	return slices.Compact(out)
}

var (
	_ IconStore     = (*MemoryCatalog)(nil)
	_ CategoryStore = (*MemoryCatalog)(nil)
)
