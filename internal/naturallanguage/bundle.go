package naturallanguage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"slices"
	"strings"

	"depot/internal/apperrors"

	"github.com/magiconair/properties"
)

// Bundle is an immutable set of localization messages keyed by message key.
type Bundle struct {
	messages map[string]string
}

// NewBundle copies messages into a new bundle.
func NewBundle(messages map[string]string) Bundle {
	return Bundle{messages: maps.Clone(messages)}
}

// Get returns the message for key.
func (b Bundle) Get(key string) (string, bool) {
	v, ok := b.messages[key]
	return v, ok
}

// Len returns the number of messages.
func (b Bundle) Len() int { return len(b.messages) }

// Keys returns the message keys in sorted order.
func (b Bundle) Keys() []string {
	return slices.Sorted(maps.Keys(b.messages))
}

// Map returns a copy of the messages.
func (b Bundle) Map() map[string]string {
	return maps.Clone(b.messages)
}

// ResourceLoader resolves a message resource by base name. A nil coords
// selects the language-less default resource. An absent or empty resource
// yields ok == false.
type ResourceLoader interface {
	Load(ctx context.Context, baseName string, coords *Coordinates) (messages map[string]string, ok bool, err error)
}

// FSResourceLoader reads Java-style .properties files from a file system:
// "<base>.properties" for defaults and "<base>_<code>.properties" per language.
type FSResourceLoader struct {
	fsys fs.FS
}

// NewFSResourceLoader creates a loader over fsys.
func NewFSResourceLoader(fsys fs.FS) *FSResourceLoader {
	return &FSResourceLoader{fsys: fsys}
}

// ResourceName returns the file name for a base name and optional coordinates.
func ResourceName(baseName string, coords *Coordinates) string {
	if coords == nil {
		return baseName + ".properties"
	}
	return baseName + "_" + coords.Code() + ".properties"
}

// ValidateBaseName rejects base names that cannot name a resource.
func ValidateBaseName(baseName string) error {
	switch {
	case baseName == "":
		return apperrors.Validation("baseName", "message base name is required")
	case strings.HasSuffix(baseName, ".properties"):
		return apperrors.Validation("baseName", fmt.Sprintf("the base name [%s] must not carry the .properties suffix", baseName))
	case !fs.ValidPath(baseName):
		return apperrors.Validation("baseName", fmt.Sprintf("the base name [%s] is not a valid resource path", baseName))
	}
	return nil
}

// Load implements ResourceLoader.
func (l *FSResourceLoader) Load(_ context.Context, baseName string, coords *Coordinates) (map[string]string, bool, error) {
	if err := ValidateBaseName(baseName); err != nil {
		return nil, false, err
	}
	name := path.Clean(ResourceName(baseName, coords))
	data, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, apperrors.Storage("naturallanguage.loadResource", err)
	}

	loader := properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(data)
	if err != nil {
		return nil, false, apperrors.Internal("naturallanguage.parseResource", fmt.Errorf("%s: %w", name, err))
	}
	if p.Len() == 0 {
		return nil, false, nil
	}
	return p.Map(), true, nil
}

var _ ResourceLoader = (*FSResourceLoader)(nil)
