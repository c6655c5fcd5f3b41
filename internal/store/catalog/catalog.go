// Package catalog implements a natural-language repository backed by a YAML file.
//
// The file lists every known language and, per usage table, the codes of the
// languages that table references:
//
//	naturalLanguages:
//	  - languageCode: pt
//	    countryCode: BR
//	    name: Português (Brasil)
//	    isPopular: true
//	usage:
//	  user_rating: [pt-BR]
package catalog

import (
	"context"
	"fmt"
	"io"
	"os"

	"depot/internal/naturallanguage"

	"gopkg.in/yaml.v3"
)

type document struct {
	NaturalLanguages []naturallanguage.NaturalLanguage `yaml:"naturalLanguages"`
	Usage            map[string][]string               `yaml:"usage"`
}

// Repository serves a parsed catalog from memory. It is immutable once built.
type Repository struct {
	languages []naturallanguage.NaturalLanguage
	usage     map[naturallanguage.UsageTable][]naturallanguage.Coordinates
}

// Load reads and parses the catalog file at path.
func Load(path string) (*Repository, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	repo, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return repo, nil
}

// Parse decodes a catalog document. Unknown fields, unknown usage tables,
// invalid coordinates and usage codes naming no listed language are rejected.
func Parse(r io.Reader) (*Repository, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode: %w", err)
	}

	known := make(map[naturallanguage.Coordinates]struct{}, len(doc.NaturalLanguages))
	for i, nl := range doc.NaturalLanguages {
		if err := nl.Validate(); err != nil {
			return nil, fmt.Errorf("naturalLanguages[%d]: %w", i, err)
		}
		if _, dup := known[nl.Coordinates]; dup {
			return nil, fmt.Errorf("naturalLanguages[%d]: duplicate language %s", i, nl.Code())
		}
		if nl.Name == "" {
			return nil, fmt.Errorf("naturalLanguages[%d]: name is required", i)
		}
		known[nl.Coordinates] = struct{}{}
	}

	tables := make(map[naturallanguage.UsageTable]struct{}, len(naturallanguage.UsageTables))
	for _, t := range naturallanguage.UsageTables {
		tables[t] = struct{}{}
	}

	usage := make(map[naturallanguage.UsageTable][]naturallanguage.Coordinates, len(doc.Usage))
	for name, codes := range doc.Usage {
		table := naturallanguage.UsageTable(name)
		if _, ok := tables[table]; !ok {
			return nil, fmt.Errorf("usage: unknown table %q", name)
		}
		for _, code := range codes {
			coords, err := naturallanguage.ParseCode(code)
			if err != nil {
				return nil, fmt.Errorf("usage.%s: %w", name, err)
			}
			if _, ok := known[coords]; !ok {
				return nil, fmt.Errorf("usage.%s: %s is not a listed language", name, code)
			}
			usage[table] = append(usage[table], coords)
		}
	}

	return &Repository{languages: doc.NaturalLanguages, usage: usage}, nil
}

// AllNaturalLanguages implements naturallanguage.Repository.
func (r *Repository) AllNaturalLanguages(context.Context) ([]naturallanguage.NaturalLanguage, error) {
	out := make([]naturallanguage.NaturalLanguage, len(r.languages))
	copy(out, r.languages)
	return out, nil
}

// UsedCoordinates implements naturallanguage.Repository.
func (r *Repository) UsedCoordinates(_ context.Context, table naturallanguage.UsageTable) ([]naturallanguage.Coordinates, error) {
	used := r.usage[table]
	out := make([]naturallanguage.Coordinates, len(used))
	copy(out, used)
	return out, nil
}

var _ naturallanguage.Repository = (*Repository)(nil)
