// Package naturallanguage resolves natural-language coordinates and serves
// cached localization message bundles.
package naturallanguage

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"depot/internal/apperrors"

	"golang.org/x/text/language"
)

// Coordinates identifies a natural language variant by its language, script
// and country codes. Only the language is mandatory; an empty script or
// country means the component is absent.
//
// Coordinates is comparable and is used directly as a map and cache key.
type Coordinates struct {
	LanguageCode string `json:"languageCode" yaml:"languageCode"`
	ScriptCode   string `json:"scriptCode,omitempty" yaml:"scriptCode,omitempty"`
	CountryCode  string `json:"countryCode,omitempty" yaml:"countryCode,omitempty"`
}

// Coded is implemented by anything that can be located by coordinates.
type Coded interface {
	Coords() Coordinates
}

// English is the default locale for the startup message check.
var English = Coordinates{LanguageCode: "en"}

// NewCoordinates builds coordinates from the three components.
func NewCoordinates(languageCode, scriptCode, countryCode string) Coordinates {
	return Coordinates{LanguageCode: languageCode, ScriptCode: scriptCode, CountryCode: countryCode}
}

// Coords returns c so that Coordinates satisfies Coded.
func (c Coordinates) Coords() Coordinates { return c }

// Script returns the script code and whether one is present.
func (c Coordinates) Script() (string, bool) { return c.ScriptCode, c.ScriptCode != "" }

// Country returns the country code and whether one is present.
func (c Coordinates) Country() (string, bool) { return c.CountryCode, c.CountryCode != "" }

// Code returns the canonical tag form, e.g. "en", "zh-Hans", "pt-BR".
func (c Coordinates) Code() string {
	var b strings.Builder
	b.WriteString(c.LanguageCode)
	if c.ScriptCode != "" {
		b.WriteByte('-')
		b.WriteString(c.ScriptCode)
	}
	if c.CountryCode != "" {
		b.WriteByte('-')
		b.WriteString(c.CountryCode)
	}
	return b.String()
}

// String implements fmt.Stringer.
func (c Coordinates) String() string {
	return c.Code()
}

// WithoutScript drops the script component.
func (c Coordinates) WithoutScript() Coordinates {
	return Coordinates{LanguageCode: c.LanguageCode, CountryCode: c.CountryCode}
}

// LanguageOnly keeps only the language component.
func (c Coordinates) LanguageOnly() Coordinates {
	return Coordinates{LanguageCode: c.LanguageCode}
}

// Validate checks that the mandatory language code is present.
func (c Coordinates) Validate() error {
	if c.LanguageCode == "" {
		return apperrors.Validation("languageCode", "natural language coordinates require a language code")
	}
	return nil
}

// ParseCode parses a canonical code such as "zh-Hans-TW" into coordinates.
// The code must already be in canonical form.
func ParseCode(code string) (Coordinates, error) {
	if code == "" {
		return Coordinates{}, apperrors.Validation("code", "natural language code is required")
	}
	tag, err := language.Parse(code)
	if err != nil {
		return Coordinates{}, apperrors.Validation("code", fmt.Sprintf("malformed natural language code %q", code))
	}
	c := fromTag(tag)
	if c.LanguageCode == "" || c.Code() != code {
		return Coordinates{}, apperrors.Validation("code", fmt.Sprintf("natural language code %q is not canonical", code))
	}
	return c, nil
}

// CompareByCode orders coordinates by their canonical code.
func CompareByCode(a, b Coordinates) int {
	return cmp.Compare(a.Code(), b.Code())
}

// SortByCode sorts items in place by the canonical code of their coordinates.
func SortByCode[T Coded](items []T) {
	slices.SortFunc(items, func(a, b T) int {
		return CompareByCode(a.Coords(), b.Coords())
	})
}

// Set is an immutable set of coordinates.
type Set struct {
	m map[Coordinates]struct{}
}

// NewSet creates a set holding the given coordinates.
func NewSet(coords ...Coordinates) Set {
	m := make(map[Coordinates]struct{}, len(coords))
	for _, c := range coords {
		m[c] = struct{}{}
	}
	return Set{m: m}
}

// Contains reports whether c is in the set.
func (s Set) Contains(c Coordinates) bool {
	_, ok := s.m[c]
	return ok
}

// Len returns the number of coordinates in the set.
func (s Set) Len() int { return len(s.m) }

// Sorted returns the members ordered by code.
func (s Set) Sorted() []Coordinates {
	out := make([]Coordinates, 0, len(s.m))
	for c := range s.m {
		out = append(out, c)
	}
	SortByCode(out)
	return out
}
