package naturallanguage

import (
	"fmt"

	"depot/internal/apperrors"

	"golang.org/x/text/language"
)

// fromTag reads the explicitly given components of a tag without inferring
// likely subtags.
func fromTag(tag language.Tag) Coordinates {
	base, script, region := tag.Raw()
	var c Coordinates
	if b := base.String(); b != "und" {
		c.LanguageCode = b
	}
	if script != (language.Script{}) {
		c.ScriptCode = script.String()
	}
	if region != (language.Region{}) {
		c.CountryCode = region.String()
	}
	return c
}

// Tag converts coordinates to a language tag.
func (c Coordinates) Tag() (language.Tag, error) {
	return language.Parse(c.Code())
}

// VerifyLocaleConversion checks that the code of c survives a round trip
// through the locale machinery with every component intact.
func VerifyLocaleConversion(c Coordinates) error {
	tag, err := c.Tag()
	if err != nil {
		return apperrors.Consistency("naturallanguage", fmt.Sprintf("locale representation on [%s] cannot be parsed: %v", c, err))
	}
	got := fromTag(tag)
	switch {
	case got.LanguageCode != c.LanguageCode:
		return mismatch(c, "language")
	case got.CountryCode != c.CountryCode:
		return mismatch(c, "country")
	case got.ScriptCode != c.ScriptCode:
		return mismatch(c, "script")
	case tag.String() != c.Code():
		return mismatch(c, "language-tag / code")
	}
	return nil
}

func mismatch(c Coordinates, component string) error {
	return apperrors.Consistency("naturallanguage", fmt.Sprintf("locale representation on [%s] mismatched on %s", c, component))
}
