package naturallanguage

import (
	"testing"

	"depot/internal/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinates_Code(t *testing.T) {
	t.Parallel()
	tests := []struct {
		coords   Coordinates
		expected string
	}{
		{NewCoordinates("en", "", ""), "en"},
		{NewCoordinates("zh", "Hans", ""), "zh-Hans"},
		{NewCoordinates("pt", "", "BR"), "pt-BR"},
		{NewCoordinates("zh", "Hant", "TW"), "zh-Hant-TW"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.coords.Code())
		})
	}
}

func TestCoordinates_RoundTrip(t *testing.T) {
	t.Parallel()
	for _, c := range []Coordinates{
		NewCoordinates("en", "", ""),
		NewCoordinates("en", "", "GB"),
		NewCoordinates("zh", "Hans", ""),
		NewCoordinates("zh", "Hant", "TW"),
		NewCoordinates("sr", "Latn", ""),
		NewCoordinates("de", "", "CH"),
	} {
		t.Run(c.Code(), func(t *testing.T) {
			t.Parallel()
			require.NoError(t, VerifyLocaleConversion(c))

			parsed, err := ParseCode(c.Code())
			require.NoError(t, err)
			assert.Equal(t, c, parsed)
		})
	}
}

func TestVerifyLocaleConversion_Mismatch(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		coords Coordinates
		errMsg string
	}{
		{"upper case language", NewCoordinates("EN", "", ""), "mismatched on language"},
		{"lower case country", NewCoordinates("pt", "", "br"), "mismatched on country"},
		{"lower case script", NewCoordinates("zh", "hans", ""), "mismatched on script"},
		{"deprecated language", NewCoordinates("iw", "", ""), "mismatched on language"},
		{"unparseable", NewCoordinates("not a language", "", ""), "cannot be parsed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := VerifyLocaleConversion(tt.coords)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrConsistency)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParseCode_Invalid(t *testing.T) {
	t.Parallel()
	for _, code := range []string{"", "en-gb", "und", "!!"} {
		_, err := ParseCode(code)
		assert.ErrorIs(t, err, apperrors.ErrValidation, "code %q", code)
	}
}

func TestCoordinates_Optionality(t *testing.T) {
	t.Parallel()
	c := NewCoordinates("pt", "", "BR")

	_, hasScript := c.Script()
	country, hasCountry := c.Country()

	assert.False(t, hasScript)
	assert.True(t, hasCountry)
	assert.Equal(t, "BR", country)
	assert.ErrorIs(t, Coordinates{}.Validate(), apperrors.ErrValidation)
}

func TestSet(t *testing.T) {
	t.Parallel()
	s := NewSet(NewCoordinates("fr", "", ""), NewCoordinates("en", "", ""), NewCoordinates("en", "", ""))

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains(NewCoordinates("en", "", "")))
	assert.False(t, s.Contains(NewCoordinates("de", "", "")))
	assert.Equal(t, []Coordinates{NewCoordinates("en", "", ""), NewCoordinates("fr", "", "")}, s.Sorted())
}
