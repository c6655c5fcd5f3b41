package naturallanguage

import (
	"context"

	"depot/internal/apperrors"

	"golang.org/x/text/language"
)

// BundleMessageSource resolves messages from the service's assembled bundles.
type BundleMessageSource struct {
	svc *Service
}

// NewBundleMessageSource creates a message source backed by svc.
func NewBundleMessageSource(svc *Service) *BundleMessageSource {
	return &BundleMessageSource{svc: svc}
}

// Message implements MessageSource.
func (m *BundleMessageSource) Message(ctx context.Context, key string, locale language.Tag) (string, error) {
	coords := fromTag(locale)
	if coords.LanguageCode == "" {
		coords = English
	}
	b, err := m.svc.GetAllLocalizationMessages(ctx, coords)
	if err != nil {
		return "", err
	}
	msg, ok := b.Get(key)
	if !ok {
		return "", apperrors.NotFound("message", key)
	}
	return msg, nil
}

var _ MessageSource = (*BundleMessageSource)(nil)
