package naturallanguage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"depot/internal/apperrors"

	"golang.org/x/text/language"
)

// NaturalLanguage is a natural language known to the domain store.
type NaturalLanguage struct {
	Coordinates `yaml:",inline"`
	Name        string `json:"name" yaml:"name"`
	IsPopular   bool   `json:"isPopular" yaml:"isPopular"`
}

// TitleKey is the message key holding the display title of the language.
func (n NaturalLanguage) TitleKey() string {
	return "naturalLanguage." + n.Code()
}

// UsageTable names a table whose rows reference a natural language.
type UsageTable string

const (
	UsageUserRating             UsageTable = "user_rating"
	UsagePkgLocalization        UsageTable = "pkg_localization"
	UsagePkgVersionLocalization UsageTable = "pkg_version_localization"
)

// UsageTables lists every table consulted for languages with data.
var UsageTables = []UsageTable{UsageUserRating, UsagePkgLocalization, UsagePkgVersionLocalization}

// Repository reads natural-language records and their usage.
type Repository interface {
	// AllNaturalLanguages returns every configured natural language.
	AllNaturalLanguages(ctx context.Context) ([]NaturalLanguage, error)

	// UsedCoordinates returns the distinct coordinates referenced by table.
	UsedCoordinates(ctx context.Context, table UsageTable) ([]Coordinates, error)
}

// MessageSource resolves a single message in a locale.
type MessageSource interface {
	Message(ctx context.Context, key string, locale language.Tag) (string, error)
}

// CacheRecorder is an optional interface for recording bundle cache metrics.
type CacheRecorder interface {
	RecordLocalizationCacheLookup(ctx context.Context, hit bool)
}

// Config holds the collaborators and settings of a Service.
type Config struct {
	Repository    Repository
	Resources     ResourceLoader
	BaseNames     []string      // merged in order; later resources override earlier ones
	MessageSource MessageSource // defaults to the service's own bundles
	CacheSize     int           // default 5
	CacheIdleTTL  time.Duration // default 1h
	Metrics       CacheRecorder
}

// Service answers natural-language and localization queries.
type Service struct {
	repo      Repository
	resources ResourceLoader
	baseNames []string
	messages  MessageSource
	cache     *bundleCache
	metrics   CacheRecorder
	logger    *slog.Logger

	localizedMu sync.Mutex
	localized   atomic.Pointer[Set]
}

// NewService creates a natural-language service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Repository == nil {
		return nil, errors.New("naturallanguage: repository is required")
	}
	if cfg.Resources == nil {
		return nil, errors.New("naturallanguage: resource loader is required")
	}
	for _, bn := range cfg.BaseNames {
		if err := ValidateBaseName(bn); err != nil {
			return nil, err
		}
	}

	s := &Service{
		repo:      cfg.Repository,
		resources: cfg.Resources,
		baseNames: append([]string(nil), cfg.BaseNames...),
		messages:  cfg.MessageSource,
		metrics:   cfg.Metrics,
		logger:    slog.With("component", "naturallanguage"),
	}
	s.cache = newBundleCache(cfg.CacheSize, cfg.CacheIdleTTL, s.assembleBundle)
	if s.messages == nil {
		s.messages = NewBundleMessageSource(s)
	}
	return s, nil
}

// GetAllLocalizationMessages returns every message available for coords.
func (s *Service) GetAllLocalizationMessages(ctx context.Context, coords Coordinates) (Bundle, error) {
	if err := coords.Validate(); err != nil {
		return Bundle{}, err
	}
	b, hit, err := s.cache.get(ctx, coords)
	if s.metrics != nil && err == nil {
		s.metrics.RecordLocalizationCacheLookup(ctx, hit)
	}
	return b, err
}

// assembleBundle merges the language-less defaults of every base name and then
// the language-specific resources of every base name.
func (s *Service) assembleBundle(ctx context.Context, coords Coordinates) (Bundle, error) {
	merged := make(map[string]string)
	for _, target := range []*Coordinates{nil, &coords} {
		for _, bn := range s.baseNames {
			messages, ok, err := s.resources.Load(ctx, bn, target)
			if err != nil {
				return Bundle{}, err
			}
			if !ok {
				continue
			}
			for k, v := range messages {
				merged[k] = v
			}
		}
	}
	s.logger.Debug("Assembled localization bundle", "code", coords.Code(), "messages", len(merged))
	return Bundle{messages: merged}, nil
}

func (s *Service) hasLocalizationMessages(ctx context.Context, coords Coordinates) (bool, error) {
	for _, bn := range s.baseNames {
		_, ok, err := s.resources.Load(ctx, bn, &coords)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// FindNaturalLanguagesWithLocalizationMessages returns the languages that have
// at least one language-specific resource. The result is computed once for
// the life of the service; a failed computation is retried on the next call.
func (s *Service) FindNaturalLanguagesWithLocalizationMessages(ctx context.Context) (Set, error) {
	if set := s.localized.Load(); set != nil {
		return *set, nil
	}

	s.localizedMu.Lock()
	defer s.localizedMu.Unlock()

	if set := s.localized.Load(); set != nil {
		return *set, nil
	}

	languages, err := s.repo.AllNaturalLanguages(ctx)
	if err != nil {
		return Set{}, err
	}
	var found []Coordinates
	for _, nl := range languages {
		ok, err := s.hasLocalizationMessages(ctx, nl.Coordinates)
		if err != nil {
			return Set{}, err
		}
		if ok {
			found = append(found, nl.Coordinates)
		}
	}

	set := NewSet(found...)
	s.localized.Store(&set)
	s.logger.Info("Found natural languages with localization", "count", set.Len())
	return set, nil
}

// FindNaturalLanguagesWithData returns every language referenced by user
// ratings, package localizations or package version localizations.
// Usage changes over time so this is never cached.
func (s *Service) FindNaturalLanguagesWithData(ctx context.Context) (Set, error) {
	var all []Coordinates
	for _, table := range UsageTables {
		coords, err := s.repo.UsedCoordinates(ctx, table)
		if err != nil {
			return Set{}, fmt.Errorf("usage of %s: %w", table, err)
		}
		all = append(all, coords...)
	}
	return NewSet(all...), nil
}

// GetAllSupportedCoordinates returns the coordinates of every known language, ordered by code.
func (s *Service) GetAllSupportedCoordinates(ctx context.Context) ([]Coordinates, error) {
	languages, err := s.GetAllNaturalLanguages(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Coordinates, len(languages))
	for i, nl := range languages {
		out[i] = nl.Coordinates
	}
	return out, nil
}

// GetAllNaturalLanguages returns every known language, ordered by code.
func (s *Service) GetAllNaturalLanguages(ctx context.Context) ([]NaturalLanguage, error) {
	languages, err := s.repo.AllNaturalLanguages(ctx)
	if err != nil {
		return nil, err
	}
	SortByCode(languages)
	return languages, nil
}

// Verify is the startup consistency check. Every language must have a title
// message in the default locale and a code that round-trips through the
// locale machinery. Any violation is a ConsistencyError.
func (s *Service) Verify(ctx context.Context) error {
	languages, err := s.repo.AllNaturalLanguages(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("Checking natural languages for compatibility", "count", len(languages))

	var violations []error
	for _, nl := range languages {
		if _, err := s.messages.Message(ctx, nl.TitleKey(), language.English); err != nil {
			violations = append(violations, apperrors.Consistency("naturallanguage",
				fmt.Sprintf("missing title localization [%s] for [%s]: %v", nl.TitleKey(), nl.Code(), err)))
		}
	}
	for _, nl := range languages {
		if err := VerifyLocaleConversion(nl.Coordinates); err != nil {
			violations = append(violations, err)
		}
	}
	return errors.Join(violations...)
}

// PurgeCache drops every cached bundle.
func (s *Service) PurgeCache() {
	s.cache.purge()
}

// CachedBundles returns the number of bundles currently cached.
func (s *Service) CachedBundles() int {
	return s.cache.len()
}
