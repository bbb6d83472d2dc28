package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/cache"
	"github.com/storefront/api/internal/repositories"
)

// Setting keys read by the pipeline.
const (
	SettingShippingDefaultCost   = "shipping.defaultShippingCost"
	SettingShippingFreeThreshold = "shipping.freeShippingThreshold"
	SettingAdminEmail            = "notifications.adminEmail"
)

const (
	defaultSettingsTTL = 5 * time.Minute
	maxSettingKeyLen   = 191
	maxSettingValueLen = 4096
)

var (
	// ErrSettingsInvalidInput signals a malformed key or value on write.
	ErrSettingsInvalidInput = errors.New("settings: invalid input")
	// ErrSettingsInvalidValue indicates a stored value cannot be read as the requested type.
	ErrSettingsInvalidValue = errors.New("settings: invalid value")
	// ErrSettingsUnavailable indicates the settings store could not be reached.
	ErrSettingsUnavailable = errors.New("settings: unavailable")
)

// SettingsServiceDeps bundles collaborators required to construct the settings service.
type SettingsServiceDeps struct {
	Settings repositories.SettingRepository
	Cache    cache.Store
	TTL      time.Duration
	Clock    func() time.Time
	Logger   Logger
}

type settingsService struct {
	settings repositories.SettingRepository
	cache    cache.Store
	ttl      time.Duration
	clock    func() time.Time
	logger   Logger
}

// NewSettingsService wires dependencies into a concrete SettingsService implementation.
func NewSettingsService(deps SettingsServiceDeps) (SettingsService, error) {
	if deps.Settings == nil {
		return nil, errors.New("settings service: setting repository is required")
	}
	store := deps.Cache
	if store == nil {
		store = cache.NewMemoryStore()
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultSettingsTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &settingsService{
		settings: deps.Settings,
		cache:    store,
		ttl:      ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Get returns the raw value and whether the key exists. Absent keys are cached too. A cache
// failure degrades to a direct store read.
func (s *settingsService) Get(ctx context.Context, key string) (string, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, fmt.Errorf("%w: key is required", ErrSettingsInvalidInput)
	}

	entry, hit, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger(ctx, "settings.cache.get.failed", map[string]any{"key": key, "error": err.Error()})
	} else if hit {
		return entry.Value, entry.Found, nil
	}

	setting, err := s.settings.Get(ctx, key)
	switch {
	case err == nil:
		entry = cache.Entry{Value: setting.Value, Found: true}
	case isRepoNotFound(err):
		entry = cache.Entry{}
	default:
		return "", false, fmt.Errorf("%w: %v", ErrSettingsUnavailable, err)
	}

	if err := s.cache.Set(ctx, key, entry, s.ttl); err != nil {
		s.logger(ctx, "settings.cache.set.failed", map[string]any{"key": key, "error": err.Error()})
	}
	return entry.Value, entry.Found, nil
}

// Decimal reads a decimal value such as "29.99".
func (s *settingsService) Decimal(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return decimal.Decimal{}, ok, err
	}
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, true, fmt.Errorf("%w: %s=%q is not a decimal", ErrSettingsInvalidValue, key, raw)
	}
	return value, true, nil
}

// Int reads a base-10 integer.
func (s *settingsService) Int(ctx context.Context, key string) (int64, bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("%w: %s=%q is not an integer", ErrSettingsInvalidValue, key, raw)
	}
	return value, true, nil
}

// Bool reads a boolean accepted by strconv.ParseBool.
func (s *settingsService) Bool(ctx context.Context, key string) (bool, bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, ok, err
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, true, fmt.Errorf("%w: %s=%q is not a boolean", ErrSettingsInvalidValue, key, raw)
	}
	return value, true, nil
}

// Duration reads a Go duration such as "90s".
func (s *settingsService) Duration(ctx context.Context, key string) (time.Duration, bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, true, fmt.Errorf("%w: %s=%q is not a duration", ErrSettingsInvalidValue, key, raw)
	}
	return value, true, nil
}

// Put stores a value and drops its cached entry.
func (s *settingsService) Put(ctx context.Context, key, value string) (domain.Setting, error) {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return domain.Setting{}, fmt.Errorf("%w: key is required", ErrSettingsInvalidInput)
	case len(key) > maxSettingKeyLen:
		return domain.Setting{}, fmt.Errorf("%w: key is too long", ErrSettingsInvalidInput)
	case strings.ContainsAny(key, " \t\r\n"):
		return domain.Setting{}, fmt.Errorf("%w: key must not contain whitespace", ErrSettingsInvalidInput)
	case len(value) > maxSettingValueLen:
		return domain.Setting{}, fmt.Errorf("%w: value is too long", ErrSettingsInvalidInput)
	}

	setting := domain.Setting{Key: key, Value: value, UpdatedAt: s.clock()}
	if err := s.settings.Put(ctx, setting); err != nil {
		return domain.Setting{}, fmt.Errorf("%w: %v", ErrSettingsUnavailable, err)
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		return setting, fmt.Errorf("settings: invalidate %s: %w", key, err)
	}
	return setting, nil
}

// Invalidate drops the given keys, or every cached key when none are given.
func (s *settingsService) Invalidate(ctx context.Context, keys ...string) error {
	cleaned := make([]string, 0, len(keys))
	for _, key := range keys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	var err error
	if len(cleaned) == 0 {
		err = s.cache.Clear(ctx)
	} else {
		err = s.cache.Delete(ctx, cleaned...)
	}
	if err != nil {
		return fmt.Errorf("settings: invalidate: %w", err)
	}
	s.logger(ctx, "settings.invalidated", map[string]any{"keys": cleaned, "all": len(cleaned) == 0})
	return nil
}
