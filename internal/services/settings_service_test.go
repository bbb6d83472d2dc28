package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/storefront/api/internal/platform/cache"
)

func TestSettingsCachesValuesAndAbsence(t *testing.T) {
	repo := &stubSettingRepo{values: map[string]string{SettingShippingDefaultCost: "29.99"}}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := cache.NewMemoryStore(cache.WithClock(func() time.Time { return now }))
	svc, err := NewSettingsService(SettingsServiceDeps{Settings: repo, Cache: store, TTL: time.Minute})
	if err != nil {
		t.Fatalf("new settings service: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		value, ok, err := svc.Decimal(ctx, SettingShippingDefaultCost)
		if err != nil || !ok || value.String() != "29.99" {
			t.Fatalf("unexpected decimal %s %v %v", value, ok, err)
		}
		if _, ok, err := svc.Get(ctx, "missing.key"); err != nil || ok {
			t.Fatalf("expected missing key, got %v %v", ok, err)
		}
	}
	if repo.gets != 2 {
		t.Fatalf("expected two store reads, got %d", repo.gets)
	}

	now = now.Add(2 * time.Minute)
	if _, _, err := svc.Get(ctx, SettingShippingDefaultCost); err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if repo.gets != 3 {
		t.Fatalf("expected expired entry to be reloaded, got %d reads", repo.gets)
	}
}

func TestSettingsPutInvalidatesKey(t *testing.T) {
	repo := &stubSettingRepo{values: map[string]string{SettingShippingFreeThreshold: "500"}}
	svc, err := NewSettingsService(SettingsServiceDeps{Settings: repo})
	if err != nil {
		t.Fatalf("new settings service: %v", err)
	}
	ctx := context.Background()

	if value, _, _ := svc.Get(ctx, SettingShippingFreeThreshold); value != "500" {
		t.Fatalf("unexpected value %s", value)
	}
	if _, err := svc.Put(ctx, SettingShippingFreeThreshold, "750"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if value, _, _ := svc.Get(ctx, SettingShippingFreeThreshold); value != "750" {
		t.Fatalf("expected fresh value after put, got %s", value)
	}
	if _, err := svc.Put(ctx, "bad key", "x"); !errors.Is(err, ErrSettingsInvalidInput) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}

func TestSettingsInvalidateAll(t *testing.T) {
	repo := &stubSettingRepo{values: map[string]string{"a": "1", "b": "true"}}
	svc, err := NewSettingsService(SettingsServiceDeps{Settings: repo})
	if err != nil {
		t.Fatalf("new settings service: %v", err)
	}
	ctx := context.Background()
	if v, ok, err := svc.Int(ctx, "a"); err != nil || !ok || v != 1 {
		t.Fatalf("unexpected int %d %v %v", v, ok, err)
	}
	if v, ok, err := svc.Bool(ctx, "b"); err != nil || !ok || !v {
		t.Fatalf("unexpected bool %v %v %v", v, ok, err)
	}
	repo.values["a"] = "2"
	if err := svc.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if v, _, _ := svc.Int(ctx, "a"); v != 2 {
		t.Fatalf("expected reload after invalidate, got %d", v)
	}
}

func TestSettingsTypedErrors(t *testing.T) {
	repo := &stubSettingRepo{values: map[string]string{"n": "abc", "d": "5 minutes"}}
	svc, _ := NewSettingsService(SettingsServiceDeps{Settings: repo})
	ctx := context.Background()
	if _, ok, err := svc.Int(ctx, "n"); !ok || !errors.Is(err, ErrSettingsInvalidValue) {
		t.Fatalf("expected invalid value, got %v %v", ok, err)
	}
	if _, _, err := svc.Duration(ctx, "d"); !errors.Is(err, ErrSettingsInvalidValue) {
		t.Fatalf("expected invalid duration, got %v", err)
	}

	down := &stubSettingRepo{getErr: errStubUnavailable}
	svc, _ = NewSettingsService(SettingsServiceDeps{Settings: down})
	if _, _, err := svc.Get(ctx, "any"); !errors.Is(err, ErrSettingsUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
