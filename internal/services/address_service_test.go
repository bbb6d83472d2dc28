package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/storefront/api/internal/domain"
)

func TestResolveAddressReusesExisting(t *testing.T) {
	existing := domain.Address{ID: "addr-1", CustomerID: "c1"}
	var seenHash string
	repo := &stubAddressRepo{
		findByHashFn: func(_ context.Context, customerID, hash string) (domain.Address, error) {
			seenHash = hash
			if customerID != "c1" {
				t.Fatalf("unexpected customer %s", customerID)
			}
			return existing, nil
		},
		insertFn: func(context.Context, domain.Address) error {
			t.Fatalf("insert must not be called for an existing address")
			return nil
		},
	}
	svc, err := NewAddressService(AddressServiceDeps{Addresses: repo})
	if err != nil {
		t.Fatalf("new address service: %v", err)
	}

	got, err := svc.Resolve(context.Background(), "c1", testAddress())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != "addr-1" {
		t.Fatalf("expected existing address, got %s", got.ID)
	}

	padded := testAddress()
	padded.City = "  Istanbul  "
	if addressHash(normaliseAddress(padded)) != seenHash {
		t.Fatalf("expected whitespace to be normalised before hashing")
	}
	changed := testAddress()
	changed.District = "Besiktas"
	if addressHash(normaliseAddress(changed)) == seenHash {
		t.Fatalf("expected a different hash for a different district")
	}
}

func TestResolveAddressInsertsAndRecoversFromRace(t *testing.T) {
	winner := domain.Address{ID: "winner", CustomerID: "c1"}
	lookups := 0
	repo := &stubAddressRepo{
		findByHashFn: func(context.Context, string, string) (domain.Address, error) {
			lookups++
			if lookups == 1 {
				return domain.Address{}, errStubNotFound
			}
			return winner, nil
		},
		insertFn: func(context.Context, domain.Address) error {
			return errStubConflict
		},
	}
	svc, err := NewAddressService(AddressServiceDeps{Addresses: repo, IDGenerator: func() string { return "fresh" }})
	if err != nil {
		t.Fatalf("new address service: %v", err)
	}
	got, err := svc.Resolve(context.Background(), "c1", testAddress())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != "winner" {
		t.Fatalf("expected concurrent winner, got %s", got.ID)
	}
}

func TestResolveAddressValidates(t *testing.T) {
	svc, err := NewAddressService(AddressServiceDeps{Addresses: &stubAddressRepo{}})
	if err != nil {
		t.Fatalf("new address service: %v", err)
	}
	missing := testAddress()
	missing.FullAddress = ""
	if _, err := svc.Resolve(context.Background(), "c1", missing); !errors.Is(err, ErrAddressInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	long := testAddress()
	long.Name = strings.Repeat("a", maxAddressFieldLength+1)
	if _, err := svc.Resolve(context.Background(), "c1", long); !errors.Is(err, ErrAddressInvalidInput) {
		t.Fatalf("expected invalid input for long name, got %v", err)
	}
	if _, err := svc.Resolve(context.Background(), "", testAddress()); !errors.Is(err, ErrAddressInvalidInput) {
		t.Fatalf("expected invalid input without customer, got %v", err)
	}
}

func TestNormaliseAddressComposesWithoutFolding(t *testing.T) {
	got := normaliseAddress(AddressInput{Name: "  Jose\u0301 ", City: "ISTANBUL", FullAddress: "Main St 1"})
	if got.Name != "Jos\u00e9" {
		t.Fatalf("expected composed name %q, got %q", "Jos\u00e9", got.Name)
	}
	if got.City != "ISTANBUL" {
		t.Fatalf("expected case preserved, got %q", got.City)
	}
}
