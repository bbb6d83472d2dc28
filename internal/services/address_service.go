package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/unicode/norm"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const (
	maxAddressFieldLength = 255
	maxFullAddressLength  = 1000
)

// ErrAddressInvalidInput signals a missing or oversized address field.
var ErrAddressInvalidInput = errors.New("address: invalid input")

// AddressServiceDeps bundles collaborators required to construct the address service.
type AddressServiceDeps struct {
	Addresses   repositories.AddressRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type addressService struct {
	addresses repositories.AddressRepository
	clock     func() time.Time
	newID     func() string
}

// NewAddressService wires dependencies into a concrete AddressService implementation.
func NewAddressService(deps AddressServiceDeps) (AddressService, error) {
	if deps.Addresses == nil {
		return nil, errors.New("address service: address repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &addressService{
		addresses: deps.Addresses,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: newID,
	}, nil
}

// Resolve returns the caller's existing address with identical normalised fields, or stores a
// new one. A concurrent identical insert loses on the unique index and returns the winner.
func (s *addressService) Resolve(ctx context.Context, customerID string, input AddressInput) (domain.Address, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Address{}, fmt.Errorf("%w: customer is required", ErrAddressInvalidInput)
	}
	normalised := normaliseAddress(input)
	if err := validateAddress(normalised); err != nil {
		return domain.Address{}, err
	}
	hash := addressHash(normalised)

	existing, err := s.addresses.FindByHash(ctx, customerID, hash)
	if err == nil {
		return existing, nil
	}
	if !isRepoNotFound(err) {
		return domain.Address{}, err
	}

	address := domain.Address{
		ID:          s.newID(),
		CustomerID:  customerID,
		Title:       normalised.Title,
		Name:        normalised.Name,
		Phone:       normalised.Phone,
		City:        normalised.City,
		District:    normalised.District,
		FullAddress: normalised.FullAddress,
		Hash:        hash,
		CreatedAt:   s.clock(),
	}
	if err := s.addresses.Insert(ctx, address); err != nil {
		if isRepoConflict(err) {
			return s.addresses.FindByHash(ctx, customerID, hash)
		}
		return domain.Address{}, err
	}
	return address, nil
}

func normaliseAddress(input AddressInput) AddressInput {
	clean := func(v string) string {
		return norm.NFC.String(strings.TrimSpace(v))
	}
	return AddressInput{
		Title:       clean(input.Title),
		Name:        clean(input.Name),
		Phone:       clean(input.Phone),
		City:        clean(input.City),
		District:    clean(input.District),
		FullAddress: clean(input.FullAddress),
	}
}

func validateAddress(input AddressInput) error {
	required := map[string]string{
		"name":        input.Name,
		"phone":       input.Phone,
		"city":        input.City,
		"fullAddress": input.FullAddress,
	}
	for _, field := range []string{"name", "phone", "city", "fullAddress"} {
		if required[field] == "" {
			return fmt.Errorf("%w: %s is required", ErrAddressInvalidInput, field)
		}
	}
	for field, value := range map[string]string{
		"title":    input.Title,
		"name":     input.Name,
		"phone":    input.Phone,
		"city":     input.City,
		"district": input.District,
	} {
		if utf8.RuneCountInString(value) > maxAddressFieldLength {
			return fmt.Errorf("%w: %s is too long", ErrAddressInvalidInput, field)
		}
	}
	if utf8.RuneCountInString(input.FullAddress) > maxFullAddressLength {
		return fmt.Errorf("%w: fullAddress is too long", ErrAddressInvalidInput)
	}
	return nil
}

// addressHash is the dedupe key over the normalised fields joined with the ASCII unit separator.
func addressHash(input AddressInput) string {
	joined := strings.Join([]string{
		input.Title,
		input.Name,
		input.Phone,
		input.City,
		input.District,
		input.FullAddress,
	}, "\x1f")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}
