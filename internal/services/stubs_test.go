package services

import (
	"context"
	"errors"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return "repository error" }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

var (
	errStubNotFound    = &stubRepoError{notFound: true}
	errStubConflict    = &stubRepoError{conflict: true}
	errStubUnavailable = &stubRepoError{unavailable: true}
)

var _ repositories.RepositoryError = (*stubRepoError)(nil)

type stubCatalog struct {
	products   map[string]domain.Product
	variations map[string]domain.Variation
}

func (s *stubCatalog) FindProduct(_ context.Context, id string) (domain.Product, error) {
	if p, ok := s.products[id]; ok {
		return p, nil
	}
	return domain.Product{}, errStubNotFound
}

func (s *stubCatalog) FindVariation(_ context.Context, id string) (domain.Variation, error) {
	if v, ok := s.variations[id]; ok {
		return v, nil
	}
	return domain.Variation{}, errStubNotFound
}

func (s *stubCatalog) DecrementProductStock(context.Context, string, int64) error {
	return errors.New("not implemented")
}

func (s *stubCatalog) DecrementVariationStock(context.Context, string, int64) error {
	return errors.New("not implemented")
}

type stubAddressRepo struct {
	findByHashFn func(ctx context.Context, customerID, hash string) (domain.Address, error)
	insertFn     func(ctx context.Context, address domain.Address) error
}

func (s *stubAddressRepo) FindByID(context.Context, string) (domain.Address, error) {
	return domain.Address{}, errStubNotFound
}

func (s *stubAddressRepo) FindByHash(ctx context.Context, customerID, hash string) (domain.Address, error) {
	if s.findByHashFn == nil {
		return domain.Address{}, errStubNotFound
	}
	return s.findByHashFn(ctx, customerID, hash)
}

func (s *stubAddressRepo) Insert(ctx context.Context, address domain.Address) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, address)
}

type stubSettingRepo struct {
	values map[string]string
	gets   int
	getErr error
}

func (s *stubSettingRepo) Get(_ context.Context, key string) (domain.Setting, error) {
	s.gets++
	if s.getErr != nil {
		return domain.Setting{}, s.getErr
	}
	value, ok := s.values[key]
	if !ok {
		return domain.Setting{}, errStubNotFound
	}
	return domain.Setting{Key: key, Value: value}, nil
}

func (s *stubSettingRepo) Put(_ context.Context, setting domain.Setting) error {
	if s.values == nil {
		s.values = map[string]string{}
	}
	s.values[setting.Key] = setting.Value
	return nil
}
