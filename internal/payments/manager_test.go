package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	name       string
	lastOp     string
	initiation Initiation
	result     CallbackResult
	err        error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Initiate(ctx context.Context, req InitiateRequest) (Initiation, error) {
	f.lastOp = "initiate"
	return f.initiation, f.err
}

func (f *fakeProvider) ParseCallback(ctx context.Context, req CallbackRequest) (CallbackResult, error) {
	f.lastOp = "callback"
	return f.result, f.err
}

func TestManagerInitiateUsesNamedProvider(t *testing.T) {
	ctx := context.Background()
	bank := &fakeProvider{name: "bank", initiation: Initiation{TransactionID: "rnd"}}
	mock := &fakeProvider{name: "mock", initiation: Initiation{TransactionID: "MOCK-1"}}

	mgr, err := NewManager([]Provider{bank, mock}, WithDefaultProvider("bank"))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	initiation, err := mgr.Initiate(ctx, "Mock", InitiateRequest{})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if initiation.Provider != "mock" {
		t.Fatalf("expected provider 'mock', got %q", initiation.Provider)
	}
	if mock.lastOp != "initiate" {
		t.Fatalf("expected mock provider to handle call")
	}
	if bank.lastOp != "" {
		t.Fatalf("expected bank provider to remain unused")
	}
}

func TestManagerFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	bank := &fakeProvider{name: "bank"}
	mock := &fakeProvider{name: "mock"}

	mgr, err := NewManager([]Provider{bank, mock}, WithDefaultProvider("bank"))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	initiation, err := mgr.Initiate(ctx, "", InitiateRequest{})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if bank.lastOp != "initiate" || initiation.Provider != "bank" {
		t.Fatalf("expected default provider to handle call, got %q", initiation.Provider)
	}

	single, err := NewManager([]Provider{&fakeProvider{name: "mock"}})
	if err != nil {
		t.Fatalf("new single manager: %v", err)
	}
	if p, err := single.Provider(""); err != nil || p.Name() != "mock" {
		t.Fatalf("expected the only provider to be the default, got %v %v", p, err)
	}
}

func TestManagerCallbackRequiresProviderName(t *testing.T) {
	ctx := context.Background()
	bank := &fakeProvider{name: "bank", result: CallbackResult{OrderNumber: "SO-1"}}
	mgr, err := NewManager([]Provider{bank})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if _, err := mgr.ParseCallback(ctx, "", CallbackRequest{}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
	result, err := mgr.ParseCallback(ctx, "bank", CallbackRequest{})
	if err != nil {
		t.Fatalf("parse callback: %v", err)
	}
	if result.Provider != "bank" || result.OrderNumber != "SO-1" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager([]Provider{&fakeProvider{name: "bank"}, &fakeProvider{name: "mock"}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.Initiate(ctx, "stripe", InitiateRequest{})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
	if _, err := mgr.Provider(""); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected no default with two providers, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager([]Provider{nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
	if _, err := NewManager([]Provider{&fakeProvider{name: "bank"}, &fakeProvider{name: "BANK"}}); err == nil {
		t.Fatalf("expected error for duplicate provider names")
	}
	if _, err := NewManager([]Provider{&fakeProvider{name: "bank"}}, WithDefaultProvider("mock")); err == nil {
		t.Fatalf("expected error for unregistered default provider")
	}
}
