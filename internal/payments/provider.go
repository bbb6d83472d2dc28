package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Outcome is the normalised result reported by a gateway callback.
type Outcome string

const (
	// OutcomeSuccess means the gateway captured the charge.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure means the gateway declined or the customer abandoned the payment.
	OutcomeFailure Outcome = "failure"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidRequest is returned when an initiation request is incomplete.
	ErrInvalidRequest = errors.New("payments: invalid request")
	// ErrCallbackSignature is returned when a callback hash does not verify.
	ErrCallbackSignature = errors.New("payments: callback signature mismatch")
	// ErrCallbackMalformed is returned when a callback is missing required fields.
	ErrCallbackMalformed = errors.New("payments: malformed callback")
)

// Customer carries the buyer details some gateways print on the hosted page.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// InitiateRequest describes the charge to start.
type InitiateRequest struct {
	OrderID     string
	OrderNumber string
	Amount      int64
	Currency    string
	Customer    Customer
}

// Initiation tells the caller where to send the customer. FormParams is set when the browser
// must POST a form to RedirectURL.
type Initiation struct {
	Provider      string
	TransactionID string
	RedirectURL   string
	FormParams    map[string]string
	Method        string
}

// CallbackRequest is the raw gateway callback. Form-encoded gateways use Form, JSON gateways Body.
type CallbackRequest struct {
	Form url.Values
	Body []byte
}

// CallbackResult is a verified, normalised callback.
type CallbackResult struct {
	Provider      string
	OrderNumber   string
	TransactionID string
	Amount        int64
	Currency      string
	Outcome       Outcome
	Method        string
	Message       string
	// Raw is the verbatim gateway payload encoded as JSON.
	Raw string
}

// Provider is implemented by every gateway adapter.
type Provider interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (Initiation, error)
	ParseCallback(ctx context.Context, req CallbackRequest) (CallbackResult, error)
}

// Manager holds the configured providers by name.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider selects the provider used when callers do not name one.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = normaliseName(provider)
	}
}

// NewManager constructs a Manager over the supplied providers, registered under their Name().
func NewManager(providers []Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("payments: nil provider registration")
		}
		key := normaliseName(p.Name())
		if key == "" {
			return nil, errors.New("payments: provider name is required")
		}
		if _, exists := registered[key]; exists {
			return nil, fmt.Errorf("payments: duplicate provider %q", key)
		}
		registered[key] = p
	}
	m := &Manager{providers: registered}
	if len(registered) == 1 {
		for key := range registered {
			m.defaultProvider = key
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.defaultProvider != "" {
		if _, ok := registered[m.defaultProvider]; !ok {
			return nil, fmt.Errorf("payments: default provider %q is not registered", m.defaultProvider)
		}
	}
	return m, nil
}

// Provider resolves name, or the default provider when name is empty.
func (m *Manager) Provider(name string) (Provider, error) {
	if m == nil {
		return nil, errors.New("payments: manager is nil")
	}
	key := normaliseName(name)
	if key == "" {
		key = m.defaultProvider
	}
	if p, ok := m.providers[key]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
}

// Has reports whether name is registered.
func (m *Manager) Has(name string) bool {
	if m == nil {
		return false
	}
	_, ok := m.providers[normaliseName(name)]
	return ok
}

// Initiate delegates to the resolved provider.
func (m *Manager) Initiate(ctx context.Context, provider string, req InitiateRequest) (Initiation, error) {
	p, err := m.Provider(provider)
	if err != nil {
		return Initiation{}, err
	}
	initiation, err := p.Initiate(ctx, req)
	if err != nil {
		return Initiation{}, err
	}
	initiation.Provider = p.Name()
	return initiation, nil
}

// ParseCallback delegates to the named provider. Callbacks always name their provider.
func (m *Manager) ParseCallback(ctx context.Context, provider string, req CallbackRequest) (CallbackResult, error) {
	if normaliseName(provider) == "" {
		return CallbackResult{}, fmt.Errorf("%w: provider is required", ErrUnsupportedProvider)
	}
	p, err := m.Provider(provider)
	if err != nil {
		return CallbackResult{}, err
	}
	result, err := p.ParseCallback(ctx, req)
	if err != nil {
		return CallbackResult{}, err
	}
	result.Provider = p.Name()
	return result, nil
}

func normaliseName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
