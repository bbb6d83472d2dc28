package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/storefront/api/internal/domain"
)

// MockProviderName is the registration name of the simulated gateway.
const MockProviderName = "mock"

const (
	mockTransactionPrefix = "MOCK-"
	mockMethod            = "mock_card"
	mockPagePath          = "/api/v1/payments/mock/"
)

// MockCallback is the JSON payload the simulated gateway reports.
type MockCallback struct {
	OrderNumber   string `json:"orderNumber"`
	TransactionID string `json:"transactionId"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency,omitempty"`
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
}

// MockProviderConfig configures the simulated gateway.
type MockProviderConfig struct {
	PublicAPIURL string
	Currency     string
	SuccessRate  float64
	Latency      time.Duration
	// Random returns a value in [0, 1). Defaults to math/rand/v2.
	Random func() float64
}

// MockProvider simulates a hosted payment page served by this API.
type MockProvider struct {
	baseURL     string
	currency    string
	successRate float64
	latency     time.Duration
	random      func() float64
}

// NewMockProvider constructs the simulated gateway.
func NewMockProvider(cfg MockProviderConfig) (*MockProvider, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.PublicAPIURL), "/")
	if base == "" {
		return nil, errors.New("mock: public api url is required")
	}
	if cfg.SuccessRate < 0 || cfg.SuccessRate > 1 {
		return nil, errors.New("mock: success rate must be within [0,1]")
	}
	random := cfg.Random
	if random == nil {
		random = rand.Float64
	}
	return &MockProvider{
		baseURL:     base,
		currency:    strings.ToUpper(strings.TrimSpace(cfg.Currency)),
		successRate: cfg.SuccessRate,
		latency:     cfg.Latency,
		random:      random,
	}, nil
}

// Name implements Provider.
func (p *MockProvider) Name() string { return MockProviderName }

// Initiate points the customer at the in-system simulated bank page.
func (p *MockProvider) Initiate(_ context.Context, req InitiateRequest) (Initiation, error) {
	if strings.TrimSpace(req.OrderNumber) == "" {
		return Initiation{}, fmt.Errorf("%w: order number is required", ErrInvalidRequest)
	}
	if req.Amount <= 0 {
		return Initiation{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	txID := mockTransactionPrefix + uuid.NewString()
	query := url.Values{}
	query.Set("tx", txID)
	query.Set("amount", domain.FormatAmount(req.Amount))
	redirect := p.baseURL + mockPagePath + url.PathEscape(req.OrderNumber) + "?" + query.Encode()

	return Initiation{
		Provider:      MockProviderName,
		TransactionID: txID,
		RedirectURL:   redirect,
		Method:        mockMethod,
	}, nil
}

// SimulateRequest is what the simulated bank page received in its query string.
type SimulateRequest struct {
	OrderNumber   string
	TransactionID string
	Amount        string
}

// Simulate waits the configured latency and draws an outcome. It returns the callback payload
// the simulated gateway would send.
func (p *MockProvider) Simulate(ctx context.Context, req SimulateRequest) (MockCallback, error) {
	if err := validateMockIdentifiers(req.OrderNumber, req.TransactionID); err != nil {
		return MockCallback{}, err
	}
	if _, err := domain.ParseAmount(req.Amount); err != nil {
		return MockCallback{}, fmt.Errorf("%w: %v", ErrCallbackMalformed, err)
	}
	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return MockCallback{}, ctx.Err()
		case <-timer.C:
		}
	}

	callback := MockCallback{
		OrderNumber:   req.OrderNumber,
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Currency:      p.currency,
		Status:        string(OutcomeFailure),
		Message:       "card declined by simulator",
	}
	if p.random() < p.successRate {
		callback.Status = string(OutcomeSuccess)
		callback.Message = "approved by simulator"
	}
	return callback, nil
}

// ParseCallback validates the JSON payload structurally. The simulator has no shared secret.
func (p *MockProvider) ParseCallback(_ context.Context, req CallbackRequest) (CallbackResult, error) {
	if len(req.Body) == 0 {
		return CallbackResult{}, fmt.Errorf("%w: empty body", ErrCallbackMalformed)
	}
	var payload MockCallback
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return CallbackResult{}, fmt.Errorf("%w: %v", ErrCallbackMalformed, err)
	}
	payload.OrderNumber = strings.TrimSpace(payload.OrderNumber)
	payload.TransactionID = strings.TrimSpace(payload.TransactionID)
	if err := validateMockIdentifiers(payload.OrderNumber, payload.TransactionID); err != nil {
		return CallbackResult{}, err
	}
	amount, err := domain.ParseAmount(payload.Amount)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("%w: %v", ErrCallbackMalformed, err)
	}
	var outcome Outcome
	switch Outcome(strings.ToLower(strings.TrimSpace(payload.Status))) {
	case OutcomeSuccess:
		outcome = OutcomeSuccess
	case OutcomeFailure:
		outcome = OutcomeFailure
	default:
		return CallbackResult{}, fmt.Errorf("%w: unknown status %q", ErrCallbackMalformed, payload.Status)
	}
	currency := strings.ToUpper(strings.TrimSpace(payload.Currency))
	if currency == "" {
		currency = p.currency
	}

	return CallbackResult{
		Provider:      MockProviderName,
		OrderNumber:   payload.OrderNumber,
		TransactionID: payload.TransactionID,
		Amount:        amount,
		Currency:      currency,
		Outcome:       outcome,
		Method:        mockMethod,
		Message:       payload.Message,
		Raw:           string(req.Body),
	}, nil
}

func validateMockIdentifiers(orderNumber, txID string) error {
	if strings.TrimSpace(orderNumber) == "" {
		return fmt.Errorf("%w: orderNumber missing", ErrCallbackMalformed)
	}
	if !strings.HasPrefix(txID, mockTransactionPrefix) || len(txID) == len(mockTransactionPrefix) {
		return fmt.Errorf("%w: transactionId must start with %s", ErrCallbackMalformed, mockTransactionPrefix)
	}
	return nil
}
