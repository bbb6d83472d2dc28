package payments

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"

	domain "github.com/storefront/api/internal/domain"
)

// BankProviderName is the registration name of the bank-hosted gateway.
const BankProviderName = "bank"

const (
	bankHashAlgorithm = "ver3"
	bankMethod        = "credit_card"
	bankApproved      = "Approved"
	bankReturnOK      = "00"
)

var isoNumericCurrencies = map[string]string{
	"TRY": "949",
	"USD": "840",
	"EUR": "978",
	"GBP": "826",
}

// BankProviderConfig configures the 3D Pay Hosting form.
type BankProviderConfig struct {
	ClientID     string
	StoreKey     string
	GatewayURL   string
	OkURL        string
	FailURL      string
	CallbackURL  string
	StoreType    string
	TxnType      string
	Lang         string
	Currency     string
	CurrencyCode string
	// NewNonce overrides the rnd generator.
	NewNonce func() string
}

// BankProvider builds signed bank-hosted payment forms and verifies their callbacks. It never
// contacts the bank directly; the customer's browser carries the form.
type BankProvider struct {
	cfg      BankProviderConfig
	newNonce func() string
}

// NewBankProvider validates cfg and constructs the provider.
func NewBankProvider(cfg BankProviderConfig) (*BankProvider, error) {
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.GatewayURL = strings.TrimSpace(cfg.GatewayURL)
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	switch {
	case cfg.ClientID == "":
		return nil, errors.New("bank: client id is required")
	case cfg.StoreKey == "":
		return nil, errors.New("bank: store key is required")
	case cfg.GatewayURL == "":
		return nil, errors.New("bank: gateway url is required")
	case cfg.OkURL == "" || cfg.FailURL == "":
		return nil, errors.New("bank: ok and fail urls are required")
	case cfg.Currency == "":
		return nil, errors.New("bank: currency is required")
	}
	if cfg.CurrencyCode == "" {
		code, ok := isoNumericCurrencies[cfg.Currency]
		if !ok {
			return nil, fmt.Errorf("bank: no numeric code for currency %s", cfg.Currency)
		}
		cfg.CurrencyCode = code
	}
	if cfg.CallbackURL == "" {
		cfg.CallbackURL = cfg.OkURL
	}
	newNonce := cfg.NewNonce
	if newNonce == nil {
		newNonce = func() string { return ulid.Make().String() }
	}
	return &BankProvider{cfg: cfg, newNonce: newNonce}, nil
}

// Name implements Provider.
func (p *BankProvider) Name() string { return BankProviderName }

// Initiate builds the form the browser must POST to the gateway. The rnd nonce doubles as the
// provisional transaction reference.
func (p *BankProvider) Initiate(_ context.Context, req InitiateRequest) (Initiation, error) {
	if strings.TrimSpace(req.OrderNumber) == "" {
		return Initiation{}, fmt.Errorf("%w: order number is required", ErrInvalidRequest)
	}
	if req.Amount <= 0 {
		return Initiation{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if !strings.EqualFold(strings.TrimSpace(req.Currency), p.cfg.Currency) {
		return Initiation{}, fmt.Errorf("%w: currency %s not accepted", ErrInvalidRequest, req.Currency)
	}

	rnd := p.newNonce()
	params := map[string]string{
		"clientid":      p.cfg.ClientID,
		"storetype":     p.cfg.StoreType,
		"hashAlgorithm": bankHashAlgorithm,
		"TranType":      p.cfg.TxnType,
		"amount":        domain.FormatAmount(req.Amount),
		"currency":      p.cfg.CurrencyCode,
		"oid":           req.OrderNumber,
		"okUrl":         p.cfg.OkURL,
		"failUrl":       p.cfg.FailURL,
		"callbackUrl":   p.cfg.CallbackURL,
		"lang":          p.cfg.Lang,
		"rnd":           rnd,
		"Instalment":    "",
		"email":         strings.TrimSpace(req.Customer.Email),
		"BillToName":    strings.TrimSpace(req.Customer.Name),
		"tel":           strings.TrimSpace(req.Customer.Phone),
	}
	params["hash"] = Ver3Hash(params, p.cfg.StoreKey)

	return Initiation{
		Provider:      BankProviderName,
		TransactionID: rnd,
		RedirectURL:   p.cfg.GatewayURL,
		FormParams:    params,
		Method:        bankMethod,
	}, nil
}

// ParseCallback verifies the ver3 hash and normalises the posted fields.
func (p *BankProvider) ParseCallback(_ context.Context, req CallbackRequest) (CallbackResult, error) {
	if len(req.Form) == 0 {
		return CallbackResult{}, fmt.Errorf("%w: empty form", ErrCallbackMalformed)
	}
	params := make(map[string]string, len(req.Form))
	for key, values := range req.Form {
		if len(values) > 0 {
			params[key] = values[0]
		} else {
			params[key] = ""
		}
	}

	received := lookupFold(params, "hash")
	if received == "" {
		return CallbackResult{}, fmt.Errorf("%w: hash missing", ErrCallbackSignature)
	}
	expected := Ver3Hash(params, p.cfg.StoreKey)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
		return CallbackResult{}, ErrCallbackSignature
	}

	orderNumber := strings.TrimSpace(lookupFold(params, "oid"))
	if orderNumber == "" {
		return CallbackResult{}, fmt.Errorf("%w: oid missing", ErrCallbackMalformed)
	}
	amount, err := domain.ParseAmount(lookupFold(params, "amount"))
	if err != nil {
		return CallbackResult{}, fmt.Errorf("%w: %v", ErrCallbackMalformed, err)
	}

	txID := firstNonEmpty(lookupFold(params, "TransId"), lookupFold(params, "xid"), lookupFold(params, "rnd"))
	if txID == "" {
		return CallbackResult{}, fmt.Errorf("%w: transaction id missing", ErrCallbackMalformed)
	}

	outcome := OutcomeFailure
	if lookupFold(params, "Response") == bankApproved && lookupFold(params, "ProcReturnCode") == bankReturnOK {
		outcome = OutcomeSuccess
	}

	currency := p.cfg.Currency
	if code := lookupFold(params, "currency"); code != "" && code != p.cfg.CurrencyCode {
		currency = currencyFromNumeric(code)
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("bank: encode callback: %w", err)
	}

	return CallbackResult{
		Provider:      BankProviderName,
		OrderNumber:   orderNumber,
		TransactionID: txID,
		Amount:        amount,
		Currency:      currency,
		Outcome:       outcome,
		Method:        bankMethod,
		Message:       firstNonEmpty(lookupFold(params, "ErrMsg"), lookupFold(params, "Response")),
		Raw:           string(raw),
	}, nil
}

// Ver3Hash computes the hashAlgorithm=ver3 signature: values ordered by case-insensitive key,
// escaped, joined with "|" and terminated by the escaped store key, then SHA-512 and base64.
// The hash and encoding parameters are excluded.
func Ver3Hash(params map[string]string, storeKey string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		switch strings.ToLower(key) {
		case "hash", "encoding":
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		li, lj := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if li == lj {
			return keys[i] < keys[j]
		}
		return li < lj
	})

	var b strings.Builder
	for _, key := range keys {
		b.WriteString(escapeHashValue(params[key]))
		b.WriteByte('|')
	}
	b.WriteString(escapeHashValue(storeKey))

	sum := sha512.Sum512([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func escapeHashValue(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `|`, `\|`)
}

func lookupFold(params map[string]string, key string) string {
	if value, ok := params[key]; ok {
		return value
	}
	for k, v := range params {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func currencyFromNumeric(code string) string {
	for currency, numeric := range isoNumericCurrencies {
		if numeric == code {
			return currency
		}
	}
	return code
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
