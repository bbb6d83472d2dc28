package payments

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"net/url"
	"testing"
)

func newTestBankProvider(t *testing.T) *BankProvider {
	t.Helper()
	provider, err := NewBankProvider(BankProviderConfig{
		ClientID:   "100200300",
		StoreKey:   "STORE|KEY",
		GatewayURL: "https://bank.example.com/fim/est3Dgate",
		OkURL:      "https://api.example.com/api/v1/webhooks/payments/bank/ok",
		FailURL:    "https://api.example.com/api/v1/webhooks/payments/bank/fail",
		StoreType:  "3d_pay_hosting",
		TxnType:    "Auth",
		Lang:       "tr",
		Currency:   "TRY",
		NewNonce:   func() string { return "01HRND" },
	})
	if err != nil {
		t.Fatalf("new bank provider: %v", err)
	}
	return provider
}

func TestVer3HashOrderingAndEscaping(t *testing.T) {
	params := map[string]string{
		"clientid":   "100",
		"BillToName": `A|B`,
		"amount":     `1\2`,
		"hash":       "ignored",
		"encoding":   "utf-8",
	}
	plain := `1\\2|A\|B|100|key\|x`
	sum := sha512.Sum512([]byte(plain))
	want := base64.StdEncoding.EncodeToString(sum[:])

	if got := Ver3Hash(params, `key|x`); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestBankInitiateBuildsSignedForm(t *testing.T) {
	provider := newTestBankProvider(t)
	initiation, err := provider.Initiate(context.Background(), InitiateRequest{
		OrderNumber: "SO-260301-ABCDEFGHJK",
		Amount:      32999,
		Currency:    "TRY",
		Customer:    Customer{Name: "Ayse Yilmaz", Email: "ayse@example.com", Phone: "+905551112233"},
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if initiation.RedirectURL != "https://bank.example.com/fim/est3Dgate" {
		t.Fatalf("unexpected redirect %s", initiation.RedirectURL)
	}
	if initiation.TransactionID != "01HRND" {
		t.Fatalf("expected rnd as transaction id, got %s", initiation.TransactionID)
	}
	params := initiation.FormParams
	checks := map[string]string{
		"amount":        "329.99",
		"currency":      "949",
		"oid":           "SO-260301-ABCDEFGHJK",
		"hashAlgorithm": "ver3",
		"rnd":           "01HRND",
		"callbackUrl":   "https://api.example.com/api/v1/webhooks/payments/bank/ok",
		"BillToName":    "Ayse Yilmaz",
	}
	for key, want := range checks {
		if params[key] != want {
			t.Errorf("expected %s=%q, got %q", key, want, params[key])
		}
	}
	if params["hash"] != Ver3Hash(params, "STORE|KEY") {
		t.Fatalf("form hash does not verify")
	}
}

func TestBankInitiateRejectsInvalidRequests(t *testing.T) {
	provider := newTestBankProvider(t)
	cases := []InitiateRequest{
		{OrderNumber: "", Amount: 100, Currency: "TRY"},
		{OrderNumber: "SO-1", Amount: 0, Currency: "TRY"},
		{OrderNumber: "SO-1", Amount: 100, Currency: "USD"},
	}
	for _, req := range cases {
		if _, err := provider.Initiate(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for %+v, got %v", req, err)
		}
	}
}

func signedCallback(params map[string]string, storeKey string) url.Values {
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	form.Set("HASH", Ver3Hash(params, storeKey))
	return form
}

func TestBankParseCallbackApproved(t *testing.T) {
	provider := newTestBankProvider(t)
	form := signedCallback(map[string]string{
		"oid":            "SO-260301-ABCDEFGHJK",
		"amount":         "329.99",
		"currency":       "949",
		"Response":       "Approved",
		"ProcReturnCode": "00",
		"TransId":        "26060ABC",
		"xid":            "xid-1",
		"rnd":            "01HRND",
		"encoding":       "utf-8",
	}, "STORE|KEY")

	result, err := provider.ParseCallback(context.Background(), CallbackRequest{Form: form})
	if err != nil {
		t.Fatalf("parse callback: %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s", result.Outcome)
	}
	if result.TransactionID != "26060ABC" || result.Amount != 32999 || result.Currency != "TRY" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Raw == "" {
		t.Fatalf("expected raw payload to be captured")
	}
}

func TestBankParseCallbackDeclinedFallsBackToXid(t *testing.T) {
	provider := newTestBankProvider(t)
	form := signedCallback(map[string]string{
		"oid":            "SO-1",
		"amount":         "10.00",
		"Response":       "Declined",
		"ProcReturnCode": "05",
		"ErrMsg":         "Insufficient funds",
		"xid":            "xid-9",
		"rnd":            "01HRND",
	}, "STORE|KEY")

	result, err := provider.ParseCallback(context.Background(), CallbackRequest{Form: form})
	if err != nil {
		t.Fatalf("parse callback: %v", err)
	}
	if result.Outcome != OutcomeFailure || result.TransactionID != "xid-9" || result.Message != "Insufficient funds" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestBankParseCallbackApprovedRequiresReturnCode(t *testing.T) {
	provider := newTestBankProvider(t)
	form := signedCallback(map[string]string{
		"oid":            "SO-1",
		"amount":         "10.00",
		"Response":       "Approved",
		"ProcReturnCode": "99",
		"rnd":            "01HRND",
	}, "STORE|KEY")

	result, err := provider.ParseCallback(context.Background(), CallbackRequest{Form: form})
	if err != nil {
		t.Fatalf("parse callback: %v", err)
	}
	if result.Outcome != OutcomeFailure || result.TransactionID != "01HRND" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestBankParseCallbackRejectsTampering(t *testing.T) {
	provider := newTestBankProvider(t)
	form := signedCallback(map[string]string{
		"oid":            "SO-1",
		"amount":         "10.00",
		"Response":       "Approved",
		"ProcReturnCode": "00",
		"TransId":        "T1",
	}, "STORE|KEY")
	form.Set("amount", "0.01")

	if _, err := provider.ParseCallback(context.Background(), CallbackRequest{Form: form}); !errors.Is(err, ErrCallbackSignature) {
		t.Fatalf("expected ErrCallbackSignature, got %v", err)
	}

	form.Del("HASH")
	if _, err := provider.ParseCallback(context.Background(), CallbackRequest{Form: form}); !errors.Is(err, ErrCallbackSignature) {
		t.Fatalf("expected ErrCallbackSignature without hash, got %v", err)
	}
	if _, err := provider.ParseCallback(context.Background(), CallbackRequest{}); !errors.Is(err, ErrCallbackMalformed) {
		t.Fatalf("expected ErrCallbackMalformed for empty form, got %v", err)
	}
}

func TestNewBankProviderValidates(t *testing.T) {
	if _, err := NewBankProvider(BankProviderConfig{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
	_, err := NewBankProvider(BankProviderConfig{
		ClientID: "1", StoreKey: "k", GatewayURL: "https://g", OkURL: "https://ok", FailURL: "https://fail", Currency: "XYZ",
	})
	if err == nil {
		t.Fatalf("expected error for unknown currency without explicit code")
	}
}
