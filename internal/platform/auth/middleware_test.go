package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func staffToken() *firebaseauth.Token {
	return &firebaseauth.Token{
		UID: "uid-123",
		Claims: map[string]any{
			"role":           []any{"Staff", "admin", "staff"},
			"email":          "ops@example.com",
			"email_verified": true,
			"name":           "Ops",
		},
	}
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireFirebaseAuthAllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{token: staffToken()}
	authn := NewAuthenticator(verifier)

	var identity *Identity
	handler := authn.RequireFirebaseAuth(RoleStaff)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("Authorization", "bearer token-abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if verifier.received != "token-abc" {
		t.Fatalf("expected token to be forwarded, got %q", verifier.received)
	}
	if identity == nil || identity.UID != "uid-123" || identity.Email != "ops@example.com" || !identity.EmailVerified {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if len(identity.Roles) != 2 || !identity.IsStaff() {
		t.Fatalf("expected deduplicated staff roles, got %v", identity.Roles)
	}
}

func TestRequireFirebaseAuthRejects(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		verifier *stubTokenVerifier
		roles    []string
		status   int
		code     string
	}{
		{name: "missing header", status: http.StatusUnauthorized, code: "unauthenticated", verifier: &stubTokenVerifier{}},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized, code: "unauthenticated", verifier: &stubTokenVerifier{}},
		{name: "expired", header: "Bearer x", verifier: &stubTokenVerifier{err: ErrTokenExpired}, status: http.StatusUnauthorized, code: "token_expired"},
		{name: "invalid", header: "Bearer x", verifier: &stubTokenVerifier{err: errors.New("boom")}, status: http.StatusUnauthorized, code: "invalid_token"},
		{
			name:     "insufficient role",
			header:   "Bearer x",
			verifier: &stubTokenVerifier{token: &firebaseauth.Token{UID: "u1", Claims: map[string]any{}}},
			roles:    []string{RoleStaff},
			status:   http.StatusForbidden,
			code:     "insufficient_role",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewAuthenticator(tc.verifier).RequireFirebaseAuth(tc.roles...)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler must not be called")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if code := decodeError(t, rr); code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, code)
			}
		})
	}
}

func TestOptionalFirebaseAuth(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "buyer-1", Claims: map[string]any{"email": "buyer@example.com"}}}
	authn := NewAuthenticator(verifier)

	var seen *Identity
	handler := authn.OptionalFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", nil))
	if rr.Code != http.StatusOK || seen != nil {
		t.Fatalf("anonymous request must pass without identity, got %d %+v", rr.Code, seen)
	}

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("Authorization", "Bearer t")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || seen == nil || seen.UID != "buyer-1" {
		t.Fatalf("expected identity, got %d %+v", rr.Code, seen)
	}
	if !seen.HasRole(RoleUser) || seen.IsStaff() {
		t.Fatalf("expected fallback user role, got %v", seen.Roles)
	}

	verifier.err = ErrTokenInvalid
	req = httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("Authorization", "Bearer t")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("a bad token must not degrade to anonymous, got %d", rr.Code)
	}
}

func TestRolesFromClaimsMapForm(t *testing.T) {
	roles := rolesFromClaims(map[string]any{"role": map[string]any{"admin": true, "staff": false}}, "role")
	if len(roles) != 1 || roles[0] != RoleAdmin {
		t.Fatalf("unexpected roles %v", roles)
	}
}
