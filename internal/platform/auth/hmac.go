package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/storefront/api/internal/platform/config"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 5 * time.Minute

	maxSignedBodyBytes = 1 << 20
	hmacMeterName      = "github.com/storefront/api/internal/platform/auth"
)

// SecretProvider resolves shared secrets by name.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// StaticSecrets serves secrets already resolved at configuration time.
type StaticSecrets map[string]string

// GetSecret implements SecretProvider. Names are matched case-insensitively.
func (s StaticSecrets) GetSecret(_ context.Context, name string) (string, error) {
	for key, value := range s {
		if strings.EqualFold(key, name) && value != "" {
			return value, nil
		}
	}
	return "", fmt.Errorf("auth: secret %q not configured", name)
}

// NonceStore remembers nonces for replay protection.
type NonceStore interface {
	// UseNonce records the nonce within scope until expiry. It returns false when the nonce was
	// already recorded.
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore is a process-local NonceStore.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	now    func() time.Time
	nonces map[string]time.Time
}

// NewInMemoryNonceStore constructs the store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{now: time.Now, nonces: make(map[string]time.Time)}
}

// UseNonce implements NonceStore.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	key := scope + "::" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.nonces {
		if !exp.After(now) {
			delete(s.nonces, k)
		}
	}
	if !expiry.After(now) {
		return false, errors.New("auth: nonce expiry is in the past")
	}
	if _, seen := s.nonces[key]; seen {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}

// RedisNonceStore shares nonces between API instances.
type RedisNonceStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisNonceStore constructs a Redis-backed NonceStore.
func NewRedisNonceStore(client redis.UniversalClient, prefix string) (*RedisNonceStore, error) {
	if client == nil {
		return nil, errors.New("auth: redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "storefront:nonce:"
	}
	return &RedisNonceStore{client: client, prefix: prefix, now: time.Now}, nil
}

// UseNonce implements NonceStore with SET NX and a TTL.
func (s *RedisNonceStore) UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	ttl := expiry.Sub(s.now())
	if ttl <= 0 {
		return false, errors.New("auth: nonce expiry is in the past")
	}
	stored, err := s.client.SetNX(ctx, s.prefix+scope+":"+nonce, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("auth: redis setnx: %w", err)
	}
	return stored, nil
}

// HMACValidator verifies requests signed by trusted internal callers.
type HMACValidator struct {
	provider SecretProvider
	nonces   NonceStore
	logger   *zap.Logger
	outcomes metric.Int64Counter
	now      func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string
	clockSkew       time.Duration
	nonceTTL        time.Duration
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// WithHMACLogger overrides the validator logger.
func WithHMACLogger(logger *zap.Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACMeter records verification outcomes on meter.
func WithHMACMeter(meter metric.Meter) HMACOption {
	return func(v *HMACValidator) {
		if meter == nil {
			return
		}
		if counter, err := meter.Int64Counter("storefront.auth.hmac.verifications"); err == nil {
			v.outcomes = counter
		}
	}
}

// WithHMACClock injects a clock.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACConfig applies header names and windows from configuration.
func WithHMACConfig(cfg config.HMACConfig) HMACOption {
	return func(v *HMACValidator) {
		if cfg.SignatureHeader != "" {
			v.signatureHeader = cfg.SignatureHeader
		}
		if cfg.TimestampHeader != "" {
			v.timestampHeader = cfg.TimestampHeader
		}
		if cfg.NonceHeader != "" {
			v.nonceHeader = cfg.NonceHeader
		}
		if cfg.ClockSkew > 0 {
			v.clockSkew = cfg.ClockSkew
		}
		if cfg.NonceTTL > 0 {
			v.nonceTTL = cfg.NonceTTL
		}
	}
}

// NewHMACValidator builds a validator over provider and nonces.
func NewHMACValidator(provider SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{
		provider:        provider,
		nonces:          nonces,
		logger:          zap.NewNop(),
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
	}
	WithHMACMeter(otel.Meter(hmacMeterName))(v)
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// HMACMetadata describes the verified signature for downstream handlers.
type HMACMetadata struct {
	SecretName string
	Timestamp  time.Time
	Nonce      string
}

type hmacContextKey struct{}

// HMACMetadataFromContext returns metadata stored by RequireHMAC.
func HMACMetadataFromContext(ctx context.Context) (*HMACMetadata, bool) {
	meta, ok := ctx.Value(hmacContextKey{}).(*HMACMetadata)
	return meta, ok && meta != nil
}

// RequireHMAC rejects requests whose signature does not verify against the named secret. The
// signed string is METHOD, escaped path, timestamp, nonce and hex SHA-256 of the body, joined by
// newlines.
func (v *HMACValidator) RequireHMAC(secretName string) func(http.Handler) http.Handler {
	scope := strings.TrimSpace(secretName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reject := func(status int, reason, message string) {
				v.record(ctx, scope, reason)
				respondAuthError(w, r, status, reason, message)
			}

			secret, err := v.loadSecret(ctx, scope)
			if err != nil {
				v.logger.Warn("hmac secret unavailable", zap.String("scope", scope), zap.Error(err))
				reject(http.StatusServiceUnavailable, "verification_unavailable", "hmac secret unavailable")
				return
			}

			signatureValue := strings.TrimSpace(r.Header.Get(v.signatureHeader))
			timestampValue := strings.TrimSpace(r.Header.Get(v.timestampHeader))
			nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
			switch {
			case signatureValue == "":
				reject(http.StatusUnauthorized, "signature_missing", "signature header missing")
				return
			case timestampValue == "":
				reject(http.StatusUnauthorized, "timestamp_missing", "signature timestamp missing")
				return
			case nonce == "":
				reject(http.StatusUnauthorized, "nonce_missing", "signature nonce missing")
				return
			}

			timestamp, err := parseSignatureTimestamp(timestampValue)
			if err != nil {
				reject(http.StatusUnauthorized, "timestamp_invalid", "signature timestamp invalid")
				return
			}
			if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
				reject(http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window")
				return
			}

			body, err := readAndRestoreBody(r)
			if err != nil {
				reject(http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
				return
			}
			signature, err := decodeSignature(signatureValue)
			if err != nil {
				reject(http.StatusUnauthorized, "signature_invalid", "signature encoding invalid")
				return
			}
			expected := computeHMAC(secret, buildCanonicalString(r, body, timestampValue, nonce))
			if !hmac.Equal(signature, expected) {
				reject(http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
				return
			}

			if v.nonces == nil {
				reject(http.StatusServiceUnavailable, "verification_unavailable", "nonce store unavailable")
				return
			}
			expiry := timestamp.Add(v.nonceTTL)
			if now := v.now(); expiry.Before(now) {
				expiry = now.Add(v.nonceTTL)
			}
			stored, err := v.nonces.UseNonce(ctx, scope, nonce, expiry)
			if err != nil {
				v.logger.Error("hmac nonce store failed", zap.String("scope", scope), zap.Error(err))
				reject(http.StatusServiceUnavailable, "verification_unavailable", "nonce storage error")
				return
			}
			if !stored {
				reject(http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce")
				return
			}

			v.record(ctx, scope, "ok")
			meta := &HMACMetadata{SecretName: scope, Timestamp: timestamp, Nonce: nonce}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, hmacContextKey{}, meta)))
		})
	}
}

func (v *HMACValidator) record(ctx context.Context, scope, reason string) {
	if v.outcomes == nil {
		return
	}
	v.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("result", reason),
	))
}

func (v *HMACValidator) loadSecret(ctx context.Context, name string) ([]byte, error) {
	if name == "" {
		return nil, errors.New("auth: secret name is empty")
	}
	if v.provider == nil {
		return nil, errors.New("auth: secret provider not configured")
	}
	raw, err := v.provider.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errors.New("auth: secret is empty")
	}
	return []byte(raw), nil
}

// SignRequest computes the base64 signature RequireHMAC expects for the given request parts.
func SignRequest(secret, method, escapedPath, timestamp, nonce string, body []byte) string {
	canonical := canonicalString(method, escapedPath, timestamp, nonce, body)
	return base64.StdEncoding.EncodeToString(computeHMAC([]byte(secret), canonical))
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(buf) > maxSignedBodyBytes {
		return nil, errors.New("auth: body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

func buildCanonicalString(r *http.Request, body []byte, timestamp, nonce string) []byte {
	return canonicalString(r.Method, r.URL.EscapedPath(), timestamp, nonce, body)
}

func canonicalString(method, path, timestamp, nonce string, body []byte) []byte {
	if path == "" {
		path = "/"
	}
	hash := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		strings.ToUpper(method),
		path,
		timestamp,
		nonce,
		hex.EncodeToString(hash[:]),
	}, "\n"))
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
