package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	anonymousCaller   = "anonymous"
	maxKeyLength      = 255
	maxBodyBytes      = 1 << 20
)

type clockFunc func() time.Time

type options struct {
	headerName string
	ttl        time.Duration
	methods    map[string]struct{}
	clock      clockFunc
	logger     *zap.Logger
	optional   bool
}

func defaultMethods() map[string]struct{} {
	return map[string]struct{}{
		http.MethodPost:   {},
		http.MethodPut:    {},
		http.MethodPatch:  {},
		http.MethodDelete: {},
	}
}

// MiddlewareOption customises the guard.
type MiddlewareOption func(*options)

// WithHeader overrides the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(o *options) {
		if name = strings.TrimSpace(name); name != "" {
			o.headerName = name
		}
	}
}

// WithTTL sets how long a key is remembered.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithMethods limits the guarded HTTP methods. Other methods pass straight through.
func WithMethods(methods ...string) MiddlewareOption {
	return func(o *options) {
		set := make(map[string]struct{}, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				set[method] = struct{}{}
			}
		}
		if len(set) > 0 {
			o.methods = set
		}
	}
}

// WithLogger sets the logger used for store failures.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOptionalKey lets requests without the header through unguarded.
func WithOptionalKey() MiddlewareOption {
	return func(o *options) { o.optional = true }
}

// WithClock overrides the time source.
func WithClock(clock clockFunc) MiddlewareOption {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// Middleware replays the stored response for a repeated Idempotency-Key and rejects reuse of
// a key for a different request. Keys are scoped to the authenticated caller.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	o := options{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods:    defaultMethods(),
		clock:      time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return &guard{opts: o, store: store, next: next}
	}
}

type guard struct {
	opts  options
	store Store
	next  http.Handler
}

// attempt is one guarded request that won its reservation.
type attempt struct {
	rawKey      string
	key         string
	fingerprint string
	requester   string
}

func (g *guard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, guarded := g.opts.methods[r.Method]; !guarded {
		g.next.ServeHTTP(w, r)
		return
	}
	rawKey := strings.TrimSpace(r.Header.Get(g.opts.headerName))
	if rawKey == "" && g.opts.optional {
		g.next.ServeHTTP(w, r)
		return
	}

	a, ok := g.admit(w, r, rawKey)
	if !ok {
		return
	}
	buf := newBufferedWriter(w)
	g.next.ServeHTTP(buf, r)
	g.finish(r.Context(), a, buf)
}

// admit validates the key and reserves it. It writes the response itself when the request
// must not reach the handler.
func (g *guard) admit(w http.ResponseWriter, r *http.Request, rawKey string) (attempt, bool) {
	switch {
	case rawKey == "":
		respondError(w, r, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
		return attempt{}, false
	case len(rawKey) > maxKeyLength:
		respondError(w, r, http.StatusBadRequest, "idempotency_key_invalid", "idempotency key too long")
		return attempt{}, false
	}

	body, err := readAndReplayBody(r)
	if err != nil {
		respondError(w, r, http.StatusRequestEntityTooLarge, "idempotency_read_body_failed", "unable to read request body")
		return attempt{}, false
	}
	requester := extractRequester(r.Context())
	a := attempt{
		rawKey:      rawKey,
		key:         scopedKey(rawKey, requester),
		fingerprint: requestFingerprint(r, body, requester),
		requester:   requester,
	}

	reservation, err := g.store.Reserve(r.Context(), a.key, a.fingerprint, g.opts.clock().UTC(), g.opts.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		respondError(w, r, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return attempt{}, false
	case err != nil:
		g.opts.logger.Error("idempotency store failed", zap.Error(err))
		respondError(w, r, http.StatusServiceUnavailable, "idempotency_store_error", "unable to process idempotency key")
		return attempt{}, false
	}

	switch reservation.State {
	case ReservationStateNew:
		return a, true
	case ReservationStateCompleted:
		replay(w, reservation.Record)
	case ReservationStatePending:
		respondError(w, r, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
	default:
		respondError(w, r, http.StatusInternalServerError, "idempotency_unknown_state", "unexpected idempotency state")
	}
	return attempt{}, false
}

// finish stores a replayable response, or releases the key after a server error so the
// client may retry. The buffered response reaches the client either way.
func (g *guard) finish(ctx context.Context, a attempt, buf *bufferedWriter) {
	log := g.opts.logger.With(zap.String("key", a.rawKey))
	if buf.status() >= http.StatusInternalServerError {
		g.release(ctx, a, log)
	} else {
		resp := Response{Status: buf.status(), Headers: buf.header.Clone(), Body: buf.bytes()}
		if err := g.store.SaveResponse(ctx, a.key, a.fingerprint, resp, g.opts.clock().UTC(), g.opts.ttl); err != nil {
			log.Error("idempotency save failed", zap.String("requester", a.requester), zap.Error(err))
			g.release(ctx, a, log)
		}
	}
	if err := buf.flush(); err != nil {
		log.Warn("idempotency flush failed", zap.Error(err))
	}
}

func (g *guard) release(ctx context.Context, a attempt, log *zap.Logger) {
	if err := g.store.Release(ctx, a.key, a.fingerprint); err != nil {
		log.Warn("idempotency release failed", zap.Error(err))
	}
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBodyBytes {
		return nil, errors.New("idempotency: body too large")
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requestFingerprint identifies the request a key was first used with.
func requestFingerprint(r *http.Request, body []byte, requester string) string {
	bodyHash := ""
	if len(body) > 0 {
		bodyHash = sha256Hex(body)
	}
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Host,
		r.Header.Get("Content-Type"),
		requester,
		bodyHash,
	}
	return sha256Hex([]byte(strings.Join(parts, "|")))
}

func extractRequester(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return identity.UID
	}
	return anonymousCaller
}

func scopedKey(key, requester string) string {
	if requester = strings.TrimSpace(requester); requester == "" {
		requester = anonymousCaller
	}
	if key = strings.TrimSpace(key); key == "" {
		return requester
	}
	return key + "|" + requester
}

// replay writes a stored response, marking it with the replay header.
func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	clear(header)
	for name, values := range record.ResponseHeaders {
		header[name] = append([]string(nil), values...)
	}
	header.Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

// bufferedWriter holds the handler output until the reservation outcome is stored.
type bufferedWriter struct {
	dst    http.ResponseWriter
	header http.Header
	code   int
	body   bytes.Buffer
}

func newBufferedWriter(dst http.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{dst: dst, header: make(http.Header)}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) {
	if b.code == 0 && code > 0 {
		b.code = code
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(p)
}

func (b *bufferedWriter) status() int {
	if b.code == 0 {
		return http.StatusOK
	}
	return b.code
}

func (b *bufferedWriter) bytes() []byte {
	if b.body.Len() == 0 {
		return nil
	}
	return b.body.Bytes()
}

func (b *bufferedWriter) flush() error {
	header := b.dst.Header()
	clear(header)
	for name, values := range b.header {
		header[name] = values
	}
	b.dst.WriteHeader(b.status())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := b.dst.Write(b.body.Bytes())
	return err
}
