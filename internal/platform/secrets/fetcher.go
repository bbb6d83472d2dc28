package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	meterName           = "github.com/storefront/api/internal/platform/secrets"
)

// ErrNotFound is returned when neither Secret Manager nor the fallback file knows the reference.
var ErrNotFound = errors.New("secrets: secret not found")

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references for configuration loading. References take the form
// secret://<name>, secret://<project>/<name> or either with ?version=N. Values are cached for a
// bounded time. When Secret Manager is unreachable or denies access the local fallback file is
// consulted, which keeps development setups working without cloud credentials.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	project    string
	ttl        time.Duration
	clock      func() time.Time

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.RWMutex
	cache map[string]cachedSecret

	lookups metric.Int64Counter
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

type fetcherConfig struct {
	logger       *zap.Logger
	project      string
	ttl          time.Duration
	clock        func() time.Time
	fallbackPath string
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithDefaultProject sets the project used when a reference names only the secret.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.project = strings.TrimSpace(projectID) }
}

// WithCacheTTL bounds how long resolved values are reused. Zero disables expiry.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *fetcherConfig) { cfg.ttl = ttl }
}

// WithClock overrides the time source used for cache expiry.
func WithClock(clock func() time.Time) Option {
	return func(cfg *fetcherConfig) { cfg.clock = clock }
}

// WithFallbackFile overrides the path of the local fallback file. An empty path disables it.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithMeter injects the OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) { cfg.meter = m }
}

// WithSecretManagerClient injects a preconfigured client.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

// WithClientOptions forwards Cloud client options when the fetcher dials Secret Manager itself.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created is logged and the
// fetcher serves from the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		ttl:          defaultCacheTTL,
		clock:        time.Now,
		fallbackPath: defaultFallbackPath,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}
	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	lookups, err := meter.Int64Counter(
		"storefront.secrets.lookups",
		metric.WithDescription("Secret resolutions partitioned by source"),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register lookup counter: %w", err)
	}

	f := &Fetcher{
		logger:       cfg.logger,
		project:      cfg.project,
		ttl:          cfg.ttl,
		clock:        cfg.clock,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]cachedSecret),
		lookups:      lookups,
	}

	if cfg.client != nil {
		f.client = cfg.client
		return f, nil
	}
	client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
	if err != nil {
		cfg.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
		return f, nil
	}
	f.client = client
	f.ownsClient = true
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the secret value behind ref.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := parseReference(ref, f.project)
	if err != nil {
		return "", err
	}
	now := f.clock()

	if value, ok := f.cached(parsed.key(), now); ok {
		f.record(ctx, parsed, "cache")
		return value, nil
	}

	if f.client != nil && parsed.Project != "" {
		value, err := f.fetchRemote(ctx, parsed)
		if err == nil {
			f.store(parsed.key(), value, now)
			f.record(ctx, parsed, "remote")
			return value, nil
		}
		if !isFallbackError(err) {
			f.record(ctx, parsed, "error")
			return "", fmt.Errorf("secrets: fetch %s: %w", parsed.Name, err)
		}
		f.logger.Debug("secrets: falling back to local file", zap.String("secret", parsed.Name), zap.Error(err))
	}

	value, ok := f.lookupFallback(parsed)
	if !ok {
		f.record(ctx, parsed, "error")
		return "", fmt.Errorf("%w: %s", ErrNotFound, parsed.Name)
	}
	f.store(parsed.key(), value, now)
	f.record(ctx, parsed, "fallback")
	return value, nil
}

// Invalidate drops every cached version of ref so the next lookup refetches it.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseReference(ref, f.project)
	if err != nil {
		return
	}
	prefix := parsed.Project + "/" + parsed.Name + "#"
	f.mu.Lock()
	for key := range f.cache {
		if strings.HasPrefix(key, prefix) {
			delete(f.cache, key)
		}
	}
	f.mu.Unlock()
}

func (f *Fetcher) cached(key string, now time.Time) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	if !ok {
		return "", false
	}
	if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(key, value string, now time.Time) {
	entry := cachedSecret{value: value}
	if f.ttl > 0 {
		entry.expiresAt = now.Add(f.ttl)
	}
	f.mu.Lock()
	f.cache[key] = entry
	f.mu.Unlock()
}

func (f *Fetcher) fetchRemote(ctx context.Context, ref reference) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", ref.Project, ref.Name, ref.Version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

// lookupFallback reads .secrets.local lines of the form "<reference>=<value>". Versioned keys
// win over unversioned ones.
func (f *Fetcher) lookupFallback(ref reference) (string, bool) {
	f.fallbackOnce.Do(func() {
		f.fallback = loadFallbackFile(f.fallbackPath, f.project, f.logger)
	})
	if value, ok := f.fallback[ref.key()]; ok {
		return value, true
	}
	value, ok := f.fallback[ref.Project+"/"+ref.Name]
	return value, ok
}

func loadFallbackFile(path, project string, logger *zap.Logger) map[string]string {
	values := make(map[string]string)
	if path == "" {
		return values
	}
	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("secrets: unable to open fallback file", zap.String("path", path), zap.Error(err))
		}
		return values
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rawKey, value, ok := splitFallbackLine(line)
		if !ok {
			continue
		}
		parsed, err := parseReference(strings.TrimSpace(rawKey), project)
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		if parsed.pinned {
			values[parsed.key()] = value
			continue
		}
		values[parsed.Project+"/"+parsed.Name] = value
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("secrets: reading fallback file failed", zap.String("path", path), zap.Error(err))
	}
	return values
}

// splitFallbackLine separates "<reference>=<value>", skipping the "=" of a ?version= query.
func splitFallbackLine(line string) (string, string, bool) {
	start := 0
	if q := strings.Index(line, "?"); q >= 0 {
		if eq := strings.Index(line[q:], "="); eq >= 0 {
			start = q + eq + 1
		}
	}
	sep := strings.Index(line[start:], "=")
	if sep < 0 {
		return "", "", false
	}
	return line[:start+sep], line[start+sep+1:], true
}

func (f *Fetcher) record(ctx context.Context, ref reference, source string) {
	f.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("secret", maskName(ref.Project+"/"+ref.Name)),
	))
}

type reference struct {
	Project string
	Name    string
	Version string
	pinned  bool
}

func (r reference) key() string {
	return r.Project + "/" + r.Name + "#" + r.Version
}

func parseReference(raw, defaultProject string) (reference, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "sm://") {
		trimmed = "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	segments := strings.Split(strings.Trim(u.Host+u.Path, "/"), "/")
	ref := reference{Project: defaultProject, Version: "latest"}
	switch len(segments) {
	case 1:
		ref.Name = segments[0]
	case 2:
		ref.Project, ref.Name = segments[0], segments[1]
	default:
		return reference{}, fmt.Errorf("secrets: reference %q has too many segments", raw)
	}
	if ref.Name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	if version := strings.TrimSpace(u.Query().Get("version")); version != "" {
		ref.Version = version
		ref.pinned = true
	}
	return ref, nil
}

func maskName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:6])
}

// isFallbackError reports failures caused by missing access rather than a missing secret.
func isFallbackError(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
