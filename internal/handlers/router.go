package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/storefront/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second

	groupOrders   = "orders"
	groupPayments = "payments"
	groupAdmin    = "admin"
	groupWebhooks = "webhooks"
	groupInternal = "internal"
)

// routeGroup is a sub-tree under the API prefix. Required groups answer 501 until a
// registrar is configured. Optional groups are not mounted at all without one.
type routeGroup struct {
	name        string
	optional    bool
	registrar   RouteRegistrar
	middlewares []middlewareFunc
}

type routerConfig struct {
	middlewares []middlewareFunc
	health      *HealthHandlers
	groups      []*routeGroup
}

func (c *routerConfig) group(name string) *routeGroup {
	for _, g := range c.groups {
		if g.name == name {
			return g
		}
	}
	return nil
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the HTTP surface: probes at the root and the storefront groups under /api/v1.
func NewRouter(opts ...Option) chi.Router {
	cfg := &routerConfig{
		groups: []*routeGroup{
			{name: groupOrders},
			{name: groupPayments, optional: true},
			{name: groupAdmin},
			{name: groupWebhooks},
			{name: groupInternal},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout))
	useAll(r, cfg.middlewares)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, http.StatusNotFound, "route_not_found", fmt.Sprintf("no route for %s", req.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, http.StatusMethodNotAllowed, "method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, g := range cfg.groups {
			if g.registrar == nil && g.optional {
				continue
			}
			api.Route("/"+g.name, g.mount)
		}
	})
	return r
}

func (g *routeGroup) mount(r chi.Router) {
	useAll(r, g.middlewares)
	if g.registrar != nil {
		g.registrar(r)
		return
	}
	pending := func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, http.StatusNotImplemented, "not_implemented", fmt.Sprintf("%s routes not implemented", g.name))
	}
	r.HandleFunc("/", pending)
	r.HandleFunc("/*", pending)
	r.NotFound(pending)
	r.MethodNotAllowed(pending)
}

func useAll(r chi.Router, mws []middlewareFunc) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

func writeRouteError(w http.ResponseWriter, req *http.Request, status int, code, message string) {
	httpx.WriteError(req.Context(), w, httpx.NewError(code, message, status))
}

func withRegistrar(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		if g := cfg.group(name); g != nil {
			g.registrar = reg
		}
	}
}

func withGroupMiddlewares(name string, mw []middlewareFunc) Option {
	return func(cfg *routerConfig) {
		if g := cfg.group(name); g != nil {
			g.middlewares = append(g.middlewares, mw...)
		}
	}
}

// WithMiddlewares appends middleware applied to every route.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithOrderRoutes mounts the checkout and guest lookup endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option { return withRegistrar(groupOrders, reg) }

// WithPaymentRoutes mounts the simulated bank page. Without it /payments is not routed.
func WithPaymentRoutes(reg RouteRegistrar) Option { return withRegistrar(groupPayments, reg) }

// WithAdminRoutes mounts the staff endpoints.
func WithAdminRoutes(reg RouteRegistrar) Option { return withRegistrar(groupAdmin, reg) }

// WithWebhookRoutes mounts the gateway callback endpoints.
func WithWebhookRoutes(reg RouteRegistrar) Option { return withRegistrar(groupWebhooks, reg) }

// WithWebhookMiddlewares adds middleware to the /webhooks group only.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupWebhooks, mw)
}

// WithInternalRoutes mounts the service-to-service endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option { return withRegistrar(groupInternal, reg) }

// WithInternalMiddlewares adds middleware to the /internal group only, typically HMAC checks.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupInternal, mw)
}
