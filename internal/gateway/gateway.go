// Package gateway fronts the services with a single public entry point.
package gateway

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"neighborly/internal/platform/httpx"
)

// Upstreams are the base URLs of the services behind the gateway.
type Upstreams struct {
	Community string
	Catalog   string
	Borrowing string
}

// Limits bounds the request rate of a single client address.
type Limits struct {
	PerSecond rate.Limit
	Burst     int
}

const maxClients = 10000

// New returns the gateway router. Paths are forwarded unchanged. The
// /internal tree is never exposed.
func New(logger *slog.Logger, up Upstreams, limits Limits) (http.Handler, error) {
	community, err := proxy(logger, "community", up.Community)
	if err != nil {
		return nil, err
	}
	catalog, err := proxy(logger, "catalog", up.Catalog)
	if err != nil {
		return nil, err
	}
	borrowing, err := proxy(logger, "borrowing", up.Borrowing)
	if err != nil {
		return nil, err
	}

	r := httpx.NewRouter(logger)
	r.Group(func(r chi.Router) {
		r.Use(newClientLimiter(limits).middleware)

		r.Handle("/internal", http.NotFoundHandler())
		r.Handle("/internal/*", http.NotFoundHandler())

		r.Handle("/users", community)
		r.Handle("/users/*", community)
		r.Handle("/login", community)
		r.Handle("/communities", community)
		r.Handle("/communities/*", community)

		r.Handle("/items", catalog)
		r.Handle("/items/*", catalog)
		r.Handle("/communities/{id}/items", catalog)

		r.Handle("/items/{id}/borrow-requests", borrowing)
		r.Handle("/borrow-requests", borrowing)
		r.Handle("/borrow-requests/*", borrowing)
		r.Handle("/dashboard", borrowing)
	})

	return r, nil
}

func proxy(logger *slog.Logger, name, raw string) (http.Handler, error) {
	target, err := url.Parse(raw)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid %s upstream %q", name, raw)
	}
	p := httputil.NewSingleHostReverseProxy(target)
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("upstream unavailable", "upstream", name, "path", r.URL.Path, "error", err)
		httpx.WriteJSON(w, http.StatusBadGateway, map[string]string{"error": name + " service unavailable"})
	}
	return p, nil
}

type clientLimiter struct {
	limits Limits

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

func newClientLimiter(limits Limits) *clientLimiter {
	return &clientLimiter{limits: limits, clients: make(map[string]*rate.Limiter)}
}

func (c *clientLimiter) get(addr string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.clients[addr]
	if !ok {
		if len(c.clients) >= maxClients {
			c.clients = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(c.limits.PerSecond, c.limits.Burst)
		c.clients[addr] = l
	}
	return l
}

func (c *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !c.get(host).Allow() {
			w.Header().Set("Retry-After", "1")
			httpx.WriteJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
