// Package nanoweb is a small HTTP/1.x engine: it accepts connections, parses
// the request line and an allow-listed set of headers, matches the URL against
// <name>-parameterized route patterns in registration order, and resolves the
// matched Handler through a dispatch loop that serves templates, files, JSON or
// calls functions which may return further handlers. Routes can instead hand
// the raw connection to an Upgrader (for example WebSocket) before any header
// line is consumed. Every connection carries exactly one exchange.
package nanoweb

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
)

// Handler is one of TemplateVars, Template, File, JSON or HandlerFunc.
type Handler interface {
	isHandler()
}

// TemplateVars renders the file named after the request path (under the
// router's static directory) with these variables substituted.
type TemplateVars map[string]interface{}

// Template renders Name line by line, replacing {key} with the matching
// variable. VarsFunc, when set, is evaluated at dispatch time instead of Vars.
type Template struct {
	Name     string
	Vars     TemplateVars
	VarsFunc func() TemplateVars
}

// File serves the named file verbatim.
type File string

// JSON encodes Value with status Code (200 when zero).
type JSON struct {
	Code  int
	Value interface{}
}

// HandlerFunc is called with the request. Returning a non-nil Handler
// redispatches it immediately; returning nil ends the exchange.
type HandlerFunc func(*Request) (Handler, error)

func (TemplateVars) isHandler() {}
func (Template) isHandler()     {}
func (File) isHandler()         {}
func (JSON) isHandler()         {}
func (HandlerFunc) isHandler()  {}

// Func adapts a handler that never chains.
func Func(fn func(*Request) error) HandlerFunc {
	return func(r *Request) (Handler, error) {
		return nil, fn(r)
	}
}

type route struct {
	pattern    *Pattern
	handler    Handler
	upgrader   Upgrader
	middleware []MiddlewareFunc
}

// RouteMatch is the result of a successful Lookup.
type RouteMatch struct {
	Pattern  string
	Handler  Handler
	Upgrader Upgrader
	Params   Params
	Upgrade  bool

	route *route
}

// Router holds the ordered route list. The first registered pattern that
// matches a URL wins regardless of specificity. Registration must finish
// before the router is served.
type Router struct {
	mu         sync.Mutex
	frozen     atomic.Bool
	routes     []*route
	middleware []MiddlewareFunc

	staticDir    string
	chunkSize    int
	maxChain     int
	notFound     Handler
	errorHandler func(*Request, *HTTPError) error
}

// Option configures a Router.
type Option func(*Router)

// WithConfig applies the dispatch-related fields of cfg.
func WithConfig(cfg Config) Option {
	cfg.normalize()
	return func(r *Router) {
		r.staticDir = cfg.StaticDir
		r.chunkSize = cfg.ChunkSize
		r.maxChain = cfg.MaxChain
	}
}

// WithStaticDir sets the root for TemplateVars handlers.
func WithStaticDir(dir string) Option {
	return func(r *Router) { r.staticDir = dir }
}

// WithMaxChain bounds handler redispatch.
func WithMaxChain(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxChain = n
		}
	}
}

// WithNotFound sets the handler dispatched when no route matches.
func WithNotFound(h Handler) Option {
	return func(r *Router) { r.notFound = h }
}

// WithErrorHandler replaces the default error page writer.
func WithErrorHandler(fn func(*Request, *HTTPError) error) Option {
	return func(r *Router) { r.errorHandler = fn }
}

// New creates a Router.
func New(opts ...Option) *Router {
	r := &Router{
		staticDir: ".",
		chunkSize: DefaultChunkSize,
		maxChain:  DefaultMaxChain,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Use appends middleware run before every matched handler.
func (r *Router) Use(middleware ...MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFrozen()
	r.middleware = append(r.middleware, middleware...)
}

// Handle registers h for pattern and returns compilation errors.
func (r *Router) Handle(pattern string, h Handler, middleware ...MiddlewareFunc) error {
	return r.add(pattern, h, nil, middleware)
}

// Route registers h for pattern. It panics if the pattern is invalid or the
// router is already being served.
func (r *Router) Route(pattern string, h Handler, middleware ...MiddlewareFunc) {
	if err := r.Handle(pattern, h, middleware...); err != nil {
		panic(err)
	}
}

// UpgradeRoute registers a route whose connection is handed to u right after
// the request line, with the header block still unread.
func (r *Router) UpgradeRoute(pattern string, u Upgrader) {
	if u == nil {
		panic("nanoweb: nil upgrader for " + strconv.Quote(pattern))
	}
	if err := r.add(pattern, nil, u, nil); err != nil {
		panic(err)
	}
}

// Routes registers a pattern→handler table. Go maps are unordered, so the
// table is registered most specific first: more literal bytes, then
// lexical order.
func (r *Router) Routes(table map[string]Handler) error {
	compiled := make([]*Pattern, 0, len(table))
	for raw := range table {
		p, err := CompilePattern(raw)
		if err != nil {
			return err
		}
		compiled = append(compiled, p)
	}
	sort.Slice(compiled, func(i, j int) bool {
		li, lj := compiled[i].literalLen(), compiled[j].literalLen()
		if li != lj {
			return li > lj
		}
		return compiled[i].raw < compiled[j].raw
	})
	for _, p := range compiled {
		if err := r.Handle(p.raw, table[p.raw]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) add(pattern string, h Handler, u Upgrader, middleware []MiddlewareFunc) error {
	p, err := CompilePattern(pattern)
	if err != nil {
		return err
	}
	if u == nil && h == nil {
		return fmt.Errorf("nanoweb: nil handler for %q", pattern)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFrozen()
	r.routes = append(r.routes, &route{
		pattern:    p,
		handler:    h,
		upgrader:   u,
		middleware: append([]MiddlewareFunc(nil), middleware...),
	})
	return nil
}

func (r *Router) checkFrozen() {
	if r.frozen.Load() {
		panic(ErrRouterFrozen)
	}
}

// freeze ends registration. Lookups afterwards read routes without locking.
func (r *Router) freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Lookup scans the routes in registration order and returns the first match.
func (r *Router) Lookup(url string) (RouteMatch, bool) {
	for _, rt := range r.routes {
		params, ok := rt.pattern.Match(url)
		if !ok {
			continue
		}
		return RouteMatch{
			Pattern:  rt.pattern.raw,
			Handler:  rt.handler,
			Upgrader: rt.upgrader,
			Params:   params,
			Upgrade:  rt.upgrader != nil,
			route:    rt,
		}, true
	}
	return RouteMatch{}, false
}

// serve runs the middleware chain, decodes a pending JSON body and
// dispatches the matched handler.
func (r *Router) serve(req *Request, m RouteMatch) error {
	var routeMW []MiddlewareFunc
	h := m.Handler
	if m.route != nil {
		routeMW = m.route.middleware
	}
	short, err := runMiddleware(req, r.middleware, routeMW)
	if err != nil {
		return err
	}
	if short != nil {
		return r.dispatch(req, short)
	}
	// The body is only read once every interceptor has let the request in.
	if err := req.DecodeBody(); err != nil {
		return err
	}
	return r.dispatch(req, h)
}

// serveNotFound answers a request no route matched.
func (r *Router) serveNotFound(req *Request) error {
	if r.notFound == nil {
		return ErrRouteNotFound
	}
	return r.serve(req, RouteMatch{Handler: r.notFound})
}

// writeError renders he unless the header block is already on the wire.
func (r *Router) writeError(req *Request, he *HTTPError) error {
	if req.HeadersFlushed() {
		return nil
	}
	if r.errorHandler != nil {
		return r.errorHandler(req, he)
	}
	body := "<h1>" + he.Message + "</h1>"
	req.SetStatus(he.Code)
	req.SetHeader("Content-Type", "text/html")
	req.SetHeader("Content-Length", strconv.Itoa(len(body)))
	if he.Code == http.StatusUnauthorized && req.ResponseHeader("WWW-Authenticate") == "" {
		req.SetHeader("WWW-Authenticate", `Basic realm="Restricted"`)
	}
	_, err := req.WriteString(body)
	return err
}
