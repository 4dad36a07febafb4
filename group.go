package nanoweb

// Group represents a set of routes sharing a pattern prefix and middleware.
// Group routes are registered on the parent router immediately, so their
// position in the route order is the order of the Route calls.
type Group struct {
	router     *Router          // Router the routes are registered on
	prefix     string           // Pattern prefix for every route in the group
	middleware []MiddlewareFunc // Middleware applied before route middleware
}

// Group creates a route group with the given prefix and optional middleware.
//
// Parameters:
//   - prefix: The pattern prefix, for example "/api"
//   - middleware: Middleware applied to every route in the group
//
// Returns:
//   - *Group: A new route group instance
func (r *Router) Group(prefix string, middleware ...MiddlewareFunc) *Group {
	return &Group{
		router:     r,
		prefix:     normalizePrefix(prefix),
		middleware: middleware,
	}
}

// Route registers h under the group's prefix. It panics like Router.Route.
func (g *Group) Route(pattern string, h Handler, middleware ...MiddlewareFunc) {
	g.router.Route(g.prefix+pattern, h, g.chain(middleware)...)
}

// Handle is Route returning the registration error.
func (g *Group) Handle(pattern string, h Handler, middleware ...MiddlewareFunc) error {
	return g.router.Handle(g.prefix+pattern, h, g.chain(middleware)...)
}

// UpgradeRoute registers an upgrade route under the group's prefix. Group
// middleware does not run for upgrade routes because the header block is
// owned by the upgrader.
func (g *Group) UpgradeRoute(pattern string, u Upgrader) {
	g.router.UpgradeRoute(g.prefix+pattern, u)
}

// Group creates a sub-group that inherits this group's middleware.
func (g *Group) Group(prefix string, middleware ...MiddlewareFunc) *Group {
	return &Group{
		router:     g.router,
		prefix:     g.prefix + normalizePrefix(prefix),
		middleware: g.chain(middleware),
	}
}

// Use adds middleware to routes registered on the group afterwards.
func (g *Group) Use(middleware ...MiddlewareFunc) {
	g.middleware = append(g.middleware, middleware...)
}

func (g *Group) chain(extra []MiddlewareFunc) []MiddlewareFunc {
	all := make([]MiddlewareFunc, 0, len(g.middleware)+len(extra))
	all = append(all, g.middleware...)
	return append(all, extra...)
}

// normalizePrefix ensures a leading slash and strips a trailing one, so that
// prefix + "/route" joins cleanly.
func normalizePrefix(prefix string) string {
	if prefix == "" || prefix == "/" {
		return ""
	}
	if prefix[0] != '/' {
		prefix = "/" + prefix
	}
	for len(prefix) > 1 && prefix[len(prefix)-1] == '/' {
		prefix = prefix[:len(prefix)-1]
	}
	return prefix
}
