package nanoweb

import (
	"fmt"
	"strconv"
)

// GetIntParam retrieves a route parameter as an integer.
// If the parameter doesn't exist, it returns 0 and an error.
func (r *Request) GetIntParam(key string) (int, error) {
	val, ok := r.GetParam(key)
	if !ok {
		return 0, fmt.Errorf("parameter %s not found", key)
	}
	return strconv.Atoi(val)
}

// GetIntParamOrDefault returns the parameter as an int, or defaultVal if it
// is missing or malformed.
func (r *Request) GetIntParamOrDefault(key string, defaultVal int) int {
	val, err := r.GetIntParam(key)
	if err != nil {
		return defaultVal
	}
	return val
}

// GetUintParam retrieves a route parameter as an unsigned integer.
func (r *Request) GetUintParam(key string) (uint64, error) {
	val, ok := r.GetParam(key)
	if !ok {
		return 0, fmt.Errorf("parameter %s not found", key)
	}
	return strconv.ParseUint(val, 10, 64)
}

// GetFloatParam retrieves a route parameter as a float64.
func (r *Request) GetFloatParam(key string) (float64, error) {
	val, ok := r.GetParam(key)
	if !ok {
		return 0, fmt.Errorf("parameter %s not found", key)
	}
	return strconv.ParseFloat(val, 64)
}

// GetBoolParam retrieves a route parameter as a boolean.
func (r *Request) GetBoolParam(key string) (bool, error) {
	val, ok := r.GetParam(key)
	if !ok {
		return false, fmt.Errorf("parameter %s not found", key)
	}
	return strconv.ParseBool(val)
}

// GetStringParamOrDefault returns the parameter or defaultVal when it is
// missing or empty.
func (r *Request) GetStringParamOrDefault(key string, defaultVal string) string {
	val, ok := r.GetParam(key)
	if !ok || val == "" {
		return defaultVal
	}
	return val
}

// RouteInfo describes a registered route.
type RouteInfo struct {
	Pattern    string   // Route pattern as registered
	Params     []string // Placeholder names
	Upgrade    bool     // Whether the route hands off to an Upgrader
	Middleware int      // Number of route-level middleware functions
}

// ListRoutes returns the routes in precedence order.
func (r *Router) ListRoutes() []RouteInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	routes := make([]RouteInfo, 0, len(r.routes))
	for _, rt := range r.routes {
		routes = append(routes, RouteInfo{
			Pattern:    rt.pattern.raw,
			Params:     rt.pattern.Names(),
			Upgrade:    rt.upgrader != nil,
			Middleware: len(rt.middleware),
		})
	}
	return routes
}
