package nanoweb

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
)

// MiddlewareFunc intercepts a request before its handler. Returning
// (nil, nil) continues to the next interceptor; a non-nil Handler is
// dispatched instead of the route handler; an error takes the error path.
type MiddlewareFunc func(*Request) (Handler, error)

// runMiddleware evaluates the router chain, then the route chain, stopping at
// the first interceptor that answers.
func runMiddleware(req *Request, chains ...[]MiddlewareFunc) (Handler, error) {
	for _, chain := range chains {
		for _, mw := range chain {
			h, err := mw(req)
			if err != nil || h != nil {
				return h, err
			}
		}
	}
	return nil, nil
}

// ### Basic auth

// BasicAuth admits requests whose Authorization header carries Basic
// credentials accepted by check; others get a 401 challenge for realm.
func BasicAuth(realm string, check func(user, pass string) bool) MiddlewareFunc {
	challenge := Func(func(r *Request) error {
		r.SetHeader("WWW-Authenticate", `Basic realm="`+realm+`"`)
		return r.HTML(http.StatusUnauthorized, "<h1>Unauthorized</h1>")
	})
	return func(r *Request) (Handler, error) {
		user, pass, ok := parseBasicAuth(r.Header("Authorization"))
		if !ok || !check(user, pass) {
			return challenge, nil
		}
		r.Set("user", user)
		return nil, nil
	}
}

// Credentials returns a BasicAuth check for a single fixed account.
func Credentials(user, pass string) func(string, string) bool {
	return func(u, p string) bool {
		uok := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1
		pok := subtle.ConstantTimeCompare([]byte(p), []byte(pass)) == 1
		return uok && pok
	}
}

func parseBasicAuth(header string) (user, pass string, ok bool) {
	kind, encoded, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(kind, "Basic") {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", false
	}
	return strings.Cut(string(raw), ":")
}

// ### Method guard

// AllowMethods rejects other methods with 501 Not Implemented.
func AllowMethods(methods ...string) MiddlewareFunc {
	return func(r *Request) (Handler, error) {
		for _, m := range methods {
			if r.Method == m {
				return nil, nil
			}
		}
		return nil, ErrNotImplemented
	}
}
