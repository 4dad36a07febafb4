package nanoweb

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

var (
	// ErrProtocol marks a request that cannot be parsed far enough to answer.
	// The connection is dropped without a response.
	ErrProtocol = errors.New("nanoweb: protocol error")

	// ErrServerClosed is returned by Serve after Shutdown.
	ErrServerClosed = errors.New("nanoweb: server closed")

	// ErrRedispatchLimit is returned when a handler chain exceeds Config.MaxChain.
	ErrRedispatchLimit = errors.New("nanoweb: handler chain too long")

	// ErrRouterFrozen is the panic value for registrations after Serve.
	ErrRouterFrozen = errors.New("nanoweb: router is frozen")
)

// HTTPError is a domain error carrying the status code and message sent to
// the client.
type HTTPError struct {
	Code    int
	Message string
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// Is matches any *HTTPError with the same code, so wrapped instances compare
// equal to the sentinels below.
func (e *HTTPError) Is(target error) bool {
	t, ok := target.(*HTTPError)
	return ok && t.Code == e.Code
}

// Error returns an *HTTPError; an empty message defaults to the status text.
func Error(code int, message string) *HTTPError {
	if message == "" {
		message = http.StatusText(code)
	}
	return &HTTPError{Code: code, Message: message}
}

// WrapError attaches cause to an *HTTPError.
func WrapError(code int, message string, cause error) *HTTPError {
	e := Error(code, message)
	e.Err = cause
	return e
}

var (
	ErrBadRequest          = Error(http.StatusBadRequest, "Bad Request")
	ErrRouteNotFound       = Error(http.StatusNotFound, "File Not Found")
	ErrResourceNotFound    = Error(http.StatusNotFound, "File Not Found")
	ErrBodyTooLarge        = Error(http.StatusRequestEntityTooLarge, "Payload Too Large")
	ErrHeaderTooLarge      = Error(http.StatusRequestHeaderFieldsTooLarge, "Request Header Fields Too Large")
	ErrInternal            = Error(http.StatusInternalServerError, "Internal error")
	ErrNotImplemented      = Error(http.StatusNotImplemented, "Not Implemented")
	ErrVersionNotSupported = Error(http.StatusHTTPVersionNotSupported, "Version Not Supported")
)

// asHTTPError maps err onto the response that should be attempted.
func asHTTPError(err error) *HTTPError {
	var he *HTTPError
	if errors.As(err, &he) {
		return he
	}
	return WrapError(ErrInternal.Code, ErrInternal.Message, err)
}

// isPeerReset reports whether err means the client went away mid-exchange.
func isPeerReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
