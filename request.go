package nanoweb

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Request is the per-connection state of one exchange: the parsed request
// line, the allow-listed headers, route params, the optional JSON body and the
// response being built. It is owned by a single connection and never shared.
type Request struct {
	Method   string
	Target   string // request target exactly as sent
	Path     string // Target without the query string; used for routing
	RawQuery string
	Version  string

	// Params is set once from the matched route.
	Params Params

	// JSONBody holds the decoded body of a POST with a JSON content type.
	// It is decoded after the middleware chain passes; middleware that needs
	// it calls DecodeBody first.
	JSONBody interface{}

	ctx           context.Context
	connID        uint64
	remoteAddr    string
	headers       map[string]string
	contentLength int64
	body          io.Reader
	rawBody       []byte
	decode        func() error
	decodeErr     error
	decoded       bool
	values        map[string]interface{}
	resp          *response
}

func newRequest(ctx context.Context, connID uint64, method, target, version string, bw *bufio.Writer) *Request {
	path, query, _ := strings.Cut(target, "?")
	return &Request{
		Method:        method,
		Target:        target,
		Path:          path,
		RawQuery:      query,
		Version:       version,
		Params:        Params{},
		ctx:           ctx,
		connID:        connID,
		headers:       make(map[string]string, 8),
		contentLength: -1,
		body:          eofReader{},
		resp:          newResponse(bw, version),
	}
}

// processToken tells this process's scratch names from those of earlier runs.
var processToken = func() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.Itoa(os.Getpid())
	}
	return hex.EncodeToString(b[:])
}()

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// Context returns the context of the connection serving this request. It is
// cancelled when the server shuts down.
func (r *Request) Context() context.Context {
	return r.ctx
}

// ConnID is a token unique to the connection within this process.
func (r *Request) ConnID() uint64 {
	return r.connID
}

// ScratchName derives a file name from base that no concurrently served
// connection, in this process or another, will produce.
func (r *Request) ScratchName(base string) string {
	return base + ".tmp-" + processToken + "-" + strconv.FormatUint(r.connID, 10)
}

// RemoteAddr is the peer address of the connection.
func (r *Request) RemoteAddr() string {
	return r.remoteAddr
}

// ### Request headers and body

// Header returns an allow-listed request header.
func (r *Request) Header(key string) string {
	return r.headers[textproto.CanonicalMIMEHeaderKey(key)]
}

// Headers returns a copy of the retained request headers.
func (r *Request) Headers() map[string]string {
	out := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		out[k] = v
	}
	return out
}

// ContentLength is the declared body length, or -1 when absent.
func (r *Request) ContentLength() int64 {
	return r.contentLength
}

// Body reads the request body. It is framed by Content-Length; without one
// the body is empty.
func (r *Request) Body() io.Reader {
	return r.body
}

// Query returns the first value of a query string parameter.
func (r *Request) Query(key string) string {
	v, err := url.ParseQuery(r.RawQuery)
	if err != nil {
		return ""
	}
	return v.Get(key)
}

// DecodeBody reads and parses a pending JSON body. It runs at most once and
// returns the same error on every call.
func (r *Request) DecodeBody() error {
	if !r.decoded {
		r.decoded = true
		if r.decode != nil {
			r.decodeErr = r.decode()
		}
	}
	return r.decodeErr
}

// Bind decodes the JSON body into v.
func (r *Request) Bind(v interface{}) error {
	if err := r.DecodeBody(); err != nil {
		return err
	}
	if r.rawBody == nil {
		return errors.New("nanoweb: request has no JSON body")
	}
	if err := json.Unmarshal(r.rawBody, v); err != nil {
		return fmt.Errorf("failed to decode JSON: %w", err)
	}
	return nil
}

// ### Params and values

// GetParam retrieves a route parameter by name.
func (r *Request) GetParam(key string) (string, bool) {
	return r.Params.Get(key)
}

// MustParam retrieves a required route parameter or returns an error.
func (r *Request) MustParam(key string) (string, error) {
	if val, ok := r.GetParam(key); ok && val != "" {
		return val, nil
	}
	return "", fmt.Errorf("required parameter %s missing or empty", key)
}

// Set stores a value for later middleware or handlers.
func (r *Request) Set(key string, value interface{}) {
	if r.values == nil {
		r.values = make(map[string]interface{}, 4)
	}
	r.values[key] = value
}

// Get retrieves a value stored with Set.
func (r *Request) Get(key string) interface{} {
	return r.values[key]
}

// ### Response

// SetStatus sets the response status. It is a no-op once headers are flushed.
func (r *Request) SetStatus(code int) {
	r.resp.setStatus(code)
}

// Status returns the response status.
func (r *Request) Status() int {
	return r.resp.status
}

// SetHeader sets a response header. It is a no-op once headers are flushed.
func (r *Request) SetHeader(key, value string) {
	r.resp.setHeader(key, value)
}

// DelHeader removes a response header. It is a no-op once headers are flushed.
func (r *Request) DelHeader(key string) {
	r.resp.delHeader(key)
}

// ResponseHeader returns a response header set so far.
func (r *Request) ResponseHeader(key string) string {
	return r.resp.getHeader(key)
}

// FlushHeaders sends the status line and headers. Only the first call writes.
func (r *Request) FlushHeaders() error {
	return r.resp.flushHeaders()
}

// HeadersFlushed reports whether the header block has been sent.
func (r *Request) HeadersFlushed() bool {
	return r.resp.flushed
}

// Write sends body bytes, flushing default headers first if necessary.
func (r *Request) Write(p []byte) (int, error) {
	return r.resp.write(p)
}

// WriteString is Write for strings.
func (r *Request) WriteString(s string) (int, error) {
	return r.resp.writeString(s)
}

// BytesWritten is the number of body bytes written so far.
func (r *Request) BytesWritten() int64 {
	return r.resp.written
}

// SendJSON encodes v and sends it with the given status.
func (r *Request) SendJSON(status int, v interface{}) error {
	buf := getBuffer()
	defer putBuffer(buf)
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return WrapError(ErrInternal.Code, "Failed to encode JSON", err)
	}
	r.SetStatus(status)
	r.SetHeader("Content-Type", "application/json")
	r.SetHeader("Content-Length", strconv.Itoa(buf.Len()))
	_, err := r.Write(buf.Bytes())
	return err
}

// String sends a plain text response.
func (r *Request) String(status int, s string) error {
	r.SetStatus(status)
	r.SetHeader("Content-Type", "text/plain")
	r.SetHeader("Content-Length", strconv.Itoa(len(s)))
	_, err := r.WriteString(s)
	return err
}

// HTML sends an HTML response.
func (r *Request) HTML(status int, html string) error {
	r.SetStatus(status)
	r.SetHeader("Content-Type", "text/html; charset=utf-8")
	r.SetHeader("Content-Length", strconv.Itoa(len(html)))
	_, err := r.WriteString(html)
	return err
}

// SendFile streams a file. See ServeFile.
func (r *Request) SendFile(name string, opts ...FileOption) error {
	return ServeFile(r, name, opts...)
}
