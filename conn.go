package nanoweb

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errLineTooLong = errors.New("nanoweb: line too long")

// conn serves exactly one exchange on an accepted connection.
type conn struct {
	srv *Server
	rwc net.Conn
	id  uint64
	log zerolog.Logger

	br       *bufio.Reader
	bw       *bufio.Writer
	req      *Request
	budget   int // header bytes left after the request line
	upgraded bool
	switched bool
	dropped  bool

	// Guarded by srv.mu.
	idle       bool
	closedIdle bool
}

func (s *Server) newConn(rwc net.Conn, id uint64) *conn {
	return &conn{
		srv:  s,
		rwc:  rwc,
		id:   id,
		idle: true,
		log:  s.log.With().Uint64("conn_id", id).Str("remote", rwc.RemoteAddr().String()).Logger(),
	}
}

// serve runs the connection to completion and always closes it.
func (c *conn) serve(ctx context.Context) {
	start := time.Now()
	c.srv.metrics.connOpened()
	c.br = getReader(c.rwc)
	c.bw = getWriter(c.rwc)

	var span trace.Span
	defer func() {
		if p := recover(); p != nil {
			c.log.Error().
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("panic serving connection")
			if c.req != nil && !c.upgraded {
				c.respondError(ErrInternal)
			}
		}
		if !c.upgraded {
			c.bw.Flush()
		}
		c.rwc.Close()
		c.record(start, span)
		// An upgrader may have kept references to the buffers.
		if !c.upgraded {
			putReader(c.br)
			putWriter(c.bw)
		}
		c.srv.metrics.connClosed(start)
	}()

	if d := time.Duration(c.srv.cfg.ReadTimeout); d > 0 {
		c.rwc.SetReadDeadline(time.Now().Add(d))
	}

	method, target, version, err := c.readRequestLine()
	if err != nil {
		c.log.Debug().Err(err).Msg("dropping connection")
		c.dropped = true
		return
	}
	if !c.srv.beginRequest(c) {
		c.log.Debug().Msg("dropping connection: server shutting down")
		c.dropped = true
		return
	}

	ctx, span = c.srv.tracer.Start(ctx, method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.target", target),
			attribute.String("http.flavor", version),
			attribute.Int64("nanoweb.conn_id", int64(c.id)),
		),
	)
	c.req = newRequest(ctx, c.id, method, target, version, c.bw)
	c.req.remoteAddr = c.rwc.RemoteAddr().String()

	c.finish(c.exchange(ctx))
}

// exchange walks the request through version check, route lookup, headers,
// body and dispatch. The route is resolved before any header line is read so
// an upgrader receives the header block untouched.
func (c *conn) exchange(ctx context.Context) error {
	req := c.req
	if req.Version != "HTTP/1.0" && req.Version != "HTTP/1.1" {
		return ErrVersionNotSupported
	}

	m, found := c.srv.router.Lookup(req.Path)
	if found && m.Upgrade {
		return c.upgrade(ctx, m)
	}

	if err := c.readHeaders(); err != nil {
		return err
	}
	if err := c.frameBody(); err != nil {
		return err
	}
	if d := time.Duration(c.srv.cfg.WriteTimeout); d > 0 {
		c.rwc.SetWriteDeadline(time.Now().Add(d))
	}

	if !found {
		return c.srv.router.serveNotFound(req)
	}
	req.Params = m.Params
	return c.srv.router.serve(req, m)
}

func (c *conn) upgrade(ctx context.Context, m RouteMatch) error {
	c.upgraded = true
	c.req.Params = m.Params

	// The read deadline stays in force until the upgrader takes the
	// connection over.
	err := m.Upgrader.Upgrade(ctx, &UpgradeConn{
		Conn:    c.rwc,
		Reader:  c.br,
		Writer:  c.bw,
		Method:  c.req.Method,
		Target:  c.req.Target,
		Version: c.req.Version,
		Params:  m.Params,
		ConnID:  c.id,
		Request: c.req,
		budget:  c.budget,
	})
	switch {
	case err == nil:
		c.switched = !c.req.HeadersFlushed()
	case errors.Is(err, ErrProtocol) || isPeerReset(err):
		c.log.Debug().Err(err).Str("path", c.req.Path).Msg("dropping upgrade")
		c.dropped = true
	default:
		c.log.Debug().Err(err).Str("path", c.req.Path).Msg("upgrade failed")
		var he *HTTPError
		if errors.As(err, &he) {
			c.respondError(he)
		}
		// Rejections written by the upgrader itself count as answered.
		c.dropped = !c.req.HeadersFlushed()
	}
	// Handshake rejections are buffered until here.
	c.bw.Flush()
	if c.switched {
		c.srv.metrics.upgrade()
	}
	return nil
}

// readRequestLine reads "METHOD SP TARGET SP VERSION". Anything that does
// not split into exactly three tokens is a protocol error.
func (c *conn) readRequestLine() (method, target, version string, err error) {
	line, err := readLine(c.br, c.srv.cfg.MaxHeaderBytes)
	if err != nil {
		return "", "", "", fmt.Errorf("%w: request line: %v", ErrProtocol, err)
	}
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("%w: malformed request line %q", ErrProtocol, line)
	}
	c.budget = c.srv.cfg.MaxHeaderBytes - len(line) - 2
	return parts[0], parts[1], parts[2], nil
}

// readHeaders consumes the header block, keeping allow-listed keys only.
func (c *conn) readHeaders() error {
	return readHeaderBlock(c.br, c.budget, func(key, value string) {
		if _, keep := c.srv.headers[key]; keep {
			c.req.headers[key] = value
		}
	})
}

// readHeaderBlock reads header lines up to the blank line, charging each
// against budget, and passes every field to fn with a canonical key.
func readHeaderBlock(br *bufio.Reader, budget int, fn func(key, value string)) error {
	for {
		line, err := readLine(br, budget)
		switch {
		case errors.Is(err, errLineTooLong):
			return ErrHeaderTooLarge
		case errors.Is(err, io.EOF) && line == "":
			// Peer half-closed after the last header.
			return nil
		case err != nil:
			return fmt.Errorf("%w: reading headers: %v", ErrProtocol, err)
		}
		if line == "" {
			return nil
		}
		budget -= len(line) + 2
		if budget <= 0 {
			return ErrHeaderTooLarge
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return WrapError(ErrBadRequest.Code, "Malformed header line", fmt.Errorf("%q", line))
		}
		fn(textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(key)), strings.TrimSpace(value))
	}
}

// frameBody frames the body by Content-Length. A JSON post is read and
// decoded later, by Request.DecodeBody, once the middleware chain has passed.
func (c *conn) frameBody() error {
	req := c.req
	if v, ok := req.headers["Content-Length"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return WrapError(ErrBadRequest.Code, "Invalid Content-Length", err)
		}
		req.contentLength = n
		req.body = io.LimitReader(c.br, n)
	}

	if req.Method != "POST" || !isJSONContentType(req.headers["Content-Type"]) || req.contentLength <= 0 {
		return nil
	}
	req.decode = c.decodeJSON
	return nil
}

func (c *conn) decodeJSON() error {
	req := c.req
	if req.contentLength > c.srv.cfg.MaxBodyBytes {
		return ErrBodyTooLarge
	}
	raw := make([]byte, req.contentLength)
	if _, err := io.ReadFull(req.body, raw); err != nil {
		return fmt.Errorf("%w: short body: %v", ErrProtocol, err)
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return WrapError(ErrBadRequest.Code, "Invalid JSON body", err)
	}
	req.JSONBody = v
	req.rawBody = raw
	req.body = bytes.NewReader(raw)
	return nil
}

func isJSONContentType(ct string) bool {
	mt, _, _ := strings.Cut(ct, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// finish maps the exchange outcome onto the wire.
func (c *conn) finish(err error) {
	if c.upgraded {
		return
	}
	if err == nil {
		if !c.req.HeadersFlushed() {
			if c.req.ResponseHeader("Content-Length") == "" {
				c.req.SetHeader("Content-Length", "0")
			}
			if ferr := c.req.FlushHeaders(); ferr != nil && !isPeerReset(ferr) {
				c.log.Error().Err(ferr).Msg("write failed")
			}
		}
		return
	}

	switch {
	case errors.Is(err, ErrProtocol):
		c.log.Debug().Err(err).Msg("dropping connection")
		c.dropped = true
		return
	case isPeerReset(err):
		c.log.Debug().Err(err).Msg("peer went away")
		c.dropped = true
		return
	}

	var he *HTTPError
	if !errors.As(err, &he) {
		c.log.Error().Err(err).Str("path", c.req.Path).Msg("unhandled error")
		he = asHTTPError(err)
	}
	c.respondError(he)
}

func (c *conn) respondError(he *HTTPError) {
	if c.req.HeadersFlushed() {
		return
	}
	if err := c.srv.router.writeError(c.req, he); err != nil && !isPeerReset(err) {
		c.log.Error().Err(err).Msg("writing error response")
	}
}

func (c *conn) record(start time.Time, span trace.Span) {
	if c.dropped || c.req == nil {
		c.srv.metrics.drop()
		if span != nil {
			span.End()
		}
		return
	}
	status := c.req.Status()
	if c.switched {
		status = http.StatusSwitchingProtocols
	}
	c.srv.metrics.request(status)
	if span != nil {
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int64("http.response_size", c.req.BytesWritten()),
		)
		if status >= 500 {
			span.SetStatus(codes.Error, strconv.Itoa(status))
		}
		span.End()
	}
	c.log.Info().
		Str("method", c.req.Method).
		Str("path", c.req.Path).
		Int("status", status).
		Int64("bytes", c.req.BytesWritten()).
		Dur("duration", time.Since(start)).
		Msg("request")
}

// readLine reads one CRLF or LF terminated line without the terminator.
// A final line cut short by EOF is returned with a nil error.
func readLine(br *bufio.Reader, limit int) (string, error) {
	var line []byte
	for {
		frag, err := br.ReadSlice('\n')
		line = append(line, frag...)
		if len(line) > limit {
			return "", errLineTooLong
		}
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF && len(line) > 0 {
			break
		}
		return "", err
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}
