package nanoweb

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// UpgradeConn is what an Upgrader receives: the raw connection with its
// buffered reader positioned right after the request line, so the header
// block is still unread. The server's read deadline is still set.
type UpgradeConn struct {
	Conn    net.Conn
	Reader  *bufio.Reader
	Writer  *bufio.Writer
	Method  string
	Target  string
	Version string
	Params  Params
	ConnID  uint64

	// Request is the connection's Request, with no headers read yet.
	// Responses written through it are recorded as the exchange's status.
	Request *Request

	budget int
}

// ReadHeader reads the header block under the server's MaxHeaderBytes
// budget. It returns ErrHeaderTooLarge past the budget and an error wrapping
// ErrProtocol when the peer stops mid-block.
func (uc *UpgradeConn) ReadHeader() (http.Header, error) {
	h := make(http.Header)
	err := readHeaderBlock(uc.Reader, uc.budget, func(key, value string) {
		h.Add(key, value)
	})
	return h, err
}

// Upgrader takes over a connection whose route was registered with
// UpgradeRoute. It owns the connection until it returns; the server closes
// it afterwards.
type Upgrader interface {
	Upgrade(ctx context.Context, uc *UpgradeConn) error
}

// UpgraderFunc adapts a function to Upgrader.
type UpgraderFunc func(ctx context.Context, uc *UpgradeConn) error

func (f UpgraderFunc) Upgrade(ctx context.Context, uc *UpgradeConn) error {
	return f(ctx, uc)
}

// ### WebSocket

// WebSocketHandler serves an upgraded connection. The Request carries the
// route params and handshake headers.
type WebSocketHandler func(*websocket.Conn, *Request)

type wsUpgrader struct {
	cfg      WebSocketConfig
	upgrader websocket.Upgrader
	handler  WebSocketHandler
}

// WebSocket returns an Upgrader that completes the WebSocket handshake with
// gorilla/websocket, keeps the connection alive with pings and calls handler.
func WebSocket(handler WebSocketHandler, cfg WebSocketConfig) Upgrader {
	c := Config{WebSocket: cfg}
	c.normalize()
	u := &wsUpgrader{cfg: c.WebSocket, handler: handler}
	if !cfg.CheckOrigin {
		u.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	return u
}

func (u *wsUpgrader) Upgrade(ctx context.Context, uc *UpgradeConn) error {
	hdr, err := uc.ReadHeader()
	if err != nil {
		return fmt.Errorf("websocket handshake headers: %w", err)
	}

	req := uc.Request
	for k, vv := range hdr {
		req.headers[k] = vv[0]
	}

	target, err := url.ParseRequestURI(uc.Target)
	if err != nil {
		return WrapError(ErrBadRequest.Code, ErrBadRequest.Message, err)
	}
	httpReq := (&http.Request{
		Method:     uc.Method,
		URL:        target,
		RequestURI: uc.Target,
		Proto:      uc.Version,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     hdr,
		Host:       hdr.Get("Host"),
		RemoteAddr: req.RemoteAddr(),
	}).WithContext(ctx)

	w := &hijackWriter{req: req, uc: uc, header: http.Header{}}
	conn, err := u.upgrader.Upgrade(w, httpReq, nil)
	if err != nil {
		// gorilla has already written the error response.
		return fmt.Errorf("websocket upgrade: %w", err)
	}
	// The keepalive loop owns the deadlines from here.
	uc.Conn.SetDeadline(time.Time{})
	u.serve(ctx, conn, req)
	return nil
}

// serve runs the keepalive loop around handler.
func (u *wsUpgrader) serve(ctx context.Context, conn *websocket.Conn, req *Request) {
	conn.SetReadLimit(u.cfg.MaxMessageSize)
	readTimeout := time.Duration(u.cfg.ReadTimeout)
	writeTimeout := time.Duration(u.cfg.WriteTimeout)

	wsCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		conn.Close()
		wg.Wait()
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Duration(u.cfg.PingInterval))
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					return
				}
			case <-wsCtx.Done():
				return
			}
		}
	}()

	// Server shutdown: tell the peer and unblock the handler's reads.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-wsCtx.Done()
		if ctx.Err() == nil {
			return
		}
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"),
			time.Now().Add(time.Second),
		)
		conn.SetReadDeadline(time.Now().Add(time.Second))
	}()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	u.handler(conn, req)

	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
}

// hijackWriter is the http.ResponseWriter gorilla needs for the handshake.
// Error responses go through the Request's header buffer; Hijack hands over
// the raw connection.
type hijackWriter struct {
	req    *Request
	uc     *UpgradeConn
	header http.Header
}

func (w *hijackWriter) Header() http.Header {
	return w.header
}

func (w *hijackWriter) WriteHeader(code int) {
	if w.req.HeadersFlushed() {
		return
	}
	for k, vv := range w.header {
		w.req.SetHeader(k, strings.Join(vv, ", "))
	}
	w.req.SetStatus(code)
	w.req.FlushHeaders()
}

func (w *hijackWriter) Write(p []byte) (int, error) {
	if !w.req.HeadersFlushed() {
		w.WriteHeader(http.StatusOK)
	}
	return w.req.Write(p)
}

func (w *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if err := w.uc.Writer.Flush(); err != nil {
		return nil, nil, err
	}
	return w.uc.Conn, bufio.NewReadWriter(w.uc.Reader, w.uc.Writer), nil
}
