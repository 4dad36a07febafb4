package nanoweb

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorder captures what a Request writes.
type recorder struct {
	req *Request
	bw  *bufio.Writer
	out bytes.Buffer
}

func newRecorder(method, target string) *recorder {
	rec := &recorder{}
	rec.bw = bufio.NewWriter(&rec.out)
	rec.req = newRequest(context.Background(), 1, method, target, "HTTP/1.1", rec.bw)
	return rec
}

// raw returns the bytes written so far.
func (rec *recorder) raw() string {
	rec.bw.Flush()
	return rec.out.String()
}

// result parses the captured bytes as an HTTP response.
func (rec *recorder) result(t testing.TB) (*http.Response, string) {
	t.Helper()
	resp, err := http.ReadResponse(bufio.NewReader(strings.NewReader(rec.raw())), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

// startServer serves r on a loopback port until the test ends.
func startServer(t testing.TB, r *Router, cfg Config, opts ...ServerOption) (*Server, string) {
	t.Helper()
	srv := NewServer(r, cfg, opts...)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		<-done
	})
	return srv, ln.Addr().String()
}

// exchange writes raw to a fresh connection and reads until the server
// closes it.
func exchange(t testing.TB, addr, raw string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	_, err = io.WriteString(conn, raw)
	require.NoError(t, err)
	out, err := io.ReadAll(conn)
	if err != nil && len(out) == 0 {
		require.NoError(t, err)
	}
	return string(out)
}

// parse reads a raw HTTP response.
func parse(t testing.TB, raw string) (*http.Response, string) {
	t.Helper()
	resp, err := http.ReadResponse(bufio.NewReader(strings.NewReader(raw)), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}
