package nanoweb

import (
	"bufio"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

type headerField struct {
	key   string
	value string
}

// response buffers the status line and headers of one exchange and tracks
// whether they have gone out. Once flushed, status and headers are frozen and
// every write is plain body bytes.
type response struct {
	w       *bufio.Writer
	proto   string
	status  int
	header  []headerField
	flushed bool
	written int64
}

func newResponse(w *bufio.Writer, proto string) *response {
	if proto != "HTTP/1.0" && proto != "HTTP/1.1" {
		proto = "HTTP/1.1"
	}
	return &response{w: w, proto: proto, status: http.StatusOK}
}

func (r *response) setStatus(code int) {
	if r.flushed {
		return
	}
	r.status = code
}

func (r *response) setHeader(key, value string) {
	if r.flushed {
		return
	}
	key = textproto.CanonicalMIMEHeaderKey(key)
	value = sanitizeHeaderValue(value)
	for i := range r.header {
		if r.header[i].key == key {
			r.header[i].value = value
			return
		}
	}
	r.header = append(r.header, headerField{key: key, value: value})
}

func (r *response) delHeader(key string) {
	if r.flushed {
		return
	}
	key = textproto.CanonicalMIMEHeaderKey(key)
	for i := range r.header {
		if r.header[i].key == key {
			r.header = append(r.header[:i], r.header[i+1:]...)
			return
		}
	}
}

func (r *response) getHeader(key string) string {
	key = textproto.CanonicalMIMEHeaderKey(key)
	for _, f := range r.header {
		if f.key == key {
			return f.value
		}
	}
	return ""
}

// flushHeaders writes the status line and header block as one buffered write.
// It fires at most once.
func (r *response) flushHeaders() error {
	if r.flushed {
		return nil
	}
	r.flushed = true

	if r.getHeader("Connection") == "" {
		r.header = append(r.header, headerField{key: "Connection", value: "close"})
	}

	buf := getBuffer()
	defer putBuffer(buf)

	reason := http.StatusText(r.status)
	if reason == "" {
		reason = "Status " + strconv.Itoa(r.status)
	}
	buf.WriteString(r.proto)
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(r.status))
	buf.WriteByte(' ')
	buf.WriteString(reason)
	buf.WriteString("\r\n")
	for _, f := range r.header {
		buf.WriteString(f.key)
		buf.WriteString(": ")
		buf.WriteString(f.value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")

	_, err := r.w.Write(buf.Bytes())
	return err
}

// write sends body bytes, flushing default headers first if needed.
func (r *response) write(p []byte) (int, error) {
	if !r.flushed {
		if err := r.flushHeaders(); err != nil {
			return 0, err
		}
	}
	n, err := r.w.Write(p)
	r.written += int64(n)
	return n, err
}

func (r *response) writeString(s string) (int, error) {
	if !r.flushed {
		if err := r.flushHeaders(); err != nil {
			return 0, err
		}
	}
	n, err := r.w.WriteString(s)
	r.written += int64(n)
	return n, err
}

// sanitizeHeaderValue drops CR, LF and other control bytes except HTAB.
func sanitizeHeaderValue(v string) string {
	clean := true
	for i := 0; i < len(v); i++ {
		if c := v[i]; (c < 0x20 && c != '\t') || c == 0x7f {
			clean = false
			break
		}
	}
	if clean {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if (c < 0x20 && c != '\t') || c == 0x7f {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
