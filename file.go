package nanoweb

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// mimeTypes maps lower-case file extensions to content types.
var mimeTypes = map[string]string{
	".txt":   "text/plain",
	".htm":   "text/html",
	".html":  "text/html",
	".css":   "text/css",
	".csv":   "text/csv",
	".js":    "application/javascript",
	".xml":   "application/xml",
	".xhtml": "application/xhtml+xml",
	".json":  "application/json",
	".zip":   "application/zip",
	".pdf":   "application/pdf",
	".ts":    "application/typescript",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".png":   "image/png",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
}

// ContentTypeFor returns the content type for name's extension, or "" if the
// extension is not in the table.
func ContentTypeFor(name string) string {
	return mimeTypes[strings.ToLower(filepath.Ext(name))]
}

type fileOptions struct {
	contentType string
	chunkSize   int
}

// FileOption configures ServeFile and ServeContent.
type FileOption func(*fileOptions)

// WithContentType overrides the extension lookup.
func WithContentType(ct string) FileOption {
	return func(o *fileOptions) { o.contentType = ct }
}

// WithChunkSize sets the streaming read size.
func WithChunkSize(n int) FileOption {
	return func(o *fileOptions) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

func buildFileOptions(opts []FileOption) fileOptions {
	o := fileOptions{chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NotFound is the error for a missing file.
func NotFound(name string, cause error) *HTTPError {
	return WrapError(ErrResourceNotFound.Code, ErrResourceNotFound.Message, fmt.Errorf("%s: %w", name, cause))
}

// ServeFile streams the named file. A missing file (or a directory) yields a
// 404 *HTTPError; other filesystem errors are returned as-is. Content-Length
// is the file size and Content-Type comes from the option or the extension.
// If headers were already flushed by the handler only the body is sent.
func ServeFile(req *Request, name string, opts ...FileOption) error {
	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NotFound(name, err)
		}
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return NotFound(name, fs.ErrNotExist)
	}
	return ServeContent(req, f, info.Size(), name, opts...)
}

// ServeContent streams size bytes from r in fixed-size chunks. name is used
// only for the content type lookup.
func ServeContent(req *Request, r io.Reader, size int64, name string, opts ...FileOption) error {
	o := buildFileOptions(opts)

	if size >= 0 {
		req.SetHeader("Content-Length", strconv.FormatInt(size, 10))
	} else {
		// Unknown length: the body runs to connection close.
		req.DelHeader("Content-Length")
	}
	ct := o.contentType
	if ct == "" {
		ct = ContentTypeFor(name)
	}
	if ct != "" {
		req.SetHeader("Content-Type", ct)
	}
	if err := req.FlushHeaders(); err != nil {
		return err
	}

	chunk := getChunk(o.chunkSize)
	defer putChunk(chunk)
	buf := *chunk
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := req.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// staticPath maps a request path onto a file under root without letting
// ".." escape it.
func staticPath(root, urlPath string) string {
	clean := path.Clean("/" + urlPath)
	return filepath.Join(root, filepath.FromSlash(clean))
}
