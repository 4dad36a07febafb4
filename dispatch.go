package nanoweb

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// dispatch resolves h until a HandlerFunc returns nil. Each iteration runs
// exactly one variant; TemplateVars is first rewritten into a Template for
// the file named after the request path.
func (r *Router) dispatch(req *Request, h Handler) error {
	for i := 0; ; i++ {
		if i >= r.maxChain {
			return WrapError(ErrInternal.Code, ErrInternal.Message,
				fmt.Errorf("%w: %d handlers for %s", ErrRedispatchLimit, i, req.Path))
		}

		if vars, ok := h.(TemplateVars); ok {
			h = Template{Name: staticPath(r.staticDir, req.Path), Vars: vars}
		}

		var next Handler
		var err error
		switch v := h.(type) {
		case nil:
			return nil
		case Template:
			err = r.renderTemplateFile(req, v)
		case File:
			err = ServeFile(req, string(v), WithChunkSize(r.chunkSize))
		case JSON:
			code := v.Code
			if code == 0 {
				code = req.Status()
			}
			err = req.SendJSON(code, v.Value)
		case HandlerFunc:
			if v == nil {
				return nil
			}
			next, err = v(req)
		default:
			return fmt.Errorf("nanoweb: unsupported handler type %T", h)
		}
		if err != nil || next == nil {
			return err
		}
		h = next
	}
}

func (r *Router) renderTemplateFile(req *Request, t Template) error {
	f, err := os.Open(t.Name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NotFound(t.Name, err)
		}
		return err
	}
	defer f.Close()

	vars := t.Vars
	if t.VarsFunc != nil {
		vars = t.VarsFunc()
	}
	if req.ResponseHeader("Content-Type") == "" {
		if ct := ContentTypeFor(t.Name); ct != "" {
			req.SetHeader("Content-Type", ct)
		}
	}
	return RenderTemplate(req, f, vars)
}

// RenderTemplate writes src to the response one line at a time with every
// {key} replaced by the string form of vars[key]. Placeholders without a
// variable are left as they are.
func RenderTemplate(req *Request, src io.Reader, vars TemplateVars) error {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(v))
	}
	replacer := strings.NewReplacer(pairs...)

	if err := req.FlushHeaders(); err != nil {
		return err
	}
	br := bufio.NewReader(src)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			if _, werr := req.WriteString(replacer.Replace(line)); werr != nil {
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
