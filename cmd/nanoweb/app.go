package main

import (
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/xDarkicex/nanoweb"
	"github.com/xDarkicex/nanoweb/internal/filestore"
)

//go:embed index.html
var indexHTML string

type app struct {
	store     filestore.Store
	imagesDir string
	started   time.Time
	log       zerolog.Logger
}

type appOptions struct {
	Store     filestore.Store
	ImagesDir string
	User      string
	Password  string
	WebSocket nanoweb.WebSocketConfig
	Log       zerolog.Logger
}

// newRouter wires the file manager routes onto router.
func newRouter(router *nanoweb.Router, opts appOptions) *app {
	a := &app{
		store:     opts.Store,
		imagesDir: opts.ImagesDir,
		started:   time.Now(),
		log:       opts.Log,
	}

	router.Route("/", nanoweb.Func(a.index))
	router.Route("/ping", nanoweb.Func(func(r *nanoweb.Request) error {
		return r.String(http.StatusOK, "pong")
	}))
	router.Route("/images/<name>", nanoweb.HandlerFunc(a.image))
	router.UpgradeRoute("/ws", nanoweb.WebSocket(a.echo, opts.WebSocket))

	var api *nanoweb.Group
	if opts.User != "" {
		api = router.Group("/api", nanoweb.BasicAuth("Restricted", nanoweb.Credentials(opts.User, opts.Password)))
	} else {
		api = router.Group("/api")
	}
	api.Route("/status", nanoweb.HandlerFunc(a.status))
	api.Route("/ls", nanoweb.HandlerFunc(a.list))
	api.Route("/download/<name>", nanoweb.Func(a.download))
	api.Route("/delete/<name>", nanoweb.HandlerFunc(a.remove), nanoweb.AllowMethods(http.MethodDelete))
	api.Route("/upload/<name>", nanoweb.HandlerFunc(a.upload), nanoweb.AllowMethods(http.MethodPut))
	api.Route("/rename", nanoweb.HandlerFunc(a.rename),
		nanoweb.AllowMethods(http.MethodPost),
		nanoweb.ValidationMiddleware(
			nanoweb.NewValidationChain("from").Required().Custom(filestore.ValidName),
			nanoweb.NewValidationChain("to").Required().Custom(filestore.ValidName),
		),
	)
	return a
}

func (a *app) vars() nanoweb.TemplateVars {
	up := time.Since(a.started)
	h := int(up.Hours())
	m := int(up.Minutes()) % 60
	s := int(up.Seconds()) % 60
	return nanoweb.TemplateVars{
		"time":     time.Now().Format("2006-01-02 15:04:05"),
		"uptime":   fmt.Sprintf("%02dh %02d:%02d", h, m, s),
		"runtime":  runtime.Version(),
		"platform": runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (a *app) index(r *nanoweb.Request) error {
	r.SetHeader("Content-Type", "text/html; charset=utf-8")
	return nanoweb.RenderTemplate(r, strings.NewReader(indexHTML), a.vars())
}

func (a *app) image(r *nanoweb.Request) (nanoweb.Handler, error) {
	name := fileParam(r)
	if err := filestore.ValidName(name); err != nil {
		return nil, nanoweb.NotFound(name, err)
	}
	return nanoweb.File(filepath.Join(a.imagesDir, name)), nil
}

func (a *app) status(r *nanoweb.Request) (nanoweb.Handler, error) {
	return nanoweb.JSON{Value: a.vars()}, nil
}

func (a *app) list(r *nanoweb.Request) (nanoweb.Handler, error) {
	names, err := a.store.List(r.Context())
	if err != nil {
		return nil, storeError("", err)
	}
	return nanoweb.JSON{Value: map[string]interface{}{"files": names}}, nil
}

func (a *app) download(r *nanoweb.Request) error {
	name := fileParam(r)
	rc, size, err := a.store.Open(r.Context(), name)
	if err != nil {
		return storeError(name, err)
	}
	defer rc.Close()

	r.SetHeader("Content-Disposition", "attachment; filename="+strconv.Quote(name))
	return nanoweb.ServeContent(r, rc, size, name, nanoweb.WithContentType("application/octet-stream"))
}

func (a *app) remove(r *nanoweb.Request) (nanoweb.Handler, error) {
	name := fileParam(r)
	if err := a.store.Remove(r.Context(), name); err != nil {
		return nil, storeError(name, err)
	}
	return ok(http.StatusOK), nil
}

// upload stores the body under name. An empty body is acknowledged with 204
// and nothing is written.
func (a *app) upload(r *nanoweb.Request) (nanoweb.Handler, error) {
	name := fileParam(r)
	size := r.ContentLength()
	if size <= 0 {
		r.SetStatus(http.StatusNoContent)
		return nil, r.FlushHeaders()
	}
	if err := a.store.Put(r.Context(), name, strconv.FormatUint(r.ConnID(), 10), r.Body(), size); err != nil {
		return nil, storeError(name, err)
	}
	a.log.Info().Str("file", name).Int64("size", size).Msg("stored upload")
	return ok(http.StatusCreated), nil
}

type renameRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (a *app) rename(r *nanoweb.Request) (nanoweb.Handler, error) {
	var body renameRequest
	if err := r.Bind(&body); err != nil {
		return nil, nanoweb.WrapError(http.StatusBadRequest, "Bad Request", err)
	}
	if err := a.store.Rename(r.Context(), body.From, body.To); err != nil {
		return nil, storeError(body.From, err)
	}
	return ok(http.StatusOK), nil
}

func (a *app) echo(conn *websocket.Conn, r *nanoweb.Request) {
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.log.Debug().Err(err).Uint64("conn_id", r.ConnID()).Msg("websocket read")
			}
			return
		}
		if err := conn.WriteMessage(mt, msg); err != nil {
			return
		}
	}
}

// fileParam is the percent-decoded name route param.
func fileParam(r *nanoweb.Request) string {
	raw, _ := r.GetParam("name")
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}

func ok(code int) nanoweb.Handler {
	return nanoweb.JSON{Code: code, Value: map[string]bool{"status": true}}
}

// storeError maps storage failures onto responses.
func storeError(name string, err error) error {
	switch {
	case errors.Is(err, filestore.ErrNotFound):
		return nanoweb.NotFound(name, err)
	case errors.Is(err, filestore.ErrInvalidName):
		return nanoweb.WrapError(http.StatusBadRequest, "Invalid file name", err)
	case errors.Is(err, filestore.ErrShortWrite):
		return nanoweb.WrapError(http.StatusBadRequest, "Incomplete body", err)
	}
	return nanoweb.WrapError(http.StatusInternalServerError, "Internal error", err)
}
