package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xDarkicex/nanoweb"
	"github.com/xDarkicex/nanoweb/internal/filestore"
)

type testApp struct {
	url    string
	files  string
	images string
}

func startApp(t *testing.T, user, password string) *testApp {
	t.Helper()
	ta := &testApp{files: t.TempDir(), images: t.TempDir()}
	store, err := filestore.NewDiskStore(ta.files)
	require.NoError(t, err)

	router := nanoweb.New()
	newRouter(router, appOptions{
		Store:     store,
		ImagesDir: ta.images,
		User:      user,
		Password:  password,
		Log:       zerolog.Nop(),
	})
	srv := nanoweb.NewServer(router, nanoweb.Config{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	ta.url = "http://" + ln.Addr().String()
	return ta
}

func (ta *testApp) do(t *testing.T, method, path, body string, header map[string]string) (*http.Response, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ta.url+path, rd)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestPing(t *testing.T) {
	ta := startApp(t, "", "")
	resp, body := ta.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", body)
}

func TestUnknownPath(t *testing.T) {
	ta := startApp(t, "", "")
	resp, body := ta.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "File Not Found")
}

func TestIndexRendersVariables(t *testing.T) {
	ta := startApp(t, "", "")
	resp, body := ta.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, runtime.Version())
	assert.NotContains(t, body, "{platform}")
}

func TestUploadEmptyBodyWritesNothing(t *testing.T) {
	ta := startApp(t, "", "")
	resp, _ := ta.do(t, http.MethodPut, "/api/upload/empty.txt", "", map[string]string{"Content-Length": "0"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	entries, err := os.ReadDir(ta.files)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ta := startApp(t, "", "")
	content := strings.Repeat("nanoweb ", 2048)

	resp, body := ta.do(t, http.MethodPut, "/api/upload/notes.txt", content, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"status":true}`, body)

	stored, err := os.ReadFile(filepath.Join(ta.files, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, string(stored))

	resp, body = ta.do(t, http.MethodGet, "/api/download/notes.txt", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, content, body)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="notes.txt"`, resp.Header.Get("Content-Disposition"))
	assert.EqualValues(t, len(content), resp.ContentLength)
}

func TestUploadWrongMethod(t *testing.T) {
	ta := startApp(t, "", "")
	resp, _ := ta.do(t, http.MethodGet, "/api/upload/x.txt", "", nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestListAndDelete(t *testing.T) {
	ta := startApp(t, "", "")
	require.NoError(t, os.WriteFile(filepath.Join(ta.files, "b.txt"), []byte("b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(ta.files, "a.txt"), []byte("a"), 0644))

	resp, body := ta.do(t, http.MethodGet, "/api/ls", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"files":["a.txt","b.txt"]}`, body)

	resp, _ = ta.do(t, http.MethodGet, "/api/delete/a.txt", "", nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, _ = ta.do(t, http.MethodDelete, "/api/delete/a.txt", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, err := os.Stat(filepath.Join(ta.files, "a.txt"))
	assert.True(t, os.IsNotExist(err))

	resp, _ = ta.do(t, http.MethodDelete, "/api/delete/a.txt", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRename(t *testing.T) {
	ta := startApp(t, "", "")
	require.NoError(t, os.WriteFile(filepath.Join(ta.files, "a.txt"), []byte("a"), 0644))
	jsonHeader := map[string]string{"Content-Type": "application/json"}

	resp, body := ta.do(t, http.MethodPost, "/api/rename", `{"from":"a.txt"}`, jsonHeader)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var verr struct {
		Errors []struct {
			Field string `json:"field"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &verr))
	require.Len(t, verr.Errors, 1)
	assert.Equal(t, "to", verr.Errors[0].Field)

	resp, _ = ta.do(t, http.MethodPost, "/api/rename", `{"from":"a.txt","to":"../b.txt"}`, jsonHeader)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ta.do(t, http.MethodPost, "/api/rename", `{"from":"a.txt","to":"b.txt"}`, jsonHeader)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, err := os.Stat(filepath.Join(ta.files, "b.txt"))
	assert.NoError(t, err)

	resp, _ = ta.do(t, http.MethodPost, "/api/rename", `{"from":`, jsonHeader)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	ta := startApp(t, "", "")
	resp, body := ta.do(t, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, status["platform"])
	assert.Equal(t, runtime.Version(), status["runtime"])
}

func TestBasicAuth(t *testing.T) {
	ta := startApp(t, "foo", "bar")

	resp, _ := ta.do(t, http.MethodGet, "/api/ls", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, `Basic realm="Restricted"`, resp.Header.Get("WWW-Authenticate"))

	req, err := http.NewRequest(http.MethodGet, ta.url+"/api/ls", nil)
	require.NoError(t, err)
	req.SetBasicAuth("foo", "bar")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)

	// Routes outside the group stay public.
	resp, _ = ta.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestImages(t *testing.T) {
	ta := startApp(t, "", "")
	png := []byte("\x89PNG\r\n\x1a\nfake")
	require.NoError(t, os.WriteFile(filepath.Join(ta.images, "logo.png"), png, 0644))

	resp, body := ta.do(t, http.MethodGet, "/images/logo.png", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, string(png), body)

	resp, _ = ta.do(t, http.MethodGet, "/images/missing.png", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketEcho(t *testing.T) {
	ta := startApp(t, "", "")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ta.url, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg))

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
