package nanoweb

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		pattern string
		url     string
		want    Params
		ok      bool
	}{
		{"/ping", "/ping", Params{}, true},
		{"/ping", "/ping/", nil, false},
		{"/ping", "/pin", nil, false},
		{"/", "/", Params{}, true},
		{"/", "/index.html", nil, false},
		{"/users/<id>", "/users/42", Params{"id": "42"}, true},
		{"/users/<id>", "/users/", Params{"id": ""}, true},
		{"/users/<id>", "/user/42", nil, false},
		{"/images/<name>", "/images/a/b.png", Params{"name": "a/b.png"}, true},
		{"/users/<id>/posts/<post>", "/users/7/posts/9", Params{"id": "7", "post": "9"}, true},
		{"/users/<id>/posts/<post>", "/users/7/comments/9", nil, false},
		{"/files/<name>.txt", "/files/notes.txt", Params{"name": "notes"}, true},
		{"/files/<name>.txt", "/files/notes.md", nil, false},
		{"/files/<name>.txt", "/files/a.txt.txt", Params{"name": "a.txt"}, true},
		{"/a/<x>/b", "/a/1/b", Params{"x": "1"}, true},
		{"/a/<x>/b", "/a/1/b/2/b", Params{"x": "1/b/2"}, true},
		{"/a/<x>/b", "/a/1/c", nil, false},
		{"/x/<a>-<b>", "/x/1-2-3", Params{"a": "1", "b": "2-3"}, true},
		{"/x/<a>-<b>/end", "/x/1-2/3-4/end", Params{"a": "1", "b": "2/3-4"}, true},
		{"/x/<a>-<b>/end", "/x/1/end", nil, false},
		{"/v<major>.<minor>/", "/v1.2/", Params{"major": "1", "minor": "2"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.url, func(t *testing.T) {
			p, err := CompilePattern(tt.pattern)
			require.NoError(t, err)

			got, ok := p.Match(tt.url)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
				assert.Len(t, got, len(p.Names()), "every declared name is present exactly once")
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestPatternMatchLinearOnLongMiss(t *testing.T) {
	p := MustCompilePattern("/f/<a>-<b>-<c>-<d>/end")

	// Every inner literal occurs thousands of times, but nothing ends in "/end".
	miss := "/f/" + strings.Repeat("-", 8<<10) + "/nope"
	start := time.Now()
	_, ok := p.Match(miss)
	assert.False(t, ok)

	// Inner literals all present, final literal present: the tail must still bind.
	hit := "/f/" + strings.Repeat("-", 8<<10) + "/end"
	params, ok := p.Match(hit)
	require.True(t, ok)
	assert.Equal(t, "", params["a"])
	assert.Equal(t, "", params["b"])
	assert.Equal(t, "", params["c"])
	assert.Equal(t, strings.Repeat("-", 8<<10-3), params["d"])

	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestCompilePatternErrors(t *testing.T) {
	for _, raw := range []string{
		"<id>",
		"/users/<id",
		"/users/<>",
		"/users/<a/b>",
		"/users/<id>/<id>",
		"/users/<a><b>",
	} {
		_, err := CompilePattern(raw)
		assert.ErrorIs(t, err, ErrInvalidPattern, raw)
	}
}

func TestPatternNames(t *testing.T) {
	p := MustCompilePattern("/a/<x>/b/<y>")
	assert.Equal(t, []string{"x", "y"}, p.Names())
	assert.Equal(t, "/a/<x>/b/<y>", p.String())
	assert.Equal(t, len("/a//b/"), p.literalLen())

	assert.Panics(t, func() { MustCompilePattern("/a/<") })
}

func TestParamsGet(t *testing.T) {
	p := Params{"id": "1"}
	v, ok := p.Get("id")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok = p.Get("missing")
	assert.False(t, ok)

	var nilParams Params
	_, ok = nilParams.Get("id")
	assert.False(t, ok)
}
