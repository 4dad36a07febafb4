package filestore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listResponse = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>files</Name>
  <Prefix>up/</Prefix>
  <KeyCount>4</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents><Key>up/b.txt</Key><Size>2</Size></Contents>
  <Contents><Key>up/a.txt</Key><Size>1</Size></Contents>
  <Contents><Key>up/nested/c.txt</Key><Size>1</Size></Contents>
  <Contents><Key>up/d.txt.tmp-4</Key><Size>1</Size></Contents>
</ListBucketResult>`

const noSuchKey = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`

// fakeS3 answers the handful of path-style requests the store makes.
func fakeS3(t *testing.T) *S3Store {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/files" && r.URL.Query().Get("list-type") == "2":
			w.Header().Set("Content-Type", "application/xml")
			io.WriteString(w, listResponse)
		case r.Method == http.MethodGet && r.URL.Path == "/files/up/a.txt":
			w.Header().Set("Content-Length", "5")
			io.WriteString(w, "hello")
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, noSuchKey)
		}
	}))
	t.Cleanup(srv.Close)

	client := NewS3Client(S3Options{
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		PathStyle: true,
		AccessKey: "test",
		SecretKey: "test",
	})
	return NewS3Store(client, "files", "up")
}

func TestS3StoreList(t *testing.T) {
	s := fakeS3(t)
	names, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)
}

func TestS3StoreOpen(t *testing.T) {
	s := fakeS3(t)
	rc, size, err := s.Open(context.Background(), "a.txt")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, int64(5), size)
}

func TestS3StoreNotFound(t *testing.T) {
	s := fakeS3(t)
	ctx := context.Background()

	_, _, err := s.Open(ctx, "missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Remove(ctx, "missing.txt"), ErrNotFound)
	assert.ErrorIs(t, s.Rename(ctx, "missing.txt", "b.txt"), ErrNotFound)
}

func TestS3StoreRejectsInvalidNames(t *testing.T) {
	s := NewS3Store(nil, "files", "")
	_, _, err := s.Open(context.Background(), "../x")
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.ErrorIs(t, s.Remove(context.Background(), "a/b"), ErrInvalidName)
}

func TestS3StorePrefix(t *testing.T) {
	s := NewS3Store(nil, "b", "uploads")
	key, err := s.key("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "uploads/a.txt", key)

	s = NewS3Store(nil, "b", "")
	key, err = s.key("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", key)
}
