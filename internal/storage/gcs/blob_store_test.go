package gcs

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header: http.Header{
			"Content-Type":          {"application/json"},
			"X-Goog-Generation":     {"1"},
			"X-Goog-Metageneration": {"1"},
		},
		Request: r,
	}
}

func fakeClient(t *testing.T, fn roundTripperFunc) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(
		context.Background(),
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{Transport: fn}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client := fakeClient(t, func(r *http.Request) (*http.Response, error) {
		return respond(r, http.StatusOK, `{}`), nil
	})
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestNewClientChecksBucket(t *testing.T) {
	t.Parallel()

	var paths []string
	fn := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		paths = append(paths, r.URL.Path)
		return respond(r, http.StatusOK, `{"name":"reports"}`), nil
	})
	client, err := NewClient(context.Background(), "reports",
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{Transport: fn}),
	)
	require.NoError(t, err)
	require.NoError(t, client.Close())
	require.NotEmpty(t, paths)
	require.Contains(t, paths[0], "/b/reports")
}

func TestNewClientMissingBucket(t *testing.T) {
	t.Parallel()

	fn := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return respond(r, http.StatusNotFound, `{"error":{"code":404,"message":"not found"}}`), nil
	})
	_, err := NewClient(context.Background(), "missing",
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{Transport: fn}),
	)
	require.ErrorContains(t, err, "failed to get GCS bucket")
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	var uploaded string
	client := fakeClient(t, func(r *http.Request) (*http.Response, error) {
		if r.Body != nil {
			body, _ := io.ReadAll(r.Body)
			uploaded = string(body)
		}
		return respond(r, http.StatusOK, `{"name":"reports/a.html","bucket":"bkt"}`), nil
	})
	store, err := New(client, Config{Bucket: "bkt"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "reports/a.html", "text/html", strings.NewReader("<html>report</html>"))
	require.NoError(t, err)
	require.Equal(t, "gs://bkt/reports/a.html", uri)
	require.Contains(t, uploaded, "<html>report</html>")

	_, err = store.PutObject(context.Background(), " ", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}

func TestGetObject(t *testing.T) {
	t.Parallel()

	client := fakeClient(t, func(r *http.Request) (*http.Response, error) {
		if strings.Contains(r.URL.Path, "missing") {
			return respond(r, http.StatusNotFound, ``), nil
		}
		return respond(r, http.StatusOK, `<html>report</html>`), nil
	})
	store, err := New(client, Config{Bucket: "bkt"})
	require.NoError(t, err)

	data, err := store.GetObject(context.Background(), "reports/a.html")
	require.NoError(t, err)
	require.Equal(t, "<html>report</html>", string(data))

	_, err = store.GetObject(context.Background(), "reports/missing.html")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
