package enhanced_test

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/urlfetch/handler"
	"github.com/adamwoolhether/urlfetch/handler/enhanced"
	"github.com/adamwoolhether/urlfetch/registry"
)

var modTime = time.Date(2023, time.November, 2, 8, 0, 0, 0, time.UTC)

func newHandler(t *testing.T, opts ...handler.Option) *enhanced.Handler {
	t.Helper()

	opts = append([]handler.Option{
		handler.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		handler.WithoutAuthenticator(),
	}, opts...)

	h, err := enhanced.New(enhanced.WithHandlerOptions(opts...), enhanced.WithAttemptTimeout(10*time.Second))
	require.NoError(t, err)

	return h
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	require.NoError(t, err)

	return u
}

func TestNew_Validation(t *testing.T) {
	_, err := enhanced.New(enhanced.WithAttemptTimeout(0))
	assert.Error(t, err)

	_, err = enhanced.New(enhanced.WithHandlerOptions(handler.WithRequestMethod("OPTIONS")))
	var fields handler.FieldErrors
	assert.ErrorAs(t, err, &fields)
}

func TestRegistryCapability(t *testing.T) {
	assert.Contains(t, registry.Capabilities(), enhanced.Capability)
	assert.IsType(t, &enhanced.Handler{}, registry.HTTP())
}

func TestHandler_Probe(t *testing.T) {
	body := []byte("enhanced probe")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=UTF-16")
		http.ServeContent(w, r, "x", modTime, bytes.NewReader(body))
	}))
	defer ts.Close()

	info := newHandler(t).Probe(t.Context(), mustParse(t, ts.URL))

	assert.True(t, info.Available)
	assert.Equal(t, int64(len(body)), info.ContentLength)
	assert.True(t, modTime.Equal(info.LastModified), "last modified %v", info.LastModified)
	assert.Equal(t, "UTF-16", info.Charset)
}

func TestHandler_Probe_Unavailable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	h := newHandler(t)
	assert.Equal(t, handler.Unavailable, h.Probe(t.Context(), mustParse(t, ts.URL)))
	assert.False(t, handler.IsReachable(t.Context(), h, &url.URL{Scheme: "file", Path: filepath.Join(t.TempDir(), "missing")}))
}

func TestHandler_OpenStream_Gzip(t *testing.T) {
	payload := bytes.Repeat([]byte("zipped "), 500)

	var encoded bytes.Buffer
	zw := gzip.NewWriter(&encoded)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(encoded.Bytes())
	}))
	defer ts.Close()

	rc, err := newHandler(t).OpenStream(t.Context(), mustParse(t, ts.URL))
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestHandler_OpenStream_Rejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := newHandler(t).OpenStream(t.Context(), mustParse(t, ts.URL))
	require.ErrorIs(t, err, handler.ErrStatusRejected)

	var serr *handler.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusServiceUnavailable, serr.StatusCode)
	assert.Contains(t, serr.Body, "maintenance")
}

func TestHandler_Download(t *testing.T) {
	body := bytes.Repeat([]byte("abc"), 50_000)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "x", modTime, bytes.NewReader(body))
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "dl.bin")
	require.NoError(t, newHandler(t).Download(t.Context(), mustParse(t, ts.URL), dest, nil))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	fi, err := os.Stat(dest)
	require.NoError(t, err)
	assert.True(t, modTime.Equal(fi.ModTime()), "mtime %v", fi.ModTime())
}

func TestHandler_Download_Gzip(t *testing.T) {
	payload := bytes.Repeat([]byte("zipped "), 2_000)

	var encoded bytes.Buffer
	zw := gzip.NewWriter(&encoded)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Last-Modified", modTime.Format(http.TimeFormat))
		_, _ = w.Write(encoded.Bytes())
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "dl.txt")
	require.NoError(t, newHandler(t).Download(t.Context(), mustParse(t, ts.URL), dest, nil))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	fi, err := os.Stat(dest)
	require.NoError(t, err)
	assert.True(t, modTime.Equal(fi.ModTime()), "mtime %v", fi.ModTime())
}

func TestHandler_Download_SizeMismatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
		_, _ = w.Write([]byte("short"))
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "dl.bin")
	err := newHandler(t).Download(t.Context(), mustParse(t, ts.URL+"/x"), dest, nil)

	require.ErrorIs(t, err, handler.ErrSizeMismatch)
	assert.NotErrorIs(t, err, handler.ErrTransfer)
	assert.Contains(t, err.Error(), "please retry")
	assert.NoFileExists(t, dest)
}

func TestHandler_OpenStream_RejectedBodyTruncated(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write(bytes.Repeat([]byte("e"), 3*handler.MaxErrBodySize))
	}))
	defer ts.Close()

	_, err := newHandler(t).OpenStream(t.Context(), mustParse(t, ts.URL))

	var serr *handler.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Len(t, serr.Body, handler.MaxErrBodySize)
}

func TestHandler_Upload(t *testing.T) {
	payload := []byte("artifact bytes")
	src := filepath.Join(t.TempDir(), "a.bin")
	require.NoError(t, os.WriteFile(src, payload, 0o644))

	testCases := []struct {
		name    string
		status  int
		expErr  error
		refused bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "accepted", status: http.StatusAccepted},
		{name: "unauthorized", status: http.StatusUnauthorized, expErr: handler.ErrStatusRejected, refused: true},
		{name: "conflict", status: http.StatusConflict, expErr: handler.ErrStatusRejected},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPut, r.Method)
				assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
				assert.Equal(t, int64(len(payload)), r.ContentLength)
				got, _ := io.ReadAll(r.Body)
				assert.Equal(t, payload, got)
				w.WriteHeader(tc.status)
			}))
			defer ts.Close()

			err := newHandler(t).Upload(t.Context(), src, mustParse(t, ts.URL+"/repo/a.bin"), nil)
			if tc.expErr == nil {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, tc.expErr)
			assert.Equal(t, tc.refused, errors.Is(err, handler.ErrAccessRefused))
		})
	}
}

func TestHandler_Upload_Unsupported(t *testing.T) {
	err := newHandler(t).Upload(t.Context(), "x", mustParse(t, "file:///tmp/x"), nil)
	assert.ErrorIs(t, err, handler.ErrUnsupportedOperation)
}

func TestHandler_TracePropagation(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator()) })

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(t.Context(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	got := make(chan string, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("Traceparent")
	}))
	defer ts.Close()

	assert.True(t, newHandler(t).Probe(ctx, mustParse(t, ts.URL)).Available)
	assert.Contains(t, <-got, traceID.String())
}
