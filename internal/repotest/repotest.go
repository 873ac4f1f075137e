// Package repotest runs an in-memory artifact repository and an
// authenticating forward proxy for end-to-end tests of the handlers.
package repotest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Artifact is a stored resource.
type Artifact struct {
	Data    []byte
	ModTime time.Time
}

// Option configures a Repo.
type Option func(*Repo)

// WithRealm sets the realm named in Basic challenges.
func WithRealm(realm string) Option {
	return func(r *Repo) {
		r.realm = realm
	}
}

// WithUser accepts name and password on private paths.
func WithUser(name, password string) Option {
	return func(r *Repo) {
		r.users[name] = password
	}
}

// WithPrivate requires authentication for paths under prefix.
func WithPrivate(prefix string) Option {
	return func(r *Repo) {
		r.private = append(r.private, prefix)
	}
}

// WithGzip compresses responses for clients that accept gzip.
func WithGzip() Option {
	return func(r *Repo) {
		r.gzip = true
	}
}

// WithArtifact stores data at path.
func WithArtifact(path string, data []byte, modTime time.Time) Option {
	return func(r *Repo) {
		r.artifacts[path] = Artifact{Data: data, ModTime: modTime}
	}
}

// WithLogger sets the request logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repo) {
		r.logger = l
	}
}

// Repo is an artifact repository answering GET, HEAD and PUT.
type Repo struct {
	mu        sync.RWMutex
	artifacts map[string]Artifact

	realm   string
	users   map[string]string
	private []string
	gzip    bool
	logger  *slog.Logger

	server *httptest.Server
	gets   atomic.Int32
	puts   atomic.Int32
}

// NewRepo starts a Repo that is closed when tb finishes.
func NewRepo(tb testing.TB, optFns ...Option) *Repo {
	tb.Helper()

	r := &Repo{
		artifacts: make(map[string]Artifact),
		realm:     "repotest",
		users:     make(map[string]string),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range optFns {
		opt(r)
	}

	a := newApp(r.logger,
		logger(r.logger),
		errorsMW(r.logger),
		panics(),
		basicAuth(r.realm, r.users, r.private),
	)
	a.handle(http.MethodGet, "/{path...}", r.get)
	a.handle(http.MethodPut, "/{path...}", r.put)

	r.server = httptest.NewServer(a)
	tb.Cleanup(r.server.Close)

	return r
}

// URL returns the base URL of the repository.
func (r *Repo) URL() string {
	return r.server.URL
}

// Artifact returns the resource stored at path.
func (r *Repo) Artifact(path string) (Artifact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.artifacts[path]
	return a, ok
}

// Gets reports how many GET and HEAD requests were served.
func (r *Repo) Gets() int {
	return int(r.gets.Load())
}

// Puts reports how many artifacts were stored.
func (r *Repo) Puts() int {
	return int(r.puts.Load())
}

func (r *Repo) get(ctx context.Context, w http.ResponseWriter, req *http.Request) error {
	a, ok := r.Artifact(req.URL.Path)
	if !ok {
		return newError(http.StatusNotFound, "artifact not found: "+req.URL.Path)
	}
	r.gets.Add(1)

	if !r.gzip || !strings.Contains(req.Header.Get("Accept-Encoding"), "gzip") {
		http.ServeContent(w, req, req.URL.Path, a.ModTime, bytes.NewReader(a.Data))
		return nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(a.Data); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Last-Modified", a.ModTime.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodHead {
		return nil
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// put stores the body. It answers 201 for a new artifact and 200 for
// a replaced one.
func (r *Repo) put(ctx context.Context, w http.ResponseWriter, req *http.Request) error {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return newError(http.StatusBadRequest, "reading body: "+err.Error())
	}
	if req.ContentLength >= 0 && int64(len(data)) != req.ContentLength {
		return newError(http.StatusBadRequest, "body does not match Content-Length")
	}

	r.mu.Lock()
	_, existed := r.artifacts[req.URL.Path]
	r.artifacts[req.URL.Path] = Artifact{Data: data, ModTime: time.Now().UTC().Truncate(time.Second)}
	r.mu.Unlock()
	r.puts.Add(1)

	if existed {
		w.WriteHeader(http.StatusOK)
		return nil
	}

	w.WriteHeader(http.StatusCreated)
	return nil
}
