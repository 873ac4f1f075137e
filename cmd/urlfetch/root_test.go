package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--quiet", "--log-level", "error"}, args...))

	err := cmd.ExecuteContext(t.Context())
	if errOut.Len() > 0 {
		t.Logf("stderr:\n%s", errOut.String())
	}

	return out.String(), err
}

func repoServer(t *testing.T) *httptest.Server {
	t.Helper()

	modTime := time.Date(2022, time.May, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	stored := map[string][]byte{"/lib/a.jar": []byte("jar bytes")}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if r.URL.Path == "/private/a.jar" && (!ok || user != "alice" || pass != "pw") {
			w.Header().Set("WWW-Authenticate", `Basic realm="cli-test"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		mu.Lock()
		defer mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			b, _ := io.ReadAll(r.Body)
			stored[r.URL.Path] = b
			w.WriteHeader(http.StatusCreated)
		default:
			path := strings.TrimPrefix(r.URL.Path, "/private")
			b, found := stored[path]
			if !found {
				http.NotFound(w, r)
				return
			}
			http.ServeContent(w, r, path, modTime, bytes.NewReader(b))
		}
	}))
	t.Cleanup(ts.Close)

	return ts
}

func TestProbeCmd(t *testing.T) {
	ts := repoServer(t)

	out, err := execute(t, "probe", ts.URL+"/lib/a.jar")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	for _, want := range []string{"yes", "9 B", "2022-05-01T12:00:00Z"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "probe", ts.URL+"/lib/a.jar", ts.URL+"/lib/missing.jar")
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Errorf("expected one unavailable URL, got %v", err)
	}
	if !strings.Contains(out, "missing.jar") {
		t.Errorf("expected missing URL in output:\n%s", out)
	}
}

func TestGetCmd(t *testing.T) {
	ts := repoServer(t)
	dest := filepath.Join(t.TempDir(), "a.jar")

	if _, err := execute(t, "get", ts.URL+"/lib/a.jar", dest); err != nil {
		t.Fatalf("get: %v", err)
	}
	if b, _ := os.ReadFile(dest); string(b) != "jar bytes" {
		t.Errorf("unexpected contents %q", b)
	}

	sum := sha256.Sum256([]byte("jar bytes"))
	verified := filepath.Join(t.TempDir(), "verified.jar")
	if _, err := execute(t, "get", "--sha256", hex.EncodeToString(sum[:]), ts.URL+"/lib/a.jar", verified); err != nil {
		t.Fatalf("verified get: %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.jar")
	if _, err := execute(t, "get", "--sha256", "deadbeef", ts.URL+"/lib/a.jar", bad); err == nil {
		t.Error("expected checksum mismatch")
	}
	if _, err := os.Stat(bad); err == nil {
		t.Error("expected no file after a checksum mismatch")
	}
}

func TestCatCmd_Credentials(t *testing.T) {
	ts := repoServer(t)

	if _, err := execute(t, "cat", ts.URL+"/private/a.jar"); err == nil {
		t.Fatal("expected rejection without credentials")
	}

	out, err := execute(t, "--user", "alice", "--password", "pw", "--realm", "cli-test", "cat", ts.URL+"/private/a.jar")
	if err != nil {
		t.Fatalf("cat: %v", err)
	}
	if out != "jar bytes" {
		t.Errorf("expected jar bytes, got %q", out)
	}
}

func TestPutCmd(t *testing.T) {
	ts := repoServer(t)

	src := filepath.Join(t.TempDir(), "b.jar")
	if err := os.WriteFile(src, []byte("uploaded"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := execute(t, "put", src, ts.URL+"/lib/b.jar"); err != nil {
		t.Fatalf("put: %v", err)
	}

	out, err := execute(t, "cat", ts.URL+"/lib/b.jar")
	if err != nil {
		t.Fatalf("cat: %v", err)
	}
	if out != "uploaded" {
		t.Errorf("expected uploaded, got %q", out)
	}

	if _, err := execute(t, "put", src, "ftp://example.com/b.jar"); err == nil {
		t.Error("expected ftp upload to be refused")
	}
}

func TestRootCmd_BadFlags(t *testing.T) {
	if _, err := execute(t, "--method", "POST", "probe", "http://example.invalid"); err == nil {
		t.Error("expected invalid probe method to be rejected")
	}
	if _, err := execute(t, "--log-level", "loud", "probe", "http://example.invalid"); err == nil {
		t.Error("expected invalid log level to be rejected")
	}
	if _, err := execute(t, "cat", "no-scheme"); err == nil {
		t.Error("expected URL without scheme to be rejected")
	}
}
