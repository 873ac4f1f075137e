package urlfetch_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/adamwoolhether/urlfetch"
)

func ExampleDownload() {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "artifact contents")
	}))
	defer ts.Close()

	dir, err := os.MkdirTemp("", "urlfetch-example")
	if err != nil {
		fmt.Println("tempdir error:", err)
		return
	}
	defer os.RemoveAll(dir)

	u, _ := url.Parse(ts.URL + "/lib/artifact.jar")
	dest := filepath.Join(dir, "artifact.jar")

	if err := urlfetch.Download(context.Background(), u, dest, nil); err != nil {
		fmt.Println("download error:", err)
		return
	}

	b, _ := os.ReadFile(dest)
	fmt.Println(string(b))
	// Output: artifact contents
}

func ExampleOpenStream() {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hello")
	}))
	defer ts.Close()

	u, _ := url.Parse(ts.URL)

	rc, err := urlfetch.OpenStream(context.Background(), u)
	if err != nil {
		fmt.Println("open error:", err)
		return
	}
	defer rc.Close()

	b, _ := io.ReadAll(rc)
	fmt.Println(string(b))
	// Output: hello
}

func ExampleIsReachable() {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	u, _ := url.Parse(ts.URL + "/missing.pom")

	fmt.Println(urlfetch.IsReachable(context.Background(), u, 5*time.Second))
	// Output: false
}

func ExampleAddCredentials() {
	urlfetch.AddCredentials("Sonatype Nexus Repository Manager", "repo.example.com", "deployer", "s3cret")

	fmt.Println(urlfetch.HasCredentials("repo.example.com"))
	fmt.Println(urlfetch.HasCredentials("other.example.com"))
	// Output:
	// true
	// false
}
