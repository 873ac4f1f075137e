package handler

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// DefaultCharset is used when a Content-Type names no charset.
const DefaultCharset = "ISO-8859-1"

// CharsetFromContentType returns the charset parameter of a
// Content-Type value. The last charset parameter wins.
func CharsetFromContentType(contentType string) string {
	var charset string

	for _, element := range strings.Split(contentType, ";") {
		element = strings.TrimSpace(element)
		if len(element) >= len("charset=") && strings.EqualFold(element[:len("charset=")], "charset=") {
			charset = element[len("charset="):]
		}
	}

	if charset == "" {
		return DefaultCharset
	}

	return charset
}

// Decode wraps r so that it yields the body without the given
// Content-Encoding. Unknown encodings pass through.
func Decode(encoding string, r io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return zr, nil

	case "deflate":
		// Servers send either zlib-wrapped or raw deflate data.
		br := bufio.NewReader(r)
		if hdr, err := br.Peek(2); err == nil && isZlibHeader(hdr) {
			zr, err := zlib.NewReader(br)
			if err != nil {
				return nil, fmt.Errorf("opening zlib stream: %w", err)
			}
			return zr, nil
		}
		return flate.NewReader(br), nil
	}

	return io.NopCloser(r), nil
}

func isZlibHeader(hdr []byte) bool {
	return hdr[0]&0x0f == 8 && (uint16(hdr[0])<<8|uint16(hdr[1]))%31 == 0
}

// IsEncoded reports whether a Content-Encoding changes the body.
func IsEncoded(encoding string) bool {
	e := strings.ToLower(strings.TrimSpace(encoding))
	return e != "" && e != "identity"
}

// NormalizeURL removes dot segments from http(s) paths and escapes '+'
// in them. Other schemes are returned unchanged.
func NormalizeURL(u *url.URL) *url.URL {
	if !IsHTTP(u) {
		return u
	}

	nu := *u
	if nu.RawPath == "" {
		nu.Path = removeDotSegments(nu.Path)
	}

	if esc := nu.EscapedPath(); strings.Contains(esc, "+") {
		nu.RawPath = strings.ReplaceAll(esc, "+", "%2B")
	}

	return &nu
}

func removeDotSegments(p string) string {
	if !strings.Contains(p, ".") {
		return p
	}

	segs := strings.Split(p, "/")
	out := make([]string, 0, len(segs))
	for i, s := range segs {
		last := i == len(segs)-1
		switch s {
		case ".":
			if last {
				out = append(out, "")
			}
		case "..":
			if len(out) > 1 {
				out = out[:len(out)-1]
			}
			if last {
				out = append(out, "")
			}
		default:
			out = append(out, s)
		}
	}

	return strings.Join(out, "/")
}
