package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Transport is an http.RoundTripper that answers Basic 401 and 407
// challenges and retries the request once.
type Transport struct {
	// Base performs the requests. http.DefaultTransport when nil.
	Base http.RoundTripper

	// Proxy reports the proxy a request goes through, used to name the
	// host of a 407 challenge. http.ProxyFromEnvironment when nil.
	Proxy func(*http.Request) (*url.URL, error)

	// Authenticator answers the challenges. The process-wide
	// authenticator when nil.
	Authenticator Authenticator

	Logger *slog.Logger
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return resp, err
	}

	var (
		challengeHeader string
		answerHeader    string
		requestor       RequestorType
	)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		challengeHeader, answerHeader, requestor = "WWW-Authenticate", "Authorization", RequestorServer
	case http.StatusProxyAuthRequired:
		challengeHeader, answerHeader, requestor = "Proxy-Authenticate", "Proxy-Authorization", RequestorProxy
	default:
		return resp, nil
	}

	// Already answered once; let the caller see the rejection.
	if req.Header.Get(answerHeader) != "" {
		return resp, nil
	}

	realm, ok := basicRealm(resp.Header.Values(challengeHeader))
	if !ok {
		return resp, nil
	}

	ch := t.challenge(req, requestor, realm)
	pa, ok := t.authenticate(req.Context(), ch)
	if !ok {
		t.logger().Debug("no credentials for challenge", "host", ch.Host, "realm", realm, "requestor", requestor)
		return resp, nil
	}

	retry, err := rewind(req)
	if err != nil {
		t.logger().Debug("request body cannot be replayed, skipping authentication", "url", req.URL.Redacted(), "error", err)
		return resp, nil
	}

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		t.logger().Debug("failed to discard challenge body", "error", err)
	}
	resp.Body.Close()

	retry.Header.Set(answerHeader, basicAuth(pa.UserName, pa.Password))

	return t.base().RoundTrip(retry)
}

func (t *Transport) challenge(req *http.Request, requestor RequestorType, realm string) Challenge {
	target := req.URL
	if requestor == RequestorProxy {
		proxy := t.Proxy
		if proxy == nil {
			proxy = http.ProxyFromEnvironment
		}
		if pu, err := proxy(req); err == nil && pu != nil {
			target = pu
		}
	}

	return Challenge{
		Host:          target.Hostname(),
		Port:          port(target),
		Protocol:      req.URL.Scheme,
		Scheme:        "basic",
		Realm:         realm,
		URL:           req.URL,
		RequestorType: requestor,
	}
}

func (t *Transport) authenticate(ctx context.Context, ch Challenge) (PasswordAuthentication, bool) {
	if t.Authenticator == nil {
		return RequestPasswordAuthentication(ctx, ch)
	}

	return t.Authenticator.PasswordAuthentication(ctx, ch)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}

	return t.Base
}

func (t *Transport) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}

	return t.Logger
}

// ProxyConnectHeader has the signature of
// http.Transport.GetProxyConnectHeader and answers the proxy challenge
// of an HTTPS tunnel up front with the process-wide authenticator.
func ProxyConnectHeader(ctx context.Context, proxyURL *url.URL, target string) (http.Header, error) {
	return proxyConnectHeader(ctx, RequestPasswordAuthentication, proxyURL)
}

// ProxyConnectHeaderFor is ProxyConnectHeader answered by a.
func ProxyConnectHeaderFor(a Authenticator) func(context.Context, *url.URL, string) (http.Header, error) {
	return func(ctx context.Context, proxyURL *url.URL, _ string) (http.Header, error) {
		return proxyConnectHeader(ctx, a.PasswordAuthentication, proxyURL)
	}
}

func proxyConnectHeader(ctx context.Context, ask AuthenticatorFunc, proxyURL *url.URL) (http.Header, error) {
	ch := Challenge{
		Host:          proxyURL.Hostname(),
		Port:          port(proxyURL),
		Protocol:      "https",
		Scheme:        "basic",
		URL:           proxyURL,
		RequestorType: RequestorProxy,
	}

	pa, ok := ask(ctx, ch)
	if !ok {
		return nil, nil
	}

	return http.Header{"Proxy-Authorization": {basicAuth(pa.UserName, pa.Password)}}, nil
}

func rewind(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, errNoGetBody
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	retry.Body = body

	return retry, nil
}

var errNoGetBody = errors.New("auth: request body has no GetBody")

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func port(u *url.URL) int {
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err == nil {
			return n
		}
	}

	switch u.Scheme {
	case "https":
		return 443
	case "http":
		return 80
	}

	return -1
}

// basicRealm finds a Basic challenge among the header values and
// returns its realm.
func basicRealm(values []string) (string, bool) {
	for _, v := range values {
		lower := strings.ToLower(v)

		for i := 0; ; {
			idx := strings.Index(lower[i:], "basic")
			if idx < 0 {
				break
			}
			start := i + idx
			end := start + len("basic")
			i = end

			if start > 0 && lower[start-1] != ' ' && lower[start-1] != ',' {
				continue
			}
			if end < len(lower) && lower[end] != ' ' {
				continue
			}

			return paramValue(v[end:], "realm"), true
		}
	}

	return "", false
}

// paramValue extracts name=value or name="value" from an auth-param
// list.
func paramValue(params, name string) string {
	lower := strings.ToLower(params)
	idx := strings.Index(lower, name+"=")
	if idx < 0 {
		return ""
	}

	rest := params[idx+len(name)+1:]
	if !strings.HasPrefix(rest, `"`) {
		if end := strings.IndexAny(rest, ", "); end >= 0 {
			return rest[:end]
		}
		return rest
	}

	var b strings.Builder
	for i := 1; i < len(rest); i++ {
		switch rest[i] {
		case '\\':
			if i+1 < len(rest) {
				i++
				b.WriteByte(rest[i])
			}
		case '"':
			return b.String()
		default:
			b.WriteByte(rest[i])
		}
	}

	return b.String()
}
