package auth

import (
	"net/url"
	"os"
	"strings"
	"sync"

	"golang.org/x/net/http/httpproxy"
)

// Property keys consulted for proxy authentication.
const (
	ProxyUserKey     = "http.proxyUser"
	ProxyPasswordKey = "http.proxyPassword"
	ProxyHostKey     = "http.proxyHost"
)

// Properties is a read-only key/value configuration source.
type Properties interface {
	Lookup(key string) (string, bool)
}

// PropertiesMap is a fixed Properties table.
type PropertiesMap map[string]string

func (m PropertiesMap) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// PropertiesFunc adapts a function to Properties.
type PropertiesFunc func(key string) (string, bool)

func (f PropertiesFunc) Lookup(key string) (string, bool) {
	return f(key)
}

var envKeys = map[string]string{
	ProxyUserKey:     "HTTP_PROXY_USER",
	ProxyPasswordKey: "HTTP_PROXY_PASSWORD",
	ProxyHostKey:     "HTTP_PROXY_HOST",
}

type systemProperties struct {
	mu     sync.RWMutex
	values map[string]string
}

var sysProps = &systemProperties{values: make(map[string]string)}

// SystemProperties returns the process-wide properties. Values set with
// SetProperty win over the environment. The proxy host falls back to
// the host of HTTP_PROXY or HTTPS_PROXY.
func SystemProperties() Properties {
	return sysProps
}

// SetProperty sets a process-wide property.
func SetProperty(key, value string) {
	sysProps.mu.Lock()
	defer sysProps.mu.Unlock()

	sysProps.values[key] = value
}

// ClearProperty removes a process-wide property.
func ClearProperty(key string) {
	sysProps.mu.Lock()
	defer sysProps.mu.Unlock()

	delete(sysProps.values, key)
}

func (p *systemProperties) Lookup(key string) (string, bool) {
	p.mu.RLock()
	v, ok := p.values[key]
	p.mu.RUnlock()
	if ok {
		return v, true
	}

	if env, ok := envKeys[key]; ok {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			return v, true
		}
	}

	if key == ProxyHostKey {
		return proxyHostFromEnvironment()
	}

	return "", false
}

func proxyHostFromEnvironment() (string, bool) {
	cfg := httpproxy.FromEnvironment()

	for _, raw := range []string{cfg.HTTPProxy, cfg.HTTPSProxy} {
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			continue
		}
		return u.Hostname(), true
	}

	return "", false
}
