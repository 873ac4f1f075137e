package auth

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/adamwoolhether/urlfetch/credentials"
)

// Config selects where a Delegate looks for credentials. Nil fields
// fall back to the process-wide defaults.
type Config struct {
	Store      *credentials.Store
	Properties Properties
	Logger     *slog.Logger
}

// Delegate answers challenges from a credentials.Store and the proxy
// properties, and hands anything it cannot answer to the authenticator
// that was installed before it.
type Delegate struct {
	original Authenticator
	store    *credentials.Store
	props    Properties
	logger   *slog.Logger
}

var (
	// fallbackMu serializes the swap-call-restore sequence so two
	// fallbacks never interleave their slot writes.
	fallbackMu     sync.Mutex
	fallbackActive atomic.Bool

	installWarning sync.Once
)

// Install makes a Delegate the process-wide authenticator unless one
// already is, and returns the active Delegate. It returns nil when the
// slot refuses the install; transfers then proceed unauthenticated.
func Install(cfg Config) *Delegate {
	if cfg.Store == nil {
		cfg.Store = credentials.Default()
	}
	if cfg.Properties == nil {
		cfg.Properties = SystemProperties()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if d, ok := slot.a.(*Delegate); ok {
		return d
	}

	// A delegate in the middle of a fallback has lent the slot to its
	// original and will take it back.
	if fallbackActive.Load() {
		return nil
	}

	if slot.sealed {
		installWarning.Do(func() {
			cfg.Logger.Warn("not enough permissions to set the authenticator, HTTP(S) authentication will be disabled", "error", ErrPermissionDenied)
		})
		return nil
	}

	d := &Delegate{
		original: slot.a,
		store:    cfg.Store,
		props:    cfg.Properties,
		logger:   cfg.Logger,
	}
	slot.a = d

	return d
}

// Original returns the authenticator captured at install time.
func (d *Delegate) Original() Authenticator {
	return d.original
}

// PasswordAuthentication implements Authenticator.
func (d *Delegate) PasswordAuthentication(ctx context.Context, ch Challenge) (PasswordAuthentication, bool) {
	if pa, ok := lookup(d.store, d.props, d.logger, ch); ok {
		return pa, true
	}

	if d.original == nil {
		return PasswordAuthentication{}, false
	}

	return d.fallback(ctx, ch)
}

func (d *Delegate) fallback(ctx context.Context, ch Challenge) (PasswordAuthentication, bool) {
	fallbackMu.Lock()
	defer fallbackMu.Unlock()

	fallbackActive.Store(true)
	defer fallbackActive.Store(false)

	restore := swap(d.original, d)
	defer restore()

	return RequestPasswordAuthentication(ctx, ch)
}

// lookup answers ch from the proxy properties or the store.
func lookup(store *credentials.Store, props Properties, logger *slog.Logger, ch Challenge) (PasswordAuthentication, bool) {
	if isProxy(props, ch) {
		user, _ := props.Lookup(ProxyUserKey)
		if strings.TrimSpace(user) == "" {
			return PasswordAuthentication{}, false
		}
		pass, _ := props.Lookup(ProxyPasswordKey)
		logger.Debug("authenticating to proxy server", "user", user)
		return PasswordAuthentication{UserName: user, Password: pass}, true
	}

	c, ok := store.Get(ch.Realm, ch.Host)
	logger.Debug("authentication", "key", credentials.Key(ch.Realm, ch.Host), "found", ok)
	if !ok {
		return PasswordAuthentication{}, false
	}

	return PasswordAuthentication{UserName: c.UserName, Password: c.Password}, true
}

// isProxy prefers the requestor type of the challenge and otherwise
// compares the challenge host with the configured proxy host.
func isProxy(props Properties, ch Challenge) bool {
	switch ch.RequestorType {
	case RequestorProxy:
		return true
	case RequestorServer:
		return false
	}

	proxyHost, ok := props.Lookup(ProxyHostKey)
	return ok && proxyHost != "" && proxyHost == ch.Host
}
