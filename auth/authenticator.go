package auth

import (
	"context"
	"errors"
	"net/url"
	"sync"
)

// ErrPermissionDenied is returned by SetDefault once the slot has been
// sealed.
var ErrPermissionDenied = errors.New("auth: not permitted to replace the default authenticator")

// RequestorType tells whether a challenge came from a proxy or from the
// origin server.
type RequestorType int

const (
	RequestorUnknown RequestorType = iota
	RequestorServer
	RequestorProxy
)

func (r RequestorType) String() string {
	switch r {
	case RequestorServer:
		return "SERVER"
	case RequestorProxy:
		return "PROXY"
	default:
		return "UNKNOWN"
	}
}

// Challenge describes a request for credentials raised while talking to
// a server.
type Challenge struct {
	Host     string
	Port     int
	Protocol string // url scheme, e.g. "https"
	Scheme   string // authentication scheme, e.g. "basic"
	Realm    string // also used as the prompt
	URL      *url.URL

	RequestorType RequestorType
}

// PasswordAuthentication is the answer to a Challenge.
type PasswordAuthentication struct {
	UserName string
	Password string
}

// Authenticator answers authentication challenges. The boolean result
// is false when the authenticator has nothing to offer.
type Authenticator interface {
	PasswordAuthentication(ctx context.Context, ch Challenge) (PasswordAuthentication, bool)
}

// AuthenticatorFunc adapts an ordinary function to an Authenticator.
type AuthenticatorFunc func(ctx context.Context, ch Challenge) (PasswordAuthentication, bool)

func (f AuthenticatorFunc) PasswordAuthentication(ctx context.Context, ch Challenge) (PasswordAuthentication, bool) {
	return f(ctx, ch)
}

// slot holds the process-wide authenticator.
var slot struct {
	mu     sync.RWMutex
	a      Authenticator
	sealed bool
}

// Default returns the process-wide authenticator, or nil.
func Default() Authenticator {
	slot.mu.RLock()
	defer slot.mu.RUnlock()

	return slot.a
}

// SetDefault replaces the process-wide authenticator. A nil a clears
// the slot.
func SetDefault(a Authenticator) error {
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.sealed {
		return ErrPermissionDenied
	}
	slot.a = a

	return nil
}

// Seal forbids, or with false permits again, later calls to SetDefault.
func Seal(sealed bool) {
	slot.mu.Lock()
	defer slot.mu.Unlock()

	slot.sealed = sealed
}

// RequestPasswordAuthentication asks the process-wide authenticator to
// answer ch.
func RequestPasswordAuthentication(ctx context.Context, ch Challenge) (PasswordAuthentication, bool) {
	a := Default()
	if a == nil {
		return PasswordAuthentication{}, false
	}

	return a.PasswordAuthentication(ctx, ch)
}

// swap puts a in the slot regardless of sealing and returns a func
// that puts back restore.
func swap(a, restore Authenticator) func() {
	slot.mu.Lock()
	slot.a = a
	slot.mu.Unlock()

	return func() {
		slot.mu.Lock()
		slot.a = restore
		slot.mu.Unlock()
	}
}
