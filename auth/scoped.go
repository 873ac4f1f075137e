package auth

import (
	"context"
	"log/slog"

	"github.com/adamwoolhether/urlfetch/credentials"
)

// Scoped answers challenges from its own store and properties and asks
// the process-wide authenticator for anything else. It lets one
// handler carry credentials without replacing the Delegate other
// handlers share.
type Scoped struct {
	store  *credentials.Store
	props  Properties
	logger *slog.Logger
}

var _ Authenticator = (*Scoped)(nil)

// NewScoped builds a Scoped authenticator. Nil fields of cfg fall back
// to the process-wide defaults.
func NewScoped(cfg Config) *Scoped {
	if cfg.Store == nil {
		cfg.Store = credentials.Default()
	}
	if cfg.Properties == nil {
		cfg.Properties = SystemProperties()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scoped{
		store:  cfg.Store,
		props:  cfg.Properties,
		logger: cfg.Logger,
	}
}

// PasswordAuthentication implements Authenticator.
func (s *Scoped) PasswordAuthentication(ctx context.Context, ch Challenge) (PasswordAuthentication, bool) {
	if pa, ok := lookup(s.store, s.props, s.logger, ch); ok {
		return pa, true
	}

	return RequestPasswordAuthentication(ctx, ch)
}
