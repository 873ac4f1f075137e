package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/urlfetch/auth"
	"github.com/adamwoolhether/urlfetch/credentials"
	"github.com/adamwoolhether/urlfetch/handler/throttle"
)

// Option is a functional option for configuring a [Basic] via [NewBasic].
type Option func(*options) error

type options struct {
	Client        *http.Client       `validate:"-"`
	Transport     http.RoundTripper  `validate:"-"`
	Timeout       time.Duration      `name:"timeout" validate:"gte=0"`
	UserAgent     string             `name:"user_agent" validate:"required,printascii"`
	RequestMethod string             `name:"request_method" validate:"oneof=HEAD GET"`
	Throttle      *throttle.Config   `name:"throttle"`
	Logger        *slog.Logger       `validate:"-"`
	Tracer        trace.Tracer       `validate:"-"`
	Store         *credentials.Store `validate:"-"`
	Properties    auth.Properties    `validate:"-"`
	NoAuth        bool               `validate:"-"`
	ProbeTimeout  time.Duration      `name:"probe_timeout" validate:"gte=0"`
}

func defaultOptions() options {
	return options{
		UserAgent:     DefaultUserAgent,
		RequestMethod: http.MethodHead,
	}
}

// WithClient replaces the default [http.Client]. The client is copied,
// never modified.
func WithClient(hc *http.Client) Option {
	return func(o *options) error {
		if hc == nil {
			return errors.New("client must not be nil")
		}
		o.Client = hc
		return nil
	}
}

// WithTransport sets a custom [http.RoundTripper] as the base transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		o.Transport = rt
		return nil
	}
}

// WithTimeout sets the overall request timeout on the underlying [http.Client].
func WithTimeout(d time.Duration) Option {
	return func(o *options) error {
		o.Timeout = d
		return nil
	}
}

// WithUserAgent overrides [DefaultUserAgent].
func WithUserAgent(ua string) Option {
	return func(o *options) error {
		o.UserAgent = ua
		return nil
	}
}

// WithRequestMethod sets the probe method, HEAD or GET.
func WithRequestMethod(method string) Option {
	return func(o *options) error {
		o.RequestMethod = method
		return nil
	}
}

// WithThrottle enables token-bucket rate limiting with the given requests per second and burst capacity.
func WithThrottle(rps, burst int) Option {
	return func(o *options) error {
		o.Throttle = &throttle.Config{RPS: rps, Burst: burst}
		return nil
	}
}

// WithLogger injects a custom [slog.Logger].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		o.Logger = logger
		return nil
	}
}

// WithTracer sets the tracer used for transfer spans. The global
// provider's tracer is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) error {
		if t == nil {
			return errors.New("tracer must not be nil")
		}
		o.Tracer = t
		return nil
	}
}

// WithCredentials sets the store consulted for server challenges.
// The handler asks it before the process-wide authenticator, so it
// applies even when another handler installed the Delegate first.
// [credentials.Default] is used otherwise.
func WithCredentials(store *credentials.Store) Option {
	return func(o *options) error {
		if store == nil {
			return errors.New("credential store must not be nil")
		}
		o.Store = store
		return nil
	}
}

// WithProperties sets the source of the proxy settings, consulted
// before the process-wide authenticator like [WithCredentials].
// [auth.SystemProperties] is used otherwise.
func WithProperties(props auth.Properties) Option {
	return func(o *options) error {
		if props == nil {
			return errors.New("properties must not be nil")
		}
		o.Properties = props
		return nil
	}
}

// WithoutAuthenticator disables challenge answering and leaves the
// process-wide authenticator alone.
func WithoutAuthenticator() Option {
	return func(o *options) error {
		o.NoAuth = true
		return nil
	}
}

// WithDefaultProbeTimeout bounds probes that don't carry their own
// [WithProbeTimeout].
func WithDefaultProbeTimeout(d time.Duration) Option {
	return func(o *options) error {
		o.ProbeTimeout = d
		return nil
	}
}

func buildOptions(optFns []Option) (options, error) {
	opts := defaultOptions()
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return options{}, fmt.Errorf("applying handler option: %w", err)
		}
	}

	if err := validateOptions(opts); err != nil {
		return options{}, fmt.Errorf("validating handler options: %w", err)
	}

	return opts, nil
}

// userAgent is an http.RoundTripper, enabling the persistent User-Agent header.
type userAgent struct {
	value string
	base  http.RoundTripper
}

func (ua userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") == ua.value {
		return ua.base.RoundTrip(r)
	}

	cpy := r.Clone(r.Context())
	cpy.Header.Set("User-Agent", ua.value)
	return ua.base.RoundTrip(cpy)
}
