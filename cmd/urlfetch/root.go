package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/adamwoolhether/urlfetch/credentials"
	"github.com/adamwoolhether/urlfetch/handler"
	"github.com/adamwoolhether/urlfetch/handler/enhanced"
	"github.com/adamwoolhether/urlfetch/handler/progress"
	"github.com/adamwoolhether/urlfetch/registry"
)

const globalUsage = `
urlfetch transfers resources identified by URLs.

Servers asking for HTTP Basic authentication are answered with the
credentials given by --user, --password and --realm. Proxy credentials
are read from HTTP_PROXY_USER and HTTP_PROXY_PASSWORD, the proxy itself
from HTTPS_PROXY and HTTP_PROXY.
`

type globalOptions struct {
	user      string
	password  string
	realm     string
	userAgent string
	method    string
	logLevel  string
	timeout   time.Duration
	rps       int
	enhanced  bool
	quiet     bool
}

func (o *globalOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.user, "user", "u", "", "user name for servers asking for authentication")
	fs.StringVarP(&o.password, "password", "p", "", "password for --user")
	fs.StringVar(&o.realm, "realm", "", "authentication realm the credentials apply to")
	fs.StringVar(&o.userAgent, "user-agent", handler.DefaultUserAgent, "User-Agent header sent with every request")
	fs.StringVar(&o.method, "method", "HEAD", "probe method, HEAD or GET")
	fs.StringVar(&o.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	fs.DurationVar(&o.timeout, "timeout", 0, "overall timeout of each request, 0 for none")
	fs.IntVar(&o.rps, "rps", 0, "maximum requests per second, 0 for no limit")
	fs.BoolVar(&o.enhanced, "enhanced", false, "use the enhanced HTTP client when available")
	fs.BoolVarP(&o.quiet, "quiet", "q", false, "don't report transfer progress")
}

func (o *globalOptions) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// handler builds the handler for a command touching the given URLs and
// registers the --user credentials for their hosts.
func (o *globalOptions) handler(cmd *cobra.Command, urls ...*url.URL) (handler.Handler, *slog.Logger, error) {
	logger, err := o.logger(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}

	if o.user != "" {
		for _, u := range urls {
			credentials.Default().Add(o.realm, u.Hostname(), o.user, o.password)
		}
	}

	opts := []handler.Option{
		handler.WithLogger(logger),
		handler.WithUserAgent(o.userAgent),
		handler.WithRequestMethod(strings.ToUpper(o.method)),
		handler.WithTimeout(o.timeout),
	}
	if o.rps > 0 {
		opts = append(opts, handler.WithThrottle(o.rps, o.rps))
	}

	if o.enhanced {
		registry.SetLogger(logger)
		registry.RegisterCapability(enhanced.Capability, func() (handler.Handler, error) {
			return enhanced.New(enhanced.WithHandlerOptions(opts...))
		})
		return registry.HTTP(), logger, nil
	}

	h, err := handler.NewBasic(opts...)
	if err != nil {
		return nil, nil, err
	}

	return h, logger, nil
}

func (o *globalOptions) listener(logger *slog.Logger, name string) progress.Listener {
	if o.quiet {
		return nil
	}

	return &progress.LogListener{Logger: logger, Name: name}
}

func newRootCmd() *cobra.Command {
	var opts globalOptions

	cmd := &cobra.Command{
		Use:           "urlfetch",
		Short:         "Probe, download and upload resources by URL.",
		Long:          globalUsage,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       handler.Version,
	}
	opts.addFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newProbeCmd(&opts),
		newGetCmd(&opts),
		newCatCmd(&opts),
		newPutCmd(&opts),
	)

	return cmd
}

func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing URL %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("URL %q has no scheme", raw)
	}

	return u, nil
}
