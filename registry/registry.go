// Package registry holds the process-wide default handler and selects
// an enhanced HTTP handler when one has been linked into the program.
//
// Optional handlers announce themselves with RegisterCapability from an
// init function, so importing them for side effects is enough to make
// HTTP return them.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/adamwoolhether/urlfetch/handler"
)

// ErrNoCapability reports that no enhanced handler is registered.
var ErrNoCapability = errors.New("no enhanced HTTP capability registered")

// Constructor builds a handler for a capability.
type Constructor func() (handler.Handler, error)

var (
	mu           sync.RWMutex
	defaultH     handler.Handler
	capabilities = map[string]Constructor{}
	logger       = slog.Default()

	httpOnce sync.Once
	httpH    handler.Handler
)

// Default returns the process-wide handler, a basic handler unless
// SetDefault replaced it.
func Default() handler.Handler {
	mu.RLock()
	h := defaultH
	mu.RUnlock()
	if h != nil {
		return h
	}

	mu.Lock()
	defer mu.Unlock()
	if defaultH == nil {
		defaultH = basic()
	}

	return defaultH
}

// SetDefault replaces the process-wide handler. A nil h restores the
// basic handler on the next call to Default.
func SetDefault(h handler.Handler) {
	mu.Lock()
	defer mu.Unlock()

	defaultH = h
}

// SetLogger sets the logger used to report capability failures.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}

	mu.Lock()
	defer mu.Unlock()

	logger = l
}

// RegisterCapability announces an enhanced handler. Registering a name
// twice replaces the constructor.
func RegisterCapability(name string, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()

	capabilities[name] = ctor
}

// Capabilities returns the registered names, sorted.
func Capabilities() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(capabilities))
	for name := range capabilities {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// HTTP returns the enhanced handler when one is registered and builds
// successfully, the basic handler otherwise. The choice is made once.
func HTTP() handler.Handler {
	httpOnce.Do(func() {
		h, err := enhanced()
		switch {
		case errors.Is(err, ErrNoCapability):
			log().Debug("enhanced HTTP client not found, using basic handler")
			httpH = basic()
			return
		case err != nil:
			log().Warn("error loading enhanced HTTP client, using basic handler", "error", err)
			httpH = basic()
			return
		}
		log().Debug("using enhanced HTTP client")
		httpH = h
	})

	return httpH
}

// Reset forgets the default handler, the capabilities and the HTTP
// choice.
func Reset() {
	mu.Lock()
	defer mu.Unlock()

	defaultH = nil
	capabilities = map[string]Constructor{}
	httpOnce = sync.Once{}
	httpH = nil
}

func enhanced() (h handler.Handler, err error) {
	names := Capabilities()
	if len(names) == 0 {
		return nil, ErrNoCapability
	}

	mu.RLock()
	ctor := capabilities[names[0]]
	mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability %q panicked: %v", names[0], r)
		}
	}()

	h, err = ctor()
	if err != nil {
		return nil, fmt.Errorf("capability %q: %w", names[0], err)
	}
	if h == nil {
		return nil, fmt.Errorf("capability %q returned no handler", names[0])
	}

	return h, nil
}

func basic() handler.Handler {
	h, err := handler.NewBasic()
	if err != nil {
		// The defaults always validate.
		panic(fmt.Sprintf("registry: building basic handler: %v", err))
	}

	return h
}

func log() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return logger
}
