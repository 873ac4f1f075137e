package credentials

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Credential is an immutable user name and password pair bound to a
// realm on a host.
type Credential struct {
	Realm    string
	Host     string
	UserName string
	Password string
}

// Key returns the lookup key of the credential.
func (c Credential) Key() string {
	return Key(c.Realm, c.Host)
}

// String masks the password so credentials can be logged.
func (c Credential) String() string {
	pass := ""
	if c.Password != "" {
		pass = "****"
	}

	return fmt.Sprintf("%s@%s:%s:%s", c.Realm, c.Host, c.UserName, pass)
}

// Key builds the lookup key for realm and host. An empty realm is a
// bucket of its own.
func Key(realm, host string) string {
	return realm + "@" + host
}

// Store is an in-memory table of credentials plus the set of hosts
// that have received one. The zero value is ready to use.
type Store struct {
	mu      sync.RWMutex
	keyring map[string]Credential
	secured map[string]struct{}
	logger  *slog.Logger
}

// NewStore returns an empty store logging to logger. A nil logger
// falls back to slog.Default.
func NewStore(logger *slog.Logger) *Store {
	return &Store{logger: logger}
}

var defaultStore = NewStore(nil)

// Default returns the process-wide store.
func Default() *Store {
	return defaultStore
}

// Add stores the credential for realm and host, replacing any previous
// one. It does nothing when userName is empty.
func (s *Store) Add(realm, host, userName, password string) {
	if userName == "" {
		return
	}

	c := Credential{
		Realm:    realm,
		Host:     host,
		UserName: userName,
		Password: password,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keyring == nil {
		s.keyring = make(map[string]Credential)
		s.secured = make(map[string]struct{})
	}
	s.keyring[c.Key()] = c
	s.secured[host] = struct{}{}

	s.log().Debug("credentials added", "credential", c.String())
}

// Get returns the credential stored for exactly realm and host.
func (s *Store) Get(realm, host string) (Credential, bool) {
	key := Key(realm, host)

	s.mu.RLock()
	defer s.mu.RUnlock()

	s.log().Debug("looking up credentials", "key", key)
	c, ok := s.keyring[key]

	return c, ok
}

// HasCredentials reports whether any realm on host has been given
// credentials.
func (s *Store) HasCredentials(host string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.secured[host]
	return ok
}

// Len returns the number of stored credentials.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.keyring)
}

// Hosts returns the secured hosts in sorted order.
func (s *Store) Hosts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hosts := make([]string, 0, len(s.secured))
	for h := range s.secured {
		hosts = append(hosts, h)
	}
	slices.Sort(hosts)

	return hosts
}

func (s *Store) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}

	return s.logger
}
