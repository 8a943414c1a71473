package upstream

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
)

// Credential placeholders used in Target paths and queries. Account.URL
// replaces them with the account's real credentials.
const (
	PlaceholderUsername = "{username}"
	PlaceholderPassword = "{password}"
)

// Account is one configured upstream panel account. Accounts are immutable
// once built; Pool.Reconfigure replaces them wholesale.
type Account struct {
	Name           string
	BaseURL        *url.URL
	Username       string
	Password       string
	MaxConnections int
	Disabled       bool
	Mirrors        []string
	UserAgent      string

	sem   *semaphore.Weighted
	inUse atomic.Int64
}

// NewAccount builds an account from configuration.
func NewAccount(name string, cfg config.UpstreamConfig) (*Account, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("upstream %s: invalid base URL: %w", name, err)
	}
	maxConns := cfg.MaxConnections
	if maxConns < 1 {
		maxConns = 1
	}
	return &Account{
		Name:           name,
		BaseURL:        base,
		Username:       cfg.Username,
		Password:       cfg.Password,
		MaxConnections: maxConns,
		Disabled:       cfg.Disabled,
		Mirrors:        append([]string(nil), cfg.Mirrors...),
		UserAgent:      cfg.UserAgent,
		sem:            semaphore.NewWeighted(int64(maxConns)),
	}, nil
}

// InUse returns the number of held stream slots.
func (a *Account) InUse() int64 {
	return a.inUse.Load()
}

// Host returns the host[:port] of the account's base URL.
func (a *Account) Host() string {
	return a.BaseURL.Host
}

// Origin returns the scheme://host[:port] of the account's base URL.
func (a *Account) Origin() string {
	return a.BaseURL.Scheme + "://" + a.BaseURL.Host
}

// Target identifies an upstream resource independently of the account that
// will serve it. Path and Query may carry the credential placeholders.
type Target struct {
	// Path is the request path, e.g. "/live/{username}/{password}/42.ts".
	Path string

	// Query holds query parameters; "username" and "password" values are
	// replaced like the path placeholders.
	Query url.Values

	// Origin overrides the account's scheme and host, e.g.
	// "http://cdn.example:8080". It is set for resources on hosts the
	// upstream redirected to.
	Origin string
}

// URL renders t against the account.
func (a *Account) URL(t Target) string {
	path := strings.ReplaceAll(t.Path, PlaceholderUsername, a.Username)
	path = strings.ReplaceAll(path, PlaceholderPassword, a.Password)

	u := *a.BaseURL
	u.Path = strings.TrimRight(a.BaseURL.Path, "/") + path
	if t.Origin != "" {
		if o, err := url.Parse(t.Origin); err == nil && o.Host != "" {
			u.Scheme = o.Scheme
			u.Host = o.Host
			u.Path = path
		}
	}
	u.RawPath = ""
	if len(t.Query) > 0 {
		q := url.Values{}
		for k, vs := range t.Query {
			q[k] = append([]string(nil), vs...)
		}
		if q.Has("username") {
			q.Set("username", a.Username)
		}
		if q.Has("password") {
			q.Set("password", a.Password)
		}
		u.RawQuery = q.Encode()
	} else {
		u.RawQuery = ""
	}
	return u.String()
}

// APIURL returns the player_api.php URL for action with extra parameters.
func (a *Account) APIURL(script, action string, params url.Values) string {
	q := url.Values{}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("username", a.Username)
	q.Set("password", a.Password)
	if action != "" {
		q.Set("action", action)
	}
	u := *a.BaseURL
	u.Path = strings.TrimRight(a.BaseURL.Path, "/") + "/" + script
	u.RawQuery = q.Encode()
	return u.String()
}
