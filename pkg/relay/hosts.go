package relay

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// HostBook remembers the origins each account's upstream redirected to.
// Only remembered origins are accepted in /relay paths.
type HostBook struct {
	cache *lru.Cache[string, struct{}]
}

// NewHostBook creates a book holding at most size origins in total.
func NewHostBook(size int) *HostBook {
	if size < 1 {
		size = 1024
	}
	cache, _ := lru.New[string, struct{}](size)
	return &HostBook{cache: cache}
}

func hostKey(account, origin string) string {
	return account + "|" + strings.ToLower(origin)
}

// Learn records origin for account.
func (b *HostBook) Learn(account, origin string) {
	b.cache.Add(hostKey(account, origin), struct{}{})
}

// Known reports whether origin was learned for account.
func (b *HostBook) Known(account, origin string) bool {
	return b.cache.Contains(hostKey(account, origin))
}

// Origins returns the learned origins of account.
func (b *HostBook) Origins(account string) []string {
	prefix := account + "|"
	var out []string
	for _, k := range b.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			out = append(out, strings.TrimPrefix(k, prefix))
		}
	}
	return out
}
