package catalog

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/types"
	"github.com/rafaalpizar/xtream-proxy/pkg/upstream"
)

// Accounts resolves account names to upstream accounts.
type Accounts interface {
	Account(name string) (*upstream.Account, bool)
	Client() *upstream.Client
}

// UpstreamFetcher loads catalog payloads from the upstream pool and applies
// the configured filter to list kinds.
type UpstreamFetcher struct {
	accounts Accounts
	filter   atomic.Pointer[Filter]
}

// NewUpstreamFetcher creates a fetcher. filter may be nil.
func NewUpstreamFetcher(accounts Accounts, filter *Filter) *UpstreamFetcher {
	f := &UpstreamFetcher{accounts: accounts}
	f.filter.Store(filter)
	return f
}

// SetFilter replaces the filter used by later fetches.
func (f *UpstreamFetcher) SetFilter(filter *Filter) {
	f.filter.Store(filter)
}

// Fetch implements Fetcher.
func (f *UpstreamFetcher) Fetch(ctx context.Context, key Key) ([]byte, error) {
	acct, ok := f.accounts.Account(key.Account)
	if !ok {
		return nil, types.E(types.KindServiceUnavailable, "catalog.Fetch", "",
			fmt.Errorf("unknown upstream account %q", key.Account))
	}
	client := f.accounts.Client()

	var (
		payload []byte
		err     error
	)
	if key.Kind == KindXMLTV {
		payload, err = client.XMLTV(ctx, acct)
	} else {
		payload, err = client.PlayerAPI(ctx, acct, key.Kind.Action(), key.Query())
	}
	if err != nil {
		return nil, err
	}

	filter := f.filter.Load()
	if !filter.Active() {
		return payload, nil
	}

	spec := kindSpecs[key.Kind]
	switch {
	case spec.isCategory:
		payload, err = filter.Categories(payload)
	case spec.categories != "":
		payload, err = filter.Streams(payload, f.categoryNames(ctx, acct, spec.categories))
	default:
		return payload, nil
	}
	if err != nil {
		return nil, types.E(types.KindUpstreamProtocol, "catalog.Fetch", "", err)
	}
	return payload, nil
}

// categoryNames returns the unfiltered id to name map for kind, or nil when
// the upstream cannot provide it.
func (f *UpstreamFetcher) categoryNames(ctx context.Context, acct *upstream.Account, kind Kind) map[string]string {
	payload, err := f.accounts.Client().PlayerAPI(ctx, acct, kind.Action(), nil)
	if err != nil {
		return nil
	}
	names, err := CategoryNames(payload)
	if err != nil {
		return nil
	}
	return names
}
