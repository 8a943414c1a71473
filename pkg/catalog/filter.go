package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
)

// Filter applies a whitelist and blacklist of names to catalog lists. A
// category is kept when its name is whitelisted (or no whitelist exists) and
// not blacklisted. A stream is kept when its name, its category_name or the
// name of its category_id passes the same test.
type Filter struct {
	whitelist map[string]struct{}
	blacklist map[string]struct{}
}

// NewFilter builds a filter from configuration. It returns nil when no
// names are configured.
func NewFilter(cfg config.FilterConfig) *Filter {
	if len(cfg.Whitelist) == 0 && len(cfg.Blacklist) == 0 {
		return nil
	}
	f := &Filter{
		whitelist: make(map[string]struct{}, len(cfg.Whitelist)),
		blacklist: make(map[string]struct{}, len(cfg.Blacklist)),
	}
	for _, name := range cfg.Whitelist {
		if name = strings.TrimSpace(name); name != "" {
			f.whitelist[name] = struct{}{}
		}
	}
	for _, name := range cfg.Blacklist {
		if name = strings.TrimSpace(name); name != "" {
			f.blacklist[name] = struct{}{}
		}
	}
	return f
}

// Active reports whether f changes anything.
func (f *Filter) Active() bool {
	return f != nil && (len(f.whitelist) > 0 || len(f.blacklist) > 0)
}

type listItem struct {
	Name         json.RawMessage `json:"name"`
	CategoryID   json.RawMessage `json:"category_id"`
	CategoryName json.RawMessage `json:"category_name"`
}

// scalar renders a JSON string or number as trimmed text.
func scalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func (f *Filter) keep(names ...string) bool {
	if len(f.whitelist) > 0 {
		matched := false
		for _, n := range names {
			if _, ok := f.whitelist[n]; ok && n != "" {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, n := range names {
		if _, ok := f.blacklist[n]; ok && n != "" {
			return false
		}
	}
	return true
}

func decodeList(payload []byte) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return items, nil
}

func encodeList(items []json.RawMessage) ([]byte, error) {
	if items == nil {
		items = []json.RawMessage{}
	}
	return json.Marshal(items)
}

// Categories filters a category list payload by category_name. Kept items
// are copied byte for byte.
func (f *Filter) Categories(payload []byte) ([]byte, error) {
	if !f.Active() {
		return payload, nil
	}
	items, err := decodeList(payload)
	if err != nil {
		return nil, err
	}
	kept := make([]json.RawMessage, 0, len(items))
	for _, raw := range items {
		var it listItem
		if err := json.Unmarshal(raw, &it); err != nil {
			continue
		}
		if f.keep(scalar(it.CategoryName)) {
			kept = append(kept, raw)
		}
	}
	return encodeList(kept)
}

// Streams filters a stream or series list payload. categoryNames maps
// category_id to category name and may be nil.
func (f *Filter) Streams(payload []byte, categoryNames map[string]string) ([]byte, error) {
	if !f.Active() {
		return payload, nil
	}
	items, err := decodeList(payload)
	if err != nil {
		return nil, err
	}
	kept := make([]json.RawMessage, 0, len(items))
	for _, raw := range items {
		var it listItem
		if err := json.Unmarshal(raw, &it); err != nil {
			continue
		}
		names := []string{scalar(it.Name), scalar(it.CategoryName)}
		if id := scalar(it.CategoryID); id != "" {
			names = append(names, categoryNames[id])
		}
		if f.keep(names...) {
			kept = append(kept, raw)
		}
	}
	return encodeList(kept)
}

// CategoryNames decodes a category list payload into an id to name map.
func CategoryNames(payload []byte) (map[string]string, error) {
	items, err := decodeList(payload)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(items))
	for _, raw := range items {
		var it listItem
		if err := json.Unmarshal(raw, &it); err != nil {
			continue
		}
		if id := scalar(it.CategoryID); id != "" {
			out[id] = scalar(it.CategoryName)
		}
	}
	return out, nil
}

// ByCategory keeps only items whose category_id equals categoryID. Kept
// items are copied byte for byte.
func ByCategory(payload []byte, categoryID string) ([]byte, error) {
	items, err := decodeList(payload)
	if err != nil {
		return nil, err
	}
	kept := make([]json.RawMessage, 0)
	for _, raw := range items {
		var it listItem
		if err := json.Unmarshal(raw, &it); err != nil {
			continue
		}
		if scalar(it.CategoryID) == categoryID {
			kept = append(kept, raw)
		}
	}
	return encodeList(kept)
}
