package catalog

import (
	"net/url"
	"time"
)

// Kind identifies a cached upstream resource.
type Kind string

// Cached kinds. List kinds are refreshed daily and filtered; info and EPG
// kinds carry a parameter and use their own TTLs.
const (
	KindPlayerInfo       Kind = "player_info"
	KindLiveCategories   Kind = "get_live_categories"
	KindVODCategories    Kind = "get_vod_categories"
	KindSeriesCategories Kind = "get_series_categories"
	KindLiveStreams      Kind = "get_live_streams"
	KindVODStreams       Kind = "get_vod_streams"
	KindSeries           Kind = "get_series"
	KindSeriesInfo       Kind = "get_series_info"
	KindVODInfo          Kind = "get_vod_info"
	KindShortEPG         Kind = "get_short_epg"
	KindSimpleDataTable  Kind = "get_simple_data_table"
	KindXMLTV            Kind = "xmltv"
)

type ttlClass int

const (
	classLists ttlClass = iota
	classInfo
	classEPG
)

type kindSpec struct {
	action string
	class  ttlClass
	params []string
	// categories is the category kind used to resolve category_id on stream
	// lists; empty for non-stream kinds.
	categories Kind
	isCategory bool
}

var kindSpecs = map[Kind]kindSpec{
	KindPlayerInfo:       {action: "", class: classLists},
	KindLiveCategories:   {action: "get_live_categories", class: classLists, isCategory: true},
	KindVODCategories:    {action: "get_vod_categories", class: classLists, isCategory: true},
	KindSeriesCategories: {action: "get_series_categories", class: classLists, isCategory: true},
	KindLiveStreams:      {action: "get_live_streams", class: classLists, categories: KindLiveCategories},
	KindVODStreams:       {action: "get_vod_streams", class: classLists, categories: KindVODCategories},
	KindSeries:           {action: "get_series", class: classLists, categories: KindSeriesCategories},
	KindSeriesInfo:       {action: "get_series_info", class: classInfo, params: []string{"series_id"}},
	KindVODInfo:          {action: "get_vod_info", class: classInfo, params: []string{"vod_id"}},
	KindShortEPG:         {action: "get_short_epg", class: classEPG, params: []string{"stream_id", "limit"}},
	KindSimpleDataTable:  {action: "get_simple_data_table", class: classEPG, params: []string{"stream_id"}},
	KindXMLTV:            {class: classEPG},
}

// DailyKinds are refreshed by the scheduled refresh.
var DailyKinds = []Kind{
	KindPlayerInfo,
	KindLiveCategories,
	KindVODCategories,
	KindSeriesCategories,
	KindLiveStreams,
	KindVODStreams,
	KindSeries,
}

// KindForAction maps a player_api.php action to its cached kind. An empty
// action is the player info request.
func KindForAction(action string) (Kind, bool) {
	if action == "" {
		return KindPlayerInfo, true
	}
	k := Kind(action)
	spec, ok := kindSpecs[k]
	if !ok || spec.action == "" {
		return "", false
	}
	return k, true
}

// Action returns the player_api.php action for k.
func (k Kind) Action() string {
	return kindSpecs[k].action
}

// Params returns the request parameters that are part of k's cache key.
func (k Kind) Params() []string {
	return kindSpecs[k].params
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindSpecs[k]
	return ok
}

// Key identifies one cache entry.
type Key struct {
	Account string
	Kind    Kind
	// Param is the canonical encoding of the kind's parameters.
	Param string
}

// NewKey builds a key for kind on account, keeping only the parameters that
// belong to the kind so equivalent requests share an entry.
func NewKey(account string, kind Kind, params url.Values) Key {
	key := Key{Account: account, Kind: kind}
	names := kind.Params()
	if len(names) == 0 || params == nil {
		return key
	}
	kept := url.Values{}
	for _, name := range names {
		if v := params.Get(name); v != "" {
			kept.Set(name, v)
		}
	}
	key.Param = kept.Encode()
	return key
}

// String returns a stable string form used for single-flight and storage.
func (k Key) String() string {
	if k.Param == "" {
		return k.Account + "|" + string(k.Kind)
	}
	return k.Account + "|" + string(k.Kind) + "|" + k.Param
}

// Query returns the key's parameters.
func (k Key) Query() url.Values {
	q, _ := url.ParseQuery(k.Param)
	return q
}

// TTLs holds the freshness window per kind class.
type TTLs struct {
	Lists time.Duration
	Info  time.Duration
	EPG   time.Duration
}

func (t TTLs) forKind(k Kind) time.Duration {
	switch kindSpecs[k].class {
	case classInfo:
		return t.Info
	case classEPG:
		return t.EPG
	default:
		return t.Lists
	}
}
