// Package relay streams upstream media to clients.
//
// Engine walks an ordered list of candidate accounts, takes a stream slot on
// the first one that can open the resource and copies the body through a
// single pooled buffer, so memory per relay stays bounded no matter how slow
// the client is. HLS and M3U playlists are read whole, rewritten with
// RewritePlaylist so every URI points back at the proxy, and served with a
// corrected Content-Length.
//
// A broken upstream read is retried once on the same slot; VOD streams
// resume with a Range request. Upstream silence longer than the idle timeout
// ends the relay.
package relay
