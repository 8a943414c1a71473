// Package credentials translates client-facing proxy credentials into the
// upstream account they are mapped to.
//
// Lookups are a single map access followed by a constant-time password
// comparison. A successful lookup creates or refreshes a Session, which pins
// the proxy user to one upstream account until it expires, is invalidated,
// or the user is remapped by a configuration reload.
//
// Upstream passwords never pass through this package.
package credentials
