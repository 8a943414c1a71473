// Package gateway is the client-facing Xtream Codes API of the proxy.
//
// Classify sorts a request into one of five shapes:
//
//   - player_api.php: player info and catalog actions, served from the
//     catalog cache with the proxy's identity substituted
//   - get.php: an M3U export of the live catalog pointing at the proxy
//   - xmltv.php: the cached XMLTV guide
//   - stream paths (/live, /movie, /series, /timeshift, /hlsr and the short
//     /{user}/{pass}/{id} form), relayed through routing candidates
//   - /relay paths produced by playlist rewriting, relayed on one account
//
// Every request is authenticated by the credentials translator first. The
// gateway is the only place internal errors become HTTP responses.
package gateway
