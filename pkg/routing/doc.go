// Package routing picks which upstream accounts may serve a stream and in
// what order they are tried.
package routing
