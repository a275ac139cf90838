// Package sockpath resolves the Unix-domain socket path shared by the
// daemon and the interposition library (spec.md §6 "Socket location"):
// first match wins between the FAKENOTIFY_SOCKET environment variable,
// $XDG_RUNTIME_DIR/fakenotify.sock, and the fixed fallback
// /run/fakenotify/fakenotify.sock. Both endpoints must agree, so this
// package is the single source of truth consulted by cmd/fakenotifyd and
// cmd/libfakenotify alike.
package sockpath

import (
	"errors"
	"os"
	"path/filepath"
)

// DefaultPath is used when neither FAKENOTIFY_SOCKET nor XDG_RUNTIME_DIR
// is set.
const DefaultPath = "/run/fakenotify/fakenotify.sock"

// ErrNoPath is returned only in configurations that can't happen with the
// current resolution order; kept so callers can treat Resolve uniformly
// with other fallible lookups.
var ErrNoPath = errors.New("sockpath: unable to resolve a socket path")

// Resolve implements the three-step resolution order.
func Resolve() (string, error) {
	if p := os.Getenv("FAKENOTIFY_SOCKET"); p != "" {
		return p, nil
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "fakenotify.sock"), nil
	}
	return DefaultPath, nil
}
