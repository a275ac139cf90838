// Package interpose holds the pure decision logic behind the
// symbol-interposition library (spec §4.8, §4.9): the managed-fd set, the
// connect-with-backoff policy, and request construction / errno
// translation. It has no cgo and no dependency on the real inotify
// syscalls, so it can be unit tested directly; cmd/libfakenotify is the
// thin cgo shell that resolves real libc symbols and calls into this
// package. Grounded directly on spec.md §4.8/§4.9 (the Rust
// original_source/crates/preload/src/lib.rs this spec was distilled from
// was filtered down to its import list only, so these entry-point bodies
// are spec-derived) and on the managed-fd bookkeeping style of
// _examples/tjper-teleport/internal/fsnotify/fsnotify.go (a mutex-guarded
// map from fd to watch state, built around the same unix.Inotify* calls).
package interpose

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zachhandley/fakenotify/internal/eventcodec"
	"github.com/zachhandley/fakenotify/internal/framing"
	"github.com/zachhandley/fakenotify/internal/ipcmsg"
	"github.com/zachhandley/fakenotify/internal/logging"
)

var l = logging.New("interpose", "symbol interposition client logic")

// Errno is the subset of errno values this package ever asks the cgo shim
// to set; the shim maps these onto the real C errno constants.
type Errno int

const (
	ErrnoNone Errno = iota
	ErrnoInval
	ErrnoIO
)

// Conn is the minimal transport the managed-fd set needs: something to
// frame requests onto and read framed responses from. cmd/libfakenotify's
// rawConn (a raw AF_UNIX socket fd) satisfies this; tests use an in-memory
// pipe.
type Conn interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// Dialer connects to the daemon; it exists so tests can substitute a fake
// without a real Unix socket.
type Dialer func(ctx context.Context) (Conn, error)

// BackoffSchedule is the exponential backoff capped at 1s per attempt,
// giving up after len(BackoffSchedule) attempts (spec §4.9:
// "100, 200, 400, 800, 1000, 1000, ..." for ~60 attempts, ~1 minute).
func BackoffSchedule() []time.Duration {
	delays := make([]time.Duration, 0, 60)
	step := 100 * time.Millisecond
	for i := 0; i < 60; i++ {
		delays = append(delays, step)
		if step < time.Second {
			step *= 2
			if step > time.Second {
				step = time.Second
			}
		}
	}
	return delays
}

// ErrGiveUp is returned by Connect once the backoff budget is exhausted;
// callers MUST fall back to the real kernel implementation.
var ErrGiveUp = errors.New("interpose: daemon connect attempts exhausted")

// Connect dials dial with the spec §4.9 backoff schedule, blocking until
// either a connection succeeds or the schedule is exhausted.
func Connect(ctx context.Context, dial Dialer) (Conn, error) {
	schedule := BackoffSchedule()
	var lastErr error
	for attempt, delay := range schedule {
		conn, err := dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt == len(schedule)-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	l.Debugf("giving up after %d connect attempts: %v", len(schedule), lastErr)
	return nil, ErrGiveUp
}

// ManagedSet is the process-wide set of file descriptors the library owns
// — sockets connected to the daemon that were handed to the application as
// "inotify fds" (spec §4.8). Mutations are reader/writer-locked; the lock
// is never held across any blocking I/O.
type ManagedSet struct {
	mu    sync.RWMutex
	conns map[int]Conn
}

// NewManagedSet constructs an empty set.
func NewManagedSet() *ManagedSet {
	return &ManagedSet{conns: make(map[int]Conn)}
}

// Add records fd as owned by the library, associated with its live
// connection (so AddWatch/RemoveWatch can rebuild a transient stream view
// without taking ownership away from the caller).
func (s *ManagedSet) Add(fd int, conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[fd] = conn
}

// Lookup returns the connection for fd and whether fd is managed.
func (s *ManagedSet) Lookup(fd int) (Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[fd]
	return conn, ok
}

// Remove drops fd from the set without closing its connection — the real
// close(2) call already owns that side effect (spec §4.8: "no shutdown
// message - the daemon detects EOF").
func (s *ManagedSet) Remove(fd int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, fd)
}

// AddWatchResult is the outcome of translating an AddWatch round trip into
// the kernel ABI's return value / errno pair.
type AddWatchResult struct {
	Wd    int32
	Errno Errno
}

// BuildAddWatchRequest constructs the wire request for inotify_add_watch.
// The kernel's inotify_add_watch(2) never recurses into subdirectories — a
// watch only ever reports its direct children, with slash-free names — so
// this proxies that non-recursive semantics verbatim rather than asking the
// daemon to watch the whole subtree.
func BuildAddWatchRequest(path string, mask uint32) ipcmsg.Request {
	return ipcmsg.Request{Kind: ipcmsg.ReqAddWatch, Path: path, Mask: mask, Recursive: false}
}

// TranslateAddWatchResponse implements spec §4.8's inotify_add_watch
// translation: success -> wd; Error -> -1/EINVAL; anything else -> -1/EIO.
func TranslateAddWatchResponse(resp ipcmsg.Response, protoErr error) AddWatchResult {
	if protoErr != nil {
		return AddWatchResult{Wd: -1, Errno: ErrnoIO}
	}
	switch resp.Kind {
	case ipcmsg.RespWatchAdded:
		return AddWatchResult{Wd: resp.Wd, Errno: ErrnoNone}
	case ipcmsg.RespError:
		return AddWatchResult{Wd: -1, Errno: ErrnoInval}
	default:
		return AddWatchResult{Wd: -1, Errno: ErrnoIO}
	}
}

// RemoveWatchResult is the outcome of translating a RemoveWatch round trip.
type RemoveWatchResult struct {
	Ret   int32
	Errno Errno
}

// BuildRemoveWatchRequest constructs the wire request for inotify_rm_watch.
func BuildRemoveWatchRequest(wd int32) ipcmsg.Request {
	return ipcmsg.Request{Kind: ipcmsg.ReqRemoveWatch, Wd: wd}
}

// TranslateRemoveWatchResponse implements spec §4.8's inotify_rm_watch
// translation: success -> 0; Error -> -1/EINVAL; anything else -> -1/EIO.
func TranslateRemoveWatchResponse(resp ipcmsg.Response, protoErr error) RemoveWatchResult {
	if protoErr != nil {
		return RemoveWatchResult{Ret: -1, Errno: ErrnoIO}
	}
	switch resp.Kind {
	case ipcmsg.RespWatchRemoved:
		return RemoveWatchResult{Ret: 0, Errno: ErrnoNone}
	case ipcmsg.RespError:
		return RemoveWatchResult{Ret: -1, Errno: ErrnoInval}
	default:
		return RemoveWatchResult{Ret: -1, Errno: ErrnoIO}
	}
}

// SendRequest frames req, writes it to conn, reads back one frame, and
// decodes it as a Response. It is the single round-trip primitive both
// inotify_add_watch and inotify_rm_watch build on.
func SendRequest(conn Conn, req ipcmsg.Request) (ipcmsg.Response, error) {
	payload, err := ipcmsg.EncodeRequest(req)
	if err != nil {
		return ipcmsg.Response{}, fmt.Errorf("interpose: encode request: %w", err)
	}
	if err := framing.Write(conn, payload); err != nil {
		return ipcmsg.Response{}, fmt.Errorf("interpose: write request: %w", err)
	}
	respPayload, err := framing.Read(conn)
	if err != nil {
		return ipcmsg.Response{}, fmt.Errorf("interpose: read response: %w", err)
	}
	resp, err := ipcmsg.DecodeResponse(respPayload)
	if err != nil {
		return ipcmsg.Response{}, fmt.Errorf("interpose: decode response: %w", err)
	}
	return resp, nil
}

// ReadNextEvent reads and decodes a single framed InotifyRecord from conn,
// the shape the application's read(2) on a managed fd ultimately surfaces.
func ReadNextEvent(conn Conn) (eventcodec.Record, error) {
	payload, err := framing.Read(conn)
	if err != nil {
		return eventcodec.Record{}, err
	}
	rec, _, err := eventcodec.Decode(payload)
	if err != nil {
		return eventcodec.Record{}, err
	}
	return rec, nil
}
