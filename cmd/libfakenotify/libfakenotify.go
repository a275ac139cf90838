// Command libfakenotify is built as a shared object (via `go build
// -buildmode=c-shared`) and LD_PRELOADed ahead of libc so that a target
// process's calls to inotify_init(1)/inotify_add_watch/inotify_rm_watch
// transparently talk to the fakenotifyd daemon instead of the kernel
// (spec.md §4.8). It is a thin cgo shell: every real decision — the
// managed-fd set, the connect-with-backoff policy, request construction,
// and response-to-errno translation — lives in the pure Go
// internal/interpose package so it can be unit tested without cgo.
//
// Grounded on spec.md §4.8/§4.9 for the entry-point contracts, and on
// _examples/tjper-teleport/internal/fsnotify/fsnotify.go for the Go idiom
// of driving golang.org/x/sys/unix's Inotify* calls and turning a raw fd
// into something the rest of the program can use.
package main

/*
#include <errno.h>
#include <dlfcn.h>
#include <stdint.h>

// Real libc entry points, resolved once via dlsym(RTLD_NEXT, ...) the
// first time any interposed symbol is called. Declared here so cgo can
// give the Go side typed function pointers without redeclaring dlsym's
// variadic signature in Go.
static void *resolve_real(const char *name) {
	return dlsym(RTLD_NEXT, name);
}

typedef int (*inotify_init_fn)(void);
typedef int (*inotify_init1_fn)(int);
typedef int (*inotify_add_watch_fn)(int, const char *, uint32_t);
typedef int (*inotify_rm_watch_fn)(int, int);
typedef int (*close_fn)(int);

static int call_real_inotify_init(void *f) {
	return ((inotify_init_fn)f)();
}
static int call_real_inotify_init1(void *f, int flags) {
	return ((inotify_init1_fn)f)(flags);
}
static int call_real_inotify_add_watch(void *f, int fd, const char *path, uint32_t mask) {
	return ((inotify_add_watch_fn)f)(fd, path, mask);
}
static int call_real_inotify_rm_watch(void *f, int fd, int wd) {
	return ((inotify_rm_watch_fn)f)(fd, wd);
}
static int call_real_close(void *f, int fd) {
	return ((close_fn)f)(fd);
}
*/
import "C"

import (
	"context"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zachhandley/fakenotify/internal/interpose"
	"github.com/zachhandley/fakenotify/internal/logging"
	"github.com/zachhandley/fakenotify/internal/sockpath"
)

var l = logging.New("libfakenotify", "LD_PRELOAD symbol interposition shim")

// realSymbols are the process-global, write-once slots for the genuine
// libc entry points (spec §4.8: "process-global write-once symbol
// slots"). resolveOnce guards their single initialisation.
var (
	resolveOnce sync.Once

	realInotifyInit     unsafe.Pointer
	realInotifyInit1    unsafe.Pointer
	realInotifyAddWatch unsafe.Pointer
	realInotifyRmWatch  unsafe.Pointer
	realClose           unsafe.Pointer
)

func resolveSymbols() {
	resolveOnce.Do(func() {
		realInotifyInit = C.resolve_real(C.CString("inotify_init"))
		realInotifyInit1 = C.resolve_real(C.CString("inotify_init1"))
		realInotifyAddWatch = C.resolve_real(C.CString("inotify_add_watch"))
		realInotifyRmWatch = C.resolve_real(C.CString("inotify_rm_watch"))
		realClose = C.resolve_real(C.CString("close"))
	})
}

// managed is the process-wide set of fds the shim owns — sockets
// connected to fakenotifyd that the application believes are inotify
// fds (spec §4.8, §5 "Interposition-library concurrency").
var managed = interpose.NewManagedSet()

func dial(ctx context.Context) (interpose.Conn, error) {
	path, err := sockpath.Resolve()
	if err != nil {
		return nil, err
	}
	conn, err := (&unixDialer{path: path}).Dial(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// recoverToErrno converts a panic at the FFI boundary into an EIO return
// (spec §5 "Panic-safety at the FFI boundary": every exported entry point
// must never unwind into the caller's C stack).
func recoverToErrno(ret *C.int) {
	if r := recover(); r != nil {
		l.Warnf("recovered panic at FFI boundary: %v", r)
		*ret = -1
		C.errno = C.int(unix.EIO)
	}
}

//export inotify_init
func inotify_init() (ret C.int) {
	defer recoverToErrno(&ret)
	resolveSymbols()
	return openManaged(0)
}

//export inotify_init1
func inotify_init1(flags C.int) (ret C.int) {
	defer recoverToErrno(&ret)
	resolveSymbols()
	return openManaged(int(flags))
}

func openManaged(flags int) C.int {
	conn, err := interpose.Connect(context.Background(), dial)
	if err != nil {
		l.Debugf("daemon unreachable, falling back to kernel inotify: %v", err)
		return C.call_real_inotify_init1(realInotifyInit1, C.int(flags))
	}
	rc, ok := conn.(*rawConn)
	if !ok {
		C.errno = C.int(unix.EIO)
		return -1
	}
	fd := rc.fd()
	if flags&unix.IN_NONBLOCK != 0 {
		unix.SetNonblock(fd, true) //nolint:errcheck
	}
	if flags&unix.IN_CLOEXEC != 0 {
		unix.CloseOnExec(fd)
	}
	managed.Add(fd, conn)
	return C.int(fd)
}

//export inotify_add_watch
func inotify_add_watch(fd C.int, pathC *C.char, mask C.uint32_t) (ret C.int) {
	defer recoverToErrno(&ret)
	resolveSymbols()

	conn, ok := managed.Lookup(int(fd))
	if !ok {
		return C.call_real_inotify_add_watch(realInotifyAddWatch, fd, pathC, mask)
	}

	path := C.GoString(pathC)
	req := interpose.BuildAddWatchRequest(path, uint32(mask))
	resp, err := interpose.SendRequest(conn, req)
	result := interpose.TranslateAddWatchResponse(resp, err)
	if result.Errno != interpose.ErrnoNone {
		C.errno = errnoToC(result.Errno)
		return -1
	}
	return C.int(result.Wd)
}

//export inotify_rm_watch
func inotify_rm_watch(fd, wd C.int) (ret C.int) {
	defer recoverToErrno(&ret)
	resolveSymbols()

	conn, ok := managed.Lookup(int(fd))
	if !ok {
		return C.call_real_inotify_rm_watch(realInotifyRmWatch, fd, wd)
	}

	req := interpose.BuildRemoveWatchRequest(int32(wd))
	resp, err := interpose.SendRequest(conn, req)
	result := interpose.TranslateRemoveWatchResponse(resp, err)
	if result.Errno != interpose.ErrnoNone {
		C.errno = errnoToC(result.Errno)
		return -1
	}
	return C.int(result.Ret)
}

//export close
func close(fd C.int) (ret C.int) {
	defer recoverToErrno(&ret)
	resolveSymbols()

	if _, ok := managed.Lookup(int(fd)); ok {
		managed.Remove(int(fd))
	}
	return C.call_real_close(realClose, fd)
}

func errnoToC(e interpose.Errno) C.int {
	switch e {
	case interpose.ErrnoInval:
		return C.int(unix.EINVAL)
	default:
		return C.int(unix.EIO)
	}
}

func main() {
	fmt.Fprintln(os.Stderr, "libfakenotify: built as a shared library, not an executable")
	os.Exit(1)
}
