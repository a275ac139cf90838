package main

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/zachhandley/fakenotify/internal/interpose"
)

// rawConn is a blocking AF_UNIX stream socket driven directly through
// golang.org/x/sys/unix rather than net.Dial. The application is handed
// this socket's raw integer descriptor and may read(2)/poll(2) it
// directly (spec §4.8: "the socket's integer descriptor"), so the
// descriptor must never be registered with the Go runtime's netpoller —
// using unix.Socket/unix.Connect/unix.Read/unix.Write instead of the net
// package keeps it a plain blocking fd the whole time, matching the Go
// idiom _examples/tjper-teleport/internal/fsnotify/fsnotify.go uses for
// driving unix.InotifyInit1 and friends as raw fds.
type rawConn struct {
	fdNum int
}

func (c *rawConn) Write(p []byte) (int, error) {
	return unix.Write(c.fdNum, p)
}

func (c *rawConn) Read(p []byte) (int, error) {
	return unix.Read(c.fdNum, p)
}

func (c *rawConn) Close() error {
	return unix.Close(c.fdNum)
}

func (c *rawConn) fd() int { return c.fdNum }

// unixDialer connects to path as a blocking AF_UNIX stream socket.
type unixDialer struct {
	path string
}

func (d *unixDialer) Dial(ctx context.Context) (interpose.Conn, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("libfakenotify: socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: d.path}
	if err := unix.Connect(fd, addr); err != nil {
		unix.Close(fd) //nolint:errcheck
		return nil, fmt.Errorf("libfakenotify: connect: %w", err)
	}
	return &rawConn{fdNum: fd}, nil
}
