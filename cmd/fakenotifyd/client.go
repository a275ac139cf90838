package main

import (
	"fmt"
	"net"

	"github.com/zachhandley/fakenotify/internal/framing"
	"github.com/zachhandley/fakenotify/internal/ipcmsg"
)

// isDaemonRunning reports whether a daemon is listening at socket.
// Grounded on original_source/crates/daemon/src/server.rs's
// is_daemon_running (attempt a connect; success means a daemon is up).
func isDaemonRunning(socket string) bool {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return false
	}
	conn.Close() //nolint:errcheck
	return true
}

// sendDaemonRequest connects to socket, discards the unsolicited
// ClientRegistered response, sends req, and returns the daemon's
// response. Grounded on server.rs's send_daemon_request: every non-start
// subcommand is a single round trip over the same client protocol the
// daemon already serves.
func sendDaemonRequest(socket string, req ipcmsg.Request) (ipcmsg.Response, error) {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return ipcmsg.Response{}, fmt.Errorf("connect to %s: %w", socket, err)
	}
	defer conn.Close() //nolint:errcheck

	if _, err := framing.Read(conn); err != nil {
		return ipcmsg.Response{}, fmt.Errorf("read ClientRegistered: %w", err)
	}

	payload, err := ipcmsg.EncodeRequest(req)
	if err != nil {
		return ipcmsg.Response{}, fmt.Errorf("encode request: %w", err)
	}
	if err := framing.Write(conn, payload); err != nil {
		return ipcmsg.Response{}, fmt.Errorf("write request: %w", err)
	}

	respPayload, err := framing.Read(conn)
	if err != nil {
		return ipcmsg.Response{}, fmt.Errorf("read response: %w", err)
	}
	resp, err := ipcmsg.DecodeResponse(respPayload)
	if err != nil {
		return ipcmsg.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
