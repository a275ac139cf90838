// Package ipcserver binds the daemon's Unix-domain socket, accepts client
// connections, and runs each client's request/response loop (spec §4.7).
// It is grounded on the original Server/handle_client
// (original_source/crates/daemon/src/server.rs) and structured as a
// suture.Service the way the teacher supervises its own long-running
// components (lib/api/api.go's `type service struct { suture.Service }`).
package ipcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/zachhandley/fakenotify/internal/dispatcher"
	"github.com/zachhandley/fakenotify/internal/eventcodec"
	"github.com/zachhandley/fakenotify/internal/framing"
	"github.com/zachhandley/fakenotify/internal/ipcmsg"
	"github.com/zachhandley/fakenotify/internal/logging"
	"github.com/zachhandley/fakenotify/internal/pollwatch"
	"github.com/zachhandley/fakenotify/internal/registry"
)

var l = logging.New("ipcserver", "unix-domain socket server")

// socketMode is applied after bind so unprivileged clients can connect
// (spec §4.7).
const socketMode = 0o666

// defaultPollInterval is used for an AddWatch request that doesn't supply
// PollIntervalSecs, matching the original CLI's own `--poll-interval`
// default of 5 seconds (original_source/crates/daemon/src/cli.rs).
const defaultPollInterval = 5 * time.Second

// Server binds SocketPath, accepts client connections, and serves the
// request/response protocol (spec §4.4) until its context is cancelled.
type Server struct {
	SocketPath string
	Registry   *registry.Registry
	Dispatcher *dispatcher.Dispatcher
	Watcher    *pollwatch.Watcher

	listener net.Listener
}

// Serve implements suture.Service: bind, accept in a loop, and shut down
// cleanly when ctx is cancelled (spec §4.7, §5 Cancellation and shutdown).
func (s *Server) Serve(ctx context.Context) error {
	if err := s.bind(); err != nil {
		return fmt.Errorf("ipcserver: bind: %w", err)
	}
	defer s.cleanup()

	l.Infof("listening on %s", s.SocketPath)

	connCh := make(chan net.Conn)
	acceptErrCh := make(chan error, 1)
	go func() {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				acceptErrCh <- err
				return
			}
			connCh <- conn
		}
	}()

	for {
		select {
		case <-ctx.Done():
			l.Infoln("shutting down: unlinking socket and stopping accept loop")
			return nil
		case err := <-acceptErrCh:
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("ipcserver: accept: %w", err)
		case conn := <-connCh:
			go s.handleClient(ctx, conn)
		}
	}
}

func (s *Server) bind() error {
	if _, err := os.Stat(s.SocketPath); err == nil {
		if err := os.Remove(s.SocketPath); err != nil {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	}
	if dir := filepath.Dir(s.SocketPath); dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create socket directory: %w", err)
			}
		}
	}

	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.SocketPath, socketMode); err != nil {
		ln.Close() //nolint:errcheck
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = ln
	return nil
}

func (s *Server) cleanup() {
	if s.listener != nil {
		s.listener.Close() //nolint:errcheck
	}
	os.Remove(s.SocketPath) //nolint:errcheck
}

func (s *Server) handleClient(ctx context.Context, conn net.Conn) {
	defer conn.Close() //nolint:errcheck

	peerPID := peerPID(conn)
	client := s.Registry.RegisterClient(connWriter{conn})
	defer func() {
		s.Registry.UnregisterClient(client.ID)
		s.Dispatcher.RemoveClient(client.ID)
	}()
	client.PeerPID = peerPID

	registered, err := ipcmsg.EncodeResponse(ipcmsg.Response{Kind: ipcmsg.RespClientRegistered, ClientID: uint64(client.ID)})
	if err != nil {
		l.Warnf("client %d: failed to encode ClientRegistered: %v", client.ID, err)
		return
	}
	if err := framing.Write(conn, registered); err != nil {
		l.Warnf("client %d: failed to send ClientRegistered: %v", client.ID, err)
		return
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close() //nolint:errcheck
		close(done)
	}()

	for {
		payload, err := framing.Read(conn)
		if err != nil {
			if !errors.Is(err, framing.ErrOversizedFrame) {
				l.Debugf("client %d: read ended: %v", client.ID, err)
			} else {
				l.Warnf("client %d: oversized frame, closing connection", client.ID)
			}
			return
		}

		req, err := ipcmsg.DecodeRequest(payload)
		if err != nil {
			l.Warnf("client %d: malformed request: %v", client.ID, err)
			resp := ipcmsg.NewError("malformed request: %v", err)
			if sendErr := s.respond(conn, resp); sendErr != nil {
				return
			}
			continue
		}

		resp := s.handleRequest(client.ID, req)
		if err := s.respond(conn, resp); err != nil {
			l.Warnf("client %d: failed to send response: %v", client.ID, err)
			return
		}
	}
}

func (s *Server) respond(conn net.Conn, resp ipcmsg.Response) error {
	payload, err := ipcmsg.EncodeResponse(resp)
	if err != nil {
		return err
	}
	return framing.Write(conn, payload)
}

func (s *Server) handleRequest(clientID registry.ClientID, req ipcmsg.Request) ipcmsg.Response {
	switch req.Kind {
	case ipcmsg.ReqRegisterClient:
		return ipcmsg.Response{Kind: ipcmsg.RespClientRegistered, ClientID: uint64(clientID)}

	case ipcmsg.ReqAddWatch:
		if _, err := os.Stat(req.Path); err != nil {
			return ipcmsg.NewError("path does not exist: %s", req.Path)
		}
		path := filepath.Clean(req.Path)
		existed := s.hasWatchForExactPath(path)

		wd, err := s.Registry.AddWatch(clientID, path, eventcodec.EventMask(req.Mask), req.Recursive)
		if err != nil {
			return ipcmsg.NewError("%v", err)
		}

		if !existed && s.Watcher != nil {
			interval := defaultPollInterval
			if req.PollIntervalSecs > 0 {
				interval = time.Duration(req.PollIntervalSecs) * time.Second
			}
			if err := s.Watcher.Add(path, interval, req.Recursive); err != nil {
				l.Warnf("failed to start polling %s: %v", path, err)
			}
		}
		return ipcmsg.Response{Kind: ipcmsg.RespWatchAdded, Wd: int32(wd)}

	case ipcmsg.ReqRemoveWatch:
		wd := registry.WatchDescriptor(req.Wd)
		path := s.watchPath(wd)
		if !s.Registry.RemoveWatch(clientID, wd) {
			return ipcmsg.NewError("watch descriptor %d not found", req.Wd)
		}
		if path != "" && s.Watcher != nil && !s.hasWatchForExactPath(path) {
			s.Watcher.Remove(path)
		}
		return ipcmsg.Response{Kind: ipcmsg.RespWatchRemoved}

	case ipcmsg.ReqPing:
		return ipcmsg.Response{Kind: ipcmsg.RespPong}

	case ipcmsg.ReqListWatches:
		watches := s.Registry.AllWatches()
		infos := make([]ipcmsg.WatchInfo, 0, len(watches))
		for _, w := range watches {
			infos = append(infos, ipcmsg.WatchInfo{
				Wd:        int32(w.Wd),
				Path:      w.Path,
				Mask:      uint32(w.Mask),
				Recursive: w.Recursive,
			})
		}
		return ipcmsg.Response{Kind: ipcmsg.RespWatchList, Watches: infos}

	default:
		return ipcmsg.NewError("unknown request kind %d", req.Kind)
	}
}

// hasWatchForExactPath reports whether a watch exists for path itself
// (as opposed to an ancestor recursive watch covering it), used to decide
// whether the poll engine needs a new entry started or torn down.
func (s *Server) hasWatchForExactPath(path string) bool {
	for _, w := range s.Registry.AllWatches() {
		if w.Path == path {
			return true
		}
	}
	return false
}

// watchPath returns the path a watch descriptor names, or "" if unknown.
func (s *Server) watchPath(wd registry.WatchDescriptor) string {
	for _, w := range s.Registry.AllWatches() {
		if w.Wd == wd {
			return w.Path
		}
	}
	return ""
}

// connWriter adapts a net.Conn to registry.Writer.
type connWriter struct{ conn net.Conn }

func (w connWriter) Send(frame []byte) error {
	_, err := w.conn.Write(frame)
	return err
}

// peerPID reads SO_PEERCRED off a Unix socket connection for logging and
// `status` visibility only (SPEC_FULL.md §C); never used for
// authorization.
func peerPID(conn net.Conn) int32 {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return 0
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0
	}
	var pid int32
	_ = raw.Control(func(fd uintptr) {
		cred, err := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		if err == nil {
			pid = cred.Pid
		}
	})
	return pid
}
