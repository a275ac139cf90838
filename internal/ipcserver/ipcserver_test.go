package ipcserver

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zachhandley/fakenotify/internal/dispatcher"
	"github.com/zachhandley/fakenotify/internal/framing"
	"github.com/zachhandley/fakenotify/internal/ipcmsg"
	"github.com/zachhandley/fakenotify/internal/pollwatch"
	"github.com/zachhandley/fakenotify/internal/registry"
)

func startTestServer(t *testing.T) (sockPath string, stop func()) {
	t.Helper()
	return startTestServerWithWatcher(t, nil)
}

func startTestServerWithWatcher(t *testing.T, watcher *pollwatch.Watcher) (sockPath string, stop func()) {
	t.Helper()
	dir := t.TempDir()
	sockPath = filepath.Join(dir, "fakenotify.sock")

	reg := registry.New()
	s := &Server{SocketPath: sockPath, Registry: reg, Dispatcher: dispatcher.New(reg), Watcher: watcher}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		if err := s.Serve(ctx); err != nil {
			t.Errorf("Serve: %v", err)
		}
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(sockPath); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	return sockPath, func() {
		cancel()
		<-done
	}
}

func roundTrip(t *testing.T, conn net.Conn, req ipcmsg.Request) ipcmsg.Response {
	t.Helper()
	payload, err := ipcmsg.EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if err := framing.Write(conn, payload); err != nil {
		t.Fatalf("framing.Write: %v", err)
	}
	respPayload, err := framing.Read(conn)
	if err != nil {
		t.Fatalf("framing.Read: %v", err)
	}
	resp, err := ipcmsg.DecodeResponse(respPayload)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	return resp
}

func TestClientRegisteredOnConnect(t *testing.T) {
	sockPath, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	payload, err := framing.Read(conn)
	if err != nil {
		t.Fatalf("framing.Read: %v", err)
	}
	resp, err := ipcmsg.DecodeResponse(payload)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if resp.Kind != ipcmsg.RespClientRegistered {
		t.Fatalf("Kind = %v, want RespClientRegistered", resp.Kind)
	}
}

func TestPingPong(t *testing.T) {
	sockPath, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	framing.Read(conn) //nolint:errcheck // discard ClientRegistered

	resp := roundTrip(t, conn, ipcmsg.Request{Kind: ipcmsg.ReqPing})
	if resp.Kind != ipcmsg.RespPong {
		t.Errorf("Kind = %v, want RespPong", resp.Kind)
	}
}

func TestAddWatchNonexistentPath(t *testing.T) {
	sockPath, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	framing.Read(conn) //nolint:errcheck

	resp := roundTrip(t, conn, ipcmsg.Request{Kind: ipcmsg.ReqAddWatch, Path: "/definitely/not/a/real/path", Mask: 0x100})
	if resp.Kind != ipcmsg.RespError {
		t.Errorf("Kind = %v, want RespError", resp.Kind)
	}
}

func TestAddWatchExistingPath(t *testing.T) {
	sockPath, stop := startTestServer(t)
	defer stop()

	dir := t.TempDir()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	framing.Read(conn) //nolint:errcheck

	resp := roundTrip(t, conn, ipcmsg.Request{Kind: ipcmsg.ReqAddWatch, Path: dir, Mask: 0x100, Recursive: true})
	if resp.Kind != ipcmsg.RespWatchAdded {
		t.Fatalf("Kind = %v, want RespWatchAdded", resp.Kind)
	}

	rmResp := roundTrip(t, conn, ipcmsg.Request{Kind: ipcmsg.ReqRemoveWatch, Wd: resp.Wd})
	if rmResp.Kind != ipcmsg.RespWatchRemoved {
		t.Errorf("Kind = %v, want RespWatchRemoved", rmResp.Kind)
	}
}

func TestRemoveUnknownWatch(t *testing.T) {
	sockPath, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	framing.Read(conn) //nolint:errcheck

	resp := roundTrip(t, conn, ipcmsg.Request{Kind: ipcmsg.ReqRemoveWatch, Wd: 9999})
	if resp.Kind != ipcmsg.RespError {
		t.Errorf("Kind = %v, want RespError", resp.Kind)
	}
}

func TestListWatches(t *testing.T) {
	sockPath, stop := startTestServer(t)
	defer stop()

	dir := t.TempDir()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	framing.Read(conn) //nolint:errcheck

	empty := roundTrip(t, conn, ipcmsg.Request{Kind: ipcmsg.ReqListWatches})
	if empty.Kind != ipcmsg.RespWatchList {
		t.Fatalf("Kind = %v, want RespWatchList", empty.Kind)
	}
	if len(empty.Watches) != 0 {
		t.Fatalf("expected no watches yet, got %+v", empty.Watches)
	}

	added := roundTrip(t, conn, ipcmsg.Request{Kind: ipcmsg.ReqAddWatch, Path: dir, Mask: 0x100, Recursive: true})
	if added.Kind != ipcmsg.RespWatchAdded {
		t.Fatalf("Kind = %v, want RespWatchAdded", added.Kind)
	}

	list := roundTrip(t, conn, ipcmsg.Request{Kind: ipcmsg.ReqListWatches})
	if list.Kind != ipcmsg.RespWatchList {
		t.Fatalf("Kind = %v, want RespWatchList", list.Kind)
	}
	if len(list.Watches) != 1 {
		t.Fatalf("expected one watch, got %+v", list.Watches)
	}
	got := list.Watches[0]
	if got.Wd != added.Wd || got.Path != dir || got.Mask != 0x100 || !got.Recursive {
		t.Errorf("watch info = %+v, want Wd=%d Path=%s Mask=0x100 Recursive=true", got, added.Wd, dir)
	}
}

func TestAddWatchStartsPolling(t *testing.T) {
	watcher := pollwatch.New(8)
	sockPath, stop := startTestServerWithWatcher(t, watcher)
	defer stop()

	dir := t.TempDir()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	framing.Read(conn) //nolint:errcheck

	resp := roundTrip(t, conn, ipcmsg.Request{
		Kind: ipcmsg.ReqAddWatch, Path: dir, Mask: 0x100, Recursive: true, PollIntervalSecs: 1,
	})
	if resp.Kind != ipcmsg.RespWatchAdded {
		t.Fatalf("Kind = %v, want RespWatchAdded", resp.Kind)
	}

	newFile := filepath.Join(dir, "new-file")
	if err := os.WriteFile(newFile, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// The same poll tick also reports the directory's own mtime change, in
	// no fixed order, so skip events that do not name the new file.
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-watcher.Events():
			if ev.Path != newFile {
				continue
			}
			if ev.Kind != pollwatch.KindCreate {
				t.Errorf("Kind = %v, want KindCreate", ev.Kind)
			}
			return
		case <-timeout:
			t.Fatal("timed out waiting for poll event after AddWatch")
		}
	}
}

func TestShutdownUnlinksSocket(t *testing.T) {
	sockPath, stop := startTestServer(t)
	stop()

	if _, err := os.Stat(sockPath); !os.IsNotExist(err) {
		t.Errorf("expected socket file to be removed after shutdown, stat err = %v", err)
	}
}
