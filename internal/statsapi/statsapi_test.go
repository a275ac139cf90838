package statsapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/zachhandley/fakenotify/internal/registry"
)

func mustListen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	return ln
}

func waitForHTTP(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if resp, err := http.Get(url); err == nil {
			resp.Body.Close() //nolint:errcheck
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s never became ready", url)
}

func startTestServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	reg := registry.New()
	s := &Server{Addr: "127.0.0.1:0", Registry: reg}

	// Server.Serve binds a fixed Addr; resolve an ephemeral port ourselves
	// by listening once up front is unnecessary here since :0 combined
	// with net.Listen inside Serve already picks a free port, but we need
	// to know which one. Route around this by binding synchronously.
	ln := mustListen(t)
	s.Addr = ln.Addr().String()
	ln.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		if err := s.Serve(ctx); err != nil {
			t.Errorf("Serve: %v", err)
		}
		close(done)
	}()

	waitForHTTP(t, "http://"+s.Addr+"/status")

	return s.Addr, func() {
		cancel()
		<-done
	}
}

func TestStatusEndpoint(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	resp, err := http.Get("http://" + addr + "/status")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TotalClients != 0 || body.TotalWatches != 0 {
		t.Errorf("expected zero clients/watches on a fresh registry, got %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
