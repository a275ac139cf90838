package sockpath

import "testing"

func TestResolvePrefersExplicitSocket(t *testing.T) {
	t.Setenv("FAKENOTIFY_SOCKET", "/tmp/explicit.sock")
	t.Setenv("XDG_RUNTIME_DIR", "/tmp/xdg")
	got, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "/tmp/explicit.sock" {
		t.Errorf("got %q, want /tmp/explicit.sock", got)
	}
}

func TestResolveFallsBackToXDGRuntimeDir(t *testing.T) {
	t.Setenv("FAKENOTIFY_SOCKET", "")
	t.Setenv("XDG_RUNTIME_DIR", "/tmp/xdg")
	got, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "/tmp/xdg/fakenotify.sock" {
		t.Errorf("got %q, want /tmp/xdg/fakenotify.sock", got)
	}
}

func TestResolveFallsBackToDefaultPath(t *testing.T) {
	t.Setenv("FAKENOTIFY_SOCKET", "")
	t.Setenv("XDG_RUNTIME_DIR", "")
	got, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != DefaultPath {
		t.Errorf("got %q, want %q", got, DefaultPath)
	}
}
