package dispatcher

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/zachhandley/fakenotify/internal/eventcodec"
	"github.com/zachhandley/fakenotify/internal/framing"
	"github.com/zachhandley/fakenotify/internal/pollwatch"
	"github.com/zachhandley/fakenotify/internal/registry"
)

type capturingWriter struct {
	mu     sync.Mutex
	frames [][]byte
	block  chan struct{} // if non-nil, Send blocks until this is closed
}

func (w *capturingWriter) Send(frame []byte) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	w.frames = append(w.frames, frame)
	w.mu.Unlock()
	return nil
}

func (w *capturingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

// waitFor polls until at least n frames have been delivered by the
// client's queue goroutine or two seconds pass, and returns the count.
func (w *capturingWriter) waitFor(n int) int {
	deadline := time.Now().Add(2 * time.Second)
	for w.count() < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return w.count()
}

func decodeFrame(t *testing.T, frame []byte) eventcodec.Record {
	t.Helper()
	payload, err := framing.Read(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("framing.Read: %v", err)
	}
	rec, _, err := eventcodec.Decode(payload)
	if err != nil {
		t.Fatalf("eventcodec.Decode: %v", err)
	}
	return rec
}

func TestRecursiveAttributionEmitsRelativeName(t *testing.T) {
	reg := registry.New()
	w := &capturingWriter{}
	c := reg.RegisterClient(w)
	if _, err := reg.AddWatch(c.ID, "/a", eventcodec.InAllEvents, true); err != nil {
		t.Fatalf("AddWatch: %v", err)
	}

	d := New(reg)
	d.handle(pollwatch.RawEvent{Path: "/a/b/c", Kind: pollwatch.KindCreate, IsDir: false})

	if got := w.waitFor(1); got != 1 {
		t.Fatalf("expected 1 frame, got %d", got)
	}
	rec := decodeFrame(t, w.frames[0])
	if rec.Name != "b/c" {
		t.Errorf("Name = %q, want \"b/c\"", rec.Name)
	}
	if rec.Mask&eventcodec.InCreate == 0 {
		t.Errorf("expected IN_CREATE bit set, mask=%#x", rec.Mask)
	}
}

func TestIsDirBit(t *testing.T) {
	reg := registry.New()
	w := &capturingWriter{}
	c := reg.RegisterClient(w)
	reg.AddWatch(c.ID, "/a", eventcodec.InAllEvents, true) //nolint:errcheck

	d := New(reg)
	d.handle(pollwatch.RawEvent{Path: "/a/dir", Kind: pollwatch.KindCreate, IsDir: true})

	if got := w.waitFor(1); got != 1 {
		t.Fatalf("expected 1 frame, got %d", got)
	}
	rec := decodeFrame(t, w.frames[0])
	if rec.Mask&eventcodec.InIsdir == 0 {
		t.Error("expected IN_ISDIR bit to be set for a directory event")
	}
}

func TestRenamePairingSharesCookie(t *testing.T) {
	reg := registry.New()
	w := &capturingWriter{}
	c := reg.RegisterClient(w)
	reg.AddWatch(c.ID, "/w", eventcodec.InAllEvents, true) //nolint:errcheck

	d := New(reg)
	d.handle(pollwatch.RawEvent{Path: "/w/old.txt", Kind: pollwatch.KindRenameFrom, IsDir: false})
	d.handle(pollwatch.RawEvent{Path: "/w/new.txt", Kind: pollwatch.KindRenameTo, IsDir: false})

	if got := w.waitFor(2); got != 2 {
		t.Fatalf("expected 2 frames, got %d", got)
	}
	from := decodeFrame(t, w.frames[0])
	to := decodeFrame(t, w.frames[1])

	if from.Cookie == 0 || from.Cookie != to.Cookie {
		t.Errorf("cookie mismatch: from=%d to=%d", from.Cookie, to.Cookie)
	}
	if from.Name != "old.txt" || to.Name != "new.txt" {
		t.Errorf("names = %q, %q", from.Name, to.Name)
	}
	if from.Mask&eventcodec.InMovedFrom == 0 || to.Mask&eventcodec.InMovedTo == 0 {
		t.Error("expected IN_MOVED_FROM / IN_MOVED_TO masks")
	}
}

func TestDropUnattributedEvent(t *testing.T) {
	reg := registry.New()
	d := New(reg)
	// No watch registered at all; handle must not panic and must emit nothing.
	d.handle(pollwatch.RawEvent{Path: "/unwatched", Kind: pollwatch.KindCreate})
}

func TestBackpressureOverflowMarker(t *testing.T) {
	reg := registry.New()
	block := make(chan struct{})
	w := &capturingWriter{block: block}
	c := reg.RegisterClient(w)
	reg.AddWatch(c.ID, "/a", eventcodec.InAllEvents, true) //nolint:errcheck

	d := New(reg)
	// Enqueue far more than clientQueueDepth while the client's Send is
	// blocked, forcing drop-oldest behaviour.
	for i := 0; i < clientQueueDepth*2; i++ {
		d.handle(pollwatch.RawEvent{Path: "/a/f", Kind: pollwatch.KindModifyData})
	}
	close(block) // unblock the stalled consumer

	deadline := time.Now().Add(2 * time.Second)
	for w.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.frames) == 0 {
		t.Fatal("expected at least one frame to be delivered")
	}
	first := decodeFrame(t, w.frames[0])
	if first.Mask&eventcodec.InQOverflow == 0 || first.Wd != -1 {
		t.Errorf("expected first delivered frame to be the overflow marker, got %+v", first)
	}
}
