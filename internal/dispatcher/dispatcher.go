// Package dispatcher is the single consumer of pollwatch.RawEvents (spec
// §4.6): it attributes each event to a watch, classifies it into an
// EventMask, pairs rename cookies, relativizes names, and fans a framed
// InotifyRecord out to every subscriber with per-client backpressure. It
// is grounded on the original EventDispatcher
// (original_source/crates/daemon/src/watcher.rs) translated into Go, using
// the teacher's fan-out-with-independent-per-client-failure idiom from
// lib/api/api.go's pub/sub broadcaster.
package dispatcher

import (
	"sync/atomic"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/zachhandley/fakenotify/internal/eventcodec"
	"github.com/zachhandley/fakenotify/internal/framing"
	"github.com/zachhandley/fakenotify/internal/logging"
	"github.com/zachhandley/fakenotify/internal/pollwatch"
	"github.com/zachhandley/fakenotify/internal/registry"
)

var l = logging.New("dispatcher", "event classification and fan-out")

// pendingRenameCapacity bounds the rename-pending map per spec §9's
// "implementations SHOULD bound its size" note; FIFO eviction via LRU.
const pendingRenameCapacity = 4096

// clientQueueDepth is the bound on a single client's outbound frame queue;
// beyond this, the oldest queued frame is dropped and an IN_Q_OVERFLOW
// record is synthesized ahead of the next successfully queued frame
// (spec §5, Backpressure).
const clientQueueDepth = 1024

// Dispatcher classifies raw filesystem events against the registry and
// fans the resulting InotifyRecord frames out to subscribers.
type Dispatcher struct {
	reg *registry.Registry

	cookieCounter atomic.Uint32
	pending       *lru.Cache[string, uint32] // internally synchronized

	queues *xsync.MapOf[registry.ClientID, *clientQueue]

	sanitizer transform.Transformer
}

// New constructs a Dispatcher bound to reg. The cookie counter starts at 1
// (spec §3, RenameCookie).
func New(reg *registry.Registry) *Dispatcher {
	pending, err := lru.New[string, uint32](pendingRenameCapacity)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// pendingRenameCapacity never is.
		panic(err)
	}
	d := &Dispatcher{
		reg:     reg,
		pending: pending,
		queues:  xsync.NewMapOf[registry.ClientID, *clientQueue](),
		sanitizer: runes.Remove(runes.Predicate(func(r rune) bool {
			return r < 0x20 || (r >= 0x7f && r < 0xa0) // C0/C1 control characters
		})),
	}
	return d
}

func sanitizeName(t transform.Transformer, name string) string {
	if name == "" || utf8.ValidString(name) == false {
		return name
	}
	out, _, err := transform.String(norm.NFC, name)
	if err != nil {
		return name
	}
	clean, _, err := transform.String(t, out)
	if err != nil {
		return out
	}
	return clean
}

// Run consumes raw events from src until it is closed, or until stop is
// closed, whichever happens first. It never returns an error; per-event
// failures are logged and do not halt the loop (spec §5, Cancellation and
// shutdown: "the dispatcher drains outstanding raw events best-effort and
// then exits").
func (d *Dispatcher) Run(src <-chan pollwatch.RawEvent, stop <-chan struct{}) {
	l.Infoln("dispatcher started")
	for {
		select {
		case <-stop:
			for {
				select {
				case ev, ok := <-src:
					if !ok {
						l.Infoln("dispatcher stopped: source closed")
						return
					}
					d.handle(ev)
				default:
					l.Infoln("dispatcher stopping")
					return
				}
			}
		case ev, ok := <-src:
			if !ok {
				l.Infoln("dispatcher stopped: source closed")
				return
			}
			d.handle(ev)
		}
	}
}

func (d *Dispatcher) handle(ev pollwatch.RawEvent) {
	watch, ok := d.reg.FindWatchForPath(ev.Path)
	if !ok {
		return // unattributed, drop per spec §4.6 step 1
	}

	mask, ok := classify(ev.Kind)
	if !ok {
		return // unknown kind, drop
	}

	if watch.Mask&mask == 0 {
		return // no subscriber asked for this event kind
	}

	cookie := d.cookieFor(ev.Path, mask)

	name := registry.RelativeName(watch.Path, ev.Path)
	if name != "" {
		name = sanitizeName(d.sanitizer, name)
	}

	if ev.IsDir {
		mask |= eventcodec.InIsdir
	}

	frame := eventcodec.Encode(int32(watch.Wd), mask, cookie, name)
	envelope, err := framePayload(frame)
	if err != nil {
		l.Warnf("failed to frame event for watch %d: %v", watch.Wd, err)
		return
	}

	for _, c := range d.reg.ClientsForWatch(watch.Wd) {
		d.enqueue(c, envelope)
	}
}

func framePayload(payload []byte) ([]byte, error) {
	var buf sizeWriter
	if err := framing.Write(&buf, payload); err != nil {
		return nil, err
	}
	return buf.bytes, nil
}

// sizeWriter is an io.Writer that just accumulates bytes, used to build a
// framed envelope in memory before handing it to a client's queue.
type sizeWriter struct{ bytes []byte }

func (s *sizeWriter) Write(p []byte) (int, error) {
	s.bytes = append(s.bytes, p...)
	return len(p), nil
}

// classify maps a raw poll-watch kind to the EventMask table in spec §4.6.
func classify(k pollwatch.Kind) (eventcodec.EventMask, bool) {
	switch k {
	case pollwatch.KindCreate:
		return eventcodec.InCreate, true
	case pollwatch.KindModifyData:
		return eventcodec.InModify, true
	case pollwatch.KindModifyMetadata:
		return eventcodec.InAttrib, true
	case pollwatch.KindRenameFrom:
		return eventcodec.InMovedFrom, true
	case pollwatch.KindRenameTo:
		return eventcodec.InMovedTo, true
	case pollwatch.KindRenameBoth:
		return eventcodec.InMovedFrom | eventcodec.InMovedTo, true
	case pollwatch.KindRenameOther:
		return eventcodec.InMove, true
	case pollwatch.KindRemove:
		return eventcodec.InDelete, true
	case pollwatch.KindAccess:
		return eventcodec.InAccess, true
	case pollwatch.KindAny:
		return eventcodec.InAllEvents, true
	default:
		return 0, false
	}
}

// cookieFor implements spec §4.6 step 4's rename-pair correlation.
func (d *Dispatcher) cookieFor(path string, mask eventcodec.EventMask) uint32 {
	switch {
	case mask&eventcodec.InMovedFrom != 0:
		cookie := d.nextCookie()
		d.pending.Add(path, cookie)
		return cookie
	case mask&eventcodec.InMovedTo != 0:
		if cookie, ok := d.pending.Get(path); ok {
			d.pending.Remove(path)
			return cookie
		}
		return d.nextCookie()
	default:
		return 0
	}
}

// nextCookie allocates the next rename cookie from the global, process-wide
// monotonic counter (spec §3, RenameCookie), starting at 1.
func (d *Dispatcher) nextCookie() uint32 {
	return d.cookieCounter.Add(1)
}

// RemoveClient tears down the per-client outbound queue, if any, releasing
// its goroutine. Called by the socket server on disconnect.
func (d *Dispatcher) RemoveClient(id registry.ClientID) {
	if q, ok := d.queues.LoadAndDelete(id); ok {
		close(q.stop)
	}
}

func (d *Dispatcher) enqueue(c *registry.Client, frame []byte) {
	q, _ := d.queues.LoadOrCompute(c.ID, func() *clientQueue {
		cq := newClientQueue(c)
		go cq.run()
		return cq
	})
	q.push(frame)
}
