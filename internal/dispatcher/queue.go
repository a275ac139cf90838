package dispatcher

import (
	"sync/atomic"

	"github.com/zachhandley/fakenotify/internal/eventcodec"
	"github.com/zachhandley/fakenotify/internal/registry"
)

// clientQueue is the bounded outbound frame queue for a single client
// (spec §5, Backpressure): fan-out never blocks on a slow client, instead
// dropping the oldest queued frame and synthesizing an IN_Q_OVERFLOW record
// ahead of the next frame that is successfully queued.
type clientQueue struct {
	client  *registry.Client
	frames  chan []byte
	stop    chan struct{}
	dropped atomic.Bool
}

func newClientQueue(c *registry.Client) *clientQueue {
	return &clientQueue{
		client: c,
		frames: make(chan []byte, clientQueueDepth),
		stop:   make(chan struct{}),
	}
}

// push enqueues frame, dropping the oldest queued frame if the queue is
// full rather than blocking the dispatcher's fan-out loop.
func (q *clientQueue) push(frame []byte) {
	select {
	case q.frames <- frame:
		return
	default:
	}
	select {
	case <-q.frames:
	default:
	}
	q.dropped.Store(true)
	select {
	case q.frames <- frame:
	default:
		// extremely unlikely race with a concurrent consumer drain; the
		// overflow marker survives for the next push either way.
	}
}

func (q *clientQueue) run() {
	for {
		select {
		case <-q.stop:
			return
		case frame, ok := <-q.frames:
			if !ok {
				return
			}
			if q.dropped.CompareAndSwap(true, false) {
				overflow := eventcodec.Encode(-1, eventcodec.InQOverflow, 0, "")
				if envelope, err := framePayload(overflow); err == nil {
					if err := q.client.Send(envelope); err != nil {
						l.Warnf("client %d: failed to send overflow marker: %v", q.client.ID, err)
					}
				}
			}
			if err := q.client.Send(frame); err != nil {
				l.Warnf("client %d: send failed: %v", q.client.ID, err)
			}
		}
	}
}

