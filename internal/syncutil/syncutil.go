// Package syncutil wraps the standard sync primitives with optional
// hold-time logging, reconstructed from the teacher's lib/sync: in
// production it hands back a bare *sync.Mutex/*sync.RWMutex/*sync.WaitGroup,
// but with the package's debug switch on it returns an instrumented variant
// that logs (and in the RWMutex case, reports pending readers for) any
// critical section held longer than threshold. Those messages go through
// the "sync" facility's debug output, so they appear only while that
// facility's debug flag is also enabled.
package syncutil

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/zachhandley/fakenotify/internal/logging"
)

var l = logging.New("sync", "lock hold-time instrumentation")

// debug selects the instrumented primitives at construction time. It is
// copied into the facility's debug flag once at init and not re-read from
// it afterwards; tests may override it directly, as the teacher's do.
var debug = false

// threshold is the hold duration above which a lock/unlock pair is logged.
var threshold = 100 * time.Millisecond

func init() {
	l.SetDebug(debug)
}

// Mutex is the subset of sync.Mutex this package hands out.
type Mutex interface {
	Lock()
	Unlock()
}

// RWMutex is the subset of sync.RWMutex this package hands out.
type RWMutex interface {
	Mutex
	RLock()
	RUnlock()
}

// WaitGroup is the subset of sync.WaitGroup this package hands out.
type WaitGroup interface {
	Add(delta int)
	Done()
	Wait()
}

// NewMutex returns a plain *sync.Mutex, or a hold-time-logging wrapper when
// debug is set.
func NewMutex() Mutex {
	if debug {
		return &loggedMutex{}
	}
	return &sync.Mutex{}
}

// NewRWMutex returns a plain *sync.RWMutex, or a logging wrapper.
func NewRWMutex() RWMutex {
	if debug {
		return &loggedRWMutex{}
	}
	return &sync.RWMutex{}
}

// NewWaitGroup returns a plain *sync.WaitGroup, or a logging wrapper.
func NewWaitGroup() WaitGroup {
	if debug {
		return &loggedWaitGroup{}
	}
	return &sync.WaitGroup{}
}

func caller() string {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", file, line)
}

type loggedMutex struct {
	sync.Mutex
	lockedAt string
	takenAt  time.Time
}

func (m *loggedMutex) Lock() {
	m.Mutex.Lock()
	m.lockedAt = caller()
	m.takenAt = time.Now()
}

func (m *loggedMutex) Unlock() {
	held := time.Since(m.takenAt)
	m.Mutex.Unlock()
	if held > threshold {
		l.Debugf("Mutex held %v, locked at %s", held, m.lockedAt)
	}
}

type loggedRWMutex struct {
	sync.RWMutex
	mut          sync.Mutex
	rlockedAt    []string
	lockedAt     string
	takenAt      time.Time
}

func (m *loggedRWMutex) Lock() {
	m.mut.Lock()
	pending := append([]string(nil), m.rlockedAt...)
	m.mut.Unlock()

	start := time.Now()
	m.RWMutex.Lock()
	if len(pending) > 0 && time.Since(start) > threshold {
		msg := "RUnlockers while locking:\n"
		for _, c := range pending {
			msg += "at " + c + "\n"
		}
		l.Debugf("%s", msg)
	}
	m.lockedAt = caller()
	m.takenAt = time.Now()
}

func (m *loggedRWMutex) Unlock() {
	held := time.Since(m.takenAt)
	m.RWMutex.Unlock()
	if held > threshold {
		l.Debugf("RWMutex held %v, locked at %s", held, m.lockedAt)
	}
}

func (m *loggedRWMutex) RLock() {
	m.RWMutex.RLock()
	c := caller()
	m.mut.Lock()
	m.rlockedAt = append(m.rlockedAt, c)
	m.mut.Unlock()
}

func (m *loggedRWMutex) RUnlock() {
	m.mut.Lock()
	if len(m.rlockedAt) > 0 {
		m.rlockedAt = m.rlockedAt[:len(m.rlockedAt)-1]
	}
	m.mut.Unlock()
	m.RWMutex.RUnlock()
}

type loggedWaitGroup struct {
	sync.WaitGroup
	start time.Time
	mut   sync.Mutex
}

func (wg *loggedWaitGroup) Add(delta int) {
	wg.mut.Lock()
	if wg.start.IsZero() {
		wg.start = time.Now()
	}
	wg.mut.Unlock()
	wg.WaitGroup.Add(delta)
}

func (wg *loggedWaitGroup) Wait() {
	wg.WaitGroup.Wait()
	wg.mut.Lock()
	start := wg.start
	wg.start = time.Time{}
	wg.mut.Unlock()
	if !start.IsZero() {
		if held := time.Since(start); held > threshold {
			l.Debugf("WaitGroup held %v", held)
		}
	}
}
