package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-backend/internal/transport"
)

var (
	ErrNoSession     = errors.New("no such session")
	ErrSessionClosed = errors.New("session has finished")
	ErrSessionBusy   = errors.New("session is not keeping up with new connections")
)

// inboxSize bounds the connections waiting to be picked up by one session.
const inboxSize = 8

// SessionFunc runs one session until it is over. Connections routed to the
// session arrive on incoming; ctx is cancelled when the hub shuts down.
type SessionFunc func(ctx context.Context, slot int, incoming <-chan transport.Conn)

type session struct {
	name    string
	inbox   chan transport.Conn
	done    chan struct{}
	started time.Time
}

func (s *session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Info describes a slot for listings.
type Info struct {
	Slot    int       `json:"slot"`
	Name    string    `json:"name"`
	Running bool      `json:"running"`
	Started time.Time `json:"started"`
}

// Hub maps slot numbers to running sessions. Sessions get a goroutine each
// and only ever meet the network through their inbox.
type Hub struct {
	mu     sync.Mutex
	slots  []*session
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	return &Hub{ctx: ctx, cancel: cancel, log: log}
}

// Create starts fn in the first slot whose session has finished, or a new
// slot, and returns the slot number.
func (h *Hub) Create(name string, fn SessionFunc) int {
	s := &session{
		name:    name,
		inbox:   make(chan transport.Conn, inboxSize),
		done:    make(chan struct{}),
		started: time.Now(),
	}

	h.mu.Lock()
	slot := len(h.slots)
	for i, old := range h.slots {
		if old.finished() {
			slot = i
			break
		}
	}
	if slot == len(h.slots) {
		h.slots = append(h.slots, s)
	} else {
		h.slots[slot] = s
	}
	h.mu.Unlock()

	h.wg.Add(1)
	go h.run(slot, s, fn)
	h.log.Info("session created", zap.Int("slot", slot), zap.String("name", name))
	return slot
}

func (h *Hub) run(slot int, s *session, fn SessionFunc) {
	defer h.wg.Done()
	defer func() {
		// under the lock so Submit never hands over a connection nobody reads
		h.mu.Lock()
		close(s.done)
		for drained := false; !drained; {
			select {
			case c := <-s.inbox:
				c.Close()
			default:
				drained = true
			}
		}
		h.mu.Unlock()
		h.log.Info("session finished", zap.Int("slot", slot), zap.String("name", s.name))
	}()

	fn(h.ctx, slot, s.inbox)
}

// Lookup reports whether slot holds a running session.
func (h *Hub) Lookup(slot int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.lookup(slot)
	return err
}

func (h *Hub) lookup(slot int) (*session, error) {
	if slot < 0 || slot >= len(h.slots) {
		return nil, ErrNoSession
	}
	s := h.slots[slot]
	if s.finished() {
		return nil, ErrSessionClosed
	}
	return s, nil
}

// Submit hands c to the session in slot without blocking.
func (h *Hub) Submit(slot int, c transport.Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := h.lookup(slot)
	if err != nil {
		return err
	}
	select {
	case s.inbox <- c:
		return nil
	default:
		return ErrSessionBusy
	}
}

func (h *Hub) Sessions() []Info {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Info, 0, len(h.slots))
	for i, s := range h.slots {
		out = append(out, Info{Slot: i, Name: s.name, Running: !s.finished(), Started: s.started})
	}
	return out
}

// Shutdown cancels every session and waits for them to return.
func (h *Hub) Shutdown() {
	h.cancel()
	h.wg.Wait()
}
