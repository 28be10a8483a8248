// Package collab mirrors a set of item identifiers shared by collaborating
// clients through a remote coordination endpoint.
//
// Mutations are fire-and-forget: Add, Remove and Clear only send a message on
// the channel, and the local set changes when the endpoint echoes the message
// back. The set is therefore eventually consistent with local mutation calls,
// and converges with the sets observed by every other client of the same
// endpoint.
package collab

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// A Synchronizer maintains the local view of the shared item set and the
// channel it is synchronized over.
//
// The zero connection state is Disconnected with an empty set. The
// synchronizer stays inert until an endpoint address is observed, either via
// SetAddress or Follow.
type Synchronizer struct {
	log  *logrus.Logger
	dial Dialer

	// writeMTX serializes writes to the channel; the websocket
	// transport supports at most one concurrent writer.
	writeMTX sync.Mutex

	mtx        sync.Mutex // Protects everything below
	addr       string
	ch         Channel
	generation uint64
	items      []string
	observers  map[uint64]chan []string
	nextObsID  uint64
}

// New creates a Synchronizer that connects over websockets.
func New(log *logrus.Logger) *Synchronizer {
	return NewWithDialer(log, DialWebsocket)
}

// NewWithDialer creates a Synchronizer with a custom Dialer.
func NewWithDialer(log *logrus.Logger, dial Dialer) *Synchronizer {
	return &Synchronizer{
		log:       log,
		dial:      dial,
		observers: make(map[uint64]chan []string),
	}
}

// SetAddress records addr as the coordination endpoint address for subsequent
// calls to Connect. It does not connect by itself.
func (s *Synchronizer) SetAddress(addr string) {
	s.mtx.Lock()
	s.addr = addr
	s.mtx.Unlock()
}

// Connect establishes a channel to the last known endpoint address.
//
// If no address is known, Connect returns false and changes nothing. If a
// channel already exists, it is closed and the set is published as empty
// before the new channel is requested. Connect returns true as soon as the
// new channel has been requested; dialing completes asynchronously, and a
// dial failure surfaces as a connection error (set cleared, logged).
func (s *Synchronizer) Connect() bool {
	s.mtx.Lock()
	if s.addr == "" {
		s.mtx.Unlock()
		return false
	}
	if s.ch != nil {
		s.ch.Close()
		s.ch = nil
	}
	s.items = nil
	s.publish()
	s.generation++
	gen := s.generation
	addr := s.addr
	s.mtx.Unlock()

	go s.run(gen, addr)
	return true
}

// Available reports whether a channel object currently exists. This is an
// optimistic liveness flag: the channel is retained after an error or close,
// so Available does not guarantee the channel is still open on the wire.
func (s *Synchronizer) Available() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.ch != nil
}

// Items returns a snapshot of the current item set.
func (s *Synchronizer) Items() []string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.snapshot()
}

// Subscribe registers an observer of the item set. The current snapshot is
// delivered immediately, and every subsequent change is published to the
// returned channel. A slow observer only misses intermediate snapshots; the
// latest one is always pending. The cancel function unregisters the observer.
func (s *Synchronizer) Subscribe() (<-chan []string, func()) {
	s.mtx.Lock()
	id := s.nextObsID
	s.nextObsID++
	obs := make(chan []string, 1)
	obs <- s.snapshot()
	s.observers[id] = obs
	s.mtx.Unlock()

	cancel := func() {
		s.mtx.Lock()
		delete(s.observers, id)
		s.mtx.Unlock()
	}
	return obs, cancel
}

// Add asks the endpoint to add ids to the shared set.
// The local set is not touched until the message is echoed back.
func (s *Synchronizer) Add(ids ...string) {
	s.send(Message{Action: ActionAdd, Key: Key, Attribute: ids})
}

// Remove asks the endpoint to remove ids from the shared set.
func (s *Synchronizer) Remove(ids ...string) {
	s.send(Message{Action: ActionRemove, Key: Key, Attribute: ids})
}

// Clear asks the endpoint to empty the shared set.
func (s *Synchronizer) Clear() {
	s.send(Message{Action: ActionClear, Key: Key, Attribute: []string{}})
}

func (s *Synchronizer) send(msg Message) {
	s.mtx.Lock()
	ch := s.ch
	s.mtx.Unlock()
	if ch == nil {
		s.log.WithFields(logrus.Fields{
			"action": msg.Action,
		}).Warn("No channel to the coordination endpoint; dropping message")
		return
	}

	s.writeMTX.Lock()
	err := ch.WriteJSON(msg)
	s.writeMTX.Unlock()
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"action": msg.Action,
			"error":  err,
		}).Error("Error sending message to the coordination endpoint")
	}
}

// run dials the endpoint and pumps inbound messages into synchronize until
// the channel fails or is superseded. gen identifies the channel requested by
// the Connect call that started this run; once the synchronizer has moved on
// to a newer generation, this run no longer touches shared state.
func (s *Synchronizer) run(gen uint64, addr string) {
	ch, err := s.dial(addr)

	s.mtx.Lock()
	if gen != s.generation {
		s.mtx.Unlock()
		if ch != nil {
			ch.Close()
		}
		return
	}
	if err != nil {
		s.items = nil
		s.publish()
		s.mtx.Unlock()
		s.log.WithFields(logrus.Fields{
			"addr":  addr,
			"error": err,
		}).Error("Cannot reach the coordination endpoint")
		return
	}
	s.ch = ch
	s.mtx.Unlock()

	s.log.WithFields(logrus.Fields{
		"addr": addr,
	}).Info("Connected to the coordination endpoint")

	for {
		var msg Message
		if err := ch.ReadJSON(&msg); err != nil {
			s.mtx.Lock()
			if gen != s.generation {
				s.mtx.Unlock()
				return
			}
			s.items = nil
			s.publish()
			s.mtx.Unlock()

			if _, closed := err.(*websocket.CloseError); closed {
				s.log.WithFields(logrus.Fields{
					"addr": addr,
				}).Info("Coordination channel closed")
			} else {
				s.log.WithFields(logrus.Fields{
					"addr":  addr,
					"error": err,
				}).Error("Coordination channel error")
			}
			return
		}

		s.mtx.Lock()
		if gen != s.generation {
			s.mtx.Unlock()
			return
		}
		err := s.synchronize(msg)
		s.mtx.Unlock()
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"error": err,
			}).Warn("Ignoring message from the coordination endpoint")
		}
	}
}

// synchronize applies one inbound message to the item set and publishes the
// result. The set is replaced wholesale, never mutated in place, so snapshots
// handed out earlier stay consistent. s.mtx must be held.
func (s *Synchronizer) synchronize(msg Message) error {
	switch msg.Action {
	case ActionAdd:
		next := make([]string, len(s.items), len(s.items)+len(msg.Attribute))
		copy(next, s.items)
		for _, id := range msg.Attribute {
			if !containsItem(next, id) {
				next = append(next, id)
			}
		}
		s.items = next

	case ActionRemove:
		drop := make(map[string]struct{}, len(msg.Attribute))
		for _, id := range msg.Attribute {
			drop[id] = struct{}{}
		}
		next := make([]string, 0, len(s.items))
		for _, id := range s.items {
			if _, ok := drop[id]; !ok {
				next = append(next, id)
			}
		}
		s.items = next

	case ActionClear:
		s.items = nil

	default:
		return errors.Errorf("Unrecognized action %q", msg.Action)
	}

	s.publish()
	return nil
}

// publish pushes the current snapshot to every observer, conflating pending
// values so that a slow observer always finds the latest snapshot. s.mtx must
// be held.
func (s *Synchronizer) publish() {
	snapshot := s.snapshot()
	for _, obs := range s.observers {
		select {
		case obs <- snapshot:
		default:
			select {
			case <-obs:
			default:
			}
			obs <- snapshot
		}
	}
}

func (s *Synchronizer) snapshot() []string {
	snapshot := make([]string, len(s.items))
	copy(snapshot, s.items)
	return snapshot
}

func containsItem(items []string, id string) bool {
	for _, item := range items {
		if item == id {
			return true
		}
	}
	return false
}
