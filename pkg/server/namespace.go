package server

import (
	"github.com/pkg/errors"

	"github.com/vitrivr/collabordinator/pkg/collab"
)

// A namespace holds the authoritative item set for one coordination key,
// along with the clients mirroring it. Access is guarded by the registry
// lock.
type namespace struct {
	key     string
	items   []string
	members map[uint64]*client
}

// newNamespace makes a new namespace.
func newNamespace(key string) *namespace {
	return &namespace{
		key: key,
		// Assume a new namespace is being made because at least one client wants to join it.
		members: make(map[uint64]*client, 1),
	}
}

// apply mutates the namespace's item set according to msg. ADD appends
// identifiers not yet present, preserving first-seen order; REMOVE drops
// present identifiers and ignores absent ones; CLEAR empties the set.
// An unrecognized action returns an error and leaves the set alone.
func (ns *namespace) apply(msg collab.Message) error {
	switch msg.Action {
	case collab.ActionAdd:
		for _, id := range msg.Attribute {
			present := false
			for _, item := range ns.items {
				if item == id {
					present = true
					break
				}
			}
			if !present {
				ns.items = append(ns.items, id)
			}
		}

	case collab.ActionRemove:
		drop := make(map[string]struct{}, len(msg.Attribute))
		for _, id := range msg.Attribute {
			drop[id] = struct{}{}
		}
		next := ns.items[:0]
		for _, id := range ns.items {
			if _, ok := drop[id]; !ok {
				next = append(next, id)
			}
		}
		ns.items = next

	case collab.ActionClear:
		ns.items = nil

	default:
		return errors.Errorf("Unrecognized action %q", msg.Action)
	}

	return nil
}

// snapshotMessage encodes the current item set as a single ADD message, used
// to bring late joiners up to date.
func (ns *namespace) snapshotMessage() collab.Message {
	items := make([]string, len(ns.items))
	copy(items, ns.items)
	return collab.Message{Action: collab.ActionAdd, Key: ns.key, Attribute: items}
}
