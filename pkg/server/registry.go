// Copyright © 2021 The Collabordinator Authors.
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vitrivr/collabordinator/pkg/collab"
)

// registry tracks the clients and namespaces on the server.
type registry struct {
	log *logrus.Logger

	lock              sync.Mutex // Protects the entire registry
	clients           map[uint64]*client
	namespaces        map[string]*namespace
	nextID            uint64
	createdTime       time.Time
	maxClients        int
	maxClientsTime    time.Time
	maxNamespaces     int
	maxNamespacesTime time.Time
}

// addClient registers a new websocket client and joins it to the namespace
// for key.
func (reg *registry) addClient(conn *websocket.Conn, key, remoteHost string) *client {
	reg.lock.Lock()
	defer reg.lock.Unlock()

	id := reg.nextID
	reg.nextID++
	c := &client{
		id:         id,
		conn:       conn,
		send:       make(chan collab.Message, sendBuffSize),
		remoteHost: remoteHost,
	}
	c.log = reg.log.WithFields(logrus.Fields{
		"client": c.String(),
		"remote": remoteHost,
	})
	reg.register(c, key)
	return c
}

// register adds c to the registry and joins it to the namespace for key.
// reg.lock must be held.
func (reg *registry) register(c *client, key string) {
	reg.clients[c.id] = c
	if len(reg.clients) > reg.maxClients {
		reg.maxClients = len(reg.clients)
		reg.maxClientsTime = time.Now()
	}
	reg.join(c, key)
}

// join adds c to the namespace for key, creating it if needed, and replays
// the namespace's current item set to c as one ADD message so late joiners
// converge. reg.lock must be held.
func (reg *registry) join(c *client, key string) {
	ns, ok := reg.namespaces[key]
	if !ok {
		ns = newNamespace(key)
		reg.namespaces[key] = ns
		if len(reg.namespaces) > reg.maxNamespaces {
			reg.maxNamespaces = len(reg.namespaces)
			reg.maxNamespacesTime = time.Now()
		}
	}
	ns.members[c.id] = c
	c.ns = ns

	if len(ns.items) > 0 {
		reg.deliver(c, ns.snapshotMessage())
	}
}

// leave removes c from its namespace, dropping the namespace when its last
// member leaves. reg.lock must be held.
func (reg *registry) leave(c *client) {
	if c.ns == nil {
		return
	}
	delete(c.ns.members, c.id)
	if len(c.ns.members) == 0 {
		delete(reg.namespaces, c.ns.key)
	}
	c.ns = nil
}

// dispatch applies one inbound message to the sender's namespace and echoes
// it to every member, including the sender; the echo is what makes the
// sender's own set converge. A client sending a message for a different key
// is switched to that key's namespace first.
func (reg *registry) dispatch(c *client, msg collab.Message) error {
	reg.lock.Lock()
	defer reg.lock.Unlock()

	if c.removed {
		return nil
	}
	if msg.Key == "" {
		return errors.New("Message key is blank")
	}
	if c.ns == nil || c.ns.key != msg.Key {
		reg.leave(c)
		reg.join(c, msg.Key)
	}

	ns := c.ns
	if err := ns.apply(msg); err != nil {
		return err
	}
	for _, member := range ns.members {
		reg.deliver(member, msg)
	}
	return nil
}

// deliver queues msg for member without blocking the registry. A member whose
// send buffer is full cannot keep up with its namespace and is dropped.
// reg.lock must be held.
func (reg *registry) deliver(member *client, msg collab.Message) {
	select {
	case member.send <- msg:
	default:
		member.log.Warn("Client cannot keep up with its namespace; dropping")
		reg.remove(member)
	}
}

// remove takes c out of the registry and closes its send channel, which tells
// writePump to finish and close the connection. remove is idempotent.
// reg.lock must be held.
func (reg *registry) remove(c *client) {
	if c.removed {
		return
	}
	c.removed = true
	reg.leave(c)
	delete(reg.clients, c.id)
	close(c.send)
}

// removeClient removes c from the registry, logging reason.
func (reg *registry) removeClient(c *client, reason string) {
	reg.lock.Lock()
	already := c.removed
	reg.remove(c)
	reg.lock.Unlock()

	if !already {
		c.log.WithFields(logrus.Fields{
			"reason": reason,
		}).Info("Client removed")
	}
}

// Stats contains summary information about a running server.
type Stats struct {
	Uptime          time.Duration `json:"uptime"`
	NumNamespaces   int           `json:"num_namespaces"`
	MaxNamespaces   int           `json:"max_namespaces"`
	MaxNamespacesAt time.Time     `json:"max_namespaces_at"`
	NumClients      int           `json:"num_clients"`
	MaxClients      int           `json:"max_clients"`
	MaxClientsAt    time.Time     `json:"max_clients_at"`
}

// Stats gets stats for this registry.
func (reg *registry) Stats() Stats {
	reg.lock.Lock()
	defer reg.lock.Unlock()

	return Stats{
		Uptime:          time.Since(reg.createdTime),
		NumNamespaces:   len(reg.namespaces),
		MaxNamespaces:   reg.maxNamespaces,
		MaxNamespacesAt: reg.maxNamespacesTime,
		NumClients:      len(reg.clients),
		MaxClients:      reg.maxClients,
		MaxClientsAt:    reg.maxClientsTime,
	}
}
