// Copyright © 2021 The Collabordinator Authors.
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package server implements the Collabordinator coordination endpoint: a
// websocket relay that keeps the authoritative item set for each namespace
// and echoes every accepted mutation to all connected clients, including the
// one that sent it.
package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"crypto/tls"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vitrivr/collabordinator/pkg/collab"
)

// Server Contains state for a Collabordinator server.
type Server struct {
	// TimeBetweenPings specifies the amount of time that will elapse before clients will be sent a ping.
	// If 0, no pings will be sent.
	TimeBetweenPings time.Duration

	// PingsUntilTimeout specifies the number of pings that can go unanswered before a client is dropped.
	// If TimeBetweenPings is 0, this field has no effect.
	PingsUntilTimeout int

	// TLSConfig optionally provides a TLS configuration for use by ListenAndServeTLS.
	TLSConfig *tls.Config

	// StatsPassword sets the password for retrieving stats.
	// If empty, the stats endpoint is disabled.
	StatsPassword string

	Log *logrus.Logger

	// registry stores information about clients and namespaces on the server.
	registry registry
	upgrader websocket.Upgrader
}

// ListenAndServe listens for websocket connections on addr and relays
// coordination messages between them.
func (srv *Server) ListenAndServe(addr string) error {
	srv.start()
	srv.Log.WithFields(logrus.Fields{
		"addr":        addr,
		"tls_enabled": false,
	}).Info("Listening for incoming connections")

	hs := &http.Server{Addr: addr, Handler: srv.handler()}
	return errors.Wrap(hs.ListenAndServe(), "Serve")
}

// ListenAndServeTLS behaves just like ListenAndServe, but wraps the connection with TLS.
func (srv *Server) ListenAndServeTLS(addr, certFile, keyFile string) error {
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return errors.Wrap(err, "Load X.509 key pair")
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	if srv.TLSConfig == nil {
		return errors.New("No TLSConfig set in server, and no certFile/keyFile given")
	}

	srv.start()
	srv.Log.WithFields(logrus.Fields{
		"addr":        addr,
		"tls_enabled": true,
	}).Info("Listening for incoming connections")

	hs := &http.Server{Addr: addr, Handler: srv.handler(), TLSConfig: srv.TLSConfig}
	return errors.Wrap(hs.ListenAndServeTLS("", ""), "Serve TLS")
}

func (srv *Server) start() {
	srv.Log.WithFields(logrus.Fields{
		"time_between_pings":  srv.TimeBetweenPings,
		"pings_until_timeout": srv.PingsUntilTimeout,
	}).Info("Server started")

	now := time.Now()
	srv.registry = registry{
		log:               srv.Log,
		clients:           make(map[uint64]*client),
		namespaces:        make(map[string]*namespace),
		createdTime:       now,
		maxClientsTime:    now,
		maxNamespacesTime: now,
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Collaborating clients connect from arbitrary origins.
		CheckOrigin: func(*http.Request) bool { return true },
	}
}

func (srv *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.serveChannel)
	mux.HandleFunc("/stats", srv.serveStats)
	return mux
}

// serveChannel upgrades a request to a websocket and connects the client to
// the namespace named by the "key" query parameter.
func (srv *Server) serveChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.Log.WithFields(logrus.Fields{
			"error": err,
		}).Error("Error upgrading connection")
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		key = collab.Key
	}

	remoteAddr, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteAddr = r.RemoteAddr
	}
	remoteHost := getHostFromAddrIfPossible(remoteAddr)

	c := srv.registry.addClient(conn, key, remoteHost)
	c.log.WithFields(logrus.Fields{
		"key": key,
	}).Info("Client connected")

	pongWait := srv.TimeBetweenPings * time.Duration(srv.PingsUntilTimeout)
	go c.writePump(srv.TimeBetweenPings)
	go c.readPump(&srv.registry, pongWait)
}

func (srv *Server) serveStats(w http.ResponseWriter, r *http.Request) {
	if srv.StatsPassword == "" {
		http.Error(w, "Stats are disabled", http.StatusNotFound)
		return
	}
	password := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if password != srv.StatsPassword {
		http.Error(w, "Invalid stats password", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(srv.registry.Stats()); err != nil {
		srv.Log.WithFields(logrus.Fields{
			"error": err,
		}).Error("Error writing stats response")
	}
}

// getHostFromAddrIfPossible tries to get the reverse dns host for an address.
// If that isn't possible, it just returns the address.
func getHostFromAddrIfPossible(addr string) string {
	var hosts string
	names, err := net.LookupAddr(addr)
	if err == nil { // No need to report errors; just fallback to IP
		hosts = strings.Join(names, ", ")
	}

	if hosts == "" {
		return addr
	}

	return fmt.Sprintf("%s (%s)", hosts, addr)
}
