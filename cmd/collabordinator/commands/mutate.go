// Copyright © 2021 The Collabordinator Authors.
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/vitrivr/collabordinator/pkg/collab"
)

// mutateTimeout bounds how long one-shot commands wait for the endpoint and
// for the echo of their own mutation.
const mutateTimeout = 5 * time.Second

var mutateAddr string

// resolveAddr picks the endpoint address from --addr or the config entry.
func resolveAddr() (string, error) {
	if mutateAddr != "" {
		return mutateAddr, nil
	}
	if addr := viper.GetString(collab.ConfigKey); addr != "" {
		return addr, nil
	}
	return "", errors.Errorf("No endpoint address; set %s in the config or pass --addr", collab.ConfigKey)
}

// runMutation connects, sends one mutation, and waits until the echoed set
// satisfies done, printing the resulting set.
func runMutation(send func(*collab.Synchronizer), done func([]string) bool) error {
	initLog()
	log.Level = logrus.WarnLevel // Keep one-shot output clean

	addr, err := resolveAddr()
	if err != nil {
		return err
	}

	sync := collab.New(log)
	sync.SetAddress(addr)
	items, cancel := sync.Subscribe()
	defer cancel()
	sync.Connect()

	deadline := time.Now().Add(mutateTimeout)
	for !sync.Available() {
		if time.Now().After(deadline) {
			return errors.Errorf("Cannot reach the coordination endpoint at %s", addr)
		}
		time.Sleep(10 * time.Millisecond)
	}

	snapshot, err := awaitEcho(items, func() { send(sync) }, done, mutateTimeout)
	if err != nil {
		return err
	}
	if len(snapshot) == 0 {
		fmt.Println("(empty)")
	} else {
		fmt.Println(strings.Join(snapshot, ", "))
	}
	return nil
}

// awaitEcho discards snapshots published before the mutation is sent, then
// sends it and waits for a snapshot satisfying done. Snapshots pending from
// Subscribe and the connect reset reflect local resets, not the shared set;
// only post-send snapshots, which derive from endpoint messages, may settle
// the command.
func awaitEcho(items <-chan []string, send func(), done func([]string) bool, timeout time.Duration) ([]string, error) {
drain:
	for {
		select {
		case <-items:
		default:
			break drain
		}
	}

	send()

	deadline := time.After(timeout)
	for {
		select {
		case snapshot := <-items:
			if done(snapshot) {
				return snapshot, nil
			}
		case <-deadline:
			return nil, errors.New("Timed out waiting for the endpoint to echo the mutation")
		}
	}
}

func containsID(items []string, id string) bool {
	for _, item := range items {
		if item == id {
			return true
		}
	}
	return false
}
