// Copyright © 2021 The Collabordinator Authors.
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vitrivr/collabordinator/pkg/collab"
)

var watchAddr string

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Mirror the shared item set and print every change",
	Long: `watch connects to the coordination endpoint and prints the shared item set
every time it changes.

The endpoint address is taken from the ` + collab.ConfigKey + ` config entry,
which is watched for changes, or from --addr.`,
	RunE: runWatch,
}

func init() {
	RootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchAddr, "addr", "a", "", "endpoint address (overrides the config entry)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	initLog()
	sync := collab.New(log)

	if watchAddr != "" {
		sync.SetAddress(watchAddr)
		if !sync.Connect() {
			return errors.New("Cannot connect to the coordination endpoint")
		}
	} else {
		sync.Follow(viper.GetViper())
	}

	items, cancel := sync.Subscribe()
	defer cancel()
	for snapshot := range items {
		if len(snapshot) == 0 {
			fmt.Println("(empty)")
			continue
		}
		fmt.Println(strings.Join(snapshot, ", "))
	}
	return nil
}
