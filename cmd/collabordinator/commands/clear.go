// Copyright © 2021 The Collabordinator Authors.
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"github.com/spf13/cobra"

	"github.com/vitrivr/collabordinator/pkg/collab"
)

// clearCmd represents the clear command
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the shared set",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMutation(func(sync *collab.Synchronizer) {
			sync.Clear()
		}, func(items []string) bool {
			return len(items) == 0
		})
	},
}

func init() {
	RootCmd.AddCommand(clearCmd)
	clearCmd.Flags().StringVarP(&mutateAddr, "addr", "a", "", "endpoint address (overrides the config entry)")
}
