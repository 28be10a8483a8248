// Copyright © 2021 The Collabordinator Authors.
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"github.com/spf13/cobra"

	"github.com/vitrivr/collabordinator/pkg/collab"
)

// submitCmd represents the submit command
var submitCmd = &cobra.Command{
	Use:   "submit <id>...",
	Short: "Add items to the shared set",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMutation(func(sync *collab.Synchronizer) {
			sync.Add(args...)
		}, func(items []string) bool {
			for _, id := range args {
				if !containsID(items, id) {
					return false
				}
			}
			return true
		})
	},
}

func init() {
	RootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVarP(&mutateAddr, "addr", "a", "", "endpoint address (overrides the config entry)")
}
