// Copyright © 2021 The Collabordinator Authors.
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the version of Collabordinator.
var Version = "unset"

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of Collabordinator",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Collabordinator version %s\n", Version)
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
