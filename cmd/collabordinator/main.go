// Copyright © 2021 The Collabordinator Authors.
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package main

import "github.com/vitrivr/collabordinator/cmd/collabordinator/commands"

func main() {
	commands.Execute()
}
