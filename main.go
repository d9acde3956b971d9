// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/guntherweissenbaeck/fbfregion/cmd"
)

var Version = "development"

func main() {
	cmd.Execute(Version)
}
