// thinkchat - Terminal chat with optional multi-phase reasoning.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"os"

	"github.com/jeranaias/thinkchat/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.4.0"
	GitCommit = "unknown"
)

func main() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	os.Exit(cli.Execute())
}
