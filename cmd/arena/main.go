// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command arena plays games against the incremental search agent and serves
// search sessions over websockets.
//
// # Usage
//
//	# Play tic-tac-toe against a local agent
//	arena play
//
//	# Play against a remote runner
//	arena serve --addr :8086 &
//	arena play --remote ws://localhost:8086/v1/arena/ws
//
//	# Inspect the effective configuration
//	arena config show
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
