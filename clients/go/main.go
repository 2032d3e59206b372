// Package main provides the pingpong CLI.
//
// Usage:
//
//	pingpong [flags] <command> [args]
//
// Commands:
//
//	join       - join a room and relay stdin as messages
//	rooms      - list, create, show and close rooms
//	messages   - read room history
//	proposals  - list a room's proposals
//	search     - search recent messages
//	health     - check server health
//
// Environment:
//
//	PINGPONG_URL   server URL (default: http://localhost:8080)
package main

import (
	"fmt"
	"os"

	"github.com/osobh/pingpong-sub001/clients/go/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
