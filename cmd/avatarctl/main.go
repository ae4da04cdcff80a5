// Package main provides avatarctl, the operator CLI for the avatar control
// service.
//
// Usage:
//
//	avatarctl [flags] <command> [args]
//
// Commands:
//
//	status      - Show channel sessions
//	speak       - Make the avatar say a line
//	projection  - Switch a channel to or from the projection window
//	graph       - List graphs or select one for a channel
//	agent       - Start, stop or check a channel's agent
//	relay       - Publish a raw relay message from a YAML or JSON file
//	simulate    - Play the scripted agent into a channel
//	stream      - Stream scripted transcripts over gRPC
package main

import (
	"fmt"
	"os"

	"avatar-control-service/cmd/avatarctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
