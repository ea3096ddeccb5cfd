// Command hive runs the Hive personal assistant daemon: a chat gateway
// that resolves a user's identity, routes their message to a skill and a
// model tier, executes it with tool access, and replies over whichever
// channel the message arrived on.
package main

import (
	"fmt"
	"os"

	"github.com/marcsjourneys/hive-assistant/cmd/hive/commands"
)

var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
