// Command modsync edits a course's module list against a modsync server.
package main

import (
	"os"

	"github.com/kilupskalvis/modsync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
