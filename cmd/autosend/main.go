// Command autosend runs the auto-send daemon and talks to its control API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "autosend:", err)
		os.Exit(1)
	}
}
