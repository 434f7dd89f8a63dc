// Command wfctl validates workflow definitions and inspects a running
// deployment's calendar and history.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
