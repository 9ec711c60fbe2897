// relay runs a configured processor chain over events received from NATS.
//
// Usage:
//
//	relay run      [--config=<path>] [--debug]
//	relay validate [--config=<path>]
//	relay describe [--config=<path>]
//	relay publish  --data=<payload> [--subject=<subject>] [--correlation-id=<id>] [--one-way]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
