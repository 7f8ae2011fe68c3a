// Command palctl drives the primitive engine from the command line: it runs
// linear primitive plans against the in-memory simulator or a remote simhost,
// and inspects the configs, traces and ledgers those runs leave behind.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "palctl:", err)
		os.Exit(1)
	}
}
