// Command agicore runs the AGI-Core agent: a websocket memory server, one-shot
// goal runs and configuration inspection.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
