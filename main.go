// ./main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/authtap/cmd"
	"github.com/xkilldash9x/authtap/internal/observability"
)

// main is the entry point for the authtap CLI.
func main() {
	// Ctrl-C stops polling and closes the browser cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := cmd.Execute(ctx, os.Args[1:])
	stop()
	observability.Sync()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
