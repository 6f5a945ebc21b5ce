// dbgpsh is an interactive console for DBGp debugger engines.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dbgpsh/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "dbgpsh: %v\n", err)
		os.Exit(1)
	}
}
