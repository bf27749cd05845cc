// Command auditctl is the operator command line of the message audit service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "auditctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
