// The main package for the contact-crawler executable.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/JakeFAU/storefront-contact-crawler/cmd"
)

// main defers all execution to the Cobra CLI; SIGINT and SIGTERM cancel the
// command's context.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cmd.Execute(ctx)
}
