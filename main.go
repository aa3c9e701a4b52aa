package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joaopedrotaveira/tsps/cmd"
	"github.com/joaopedrotaveira/tsps/pkg/log"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	// Intercept SIGINT and SIGTERM to ensure we clean up before exiting.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("Error: %s", err)
	}
}
