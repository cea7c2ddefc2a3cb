package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/bugtracker/internal/buildinfo"
	"github.com/dmitrijs2005/bugtracker/internal/client/cli"
	"github.com/dmitrijs2005/bugtracker/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	shutdown, err := telemetry.Setup(ctx, "bugsync", buildinfo.Version)
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	}

	code := cli.Execute(ctx)

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = shutdown(sctx)
	scancel()
	cancel()

	os.Exit(code)
}
