package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/bugtracker/internal/buildinfo"
	"github.com/dmitrijs2005/bugtracker/internal/server"
	"github.com/dmitrijs2005/bugtracker/internal/server/config"
	"github.com/dmitrijs2005/bugtracker/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.PrintKey {
		if cfg.GeneratedSecret {
			log.Fatal("-print-key needs a configured secret (-s or BUGSTORED_JWT_SECRET)")
		}
		key, err := server.IssueAnonKey(cfg)
		if err != nil {
			log.Fatalf("issue key: %v", err)
		}
		fmt.Println(key)
		return
	}

	buildinfo.PrintBuildData(os.Stdout)
	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	shutdown, err := telemetry.Setup(ctx, "bugstored", buildinfo.Version)
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdown(sctx)
	}()

	app, err := server.NewApp(cfg)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
		return 1
	}
	return 0
}
