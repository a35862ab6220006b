package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/atinyakov/carpool/internal/client/app"
	"github.com/atinyakov/carpool/internal/client/shell"
	"github.com/atinyakov/carpool/internal/config"
	"github.com/atinyakov/carpool/internal/logger"
	"go.uber.org/zap"
)

var (
	version   string
	buildDate string
)

// main parses configuration, restores the session and runs the shell.
func main() {
	opts, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	if opts.ShowVersion {
		fmt.Printf("Carpool Client\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}

	l := logger.New()
	if err := l.Init(opts.LogLevel); err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, opts, l.Log)
	if err != nil {
		l.Log.Fatal("failed to start client", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			l.Log.Error("failed to close storage", zap.Error(err))
		}
	}()

	a.Start(ctx)

	if err := shell.New(a, os.Stdin, os.Stdout, l.Log.Named("shell")).Run(ctx); err != nil {
		l.Log.Error("shell stopped", zap.Error(err))
	}
}
