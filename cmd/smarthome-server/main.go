// Command smarthome-server serves the smart-home routes over HTTP and drains
// the lifecycle outbox in the background.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/goliatone/go-smarthome/bootstrap"
	"github.com/goliatone/go-smarthome/inbound"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var addr string
	var migrate bool

	flagSet := pflag.NewFlagSet("smarthome-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file")
	flagSet.StringVar(&addr, "addr", ":8080", "listen address")
	flagSet.BoolVar(&migrate, "migrate", false, "apply SQL migrations on startup")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, bootstrap.Options{
		ConfigPath: configPath,
		Migrate:    migrate,
		Deferred:   true,
	})
	if err != nil {
		return err
	}
	defer app.Close()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if app.Worker == nil {
			return
		}
		if err := app.Worker.Run(ctx); err != nil {
			app.Logger.Error("outbox worker stopped", "error", err)
		}
	}()

	server := &http.Server{
		Addr:              addr,
		Handler:           inbound.NewHTTPHandler(app.Dispatcher),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		app.Logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	stop()
	<-workerDone
	return nil
}
