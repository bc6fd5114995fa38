// Command queryflow serves the dog, joke and user queries over HTTP, or runs a
// single query from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-queryflow/pkg/config"
)

const usage = `usage:
  queryflow [-config file] serve
  queryflow [-config file] fetch <dog|joke|user>
`

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := newLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start.")
	}

	switch args[0] {
	case "serve":
		err = serve(ctx, a)
	case "fetch":
		if len(args) != 2 {
			flag.Usage()
			os.Exit(2)
		}
		err = a.fetch(ctx, parseKey(args[1]), os.Stdout)
	default:
		flag.Usage()
		os.Exit(2)
	}

	a.wait()
	if cerr := a.Close(); cerr != nil {
		logger.Error().Err(cerr).Msg("Error closing resources.")
	}
	if err != nil {
		logger.Error().Err(err).Msg("Command failed.")
		os.Exit(1)
	}
}

func serve(ctx context.Context, a *app) error {
	svc := a.newService()
	if err := svc.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return svc.Shutdown(shutdownCtx)
}
