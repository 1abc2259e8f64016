// ticketflow runs the ticket-intake workflow server: an HTTP endpoint that
// accepts domain events, a pool of workers that drives the resulting runs
// to completion, and read-only endpoints to inspect them.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/petrijr/ticketflow/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath  string
		logLevel    string
		httpAddr    string
		concurrency int
	)

	flagSet := pflag.NewFlagSet("ticketflow", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to YAML config (default: $"+config.EnvConfigPath+")")
	flagSet.StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	flagSet.StringVar(&httpAddr, "http-addr", "", "override http.addr")
	flagSet.IntVar(&concurrency, "concurrency", 0, "override worker.concurrency")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintln(os.Stderr, "Usage: ticketflow [flags]")
		flagSet.SetOutput(os.Stderr)
		flagSet.PrintDefaults()
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if concurrency > 0 {
		cfg.Worker.Concurrency = concurrency
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

// serve runs the workers and the HTTP server until ctx is cancelled, then
// shuts both down.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.worker.Recover(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newServer(a, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.worker.Run(gctx, cfg.Worker.Concurrency)
	})
	g.Go(func() error {
		logger.Info("http_listening", slog.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
