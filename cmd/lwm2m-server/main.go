// Command lwm2m-server is a reference LWM2M server implementation.
//
// It runs the registration directory (accepting Register/Update/
// Deregister from any number of clients) and a management issuer for
// driving Read/Write/Create/Execute/Delete/Observe against them, with
// an optional interactive shell for exercising the issuer by hand.
//
// Usage:
//
//	lwm2m-server [flags]
//
// Flags:
//
//	-listen string      UDP listen address (default ":5683")
//	-config string      YAML configuration file path, overrides flags
//	-log-level string   Log level: debug, info, warn, error (default "info")
//	-log-file string    Optional JSON-lines event log path
//	-interactive        Enable interactive command mode
//
// Interactive commands:
//
//	clients                          - list registered clients
//	read <location> <path>          - Read a resource
//	write <location> <O>/<I> <R>=<v> - Write one resource (whole-instance TLV PUT)
//	execute <location> <path>       - Execute a resource
//	observe <location> <path>       - Observe a resource
//	quit                             - exit
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lwm2m-go/lwm2m/pkg/coap"
	"github.com/lwm2m-go/lwm2m/pkg/log"
	"github.com/lwm2m-go/lwm2m/pkg/server"
)

func main() {
	cfg := parseFlags()

	console := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(cfg.LogLevel()).
		With().Timestamp().Logger()

	logger, closeLogger, err := buildLogger(console, cfg.LogFile)
	if err != nil {
		console.Fatal().Err(err).Msg("failed to open log file")
	}
	defer closeLogger()

	console.Info().Str("listen", cfg.Listen).Msg("starting lwm2m-server")

	transport, err := coap.NewUDPTransport(cfg.Listen)
	if err != nil {
		console.Fatal().Err(err).Msg("failed to open UDP transport")
	}
	defer transport.Close()

	srv := server.NewServer(transport, logger)
	srv.Directory.OnEvent(func(evt server.Event, _ any) {
		console.Info().
			Str("kind", evt.Kind.String()).
			Str("endpoint", evt.Client.Name).
			Str("location", evt.Client.Location).
			Msg("directory event")
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := transport.Listen(ctx, cfg.Listen, srv.Handle); err != nil && ctx.Err() == nil {
			console.Error().Err(err).Msg("transport listener exited")
		}
	}()

	if cfg.Interactive {
		shell, err := NewShell(srv)
		if err != nil {
			console.Fatal().Err(err).Msg("failed to start interactive shell")
		}
		shellCtx, shellCancel := context.WithCancel(ctx)
		shell.Run(shellCtx, shellCancel)
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	console.Info().Str("signal", sig.String()).Msg("shutting down")
}

func buildLogger(console zerolog.Logger, logFile string) (log.Logger, func(), error) {
	consoleLogger := consoleEventLogger{console: console}
	if logFile == "" {
		return consoleLogger, func() {}, nil
	}
	fileLogger, err := log.NewFileLogger(logFile)
	if err != nil {
		return nil, nil, err
	}
	multi := log.NewMultiLogger(consoleLogger, fileLogger)
	return multi, func() { _ = fileLogger.Close() }, nil
}

// consoleEventLogger adapts protocol events onto the console zerolog
// logger, at debug level so -log-level=info hides them and
// -log-level=debug shows the full protocol trace alongside the
// operational messages logged directly against console.
type consoleEventLogger struct {
	console zerolog.Logger
}

func (c consoleEventLogger) Log(event log.Event) {
	evt := c.console.Debug().
		Str("layer", event.Layer.String()).
		Str("category", event.Category.String()).
		Str("direction", event.Direction.String())
	if event.RemoteAddr != "" {
		evt = evt.Str("remote_addr", event.RemoteAddr)
	}
	switch {
	case event.Message != nil:
		evt.Str("method", event.Message.Method).Str("path", event.Message.Path).Msg("message")
	case event.StateChange != nil:
		evt.Str("old_state", event.StateChange.OldState).Str("new_state", event.StateChange.NewState).Msg("state change")
	case event.Error != nil:
		evt.Str("error", event.Error.Message).Msg("error")
	default:
		evt.Msg("event")
	}
}
