// Command lwm2m-client is a reference LWM2M device implementation.
//
// It carries the three mandatory objects every LWM2M client must
// expose (Security, Server, Device), registers with one LWM2M server,
// keeps the registration alive with periodic Updates, and serves the
// server's Read/Write/Execute/Observe/Create/Delete requests against
// its object registry.
//
// Usage:
//
//	lwm2m-client [flags]
//
// Flags:
//
//	-endpoint string    Endpoint name reported at registration (default "lwm2m-client")
//	-server string      Server address, host:port (default "127.0.0.1:5683")
//	-listen string      Local UDP listen address (default ":0")
//	-lifetime duration  Registration lifetime (default 1h)
//	-config string      YAML configuration file path, overrides flags
//	-log-level string   Log level: debug, info, warn, error (default "info")
//	-log-file string    Optional JSON-lines event log path
//	-manufacturer string
//	-model string
//	-serial string
//	-firmware string
//	-interactive        Enter an interactive inspection shell
//
// Example:
//
//	lwm2m-client -endpoint sensor-01 -server 10.0.0.5:5683 -lifetime 5m
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lwm2m-go/lwm2m/pkg/client"
	"github.com/lwm2m-go/lwm2m/pkg/coap"
	"github.com/lwm2m-go/lwm2m/pkg/log"
	"github.com/lwm2m-go/lwm2m/pkg/objectregistry"
	"github.com/lwm2m-go/lwm2m/pkg/objects"
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

	console.Info().
		Str("endpoint", cfg.Endpoint).
		Str("server", cfg.Server).
		Dur("lifetime", cfg.Lifetime).
		Msg("starting lwm2m-client")

	bundle, descriptors := objects.NewBundle(cfg.Manufacturer, cfg.Model, cfg.Serial, cfg.Firmware)
	registry, err := objectregistry.New(nil, descriptors...)
	if err != nil {
		console.Fatal().Err(err).Msg("failed to build object registry")
	}
	bootstrapInstances(registry, bundle, cfg)

	transport, err := coap.NewUDPTransport(cfg.Listen)
	if err != nil {
		console.Fatal().Err(err).Msg("failed to open UDP transport")
	}
	defer transport.Close()

	observations := client.NewTable()
	dispatcher := client.NewDispatcher(registry, observations, transport, cfg.Server, logger)
	endpoint := client.NewEndpoint(cfg.Endpoint, cfg.Server, cfg.Lifetime, registry, transport, logger)
	defer endpoint.Close()

	bundle.Server.OnDisable(func(uint16) {
		console.Warn().Msg("server requested deregistration")
		if err := endpoint.Deregister(context.Background()); err != nil {
			console.Error().Err(err).Msg("deregister failed")
		}
	})
	bundle.Server.OnRegistrationUpdateTrigger(func(uint16) {
		console.Info().Msg("server requested an immediate registration update")
		if err := endpoint.Update(context.Background()); err != nil {
			console.Error().Err(err).Msg("triggered update failed")
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := transport.Listen(ctx, cfg.Listen, dispatcher.Handle); err != nil && ctx.Err() == nil {
			console.Error().Err(err).Msg("transport listener exited")
		}
	}()

	if err := endpoint.Register(ctx); err != nil {
		console.Fatal().Err(err).Msg("registration failed")
	}
	console.Info().Str("location", endpoint.Location()).Msg("registered")

	if cfg.Interactive {
		shell, err := NewShell(endpoint, registry)
		if err != nil {
			console.Fatal().Err(err).Msg("failed to start interactive shell")
		}
		shellCtx, shellCancel := context.WithCancel(ctx)
		shell.Run(shellCtx, shellCancel)
	} else {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		console.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	deregisterCtx, deregisterCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer deregisterCancel()
	if err := endpoint.Deregister(deregisterCtx); err != nil {
		console.Warn().Err(err).Msg("deregister failed")
	}
}

// bootstrapInstances installs instance 0 of every mandatory object so
// the client has something to register and serve from process start,
// mirroring the pairing the dispatcher itself performs on a
// server-driven Create: descriptor state first, registry bookkeeping
// second.
func bootstrapInstances(registry *objectregistry.Registry, bundle *objects.Bundle, cfg Config) {
	bundle.Security.Put(0, objects.SecurityInstance{
		ServerURI:     fmt.Sprintf("coap://%s", cfg.Server),
		ShortServerID: 1,
	})
	if err := registry.AddInstance(objects.SecurityObjectID, 0, nil); err != nil {
		panic(err)
	}

	bundle.Server.Put(0, objects.ServerInstance{
		ShortServerID: 1,
		Lifetime:      int64(cfg.Lifetime.Seconds()),
		Binding:       string(client.BindingU),
	})
	if err := registry.AddInstance(objects.ServerObjectID, 0, nil); err != nil {
		panic(err)
	}

	if err := registry.AddInstance(objects.DeviceObjectID, 0, nil); err != nil {
		panic(err)
	}
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
// logger, at debug level so -log-level=info hides them by default and
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
	if event.EndpointName != "" {
		evt = evt.Str("endpoint", event.EndpointName)
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
