package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/deckrelay/internal/demo"
	"github.com/mattjoyce/deckrelay/internal/dispatch"
	"github.com/mattjoyce/deckrelay/internal/launch"
	"github.com/mattjoyce/deckrelay/internal/lock"
	"github.com/mattjoyce/deckrelay/internal/transport"
)

// runPlugin is the mode the host launches: parse the launch parameters,
// connect, and dispatch until the host goes away or a signal arrives.
func runPlugin(args []string) int {
	params, err := launch.Parse(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitConfig
	}

	svc, err := setup("")
	if err != nil {
		return exitConfig
	}
	defer svc.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runSession(ctx, svc, params); err != nil {
		svc.logger.Error("plugin session failed", "error", err)
		return exitRuntime
	}
	return exitOK
}

// runSession opens one host connection and runs the dispatch engine on it.
// It returns when the connection closes. Only one session per plugin UUID
// may run on the machine.
func runSession(ctx context.Context, svc *services, params launch.Params) error {
	instance, err := lock.AcquirePIDLock(lock.PluginPath(svc.cfg.Service.LockDir, params.PluginUUID))
	if err != nil {
		return fmt.Errorf("plugin %s: %w", params.PluginUUID, err)
	}
	defer func() { _ = instance.Release() }()

	reg, err := demo.Registry()
	if err != nil {
		return fmt.Errorf("build action registry: %w", err)
	}

	conn := transport.New(params, transport.Options{
		Host:             svc.cfg.Transport.Host,
		ReadChunk:        svc.cfg.Transport.ReadChunk,
		HandshakeTimeout: svc.cfg.Transport.HandshakeTimeout,
	})
	engine := dispatch.NewEngine(reg, conn,
		dispatch.WithMetrics(svc.metrics),
		dispatch.WithPublisher(svc.hub),
	)

	// The session owns the API lifetime so the host closing stops it too.
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	svc.startAPI(sessionCtx, nil, engine)

	if err := conn.Connect(sessionCtx); err != nil {
		return err
	}
	svc.logger.Info("plugin connected", "conn_id", conn.ID(), "actions", len(reg.Actions()))

	err = conn.Run(sessionCtx, engine)
	if errors.Is(err, context.Canceled) {
		svc.logger.Info("plugin shutting down on signal")
		return nil
	}
	return err
}
