package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mattjoyce/deckrelay/internal/inspect"
	"github.com/mattjoyce/deckrelay/internal/launch"
	"github.com/mattjoyce/deckrelay/internal/relay"
)

func runRelayNoun(args []string) int {
	if len(args) < 1 || hasHelpFlag(args[:1]) {
		printRelayHelp()
		if len(args) < 1 {
			return exitRuntime
		}
		return exitOK
	}

	switch args[0] {
	case "broadcast":
		return runRelayBroadcast(args[1:])
	case "request":
		return runRelayRequest(args[1:])
	case "serve":
		return runRelayServe(args[1:])
	case "journal":
		return runRelayJournal(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown relay action: %s\n\n", args[0])
		printRelayHelp()
		return exitRuntime
	}
}

func printRelayHelp() {
	fmt.Fprint(os.Stderr, `Usage: deckrelay relay <broadcast|request|serve|journal> [flags]

  broadcast --id X [--config F] -- <launch args>
  request   --id X [--config F]
  serve     [--port P] [--config F]
  journal   [--id X] [--limit N] [--json] [--config F]
`)
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if a == "-h" || a == "--help" || a == "help" {
			return true
		}
	}
	return false
}

// runRelayBroadcast announces the launch args under an identifier. If it
// ends up hosting the broker it keeps serving until signalled.
func runRelayBroadcast(args []string) int {
	fs := flag.NewFlagSet("relay broadcast", flag.ContinueOnError)
	id := fs.String("id", "", "Relay identifier to announce")
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitConfig
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "relay broadcast: --id is required")
		return exitConfig
	}

	params, err := launch.Parse(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitConfig
	}

	svc, err := setup(*configPath)
	if err != nil {
		return exitConfig
	}
	defer svc.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.openJournal(ctx); err != nil {
		svc.logger.Error("relay journal unavailable", "error", err)
		return exitRuntime
	}

	rec := relay.Record{ID: *id, Args: relayArgs(params)}
	b := relay.NewBroadcaster(rec, svc.relayOptions(), svc.brokerOptions()...)
	a, err := b.Announce(ctx)
	switch {
	case errors.Is(err, relay.ErrRejected), errors.Is(err, relay.ErrInvalidRecord):
		svc.logger.Error("relay broadcast refused", "relay_id", *id, "error", err)
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitConfig
	case errors.Is(err, context.Canceled):
		return exitOK
	case err != nil:
		svc.logger.Error("relay broadcast failed", "relay_id", *id, "error", err)
		return exitRuntime
	}

	if !a.SelfElected() {
		svc.logger.Info("relay broadcast delivered", "relay_id", *id, "port", a.Port)
		return exitOK
	}

	svc.logger.Info("hosting relay broker", "relay_id", *id, "addr", a.Addr.String())
	svc.startAPI(ctx, a.Broker, nil)
	if err := a.Wait(); err != nil {
		svc.logger.Error("relay broker failed", "error", err)
		return exitRuntime
	}
	return exitOK
}

// runRelayRequest waits for a broadcaster and then runs the plugin with the
// args it handed over.
func runRelayRequest(args []string) int {
	fs := flag.NewFlagSet("relay request", flag.ContinueOnError)
	id := fs.String("id", "", "Relay identifier to wait for")
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitConfig
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "relay request: --id is required")
		return exitConfig
	}

	svc, err := setup(*configPath)
	if err != nil {
		return exitConfig
	}
	defer svc.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc.logger.Info("waiting for relay broadcaster", "relay_id", *id, "base_port", svc.cfg.Relay.BasePort)
	launchArgs, err := relay.NewRequester(*id, svc.relayOptions()).Request(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		return exitOK
	case errors.Is(err, relay.ErrInvalidRecord):
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitConfig
	case err != nil:
		svc.logger.Error("relay request failed", "relay_id", *id, "error", err)
		return exitRuntime
	}

	params, err := launch.Parse(launchArgs)
	if err != nil {
		svc.logger.Error("relay handed over invalid launch args", "relay_id", *id, "error", err)
		return exitConfig
	}

	svc.logger.Info("relay matched, connecting to host", "relay_id", *id, "port", params.Port)
	if err := runSession(ctx, svc, params); err != nil {
		svc.logger.Error("plugin session failed", "error", err)
		return exitRuntime
	}
	return exitOK
}

// runRelayServe runs a broker with no record of its own.
func runRelayServe(args []string) int {
	fs := flag.NewFlagSet("relay serve", flag.ContinueOnError)
	port := fs.Int("port", 0, "Port to listen on (default relay.base_port)")
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitConfig
	}

	svc, err := setup(*configPath)
	if err != nil {
		return exitConfig
	}
	defer svc.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.openJournal(ctx); err != nil {
		svc.logger.Error("relay journal unavailable", "error", err)
		return exitRuntime
	}

	if *port == 0 {
		*port = svc.cfg.Relay.BasePort
	}
	addr := net.JoinHostPort(svc.cfg.Relay.Host, strconv.Itoa(*port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		svc.logger.Error("relay broker cannot listen", "addr", addr, "error", err)
		return exitRuntime
	}

	broker := relay.NewBroker(svc.brokerOptions()...)
	svc.startAPI(ctx, broker, nil)
	if err := broker.Serve(ctx, ln); err != nil {
		svc.logger.Error("relay broker failed", "error", err)
		return exitRuntime
	}
	return exitOK
}

// runRelayJournal prints the handoff report for the configured journal.
func runRelayJournal(args []string) int {
	fs := flag.NewFlagSet("relay journal", flag.ContinueOnError)
	id := fs.String("id", "", "Only show this relay identifier")
	limit := fs.Int("limit", 50, "Number of journal entries to replay")
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitConfig
	}

	svc, err := setup(*configPath)
	if err != nil {
		return exitConfig
	}
	defer svc.close()

	if svc.cfg.Relay.JournalPath == "" {
		fmt.Fprintln(os.Stderr, "relay journal: relay.journal_path is not configured")
		return exitConfig
	}
	ctx := context.Background()
	if err := svc.openJournal(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntime
	}

	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(ctx, svc.journal, *id, *limit)
		out += "\n"
	} else {
		out, err = inspect.BuildReport(ctx, svc.journal, *id, *limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntime
	}
	fmt.Print(out)
	return exitOK
}

// relayArgs renders params for the wire. The host info JSON is left out: it
// is not interpreted and may contain the field delimiter.
func relayArgs(p launch.Params) []string {
	p.Info = ""
	return p.Args()
}
