package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return exitRuntime
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	// The host launches plugins with bare flags: -port N -pluginUUID U ...
	if strings.HasPrefix(cmd, "-") && cmd != "-h" && cmd != "--help" && cmd != "--version" {
		return runPlugin(cliArgs)
	}

	switch cmd {
	case "relay":
		return runRelayNoun(args)
	case "doctor":
		return runDoctor(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return exitRuntime
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage:
  deckrelay -port N -pluginUUID U -registerEvent E [-info J]
      Run as a plugin launched by the host.

  deckrelay relay broadcast --id X [--config F] -- <launch args>
      Announce launch args under X; host the broker if none is running.

  deckrelay relay request --id X [--config F]
      Wait for a broadcaster of X, then run the plugin with its args.

  deckrelay relay serve [--port P] [--config F]
      Run a standalone relay broker.

  deckrelay relay journal [--id X] [--limit N] [--json] [--config F]
      Show which broadcaster handed off to which requester.

  deckrelay doctor [--config F] [--json]
      Check configuration and the action table.

  deckrelay version [--json]

Configuration is read from --config, $DECKRELAY_CONFIG or
~/.config/deckrelay/config.yaml; defaults apply when none exists.
`)
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitRuntime
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: deckrelay version [--json]")
		return exitRuntime
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return exitRuntime
		}
		fmt.Println(string(data))
		return exitOK
	}

	fmt.Printf("deckrelay %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return exitOK
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}
