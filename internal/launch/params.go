// Package launch parses the connection parameters the host passes to a plugin.
package launch

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrConfig matches every launch configuration failure.
var ErrConfig = errors.New("configuration error")

// ConfigError reports missing or malformed launch parameters.
type ConfigError struct {
	Missing []string
	Args    []string
	Err     error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("launch parameters invalid")
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	b.WriteString(" (was the plugin started outside the host? args: ")
	b.WriteString(strings.Join(e.Args, " "))
	b.WriteString(")")
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// Params are the values the transport needs to reach and register with the host.
type Params struct {
	Port          int
	PluginUUID    string
	RegisterEvent string
	// Info is the host's JSON description of itself. Accepted but not interpreted.
	Info string
}

// Parse reads -port, -pluginUUID, -registerEvent and -info. The first three
// are required; a ConfigError is returned before any connection is attempted.
func Parse(args []string) (Params, error) {
	fs := flag.NewFlagSet("plugin", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	port := fs.String("port", "", "host WebSocket port")
	uuid := fs.String("pluginUUID", "", "plugin registration UUID")
	registerEvent := fs.String("registerEvent", "", "registration event name")
	info := fs.String("info", "", "host information JSON")

	if err := fs.Parse(args); err != nil {
		return Params{}, &ConfigError{Args: args, Err: err}
	}

	var missing []string
	if *port == "" {
		missing = append(missing, "-port")
	}
	if *uuid == "" {
		missing = append(missing, "-pluginUUID")
	}
	if *registerEvent == "" {
		missing = append(missing, "-registerEvent")
	}
	if len(missing) > 0 {
		return Params{}, &ConfigError{Missing: missing, Args: args}
	}

	n, err := strconv.Atoi(*port)
	if err != nil || n <= 0 || n > 65535 {
		return Params{}, &ConfigError{Args: args, Err: fmt.Errorf("invalid port %q", *port)}
	}

	return Params{
		Port:          n,
		PluginUUID:    *uuid,
		RegisterEvent: *registerEvent,
		Info:          *info,
	}, nil
}

// Args renders p back into the flag/value form Parse accepts.
func (p Params) Args() []string {
	args := []string{
		"-port", strconv.Itoa(p.Port),
		"-pluginUUID", p.PluginUUID,
		"-registerEvent", p.RegisterEvent,
	}
	if p.Info != "" {
		args = append(args, "-info", p.Info)
	}
	return args
}

// URL is the host WebSocket endpoint for p.
func (p Params) URL(host string) string {
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("ws://%s:%d", host, p.Port)
}
