package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mattjoyce/deckrelay/internal/config"
	"github.com/mattjoyce/deckrelay/internal/demo"
	"github.com/mattjoyce/deckrelay/internal/doctor"
)

// runDoctor checks the configuration and the built-in action table without
// starting anything.
func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitConfig
	}

	path, err := config.Discover(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return exitConfig
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitConfig
	}
	reg, err := demo.Registry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build action registry: %v\n", err)
		return exitRuntime
	}

	result := doctor.New(cfg, reg).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render report: %v\n", err)
			return exitRuntime
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return exitConfig
	}
	return exitOK
}
