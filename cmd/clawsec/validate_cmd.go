package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/clawsec/core/pkg/contracts"
)

// runValidateCmd implements `clawsec validate`: load, merge, and
// schema-check a configuration file.
//
// Exit codes:
//
//	0 = configuration is valid
//	1 = configuration is invalid
//	2 = usage error
func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var configPath string
	cmd.StringVar(&configPath, "config", "", "Configuration file (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if configPath == "" {
		fmt.Fprintln(stderr, "Error: -config is required")
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Valid: %s\n", configPath)
	fmt.Fprintf(stdout, "  enabled: %t\n", cfg.Enabled())
	for _, cat := range contracts.Categories() {
		rule := cfg.RuleFor(cat)
		state := "on"
		if !rule.IsEnabled() {
			state = "off"
		}
		line := fmt.Sprintf("  %s: %s", cat, state)
		if rule.Action != "" {
			line += " action=" + rule.Action
		}
		fmt.Fprintln(stdout, line)
	}
	fmt.Fprintf(stdout, "  oracle: %t\n", cfg.OracleEnabled())
	return 0
}
