package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/clawsec/core/pkg/sanitize"
)

// runSanitizeCmd implements `clawsec sanitize`. The input is treated as
// JSON when it parses, otherwise as plain text.
//
// Exit codes:
//
//	0 = clean, nothing redacted
//	1 = content was redacted or blocked
//	2 = runtime error
func runSanitizeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sanitize", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		input      string
		configPath string
		jsonOutput bool
	)
	cmd.StringVar(&input, "input", "-", "Content as text, JSON, @file, or - for stdin")
	cmd.StringVar(&configPath, "config", "", "Configuration file (default: balanced template)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	raw, err := readInput(input)
	if err != nil {
		fmt.Fprintf(stderr, "Error: read input: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		value = string(raw)
	}

	result := sanitize.New(cfg, nil).Sanitize(value)

	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]any{
			"filteredValue": result.FilteredValue,
			"redactions":    result.Redactions,
			"wasRedacted":   result.WasRedacted,
		}, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		if text, ok := result.FilteredValue.(string); ok {
			fmt.Fprintln(stdout, text)
		} else {
			data, _ := json.Marshal(result.FilteredValue)
			fmt.Fprintln(stdout, string(data))
		}
		for _, r := range result.Redactions {
			fmt.Fprintf(stderr, "redacted: %s (%s)\n", r.Type, r.Description)
		}
	}

	if result.WasRedacted {
		return 1
	}
	return 0
}
