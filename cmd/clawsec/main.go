// clawsec is the command-line surface of the enforcement core: analyze a
// tool call, sanitize a tool result, or validate a configuration file.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/clawsec/core/pkg/config"
)

const version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches to the subcommands. Split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "check":
		return runCheckCmd(args[2:], stdout, stderr)
	case "sanitize":
		return runSanitizeCmd(args[2:], stdout, stderr)
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "templates":
		fmt.Fprintln(stdout, strings.Join(config.TemplateNames(), "\n"))
		return 0
	case "version", "--version":
		fmt.Fprintf(stdout, "clawsec %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "clawsec %s - policy enforcement for agent tool calls\n\n", version)
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  clawsec <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  check      Analyze a tool call (-tool, -input, -config, -json, -interactive)")
	fmt.Fprintln(w, "  sanitize   Filter a tool result (-input, -config, -json)")
	fmt.Fprintln(w, "  validate   Validate a configuration file (-config)")
	fmt.Fprintln(w, "  templates  List built-in configuration templates")
	fmt.Fprintln(w, "  version    Print the version")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Exit codes: 0 allow/warn, 1 block/confirm, 2 error.")
}

// loadConfig resolves -config; an empty path means the balanced defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// readInput interprets a -input value: "-" reads stdin, "@path" reads a
// file, anything else is the literal payload.
func readInput(value string) ([]byte, error) {
	switch {
	case value == "-":
		return io.ReadAll(os.Stdin)
	case strings.HasPrefix(value, "@"):
		return os.ReadFile(value[1:])
	default:
		return []byte(value), nil
	}
}
