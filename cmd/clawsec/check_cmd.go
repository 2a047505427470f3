package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/clawsec/core/pkg/audit"
	"github.com/clawsec/core/pkg/contracts"
	"github.com/clawsec/core/pkg/engine"
)

// runCheckCmd implements `clawsec check`.
//
// Exit codes:
//
//	0 = allow, log, or warn
//	1 = block or confirm (denied or unresolved)
//	2 = runtime error
func runCheckCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("check", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tool        string
		input       string
		configPath  string
		auditPath   string
		jsonOutput  bool
		interactive bool
	)
	cmd.StringVar(&tool, "tool", "", "Tool name (REQUIRED)")
	cmd.StringVar(&input, "input", "", "Tool input as JSON, @file, or - for stdin (REQUIRED)")
	cmd.StringVar(&configPath, "config", "", "Configuration file (default: balanced template)")
	cmd.StringVar(&auditPath, "audit", "", "Append audit events to file as JSON lines")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the result as JSON")
	cmd.BoolVar(&interactive, "interactive", false, "Prompt for approval when the verdict is confirm")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tool == "" || input == "" {
		fmt.Fprintln(stderr, "Error: -tool and -input are required")
		return 2
	}

	raw, err := readInput(input)
	if err != nil {
		fmt.Fprintf(stderr, "Error: read input: %v\n", err)
		return 2
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		fmt.Fprintf(stderr, "Error: input is not a JSON object: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	opts := []engine.Option{}
	if auditPath != "" {
		f, err := os.OpenFile(auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(stderr, "Error: open audit file: %v\n", err)
			return 2
		}
		defer f.Close()
		opts = append(opts, engine.WithAudit(audit.NewWriterSink(f)))
	}

	eng, err := engine.New(cfg, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	call := &contracts.ToolCall{Tool: tool, Input: params}
	result, err := eng.Analyze(ctx, call)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	// Native approval flow: the ticket lives in this process, so the
	// prompt resolves it inline and the call is re-checked.
	if interactive && result.Action == contracts.ActionConfirm && result.Approval != nil && cfg.NativeEnabled() {
		result, err = promptApproval(ctx, eng, cfg.ConfirmParameter(), call, result, stdout, stderr)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		printResult(stdout, result)
	}

	switch result.Action {
	case contracts.ActionBlock, contracts.ActionConfirm:
		return 1
	default:
		return 0
	}
}

func promptApproval(ctx context.Context, eng *engine.Engine, param string, call *contracts.ToolCall, result *contracts.AnalysisResult, stdout, stderr io.Writer) (*contracts.AnalysisResult, error) {
	fmt.Fprintf(stdout, "CONFIRM: %s\n", result.Reason)
	fmt.Fprint(stdout, "Approve? [y/N]: ")

	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	if strings.ToLower(strings.TrimSpace(line)) != "y" {
		if _, err := eng.Store().Deny(result.Approval.ID, "operator"); err != nil {
			fmt.Fprintf(stderr, "Warning: deny ticket: %v\n", err)
		}
		return result, nil
	}

	retry := &contracts.ToolCall{Tool: call.Tool, Input: map[string]any{}}
	for k, v := range call.Input {
		retry.Input[k] = v
	}
	retry.Input[param] = result.Approval.ID
	return eng.Analyze(ctx, retry)
}

func printResult(w io.Writer, result *contracts.AnalysisResult) {
	fmt.Fprintf(w, "Action: %s\n", result.Action)
	if result.Reason != "" {
		fmt.Fprintf(w, "Reason: %s\n", result.Reason)
	}
	if result.Cached {
		fmt.Fprintln(w, "Cached: true")
	}
	for _, d := range result.Detections {
		fmt.Fprintf(w, "  - [%s/%s] %.2f %s\n", d.Category, d.Severity, d.Confidence, d.Reason)
	}
	if result.Approval != nil {
		fmt.Fprintf(w, "Ticket: %s (expires in %ds, methods: %s)\n",
			result.Approval.ID, result.Approval.ExpiresInSeconds,
			strings.Join(result.Approval.Methods, ", "))
	}
}
