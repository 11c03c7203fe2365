package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	werrors "github.com/jllopis/warden/pkg/errors"
)

var version = "dev"

type globalFlags struct {
	ConfigArgs []string
	ConfigPath string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fail(NewInvalidArgumentError("flags", err.Error()), global.JSON)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	switch args[0] {
	case "help":
		printUsage()
		return
	case "version":
		fmt.Println("warden " + version)
		return
	}

	a, err := newApp(ctx, global)
	if err != nil {
		fail(err, global.JSON)
	}
	defer a.Close()

	if err := run(ctx, a, args); err != nil {
		a.Close()
		fail(err, global.JSON)
	}
}

func run(ctx context.Context, a *app, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "serve":
		return runServe(ctx, a, rest)
	case "inspect":
		return runInspect(ctx, a, rest)
	case "promote":
		return runPromote(ctx, a, rest)
	case "drafts":
		if err := ensureNoArgs(rest); err != nil {
			return err
		}
		return runDrafts(a)
	case "tools":
		return runTools(ctx, a, rest)
	case "skills":
		return runSkills(ctx, a, rest)
	case "dispatch":
		return runDispatch(ctx, a, rest)
	case "audit":
		return runAudit(ctx, a, rest)
	case "mcp":
		return runMCP(ctx, a, rest)
	default:
		return NewInvalidArgumentError(cmd, fmt.Sprintf("unknown command %q", cmd))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --config")
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			flags.ConfigPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
			flags.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--set":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --set")
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--set="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

// parseParams turns key=value arguments into an invocation payload. Values
// are decoded as JSON when possible.
func parseParams(args []string) (map[string]any, error) {
	params := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, NewInvalidArgumentError(arg, "expected key=value")
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		params[key] = value
	}
	return params, nil
}

func ensureNoArgs(args []string) error {
	if len(args) > 0 {
		return NewInvalidArgumentError(strings.Join(args, " "), "unexpected arguments")
	}
	return nil
}

func printJSON(value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(payload))
	return nil
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.Join(strings.Fields(value), " ")
}

func printUsage() {
	fmt.Println(`Warden: capability admission and dynamic execution

Usage:
  warden [global flags] <command> [args]

Global flags:
  --config <path>      Path to a YAML or JSON config file
  --set key=value      Override config (repeatable)
  --json               JSON output

Commands:
  serve [--addr :8000] [--watch]
  inspect <draft|path>
  promote <draft> | promote --all
  drafts
  tools list
  tools invoke <name> [key=value ...]
  tools watch
  skills list
  skills run <id> [key=value ...]
  skills schema
  dispatch <task> [key=value ...]
  audit [--kind <kind>] [--subject <name>] [--limit N]
  mcp serve [--http <addr>]
  mcp tools
  version`)
}

func fail(err error, asJSON bool) {
	var cliErr *CLIError
	var we *werrors.WardenError
	switch {
	case errors.As(err, &cliErr):
		cliErr.PrintError(asJSON)
	case errors.As(err, &we):
		WrapError(err).PrintError(asJSON)
	default:
		PrintSimpleError(err, asJSON)
	}
	os.Exit(exitCode(err))
}
