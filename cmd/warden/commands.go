package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jllopis/warden/pkg/admission"
	"github.com/jllopis/warden/pkg/audit"
	werrors "github.com/jllopis/warden/pkg/errors"
	"github.com/jllopis/warden/pkg/lifecycle"
	wardenmcp "github.com/jllopis/warden/pkg/mcp"
	"github.com/jllopis/warden/pkg/server"
	"github.com/jllopis/warden/pkg/skills"
)

func runServe(ctx context.Context, a *app, args []string) error {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := cmd.String("addr", a.cfg.Server.HTTPAddr, "HTTP listen address")
	watch := cmd.Bool("watch", a.cfg.Tools.Watch, "Rescan the tools directory on change")
	if err := cmd.Parse(args); err != nil {
		return NewInvalidArgumentError("serve", err.Error())
	}
	if err := a.watchConfig(ctx); err != nil {
		return err
	}

	srv := server.New(a.disp,
		server.WithLifecycle(a.coord),
		server.WithAudit(a.audit),
		server.WithLogger(a.logger),
	)
	if *watch {
		go a.watchTools(ctx)
	}
	return srv.ListenAndServe(ctx, *addr)
}

// runInspect vets a staged draft by name, or any file by path.
func runInspect(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return NewInvalidArgumentError("inspect", "usage: warden inspect <draft|path>")
	}
	target := args[0]

	var (
		name    = target
		verdict admission.Verdict
	)
	if info, err := os.Stat(target); err == nil && !info.IsDir() && strings.ContainsRune(target, os.PathSeparator) {
		verdict = a.gate.InspectFile(target)
	} else {
		report, err := a.coord.Inspect(ctx, target)
		if err != nil {
			return err
		}
		verdict = report.Verdict
	}

	if a.flags.JSON {
		if err := printJSON(verdict); err != nil {
			return err
		}
	} else {
		printVerdict(name, verdict)
	}
	if !verdict.Accepted {
		return NewRejectedError(name, verdict.Summary())
	}
	return nil
}

func runPromote(ctx context.Context, a *app, args []string) error {
	cmd := flag.NewFlagSet("promote", flag.ContinueOnError)
	all := cmd.Bool("all", false, "Promote every draft")
	if err := cmd.Parse(args); err != nil {
		return NewInvalidArgumentError("promote", err.Error())
	}

	var reports []lifecycle.Report
	switch {
	case *all && cmd.NArg() == 0:
		var err error
		if reports, err = a.coord.PromoteAll(ctx); err != nil {
			return err
		}
	case !*all && cmd.NArg() == 1:
		report, err := a.coord.Promote(ctx, cmd.Arg(0))
		if err != nil {
			return err
		}
		reports = append(reports, report)
	default:
		return NewInvalidArgumentError("promote", "usage: warden promote <draft> | --all")
	}

	if a.flags.JSON {
		if err := printJSON(reports); err != nil {
			return err
		}
	} else {
		writer := newTabWriter()
		writeRow(writer, "DRAFT", "STATE", "VERDICT", "NOTE")
		for _, r := range reports {
			writeRow(writer, r.Name, string(r.State), r.Verdict.Summary(), r.ReloadError)
		}
		_ = writer.Flush()
	}

	for _, r := range reports {
		if !r.Verdict.Accepted {
			if len(reports) == 1 {
				return NewRejectedError(r.Name, r.Verdict.Summary())
			}
			return NewRejectedError("one or more drafts", "see the report above")
		}
	}
	return nil
}

func runDrafts(a *app) error {
	drafts, err := a.coord.Drafts()
	if err != nil {
		return err
	}
	if a.flags.JSON {
		return printJSON(drafts)
	}
	if len(drafts) == 0 {
		fmt.Printf("no drafts in %s\n", a.coord.StagingDir())
		return nil
	}
	for _, name := range drafts {
		fmt.Println(name)
	}
	return nil
}

func runTools(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return NewInvalidArgumentError("tools", "usage: warden tools <list|invoke|watch>")
	}
	switch args[0] {
	case "list":
		if err := ensureNoArgs(args[1:]); err != nil {
			return err
		}
		descriptors := a.disp.ListCapabilities()
		if a.flags.JSON {
			return printJSON(descriptors)
		}
		writer := newTabWriter()
		writeRow(writer, "NAME", "DESCRIPTION", "INPUTS")
		for _, d := range descriptors {
			keys := make([]string, 0, len(d.InputSchema))
			for key := range d.InputSchema {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			writeRow(writer, d.Name, d.Description, strings.Join(keys, ","))
		}
		return writer.Flush()
	case "invoke":
		if len(args) < 2 {
			return NewInvalidArgumentError("tools invoke", "usage: warden tools invoke <name> [key=value ...]")
		}
		kwargs, err := parseParams(args[2:])
		if err != nil {
			return err
		}
		res, err := a.disp.InvokeCapability(ctx, args[1], kwargs)
		if err != nil {
			if werrors.Is(err, werrors.CodeNotFound) {
				return NewNotFoundError("tool", args[1])
			}
			return err
		}
		if a.flags.JSON {
			return printJSON(res)
		}
		fmt.Println(res.Message)
		if !res.Success {
			return werrors.New(werrors.CodeExecutionFault, res.Message, nil)
		}
		return nil
	case "watch":
		if err := ensureNoArgs(args[1:]); err != nil {
			return err
		}
		dir := a.cfg.Tools.ActiveDir
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		return a.tools.Watch(ctx, dir, a.cfg.Tools.WatchDebounce)
	default:
		return NewInvalidArgumentError(args[0], fmt.Sprintf("unknown tools command %q", args[0]))
	}
}

func runSkills(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return NewInvalidArgumentError("skills", "usage: warden skills <list|run|schema>")
	}
	switch args[0] {
	case "list":
		if err := ensureNoArgs(args[1:]); err != nil {
			return err
		}
		list := a.disp.ListSkills()
		if a.flags.JSON {
			return printJSON(list)
		}
		writer := newTabWriter()
		writeRow(writer, "ID", "NAME", "DESCRIPTION", "TRIGGERS")
		for _, info := range list {
			writeRow(writer, info.ID, info.Name, info.Description, strings.Join(info.Triggers, ","))
		}
		return writer.Flush()
	case "run":
		if len(args) < 2 {
			return NewInvalidArgumentError("skills run", "usage: warden skills run <id> [key=value ...]")
		}
		params, err := parseParams(args[2:])
		if err != nil {
			return err
		}
		out, err := a.disp.InvokeSkill(ctx, args[1], params)
		if err != nil {
			if werrors.Is(err, werrors.CodeNotFound) {
				return NewNotFoundError("skill", args[1])
			}
			return err
		}
		return printJSON(out)
	case "schema":
		if err := ensureNoArgs(args[1:]); err != nil {
			return err
		}
		raw, err := skills.ManifestSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	default:
		return NewInvalidArgumentError(args[0], fmt.Sprintf("unknown skills command %q", args[0]))
	}
}

func runDispatch(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return NewInvalidArgumentError("dispatch", "usage: warden dispatch <task> [key=value ...]")
	}
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}
	outcome, err := a.disp.Route(ctx, args[0], params)
	if err != nil {
		return err
	}
	if a.flags.JSON {
		return printJSON(outcome)
	}
	if outcome.MatchedSkill != "" {
		fmt.Printf("[%s] %s\n", outcome.MatchedSkill, outcome.Message)
		return nil
	}
	fmt.Println(outcome.Message)
	return nil
}

func runAudit(ctx context.Context, a *app, args []string) error {
	cmd := flag.NewFlagSet("audit", flag.ContinueOnError)
	kind := cmd.String("kind", "", "Event kind filter")
	subject := cmd.String("subject", "", "Subject filter")
	since := cmd.Duration("since", 0, "Only events newer than this duration")
	limit := cmd.Int("limit", 50, "Maximum number of events")
	if err := cmd.Parse(args); err != nil {
		return NewInvalidArgumentError("audit", err.Error())
	}
	if err := ensureNoArgs(cmd.Args()); err != nil {
		return err
	}

	filter := audit.Filter{Kind: audit.Kind(*kind), Subject: *subject, Limit: *limit}
	if *since > 0 {
		filter.Since = time.Now().Add(-*since)
	}
	events, err := a.audit.List(ctx, filter)
	if err != nil {
		return err
	}
	if a.flags.JSON {
		return printJSON(events)
	}
	if a.cfg.Audit.Backend == "memory" && len(events) == 0 {
		fmt.Println("no events (the memory backend only holds events of this process; set audit.backend=sqlite)")
		return nil
	}
	writer := newTabWriter()
	writeRow(writer, "TIME", "KIND", "SUBJECT", "DETAIL")
	for _, ev := range events {
		writeRow(writer, ev.CreatedAt.Format(time.RFC3339), string(ev.Kind), ev.Subject, truncate(ev.Detail, 80))
	}
	return writer.Flush()
}

func runMCP(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return NewInvalidArgumentError("mcp", "usage: warden mcp <serve|tools>")
	}
	srv := wardenmcp.NewServer(a.cfg.Telemetry.ServiceName, version, a.disp)

	switch args[0] {
	case "serve":
		cmd := flag.NewFlagSet("mcp serve", flag.ContinueOnError)
		httpAddr := cmd.String("http", "", "Serve streamable HTTP on this address instead of stdio")
		watch := cmd.Bool("watch", a.cfg.Tools.Watch, "Rescan the tools directory on change")
		if err := cmd.Parse(args[1:]); err != nil {
			return NewInvalidArgumentError("mcp serve", err.Error())
		}
		if err := a.watchConfig(ctx); err != nil {
			return err
		}
		a.tools.OnLoad(srv.Sync)
		if *watch {
			go a.watchTools(ctx)
		}
		if *httpAddr != "" {
			return srv.ServeHTTP(ctx, *httpAddr)
		}
		return srv.ServeStdio()
	case "tools":
		if err := ensureNoArgs(args[1:]); err != nil {
			return err
		}
		client, err := wardenmcp.NewInProcessClient(ctx, srv)
		if err != nil {
			return err
		}
		defer client.Close()
		tools, err := client.ListTools(ctx)
		if err != nil {
			return err
		}
		if a.flags.JSON {
			return printJSON(tools)
		}
		writer := newTabWriter()
		writeRow(writer, "TOOL", "DESCRIPTION")
		for _, tool := range tools {
			writeRow(writer, tool.Name, tool.Description)
		}
		return writer.Flush()
	default:
		return NewInvalidArgumentError(args[0], fmt.Sprintf("unknown mcp command %q", args[0]))
	}
}

// watchTools rescans the tools directory until ctx is done.
func (a *app) watchTools(ctx context.Context) {
	dir := a.cfg.Tools.ActiveDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		a.logger.Warn("tools.watch.failed", slog.String("error", err.Error()))
		return
	}
	if err := a.tools.Watch(ctx, dir, a.cfg.Tools.WatchDebounce); err != nil {
		a.logger.Warn("tools.watch.failed", slog.String("error", err.Error()))
	}
}

func printVerdict(name string, v admission.Verdict) {
	if v.Accepted {
		fmt.Printf("%s: accepted\n", name)
		return
	}
	fmt.Printf("%s: rejected (%d violations)\n", name, len(v.Violations))
	for _, violation := range v.Violations {
		fmt.Printf("  %s  %s\n", violation.Position, violation)
	}
}

func truncate(value string, limit int) string {
	value = normalizeCell(value)
	if len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}
