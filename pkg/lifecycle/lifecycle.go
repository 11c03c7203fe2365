// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle moves artifacts from the staging directory into the
// trusted directory. Nothing reaches the trusted directory without an
// accepted verdict from the admission gate.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/warden/pkg/admission"
	"github.com/jllopis/warden/pkg/audit"
	werrors "github.com/jllopis/warden/pkg/errors"
	"github.com/jllopis/warden/pkg/telemetry"
	"github.com/jllopis/warden/pkg/tools"
)

// State is the lifecycle position of an artifact.
type State string

const (
	StateDraft     State = "draft"
	StateInspected State = "inspected"
	StateActive    State = "active"
	StateLoaded    State = "loaded"
	StateInvoked   State = "invoked"
)

// Reloader rescans the trusted directory after a promotion.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Report is the outcome of inspecting or promoting one draft.
type Report struct {
	Name        string            `json:"name"`
	State       State             `json:"state"`
	Verdict     admission.Verdict `json:"verdict"`
	Digest      string            `json:"digest,omitempty"`
	ReloadError string            `json:"reload_error,omitempty"`
}

// Coordinator owns the staging and active directory pair.
type Coordinator struct {
	gate     *admission.Gate
	staging  string
	active   string
	patterns tools.Patterns
	audit    audit.Store
	reloader Reloader
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPatterns sets which staged files count as drafts.
func WithPatterns(p tools.Patterns) Option {
	return func(c *Coordinator) { c.patterns = p }
}

// WithAudit records lifecycle events in store.
func WithAudit(store audit.Store) Option {
	return func(c *Coordinator) {
		if store != nil {
			c.audit = store
		}
	}
}

// WithReloader asks r to rescan after each successful promotion.
func WithReloader(r Reloader) Option {
	return func(c *Coordinator) { c.reloader = r }
}

// WithMetrics records verdict counts.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator returns a coordinator promoting from staging into active.
func NewCoordinator(gate *admission.Gate, staging, active string, opts ...Option) *Coordinator {
	c := &Coordinator{
		gate:     gate,
		staging:  staging,
		active:   active,
		patterns: tools.DefaultPatterns(),
		audit:    audit.Nop{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("warden/lifecycle"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StagingDir returns the directory drafts are read from.
func (c *Coordinator) StagingDir() string { return c.staging }

// ActiveDir returns the trusted directory.
func (c *Coordinator) ActiveDir() string { return c.active }

// Drafts lists the eligible staged artifacts by file name. A missing staging
// directory has no drafts.
func (c *Coordinator) Drafts() ([]string, error) {
	paths, err := c.patterns.List(c.staging)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	return names, nil
}

// Inspect computes the verdict for staging/<name> and records it.
func (c *Coordinator) Inspect(ctx context.Context, name string) (Report, error) {
	ctx, span := c.tracer.Start(ctx, "Admission.Inspect")
	defer span.End()

	report, _, err := c.inspect(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Report{}, err
	}
	span.SetAttributes(telemetry.VerdictAttributes(name, report.Verdict.Accepted, violationStrings(report.Verdict))...)
	return report, nil
}

// Promote inspects staging/<name> and, when accepted, copies it into the
// active directory. A rejected draft is left untouched and nothing is
// written to the active directory.
func (c *Coordinator) Promote(ctx context.Context, name string) (Report, error) {
	ctx, span := c.tracer.Start(ctx, "Lifecycle.Promote")
	defer span.End()

	report, src, err := c.inspect(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Report{}, err
	}
	violations := violationStrings(report.Verdict)
	span.SetAttributes(telemetry.VerdictAttributes(name, report.Verdict.Accepted, violations)...)

	if !report.Verdict.Accepted {
		ev := audit.NewEvent(audit.KindRejected, name)
		ev.Digest = report.Digest
		ev.Detail = report.Verdict.Summary()
		ev.Violations = violations
		c.record(ctx, ev)
		c.logger.WarnContext(ctx, "lifecycle.promote.rejected",
			slog.String("artifact", name),
			slog.String("violations", report.Verdict.Summary()),
		)
		return report, nil
	}

	if err := writeAtomic(c.active, name, src); err != nil {
		err = werrors.New(werrors.CodeInternal, "promote artifact", err).WithContext("artifact", name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	report.State = StateActive
	ev := audit.NewEvent(audit.KindPromoted, name)
	ev.Digest = report.Digest
	c.record(ctx, ev)
	c.logger.InfoContext(ctx, "lifecycle.promote.complete",
		slog.String("artifact", name),
		slog.String("active_dir", c.active),
	)

	if c.reloader != nil {
		if err := c.reloader.Reload(ctx); err != nil {
			report.ReloadError = err.Error()
			c.logger.WarnContext(ctx, "lifecycle.reload.failed",
				slog.String("artifact", name),
				slog.String("error", err.Error()),
			)
		} else {
			report.State = StateLoaded
		}
	}
	return report, nil
}

// PromoteAll promotes every draft and returns one report per draft. A draft
// that cannot be read yields a report carrying its parse error.
func (c *Coordinator) PromoteAll(ctx context.Context) ([]Report, error) {
	names, err := c.Drafts()
	if err != nil {
		return nil, err
	}
	reports := make([]Report, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := c.Promote(ctx, name)
		if err != nil {
			return reports, fmt.Errorf("promote %s: %w", name, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// inspect reads the draft and runs the gate. The returned error covers
// invalid names only; unreadable or unparsable drafts produce a rejecting
// verdict.
func (c *Coordinator) inspect(ctx context.Context, name string) (Report, []byte, error) {
	if name == "" || !filepath.IsLocal(name) || filepath.Base(name) != name {
		return Report{}, nil, werrors.Newf(werrors.CodeInvalidInput, "invalid artifact name %q", name)
	}
	path := filepath.Join(c.staging, name)
	src, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Report{}, nil, werrors.Newf(werrors.CodeNotFound, "draft %q not found", name).
			WithContext("staging_dir", c.staging)
	}

	var verdict admission.Verdict
	if err != nil {
		// Unreadable drafts surface as a ParseError rejection.
		verdict = c.gate.InspectFile(path)
		src = nil
	} else {
		verdict = c.gate.InspectNamed(name, src)
	}

	report := Report{Name: name, State: StateInspected, Verdict: verdict}
	if src != nil {
		report.Digest = audit.Digest(src)
	}
	c.metrics.RecordVerdict(ctx, verdict.Accepted)

	ev := audit.NewEvent(audit.KindInspected, name)
	ev.Digest = report.Digest
	ev.Data = map[string]any{"accepted": verdict.Accepted}
	if !verdict.Accepted {
		ev.Detail = verdict.Summary()
		ev.Violations = violationStrings(verdict)
	}
	c.record(ctx, ev)
	return report, src, nil
}

func (c *Coordinator) record(ctx context.Context, ev audit.Event) {
	if err := c.audit.Record(ctx, ev); err != nil {
		c.logger.ErrorContext(ctx, "lifecycle.audit.failed", slog.String("error", err.Error()))
	}
}

func violationStrings(v admission.Verdict) []string {
	if len(v.Violations) == 0 {
		return nil
	}
	out := make([]string, len(v.Violations))
	for i, violation := range v.Violations {
		out[i] = violation.String()
	}
	return out
}

// writeAtomic writes content to dir/name through a temp file and rename, so
// a reader of dir sees either the old file or the new one.
func writeAtomic(dir, name string, content []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, name))
}
