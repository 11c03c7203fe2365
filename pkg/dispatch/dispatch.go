// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch is the entry point callers use to discover and invoke
// capabilities and skills. It holds no state beyond the registries it wraps.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/warden/pkg/audit"
	"github.com/jllopis/warden/pkg/capability"
	werrors "github.com/jllopis/warden/pkg/errors"
	"github.com/jllopis/warden/pkg/skills"
	"github.com/jllopis/warden/pkg/telemetry"
)

const (
	kindTool  = "tool"
	kindSkill = "skill"
)

// Capabilities is the read side of the capability registry.
type Capabilities interface {
	Get(name string) (capability.Capability, bool)
	Descriptors() []capability.Descriptor
}

// Skills is the read and execute side of the skill registry.
type Skills interface {
	List() []skills.Info
	Execute(ctx context.Context, id string, params map[string]any) (map[string]any, error)
}

// Outcome is the result of routing a free-form task.
type Outcome struct {
	Task         string         `json:"task"`
	SessionID    string         `json:"session_id,omitempty"`
	MatchedSkill string         `json:"matched_skill,omitempty"`
	Message      string         `json:"message"`
	Data         map[string]any `json:"data,omitempty"`
}

// Dispatcher invokes capabilities and skills on behalf of callers.
type Dispatcher struct {
	tools   Capabilities
	skills  Skills
	timeout time.Duration
	audit   audit.Store
	metrics *telemetry.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout bounds how long callers wait for an invocation. Zero waits
// until the invocation returns.
func WithTimeout(d time.Duration) Option {
	return func(x *Dispatcher) { x.timeout = d }
}

// WithAudit records invocations in store.
func WithAudit(store audit.Store) Option {
	return func(x *Dispatcher) {
		if store != nil {
			x.audit = store
		}
	}
}

// WithMetrics records invocation counts and durations.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(x *Dispatcher) { x.metrics = m }
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(x *Dispatcher) {
		if logger != nil {
			x.logger = logger
		}
	}
}

// New returns a dispatcher over the given registries. Either may be nil.
func New(tools Capabilities, skillSet Skills, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		tools:  tools,
		skills: skillSet,
		audit:  audit.Nop{},
		logger: slog.Default(),
		tracer: otel.Tracer("warden/dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ListCapabilities returns the metadata of every loaded capability.
func (d *Dispatcher) ListCapabilities() []capability.Descriptor {
	if d.tools == nil {
		return nil
	}
	return d.tools.Descriptors()
}

// InvokeCapability runs capability name with kwargs. A missing capability is
// a NotFound error; any other outcome, faults included, is a Result.
func (d *Dispatcher) InvokeCapability(ctx context.Context, name string, kwargs map[string]any) (capability.Result, error) {
	ctx, span := d.tracer.Start(ctx, "Dispatch.InvokeCapability",
		trace.WithAttributes(telemetry.InvocationAttributes(kindTool, name)...))
	defer span.End()

	var (
		c  capability.Capability
		ok bool
	)
	if d.tools != nil {
		c, ok = d.tools.Get(name)
	}
	if !ok {
		err := werrors.Newf(werrors.CodeNotFound, "Capability '%s' not found.", name).WithContext("capability", name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return capability.Result{}, err
	}

	start := time.Now()
	res, err := withTimeout(ctx, d.timeout, func() (capability.Result, error) {
		return capability.Execute(c, kwargs), nil
	})
	elapsed := time.Since(start)

	success := err == nil && res.Success
	d.finish(ctx, span, kindTool, name, success, err, elapsed, func(ev *audit.Event) {
		if err == nil {
			ev.Detail = res.Message
		}
	})
	return res, err
}

// ListSkills returns every registered skill.
func (d *Dispatcher) ListSkills() []skills.Info {
	if d.skills == nil {
		return nil
	}
	return d.skills.List()
}

// InvokeSkill runs skill id with params.
func (d *Dispatcher) InvokeSkill(ctx context.Context, id string, params map[string]any) (map[string]any, error) {
	ctx, span := d.tracer.Start(ctx, "Dispatch.InvokeSkill",
		trace.WithAttributes(telemetry.InvocationAttributes(kindSkill, id)...))
	defer span.End()

	if d.skills == nil {
		err := werrors.Newf(werrors.CodeNotFound, "Skill '%s' not found.", id).WithContext("skill", id)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	out, err := withTimeout(ctx, d.timeout, func() (map[string]any, error) {
		return d.skills.Execute(ctx, id, params)
	})
	elapsed := time.Since(start)

	if werrors.Is(err, werrors.CodeNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	d.finish(ctx, span, kindSkill, id, err == nil, err, elapsed, nil)
	return out, err
}

// Route matches task against the trigger keywords of each skill, in ID
// order, and invokes the first match with params. Without a match the task
// is acknowledged and nothing runs.
func (d *Dispatcher) Route(ctx context.Context, task string, params map[string]any) (Outcome, error) {
	out := Outcome{Task: task}
	lowered := strings.ToLower(task)
	for _, info := range d.ListSkills() {
		if !matchesAny(lowered, info.Triggers) {
			continue
		}
		data, err := d.InvokeSkill(ctx, info.ID, params)
		if err != nil {
			return out, err
		}
		out.MatchedSkill = info.ID
		out.Data = data
		out.Message = "Skill executed."
		if msg, ok := data["message"].(string); ok {
			out.Message = msg
		}
		return out, nil
	}
	out.Message = "Task '" + task + "' processed."
	d.logger.DebugContext(ctx, "dispatch.route.unmatched", slog.String("task", task))
	return out, nil
}

func matchesAny(task string, triggers []string) bool {
	for _, trigger := range triggers {
		if trigger != "" && strings.Contains(task, trigger) {
			return true
		}
	}
	return false
}

// finish closes the span and records metrics and the audit event of one
// invocation.
func (d *Dispatcher) finish(ctx context.Context, span trace.Span, kind, name string, success bool, err error, elapsed time.Duration, decorate func(*audit.Event)) {
	span.SetAttributes(attribute.Bool(telemetry.AttrCapabilitySuccess, success))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(telemetry.AttrErrorCode, string(werrors.CodeOf(err))))
	}
	d.metrics.RecordInvocation(ctx, kind, name, success, err, elapsed)

	ev := audit.NewEvent(audit.KindInvoked, kind+":"+name)
	ev.Data = map[string]any{
		"success":     success,
		"duration_ms": elapsed.Milliseconds(),
	}
	if err != nil {
		ev.Detail = err.Error()
	}
	if decorate != nil {
		decorate(&ev)
	}
	if recErr := d.audit.Record(ctx, ev); recErr != nil {
		d.logger.ErrorContext(ctx, "dispatch.audit.failed", slog.String("error", recErr.Error()))
	}

	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	d.logger.Log(ctx, level, "dispatch.invoke.complete",
		slog.String("kind", kind),
		slog.String("name", name),
		slog.Bool("success", success),
		slog.Duration("elapsed", elapsed),
	)
}
