// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package tools implements the capability registry: the set of ad-hoc tools
// loaded from the trusted directory, keyed by the name each tool reports.
package tools

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/warden/pkg/audit"
	"github.com/jllopis/warden/pkg/capability"
	"github.com/jllopis/warden/pkg/runtime"
	"github.com/jllopis/warden/pkg/telemetry"
)

// Loader materializes the capabilities declared by one artifact.
type Loader interface {
	LoadCapabilitiesSource(path string, src []byte) (*runtime.Unit, error)
}

type entry struct {
	capability capability.Capability
	descriptor capability.Descriptor
	path       string
}

// Registry maps capability names to loaded capabilities. Rescans build a new
// map and swap it in, so readers never observe a partial registry.
type Registry struct {
	entries  atomic.Pointer[map[string]entry]
	scanMu   sync.Mutex
	dir      string
	loader   Loader
	patterns Patterns
	audit    audit.Store
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer

	listenersMu sync.Mutex
	listeners   []func()
}

// Option configures a Registry.
type Option func(*Registry)

// WithLoader sets the artifact loader.
func WithLoader(l Loader) Option {
	return func(r *Registry) { r.loader = l }
}

// WithPatterns sets the include and exclude globs.
func WithPatterns(p Patterns) Option {
	return func(r *Registry) { r.patterns = p }
}

// WithAudit records load events in store.
func WithAudit(store audit.Store) Option {
	return func(r *Registry) {
		if store != nil {
			r.audit = store
		}
	}
}

// WithMetrics records load failures.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		patterns: DefaultPatterns(),
		audit:    audit.Nop{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("warden/tools"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.loader == nil {
		r.loader = runtime.NewLoader(runtime.WithLogger(r.logger))
	}
	empty := map[string]entry{}
	r.entries.Store(&empty)
	return r
}

// Load scans dir and replaces the registry contents. A failing artifact or
// type is logged and skipped; it never aborts the scan. A missing directory
// leaves the registry empty.
func (r *Registry) Load(ctx context.Context, dir string) error {
	r.scanMu.Lock()
	defer r.scanMu.Unlock()
	r.dir = dir

	ctx, span := r.tracer.Start(ctx, "Tools.Load")
	defer span.End()

	next := map[string]entry{}
	paths, err := r.patterns.List(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		r.logger.WarnContext(ctx, "tools.load.missing_dir", slog.String("dir", dir))
	}

	failed := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		failed += r.loadArtifact(ctx, path, next)
	}

	r.entries.Store(&next)
	span.SetAttributes(telemetry.RegistryAttributes(len(next), failed)...)
	r.logger.InfoContext(ctx, "tools.load.complete",
		slog.String("dir", dir),
		slog.Int("capabilities", len(next)),
		slog.Int("failures", failed),
	)

	r.listenersMu.Lock()
	listeners := append([]func(){}, r.listeners...)
	r.listenersMu.Unlock()
	for _, fn := range listeners {
		fn()
	}
	return nil
}

// OnLoad registers fn to run after every completed scan.
func (r *Registry) OnLoad(fn func()) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Reload rescans the directory of the last Load.
func (r *Registry) Reload(ctx context.Context) error {
	r.scanMu.Lock()
	dir := r.dir
	r.scanMu.Unlock()
	if dir == "" {
		return errors.New("registry has not been loaded")
	}
	return r.Load(ctx, dir)
}

// loadArtifact adds the capabilities of one artifact to next and returns the
// number of failures.
func (r *Registry) loadArtifact(ctx context.Context, path string, next map[string]entry) int {
	name := filepath.Base(path)
	src, err := os.ReadFile(path)
	if err != nil {
		r.recordFailure(ctx, name, "", err)
		return 1
	}
	digest := audit.Digest(src)

	unit, err := r.loader.LoadCapabilitiesSource(path, src)
	if err != nil {
		r.recordFailure(ctx, name, digest, err)
		return 1
	}

	failed := 0
	for _, f := range unit.Failures {
		r.recordFailure(ctx, name+":"+f.Type, digest, f.Err)
		failed++
	}
	var loaded []string
	for _, c := range unit.Capabilities {
		d, err := capability.Describe(c)
		if err != nil {
			r.recordFailure(ctx, name, digest, err)
			failed++
			continue
		}
		if prev, exists := next[d.Name]; exists {
			r.logger.WarnContext(ctx, "tools.load.collision",
				slog.String("capability", d.Name),
				slog.String("previous", prev.path),
				slog.String("replacement", path),
			)
		}
		next[d.Name] = entry{capability: c, descriptor: d, path: path}
		loaded = append(loaded, d.Name)
	}
	if len(loaded) > 0 {
		ev := audit.NewEvent(audit.KindLoaded, name)
		ev.Digest = digest
		ev.Data = map[string]any{"capabilities": loaded}
		r.record(ctx, ev)
	}
	return failed
}

func (r *Registry) recordFailure(ctx context.Context, subject, digest string, err error) {
	r.logger.WarnContext(ctx, "tools.load.failed",
		slog.String("artifact", subject),
		slog.String("error", err.Error()),
	)
	r.metrics.RecordLoadFailure(ctx, subject)
	ev := audit.NewEvent(audit.KindLoadFailed, subject)
	ev.Digest = digest
	ev.Detail = err.Error()
	r.record(ctx, ev)
}

func (r *Registry) record(ctx context.Context, ev audit.Event) {
	if err := r.audit.Record(ctx, ev); err != nil {
		r.logger.ErrorContext(ctx, "tools.audit.failed", slog.String("error", err.Error()))
	}
}

// Get returns the capability registered under name.
func (r *Registry) Get(name string) (capability.Capability, bool) {
	e, ok := (*r.entries.Load())[name]
	return e.capability, ok
}

// List maps every capability name to its description.
func (r *Registry) List() map[string]string {
	entries := *r.entries.Load()
	out := make(map[string]string, len(entries))
	for name, e := range entries {
		out[name] = e.descriptor.Description
	}
	return out
}

// Descriptors returns the metadata of every capability sorted by name.
func (r *Registry) Descriptors() []capability.Descriptor {
	entries := *r.entries.Load()
	out := make([]capability.Descriptor, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.descriptor)
	}
	capability.SortDescriptors(out)
	return out
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	entries := *r.entries.Load()
	out := make([]string, 0, len(entries))
	for name := range entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	return len(*r.entries.Load())
}
