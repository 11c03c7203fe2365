// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package skills implements the manifest-driven skill registry. A skill is a
// directory holding a manifest and a Go entry file exposing
// Run(params map[string]any) map[string]any. Entry files are loaded lazily on
// first use and cached.
package skills

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jllopis/warden/pkg/audit"
	werrors "github.com/jllopis/warden/pkg/errors"
	"github.com/jllopis/warden/pkg/runtime"
)

// EntryFunctionName is the dispatch function every entry file must define.
const EntryFunctionName = "Run"

// EntryLoader binds the dispatch function of an entry file.
type EntryLoader interface {
	LoadEntry(path, name string) (runtime.EntryFunc, error)
}

// Info describes a registered skill.
type Info struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Triggers    []string `json:"triggers,omitempty"`
}

// Entry binds a manifest to its lazily loaded dispatch function.
type Entry struct {
	ID       string
	Dir      string
	Manifest Manifest

	mu sync.Mutex
	fn runtime.EntryFunc
}

// Info returns the public description of the entry.
func (e *Entry) Info() Info {
	return Info{
		ID:          e.ID,
		Name:        e.Manifest.Name,
		Description: e.Manifest.Description,
		Triggers:    append([]string(nil), e.Manifest.TriggerKeywords...),
	}
}

// Loaded reports whether the dispatch function has been materialized.
func (e *Entry) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fn != nil
}

// load returns the cached dispatch function, loading it on first use.
// Concurrent callers wait for the single load in flight. Failures are not
// cached.
func (e *Entry) load(loader EntryLoader) (runtime.EntryFunc, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fn != nil {
		return e.fn, nil
	}
	path, err := resolveEntryPoint(e.Dir, e.Manifest.EntryPoint)
	if err != nil {
		return nil, werrors.New(werrors.CodeLoadError, "resolve entry point", err).WithContext("skill", e.ID)
	}
	fn, err := loader.LoadEntry(path, EntryFunctionName)
	if err != nil {
		return nil, err
	}
	e.fn = fn
	return fn, nil
}

// Registry holds discovered skills keyed by directory name.
type Registry struct {
	entries atomic.Pointer[map[string]*Entry]
	loader  EntryLoader
	audit   audit.Store
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLoader sets the entry loader.
func WithLoader(l EntryLoader) Option {
	return func(r *Registry) { r.loader = l }
}

// WithAudit records discovery and load events in store.
func WithAudit(store audit.Store) Option {
	return func(r *Registry) {
		if store != nil {
			r.audit = store
		}
	}
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
	r := &Registry{audit: audit.Nop{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if r.loader == nil {
		r.loader = runtime.NewLoader(runtime.WithLogger(r.logger))
	}
	empty := map[string]*Entry{}
	r.entries.Store(&empty)
	return r
}

// Discover scans the immediate subdirectories of dir and replaces the
// registry contents. A missing dir is created and leaves the registry empty.
// Directories without a manifest are ignored; invalid manifests are logged
// and skipped.
func (r *Registry) Discover(dir string) error {
	ctx := context.Background()
	items, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create skills dir: %w", err)
		}
		r.logger.Info("skills.discover.created_dir", slog.String("dir", dir))
	}

	next := map[string]*Entry{}
	for _, item := range items {
		if !item.IsDir() {
			continue
		}
		id := item.Name()
		skillDir := filepath.Join(dir, id)
		manifestPath := findManifest(skillDir)
		if manifestPath == "" {
			continue
		}
		m, err := LoadManifest(manifestPath)
		if err != nil {
			r.logger.Warn("skills.discover.invalid",
				slog.String("skill", id),
				slog.String("manifest", manifestPath),
				slog.String("error", err.Error()),
			)
			ev := audit.NewEvent(audit.KindLoadFailed, "skill:"+id)
			ev.Detail = err.Error()
			r.record(ctx, ev)
			continue
		}
		next[id] = &Entry{ID: id, Dir: skillDir, Manifest: m}
	}

	r.entries.Store(&next)
	r.logger.Info("skills.discover.complete", slog.String("dir", dir), slog.Int("skills", len(next)))
	return nil
}

// Execute runs skill id with params. The entry point is loaded on first use.
func (r *Registry) Execute(ctx context.Context, id string, params map[string]any) (out map[string]any, err error) {
	e, ok := (*r.entries.Load())[id]
	if !ok {
		return nil, werrors.Newf(werrors.CodeNotFound, "Skill '%s' not found.", id).WithContext("skill", id)
	}

	wasLoaded := e.Loaded()
	fn, err := e.load(r.loader)
	if err != nil {
		r.logger.WarnContext(ctx, "skills.load.failed", slog.String("skill", id), slog.String("error", err.Error()))
		ev := audit.NewEvent(audit.KindLoadFailed, "skill:"+id)
		ev.Detail = err.Error()
		r.record(ctx, ev)
		return nil, err
	}
	if !wasLoaded {
		r.logger.InfoContext(ctx, "skills.load.complete", slog.String("skill", id))
		r.record(ctx, audit.NewEvent(audit.KindLoaded, "skill:"+id))
	}

	if params == nil {
		params = map[string]any{}
	}
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = werrors.New(werrors.CodeExecutionFault, fmt.Sprintf("skill %s panicked: %v", id, rec), nil).
				WithContext("skill", id)
		}
	}()
	out = fn(params)
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// Get returns the info of skill id.
func (r *Registry) Get(id string) (Info, bool) {
	e, ok := (*r.entries.Load())[id]
	if !ok {
		return Info{}, false
	}
	return e.Info(), true
}

// List returns every registered skill sorted by ID.
func (r *Registry) List() []Info {
	entries := *r.entries.Load()
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) record(ctx context.Context, ev audit.Event) {
	if err := r.audit.Record(ctx, ev); err != nil {
		r.logger.ErrorContext(ctx, "skills.audit.failed", slog.String("error", err.Error()))
	}
}
