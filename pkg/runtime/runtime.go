// Package runtime loads admitted artifacts into isolated interpreter
// namespaces. Each artifact gets its own interpreter; the only host
// surface it sees is the filtered standard library and warden/toolkit.
package runtime

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing/fstest"

	"github.com/traefik/yaegi/interp"

	"github.com/jllopis/warden/pkg/admission"
	"github.com/jllopis/warden/pkg/capability"
	"github.com/jllopis/warden/pkg/errors"
)

const (
	gopathRoot     = "_warden"
	artifactPrefix = "warden/artifacts/"
	artifactAlias  = "artifact"
)

// SecretSource resolves secrets for interpreted code.
type SecretSource interface {
	GetSecret(key string) string
}

// EntryFunc is a skill dispatch function.
type EntryFunc func(params map[string]any) map[string]any

// TypeFailure records a conforming type that could not be instantiated.
type TypeFailure struct {
	Type string
	Err  error
}

// Unit is the result of loading one capability artifact.
type Unit struct {
	Path         string
	Package      string
	Capabilities []capability.Capability
	Failures     []TypeFailure
}

// Loader materializes artifacts with an embedded Go interpreter.
type Loader struct {
	secrets SecretSource
	gate    *admission.Gate
	stdout  io.Writer
	stderr  io.Writer
	logger  *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithSecrets binds toolkit.GetSecret to src.
func WithSecrets(src SecretSource) Option {
	return func(l *Loader) { l.secrets = src }
}

// WithGate restricts the standard library exposed to artifacts to the
// packages the gate's current policy admits.
func WithGate(g *admission.Gate) Option {
	return func(l *Loader) { l.gate = g }
}

// WithOutput redirects what interpreted code prints.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(l *Loader) {
		if stdout != nil {
			l.stdout = stdout
		}
		if stderr != nil {
			l.stderr = stderr
		}
	}
}

// WithLogger sets the loader logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a loader. Interpreted output goes to stderr by default
// so it cannot corrupt a stdio protocol stream.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{stdout: os.Stderr, stderr: os.Stderr, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadCapabilities reads the artifact at path and instantiates every
// conforming type it declares.
func (l *Loader) LoadCapabilities(path string) (*Unit, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeLoadError, "read artifact", err).WithContext("path", path)
	}
	return l.LoadCapabilitiesSource(path, src)
}

// LoadCapabilitiesSource is LoadCapabilities over in-memory source. A type
// whose instantiation fails is reported in Unit.Failures and does not affect
// the other types of the artifact.
func (l *Loader) LoadCapabilitiesSource(path string, src []byte) (*Unit, error) {
	u, err := parseUnit(path, src)
	if err != nil {
		return nil, errors.New(errors.CodeLoadError, "parse artifact", err).WithContext("path", path)
	}
	i, err := l.interpreter(path, u, src)
	if err != nil {
		return nil, err
	}

	out := &Unit{Path: path, Package: u.Package}
	for _, c := range u.capabilityTypes() {
		capb, err := instantiate(i, c)
		if err != nil {
			l.logger.Warn("runtime.capability.instantiate.failed",
				slog.String("path", path),
				slog.String("type", c.Type),
				slog.String("error", err.Error()),
			)
			out.Failures = append(out.Failures, TypeFailure{Type: c.Type, Err: err})
			continue
		}
		out.Capabilities = append(out.Capabilities, capb)
	}
	return out, nil
}

// LoadEntry loads the artifact at path and binds its package-level function
// name, which must have the signature func(map[string]any) map[string]any.
func (l *Loader) LoadEntry(path, name string) (EntryFunc, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeLoadError, "read entry point", err).WithContext("path", path)
	}
	u, err := parseUnit(path, src)
	if err != nil {
		return nil, errors.New(errors.CodeLoadError, "parse entry point", err).WithContext("path", path)
	}
	found, valid := u.entryFunc(name)
	if !found {
		return nil, errors.Newf(errors.CodeMissingEntry, "entry point %s does not define %s", filepath.Base(path), name).
			WithContext("path", path)
	}
	if !valid {
		return nil, errors.Newf(errors.CodeMissingEntry, "%s in %s must be func(map[string]any) map[string]any", name, filepath.Base(path)).
			WithContext("path", path)
	}

	i, err := l.interpreter(path, u, src)
	if err != nil {
		return nil, err
	}
	v, err := i.Eval(artifactAlias + "." + name)
	if err != nil {
		return nil, errors.New(errors.CodeMissingEntry, "resolve entry function", err).WithContext("path", path)
	}
	return asEntryFunc(v)
}

// interpreter creates a fresh namespace holding the artifact, imported under
// the alias "artifact" together with warden/toolkit.
func (l *Loader) interpreter(path string, u *unit, src []byte) (*interp.Interpreter, error) {
	if u.Package == "main" {
		return nil, errors.New(errors.CodeLoadError, "artifact must not be package main", nil).WithContext("path", path)
	}
	importPath := artifactPrefix + sanitizeIdent(u.Package)
	fsys := fstest.MapFS{
		filepath.ToSlash(filepath.Join(gopathRoot, "src", importPath, filepath.Base(path))): &fstest.MapFile{Data: src},
	}
	i := interp.New(interp.Options{
		GoPath:               "./" + gopathRoot,
		SourcecodeFilesystem: fsys,
		Stdout:               l.stdout,
		Stderr:               l.stderr,
	})

	var policy admission.Policy
	if l.gate != nil {
		policy = l.gate.Policy()
	}
	if err := i.Use(stdlibSymbols(policy)); err != nil {
		return nil, errors.New(errors.CodeInternal, "register stdlib symbols", err)
	}
	if err := i.Use(toolkitSymbols(l.getSecret)); err != nil {
		return nil, errors.New(errors.CodeInternal, "register toolkit symbols", err)
	}

	imports := fmt.Sprintf("import (\n\t%s %q\n\t%q\n)", artifactAlias, importPath, ToolkitImportPath)
	if _, err := i.Eval(imports); err != nil {
		return nil, errors.New(errors.CodeLoadError, "load artifact", err).WithContext("path", path)
	}
	return i, nil
}

func (l *Loader) getSecret(key string) string {
	if l.secrets == nil {
		return ""
	}
	return l.secrets.GetSecret(key)
}

// instantiate builds one capability through a generated zero-argument
// factory that returns the instance's method values. The host never converts
// an interpreted value to an interface type; it calls the bound methods
// through boundCapability instead. Constructor panics surface as errors.
func instantiate(i *interp.Interpreter, c candidate) (capb capability.Capability, err error) {
	expr := fmt.Sprintf("new(%s.%s)", artifactAlias, c.Type)
	if c.Constructor != "" {
		expr = fmt.Sprintf("%s.%s()", artifactAlias, c.Constructor)
	}
	factory := "_wardenNew" + c.Type
	src := fmt.Sprintf(`func %s() (func() string, func() string, func() map[string]string, func(map[string]any) toolkit.Result) {
	c := %s
	return c.Name, c.Description, c.InputSchema, c.Execute
}`, factory, expr)
	if _, err := i.Eval(src); err != nil {
		return nil, fmt.Errorf("compile factory for %s: %w", c.Type, err)
	}
	fn, err := i.Eval(factory)
	if err != nil {
		return nil, fmt.Errorf("resolve factory for %s: %w", c.Type, err)
	}
	if fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("factory for %s is %s, not a function", c.Type, fn.Kind())
	}

	defer func() {
		if r := recover(); r != nil {
			capb, err = nil, fmt.Errorf("construct %s: %v", c.Type, r)
		}
	}()
	methods := fn.Call(nil)
	if len(methods) != 4 {
		return nil, fmt.Errorf("construct %s: factory returned %d values", c.Type, len(methods))
	}
	for _, m := range methods {
		if !m.IsValid() || m.Kind() != reflect.Func || m.IsNil() {
			return nil, fmt.Errorf("construct %s: method value is not bound", c.Type)
		}
	}
	return &boundCapability{
		name:        methods[0],
		description: methods[1],
		inputSchema: methods[2],
		execute:     methods[3],
	}, nil
}

// boundCapability adapts the method values of an interpreted instance to
// capability.Capability.
type boundCapability struct {
	name        reflect.Value
	description reflect.Value
	inputSchema reflect.Value
	execute     reflect.Value
}

func (b *boundCapability) Name() string {
	return b.name.Call(nil)[0].String()
}

func (b *boundCapability) Description() string {
	return b.description.Call(nil)[0].String()
}

func (b *boundCapability) InputSchema() map[string]string {
	out := b.inputSchema.Call(nil)[0]
	if !out.IsValid() || out.IsNil() {
		return nil
	}
	if m, ok := out.Interface().(map[string]string); ok {
		return m
	}
	return out.Convert(reflect.TypeOf(map[string]string(nil))).Interface().(map[string]string)
}

func (b *boundCapability) Execute(kwargs map[string]any) capability.Result {
	arg := reflect.ValueOf(kwargs)
	if paramType := b.execute.Type().In(0); !arg.Type().AssignableTo(paramType) {
		arg = arg.Convert(paramType)
	}
	out := b.execute.Call([]reflect.Value{arg})[0]
	if res, ok := out.Interface().(capability.Result); ok {
		return res
	}
	return out.Convert(reflect.TypeOf(capability.Result{})).Interface().(capability.Result)
}

func asEntryFunc(v reflect.Value) (EntryFunc, error) {
	if !v.IsValid() || v.Kind() != reflect.Func {
		return nil, errors.New(errors.CodeMissingEntry, "entry is not a function", nil)
	}
	if fn, ok := v.Interface().(func(map[string]any) map[string]any); ok {
		return fn, nil
	}
	t := v.Type()
	if t.NumIn() != 1 || t.NumOut() != 1 {
		return nil, errors.Newf(errors.CodeMissingEntry, "entry function has signature %s", t)
	}
	paramType := t.In(0)
	return func(params map[string]any) map[string]any {
		arg := reflect.ValueOf(params)
		if !arg.Type().AssignableTo(paramType) {
			arg = arg.Convert(paramType)
		}
		out := v.Call([]reflect.Value{arg})[0]
		if out.IsNil() {
			return nil
		}
		if m, ok := out.Interface().(map[string]any); ok {
			return m
		}
		return out.Convert(reflect.TypeOf(map[string]any(nil))).Interface().(map[string]any)
	}, nil
}
