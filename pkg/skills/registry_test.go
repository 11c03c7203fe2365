// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/warden/pkg/audit"
	werrors "github.com/jllopis/warden/pkg/errors"
	"github.com/jllopis/warden/pkg/runtime"
)

const helloLogic = `package hello

func Run(params map[string]any) map[string]any {
	return params
}
`

func writeSkill(t *testing.T, root, id, manifest string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if manifest != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifest), 0o644))
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

const greetingLogic = `package hello

import "fmt"

func Run(params map[string]any) map[string]any {
	name, _ := params["user_name"].(string)
	return map[string]any{"status": "success", "message": fmt.Sprintf("Hello, %s!", name)}
}
`

// countingLoader counts loads and hands out a function echoing its params.
type countingLoader struct {
	loads atomic.Int32
	fail  atomic.Bool
	gate  chan struct{}
}

func (l *countingLoader) LoadEntry(path, name string) (runtime.EntryFunc, error) {
	l.loads.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	if l.fail.Load() {
		return nil, werrors.New(werrors.CodeLoadError, "boom", nil)
	}
	return func(params map[string]any) map[string]any { return params }, nil
}

func TestDiscoverRegistersValidSkills(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "hello_world",
		`{"name": "Hello", "description": "Greets", "entry_point": "logic", "trigger_keywords": ["hello"]}`,
		map[string]string{"logic.go": helloLogic})
	writeSkill(t, root, "broken", `{"name": "Broken", "entry_point": "logic"}`, nil)
	writeSkill(t, root, "no_manifest", "", map[string]string{"logic.go": helloLogic})
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.json"), []byte("{}"), 0o644))

	store := audit.NewMemoryStore()
	reg := NewRegistry(WithLoader(&countingLoader{}), WithAudit(store))
	require.NoError(t, reg.Discover(root))

	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, Info{ID: "hello_world", Name: "Hello", Description: "Greets", Triggers: []string{"hello"}}, list[0])

	failures, err := store.List(context.Background(), audit.Filter{Kind: audit.KindLoadFailed})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "skill:broken", failures[0].Subject)
}

func TestDiscoverCreatesMissingDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "skills")
	reg := NewRegistry(WithLoader(&countingLoader{}))
	require.NoError(t, reg.Discover(root))
	assert.Empty(t, reg.List())
	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExecuteHelloSkill(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "hello_world",
		`{"name": "Hello", "description": "Greets the user by name.", "entryPoint": "logic", "triggerKeywords": ["hello"]}`,
		map[string]string{"logic.go": greetingLogic})

	reg := NewRegistry()
	require.NoError(t, reg.Discover(root))

	info, ok := reg.Get("hello_world")
	require.True(t, ok)
	assert.Equal(t, []string{"hello"}, info.Triggers)

	out, err := reg.Execute(context.Background(), "hello_world", map[string]any{"user_name": "X"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "success", "message": "Hello, X!"}, out)
}

func TestExecuteUnknownSkill(t *testing.T) {
	reg := NewRegistry(WithLoader(&countingLoader{}))
	require.NoError(t, reg.Discover(t.TempDir()))
	_, err := reg.Execute(context.Background(), "nonexistent", nil)
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.CodeNotFound))
	assert.Contains(t, err.Error(), "Skill 'nonexistent' not found.")
}

func TestExecuteMissingEntryFunction(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "lazy",
		`{"name": "Lazy", "description": "No Run", "entry_point": "logic"}`,
		map[string]string{"logic.go": "package lazy\n\nfunc Execute(p map[string]any) map[string]any { return p }\n"})
	writeSkill(t, root, "hello_world",
		`{"name": "Hello", "description": "Greets", "entry_point": "logic"}`,
		map[string]string{"logic.go": helloLogic})

	reg := NewRegistry()
	require.NoError(t, reg.Discover(root))

	_, err := reg.Execute(context.Background(), "lazy", nil)
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.CodeMissingEntry))

	_, err = reg.Execute(context.Background(), "hello_world", map[string]any{"a": 1})
	require.NoError(t, err, "a broken skill must not affect its siblings")
}

func TestExecuteEntryPointTraversal(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "sneaky",
		`{"name": "Sneaky", "description": "Escapes", "entry_point": "../../outside"}`, nil)
	loader := &countingLoader{}
	reg := NewRegistry(WithLoader(loader))
	require.NoError(t, reg.Discover(root))

	_, err := reg.Execute(context.Background(), "sneaky", nil)
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.CodeLoadError))
	assert.Equal(t, int32(0), loader.loads.Load())
}

func TestExecuteRecoversPanic(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "explode",
		`{"name": "Explode", "description": "Panics", "entry_point": "logic"}`,
		map[string]string{"logic.go": "package explode\n\nfunc Run(p map[string]any) map[string]any {\n\tvar m map[string]any\n\tm[\"x\"] = 1\n\treturn m\n}\n"})
	reg := NewRegistry()
	require.NoError(t, reg.Discover(root))

	_, err := reg.Execute(context.Background(), "explode", nil)
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.CodeExecutionFault))
}

func TestExecuteLoadsOnceUnderConcurrency(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "hello_world",
		`{"name": "Hello", "description": "Greets", "entry_point": "logic"}`,
		map[string]string{"logic.go": helloLogic})

	loader := &countingLoader{gate: make(chan struct{})}
	reg := NewRegistry(WithLoader(loader))
	require.NoError(t, reg.Discover(root))

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := reg.Execute(context.Background(), "hello_world", map[string]any{"i": i})
			if err == nil && out["i"] != i {
				err = errors.New("unexpected output")
			}
			errs <- err
		}(i)
	}
	close(loader.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), loader.loads.Load())
}

func TestExecuteFailedLoadIsRetried(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "flaky",
		`{"name": "Flaky", "description": "Fails once", "entry_point": "logic"}`,
		map[string]string{"logic.go": helloLogic})
	loader := &countingLoader{}
	loader.fail.Store(true)
	reg := NewRegistry(WithLoader(loader))
	require.NoError(t, reg.Discover(root))

	_, err := reg.Execute(context.Background(), "flaky", nil)
	require.Error(t, err)

	loader.fail.Store(false)
	_, err = reg.Execute(context.Background(), "flaky", nil)
	require.NoError(t, err)
	_, err = reg.Execute(context.Background(), "flaky", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.loads.Load())
}

func TestRediscoverSwapsEntries(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "a", `{"name": "A", "description": "a", "entry_point": "logic"}`, nil)
	reg := NewRegistry(WithLoader(&countingLoader{}))
	require.NoError(t, reg.Discover(root))
	_, ok := reg.Get("a")
	require.True(t, ok)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "a")))
	writeSkill(t, root, "b", `{"name": "B", "description": "b", "entry_point": "logic"}`, nil)
	require.NoError(t, reg.Discover(root))
	_, ok = reg.Get("a")
	assert.False(t, ok)
	_, ok = reg.Get("b")
	assert.True(t, ok)
}
