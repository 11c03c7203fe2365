package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/warden/pkg/audit"
	werrors "github.com/jllopis/warden/pkg/errors"
)

func TestParseGlobalFlags(t *testing.T) {
	flags, rest, err := parseGlobalFlags([]string{
		"--config", "warden.yaml", "--set", "log.level=debug", "--set=execution.timeout=2s", "--json",
		"tools", "invoke", "echo_tool",
	})
	require.NoError(t, err)
	assert.Equal(t, "warden.yaml", flags.ConfigPath)
	assert.True(t, flags.JSON)
	assert.Equal(t, []string{"--config", "warden.yaml", "--set", "log.level=debug", "--set=execution.timeout=2s"}, flags.ConfigArgs)
	assert.Equal(t, []string{"tools", "invoke", "echo_tool"}, rest)

	_, _, err = parseGlobalFlags([]string{"--bogus"})
	assert.Error(t, err)
	_, _, err = parseGlobalFlags([]string{"--set"})
	assert.Error(t, err)

	flags, rest, err = parseGlobalFlags([]string{"--help", "serve"})
	require.NoError(t, err)
	assert.True(t, flags.Help)
	assert.Nil(t, rest)
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"echo=hi", "count=3", "tags=[\"a\"]", "raw={not json"})
	require.NoError(t, err)
	assert.Equal(t, "hi", params["echo"])
	assert.Equal(t, float64(3), params["count"])
	assert.Equal(t, []any{"a"}, params["tags"])
	assert.Equal(t, "{not json", params["raw"])

	_, err = parseParams([]string{"novalue"})
	assert.True(t, werrors.Is(err, werrors.CodeInvalidInput))
}

func TestExitCodeAndHints(t *testing.T) {
	assert.Equal(t, 2, exitCode(NewRejectedError("x.go", "ForbiddenImport:os")))
	assert.Equal(t, 1, exitCode(NewNotFoundError("tool", "x")))

	cliErr := WrapError(werrors.Newf(werrors.CodeMissingEntry, "no Run"))
	assert.Contains(t, cliErr.Hint, "func Run")
	assert.Contains(t, cliErr.Error(), "Hint:")
	assert.Equal(t, "Missing Entry Function", FormatErrorCode(werrors.CodeMissingEntry))
}

const echoDraft = `package echo

import (
	"fmt"

	"warden/toolkit"
)

type EchoTool struct{}

func (EchoTool) Name() string        { return "echo_tool" }
func (EchoTool) Description() string { return "Repeats the provided text." }
func (EchoTool) InputSchema() map[string]string {
	return map[string]string{"echo": "text to repeat"}
}

func (EchoTool) Execute(kwargs map[string]any) toolkit.Result {
	text, ok := kwargs["echo"].(string)
	if !ok {
		text = "Hello"
	}
	return toolkit.Result{Success: true, Message: fmt.Sprintf("Echo: %s", text)}
}
`

func newTestApp(t *testing.T) *app {
	t.Helper()
	root := t.TempDir()
	staging := filepath.Join(root, "staging")
	require.NoError(t, os.MkdirAll(staging, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "echo_tool.go"), []byte(echoDraft), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "shell_tool.go"), []byte("package s\n\nimport \"os/exec\"\n\nvar _ = exec.Command\n"), 0o644))

	flags, _, err := parseGlobalFlags([]string{
		"--set", "tools.staging_dir=" + staging,
		"--set", "tools.active_dir=" + filepath.Join(root, "tools"),
		"--set", "skills.dir=" + filepath.Join(root, "skills"),
		"--set", "secrets.env_file=" + filepath.Join(root, ".env"),
		"--set", "log.level=error",
	})
	require.NoError(t, err)
	a, err := newApp(context.Background(), flags)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestPromoteThenInvoke(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, run(ctx, a, []string{"inspect", "echo_tool.go"}))

	err := run(ctx, a, []string{"promote", "shell_tool.go"})
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))

	require.NoError(t, run(ctx, a, []string{"promote", "echo_tool.go"}))
	res, err := a.disp.InvokeCapability(ctx, "echo_tool", map[string]any{"echo": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Echo: hi", res.Message)

	require.NoError(t, run(ctx, a, []string{"tools", "invoke", "echo_tool", "echo=hi"}))
	err = run(ctx, a, []string{"tools", "invoke", "missing"})
	assert.True(t, werrors.Is(err, werrors.CodeNotFound))

	events, err := a.audit.List(ctx, audit.Filter{Kind: audit.KindPromoted})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestUnknownCommand(t *testing.T) {
	a := newTestApp(t)
	err := run(context.Background(), a, []string{"frobnicate"})
	assert.True(t, werrors.Is(err, werrors.CodeInvalidInput))
}

func TestDispatchWithoutSkills(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, run(context.Background(), a, []string{"dispatch", "write a poem"}))
	require.NoError(t, run(context.Background(), a, []string{"skills", "list"}))
	require.NoError(t, run(context.Background(), a, []string{"mcp", "tools"}))
}
