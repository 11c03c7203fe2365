// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/warden/pkg/audit"
	"github.com/jllopis/warden/pkg/capability"
	werrors "github.com/jllopis/warden/pkg/errors"
	"github.com/jllopis/warden/pkg/skills"
)

type echoTool struct{}

func (echoTool) Name() string                   { return "echo_tool" }
func (echoTool) Description() string            { return "Repeats the provided text." }
func (echoTool) InputSchema() map[string]string { return map[string]string{"echo": "text"} }
func (echoTool) Execute(kwargs map[string]any) capability.Result {
	text, ok := kwargs["echo"].(string)
	if !ok {
		text = "Hello"
	}
	return capability.Ok("Echo: " + text)
}

type panicTool struct{ echoTool }

func (panicTool) Name() string { return "panic_tool" }
func (panicTool) Execute(map[string]any) capability.Result {
	panic("index out of range")
}

type slowTool struct {
	echoTool
	release chan struct{}
}

func (slowTool) Name() string { return "slow_tool" }
func (s slowTool) Execute(map[string]any) capability.Result {
	<-s.release
	return capability.Ok("done")
}

type toolSet map[string]capability.Capability

func (t toolSet) Get(name string) (capability.Capability, bool) {
	c, ok := t[name]
	return c, ok
}

func (t toolSet) Descriptors() []capability.Descriptor {
	var out []capability.Descriptor
	for _, c := range t {
		d, err := capability.Describe(c)
		if err == nil {
			out = append(out, d)
		}
	}
	capability.SortDescriptors(out)
	return out
}

type skillFunc func(map[string]any) (map[string]any, error)

type skillSet struct {
	infos []skills.Info
	funcs map[string]skillFunc
	calls []string
}

func (s *skillSet) List() []skills.Info {
	out := append([]skills.Info(nil), s.infos...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *skillSet) Execute(_ context.Context, id string, params map[string]any) (map[string]any, error) {
	fn, ok := s.funcs[id]
	if !ok {
		return nil, werrors.Newf(werrors.CodeNotFound, "Skill '%s' not found.", id)
	}
	s.calls = append(s.calls, id)
	return fn(params)
}

func echoParams(params map[string]any) (map[string]any, error) { return params, nil }

func TestInvokeCapability(t *testing.T) {
	store := audit.NewMemoryStore()
	d := New(toolSet{"echo_tool": echoTool{}}, nil, WithAudit(store))

	res, err := d.InvokeCapability(context.Background(), "echo_tool", map[string]any{"echo": "hi"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Echo: hi", res.Message)

	res, err = d.InvokeCapability(context.Background(), "echo_tool", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Echo: Hello", res.Message)

	events, err := store.List(context.Background(), audit.Filter{Kind: audit.KindInvoked})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "tool:echo_tool", events[0].Subject)
}

func TestInvokeCapabilityNotFound(t *testing.T) {
	d := New(toolSet{}, nil)
	_, err := d.InvokeCapability(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.CodeNotFound))

	d = New(nil, nil)
	_, err = d.InvokeCapability(context.Background(), "missing", nil)
	assert.True(t, werrors.Is(err, werrors.CodeNotFound))
}

func TestInvokeCapabilityFaultIsResult(t *testing.T) {
	d := New(toolSet{"panic_tool": panicTool{}}, nil)
	res, err := d.InvokeCapability(context.Background(), "panic_tool", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "index out of range")
}

func TestInvokeCapabilityTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d := New(toolSet{"slow_tool": slowTool{release: release}}, nil, WithTimeout(20*time.Millisecond))

	_, err := d.InvokeCapability(context.Background(), "slow_tool", nil)
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.CodeTimeout))
}

func TestListCapabilities(t *testing.T) {
	d := New(toolSet{"echo_tool": echoTool{}, "panic_tool": panicTool{}}, nil)
	got := d.ListCapabilities()
	require.Len(t, got, 2)
	assert.Equal(t, "echo_tool", got[0].Name)
	assert.Equal(t, "panic_tool", got[1].Name)
	assert.Nil(t, New(nil, nil).ListCapabilities())
}

func TestInvokeSkill(t *testing.T) {
	set := &skillSet{
		infos: []skills.Info{{ID: "hello_world", Name: "Hello"}},
		funcs: map[string]skillFunc{"hello_world": echoParams},
	}
	store := audit.NewMemoryStore()
	d := New(nil, set, WithAudit(store))

	out, err := d.InvokeSkill(context.Background(), "hello_world", map[string]any{"user_name": "X"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"user_name": "X"}, out)

	_, err = d.InvokeSkill(context.Background(), "nonexistent", nil)
	assert.True(t, werrors.Is(err, werrors.CodeNotFound))

	events, err := store.List(context.Background(), audit.Filter{Kind: audit.KindInvoked})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "skill:hello_world", events[0].Subject)
}

func TestRouteFirstMatchInIDOrder(t *testing.T) {
	set := &skillSet{
		infos: []skills.Info{
			{ID: "zeta", Triggers: []string{"hello"}},
			{ID: "alpha", Triggers: []string{"say hello"}},
			{ID: "todo", Triggers: []string{"todo"}},
		},
		funcs: map[string]skillFunc{
			"alpha": func(map[string]any) (map[string]any, error) {
				return map[string]any{"message": "Hi there"}, nil
			},
			"zeta": echoParams,
			"todo": echoParams,
		},
	}
	d := New(nil, set)

	out, err := d.Route(context.Background(), "Please SAY HELLO to Bob", map[string]any{"user_name": "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "alpha", out.MatchedSkill)
	assert.Equal(t, "Hi there", out.Message)
	assert.Equal(t, []string{"alpha"}, set.calls)

	out, err = d.Route(context.Background(), "add a TODO item", nil)
	require.NoError(t, err)
	assert.Equal(t, "todo", out.MatchedSkill)
	assert.Equal(t, "Skill executed.", out.Message)
}

func TestRouteWithoutMatch(t *testing.T) {
	d := New(nil, &skillSet{infos: []skills.Info{{ID: "a", Triggers: []string{"deploy"}}}})
	out, err := d.Route(context.Background(), "write a poem", nil)
	require.NoError(t, err)
	assert.Empty(t, out.MatchedSkill)
	assert.Equal(t, "Task 'write a poem' processed.", out.Message)
}

func TestWithTimeoutZeroWaits(t *testing.T) {
	v, err := withTimeout(context.Background(), 0, func() (int, error) {
		time.Sleep(5 * time.Millisecond)
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
