// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes loaded capabilities and skills as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/warden/pkg/capability"
	werrors "github.com/jllopis/warden/pkg/errors"
	"github.com/jllopis/warden/pkg/skills"
)

// SkillToolPrefix prefixes the MCP tool name of every skill.
const SkillToolPrefix = "skill_"

var freeFormSchema = json.RawMessage(`{"type":"object","additionalProperties":true}`)

// Dispatcher is the invocation surface published over MCP.
type Dispatcher interface {
	ListCapabilities() []capability.Descriptor
	InvokeCapability(ctx context.Context, name string, kwargs map[string]any) (capability.Result, error)
	ListSkills() []skills.Info
	InvokeSkill(ctx context.Context, id string, params map[string]any) (map[string]any, error)
}

// Server wraps the mcp-go server and keeps its tool list in step with the
// dispatcher.
type Server struct {
	mcpServer  *server.MCPServer
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewServer creates an MCP server publishing every capability and skill of d.
func NewServer(name, version string, d Dispatcher) *Server {
	s := &Server{
		mcpServer:  server.NewMCPServer(name, version, server.WithToolCapabilities(true)),
		dispatcher: d,
		logger:     slog.Default().With(slog.String("component", "mcp")),
	}
	s.Sync()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// Sync replaces the published tools with the current capabilities and
// skills. Call it after the registries rescan.
func (s *Server) Sync() {
	var tools []server.ServerTool
	seen := map[string]bool{}
	for _, d := range s.dispatcher.ListCapabilities() {
		tools = append(tools, server.ServerTool{Tool: capabilityTool(d), Handler: s.capabilityHandler(d.Name)})
		seen[d.Name] = true
	}
	for _, info := range s.dispatcher.ListSkills() {
		name := SkillToolPrefix + info.ID
		if seen[name] {
			s.logger.Warn("mcp.sync.collision", slog.String("tool", name))
			continue
		}
		tools = append(tools, server.ServerTool{Tool: skillTool(name, info), Handler: s.skillHandler(info.ID)})
	}
	s.mcpServer.SetTools(tools...)
	s.logger.Debug("mcp.sync.complete", slog.Int("tools", len(tools)))
}

// ServeStdio serves MCP over stdin and stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP serves MCP over streamable HTTP on addr until ctx is cancelled.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Start(addr) }()
	select {
	case <-ctx.Done():
		return httpServer.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// capabilityTool declares one string parameter per input schema key.
func capabilityTool(d capability.Descriptor) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(d.Description)}
	keys := make([]string, 0, len(d.InputSchema))
	for key := range d.InputSchema {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		opts = append(opts, mcp.WithString(key, mcp.Description(d.InputSchema[key])))
	}
	return mcp.NewTool(d.Name, opts...)
}

func skillTool(name string, info skills.Info) mcp.Tool {
	description := info.Description
	if len(info.Triggers) > 0 {
		description += " (triggers: " + strings.Join(info.Triggers, ", ") + ")"
	}
	return mcp.NewToolWithRawSchema(name, description, freeFormSchema)
}

func (s *Server) capabilityHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]interface{})
		res, err := s.dispatcher.InvokeCapability(ctx, name, args)
		if err != nil {
			return errorResult(err), nil
		}
		out := textResult(res.Message)
		out.IsError = !res.Success
		if res.Data != nil {
			out.StructuredContent = res.Data
		}
		return out, nil
	}
}

func (s *Server) skillHandler(id string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]interface{})
		data, err := s.dispatcher.InvokeSkill(ctx, id, args)
		if err != nil {
			return errorResult(err), nil
		}
		payload, err := json.Marshal(data)
		if err != nil {
			return errorResult(fmt.Errorf("encode skill result: %w", err)), nil
		}
		out := textResult(string(payload))
		out.StructuredContent = data
		return out, nil
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errorResult(err error) *mcp.CallToolResult {
	text := err.Error()
	if we := werrors.AsWardenError(err); we != nil {
		text = fmt.Sprintf("%s: %s", we.Code, we.Message)
	}
	out := textResult(text)
	out.IsError = true
	return out
}
