// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the dispatcher and the lifecycle coordinator over
// HTTP with JSON bodies.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jllopis/warden/pkg/audit"
	"github.com/jllopis/warden/pkg/capability"
	"github.com/jllopis/warden/pkg/dispatch"
	werrors "github.com/jllopis/warden/pkg/errors"
	"github.com/jllopis/warden/pkg/lifecycle"
	"github.com/jllopis/warden/pkg/skills"
)

const (
	serviceName      = "warden"
	defaultSessionID = "default_session"
	maxBodyBytes     = 1 << 20
)

// Dispatcher is the invocation surface served over HTTP.
type Dispatcher interface {
	ListCapabilities() []capability.Descriptor
	InvokeCapability(ctx context.Context, name string, kwargs map[string]any) (capability.Result, error)
	ListSkills() []skills.Info
	InvokeSkill(ctx context.Context, id string, params map[string]any) (map[string]any, error)
	Route(ctx context.Context, task string, params map[string]any) (dispatch.Outcome, error)
}

// Lifecycle is the promotion surface served over HTTP.
type Lifecycle interface {
	Drafts() ([]string, error)
	Inspect(ctx context.Context, name string) (lifecycle.Report, error)
	Promote(ctx context.Context, name string) (lifecycle.Report, error)
}

// Server routes HTTP requests to the dispatcher, coordinator and ledger.
type Server struct {
	dispatcher Dispatcher
	lifecycle  Lifecycle
	audit      audit.Store
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLifecycle enables the draft endpoints.
func WithLifecycle(l Lifecycle) Option {
	return func(s *Server) { s.lifecycle = l }
}

// WithAudit enables the audit endpoint.
func WithAudit(store audit.Store) Option {
	return func(s *Server) { s.audit = store }
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New returns a server over d.
func New(d Dispatcher, opts ...Option) *Server {
	s := &Server{dispatcher: d, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /capabilities", s.handleCapabilities)
	mux.HandleFunc("POST /capabilities/{name}/invoke", s.handleInvokeCapability)
	mux.HandleFunc("GET /skills", s.handleSkills)
	mux.HandleFunc("POST /skills/{id}/execute", s.handleExecuteSkill)
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("GET /drafts", s.handleDrafts)
	mux.HandleFunc("POST /drafts/{name}/inspect", s.handleInspect)
	mux.HandleFunc("POST /drafts/{name}/promote", s.handlePromote)
	mux.HandleFunc("GET /audit", s.handleAudit)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("server.listen", slog.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "online", "service": serviceName})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	descriptors := s.dispatcher.ListCapabilities()
	if descriptors == nil {
		descriptors = []capability.Descriptor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"capabilities": descriptors})
}

func (s *Server) handleInvokeCapability(w http.ResponseWriter, r *http.Request) {
	var kwargs map[string]any
	if err := decodeBody(r, &kwargs); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.dispatcher.InvokeCapability(r.Context(), r.PathValue("name"), kwargs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSkills(w http.ResponseWriter, _ *http.Request) {
	list := s.dispatcher.ListSkills()
	if list == nil {
		list = []skills.Info{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": list})
}

func (s *Server) handleExecuteSkill(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	if err := decodeBody(r, &params); err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.dispatcher.InvokeSkill(r.Context(), r.PathValue("id"), params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "result": out})
}

type executeRequest struct {
	Task      string         `json:"task"`
	SessionID string         `json:"session_id"`
	Context   map[string]any `json:"context"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		s.writeError(w, werrors.Newf(werrors.CodeInvalidInput, "task is required"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = defaultSessionID
	}
	outcome, err := s.dispatcher.Route(r.Context(), req.Task, req.Context)
	if err != nil {
		s.writeError(w, err)
		return
	}
	outcome.SessionID = req.SessionID
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "success",
		"session_id":    outcome.SessionID,
		"matched_skill": outcome.MatchedSkill,
		"message":       outcome.Message,
		"data":          outcome.Data,
	})
}

func (s *Server) handleDrafts(w http.ResponseWriter, _ *http.Request) {
	if s.lifecycle == nil {
		s.writeError(w, werrors.Newf(werrors.CodeNotFound, "lifecycle is not enabled"))
		return
	}
	drafts, err := s.lifecycle.Drafts()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if drafts == nil {
		drafts = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"drafts": drafts})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	s.handleReport(w, r, func(ctx context.Context, l Lifecycle, name string) (lifecycle.Report, error) {
		return l.Inspect(ctx, name)
	})
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	s.handleReport(w, r, func(ctx context.Context, l Lifecycle, name string) (lifecycle.Report, error) {
		return l.Promote(ctx, name)
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, fn func(context.Context, Lifecycle, string) (lifecycle.Report, error)) {
	if s.lifecycle == nil {
		s.writeError(w, werrors.Newf(werrors.CodeNotFound, "lifecycle is not enabled"))
		return
	}
	report, err := fn(r.Context(), s.lifecycle, r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if !report.Verdict.Accepted {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, report)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.writeError(w, werrors.Newf(werrors.CodeNotFound, "audit is not enabled"))
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{
		Kind:    audit.Kind(q.Get("kind")),
		Subject: q.Get("subject"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, werrors.Newf(werrors.CodeInvalidInput, "invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}
	events, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// decodeBody decodes a JSON body into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return werrors.New(werrors.CodeInvalidInput, "read request body", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return werrors.New(werrors.CodeInvalidInput, "decode request body", err)
	}
	return nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	we := werrors.AsWardenError(err)
	status := we.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("server.request.failed", slog.String("error", err.Error()))
	}
	message := we.Message
	if we.Code == werrors.CodeInvalidInput && we.Err != nil {
		message += ": " + we.Err.Error()
	}
	writeJSON(w, status, map[string]errorBody{
		"error": {Code: string(we.Code), Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
