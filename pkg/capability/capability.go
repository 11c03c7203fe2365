// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability defines the uniform contract every admitted tool honors
// and the execution boundary that keeps a faulty tool from reaching the host.
package capability

import (
	"fmt"
	"sort"
)

// Result is the outcome of a capability invocation.
// Success=false implies Message explains the cause.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Capability is an executable unit with self-describing metadata.
type Capability interface {
	Name() string
	Description() string
	InputSchema() map[string]string
	Execute(kwargs map[string]any) Result
}

// Descriptor is the metadata snapshot of a capability.
type Descriptor struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	InputSchema map[string]string `json:"input_schema"`
}

// Ok builds a successful result.
func Ok(message string) Result {
	return Result{Success: true, Message: message}
}

// Fail builds a failed result.
func Fail(format string, args ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Execute invokes c and converts a panic raised by the capability into a
// failed Result. The host never observes the panic.
func Execute(c Capability, kwargs map[string]any) (res Result) {
	if c == nil {
		return Fail("execution fault: nil capability")
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	defer func() {
		if r := recover(); r != nil {
			res = Fail("execution fault: %v", r)
		}
	}()
	res = c.Execute(kwargs)
	if !res.Success && res.Message == "" {
		res.Message = "capability reported failure without a message"
	}
	return res
}

// Describe snapshots the metadata of c. Panics raised by the metadata
// methods are returned as errors.
func Describe(c Capability) (d Descriptor, err error) {
	if c == nil {
		return Descriptor{}, fmt.Errorf("nil capability")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("describe capability: %v", r)
		}
	}()
	d = Descriptor{
		Name:        c.Name(),
		Description: c.Description(),
		InputSchema: copySchema(c.InputSchema()),
	}
	if d.Name == "" {
		return Descriptor{}, fmt.Errorf("capability has an empty name")
	}
	return d, nil
}

// SortDescriptors orders descriptors by name.
func SortDescriptors(ds []Descriptor) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Name < ds[j].Name })
}

func copySchema(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
