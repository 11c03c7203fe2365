// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires logging, tracing and metrics for Warden.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans and metrics.
const (
	AttrArtifactName   = "warden.artifact.name"
	AttrArtifactDigest = "warden.artifact.digest"

	AttrVerdictAccepted   = "warden.verdict.accepted"
	AttrVerdictViolations = "warden.verdict.violations"

	AttrCapabilityName    = "warden.capability.name"
	AttrCapabilitySuccess = "warden.capability.success"
	AttrCapabilityKind    = "warden.capability.kind" // "tool", "skill"

	AttrRegistrySize   = "warden.registry.size"
	AttrRegistryFailed = "warden.registry.failed"

	AttrErrorCode = "error.code"
)

// VerdictAttributes returns attributes for an inspection outcome.
func VerdictAttributes(artifact string, accepted bool, violations []string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrArtifactName, artifact),
		attribute.Bool(AttrVerdictAccepted, accepted),
	}
	if len(violations) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrVerdictViolations, violations))
	}
	return attrs
}

// InvocationAttributes returns attributes for a capability or skill call.
func InvocationAttributes(kind, name string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCapabilityKind, kind),
		attribute.String(AttrCapabilityName, name),
	}
}

// RegistryAttributes returns attributes describing a registry scan.
func RegistryAttributes(loaded, failed int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrRegistrySize, loaded),
		attribute.Int(AttrRegistryFailed, failed),
	}
}
