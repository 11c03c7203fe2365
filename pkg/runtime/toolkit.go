package runtime

import (
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/jllopis/warden/pkg/admission"
	"github.com/jllopis/warden/pkg/capability"
)

// toolkitSymbols exports the host contract to interpreted code as the
// package warden/toolkit.
func toolkitSymbols(getSecret func(string) string) interp.Exports {
	return interp.Exports{
		ToolkitImportPath + "/toolkit": {
			"Result":     reflect.ValueOf((*capability.Result)(nil)),
			"Capability": reflect.ValueOf((*capability.Capability)(nil)),
			"GetSecret":  reflect.ValueOf(getSecret),
			"Ok":         reflect.ValueOf(capability.Ok),
			"Fail":       reflect.ValueOf(capability.Fail),
		},
	}
}

// stdlibSymbols returns the standard library exports minus every package
// the policy denies. Keys have the form "path/name".
func stdlibSymbols(policy admission.Policy) interp.Exports {
	out := interp.Exports{}
	for key, symbols := range stdlib.Symbols {
		importPath := key
		if i := strings.LastIndex(key, "/"); i > 0 {
			importPath = key[:i]
		}
		if _, denied := policy.ForbidsImport(importPath); denied {
			continue
		}
		out[key] = symbols
	}
	return out
}
