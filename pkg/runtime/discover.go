package runtime

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
)

// ToolkitImportPath is the virtual package artifacts import to reach the
// host contract types and the secret accessor.
const ToolkitImportPath = "warden/toolkit"

// candidate is a top-level type whose method set satisfies the capability
// contract on the syntax tree.
type candidate struct {
	Type        string
	Constructor string // zero-argument New<Type> function, if declared
}

// unit is the parsed shape of one artifact.
type unit struct {
	Package    string
	File       *ast.File
	toolkitRef string // local name of the toolkit import, "." for dot imports
}

func parseUnit(filename string, src []byte) (*unit, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}
	u := &unit{Package: file.Name.Name, File: file}
	for _, spec := range file.Imports {
		p, err := strconv.Unquote(spec.Path.Value)
		if err != nil || p != ToolkitImportPath {
			continue
		}
		u.toolkitRef = "toolkit"
		if spec.Name != nil {
			u.toolkitRef = spec.Name.Name
		}
	}
	return u, nil
}

// capabilityTypes returns the exported, non-generic types whose declared
// methods match Name, Description, InputSchema and Execute. Methods promoted
// through embedding are not considered.
func (u *unit) capabilityTypes() []candidate {
	if u.toolkitRef == "" || u.toolkitRef == "_" {
		return nil
	}
	methods := map[string]map[string]*ast.FuncDecl{}
	funcs := map[string]*ast.FuncDecl{}
	for _, decl := range u.File.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		if fn.Recv == nil {
			funcs[fn.Name.Name] = fn
			continue
		}
		recv := receiverType(fn.Recv)
		if recv == "" {
			continue
		}
		if methods[recv] == nil {
			methods[recv] = map[string]*ast.FuncDecl{}
		}
		methods[recv][fn.Name.Name] = fn
	}

	var out []candidate
	for _, decl := range u.File.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			ts := spec.(*ast.TypeSpec)
			if !ts.Name.IsExported() || ts.TypeParams != nil {
				continue
			}
			if _, isIface := ts.Type.(*ast.InterfaceType); isIface {
				continue
			}
			if !u.satisfiesContract(methods[ts.Name.Name]) {
				continue
			}
			c := candidate{Type: ts.Name.Name}
			if ctor, ok := funcs["New"+ts.Name.Name]; ok && isNullaryConstructor(ctor) {
				c.Constructor = ctor.Name.Name
			}
			out = append(out, c)
		}
	}
	return out
}

func (u *unit) satisfiesContract(set map[string]*ast.FuncDecl) bool {
	if set == nil {
		return false
	}
	name, desc, schema, exec := set["Name"], set["Description"], set["InputSchema"], set["Execute"]
	if name == nil || desc == nil || schema == nil || exec == nil {
		return false
	}
	if !noParams(name.Type) || !singleResult(name.Type, isIdent("string")) {
		return false
	}
	if !noParams(desc.Type) || !singleResult(desc.Type, isIdent("string")) {
		return false
	}
	if !noParams(schema.Type) || !singleResult(schema.Type, isStringMap) {
		return false
	}
	return singleParam(exec.Type, isAnyMap) && singleResult(exec.Type, u.isToolkitResult)
}

// entryFunc reports whether the unit declares a package-level function name
// with signature func(map[string]any) map[string]any.
func (u *unit) entryFunc(name string) (found, valid bool) {
	for _, decl := range u.File.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil || fn.Name.Name != name {
			continue
		}
		return true, fn.Type.TypeParams == nil && singleParam(fn.Type, isAnyMap) && singleResult(fn.Type, isAnyMap)
	}
	return false, false
}

func (u *unit) isToolkitResult(expr ast.Expr) bool {
	if u.toolkitRef == "." {
		return isIdent("Result")(expr)
	}
	sel, ok := expr.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	pkg, ok := sel.X.(*ast.Ident)
	return ok && pkg.Name == u.toolkitRef && sel.Sel.Name == "Result"
}

func receiverType(recv *ast.FieldList) string {
	if recv == nil || len(recv.List) != 1 {
		return ""
	}
	expr := recv.List[0].Type
	if star, ok := expr.(*ast.StarExpr); ok {
		expr = star.X
	}
	if ident, ok := expr.(*ast.Ident); ok {
		return ident.Name
	}
	return ""
}

func isNullaryConstructor(fn *ast.FuncDecl) bool {
	return fn.Type.TypeParams == nil && noParams(fn.Type) && fn.Type.Results != nil && fieldCount(fn.Type.Results) == 1
}

func noParams(ft *ast.FuncType) bool {
	return fieldCount(ft.Params) == 0
}

func singleParam(ft *ast.FuncType, match func(ast.Expr) bool) bool {
	return fieldCount(ft.Params) == 1 && match(ft.Params.List[0].Type)
}

func singleResult(ft *ast.FuncType, match func(ast.Expr) bool) bool {
	return ft.Results != nil && fieldCount(ft.Results) == 1 && match(ft.Results.List[0].Type)
}

func fieldCount(fl *ast.FieldList) int {
	if fl == nil {
		return 0
	}
	n := 0
	for _, f := range fl.List {
		if len(f.Names) == 0 {
			n++
			continue
		}
		n += len(f.Names)
	}
	return n
}

func isIdent(name string) func(ast.Expr) bool {
	return func(expr ast.Expr) bool {
		ident, ok := expr.(*ast.Ident)
		return ok && ident.Name == name
	}
}

func isStringMap(expr ast.Expr) bool {
	m, ok := expr.(*ast.MapType)
	return ok && isIdent("string")(m.Key) && isIdent("string")(m.Value)
}

// isAnyMap matches map[string]any and map[string]interface{}.
func isAnyMap(expr ast.Expr) bool {
	m, ok := expr.(*ast.MapType)
	if !ok || !isIdent("string")(m.Key) {
		return false
	}
	if isIdent("any")(m.Value) {
		return true
	}
	iface, ok := m.Value.(*ast.InterfaceType)
	return ok && (iface.Methods == nil || len(iface.Methods.List) == 0)
}

// sanitizeIdent maps an arbitrary name onto a Go identifier fragment.
func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
