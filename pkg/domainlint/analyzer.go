// Package domainlint provides static analysis checks for Go code that
// builds planning domains programmatically.
//
// The analyzer reports mistakes that domain.RegisterOperator and
// domain.RegisterMethod would otherwise only reject at runtime:
//   - Empty string literals passed to NewDomain() or NewFact()
//   - Operator and Method literals without a name
//   - Method orderings that point outside the subtask list, or order a
//     subtask after itself
//   - The same fact listed twice in a precondition or effect list
//
// Usage:
//
//	go install github.com/example/hybridplanner/cmd/domain-lint@latest
//	domain-lint ./...
package domainlint

import (
	"go/ast"
	"go/token"
	"go/types"
	"strconv"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

// Analyzer is the domain lint analyzer.
var Analyzer = &analysis.Analyzer{
	Name:     "domainlint",
	Doc:      "checks for common mistakes in planning domain definitions",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func run(pass *analysis.Pass) (any, error) {
	inspect := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{(*ast.CallExpr)(nil), (*ast.CompositeLit)(nil)}
	inspect.Preorder(nodeFilter, func(n ast.Node) {
		switch n := n.(type) {
		case *ast.CallExpr:
			checkCall(pass, n)
		case *ast.CompositeLit:
			checkLiteral(pass, n)
		}
	})

	return nil, nil
}

// checkCall checks calls like domain.NewFact("...")
func checkCall(pass *analysis.Pass, call *ast.CallExpr) {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return
	}
	pkg, ok := sel.X.(*ast.Ident)
	if !ok || pkg.Name != "domain" {
		return
	}

	switch sel.Sel.Name {
	case "NewDomain", "NewFact":
		if len(call.Args) == 0 {
			return
		}
		if lit, ok := call.Args[0].(*ast.BasicLit); ok && lit.Kind == token.STRING {
			if lit.Value == `""` || lit.Value == "``" {
				pass.Reportf(lit.Pos(), "%s called with empty string literal", sel.Sel.Name)
			}
		}
	}
}

func checkLiteral(pass *analysis.Pass, lit *ast.CompositeLit) {
	t := pass.TypesInfo.TypeOf(lit)
	if t == nil {
		return
	}
	if s, ok := t.Underlying().(*types.Slice); ok {
		if domainType(s.Elem()) == "Fact" {
			checkDuplicateFacts(pass, lit)
		}
		return
	}

	switch name := domainType(t); name {
	case "Operator":
		checkName(pass, lit, name)
	case "Method":
		checkName(pass, lit, name)
		checkOrderings(pass, lit)
	}
}

// domainType returns the name of t when it is declared in a package named
// domain.
func domainType(t types.Type) string {
	named, ok := t.(*types.Named)
	if !ok {
		return ""
	}
	obj := named.Obj()
	if obj.Pkg() == nil || obj.Pkg().Name() != "domain" {
		return ""
	}
	return obj.Name()
}

func checkName(pass *analysis.Pass, lit *ast.CompositeLit, kind string) {
	if !keyed(lit) {
		return
	}
	v, ok := field(lit, "Name")
	if !ok || isEmptyString(v) {
		pass.Reportf(lit.Pos(), "%s literal has no name", kind)
	}
}

func checkOrderings(pass *analysis.Pass, lit *ast.CompositeLit) {
	subtasks, ok := field(lit, "Subtasks")
	if !ok {
		return
	}
	subLit, ok := subtasks.(*ast.CompositeLit)
	if !ok {
		return
	}
	n := len(subLit.Elts)

	orderings, ok := field(lit, "Orderings")
	if !ok {
		return
	}
	ordLit, ok := orderings.(*ast.CompositeLit)
	if !ok {
		return
	}
	for _, elt := range ordLit.Elts {
		pair, ok := elt.(*ast.CompositeLit)
		if !ok || len(pair.Elts) != 2 {
			continue
		}
		before, ok1 := intLit(pair.Elts[0])
		after, ok2 := intLit(pair.Elts[1])
		if !ok1 || !ok2 {
			continue
		}
		switch {
		case before >= n || after >= n:
			pass.Reportf(pair.Pos(), "ordering {%d, %d} references subtask %d but the method has %d subtasks",
				before, after, max(before, after), n)
		case before == after:
			pass.Reportf(pair.Pos(), "ordering {%d, %d} orders a subtask after itself", before, after)
		}
	}
}

// checkDuplicateFacts reports facts listed twice with the same value.
func checkDuplicateFacts(pass *analysis.Pass, lit *ast.CompositeLit) {
	seen := make(map[string]token.Pos)
	for _, elt := range lit.Elts {
		key, ok := factKey(elt)
		if !ok {
			continue
		}
		if prev, exists := seen[key.name+"="+key.value]; exists {
			pass.Reportf(elt.Pos(), "duplicate fact %q (first seen at %v)", key.name, pass.Fset.Position(prev))
			continue
		}
		seen[key.name+"="+key.value] = elt.Pos()
	}
}

type factID struct {
	name, value string
}

func factKey(expr ast.Expr) (factID, bool) {
	switch e := expr.(type) {
	case *ast.CallExpr:
		sel, ok := e.Fun.(*ast.SelectorExpr)
		if !ok || sel.Sel.Name != "NewFact" || len(e.Args) != 1 {
			return factID{}, false
		}
		name, ok := stringLit(e.Args[0])
		return factID{name: name}, ok && name != ""
	case *ast.CompositeLit:
		nameExpr, ok := field(e, "Name")
		if !ok {
			return factID{}, false
		}
		name, ok := stringLit(nameExpr)
		if !ok || name == "" {
			return factID{}, false
		}
		id := factID{name: name}
		if v, ok := field(e, "Value"); ok {
			if id.value, ok = stringLit(v); !ok {
				return factID{}, false
			}
		}
		return id, true
	}
	return factID{}, false
}

func keyed(lit *ast.CompositeLit) bool {
	if len(lit.Elts) == 0 {
		return true
	}
	_, ok := lit.Elts[0].(*ast.KeyValueExpr)
	return ok
}

func field(lit *ast.CompositeLit, name string) (ast.Expr, bool) {
	for _, elt := range lit.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			return nil, false
		}
		if k, ok := kv.Key.(*ast.Ident); ok && k.Name == name {
			return kv.Value, true
		}
	}
	return nil, false
}

func isEmptyString(expr ast.Expr) bool {
	s, ok := stringLit(expr)
	return ok && s == ""
}

func stringLit(expr ast.Expr) (string, bool) {
	lit, ok := expr.(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", false
	}
	s, err := strconv.Unquote(lit.Value)
	if err != nil {
		return "", false
	}
	return s, true
}

func intLit(expr ast.Expr) (int, bool) {
	lit, ok := expr.(*ast.BasicLit)
	if !ok || lit.Kind != token.INT {
		return 0, false
	}
	n, err := strconv.Atoi(lit.Value)
	if err != nil {
		return 0, false
	}
	return n, true
}
