package policyopa

import (
	"slices"

	"github.com/open-policy-agent/opa/ast"
)

// permittedBuiltins must stay sorted. Decisions may only depend on the input
// document, so nothing that reads the clock, the network or the runtime is
// listed.
var permittedBuiltins = []string{
	"assign",
	"concat",
	"contains",
	"count",
	"endswith",
	"eq",
	"equal",
	"format_int",
	"gt",
	"gte",
	"lower",
	"lt",
	"lte",
	"neq",
	"object.get",
	"replace",
	"sort",
	"split",
	"sprintf",
	"startswith",
	"trim",
	"trim_space",
	"upper",
}

func permitted(name string) bool {
	_, found := slices.BinarySearch(permittedBuiltins, name)
	return found
}

// sandboxCapabilities is the current OPA capability set cut down to
// permittedBuiltins.
func sandboxCapabilities() *ast.Capabilities {
	caps := ast.CapabilitiesForThisVersion()
	caps.Builtins = slices.DeleteFunc(caps.Builtins, func(b *ast.Builtin) bool {
		return !permitted(b.Name)
	})
	return caps
}

// sandboxViolations lists, sorted and deduplicated, every builtin a compiled
// policy calls that is not permitted.
func sandboxViolations(compiler *ast.Compiler) []string {
	var names []string
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, builtin := ast.BuiltinMap[name]; builtin && !permitted(name) {
				names = append(names, name)
			}
			return false
		})
	}
	slices.Sort(names)
	return slices.Compact(names)
}
