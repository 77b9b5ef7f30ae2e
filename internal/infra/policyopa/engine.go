package policyopa

import (
	"cmp"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"

	"certledger/internal/domain"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

// DefaultBundleID names the policy compiled into the binary.
const DefaultBundleID = "builtin"

const decisionQuery = "data.certledger.authz.result"

//go:embed policy/authz.rego
var builtinPolicy string

// Engine evaluates certificate authorization requests against one compiled
// policy. It is safe for concurrent use.
type Engine struct {
	id     string
	digest string
	decide rego.PreparedEvalQuery
}

func NewDefaultEngine(ctx context.Context) (*Engine, error) {
	return compile(ctx, DefaultBundleID, digestPrefix+hexDigest([]byte(builtinPolicy)),
		rego.Module("authz.rego", builtinPolicy))
}

// NewEngineFromBundlePath compiles the bundle directory dir. The bundle must
// define data.certledger.authz.result.
func NewEngineFromBundlePath(ctx context.Context, dir, id string) (*Engine, error) {
	digest, err := DigestBundleDir(dir)
	if err != nil {
		return nil, err
	}
	return compile(ctx, id, digest, rego.Load([]string{dir}, nil))
}

func compile(ctx context.Context, id, digest string, source func(*rego.Rego)) (*Engine, error) {
	compiler := ast.NewCompiler().WithCapabilities(sandboxCapabilities())
	query, err := rego.New(
		rego.Query(decisionQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		source,
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy %s: %w", id, err)
	}
	if calls := sandboxViolations(compiler); len(calls) > 0 {
		return nil, fmt.Errorf("compile policy %s: builtins not permitted: %s", id, strings.Join(calls, ", "))
	}
	return &Engine{id: id, digest: digest, decide: query}, nil
}

func (e *Engine) BundleID() string { return e.id }

func (e *Engine) BundleHash() string { return e.digest }

// Evaluate runs the policy for input. Deny entries come back sorted by code
// then message, and any deny entry forces Allow to false whatever the policy
// said.
func (e *Engine) Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyEvaluation, error) {
	if e == nil {
		return domain.PolicyEvaluation{}, errors.New("policy engine is nil")
	}
	if input.Requester.Roles == nil {
		input.Requester.Roles = []string{}
	}
	rs, err := e.decide.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.PolicyEvaluation{}, fmt.Errorf("evaluate policy %s: %w", e.id, err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return domain.PolicyEvaluation{}, fmt.Errorf("policy %s: %s is undefined", e.id, decisionQuery)
	}
	result, err := resultFromValue(rs[0].Expressions[0].Value)
	if err != nil {
		return domain.PolicyEvaluation{}, fmt.Errorf("policy %s: %w", e.id, err)
	}
	return domain.PolicyEvaluation{BundleID: e.id, BundleHash: e.digest, Result: result}, nil
}

// resultFromValue reads {"allow": bool, "deny": [{"code", "message"}]}.
func resultFromValue(value any) (domain.PolicyResult, error) {
	doc, ok := value.(map[string]any)
	if !ok {
		return domain.PolicyResult{}, fmt.Errorf("result is %T, want object", value)
	}
	var result domain.PolicyResult
	if raw, present := doc["allow"]; present {
		allow, ok := raw.(bool)
		if !ok {
			return domain.PolicyResult{}, fmt.Errorf("allow is %T, want boolean", raw)
		}
		result.Allow = allow
	}
	if raw, present := doc["deny"]; present && raw != nil {
		items, ok := raw.([]any)
		if !ok {
			return domain.PolicyResult{}, fmt.Errorf("deny is %T, want array", raw)
		}
		for i, item := range items {
			entry, ok := item.(map[string]any)
			if !ok {
				return domain.PolicyResult{}, fmt.Errorf("deny[%d] is %T, want object", i, item)
			}
			code, _ := entry["code"].(string)
			if code == "" {
				return domain.PolicyResult{}, fmt.Errorf("deny[%d] has no code", i)
			}
			message, _ := entry["message"].(string)
			result.Deny = append(result.Deny, domain.PolicyDeny{Code: code, Message: message})
		}
	}
	slices.SortFunc(result.Deny, func(a, b domain.PolicyDeny) int {
		return cmp.Or(cmp.Compare(a.Code, b.Code), cmp.Compare(a.Message, b.Message))
	})
	if len(result.Deny) > 0 {
		result.Allow = false
	}
	return result, nil
}
