package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const allowQuery = "data.budget.access.allow"

// Default Rego policy: admins may broadcast, any authenticated subject may act on itself.
const defaultRegoPolicy = `package budget.access

default allow := false

allow if {
	input.action == "session:broadcast"
	"admin" in input.roles
}

allow if {
	startswith(input.action, "self:")
	input.subject != ""
}
`

// OPAEvaluator evaluates the access policy with an in-process OPA Rego engine.
// The policy is compiled once; Allow is safe for concurrent use.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy, or the built-in policy when policy is empty.
// The module must define data.budget.access.allow.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if policy == "" {
		policy = defaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"access.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile access policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(allowQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare access policy: %w", err)
	}
	return &OPAEvaluator{query: q}, nil
}

// NewOPAEvaluatorFromFile reads a Rego module from path. An empty path selects the built-in policy.
func NewOPAEvaluatorFromFile(ctx context.Context, path string) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read access policy: %w", err)
	}
	return NewOPAEvaluator(ctx, string(b))
}

// Allow evaluates the policy for req. An undefined result is a deny.
func (e *OPAEvaluator) Allow(ctx context.Context, req Request) (bool, error) {
	roles := make([]interface{}, 0, len(req.Roles))
	for _, r := range req.Roles {
		roles = append(roles, r)
	}
	input := map[string]interface{}{
		"action":  req.Action,
		"subject": req.Subject,
		"roles":   roles,
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval access policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, errors.New("access policy: allow is not a boolean")
	}
	return allowed, nil
}

// HealthCheck verifies the compiled policy still evaluates. Does not touch the database.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.Allow(ctx, Request{Action: ActionReadSelf, Subject: "health"})
	return err
}
