package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"
)

const regoQuery = "data.smtpsec.tls.level"

// RegoResolver evaluates the TLS level with an embedded OPA instance, so
// operators can express per-destination policy beyond a flat table. The
// policy module must live in package smtpsec.tls and define a `level` rule
// returning one of the level names; an undefined result falls back to the
// resolver's default level.
type RegoResolver struct {
	prepared     rego.PreparedEvalQuery
	defaultLevel Level
	mu           sync.RWMutex
}

// NewRegoResolverFromFile loads and compiles a Rego policy module.
func NewRegoResolverFromFile(ctx context.Context, path, defaultLevel string) (*RegoResolver, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rego policy: %w", err)
	}
	return NewRegoResolver(ctx, path, string(source), defaultLevel)
}

// NewRegoResolver compiles a Rego policy module from source. Compilation
// errors surface here, before the first connection depends on the policy.
func NewRegoResolver(ctx context.Context, name, source, defaultLevel string) (*RegoResolver, error) {
	def, err := ParseLevel(defaultLevel)
	if err != nil {
		return nil, err
	}

	module, err := ast.ParseModuleWithOpts(name, source, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("parse rego module %q: %w", name, err)
	}

	prepared, err := rego.New(
		rego.Query(regoQuery),
		rego.ParsedModule(module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego module %q: %w", name, err)
	}

	return &RegoResolver{prepared: prepared, defaultLevel: def}, nil
}

// Resolve evaluates the policy for the host. An undefined decision selects
// the default level; a decision that is not a known level name is an error,
// since silently weakening security on a typo would be worse than failing.
func (r *RegoResolver) Resolve(host string) (Level, error) {
	r.mu.RLock()
	prepared := r.prepared
	r.mu.RUnlock()

	results, err := prepared.Eval(context.Background(), rego.EvalInput(map[string]any{
		"host": host,
	}))
	if err != nil {
		return LevelNone, fmt.Errorf("evaluate tls policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return r.defaultLevel, nil
	}

	name, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return LevelNone, errors.New("tls policy decision is not a string")
	}
	return ParseLevel(name)
}
