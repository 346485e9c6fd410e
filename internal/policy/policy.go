// Package policy decides which runs may start, using an expression over the
// run's parameters, e.g.
//
//	owner in ["acme", "globex"] && !(repo startsWith "legacy-")
package policy

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/soochol/tsupgrade/internal/tsupgrade"
)

// env is what an admission rule can reference.
type env struct {
	Owner   string `expr:"owner"`
	Repo    string `expr:"repo"`
	Branch  string `expr:"branch"`
	Version string `expr:"version"`
	RunID   string `expr:"run_id"`
}

// Rule is a compiled admission expression.
type Rule struct {
	source  string
	program *vm.Program
}

// Compile parses an admission expression. An empty expression admits every run.
func Compile(source string) (*Rule, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return &Rule{}, nil
	}
	program, err := expr.Compile(source, expr.Env(env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile admission rule %q: %w", source, err)
	}
	return &Rule{source: source, program: program}, nil
}

// Admit returns tsupgrade.ErrRunRejected when the rule evaluates to false.
func (r *Rule) Admit(p tsupgrade.RunParams) error {
	if r == nil || r.program == nil {
		return nil
	}
	out, err := expr.Run(r.program, env{
		Owner:   p.Owner,
		Repo:    p.Repo,
		Branch:  p.Branch,
		Version: p.Version,
		RunID:   p.RunID,
	})
	if err != nil {
		return fmt.Errorf("evaluate admission rule %q: %w", r.source, err)
	}
	if ok, _ := out.(bool); !ok {
		return fmt.Errorf("%w: %s/%s does not satisfy %q", tsupgrade.ErrRunRejected, p.Owner, p.Repo, r.source)
	}
	return nil
}

// String returns the rule's source expression.
func (r *Rule) String() string {
	if r == nil {
		return ""
	}
	return r.source
}
