package policy

import (
	"errors"
	"testing"

	"github.com/soochol/tsupgrade/internal/tsupgrade"
)

func params(owner, repo string) tsupgrade.RunParams {
	return tsupgrade.RunParams{Owner: owner, Repo: repo, Branch: "main", Version: "5.4", RunID: "r1"}
}

func TestRule_Admit(t *testing.T) {
	tests := []struct {
		name   string
		rule   string
		params tsupgrade.RunParams
		admit  bool
	}{
		{"empty admits", "", params("acme", "widgets"), true},
		{"owner allowlist", `owner in ["acme", "globex"]`, params("acme", "widgets"), true},
		{"owner not listed", `owner in ["acme", "globex"]`, params("initech", "tps"), false},
		{"repo prefix", `!(repo startsWith "legacy-")`, params("acme", "legacy-billing"), false},
		{"branch and version", `branch == "main" && version != "latest"`, params("acme", "widgets"), true},
		{"run id", `run_id != ""`, params("acme", "widgets"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Compile(tt.rule)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			err = r.Admit(tt.params)
			if tt.admit && err != nil {
				t.Fatalf("expected admit, got %v", err)
			}
			if !tt.admit && !errors.Is(err, tsupgrade.ErrRunRejected) {
				t.Fatalf("expected ErrRunRejected, got %v", err)
			}
		})
	}
}

func TestCompile_Invalid(t *testing.T) {
	for _, src := range []string{`owner ==`, `stars > 10`, `owner`} {
		if _, err := Compile(src); err == nil {
			t.Errorf("Compile(%q): expected error", src)
		}
	}
}

func TestRule_NilAdmits(t *testing.T) {
	var r *Rule
	if err := r.Admit(params("acme", "widgets")); err != nil {
		t.Fatalf("nil rule: %v", err)
	}
	if r.String() != "" {
		t.Errorf("nil rule string: %q", r.String())
	}
}
