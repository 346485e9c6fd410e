package tsupgrade

import (
	"fmt"
	"strconv"
	"strings"
)

// --- Run Status ---

// RunStatus is the step a run has reached. The integer values are what the
// ledger persists and what ordering comparisons use, so they are spelled out
// one by one: renumbering or reordering them breaks every stored record.
type RunStatus int

const (
	StatusError       RunStatus = -1
	StatusAuth        RunStatus = 0
	StatusFork        RunStatus = 1
	StatusClone       RunStatus = 2
	StatusBranch      RunStatus = 3
	StatusCheckout    RunStatus = 4
	StatusUpgrade     RunStatus = 5
	StatusAdd         RunStatus = 6
	StatusCommit      RunStatus = 7
	StatusPush        RunStatus = 8
	StatusStar        RunStatus = 9
	StatusPullRequest RunStatus = 10
	StatusDone        RunStatus = 11
)

var statusNames = map[RunStatus]string{
	StatusError:       "Error",
	StatusAuth:        "Auth",
	StatusFork:        "Fork",
	StatusClone:       "Clone",
	StatusBranch:      "Branch",
	StatusCheckout:    "Checkout",
	StatusUpgrade:     "Upgrade",
	StatusAdd:         "Add",
	StatusCommit:      "Commit",
	StatusPush:        "Push",
	StatusStar:        "Star",
	StatusPullRequest: "PullRequest",
	StatusDone:        "Done",
}

// SuccessPath lists every non-error status in workflow order.
func SuccessPath() []RunStatus {
	path := make([]RunStatus, 0, int(StatusDone)+1)
	for s := StatusAuth; s <= StatusDone; s++ {
		path = append(path, s)
	}
	return path
}

func (s RunStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "RunStatus(" + strconv.Itoa(int(s)) + ")"
}

// Valid reports whether s is one of the declared statuses.
func (s RunStatus) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsTerminal reports whether no further transitions follow s.
func (s RunStatus) IsTerminal() bool {
	return s == StatusError || s == StatusDone
}

// Next returns the status that follows s on the success path.
// Terminal statuses return themselves.
func (s RunStatus) Next() RunStatus {
	if s.IsTerminal() || !s.Valid() {
		return s
	}
	return s + 1
}

// MarshalText encodes the status by name.
func (s RunStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid run status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText accepts a status name (case-insensitive) or its ordinal.
func (s *RunStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseRunStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseRunStatus resolves a status from its name or ordinal.
func ParseRunStatus(v string) (RunStatus, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		s := RunStatus(n)
		if !s.Valid() {
			return 0, fmt.Errorf("unknown run status %q", v)
		}
		return s, nil
	}
	for s, name := range statusNames {
		if strings.EqualFold(name, v) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown run status %q", v)
}
