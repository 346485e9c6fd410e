package tsupgrade

import (
	"fmt"
	"slices"
	"strings"
)

// VersionLatest targets the newest syntax level the transformer knows.
const VersionLatest = "latest"

// DefaultVersions are the syntax levels accepted when none are configured.
var DefaultVersions = []string{"3.7", "3.8", "4.0", "4.1", "4.4", "4.5", "4.9", "5.0", "5.2", "5.4"}

// ParseVersion normalizes v and checks it against the supported levels.
// An empty value means latest.
func ParseVersion(v string, supported []string) (string, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" || v == VersionLatest {
		return VersionLatest, nil
	}
	if len(supported) == 0 {
		supported = DefaultVersions
	}
	if !slices.Contains(supported, v) {
		return "", fmt.Errorf("%w: %q (supported: latest, %s)", ErrUnknownVersion, v, strings.Join(supported, ", "))
	}
	return v, nil
}
