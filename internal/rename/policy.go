package rename

import "strings"

// Policy controls what happens when a rename is detected. It is the value of
// the "updateImportsOnFileMove" setting.
type Policy string

const (
	// PolicyNever ignores detected renames.
	PolicyNever Policy = "never"
	// PolicyPrompt asks before updating imports.
	PolicyPrompt Policy = "prompt"
	// PolicyAlways updates imports without asking.
	PolicyAlways Policy = "always"
)

// DefaultPolicy is used when the setting is missing or not recognised.
const DefaultPolicy = PolicyPrompt

// ParsePolicy parses s case-insensitively. Unknown values yield
// DefaultPolicy and false.
func ParsePolicy(s string) (Policy, bool) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyNever:
		return PolicyNever, true
	case PolicyPrompt:
		return PolicyPrompt, true
	case PolicyAlways:
		return PolicyAlways, true
	default:
		return DefaultPolicy, false
	}
}

func (p Policy) String() string {
	return string(p)
}
