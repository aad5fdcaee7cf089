// pkg/tool/lti/constraints.go
package lti

import (
	"sort"
	"strings"
)

// checkParameterConstraints gathers every violated constraint into one
// reason.
func (t *Tool) checkParameterConstraints(l *Launch) error {
	names := make([]string, 0, len(t.constraints))
	for name := range t.constraints {
		names = append(names, name)
	}
	sort.Strings(names)

	var invalid []string
	for _, name := range names {
		c := t.constraints[name]
		if len(c.MessageTypes) > 0 && !contains(c.MessageTypes, l.MessageType) {
			continue
		}
		v := l.Params.Trimmed(name)
		if c.Required && v == "" {
			invalid = append(invalid, name+" (missing)")
			continue
		}
		if c.MaxLength > 0 && len(v) > c.MaxLength {
			invalid = append(invalid, name+" (too long)")
		}
	}
	if len(invalid) > 0 {
		return businessError("Invalid parameter(s): " + strings.Join(invalid, ", ") + ".")
	}
	return nil
}
