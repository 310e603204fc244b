package security

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// IsToolAllowed applies the allow/deny pattern lists to a tool name. An
// empty allow list admits everything; a deny match always wins.
func (p *Policy) IsToolAllowed(name string) bool {
	for _, pattern := range p.cfg.DeniedTools {
		if matchPattern(pattern, name) {
			return false
		}
	}
	if len(p.cfg.AllowedTools) == 0 {
		return true
	}
	for _, pattern := range p.cfg.AllowedTools {
		if matchPattern(pattern, name) {
			return true
		}
	}
	return false
}

// matchPattern checks a tool name against one rule pattern: glob matching
// when the pattern carries metacharacters, exact match otherwise.
func matchPattern(pattern, name string) bool {
	if isGlobPattern(pattern) {
		matched, err := doublestar.Match(pattern, name)
		return err == nil && matched
	}
	return pattern == name
}

// isGlobPattern returns true if the pattern contains glob metacharacters.
func isGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}
