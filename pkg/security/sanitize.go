package security

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SanitizeArgs validates tool-call arguments before execution: bounded
// total size, bounded string lengths, bounded nesting depth, no NUL bytes,
// and none of the configured banned substrings. The returned error text is
// safe to surface to the caller.
func (p *Policy) SanitizeArgs(args map[string]any) error {
	if len(args) == 0 {
		return nil
	}

	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("arguments are not serializable: %v", err)
	}
	if len(data) > p.cfg.Sanitize.MaxArgBytes {
		return fmt.Errorf("arguments exceed %d bytes", p.cfg.Sanitize.MaxArgBytes)
	}

	for key, value := range args {
		if err := p.checkValue(key, value, 1); err != nil {
			return err
		}
	}
	return nil
}

func (p *Policy) checkValue(path string, value any, depth int) error {
	if depth > p.cfg.Sanitize.MaxDepth {
		return fmt.Errorf("argument %q nests deeper than %d levels", path, p.cfg.Sanitize.MaxDepth)
	}

	switch v := value.(type) {
	case string:
		return p.checkString(path, v)
	case map[string]any:
		for key, inner := range v {
			if err := p.checkValue(path+"."+key, inner, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for i, inner := range v {
			if err := p.checkValue(fmt.Sprintf("%s[%d]", path, i), inner, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Policy) checkString(path, s string) error {
	if len(s) > p.cfg.Sanitize.MaxStringLen {
		return fmt.Errorf("argument %q exceeds %d characters", path, p.cfg.Sanitize.MaxStringLen)
	}
	if strings.ContainsRune(s, 0) {
		return fmt.Errorf("argument %q contains a NUL byte", path)
	}
	for _, banned := range p.cfg.Sanitize.BannedSubstrings {
		if banned != "" && strings.Contains(s, banned) {
			return fmt.Errorf("argument %q contains a banned sequence", path)
		}
	}
	return nil
}
