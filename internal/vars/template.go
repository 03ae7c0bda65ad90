package vars

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholder matches {{name}}, {{ bin/composer }} and dotted paths like {{env.DB_HOST}}.
var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_./:\-]+)\s*\}\}`)

// maxDepth bounds nested resolution independently of cycle detection.
const maxDepth = 64

// Resolve substitutes every {{name}} placeholder in tmpl against the store,
// recursively, using the values visible right now.
func (s *Store) Resolve(tmpl string) (string, error) {
	return s.resolve(tmpl, nil)
}

func (s *Store) resolve(tmpl string, stack []string) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}
	if len(stack) > maxDepth {
		return "", &TemplateCycleError{Chain: stack}
	}

	var firstErr error
	out := placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := placeholder.FindStringSubmatch(match)[1]
		for _, seen := range stack {
			if seen == name {
				firstErr = &TemplateCycleError{Chain: append(append([]string(nil), stack...), name)}
				return match
			}
		}
		value, err := s.resolveName(name, stack)
		if err != nil {
			firstErr = err
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func (s *Store) resolveName(name string, stack []string) (string, error) {
	raw, err := s.Get(name)
	if err != nil {
		return "", err
	}
	next := append(append([]string(nil), stack...), name)
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return s.resolve(v, next)
	case bool:
		return strconv.FormatBool(v), nil
	case []string:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			resolved, err := s.resolve(item, next)
			if err != nil {
				return "", err
			}
			parts = append(parts, resolved)
		}
		return strings.Join(parts, " "), nil
	default:
		return "", fmt.Errorf("variable %q is %T and cannot be rendered as a string", name, raw)
	}
}
