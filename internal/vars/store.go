// Package vars holds the named configuration values shared by every task of one
// deploy invocation.
//
// Values are written with Fill (default, only if absent) or Set (override) and
// read back through Get or the typed helpers. Strings may reference other values
// with {{name}} placeholders; placeholders are resolved at the moment of use, so
// redefining a value after a template mentioning it was declared is visible to
// that template.
package vars

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Origin records how a value was written.
type Origin int

const (
	// OriginFill marks a default written by Fill.
	OriginFill Origin = iota
	// OriginSet marks an explicit override written by Set.
	OriginSet
)

func (o Origin) String() string {
	if o == OriginSet {
		return "set"
	}
	return "fill"
}

// Func is a computed value. It is evaluated on every read, against the store that
// is reading it (which may be a fork of the store it was written to).
type Func func(s *Store) (any, error)

// Variable is a single stored value together with its origin.
type Variable struct {
	Name   string
	Value  any
	Origin Origin
}

// Store is a variable scope. A forked store reads through to its parent but keeps
// its writes local, which lets every invocation share one set of read-only defaults.
//
// Store is safe for concurrent use.
type Store struct {
	parent *Store

	mu     sync.RWMutex
	values map[string]Variable
}

// New returns an empty store.
func New() *Store {
	return &Store{values: make(map[string]Variable)}
}

// Fork returns a child store whose reads fall through to s.
func (s *Store) Fork() *Store {
	child := New()
	child.parent = s
	return child
}

// Fill sets name only when no value exists for it here or in any parent.
// It reports whether the value was written.
func (s *Store) Fill(name string, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[name]; ok {
		return false
	}
	if s.parent != nil && s.parent.Has(name) {
		return false
	}
	s.values[name] = Variable{Name: name, Value: normalize(value), Origin: OriginFill}
	return true
}

// Set writes name unconditionally.
func (s *Store) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = Variable{Name: name, Value: normalize(value), Origin: OriginSet}
}

// Has reports whether name has a value here or in any parent.
func (s *Store) Has(name string) bool {
	_, ok := s.lookup(name)
	return ok
}

// Lookup returns the stored variable without evaluating computed values.
func (s *Store) Lookup(name string) (Variable, bool) {
	return s.lookup(name)
}

func (s *Store) lookup(name string) (Variable, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		v, ok := cur.values[name]
		cur.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return Variable{}, false
}

// Get returns the raw value of name. Computed values are evaluated; templates
// inside string values are left untouched (see String).
func (s *Store) Get(name string) (any, error) {
	head, rest, dotted := strings.Cut(name, ".")
	v, ok := s.lookup(head)
	if !ok {
		return nil, &UndefinedVariableError{Name: name}
	}
	value := v.Value
	if fn, isFunc := value.(Func); isFunc {
		computed, err := fn(s)
		if err != nil {
			return nil, fmt.Errorf("compute %q: %w", head, err)
		}
		value = normalize(computed)
	}
	if !dotted {
		return value, nil
	}
	return walkPath(name, value, strings.Split(rest, "."))
}

// walkPath descends into mapping values for dotted names such as env.DB_HOST.
func walkPath(full string, value any, path []string) (any, error) {
	for _, key := range path {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, &UndefinedVariableError{Name: full}
		}
		next, ok := m[key]
		if !ok {
			return nil, &UndefinedVariableError{Name: full}
		}
		value = normalize(next)
	}
	return value, nil
}

// String returns the value of name rendered as a string with every placeholder
// resolved. Lists render space-joined.
func (s *Store) String(name string) (string, error) {
	return s.resolveName(name, nil)
}

// Strings returns a list value with every element resolved. A scalar string is
// returned as a one-element list.
func (s *Store) Strings(name string) ([]string, error) {
	raw, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	switch v := raw.(type) {
	case []string:
		out := make([]string, 0, len(v))
		for _, item := range v {
			resolved, err := s.resolve(item, []string{name})
			if err != nil {
				return nil, err
			}
			out = append(out, resolved)
		}
		return out, nil
	case string:
		resolved, err := s.resolve(v, []string{name})
		if err != nil {
			return nil, err
		}
		return []string{resolved}, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("variable %q is %T, not a list", name, raw)
	}
}

// Bool interprets the value of name as a boolean. Missing values are false.
func (s *Store) Bool(name string) (bool, error) {
	if !s.Has(name) {
		return false, nil
	}
	raw, err := s.Get(name)
	if err != nil {
		return false, err
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	case string:
		str, err := s.resolve(v, []string{name})
		if err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(str)) {
		case "", "0", "false", "no", "off":
			return false, nil
		case "1", "true", "yes", "on":
			return true, nil
		}
		return false, fmt.Errorf("variable %q: %q is not a boolean", name, str)
	default:
		return false, fmt.Errorf("variable %q is %T, not a boolean", name, raw)
	}
}

// Map returns a mapping value.
func (s *Store) Map(name string) (map[string]any, error) {
	raw, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case nil:
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("variable %q is %T, not a mapping", name, raw)
	}
}

// Names returns every visible variable name, sorted.
func (s *Store) Names() []string {
	seen := make(map[string]struct{})
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		for k := range cur.values {
			seen[k] = struct{}{}
		}
		cur.mu.RUnlock()
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// normalize coerces decoded YAML shapes into the value kinds the store understands.
func normalize(value any) any {
	switch v := value.(type) {
	case nil, string, bool, Func, []string, map[string]any:
		return v
	case func(*Store) (any, error):
		return Func(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, scalarString(item))
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = item
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[fmt.Sprint(k)] = item
		}
		return out
	case int:
		return strconv.Itoa(v)
	default:
		return scalarString(v)
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
