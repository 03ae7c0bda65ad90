// Package env loads variables from the process environment, .env files, var
// files and inline flags.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// Vars is a flat string-to-string variable set.
type Vars map[string]string

// FromOS builds Vars from the current process environment.
func FromOS() Vars {
	out := make(Vars)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		out[key] = value
	}
	return out
}

// Merge merges several Vars maps into one, later maps overriding earlier keys.
func Merge(sets ...Vars) Vars {
	out := make(Vars)
	for _, s := range sets {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

// Map converts v to the mapping shape stored under the "env" variable.
func (v Vars) Map() map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// LoadEnvFile reads a single .env file.
func LoadEnvFile(path string) (Vars, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, err
	}
	return Vars(values), nil
}

// LoadEnvFiles loads files in order, later files overriding earlier ones.
// Relative paths are taken from baseDir and "~" is expanded. A file name
// prefixed with "?" is optional and skipped when missing.
func LoadEnvFiles(baseDir string, files []string) (Vars, error) {
	result := make(Vars)
	for _, name := range files {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		optional := strings.HasPrefix(name, "?")
		name = strings.TrimPrefix(name, "?")

		path, err := Expand(baseDir, name)
		if err != nil {
			return nil, err
		}
		if optional {
			if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
				continue
			}
		}
		loaded, err := LoadEnvFile(path)
		if err != nil {
			return nil, fmt.Errorf("load env file %q: %w", path, err)
		}
		result = Merge(result, loaded)
	}
	return result, nil
}

// Expand resolves "~" and makes path absolute relative to baseDir.
func Expand(baseDir, path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", path, err)
	}
	if !filepath.IsAbs(expanded) && baseDir != "" {
		expanded = filepath.Join(baseDir, expanded)
	}
	return expanded, nil
}

// ParseInlineVars parses a comma-separated k=v list (e.g. "A=1,B=2").
func ParseInlineVars(s string) (Vars, error) {
	out := make(Vars)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, err := ParseAssignment(part)
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}

// ParseAssignment splits a single key=value pair.
func ParseAssignment(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", fmt.Errorf("invalid assignment %q, expected key=value", s)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", fmt.Errorf("empty key in assignment %q", s)
	}
	return key, strings.TrimSpace(value), nil
}

// LoadVarFile reads deploy variables from path. Files ending in .env are read
// as dotenv; anything else is a YAML mapping whose values may be lists or
// nested mappings.
func LoadVarFile(path string) (map[string]any, error) {
	path, err := Expand("", path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".env") || strings.HasPrefix(filepath.Base(path), ".env") {
		values, err := LoadEnvFile(path)
		if err != nil {
			return nil, err
		}
		return values.Map(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse var file %q: %w", path, err)
	}
	return out, nil
}
