// Package config loads the lmsmig YAML config file.
package config

import (
	"os"
	"regexp"
	"sort"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} with environment values.
// An unset or empty variable takes its default, or expands to "" so that
// a missing secret surfaces as a validation error for the phase that
// needs it.
func ExpandEnv(input string) string {
	out, _ := expand(input, os.LookupEnv)
	return out
}

// UnsetVars lists the variables referenced without a default that are
// unset or empty, sorted and deduplicated.
func UnsetVars(input string) []string {
	_, missing := expand(input, os.LookupEnv)
	return missing
}

func expand(input string, lookup func(string) (string, bool)) (string, []string) {
	seen := map[string]bool{}
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[2]
		if v, ok := lookup(name); ok && v != "" {
			return v
		}
		if def == "" {
			seen[name] = true
		}
		return def
	})
	missing := make([]string, 0, len(seen))
	for name := range seen {
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return out, missing
}
