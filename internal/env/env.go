// Package env composes the environment handed to spawned modules.
package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Parse turns "K=V" entries into a map. Entries without '=' or with an empty
// key are skipped; later entries win.
func Parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		m[kv[:i]] = kv[i+1:]
	}
	return m
}

// Compose starts from base (os.Environ() when nil), applies overrides and
// expands $VAR and ${VAR} references in override values against the composed map.
// The result is sorted by key.
func Compose(base, overrides []string) []string {
	if base == nil {
		base = os.Environ()
	}
	orig := Parse(base)
	ov := Parse(overrides)
	m := make(Var, len(orig)+len(ov))
	for k, v := range orig {
		m[k] = v
	}
	for k, v := range ov {
		m[k] = v
	}
	expanded := make(Var, len(ov))
	for k, v := range ov {
		expanded[k] = expand(v, k, orig, m)
	}
	for k, v := range expanded {
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

// expand replaces references once. A reference to the variable being defined
// resolves to its base value; unknown references are left as written.
func expand(s, self string, base, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string {
		src := m
		if k == self {
			src = base
		}
		if v, ok := src[k]; ok {
			return v
		}
		return "${" + k + "}"
	})
}
