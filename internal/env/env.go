// Package env composes the environment of supervised children.
package env

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Vars map[string]string

// Env layers global overrides on top of a base environment. It is immutable;
// With* methods return a modified copy.
type Env struct {
	base   Vars
	global Vars
}

// New returns an Env whose base is the current OS environment.
func New() Env {
	return Env{base: Parse(os.Environ()), global: Vars{}}
}

// Empty returns an Env without any base variables.
func Empty() Env {
	return Env{base: Vars{}, global: Vars{}}
}

// WithSet returns a copy with K=V applied as a global override.
func (e Env) WithSet(k, v string) Env {
	if k == "" {
		return e
	}
	g := make(Vars, len(e.global)+1)
	for gk, gv := range e.global {
		g[gk] = gv
	}
	g[k] = v
	return Env{base: e.base, global: g}
}

// WithPairs applies a list of "K=V" entries as global overrides.
func (e Env) WithPairs(pairs []string) Env {
	for k, v := range Parse(pairs) {
		e = e.WithSet(k, v)
	}
	return e
}

// Merge composes base, then global overrides, then perProject "K=V"
// entries, and expands ${VAR} references against the composed set. The
// result is sorted by key.
func (e Env) Merge(perProject []string) []string {
	m := make(Vars, len(e.base)+len(e.global)+len(perProject))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.global {
		m[k] = v
	}
	for k, v := range Parse(perProject) {
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

// expand replaces ${VAR} with values from m. Unknown names expand to "";
// there is no recursion.
func expand(s string, m Vars) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(m[s[i+2:i+j]])
		s = s[i+j+1:]
	}
}

// Parse converts "K=V" entries into a map, skipping malformed ones.
func Parse(pairs []string) Vars {
	m := make(Vars, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

// LoadFile reads a .env file with KEY=VALUE lines. Blank lines and lines
// starting with # are ignored, an "export " prefix and matching quotes
// around the value are stripped.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []string
	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%s:%d: expected KEY=VALUE", path, n)
		}
		v = strings.TrimSpace(v)
		if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
			v = v[1 : len(v)-1]
		}
		out = append(out, k+"="+v)
	}
	return out, sc.Err()
}
