// pkg/tool/lti/params.go
package lti

import (
	"net/url"
	"sort"
	"strings"
)

// Params is a flat LTI parameter set (legacy namespace).
type Params map[string]string

// ParamsFromValues keeps the first value of each key.
func ParamsFromValues(v url.Values) Params {
	p := make(Params, len(v))
	for k, vs := range v {
		if len(vs) > 0 {
			p[k] = vs[0]
		}
	}
	return p
}

func (p Params) Get(name string) string { return p[name] }

// Has reports whether the parameter was supplied at all, even empty.
func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Trimmed returns the parameter with surrounding whitespace removed.
func (p Params) Trimmed(name string) string { return strings.TrimSpace(p[name]) }

func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p Params) Values() url.Values {
	v := make(url.Values, len(p))
	for k, s := range p {
		v.Set(k, s)
	}
	return v
}

// Merge copies every entry of other into p, overwriting existing keys.
func (p Params) Merge(other Params) {
	for k, v := range other {
		p[k] = v
	}
}

// Settings is a string map of named values kept with a record.
// Setting an empty value removes the entry.
type Settings map[string]string

func (s Settings) Get(name string) string { return s[name] }

func (s Settings) Set(name, value string) {
	if value == "" {
		delete(s, name)
		return
	}
	s[name] = value
}

func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Equal reports whether both maps hold the same entries.
func (s Settings) Equal(other Settings) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
