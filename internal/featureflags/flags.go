// Package featureflags evaluates rollout switches such as "uploads=on,signup=25%".
package featureflags

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// Flags known to the blog.
const (
	Uploads = "uploads"
	Signup  = "signup"
)

// Set holds parsed flag values keyed by lower-cased name.
type Set struct {
	flags map[string]string
}

// Parse reads a comma-separated key=value list. Malformed pairs are skipped.
func Parse(raw string) *Set {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return &Set{flags: out}
}

// Enabled reports whether name is on for the given identity. Accepted values are
// on/true/1, off/false/0 and N% for a deterministic per-identity rollout. A
// percentage rollout needs an identity; anonymous callers only see 100%.
func (s *Set) Enabled(name, identityID string) bool {
	if s == nil {
		return false
	}
	value, ok := s.flags[normalize(name)]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pctRaw, isPct := strings.CutSuffix(value, "%")
	if !isPct {
		return false
	}
	pct, err := strconv.Atoi(pctRaw)
	switch {
	case err != nil, pct <= 0:
		return false
	case pct >= 100:
		return true
	case identityID == "":
		return false
	}
	return bucket(name, identityID) < pct
}

// Names returns the configured flag names in sorted order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.flags))
	for name := range s.flags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot evaluates every configured flag for one identity.
func (s *Set) Snapshot(identityID string) map[string]bool {
	out := make(map[string]bool)
	for _, name := range s.Names() {
		out[name] = s.Enabled(name, identityID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func bucket(name, identityID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + identityID))
	return int(h.Sum32() % 100)
}
