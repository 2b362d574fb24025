// Package identity reconciles the encodings a Steam player identity is
// reported under: 64-bit SteamID, 32-bit account id, as text or as a number.
package identity

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// SteamID64Offset is the SteamID of account id 0 in the public universe.
const SteamID64Offset uint64 = 76561197960265728

const maxAccountID = 1<<32 - 1

// CanonicalKeys returns every string form the given identities may be stored
// or looked up under, deduplicated, in a stable order: for each candidate its
// raw text, its decimal form, then its 32-bit account id (64-bit input) or its
// 64-bit SteamID (32-bit input). Absent candidates contribute nothing.
func CanonicalKeys(candidates ...any) []string {
	out := make([]string, 0, len(candidates)*3)
	seen := make(map[string]struct{}, len(candidates)*3)
	add := func(s string) {
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, c := range candidates {
		raw, n, numeric := normalize(c)
		add(raw)
		if !numeric {
			continue
		}
		add(strconv.FormatUint(n, 10))
		switch {
		case n > SteamID64Offset:
			add(strconv.FormatUint(n-SteamID64Offset, 10))
		case n > 0 && n <= maxAccountID:
			add(strconv.FormatUint(n+SteamID64Offset, 10))
		}
	}
	return out
}

// Resolve looks up m by the canonical keys of candidates and returns the first
// hit along with the key that matched.
func Resolve[V any](m map[string]V, candidates ...any) (V, string, bool) {
	var zero V
	if len(m) == 0 {
		return zero, "", false
	}
	for _, k := range CanonicalKeys(candidates...) {
		if v, ok := m[k]; ok {
			return v, k, true
		}
	}
	return zero, "", false
}

// Same reports whether two identities share a canonical key.
func Same(a, b any) bool {
	keys := CanonicalKeys(a)
	if len(keys) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	for _, k := range CanonicalKeys(b) {
		if _, ok := set[k]; ok {
			return true
		}
	}
	return false
}

func normalize(c any) (raw string, n uint64, numeric bool) {
	switch v := c.(type) {
	case nil:
		return "", 0, false
	case string:
		raw = strings.TrimSpace(v)
	case *string:
		if v == nil {
			return "", 0, false
		}
		raw = strings.TrimSpace(*v)
	case json.Number:
		raw = strings.TrimSpace(v.String())
	case int:
		return signed(int64(v))
	case int32:
		return signed(int64(v))
	case int64:
		return signed(v)
	case uint:
		return strconv.FormatUint(uint64(v), 10), uint64(v), true
	case uint32:
		return strconv.FormatUint(uint64(v), 10), uint64(v), true
	case uint64:
		return strconv.FormatUint(v, 10), v, true
	case float64:
		raw = strconv.FormatFloat(v, 'f', -1, 64)
		if v >= 0 && v == math.Trunc(v) && v < math.MaxUint64 {
			return raw, uint64(v), true
		}
		return raw, 0, false
	default:
		raw = strings.TrimSpace(fmt.Sprint(v))
	}
	if u, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return raw, u, true
	}
	return raw, 0, false
}

func signed(v int64) (string, uint64, bool) {
	raw := strconv.FormatInt(v, 10)
	if v < 0 {
		return raw, 0, false
	}
	return raw, uint64(v), true
}
