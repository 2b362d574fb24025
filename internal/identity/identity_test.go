package identity

import (
	"reflect"
	"testing"

	"github.com/goccy/go-json"
)

func TestCanonicalKeys(t *testing.T) {
	cases := []struct {
		name string
		in   []any
		want []string
	}{
		{"steam64 string", []any{"76561198000000001"}, []string{"76561198000000001", "39734273"}},
		{"account id string", []any{"39734273"}, []string{"39734273", "76561198000000001"}},
		{"leading zeros", []any{"0042"}, []string{"0042", "42", "76561197960265770"}},
		{"uint64", []any{uint64(76561198000000001)}, []string{"76561198000000001", "39734273"}},
		{"int", []any{39734273}, []string{"39734273", "76561198000000001"}},
		{"json number", []any{json.Number("76561198000000001")}, []string{"76561198000000001", "39734273"}},
		{"non numeric", []any{" abc "}, []string{"abc"}},
		{"zero", []any{"0"}, []string{"0"}},
		{"negative", []any{-5}, []string{"-5"}},
		{"absent", []any{nil, "", "  "}, []string{}},
		{"dedup across candidates", []any{"76561198000000001", 39734273}, []string{"76561198000000001", "39734273"}},
		{"offset itself", []any{"76561197960265728"}, []string{"76561197960265728"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CanonicalKeys(tc.in...)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("CanonicalKeys(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestResolveAcrossEncodings(t *testing.T) {
	stored64 := map[string]string{"76561198000000001": "player-a"}
	stored32 := map[string]string{"39734273": "player-a"}

	for _, m := range []map[string]string{stored64, stored32} {
		for _, key := range []any{"76561198000000001", "39734273", uint64(76561198000000001), 39734273} {
			v, _, ok := Resolve(m, key)
			if !ok || v != "player-a" {
				t.Fatalf("Resolve(%v, %v) = %q,%v", m, key, v, ok)
			}
		}
	}

	if _, _, ok := Resolve(stored64, "1"); ok {
		t.Fatalf("unrelated id resolved")
	}
	if _, _, ok := Resolve[string](nil, "1"); ok {
		t.Fatalf("nil map resolved")
	}
}

func TestResolveFirstCandidateWins(t *testing.T) {
	m := map[string]int{"a": 1, "b": 2}
	v, key, ok := Resolve(m, nil, "b", "a")
	if !ok || v != 2 || key != "b" {
		t.Fatalf("got %d %q %v", v, key, ok)
	}
}

func TestSame(t *testing.T) {
	if !Same("76561198000000001", 39734273) {
		t.Fatalf("64/32 forms should match")
	}
	if Same("abc", "abd") || Same(nil, nil) {
		t.Fatalf("unexpected match")
	}
}
