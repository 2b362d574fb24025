package gep

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestDecodeMalformedIsAbsent(t *testing.T) {
	for _, raw := range []string{"", "   ", "null", "{", `{"a":`, "not json"} {
		if v, ok := Decode[map[string]any](raw); ok {
			t.Fatalf("Decode(%q) = %v, want absent", raw, v)
		}
	}
}

func TestDecodeValueDoublyEncoded(t *testing.T) {
	type score struct {
		Radiant int `json:"radiant"`
		Dire    int `json:"dire"`
	}
	inline := json.RawMessage(`{"radiant":3,"dire":5}`)
	encoded := json.RawMessage(`"{\"radiant\":3,\"dire\":5}"`)

	for _, raw := range []json.RawMessage{inline, encoded} {
		s, ok := DecodeValue[score](raw)
		if !ok {
			t.Fatalf("DecodeValue(%s) absent", raw)
		}
		if s.Radiant != 3 || s.Dire != 5 {
			t.Fatalf("DecodeValue(%s) = %+v", raw, s)
		}
	}

	if _, ok := DecodeValue[score](json.RawMessage(`"{\"radiant\":3,"`)); ok {
		t.Fatalf("truncated encoded value should be absent")
	}
}

func TestDecodeValuePlainString(t *testing.T) {
	s, ok := DecodeValue[string](json.RawMessage(`"radiant"`))
	if !ok || s != "radiant" {
		t.Fatalf("got %q ok=%v", s, ok)
	}
}

func TestTextAndInt(t *testing.T) {
	cases := []struct {
		raw    string
		text   string
		textOK bool
		num    int
		numOK  bool
	}{
		{`"  abc "`, "abc", true, 0, false},
		{`42`, "42", true, 42, true},
		{`"7"`, "7", true, 7, true},
		{`2.0`, "2.0", true, 2, true},
		{`2.5`, "2.5", true, 0, false},
		{`""`, "", false, 0, false},
		{`null`, "", false, 0, false},
		{`{"a":1}`, "", false, 0, false},
		{`76561197960265729`, "76561197960265729", true, 0, false},
	}
	for _, tc := range cases {
		got, ok := Text(json.RawMessage(tc.raw))
		if ok != tc.textOK || got != tc.text {
			t.Fatalf("Text(%s) = %q,%v want %q,%v", tc.raw, got, ok, tc.text, tc.textOK)
		}
		if tc.raw == `76561197960265729` {
			continue
		}
		n, ok := Int(json.RawMessage(tc.raw))
		if ok != tc.numOK || n != tc.num {
			t.Fatalf("Int(%s) = %d,%v want %d,%v", tc.raw, n, ok, tc.num, tc.numOK)
		}
	}
}

func TestLookupFallbackOrder(t *testing.T) {
	p := Payload{
		"steam_id": json.RawMessage(`"222"`),
		"steamId":  json.RawMessage(`"111"`),
	}
	if s, _ := p.Text(FieldSteamID); s != "111" {
		t.Fatalf("expected first key in table to win, got %q", s)
	}

	p = Payload{"steamId": json.RawMessage(`null`), "account_id": json.RawMessage(`333`)}
	if s, _ := p.Text(FieldSteamID); s != "333" {
		t.Fatalf("null value should fall through, got %q", s)
	}
	if _, ok := p.Lookup(FieldHero); ok {
		t.Fatalf("missing field should be absent")
	}
}

func TestNestedStringEncodedObject(t *testing.T) {
	p := Payload{"me": json.RawMessage(`"{\"steam_id\":\"5\",\"team\":\"dire\"}"`)}
	me, ok := p.Nested(FieldSelf)
	if !ok {
		t.Fatalf("expected nested object")
	}
	if s, _ := me.Text(FieldTeam); s != "dire" {
		t.Fatalf("team = %q", s)
	}
}
