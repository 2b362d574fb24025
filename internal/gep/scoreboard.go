package gep

import (
	"sort"

	"github.com/goccy/go-json"
)

// PlayerStats is the per-player line of an end-of-match scoreboard. Only
// values the feed reported are set.
type PlayerStats struct {
	Kills    *int `json:"kills,omitempty"`
	Deaths   *int `json:"deaths,omitempty"`
	Assists  *int `json:"assists,omitempty"`
	LastHits *int `json:"lastHits,omitempty"`
	Denies   *int `json:"denies,omitempty"`
	GPM      *int `json:"gpm,omitempty"`
	XPM      *int `json:"xpm,omitempty"`
}

// Empty reports whether no statistic was reported.
func (s PlayerStats) Empty() bool {
	return s.Kills == nil && s.Deaths == nil && s.Assists == nil &&
		s.LastHits == nil && s.Denies == nil && s.GPM == nil && s.XPM == nil
}

// Scoreboard maps the identity string a line was reported under to its stats.
// Keys are not canonicalized; join with identity.Resolve.
type Scoreboard map[string]PlayerStats

// ParseScoreboard extracts scoreboard lines from a terminal event body. The
// lines may be an array or an object keyed by player identity.
func ParseScoreboard(body Payload) Scoreboard {
	if len(body) == 0 {
		return nil
	}
	out := Scoreboard{}
	for _, k := range FieldScoreboard.Keys {
		raw, ok := body[k]
		if !ok {
			continue
		}
		if list, ok := DecodeValue[[]json.RawMessage](raw); ok {
			for _, item := range list {
				if line, ok := Object(item); ok {
					addLine(out, "", line)
				}
			}
			continue
		}
		if byID, ok := DecodeValue[map[string]json.RawMessage](raw); ok {
			keys := make([]string, 0, len(byID))
			for id := range byID {
				keys = append(keys, id)
			}
			sort.Strings(keys)
			for _, id := range keys {
				if line, ok := Object(byID[id]); ok {
					addLine(out, id, line)
				}
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func addLine(out Scoreboard, fallbackID string, line Payload) {
	id, ok := line.Text(FieldSteamID)
	if !ok {
		id = fallbackID
	}
	if id == "" {
		return
	}
	stats := PlayerStats{
		Kills:    optInt(line, FieldKills),
		Deaths:   optInt(line, FieldDeaths),
		Assists:  optInt(line, FieldAssists),
		LastHits: optInt(line, FieldLastHits),
		Denies:   optInt(line, FieldDenies),
		GPM:      optInt(line, FieldGPM),
		XPM:      optInt(line, FieldXPM),
	}
	if stats.Empty() {
		return
	}
	if _, dup := out[id]; dup {
		return
	}
	out[id] = stats
}

func optInt(p Payload, f Field) *int {
	n, ok := p.Int(f)
	if !ok {
		return nil
	}
	return &n
}
