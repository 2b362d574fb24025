package match

import "strings"

// MaxRosterSize is the number of player slots in a match.
const MaxRosterSize = 10

// Valid reports whether p can be kept: a hero is picked and the slot index,
// when reported, is in range.
func (p RosterPlayer) Valid() bool {
	if strings.TrimSpace(p.Hero) == "" {
		return false
	}
	if p.PlayerIndex != nil && (*p.PlayerIndex < 0 || *p.PlayerIndex >= MaxRosterSize) {
		return false
	}
	return true
}

// FilterRoster drops invalid entries and later duplicates of the same player,
// keeping the first MaxRosterSize survivors in order. Filtering a filtered
// roster returns it unchanged.
func FilterRoster(players []RosterPlayer) []RosterPlayer {
	out := make([]RosterPlayer, 0, len(players))
	seenID := make(map[string]struct{}, len(players))
	seenIdx := make(map[int]struct{}, len(players))
	for _, p := range players {
		if len(out) == MaxRosterSize {
			break
		}
		if !p.Valid() {
			continue
		}
		if id := strings.TrimSpace(p.SteamID); id != "" {
			if _, dup := seenID[id]; dup {
				continue
			}
			seenID[id] = struct{}{}
		} else if p.PlayerIndex != nil {
			if _, dup := seenIdx[*p.PlayerIndex]; dup {
				continue
			}
		}
		if p.PlayerIndex != nil {
			seenIdx[*p.PlayerIndex] = struct{}{}
		}
		out = append(out, p)
	}
	return cloneRoster(out)
}
