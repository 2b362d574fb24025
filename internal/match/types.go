package match

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TeamKey identifies a side.
type TeamKey string

const (
	TeamNone    TeamKey = "none"
	TeamRadiant TeamKey = "radiant"
	TeamDire    TeamKey = "dire"
)

// numericTeams is the fixed remap for numeric team ids reported by the feed.
var numericTeams = map[int]TeamKey{
	0: TeamNone,
	2: TeamRadiant,
	3: TeamDire,
}

// ParseTeam maps a reported team value to a TeamKey. A numeric id missing from
// the remap table is returned as raw with an empty key.
func ParseTeam(raw string) (key TeamKey, rawID *int, ok bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", nil, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		if k, known := numericTeams[n]; known {
			return k, nil, true
		}
		return "", &n, true
	}
	switch s {
	case "radiant", "goodguys", "good_guys", "dota_gc_team_good_guys":
		return TeamRadiant, nil, true
	case "dire", "badguys", "bad_guys", "dota_gc_team_bad_guys":
		return TeamDire, nil, true
	case "none", "spectator", "neutral":
		return TeamNone, nil, true
	}
	return "", nil, false
}

// ParseWinner accepts only a side that can win.
func ParseWinner(raw string) (TeamKey, bool) {
	k, _, ok := ParseTeam(raw)
	if !ok || (k != TeamRadiant && k != TeamDire) {
		return "", false
	}
	return k, true
}

// GameModeInfo describes the lobby.
type GameModeInfo struct {
	GameMode  string `json:"gameMode,omitempty"`
	LobbyType string `json:"lobbyType,omitempty"`
}

type TeamScore struct {
	Radiant int `json:"radiant"`
	Dire    int `json:"dire"`
}

// SelfPlayer is the observing account.
type SelfPlayer struct {
	SteamID string  `json:"steamId,omitempty"`
	Team    TeamKey `json:"team,omitempty"`
}

// RosterPlayer is one roster slot. Team is empty when the feed reported a
// numeric id outside the remap table; RawTeam then holds that id.
type RosterPlayer struct {
	SteamID     string  `json:"steamId,omitempty"`
	Name        string  `json:"name,omitempty"`
	Hero        string  `json:"hero,omitempty"`
	Team        TeamKey `json:"team,omitempty"`
	RawTeam     *int    `json:"rawTeam,omitempty"`
	Role        *int    `json:"role,omitempty"`
	PlayerIndex *int    `json:"playerIndex,omitempty"`
}

// TeamLabel returns the team key, or the raw numeric id when unmapped.
func (p RosterPlayer) TeamLabel() string {
	if p.Team != "" {
		return string(p.Team)
	}
	if p.RawTeam != nil {
		return strconv.Itoa(*p.RawTeam)
	}
	return ""
}

// Snapshot is the current view of one observed match. Empty strings and nil
// pointers mean "not reported yet".
type Snapshot struct {
	MatchID    string         `json:"matchId,omitempty"`
	GameMode   *GameModeInfo  `json:"gameMode,omitempty"`
	TeamScore  *TeamScore     `json:"teamScore,omitempty"`
	Self       SelfPlayer     `json:"selfPlayer"`
	Roster     []RosterPlayer `json:"roster"`
	GameState  string         `json:"gameState,omitempty"`
	MatchState string         `json:"matchState,omitempty"`
	Winner     TeamKey        `json:"winner,omitempty"`
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.GameMode != nil {
		gm := *s.GameMode
		out.GameMode = &gm
	}
	if s.TeamScore != nil {
		ts := *s.TeamScore
		out.TeamScore = &ts
	}
	out.Roster = cloneRoster(s.Roster)
	return out
}

// Complete reports whether the snapshot carries enough to persist a match.
func (s Snapshot) Complete() bool {
	return s.MatchID != "" && len(s.Roster) > 0
}

// HasMatchData reports whether the snapshot identifies or describes a match.
// Winner and the state strings alone do not count.
func (s Snapshot) HasMatchData() bool {
	return s.MatchID != "" || len(s.Roster) > 0 || s.GameMode != nil || s.TeamScore != nil || s.Self.SteamID != ""
}

// Merge fills fields absent from s with the values of fallback.
func (s Snapshot) Merge(fallback Snapshot) Snapshot {
	out := s.Clone()
	fb := fallback.Clone()
	if out.MatchID == "" {
		out.MatchID = fb.MatchID
	}
	if out.GameMode == nil {
		out.GameMode = fb.GameMode
	}
	if out.TeamScore == nil {
		out.TeamScore = fb.TeamScore
	}
	if out.Self.SteamID == "" {
		out.Self.SteamID = fb.Self.SteamID
	}
	if out.Self.Team == "" {
		out.Self.Team = fb.Self.Team
	}
	if len(out.Roster) == 0 {
		out.Roster = fb.Roster
	}
	if out.GameState == "" {
		out.GameState = fb.GameState
	}
	if out.MatchState == "" {
		out.MatchState = fb.MatchState
	}
	if out.Winner == "" {
		out.Winner = fb.Winner
	}
	return out
}

func cloneRoster(in []RosterPlayer) []RosterPlayer {
	if in == nil {
		return nil
	}
	out := make([]RosterPlayer, len(in))
	for i, p := range in {
		out[i] = p
		out[i].RawTeam = cloneInt(p.RawTeam)
		out[i].Role = cloneInt(p.Role)
		out[i].PlayerIndex = cloneInt(p.PlayerIndex)
	}
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

const temporaryPrefix = "tmp-"

// TemporaryMatchID synthesizes an id for a match the feed never identified.
// Temporary ids are not joinable across sessions.
func TemporaryMatchID(at time.Time) string {
	return fmt.Sprintf("%s%d", temporaryPrefix, at.UnixMilli())
}

func IsTemporaryMatchID(id string) bool {
	return strings.HasPrefix(id, temporaryPrefix)
}
