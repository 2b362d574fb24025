package gep

import "github.com/goccy/go-json"

// Field names one logical value and the wire keys it has appeared under, in
// lookup order. Historical feed versions renamed most keys at least once.
type Field struct {
	Name string
	Keys []string
}

var (
	FieldMatchID     = Field{Name: "matchId", Keys: []string{"match_id", "matchId", "pseudo_match_id"}}
	FieldGameMode    = Field{Name: "gameMode", Keys: []string{"game_mode", "gameMode", "mode"}}
	FieldModeName    = Field{Name: "gameMode.name", Keys: []string{"game_mode", "gameMode", "mode", "name"}}
	FieldLobbyType   = Field{Name: "gameMode.lobbyType", Keys: []string{"lobby_type", "lobbyType", "lobby"}}
	FieldTeamScore   = Field{Name: "teamScore", Keys: []string{"team_score", "teamScore", "score"}}
	FieldRadiant     = Field{Name: "teamScore.radiant", Keys: []string{"radiant", "Radiant", "radiant_score"}}
	FieldDire        = Field{Name: "teamScore.dire", Keys: []string{"dire", "Dire", "dire_score"}}
	FieldSelf        = Field{Name: "me", Keys: []string{"me", "player", "self"}}
	FieldSteamID     = Field{Name: "steamId", Keys: []string{"steamId", "steam_id", "steamid", "account_id", "accountId", "playerId", "player_id"}}
	FieldTeam        = Field{Name: "team", Keys: []string{"team", "team_name", "teamId", "team_id", "team_slot"}}
	FieldName        = Field{Name: "name", Keys: []string{"name", "playerName", "player_name", "nickname"}}
	FieldHero        = Field{Name: "hero", Keys: []string{"hero", "hero_name", "heroName"}}
	FieldRole        = Field{Name: "role", Keys: []string{"role", "roles", "role_mask"}}
	FieldPlayerIndex = Field{Name: "playerIndex", Keys: []string{"playerIndex", "player_index", "index", "slot"}}
	FieldPlayers     = Field{Name: "players", Keys: []string{"players", "roster", "team_players"}}
	FieldMatchState  = Field{Name: "matchState", Keys: []string{"match_state", "matchState", "state"}}
	FieldGameState   = Field{Name: "gameState", Keys: []string{"game_state", "gameState", "state"}}
	FieldWinner      = Field{Name: "winner", Keys: []string{"winner", "winning_team", "winningTeam", "team"}}
	FieldScoreboard  = Field{Name: "scoreboard", Keys: []string{"players", "scoreboard", "stats"}}
	FieldKills       = Field{Name: "kills", Keys: []string{"kills", "kill"}}
	FieldDeaths      = Field{Name: "deaths", Keys: []string{"deaths", "death"}}
	FieldAssists     = Field{Name: "assists", Keys: []string{"assists", "assist"}}
	FieldLastHits    = Field{Name: "lastHits", Keys: []string{"last_hits", "lastHits", "lh"}}
	FieldDenies      = Field{Name: "denies", Keys: []string{"denies", "dn"}}
	FieldGPM         = Field{Name: "gpm", Keys: []string{"gpm", "gold_per_min", "goldPerMin"}}
	FieldXPM         = Field{Name: "xpm", Keys: []string{"xpm", "xp_per_min", "xpPerMin"}}
)

// Lookup returns the first present, non-null value for f.
func (p Payload) Lookup(f Field) (json.RawMessage, bool) {
	for _, k := range f.Keys {
		v, ok := p[k]
		if !ok {
			continue
		}
		if _, isText := Text(v); isText {
			return v, true
		}
		if _, isObj := DecodeValue[any](v); isObj {
			return v, true
		}
	}
	return nil, false
}

// Text is Lookup followed by Text.
func (p Payload) Text(f Field) (string, bool) {
	for _, k := range f.Keys {
		if s, ok := Text(p[k]); ok {
			return s, true
		}
	}
	return "", false
}

// Int is Lookup followed by Int.
func (p Payload) Int(f Field) (int, bool) {
	for _, k := range f.Keys {
		if n, ok := Int(p[k]); ok {
			return n, true
		}
	}
	return 0, false
}

// Nested returns the object stored under f, if any.
func (p Payload) Nested(f Field) (Payload, bool) {
	for _, k := range f.Keys {
		if o, ok := Object(p[k]); ok {
			return o, true
		}
	}
	return nil, false
}
