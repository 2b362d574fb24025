package match

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/park285/dota-match-companion/internal/gep"
)

// Signal is a lifecycle transition reported by the Tracker.
type Signal int

const (
	SignalNone Signal = iota
	SignalStart
	SignalEnd
)

func (s Signal) String() string {
	switch s {
	case SignalStart:
		return "start"
	case SignalEnd:
		return "end"
	default:
		return "none"
	}
}

// Update features understood by OnUpdate.
const (
	FeatureMatchInfo    = "match_info"
	FeatureMe           = "me"
	FeatureRoster       = "roster"
	FeatureMatchState   = "match_state_changed"
	FeatureGameState    = "game_state_changed"
	matchStatePrefix    = "DOTA_GAMERULES_STATE_"
	stateStrategyTime   = "STRATEGY_TIME"
	stateGameInProgress = "GAME_IN_PROGRESS"
)

// IsStartPhase reports whether a match state starts a match. Both the bare and
// the DOTA_GAMERULES_STATE_ prefixed forms are accepted.
func IsStartPhase(state string) bool {
	s := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(state)), matchStatePrefix)
	return s == stateStrategyTime || s == stateGameInProgress
}

// Tracker owns the live Snapshot of one observed game and runs the start/end
// state machine over partial updates and event batches. It is safe for
// concurrent use.
type Tracker struct {
	mu         sync.Mutex
	snap       Snapshot
	active     bool
	generation uint64
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// OnUpdate applies one partial update. Unknown features are ignored. Returns
// SignalStart when a phase update makes the match start.
func (t *Tracker) OnUpdate(feature string, payload gep.Payload) Signal {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch strings.ToLower(strings.TrimSpace(feature)) {
	case FeatureMatchInfo:
		t.applyMatchInfo(payload)
	case FeatureMe:
		t.applySelf(payload)
	case FeatureRoster:
		t.applyRoster(payload)
	case FeatureMatchState:
		if s, ok := payload.Text(gep.FieldMatchState); ok {
			t.snap.MatchState = s
			return t.evaluateStart()
		}
	case FeatureGameState:
		if s, ok := payload.Text(gep.FieldGameState); ok {
			t.snap.GameState = s
		}
	}
	return SignalNone
}

// OnEvents applies a batch of named events and returns at most one signal.
// A terminal event in the batch wins over a start-eligible phase.
func (t *Tracker) OnEvents(batch []gep.Event) Signal {
	t.mu.Lock()
	defer t.mu.Unlock()

	sig := SignalNone
	ended := false
	for _, ev := range batch {
		switch e := gep.ParseEvent(ev).(type) {
		case gep.MatchStateChanged:
			if e.State == "" {
				continue
			}
			t.snap.MatchState = e.State
			if t.evaluateStart() == SignalStart {
				sig = SignalStart
			}
		case gep.GameStateChanged:
			if e.State != "" {
				t.snap.GameState = e.State
			}
		case gep.MatchEnded:
			w, ok := ParseWinner(e.Winner)
			if !ok {
				continue
			}
			t.snap.Winner = w
			ended = true
		case gep.GameOver:
			ended = true
		}
	}
	if ended {
		return SignalEnd
	}
	return sig
}

// Reset clears the snapshot and the active flag. Callers reset after consuming
// an end signal and when the game process exits.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap = Snapshot{}
	t.active = false
	t.generation++
}

// GetSnapshot returns a deep copy of the live snapshot.
func (t *Tracker) GetSnapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.Clone()
}

func (t *Tracker) GetMatchID() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.MatchID, t.snap.MatchID != ""
}

func (t *Tracker) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Generation counts resets; it scopes persistence work to one observation.
func (t *Tracker) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// evaluateStart must be called with mu held.
func (t *Tracker) evaluateStart() Signal {
	if t.active || !IsStartPhase(t.snap.MatchState) {
		return SignalNone
	}
	t.active = true
	return SignalStart
}

func (t *Tracker) applyMatchInfo(p gep.Payload) {
	if id, ok := p.Text(gep.FieldMatchID); ok {
		t.snap.MatchID = id
	}
	if gm, ok := decodeGameMode(p); ok {
		t.snap.GameMode = &gm
	}
	if ts, ok := decodeTeamScore(p); ok {
		t.snap.TeamScore = &ts
	}
}

func (t *Tracker) applySelf(p gep.Payload) {
	if _, ok := p.Lookup(gep.FieldSteamID); !ok {
		if nested, ok := p.Nested(gep.FieldSelf); ok {
			p = nested
		}
	}
	if id, ok := p.Text(gep.FieldSteamID); ok {
		t.snap.Self.SteamID = id
	}
	if raw, ok := p.Text(gep.FieldTeam); ok {
		if k, _, ok := ParseTeam(raw); ok && k != "" {
			t.snap.Self.Team = k
		}
	}
}

func (t *Tracker) applyRoster(p gep.Payload) {
	players, ok := decodePlayers(p)
	if !ok {
		return
	}
	filtered := FilterRoster(players)
	// 픽 단계에서 영웅이 없는 로스터는 무시
	if len(filtered) == 0 && len(t.snap.Roster) > 0 {
		return
	}
	t.snap.Roster = filtered
}

func decodeGameMode(p gep.Payload) (GameModeInfo, bool) {
	raw, ok := p.Lookup(gep.FieldGameMode)
	if !ok {
		return GameModeInfo{}, false
	}
	if obj, ok := gep.Object(raw); ok {
		gm := GameModeInfo{}
		gm.GameMode, _ = obj.Text(gep.FieldModeName)
		gm.LobbyType, _ = obj.Text(gep.FieldLobbyType)
		if gm == (GameModeInfo{}) {
			return GameModeInfo{}, false
		}
		return gm, true
	}
	if s, ok := gep.Text(raw); ok {
		return GameModeInfo{GameMode: s}, true
	}
	return GameModeInfo{}, false
}

func decodeTeamScore(p gep.Payload) (TeamScore, bool) {
	obj, ok := p.Nested(gep.FieldTeamScore)
	if !ok {
		return TeamScore{}, false
	}
	r, rok := obj.Int(gep.FieldRadiant)
	d, dok := obj.Int(gep.FieldDire)
	if !rok && !dok {
		return TeamScore{}, false
	}
	return TeamScore{Radiant: r, Dire: d}, true
}

// decodePlayers accepts the players value as an array, or as an object whose
// values are players (ordered by slot index, then key).
func decodePlayers(p gep.Payload) ([]RosterPlayer, bool) {
	raw, ok := p.Lookup(gep.FieldPlayers)
	if !ok {
		return nil, false
	}
	if list, ok := gep.DecodeValue[[]json.RawMessage](raw); ok {
		out := make([]RosterPlayer, 0, len(list))
		for _, item := range list {
			if obj, ok := gep.Object(item); ok {
				out = append(out, parseRosterPlayer(obj))
			}
		}
		return out, true
	}
	byKey, ok := gep.DecodeValue[map[string]json.RawMessage](raw)
	if !ok {
		return nil, false
	}
	type keyed struct {
		key string
		p   RosterPlayer
	}
	entries := make([]keyed, 0, len(byKey))
	for k, item := range byKey {
		if obj, ok := gep.Object(item); ok {
			entries = append(entries, keyed{key: k, p: parseRosterPlayer(obj)})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.p.PlayerIndex != nil && b.p.PlayerIndex != nil && *a.p.PlayerIndex != *b.p.PlayerIndex {
			return *a.p.PlayerIndex < *b.p.PlayerIndex
		}
		return naturalLess(a.key, b.key)
	})
	out := make([]RosterPlayer, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.p)
	}
	return out, true
}

func parseRosterPlayer(obj gep.Payload) RosterPlayer {
	var rp RosterPlayer
	rp.SteamID, _ = obj.Text(gep.FieldSteamID)
	rp.Name, _ = obj.Text(gep.FieldName)
	rp.Hero, _ = obj.Text(gep.FieldHero)
	if raw, ok := obj.Text(gep.FieldTeam); ok {
		rp.Team, rp.RawTeam, _ = ParseTeam(raw)
	}
	if n, ok := obj.Int(gep.FieldRole); ok {
		rp.Role = &n
	}
	if n, ok := obj.Int(gep.FieldPlayerIndex); ok {
		rp.PlayerIndex = &n
	}
	return rp
}

// naturalLess orders "player2" before "player10".
func naturalLess(a, b string) bool {
	ta, na := splitNumericSuffix(a)
	tb, nb := splitNumericSuffix(b)
	if ta != tb || na < 0 || nb < 0 {
		return a < b
	}
	return na < nb
}

func splitNumericSuffix(s string) (string, int) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return s, -1
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return s, -1
	}
	return s[:i], n
}
