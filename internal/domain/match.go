package domain

import (
	"time"

	"github.com/park285/dota-match-companion/internal/gep"
	"github.com/park285/dota-match-companion/internal/match"
)

type MatchRecord struct {
	ID          string               `json:"id"`
	MatchID     string               `json:"matchId"`
	Temporary   bool                 `json:"temporary"`
	GameMode    *match.GameModeInfo  `json:"gameMode,omitempty"`
	TeamScore   *match.TeamScore     `json:"teamScore,omitempty"`
	SelfSteamID string               `json:"selfSteamId,omitempty"`
	SelfTeam    match.TeamKey        `json:"selfTeam,omitempty"`
	Roster      []match.RosterPlayer `json:"roster"`
	GameState   string               `json:"gameState,omitempty"`
	MatchState  string               `json:"matchState,omitempty"`
	Winner      match.TeamKey        `json:"winner,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
	EndedAt     *time.Time           `json:"endedAt,omitempty"`
}

// Finalized reports whether the outcome is recorded. A finalized record is
// never written again.
func (m MatchRecord) Finalized() bool { return m.Winner != "" }

type HeroStat struct {
	Hero   string `json:"hero"`
	Wins   int    `json:"wins"`
	Losses int    `json:"losses"`
}

type MatchStat struct {
	MatchID   string           `json:"matchId"`
	Team      string           `json:"team,omitempty"`
	Role      *int             `json:"role,omitempty"`
	Hero      string           `json:"hero,omitempty"`
	IsWin     *bool            `json:"isWin,omitempty"`
	Stats     *gep.PlayerStats `json:"stats,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

type PlayerRecord struct {
	ID        string      `json:"id"`
	PlayerID  string      `json:"playerId"`
	Name      string      `json:"name,omitempty"`
	NameList  []string    `json:"nameList"`
	HeroList  []HeroStat  `json:"heroList"`
	MatchList []MatchStat `json:"matchList"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type PlayerRecordWithStats struct {
	PlayerRecord
	MatchCount   int     `json:"matchCount"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"winRate"`
	CommentCount int     `json:"commentCount"`
	AverageScore float64 `json:"averageScore"`
}

type CommentRecord struct {
	ID         string    `json:"id"`
	MatchID    string    `json:"matchId"`
	PlayerID   string    `json:"playerId"`
	ReviewerID string    `json:"reviewerId,omitempty"`
	Score      int       `json:"score"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type CommentRecordWithPlayerName struct {
	CommentRecord
	PlayerName string `json:"playerName,omitempty"`
}

type PlayerHistory struct {
	Player   PlayerRecordWithStats `json:"player"`
	Comments []CommentRecord       `json:"comments"`
	Matches  []MatchRecord         `json:"matches"`
}
