package store

import (
	"context"
	"strings"

	"github.com/park285/dota-match-companion/internal/domain"
)

// PlayerHistory gathers a player's statistics, the comments written about
// them and the matches they appear in.
func (s *Store) PlayerHistory(ctx context.Context, playerID string) (domain.PlayerHistory, error) {
	playerID = strings.TrimSpace(playerID)
	rec, err := s.Players.find(ctx, s.db, false, playerID)
	if err != nil {
		return domain.PlayerHistory{}, classify("player.history", err)
	}
	stats, err := s.Players.withStats(ctx, []domain.PlayerRecord{*rec})
	if err != nil {
		return domain.PlayerHistory{}, persistErr("player.history", err)
	}
	comments, err := s.Comments.byPlayer(ctx, rec.PlayerID)
	if err != nil {
		return domain.PlayerHistory{}, persistErr("player.history", err)
	}
	ids := make([]string, 0, len(rec.MatchList))
	for _, m := range rec.MatchList {
		ids = append(ids, m.MatchID)
	}
	matches, err := s.Matches.byMatchIDs(ctx, ids)
	if err != nil {
		return domain.PlayerHistory{}, persistErr("player.history", err)
	}
	return domain.PlayerHistory{Player: stats[0], Comments: comments, Matches: matches}, nil
}
