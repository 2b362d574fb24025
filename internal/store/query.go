package store

import (
	"context"

	"github.com/park285/dota-match-companion/internal/domain"
	"github.com/park285/dota-match-companion/pkg/matchdto"
)

// The methods below form the read side consumed by the API.

func (s *Store) ListMatches(ctx context.Context, f matchdto.MatchFilter) (matchdto.Page[domain.MatchRecord], error) {
	return s.Matches.List(ctx, f)
}

func (s *Store) ListPlayers(ctx context.Context, f matchdto.PlayerFilter) (matchdto.Page[domain.PlayerRecordWithStats], error) {
	return s.Players.List(ctx, f)
}

func (s *Store) ListComments(ctx context.Context, f matchdto.CommentFilter) (matchdto.Page[domain.CommentRecordWithPlayerName], error) {
	return s.Comments.List(ctx, f)
}

func (s *Store) SaveComment(ctx context.Context, req matchdto.SaveCommentRequest) (domain.CommentRecord, error) {
	return s.Comments.Save(ctx, req)
}
