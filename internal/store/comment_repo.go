package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/park285/dota-match-companion/internal/domain"
	"github.com/park285/dota-match-companion/internal/identity"
	"github.com/park285/dota-match-companion/internal/match"
	"github.com/park285/dota-match-companion/pkg/matchdto"
)

const commentColumns = `id, match_id, player_id, reviewer_id, score, comment, created_at, updated_at`

type CommentRepository struct {
	s *Store
}

// EnsurePlaceholders creates a default comment for every valid roster player
// of matchID that has none yet. It returns the number of comments created.
func (r *CommentRepository) EnsurePlaceholders(ctx context.Context, matchID string, players []match.RosterPlayer) (int, error) {
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return 0, ErrMissingMatchID
	}
	roster := match.FilterRoster(players)
	created := 0
	err := r.s.withTx(ctx, "comment.placeholders", func(tx *sql.Tx) error {
		created = 0
		for _, p := range roster {
			id := strings.TrimSpace(p.SteamID)
			if id == "" {
				continue
			}
			_, err := r.find(ctx, tx, matchID, id)
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			now := toMillis(r.s.timestamp())
			res, err := tx.ExecContext(ctx, r.s.q(`INSERT INTO comments (`+commentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (match_id, player_id) DO NOTHING`),
				r.s.newID(), matchID, id, "", matchdto.DefaultScore, "", now, now)
			if err != nil {
				return fmt.Errorf("insert placeholder: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("insert placeholder: %w", err)
			}
			created += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// Save writes the reviewer's rating for a player in a match. An existing
// comment stored under another encoding of the player id is updated in place.
func (r *CommentRepository) Save(ctx context.Context, req matchdto.SaveCommentRequest) (domain.CommentRecord, error) {
	matchID := strings.TrimSpace(req.MatchID)
	playerID := strings.TrimSpace(req.PlayerID)
	if matchID == "" || playerID == "" {
		return domain.CommentRecord{}, ErrInvalidComment
	}
	if req.Score < matchdto.MinScore || req.Score > matchdto.MaxScore {
		return domain.CommentRecord{}, ErrInvalidScore
	}

	var out domain.CommentRecord
	err := r.s.withTx(ctx, "comment.save", func(tx *sql.Tx) error {
		now := toMillis(r.s.timestamp())
		existing, err := r.find(ctx, tx, matchID, playerID)
		switch {
		case err == nil:
			playerID = existing.PlayerID
			if _, err := tx.ExecContext(ctx, r.s.q(`UPDATE comments SET reviewer_id = ?, score = ?, comment = ?, updated_at = ? WHERE id = ?`),
				req.ReviewerID, req.Score, req.Comment, now, existing.ID); err != nil {
				return fmt.Errorf("update comment: %w", err)
			}
		case errors.Is(err, ErrNotFound):
			if _, err := tx.ExecContext(ctx, r.s.q(`INSERT INTO comments (`+commentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (match_id, player_id) DO UPDATE SET reviewer_id = excluded.reviewer_id,
				score = excluded.score, comment = excluded.comment, updated_at = excluded.updated_at`),
				r.s.newID(), matchID, playerID, req.ReviewerID, req.Score, req.Comment, now, now); err != nil {
				return fmt.Errorf("upsert comment: %w", err)
			}
		default:
			return err
		}
		rec, err := scanComment(tx.QueryRowContext(ctx, r.s.q(`SELECT `+commentColumns+` FROM comments WHERE match_id = ? AND player_id = ?`),
			matchID, playerID))
		if err != nil {
			return fmt.Errorf("reload comment: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return domain.CommentRecord{}, err
	}
	return out, nil
}

// find looks up the comment for (matchID, any encoding of playerID).
func (r *CommentRepository) find(ctx context.Context, q querier, matchID, playerID string) (*domain.CommentRecord, error) {
	keys := identity.CanonicalKeys(playerID)
	if len(keys) == 0 {
		return nil, ErrNotFound
	}
	query := `SELECT ` + commentColumns + ` FROM comments WHERE match_id = ? AND player_id IN (` +
		placeholders(len(keys)) + `) ORDER BY created_at, id LIMIT 1` + r.s.dialect.lockSuffix
	rec, err := scanComment(q.QueryRowContext(ctx, r.s.q(query), append([]any{matchID}, anySlice(keys)...)...))
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select comment: %w", err)
	}
	return &rec, nil
}

// List returns comments with the commented player's latest name, newest first.
func (r *CommentRepository) List(ctx context.Context, f matchdto.CommentFilter) (matchdto.Page[domain.CommentRecordWithPlayerName], error) {
	paging := f.Paging.Normalize()
	page := matchdto.Page[domain.CommentRecordWithPlayerName]{
		Items:    []domain.CommentRecordWithPlayerName{},
		Page:     paging.Page,
		PageSize: paging.PageSize,
	}

	var (
		where []string
		args  []any
	)
	if v := strings.TrimSpace(f.MatchID); v != "" {
		where = append(where, "c.match_id = ?")
		args = append(args, v)
	}
	if keys := identity.CanonicalKeys(f.PlayerID); len(keys) > 0 {
		where = append(where, "c.player_id IN ("+placeholders(len(keys))+")")
		args = append(args, anySlice(keys)...)
	}
	if f.MinScore > 0 {
		where = append(where, "c.score >= ?")
		args = append(args, f.MinScore)
	}
	if f.MaxScore > 0 {
		where = append(where, "c.score <= ?")
		args = append(args, f.MaxScore)
	}
	if f.HideEmpty {
		where = append(where, "c.comment <> ''")
	}
	clause := whereClause(where)

	if err := r.s.db.QueryRowContext(ctx, r.s.q(`SELECT COUNT(*) FROM comments c`+clause), args...).Scan(&page.Total); err != nil {
		return page, persistErr("comment.list", fmt.Errorf("count comments: %w", err))
	}
	rows, err := r.s.db.QueryContext(ctx, r.s.q(`SELECT c.id, c.match_id, c.player_id, c.reviewer_id, c.score, c.comment,
		c.created_at, c.updated_at, COALESCE(p.name, '') FROM comments c
		LEFT JOIN players p ON p.player_id = c.player_id`+clause+
		` ORDER BY c.updated_at DESC, c.id LIMIT ? OFFSET ?`), append(args, paging.PageSize, paging.Offset())...)
	if err != nil {
		return page, persistErr("comment.list", fmt.Errorf("select comments: %w", err))
	}
	items, err := collectRows(rows, func(row rowScanner) (domain.CommentRecordWithPlayerName, error) {
		var item domain.CommentRecordWithPlayerName
		rec, err := scanCommentWith(row, &item.PlayerName)
		item.CommentRecord = rec
		return item, err
	})
	if err != nil {
		return page, persistErr("comment.list", err)
	}
	page.Items = append(page.Items, items...)

	// 다른 id 인코딩으로 저장된 코멘트는 조인에서 빠짐
	for i := range page.Items {
		if page.Items[i].PlayerName != "" {
			continue
		}
		p, err := r.s.Players.find(ctx, r.s.db, false, page.Items[i].PlayerID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return page, persistErr("comment.list", err)
		}
		page.Items[i].PlayerName = p.Name
	}
	return page, nil
}

// byPlayer returns every comment on any encoding of playerID, newest first.
func (r *CommentRepository) byPlayer(ctx context.Context, playerID string) ([]domain.CommentRecord, error) {
	out := []domain.CommentRecord{}
	keys := identity.CanonicalKeys(playerID)
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := r.s.db.QueryContext(ctx, r.s.q(`SELECT `+commentColumns+` FROM comments WHERE player_id IN (`+
		placeholders(len(keys))+`) ORDER BY created_at DESC, id`), anySlice(keys)...)
	if err != nil {
		return nil, fmt.Errorf("select comments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanComment(row rowScanner) (domain.CommentRecord, error) {
	return scanCommentWith(row)
}

func scanCommentWith(row rowScanner, extra ...any) (domain.CommentRecord, error) {
	var (
		rec              domain.CommentRecord
		created, updated int64
	)
	dest := append([]any{&rec.ID, &rec.MatchID, &rec.PlayerID, &rec.ReviewerID, &rec.Score, &rec.Comment, &created, &updated}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.CommentRecord{}, err
	}
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)
	return rec, nil
}
