package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/park285/dota-match-companion/internal/domain"
	"github.com/park285/dota-match-companion/internal/gep"
	"github.com/park285/dota-match-companion/internal/identity"
	"github.com/park285/dota-match-companion/internal/match"
	"github.com/park285/dota-match-companion/pkg/matchdto"
)

const playerColumns = `id, player_id, name, name_list, hero_list, match_list, created_at, updated_at`

type PlayerRepository struct {
	s *Store
}

// SyncFromMatch records the match on every identified roster player in one
// transaction. Repeating the call for the same match changes nothing.
func (r *PlayerRepository) SyncFromMatch(ctx context.Context, snap match.Snapshot, board gep.Scoreboard) (int, error) {
	matchID := strings.TrimSpace(snap.MatchID)
	if matchID == "" {
		return 0, ErrMissingMatchID
	}
	players := match.FilterRoster(snap.Roster)
	written := 0
	err := r.s.withTx(ctx, "player.sync", func(tx *sql.Tx) error {
		written = 0
		for _, p := range players {
			id := strings.TrimSpace(p.SteamID)
			if id == "" {
				continue
			}
			now := r.s.timestamp()
			rec, err := r.find(ctx, tx, true, id)
			created := false
			switch {
			case errors.Is(err, ErrNotFound):
				created = true
				rec = &domain.PlayerRecord{
					ID:        r.s.newID(),
					PlayerID:  id,
					NameList:  []string{},
					HeroList:  []domain.HeroStat{},
					MatchList: []domain.MatchStat{},
					CreatedAt: now,
				}
			case err != nil:
				return err
			}

			before, err := fingerprint(rec)
			if err != nil {
				return err
			}
			applyMatch(rec, p, snap, board, now)
			after, err := fingerprint(rec)
			if err != nil {
				return err
			}
			if !created && bytes.Equal(before, after) {
				continue
			}
			rec.UpdatedAt = now
			if created {
				err = r.insert(ctx, tx, rec)
			} else {
				err = r.update(ctx, tx, rec)
			}
			if err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// applyMatch folds one roster entry of snap into rec.
func applyMatch(rec *domain.PlayerRecord, p match.RosterPlayer, snap match.Snapshot, board gep.Scoreboard, now time.Time) {
	if name := strings.TrimSpace(p.Name); name != "" {
		rec.Name = name
		if !containsString(rec.NameList, name) {
			rec.NameList = append(rec.NameList, name)
		}
	}

	var isWin *bool
	if snap.Winner != "" && (p.Team == match.TeamRadiant || p.Team == match.TeamDire) {
		w := p.Team == snap.Winner
		isWin = &w
	}

	hero := strings.TrimSpace(p.Hero)
	heroIdx := -1
	for i, h := range rec.HeroList {
		if h.Hero == hero {
			heroIdx = i
			break
		}
	}
	if heroIdx < 0 {
		rec.HeroList = append(rec.HeroList, domain.HeroStat{Hero: hero})
		heroIdx = len(rec.HeroList) - 1
	}

	stat := domain.MatchStat{
		MatchID:   snap.MatchID,
		Team:      p.TeamLabel(),
		Role:      p.Role,
		Hero:      hero,
		IsWin:     isWin,
		Timestamp: now,
	}
	if line, _, ok := identity.Resolve(board, p.SteamID); ok {
		l := line
		stat.Stats = &l
	}

	prevIdx := -1
	for i, m := range rec.MatchList {
		if m.MatchID == snap.MatchID {
			prevIdx = i
			break
		}
	}
	counted := false
	if prevIdx >= 0 {
		prev := rec.MatchList[prevIdx]
		stat.Timestamp = prev.Timestamp
		if prev.IsWin != nil {
			// 승패는 한 번만 반영
			stat.IsWin = prev.IsWin
			counted = true
		}
		if stat.Stats == nil {
			stat.Stats = prev.Stats
		}
		if stat.Role == nil {
			stat.Role = prev.Role
		}
		if stat.Team == "" {
			stat.Team = prev.Team
		}
		rec.MatchList[prevIdx] = stat
	} else {
		rec.MatchList = append(rec.MatchList, stat)
	}

	if !counted && stat.IsWin != nil {
		if *stat.IsWin {
			rec.HeroList[heroIdx].Wins++
		} else {
			rec.HeroList[heroIdx].Losses++
		}
	}
}

func fingerprint(rec *domain.PlayerRecord) ([]byte, error) {
	b, err := json.Marshal(struct {
		Name      string
		NameList  []string
		HeroList  []domain.HeroStat
		MatchList []domain.MatchStat
	}{rec.Name, rec.NameList, rec.HeroList, rec.MatchList})
	if err != nil {
		return nil, fmt.Errorf("encode player: %w", err)
	}
	return b, nil
}

func (r *PlayerRepository) insert(ctx context.Context, q querier, rec *domain.PlayerRecord) error {
	names, heroes, matches, err := encodePlayerLists(rec)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, r.s.q(`INSERT INTO players (`+playerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.PlayerID, rec.Name, names, heroes, matches, toMillis(rec.CreatedAt), toMillis(rec.UpdatedAt)); err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

func (r *PlayerRepository) update(ctx context.Context, q querier, rec *domain.PlayerRecord) error {
	names, heroes, matches, err := encodePlayerLists(rec)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, r.s.q(`UPDATE players SET name = ?, name_list = ?, hero_list = ?, match_list = ?, updated_at = ? WHERE id = ?`),
		rec.Name, names, heroes, matches, toMillis(rec.UpdatedAt), rec.ID); err != nil {
		return fmt.Errorf("update player: %w", err)
	}
	return nil
}

func encodePlayerLists(rec *domain.PlayerRecord) (names, heroes, matches string, err error) {
	if names, err = encodeList(rec.NameList); err != nil {
		return "", "", "", fmt.Errorf("encode name_list: %w", err)
	}
	if heroes, err = encodeList(rec.HeroList); err != nil {
		return "", "", "", fmt.Errorf("encode hero_list: %w", err)
	}
	if matches, err = encodeList(rec.MatchList); err != nil {
		return "", "", "", fmt.Errorf("encode match_list: %w", err)
	}
	return names, heroes, matches, nil
}

// Get returns the player stored under any encoding of playerID.
func (r *PlayerRepository) Get(ctx context.Context, playerID string) (*domain.PlayerRecord, error) {
	rec, err := r.find(ctx, r.s.db, false, playerID)
	if err != nil {
		return nil, classify("player.get", err)
	}
	return rec, nil
}

// find tries every canonical key of the candidates; the oldest hit wins.
func (r *PlayerRepository) find(ctx context.Context, q querier, forUpdate bool, candidates ...any) (*domain.PlayerRecord, error) {
	keys := identity.CanonicalKeys(candidates...)
	if len(keys) == 0 {
		return nil, ErrNotFound
	}
	query := `SELECT ` + playerColumns + ` FROM players WHERE player_id IN (` + placeholders(len(keys)) + `) ORDER BY created_at, id LIMIT 1`
	if forUpdate {
		query += r.s.dialect.lockSuffix
	}
	rec, err := scanPlayer(q.QueryRowContext(ctx, r.s.q(query), anySlice(keys)...))
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select player: %w", err)
	}
	return &rec, nil
}

// rekeyMatch rewrites match entries recorded under a temporary match id.
func (r *PlayerRepository) rekeyMatch(ctx context.Context, tx *sql.Tx, fromID, toID string) error {
	rows, err := tx.QueryContext(ctx, r.s.q(`SELECT `+playerColumns+` FROM players WHERE match_list LIKE ?`), "%"+fromID+"%")
	if err != nil {
		return fmt.Errorf("select players for rekey: %w", err)
	}
	affected, err := collectRows(rows, scanPlayer)
	if err != nil {
		return fmt.Errorf("scan players for rekey: %w", err)
	}
	now := r.s.timestamp()
	for i := range affected {
		rec := &affected[i]
		hasTarget, changed := false, false
		for _, m := range rec.MatchList {
			if m.MatchID == toID {
				hasTarget = true
			}
		}
		kept := make([]domain.MatchStat, 0, len(rec.MatchList))
		for _, m := range rec.MatchList {
			if m.MatchID == fromID {
				changed = true
				if hasTarget {
					continue
				}
				m.MatchID = toID
			}
			kept = append(kept, m)
		}
		if !changed {
			continue
		}
		rec.MatchList = kept
		rec.UpdatedAt = now
		if err := r.update(ctx, tx, rec); err != nil {
			return err
		}
	}
	return nil
}

// List returns players with derived win/loss and comment statistics, most
// recently seen first.
func (r *PlayerRepository) List(ctx context.Context, f matchdto.PlayerFilter) (matchdto.Page[domain.PlayerRecordWithStats], error) {
	paging := f.Paging.Normalize()
	page := matchdto.Page[domain.PlayerRecordWithStats]{Items: []domain.PlayerRecordWithStats{}, Page: paging.Page, PageSize: paging.PageSize}

	var (
		where []string
		args  []any
	)
	if keys := identity.CanonicalKeys(f.PlayerID); len(keys) > 0 {
		where = append(where, "player_id IN ("+placeholders(len(keys))+")")
		args = append(args, anySlice(keys)...)
	}
	if v := strings.ToLower(strings.TrimSpace(f.Name)); v != "" {
		where = append(where, "LOWER(name_list) LIKE ?")
		args = append(args, "%"+v+"%")
	}
	if v := strings.ToLower(strings.TrimSpace(f.Hero)); v != "" {
		where = append(where, "LOWER(hero_list) LIKE ?")
		args = append(args, `%"hero":"%`+v+`%`)
	}
	clause := whereClause(where)

	if err := r.s.db.QueryRowContext(ctx, r.s.q(`SELECT COUNT(*) FROM players`+clause), args...).Scan(&page.Total); err != nil {
		return page, persistErr("player.list", fmt.Errorf("count players: %w", err))
	}
	rows, err := r.s.db.QueryContext(ctx, r.s.q(`SELECT `+playerColumns+` FROM players`+clause+
		` ORDER BY updated_at DESC, id LIMIT ? OFFSET ?`), append(args, paging.PageSize, paging.Offset())...)
	if err != nil {
		return page, persistErr("player.list", fmt.Errorf("select players: %w", err))
	}
	recs, err := collectRows(rows, scanPlayer)
	if err != nil {
		return page, persistErr("player.list", err)
	}

	items, err := r.withStats(ctx, recs)
	if err != nil {
		return page, persistErr("player.list", err)
	}
	page.Items = items
	return page, nil
}

type commentAggregate struct {
	count int
	sum   int
}

// withStats derives match and comment statistics for recs. Comments may be
// keyed by any encoding of the player's id.
func (r *PlayerRepository) withStats(ctx context.Context, recs []domain.PlayerRecord) ([]domain.PlayerRecordWithStats, error) {
	out := make([]domain.PlayerRecordWithStats, 0, len(recs))
	if len(recs) == 0 {
		return out, nil
	}
	owner := map[string]int{}
	var keys []string
	for i, rec := range recs {
		for _, k := range identity.CanonicalKeys(rec.PlayerID) {
			if _, dup := owner[k]; dup {
				continue
			}
			owner[k] = i
			keys = append(keys, k)
		}
	}
	aggs := make([]commentAggregate, len(recs))
	rows, err := r.s.db.QueryContext(ctx, r.s.q(`SELECT player_id, COUNT(*), COALESCE(SUM(score), 0) FROM comments
		WHERE player_id IN (`+placeholders(len(keys))+`) GROUP BY player_id`), anySlice(keys)...)
	if err != nil {
		return nil, fmt.Errorf("aggregate comments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pid        string
			count, sum int
		)
		if err := rows.Scan(&pid, &count, &sum); err != nil {
			return nil, err
		}
		if i, ok := owner[pid]; ok {
			aggs[i].count += count
			aggs[i].sum += sum
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, rec := range recs {
		out = append(out, summarize(rec, aggs[i]))
	}
	return out, nil
}

func summarize(rec domain.PlayerRecord, agg commentAggregate) domain.PlayerRecordWithStats {
	s := domain.PlayerRecordWithStats{PlayerRecord: rec, MatchCount: len(rec.MatchList)}
	for _, m := range rec.MatchList {
		if m.IsWin == nil {
			continue
		}
		if *m.IsWin {
			s.Wins++
		} else {
			s.Losses++
		}
	}
	if decided := s.Wins + s.Losses; decided > 0 {
		s.WinRate = float64(s.Wins) / float64(decided)
	}
	s.CommentCount = agg.count
	if agg.count > 0 {
		s.AverageScore = float64(agg.sum) / float64(agg.count)
	}
	return s
}

func scanPlayer(row rowScanner) (domain.PlayerRecord, error) {
	var (
		rec                      domain.PlayerRecord
		names, heroes, matchList string
		created, updated         int64
	)
	if err := row.Scan(&rec.ID, &rec.PlayerID, &rec.Name, &names, &heroes, &matchList, &created, &updated); err != nil {
		return domain.PlayerRecord{}, err
	}
	var err error
	if rec.NameList, err = decodeList[string](names); err != nil {
		return domain.PlayerRecord{}, fmt.Errorf("decode name_list: %w", err)
	}
	if rec.HeroList, err = decodeList[domain.HeroStat](heroes); err != nil {
		return domain.PlayerRecord{}, fmt.Errorf("decode hero_list: %w", err)
	}
	if rec.MatchList, err = decodeList[domain.MatchStat](matchList); err != nil {
		return domain.PlayerRecord{}, fmt.Errorf("decode match_list: %w", err)
	}
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)
	return rec, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
