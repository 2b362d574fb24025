package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/park285/dota-match-companion/internal/domain"
	"github.com/park285/dota-match-companion/internal/match"
	"github.com/park285/dota-match-companion/pkg/matchdto"
)

const matchColumns = `id, match_id, temporary, game_mode, lobby_type, radiant_score, dire_score,
	self_steam_id, self_team, roster, game_state, match_state, winner, created_at, updated_at, ended_at`

type MatchRepository struct {
	s *Store
}

// CreateOrUpdate merges snapshot into the record for snapshot.MatchID. A
// missing record is created only when allowCreate is set; otherwise
// ErrCreateNotAllowed is returned. A finalized record is returned unchanged.
// The winner is not written here; see Finalize.
func (r *MatchRepository) CreateOrUpdate(ctx context.Context, snap match.Snapshot, allowCreate bool) (domain.MatchRecord, error) {
	var out domain.MatchRecord
	err := r.s.withTx(ctx, "match.create_or_update", func(tx *sql.Tx) error {
		rec, err := r.createOrUpdate(ctx, tx, snap, allowCreate)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

// Finalize creates or updates the record and then, unless it is already
// finalized, applies the winner and the end time.
func (r *MatchRepository) Finalize(ctx context.Context, snap match.Snapshot) (domain.MatchRecord, error) {
	var out domain.MatchRecord
	err := r.s.withTx(ctx, "match.finalize", func(tx *sql.Tx) error {
		rec, err := r.createOrUpdate(ctx, tx, snap, true)
		if err != nil {
			return err
		}
		if rec.Finalized() {
			out = rec
			return nil
		}
		now := r.s.timestamp()
		if snap.Winner != "" {
			rec.Winner = snap.Winner
		}
		if rec.EndedAt == nil {
			rec.EndedAt = &now
		}
		rec.UpdatedAt = now

		res, err := tx.ExecContext(ctx, r.s.q(`UPDATE matches SET winner = ?, ended_at = ?, updated_at = ?
			WHERE match_id = ? AND winner IS NULL`),
			nullString(string(rec.Winner)), nullMillis(rec.EndedAt), toMillis(now), rec.MatchID)
		if err != nil {
			return fmt.Errorf("finalize match: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// finalized concurrently
			cur, err := r.get(ctx, tx, rec.MatchID, false)
			if err != nil {
				return err
			}
			out = *cur
			return nil
		}
		out = rec
		return nil
	})
	return out, err
}

func (r *MatchRepository) createOrUpdate(ctx context.Context, q querier, snap match.Snapshot, allowCreate bool) (domain.MatchRecord, error) {
	id := strings.TrimSpace(snap.MatchID)
	if id == "" {
		return domain.MatchRecord{}, ErrMissingMatchID
	}
	now := r.s.timestamp()

	existing, err := r.get(ctx, q, id, true)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return domain.MatchRecord{}, err
	}
	if existing == nil {
		if !allowCreate {
			return domain.MatchRecord{}, ErrCreateNotAllowed
		}
		rec := mergeSnapshot(domain.MatchRecord{
			ID:        r.s.newID(),
			MatchID:   id,
			Roster:    []match.RosterPlayer{},
			CreatedAt: now,
		}, snap)
		rec.UpdatedAt = now
		inserted, err := r.insert(ctx, q, rec)
		if err != nil {
			return domain.MatchRecord{}, err
		}
		if inserted {
			return rec, nil
		}
		// created concurrently; merge into the winner of the race
		existing, err = r.get(ctx, q, id, true)
		if err != nil {
			return domain.MatchRecord{}, err
		}
	}
	if existing.Finalized() {
		return *existing, nil
	}

	rec := mergeSnapshot(*existing, snap)
	rec.UpdatedAt = now
	roster, err := encodeList(rec.Roster)
	if err != nil {
		return domain.MatchRecord{}, fmt.Errorf("encode roster: %w", err)
	}
	gm, lobby := gameModeColumns(rec.GameMode)
	radiant, dire := scoreColumns(rec.TeamScore)
	res, err := q.ExecContext(ctx, r.s.q(`UPDATE matches SET
			temporary = ?, game_mode = ?, lobby_type = ?, radiant_score = ?, dire_score = ?,
			self_steam_id = ?, self_team = ?, roster = ?, game_state = ?, match_state = ?, updated_at = ?
		WHERE match_id = ? AND winner IS NULL`),
		boolInt(rec.Temporary), gm, lobby, radiant, dire,
		rec.SelfSteamID, string(rec.SelfTeam), roster, rec.GameState, rec.MatchState, toMillis(now),
		id)
	if err != nil {
		return domain.MatchRecord{}, fmt.Errorf("update match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.MatchRecord{}, err
	}
	if n == 0 {
		cur, err := r.get(ctx, q, id, false)
		if err != nil {
			return domain.MatchRecord{}, err
		}
		return *cur, nil
	}
	return rec, nil
}

func (r *MatchRepository) insert(ctx context.Context, q querier, rec domain.MatchRecord) (bool, error) {
	roster, err := encodeList(rec.Roster)
	if err != nil {
		return false, fmt.Errorf("encode roster: %w", err)
	}
	gm, lobby := gameModeColumns(rec.GameMode)
	radiant, dire := scoreColumns(rec.TeamScore)
	res, err := q.ExecContext(ctx, r.s.q(`INSERT INTO matches (`+matchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (match_id) DO NOTHING`),
		rec.ID, rec.MatchID, boolInt(rec.Temporary), gm, lobby, radiant, dire,
		rec.SelfSteamID, string(rec.SelfTeam), roster, rec.GameState, rec.MatchState,
		nullString(string(rec.Winner)), toMillis(rec.CreatedAt), toMillis(rec.UpdatedAt), nullMillis(rec.EndedAt))
	if err != nil {
		return false, fmt.Errorf("insert match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Get returns the record for matchID or ErrNotFound.
func (r *MatchRepository) Get(ctx context.Context, matchID string) (*domain.MatchRecord, error) {
	rec, err := r.get(ctx, r.s.db, strings.TrimSpace(matchID), false)
	if err != nil {
		return nil, classify("match.get", err)
	}
	return rec, nil
}

func (r *MatchRepository) get(ctx context.Context, q querier, matchID string, forUpdate bool) (*domain.MatchRecord, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE match_id = ?`
	if forUpdate {
		query += r.s.dialect.lockSuffix
	}
	rec, err := scanMatch(q.QueryRowContext(ctx, r.s.q(query), matchID))
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select match: %w", err)
	}
	return &rec, nil
}

// Rekey moves a match recorded under a temporary id to its natural id, along
// with its comments and the players' match entries. When the natural id is
// already recorded the temporary record is dropped instead.
func (r *MatchRepository) Rekey(ctx context.Context, fromID, toID string) error {
	fromID, toID = strings.TrimSpace(fromID), strings.TrimSpace(toID)
	if fromID == "" || toID == "" {
		return ErrMissingMatchID
	}
	if fromID == toID {
		return nil
	}
	return r.s.withTx(ctx, "match.rekey", func(tx *sql.Tx) error {
		if _, err := r.get(ctx, tx, fromID, true); err != nil {
			return err
		}
		_, err := r.get(ctx, tx, toID, true)
		switch {
		case errors.Is(err, ErrNotFound):
			if _, err := tx.ExecContext(ctx, r.s.q(`UPDATE matches SET match_id = ?, temporary = ?, updated_at = ? WHERE match_id = ?`),
				toID, boolInt(match.IsTemporaryMatchID(toID)), toMillis(r.s.timestamp()), fromID); err != nil {
				return fmt.Errorf("rekey match: %w", err)
			}
			if _, err := tx.ExecContext(ctx, r.s.q(`DELETE FROM comments WHERE match_id = ? AND player_id IN
				(SELECT player_id FROM comments WHERE match_id = ?)`), fromID, toID); err != nil {
				return fmt.Errorf("drop shadowed comments: %w", err)
			}
			if _, err := tx.ExecContext(ctx, r.s.q(`UPDATE comments SET match_id = ? WHERE match_id = ?`), toID, fromID); err != nil {
				return fmt.Errorf("rekey comments: %w", err)
			}
		case err != nil:
			return err
		default:
			if _, err := tx.ExecContext(ctx, r.s.q(`DELETE FROM comments WHERE match_id = ?`), fromID); err != nil {
				return fmt.Errorf("drop temporary comments: %w", err)
			}
			if _, err := tx.ExecContext(ctx, r.s.q(`DELETE FROM matches WHERE match_id = ?`), fromID); err != nil {
				return fmt.Errorf("drop temporary match: %w", err)
			}
		}
		return r.s.Players.rekeyMatch(ctx, tx, fromID, toID)
	})
}

// List returns matches, newest first.
func (r *MatchRepository) List(ctx context.Context, f matchdto.MatchFilter) (matchdto.Page[domain.MatchRecord], error) {
	paging := f.Paging.Normalize()
	page := matchdto.Page[domain.MatchRecord]{Items: []domain.MatchRecord{}, Page: paging.Page, PageSize: paging.PageSize}

	var (
		where []string
		args  []any
	)
	if v := strings.TrimSpace(f.MatchID); v != "" {
		where = append(where, "match_id = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(f.GameMode); v != "" {
		where = append(where, "LOWER(game_mode) = LOWER(?)")
		args = append(args, v)
	}
	if v := strings.ToLower(strings.TrimSpace(f.Winner)); v != "" {
		where = append(where, "winner = ?")
		args = append(args, v)
	}
	if f.FinalizedOnly {
		where = append(where, "winner IS NOT NULL")
	}
	clause := whereClause(where)

	if err := r.s.db.QueryRowContext(ctx, r.s.q(`SELECT COUNT(*) FROM matches`+clause), args...).Scan(&page.Total); err != nil {
		return page, persistErr("match.list", fmt.Errorf("count matches: %w", err))
	}
	rows, err := r.s.db.QueryContext(ctx, r.s.q(`SELECT `+matchColumns+` FROM matches`+clause+
		` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`), append(args, paging.PageSize, paging.Offset())...)
	if err != nil {
		return page, persistErr("match.list", fmt.Errorf("select matches: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanMatch(rows)
		if err != nil {
			return page, persistErr("match.list", err)
		}
		page.Items = append(page.Items, rec)
	}
	if err := rows.Err(); err != nil {
		return page, persistErr("match.list", err)
	}
	return page, nil
}

// byMatchIDs loads the records for ids, newest first.
func (r *MatchRepository) byMatchIDs(ctx context.Context, ids []string) ([]domain.MatchRecord, error) {
	out := []domain.MatchRecord{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.s.db.QueryContext(ctx, r.s.q(`SELECT `+matchColumns+` FROM matches WHERE match_id IN (`+
		placeholders(len(ids))+`) ORDER BY created_at DESC, id`), anySlice(ids)...)
	if err != nil {
		return nil, fmt.Errorf("select matches: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// mergeSnapshot copies every field the snapshot reports onto rec. Absent
// snapshot fields leave rec untouched. Winner is left to Finalize.
func mergeSnapshot(rec domain.MatchRecord, snap match.Snapshot) domain.MatchRecord {
	rec.Temporary = match.IsTemporaryMatchID(rec.MatchID)
	if snap.GameMode != nil {
		gm := *snap.GameMode
		rec.GameMode = &gm
	}
	if snap.TeamScore != nil {
		ts := *snap.TeamScore
		rec.TeamScore = &ts
	}
	if snap.Self.SteamID != "" {
		rec.SelfSteamID = snap.Self.SteamID
	}
	if snap.Self.Team != "" {
		rec.SelfTeam = snap.Self.Team
	}
	if roster := match.FilterRoster(snap.Roster); len(roster) > 0 {
		rec.Roster = roster
	}
	if snap.GameState != "" {
		rec.GameState = snap.GameState
	}
	if snap.MatchState != "" {
		rec.MatchState = snap.MatchState
	}
	return rec
}

func scanMatch(row rowScanner) (domain.MatchRecord, error) {
	var (
		rec              domain.MatchRecord
		temporary        int
		gameMode, lobby  string
		radiant, dire    sql.NullInt64
		selfTeam, roster string
		winner           sql.NullString
		created, updated int64
		ended            sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.MatchID, &temporary, &gameMode, &lobby, &radiant, &dire,
		&rec.SelfSteamID, &selfTeam, &roster, &rec.GameState, &rec.MatchState, &winner,
		&created, &updated, &ended); err != nil {
		return domain.MatchRecord{}, err
	}
	players, err := decodeList[match.RosterPlayer](roster)
	if err != nil {
		return domain.MatchRecord{}, fmt.Errorf("decode roster: %w", err)
	}
	rec.Temporary = temporary != 0
	if gameMode != "" || lobby != "" {
		rec.GameMode = &match.GameModeInfo{GameMode: gameMode, LobbyType: lobby}
	}
	if radiant.Valid || dire.Valid {
		rec.TeamScore = &match.TeamScore{Radiant: int(radiant.Int64), Dire: int(dire.Int64)}
	}
	rec.SelfTeam = match.TeamKey(selfTeam)
	rec.Roster = players
	rec.Winner = match.TeamKey(winner.String)
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)
	rec.EndedAt = timePtr(ended)
	return rec, nil
}

func gameModeColumns(gm *match.GameModeInfo) (string, string) {
	if gm == nil {
		return "", ""
	}
	return gm.GameMode, gm.LobbyType
}

func scoreColumns(ts *match.TeamScore) (sql.NullInt64, sql.NullInt64) {
	if ts == nil {
		return sql.NullInt64{}, sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(ts.Radiant), Valid: true}, sql.NullInt64{Int64: int64(ts.Dire), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
