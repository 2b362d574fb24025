package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/dota-match-companion/internal/match"
	"github.com/park285/dota-match-companion/internal/metrics"
	"github.com/park285/dota-match-companion/internal/obslog"
	"github.com/park285/dota-match-companion/internal/recordsync"
)

const defaultBuffer = 32

// Player is one roster line of a notification.
type Player struct {
	SteamID string `json:"steamId,omitempty"`
	Name    string `json:"name,omitempty"`
	Hero    string `json:"hero,omitempty"`
	Team    string `json:"team,omitempty"`
}

// Notification is the webhook body for one finalized match.
type Notification struct {
	MatchID   string    `json:"matchId"`
	Temporary bool      `json:"temporary"`
	Winner    string    `json:"winner,omitempty"`
	GameMode  string    `json:"gameMode,omitempty"`
	Players   []Player  `json:"players"`
	EndedAt   time.Time `json:"endedAt"`
	// Error is set when some persistence step failed.
	Error string `json:"error,omitempty"`
}

// FromResult builds the notification for a finalize result.
func FromResult(res recordsync.Result, now time.Time) Notification {
	rec := res.Record
	n := Notification{
		MatchID:   rec.MatchID,
		Temporary: rec.Temporary,
		Winner:    string(rec.Winner),
		EndedAt:   now,
	}
	if n.MatchID == "" {
		n.MatchID = res.Snapshot.MatchID
		n.Temporary = match.IsTemporaryMatchID(n.MatchID)
	}
	if n.Winner == "" {
		n.Winner = string(res.Snapshot.Winner)
	}
	if rec.EndedAt != nil {
		n.EndedAt = *rec.EndedAt
	}
	if gm := rec.GameMode; gm != nil {
		n.GameMode = gm.GameMode
	} else if gm := res.Snapshot.GameMode; gm != nil {
		n.GameMode = gm.GameMode
	}

	roster := rec.Roster
	if len(roster) == 0 {
		roster = res.Snapshot.Roster
	}
	n.Players = make([]Player, 0, len(roster))
	for _, p := range roster {
		n.Players = append(n.Players, Player{SteamID: p.SteamID, Name: p.Name, Hero: p.Hero, Team: p.TeamLabel()})
	}
	if res.Err != nil {
		n.Error = res.Err.Error()
	}
	return n
}

// Poster sends one notification.
type Poster interface {
	Post(ctx context.Context, v any) error
}

// Notifier decouples webhook delivery from the persistence queue. Observe
// never blocks; when the buffer is full the notification is dropped.
type Notifier struct {
	poster Poster
	ch     chan Notification
	now    func() time.Time
}

func NewNotifier(p Poster, buffer int) *Notifier {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Notifier{poster: p, ch: make(chan Notification, buffer), now: time.Now}
}

func (n *Notifier) String() string { return "match-notifier" }

// Observe matches the recordsync.Synchronizer.OnFinalized signature.
func (n *Notifier) Observe(res recordsync.Result) {
	note := FromResult(res, n.now())
	select {
	case n.ch <- note:
	default:
		metrics.NotifyDeliveries.WithLabelValues("dropped").Inc()
		obslog.L().Warn("notify_dropped", zap.String("match_id", note.MatchID))
	}
}

// Serve delivers queued notifications until ctx is cancelled.
func (n *Notifier) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case note := <-n.ch:
			n.deliver(ctx, note)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, note Notification) {
	if err := n.poster.Post(ctx, note); err != nil {
		metrics.NotifyDeliveries.WithLabelValues("error").Inc()
		obslog.L().Error("notify_error", zap.String("match_id", note.MatchID), zap.Error(err))
		return
	}
	metrics.NotifyDeliveries.WithLabelValues("ok").Inc()
	obslog.L().Debug("notify_sent", zap.String("match_id", note.MatchID))
}
