// Package api serves the stored matches, players and comments, the live
// session state and prometheus metrics over fasthttp.
package api

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/park285/dota-match-companion/internal/companion"
	"github.com/park285/dota-match-companion/internal/domain"
	"github.com/park285/dota-match-companion/internal/metrics"
	"github.com/park285/dota-match-companion/internal/obslog"
	"github.com/park285/dota-match-companion/internal/store"
	"github.com/park285/dota-match-companion/pkg/matchdto"
)

// QueryService is the storage surface the API needs.
type QueryService interface {
	ListMatches(ctx context.Context, f matchdto.MatchFilter) (matchdto.Page[domain.MatchRecord], error)
	ListPlayers(ctx context.Context, f matchdto.PlayerFilter) (matchdto.Page[domain.PlayerRecordWithStats], error)
	ListComments(ctx context.Context, f matchdto.CommentFilter) (matchdto.Page[domain.CommentRecordWithPlayerName], error)
	PlayerHistory(ctx context.Context, playerID string) (domain.PlayerHistory, error)
	SaveComment(ctx context.Context, req matchdto.SaveCommentRequest) (domain.CommentRecord, error)
	ClearAll(ctx context.Context) error
	Ping(ctx context.Context) error
}

// LiveSource exposes the current observation.
type LiveSource interface {
	Live() companion.Live
}

const requestTimeout = 10 * time.Second

type Server struct {
	addr    string
	q       QueryService
	live    LiveSource
	metrics fasthttp.RequestHandler
	srv     *fasthttp.Server
}

func New(addr string, q QueryService, live LiveSource) *Server {
	s := &Server{
		addr:    addr,
		q:       q,
		live:    live,
		metrics: fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()),
	}
	s.srv = &fasthttp.Server{
		Handler:            s.Handle,
		Name:               "dota-match-companion",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	return s
}

func (s *Server) String() string { return "api-server" }

// Serve listens until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		obslog.L().Info("api_listen", zap.String("addr", s.addr))
		errCh <- s.srv.ListenAndServe(s.addr)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.srv.ShutdownWithContext(sctx); err != nil {
			obslog.L().Warn("api_shutdown_error", zap.Error(err))
		}
		return ctx.Err()
	}
}

// Handle routes one request.
func (s *Server) Handle(rc *fasthttp.RequestCtx) {
	start := time.Now()
	route := s.route(rc)
	metrics.RecordAPIRequest(route, rc.Response.StatusCode(), time.Since(start))
}

func (s *Server) route(rc *fasthttp.RequestCtx) string {
	path := strings.TrimRight(string(rc.Path()), "/")
	method := string(rc.Method())
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch {
	case path == "/healthz":
		if err := s.q.Ping(ctx); err != nil {
			writeError(rc, err)
			return "healthz"
		}
		writeJSON(rc, fasthttp.StatusOK, map[string]string{"status": "ok"})
		return "healthz"
	case path == "/metrics":
		s.metrics(rc)
		return "metrics"
	case path == "/api/matches" && method == fasthttp.MethodGet:
		f, err := matchFilter(rc.QueryArgs())
		if err != nil {
			writeError(rc, err)
			return "matches"
		}
		page, err := s.q.ListMatches(ctx, f)
		respond(rc, page, err)
		return "matches"
	case path == "/api/players" && method == fasthttp.MethodGet:
		page, err := s.q.ListPlayers(ctx, playerFilter(rc.QueryArgs()))
		respond(rc, page, err)
		return "players"
	case strings.HasPrefix(path, "/api/players/") && strings.HasSuffix(path, "/history") && method == fasthttp.MethodGet:
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/api/players/"), "/history")
		if id == "" || strings.Contains(id, "/") {
			writeError(rc, store.ErrNotFound)
			return "player_history"
		}
		h, err := s.q.PlayerHistory(ctx, id)
		respond(rc, h, err)
		return "player_history"
	case path == "/api/comments" && method == fasthttp.MethodGet:
		f, err := commentFilter(rc.QueryArgs())
		if err != nil {
			writeError(rc, err)
			return "comments"
		}
		page, err := s.q.ListComments(ctx, f)
		respond(rc, page, err)
		return "comments"
	case path == "/api/comments" && method == fasthttp.MethodPost:
		var req matchdto.SaveCommentRequest
		if err := json.Unmarshal(rc.PostBody(), &req); err != nil {
			writeJSON(rc, fasthttp.StatusBadRequest, matchdto.DomainError{Code: "invalid_body", Message: "request body must be a JSON object"})
			return "save_comment"
		}
		rec, err := s.q.SaveComment(ctx, req)
		respond(rc, rec, err)
		return "save_comment"
	case path == "/api/live" && method == fasthttp.MethodGet:
		if s.live == nil {
			writeJSON(rc, fasthttp.StatusOK, companion.Live{})
			return "live"
		}
		writeJSON(rc, fasthttp.StatusOK, s.live.Live())
		return "live"
	case path == "/api/data" && method == fasthttp.MethodDelete:
		if err := s.q.ClearAll(ctx); err != nil {
			writeError(rc, err)
			return "clear_all"
		}
		rc.SetStatusCode(fasthttp.StatusNoContent)
		return "clear_all"
	}
	writeJSON(rc, fasthttp.StatusNotFound, matchdto.DomainError{Code: "not_found", Message: "no such route"})
	return "unknown"
}

func respond(rc *fasthttp.RequestCtx, v any, err error) {
	if err != nil {
		writeError(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, v)
}

// errValidation marks a malformed query parameter.
type errValidation struct{ msg string }

func (e errValidation) Error() string { return e.msg }

func writeError(rc *fasthttp.RequestCtx, err error) {
	var ve errValidation
	switch {
	case errors.As(err, &ve):
		writeJSON(rc, fasthttp.StatusBadRequest, matchdto.DomainError{Code: "invalid_request", Message: ve.msg})
	case errors.Is(err, store.ErrInvalidScore):
		writeJSON(rc, fasthttp.StatusBadRequest, matchdto.DomainError{Code: "invalid_score", Message: err.Error()})
	case errors.Is(err, store.ErrInvalidComment), errors.Is(err, store.ErrMissingMatchID):
		writeJSON(rc, fasthttp.StatusBadRequest, matchdto.DomainError{Code: "invalid_request", Message: err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(rc, fasthttp.StatusNotFound, matchdto.DomainError{Code: "not_found", Message: err.Error()})
	case store.IsPersistence(err):
		obslog.L().Error("api_persistence_error", zap.Error(err))
		writeJSON(rc, fasthttp.StatusServiceUnavailable, matchdto.DomainError{Code: "storage_unavailable", Message: "storage temporarily unavailable", Retryable: true})
	default:
		obslog.L().Error("api_error", zap.Error(err))
		writeJSON(rc, fasthttp.StatusInternalServerError, matchdto.DomainError{Code: "internal", Message: "internal error"})
	}
}

func writeJSON(rc *fasthttp.RequestCtx, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		rc.Error(`{"code":"internal"}`, fasthttp.StatusInternalServerError)
		return
	}
	rc.SetStatusCode(status)
	rc.SetContentType("application/json; charset=utf-8")
	rc.SetBody(b)
}

func paging(args *fasthttp.Args) matchdto.Paging {
	return matchdto.Paging{
		Page:     atoi(args.Peek("page")),
		PageSize: atoi(args.Peek("pageSize")),
	}.Normalize()
}

func matchFilter(args *fasthttp.Args) (matchdto.MatchFilter, error) {
	f := matchdto.MatchFilter{
		Paging:        paging(args),
		MatchID:       strings.TrimSpace(string(args.Peek("matchId"))),
		GameMode:      strings.TrimSpace(string(args.Peek("gameMode"))),
		Winner:        strings.ToLower(strings.TrimSpace(string(args.Peek("winner")))),
		FinalizedOnly: args.GetBool("finalized"),
	}
	if f.Winner != "" && f.Winner != "radiant" && f.Winner != "dire" {
		return f, errValidation{msg: "winner must be radiant or dire"}
	}
	return f, nil
}

func playerFilter(args *fasthttp.Args) matchdto.PlayerFilter {
	return matchdto.PlayerFilter{
		Paging:   paging(args),
		PlayerID: strings.TrimSpace(string(args.Peek("playerId"))),
		Name:     strings.TrimSpace(string(args.Peek("name"))),
		Hero:     strings.TrimSpace(string(args.Peek("hero"))),
	}
}

func commentFilter(args *fasthttp.Args) (matchdto.CommentFilter, error) {
	f := matchdto.CommentFilter{
		Paging:    paging(args),
		MatchID:   strings.TrimSpace(string(args.Peek("matchId"))),
		PlayerID:  strings.TrimSpace(string(args.Peek("playerId"))),
		MinScore:  atoi(args.Peek("minScore")),
		MaxScore:  atoi(args.Peek("maxScore")),
		HideEmpty: args.GetBool("hideEmpty"),
	}
	for _, v := range []int{f.MinScore, f.MaxScore} {
		if v != 0 && (v < matchdto.MinScore || v > matchdto.MaxScore) {
			return f, errValidation{msg: "score filters must be between 1 and 5"}
		}
	}
	if f.MinScore != 0 && f.MaxScore != 0 && f.MinScore > f.MaxScore {
		return f, errValidation{msg: "minScore must not exceed maxScore"}
	}
	return f, nil
}

func atoi(b []byte) int {
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return n
}
