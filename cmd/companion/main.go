package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/dota-match-companion/internal/api"
	"github.com/park285/dota-match-companion/internal/companion"
	appcfg "github.com/park285/dota-match-companion/internal/config"
	"github.com/park285/dota-match-companion/internal/feed"
	"github.com/park285/dota-match-companion/internal/notify"
	"github.com/park285/dota-match-companion/internal/obslog"
	"github.com/park285/dota-match-companion/internal/recordsync"
	"github.com/park285/dota-match-companion/internal/snapcache"
	"github.com/park285/dota-match-companion/internal/store"
	"github.com/park285/dota-match-companion/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default $COMPANION_CONFIG)")
	flag.Parse()

	cfg, err := appcfg.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.Init(obslog.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		File:      cfg.Log.File,
		ToConsole: cfg.Log.ToConsole,
		ToFile:    cfg.Log.ToFile,
		Caller:    cfg.Log.Caller,
	}); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		Driver: cfg.Storage.Driver,
		Path:   cfg.Storage.SQLitePath,
		DSN:    cfg.Storage.DatabaseURL,
	})
	if err != nil {
		logger.Fatal("store_open_error", zap.Error(err))
	}
	defer func() { _ = st.Close() }()

	cache, closeCache := openCache(ctx, cfg, logger)
	defer closeCache()

	tree := supervisor.NewTree(logger, supervisor.DefaultTreeConfig())

	syncer := recordsync.New(recordsync.DepsFromStore(st, cache), recordsync.Options{
		SnapshotWait: cfg.Snapshot.Wait,
		SnapshotPoll: cfg.Snapshot.Poll,
	})
	syncer.OnFinalized(func(res recordsync.Result) {
		if res.Err != nil {
			logger.Warn("match_finalized_partial", zap.String("match_id", res.Record.MatchID), zap.Error(res.Err))
			return
		}
		logger.Info("match_finalized", zap.String("match_id", res.Record.MatchID), zap.Int("players", len(res.Snapshot.Roster)))
	})
	if cfg.Notify.URL != "" {
		notifier := notify.NewNotifier(notify.NewClient(cfg.Notify.URL,
			notify.WithTimeout(cfg.Notify.Timeout),
			notify.WithRetry(cfg.Notify.Retries),
		), 0)
		syncer.OnFinalized(notifier.Observe)
		tree.AddDataService(notifier)
	}
	queue := recordsync.NewQueue(syncer)
	session := companion.NewSession(cache, queue)
	tree.AddDataService(queue)

	if cfg.Feed.URL != "" {
		var opts []feed.Option
		if cfg.Feed.ClientID != "" {
			clientID := cfg.Feed.ClientID
			opts = append(opts, feed.WithHeaderProvider(func() map[string]string {
				return map[string]string{"X-Client-Id": clientID}
			}))
		}
		client := feed.NewClient(cfg.Feed.URL, session, cfg.Feed.ReconnectAttempts, cfg.Feed.ReconnectDelay, opts...)
		client.OnStateChange(func(state feed.State) {
			logger.Info("feed_state", zap.String("state", string(state)))
		})
		tree.AddIngestService(client)
	} else {
		logger.Warn("feed_disabled")
	}

	if cfg.API.Addr != "" {
		tree.AddAPIService(api.New(cfg.API.Addr, st, session))
	}

	logger.Info("companion_start",
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("redis_cache", cfg.Snapshot.RedisURL != ""),
		zap.String("feed_url", cfg.Feed.URL),
		zap.String("api_addr", cfg.API.Addr),
		zap.Bool("notify", cfg.Notify.URL != ""),
	)

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("supervisor_exit", zap.Error(err))
	}

	// 남은 작업은 Queue.Serve가 종료 시 비움
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logger.Warn("services_unstopped", zap.Int("count", len(report)))
	}
	logger.Info("companion_stop")
}

// openCache picks Redis when configured and falls back to memory when Redis
// is unreachable at startup.
func openCache(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger) (snapcache.Cache, func()) {
	if cfg.Snapshot.RedisURL == "" {
		return snapcache.NewMemory(cfg.Snapshot.TTL), func() {}
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rc, err := snapcache.NewRedisFromURL(cctx, cfg.Snapshot.RedisURL, snapcache.RedisOptions{TTL: cfg.Snapshot.TTL})
	if err != nil {
		logger.Warn("snapshot_cache_redis_unavailable", zap.Error(err))
		return snapcache.NewMemory(cfg.Snapshot.TTL), func() {}
	}
	return rc, func() { _ = rc.Close() }
}
