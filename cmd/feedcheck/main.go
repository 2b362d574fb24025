package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/park285/dota-match-companion/internal/feed"
	"github.com/park285/dota-match-companion/internal/gep"
	"github.com/park285/dota-match-companion/internal/match"
)

// printer runs frames through a scratch tracker and prints what it sees.
type printer struct {
	tracker *match.Tracker
}

func (p *printer) HandleUpdate(_ context.Context, feature string, payload gep.Payload) match.Signal {
	sig := p.tracker.OnUpdate(feature, payload)
	fmt.Printf("update feature=%s keys=%s signal=%s\n", feature, keys(payload), sig)
	p.dump(sig)
	return sig
}

func (p *printer) HandleEvents(_ context.Context, batch []gep.Event) match.Signal {
	for _, e := range batch {
		fmt.Printf("event name=%s typed=%T\n", e.Name, gep.ParseEvent(e))
	}
	sig := p.tracker.OnEvents(batch)
	fmt.Printf("events n=%d signal=%s\n", len(batch), sig)
	p.dump(sig)
	if sig == match.SignalEnd {
		p.tracker.Reset()
	}
	return sig
}

func (p *printer) HandleInfo(_ context.Context, info map[string]gep.Payload) {
	for feature, payload := range info {
		fmt.Printf("info feature=%s keys=%s\n", feature, keys(payload))
	}
}

func (p *printer) HandleGameExit(_ context.Context) {
	fmt.Println("game_exit")
	p.tracker.Reset()
}

func (p *printer) dump(sig match.Signal) {
	if sig == match.SignalNone {
		return
	}
	b, err := json.MarshalIndent(p.tracker.GetSnapshot(), "", "  ")
	if err != nil {
		return
	}
	fmt.Printf("snapshot:\n%s\n", b)
}

func keys(p gep.Payload) string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	return strings.Join(out, ",")
}

func main() {
	window := flag.Duration("window", 30*time.Second, "how long to observe the feed")
	flag.Parse()

	wsURL := os.Getenv("FEED_URL")
	if wsURL == "" {
		log.Fatal("FEED_URL is required")
	}
	clientID := os.Getenv("FEED_CLIENT_ID")

	client := feed.NewClient(wsURL, &printer{tracker: match.NewTracker()}, 3, time.Second,
		feed.WithHeaderProvider(func() map[string]string {
			if clientID == "" {
				return nil
			}
			return map[string]string{"X-Client-Id": clientID}
		}),
	)
	client.OnStateChange(func(state feed.State) {
		log.Printf("WS state: %s", state)
	})

	ctx, cancel := context.WithTimeout(context.Background(), *window)
	defer cancel()
	if err := client.Serve(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Printf("feed error: %v", err)
	}
}
