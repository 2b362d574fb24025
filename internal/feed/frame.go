// Package feed is the websocket transport from the game event bridge. The
// bridge forwards every partial update, event batch and info dump as one JSON
// frame.
package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/park285/dota-match-companion/internal/gep"
	"github.com/park285/dota-match-companion/internal/match"
	"github.com/park285/dota-match-companion/internal/metrics"
)

const (
	FrameUpdate   = "update"
	FrameEvents   = "events"
	FrameInfo     = "info"
	FrameGameExit = "game_exit"
)

// Frame is one message of the bridge.
type Frame struct {
	Type    string                 `json:"type"`
	Feature string                 `json:"feature,omitempty"`
	Payload gep.Payload            `json:"payload,omitempty"`
	Info    map[string]gep.Payload `json:"info,omitempty"`
	Events  []gep.Event            `json:"events,omitempty"`
}

// Handler consumes decoded frames. Calls are made one at a time.
type Handler interface {
	HandleUpdate(ctx context.Context, feature string, payload gep.Payload) match.Signal
	HandleEvents(ctx context.Context, batch []gep.Event) match.Signal
	HandleInfo(ctx context.Context, info map[string]gep.Payload)
	HandleGameExit(ctx context.Context)
}

// Dispatch routes f to h.
func Dispatch(ctx context.Context, h Handler, f Frame) error {
	kind := strings.ToLower(strings.TrimSpace(f.Type))
	switch kind {
	case FrameUpdate:
		h.HandleUpdate(ctx, f.Feature, f.Payload)
	case FrameEvents:
		h.HandleEvents(ctx, f.Events)
	case FrameInfo:
		h.HandleInfo(ctx, f.Info)
	case FrameGameExit:
		h.HandleGameExit(ctx)
	default:
		metrics.FeedFrames.WithLabelValues("unknown").Inc()
		return fmt.Errorf("unknown frame type %q", f.Type)
	}
	metrics.FeedFrames.WithLabelValues(kind).Inc()
	return nil
}
