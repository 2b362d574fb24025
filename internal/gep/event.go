package gep

import (
	"bytes"
	"strings"

	"github.com/goccy/go-json"
)

// Named events the tracker reacts to.
const (
	EventMatchStateChanged = "match_state_changed"
	EventGameStateChanged  = "game_state_changed"
	EventMatchEnded        = "match_ended"
	EventMatchOutcome      = "match_outcome"
	EventGameOver          = "game_over"
)

// Event is one entry of a named-event batch. Data is JSON text.
type Event struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// UnmarshalJSON accepts data either as a JSON-encoded string or as an inline value.
func (e *Event) UnmarshalJSON(b []byte) error {
	var wire struct {
		Name string          `json:"name"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	e.Name = wire.Name
	e.Data = ""
	raw := bytes.TrimSpace(wire.Data)
	if len(raw) == 0 || bytes.Equal(raw, jsonNull) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			e.Data = s
			return nil
		}
	}
	e.Data = string(raw)
	return nil
}

// Typed is the decoded form of an Event, one variant per recognized name.
type Typed interface {
	EventName() string
}

type MatchStateChanged struct{ State string }

type GameStateChanged struct{ State string }

// MatchEnded covers match_ended and the older match_outcome. Winner is the raw
// reported value and has not been validated.
type MatchEnded struct {
	Name   string
	Winner string
	Body   Payload
}

type GameOver struct{ Body Payload }

type Unrecognized struct{ Name string }

func (MatchStateChanged) EventName() string { return EventMatchStateChanged }
func (GameStateChanged) EventName() string  { return EventGameStateChanged }
func (e MatchEnded) EventName() string      { return e.Name }
func (GameOver) EventName() string          { return EventGameOver }
func (e Unrecognized) EventName() string    { return e.Name }

// ParseEvent decodes ev by its name. Undecodable data yields the variant with
// empty fields.
func ParseEvent(ev Event) Typed {
	name := strings.ToLower(strings.TrimSpace(ev.Name))
	body, _ := Decode[Payload](ev.Data)
	switch name {
	case EventMatchStateChanged:
		return MatchStateChanged{State: phaseValue(body, FieldMatchState)}
	case EventGameStateChanged:
		return GameStateChanged{State: phaseValue(body, FieldGameState)}
	case EventMatchEnded, EventMatchOutcome:
		w, _ := body.Text(FieldWinner)
		return MatchEnded{Name: name, Winner: w, Body: body}
	case EventGameOver:
		return GameOver{Body: body}
	default:
		return Unrecognized{Name: ev.Name}
	}
}

// phaseValue reads a phase field either at the top level or one level down
// under "game".
func phaseValue(body Payload, f Field) string {
	if s, ok := body.Text(f); ok {
		return s
	}
	if game, ok := Object(body["game"]); ok {
		if s, ok := game.Text(f); ok {
			return s
		}
	}
	return ""
}

// TerminalBody returns the body of the first terminal event in batch that
// carries one, preferring match_ended/match_outcome over game_over.
func TerminalBody(batch []Event) Payload {
	var fallback Payload
	for _, ev := range batch {
		switch e := ParseEvent(ev).(type) {
		case MatchEnded:
			if len(e.Body) > 0 {
				return e.Body
			}
		case GameOver:
			if fallback == nil && len(e.Body) > 0 {
				fallback = e.Body
			}
		}
	}
	return fallback
}
