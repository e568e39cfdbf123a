package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

var ErrMalformed = errors.New("malformed message")
var ErrUnknownType = errors.New("unknown message type")
var ErrUnsupportedCommand = errors.New("unsupported command")

// Wire shapes. Pointers mark required fields so a missing key can be told
// apart from a zero value.
type header struct {
	Type string `json:"type"`
}

type rosterWire struct {
	Players *[]string `json:"players"`
	Seq     int64     `json:"seq"`
}

type gameStartWire struct {
	TurnOrder *[]string `json:"turn_order"`
}

type storyWire struct {
	Player *string `json:"player"`
	Text   *string `json:"text"`
}

type turnWire struct {
	NextPlayer *string `json:"next_player"`
	TimeLimit  *int    `json:"time_limit"`
}

type timeoutWire struct {
	Player  *string `json:"player"`
	Penalty *int    `json:"penalty"`
}

type evaluationWire struct {
	Sentence *string `json:"sentence"`
	Score    *int    `json:"score"`
}

type imageWire struct {
	ImageIndex       *int    `json:"image_index"`
	TotalImages      *int    `json:"total_images"`
	ImageURL         *string `json:"image_url"`
	ImageDescription string  `json:"image_description"`
}

type completeWire struct {
	Scores *map[string]int `json:"scores"`
}

type errorWire struct {
	Message *string `json:"message"`
}

// Decode parses one inbound frame. Errors wrap ErrMalformed or ErrUnknownType.
func Decode(data []byte) (Message, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if h.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch h.Type {
	case TypePlayerList, TypePlayerJoined, TypePlayerLeft:
		var w rosterWire
		if err := unmarshal(data, h.Type, &w); err != nil {
			return nil, err
		}
		if w.Players == nil {
			return nil, missing(h.Type, "players")
		}
		return RosterUpdate{Type: h.Type, Players: slices.Clone(*w.Players), Seq: w.Seq}, nil

	case TypeGameStart:
		var w gameStartWire
		if err := unmarshal(data, h.Type, &w); err != nil {
			return nil, err
		}
		if w.TurnOrder == nil {
			return nil, missing(h.Type, "turn_order")
		}
		return GameStart{TurnOrder: slices.Clone(*w.TurnOrder)}, nil

	case TypePlayersUpdate:
		var w rosterWire
		if err := unmarshal(data, h.Type, &w); err != nil {
			return nil, err
		}
		if w.Players == nil {
			return nil, missing(h.Type, "players")
		}
		return PlayersUpdate{Players: slices.Clone(*w.Players)}, nil

	case TypeStoryUpdate:
		var w storyWire
		if err := unmarshal(data, h.Type, &w); err != nil {
			return nil, err
		}
		switch {
		case w.Player == nil:
			return nil, missing(h.Type, "player")
		case w.Text == nil:
			return nil, missing(h.Type, "text")
		}
		return StoryUpdate{Player: *w.Player, Text: *w.Text}, nil

	case TypeTurnUpdate:
		var w turnWire
		if err := unmarshal(data, h.Type, &w); err != nil {
			return nil, err
		}
		switch {
		case w.NextPlayer == nil:
			return nil, missing(h.Type, "next_player")
		case w.TimeLimit == nil:
			return nil, missing(h.Type, "time_limit")
		case *w.TimeLimit < 0:
			return nil, fmt.Errorf("%w: %s: negative time_limit %d", ErrMalformed, h.Type, *w.TimeLimit)
		}
		return TurnUpdate{NextPlayer: *w.NextPlayer, TimeLimit: *w.TimeLimit}, nil

	case TypeTimeoutEvent:
		var w timeoutWire
		if err := unmarshal(data, h.Type, &w); err != nil {
			return nil, err
		}
		switch {
		case w.Player == nil:
			return nil, missing(h.Type, "player")
		case w.Penalty == nil:
			return nil, missing(h.Type, "penalty")
		}
		return TimeoutEvent{Player: *w.Player, Penalty: *w.Penalty}, nil

	case TypeSentenceEvaluation:
		var w evaluationWire
		if err := unmarshal(data, h.Type, &w); err != nil {
			return nil, err
		}
		switch {
		case w.Sentence == nil:
			return nil, missing(h.Type, "sentence")
		case w.Score == nil:
			return nil, missing(h.Type, "score")
		}
		return SentenceEvaluation{Sentence: *w.Sentence, Score: *w.Score}, nil

	case TypeNewImage:
		var w imageWire
		if err := unmarshal(data, h.Type, &w); err != nil {
			return nil, err
		}
		switch {
		case w.ImageIndex == nil:
			return nil, missing(h.Type, "image_index")
		case w.TotalImages == nil:
			return nil, missing(h.Type, "total_images")
		case w.ImageURL == nil:
			return nil, missing(h.Type, "image_url")
		}
		return NewImage{
			ImageIndex:       *w.ImageIndex,
			TotalImages:      *w.TotalImages,
			ImageURL:         *w.ImageURL,
			ImageDescription: w.ImageDescription,
		}, nil

	case TypeGameComplete:
		var w completeWire
		if err := unmarshal(data, h.Type, &w); err != nil {
			return nil, err
		}
		if w.Scores == nil {
			return nil, missing(h.Type, "scores")
		}
		scores := maps.Clone(*w.Scores)
		if scores == nil {
			scores = map[string]int{}
		}
		return GameComplete{Scores: scores}, nil

	case TypeError:
		var w errorWire
		if err := unmarshal(data, h.Type, &w); err != nil {
			return nil, err
		}
		if w.Message == nil {
			return nil, missing(h.Type, "message")
		}
		return &ServerError{Message: *w.Message}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, h.Type)
	}
}

// Encode serialises an outbound command with its type discriminator.
func Encode(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case PlayerJoin:
		return json.Marshal(struct {
			Type string `json:"type"`
			PlayerJoin
		}{TypePlayerJoin, c})
	case SubmitSentence:
		return json.Marshal(struct {
			Type string `json:"type"`
			SubmitSentence
		}{TypeSubmitSentence, c})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedCommand, cmd)
	}
}

func unmarshal(data []byte, typ string, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, typ, err)
	}
	return nil
}

func missing(typ, field string) error {
	return fmt.Errorf("%w: %s: missing %s", ErrMalformed, typ, field)
}
