package session

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/DoyleJ11/storyturns/internal/protocol"
)

var ErrSessionCompleted = errors.New("session already completed")
var ErrUnsupportedMessage = errors.New("unsupported message")

const (
	AuthorSystem = "SYSTEM"
	AuthorJudge  = "JUDGE"
)

type Phase string

const (
	PhaseAwaitingFirstTurn Phase = "awaiting_first_turn"
	PhaseTurnActive        Phase = "turn_active"
	PhaseRoundResolved     Phase = "round_resolved"
	PhaseComplete          Phase = "complete"
)

// StoryEntry is one line of the shared story. Judge entries carry the
// resolved sentence and its score; system entries record timeouts with the
// penalty as a negative score.
type StoryEntry struct {
	Author string
	Text   string
	Score  int
}

func (e StoryEntry) IsJudge() bool  { return e.Author == AuthorJudge }
func (e StoryEntry) IsSystem() bool { return e.Author == AuthorSystem }

type Image struct {
	Index       int
	Total       int
	URL         string
	Description string
}

// State mirrors what the authority has asserted so far. Nothing in it is
// derived locally except TimeLeft between turn updates.
type State struct {
	Phase       Phase
	TurnOrder   []string
	Players     []string
	CurrentTurn string
	TimeLeft    int
	Story       []StoryEntry
	Scores      map[string]int
	TotalScore  int
	// Round mirrors the authority's image_index: it is never counted
	// locally, so a repeated or zero-based index is kept as sent.
	Round      int
	RoundTotal int
	Image      Image
	Completed  bool
}

func NewState(turnOrder []string) State {
	return State{
		Phase:     PhaseAwaitingFirstTurn,
		TurnOrder: slices.Clone(turnOrder),
		Players:   slices.Clone(turnOrder),
		Story:     []StoryEntry{},
		Scores:    map[string]int{},
	}
}

type EventType string

const (
	EvtStoryAppended   EventType = "StoryAppended"
	EvtTurnAdvanced    EventType = "TurnAdvanced"
	EvtTimerReset      EventType = "TimerReset"
	EvtTimerTicked     EventType = "TimerTicked"
	EvtPlayerTimedOut  EventType = "PlayerTimedOut"
	EvtRoundAdvanced   EventType = "RoundAdvanced"
	EvtRoundResolved   EventType = "RoundResolved"
	EvtPlayersChanged  EventType = "PlayersChanged"
	EvtSessionComplete EventType = "SessionComplete"
	EvtServerError     EventType = "ServerError"
)

type Event struct {
	Type    EventType
	Player  string
	Entry   StoryEntry
	Message string
}

/*
	story_update         -> EvtStoryAppended
	turn_update          -> EvtTurnAdvanced -> EvtTimerReset
	timeout_event        -> EvtPlayerTimedOut -> EvtStoryAppended     (turn_update follows from the server)
	new_image            -> EvtRoundAdvanced                          (clears the local draft)
	sentence_evaluation  -> EvtStoryAppended -> EvtRoundResolved
	game_complete        -> EvtSessionComplete
	players_update       -> EvtPlayersChanged
	error                -> EvtServerError                            (never mutates)
*/

// Apply folds one authoritative message into s. The input state is never
// modified. Once the session is complete every mutating message is rejected
// with ErrSessionCompleted.
func Apply(s State, msg protocol.Message) ([]Event, State, error) {
	if se, ok := msg.(*protocol.ServerError); ok {
		return []Event{{Type: EvtServerError, Message: se.Message}}, s, nil
	}
	if s.Completed {
		return nil, s, fmt.Errorf("%w: %s", ErrSessionCompleted, msg.MessageType())
	}

	newState := s.clone()

	switch m := msg.(type) {
	case protocol.StoryUpdate:
		entry := StoryEntry{Author: m.Player, Text: m.Text}
		newState.Story = append(newState.Story, entry)
		return []Event{{Type: EvtStoryAppended, Player: m.Player, Entry: entry}}, newState, nil

	case protocol.TurnUpdate:
		newState.CurrentTurn = m.NextPlayer
		newState.TimeLeft = m.TimeLimit
		newState.Phase = PhaseTurnActive
		events := []Event{
			{Type: EvtTurnAdvanced, Player: m.NextPlayer},
			{Type: EvtTimerReset, Player: m.NextPlayer},
		}
		return events, newState, nil

	case protocol.TimeoutEvent:
		entry := StoryEntry{
			Author: AuthorSystem,
			Text:   fmt.Sprintf("%s ran out of time (-%d)", m.Player, m.Penalty),
			Score:  -m.Penalty,
		}
		newState.Story = append(newState.Story, entry)
		events := []Event{
			{Type: EvtPlayerTimedOut, Player: m.Player},
			{Type: EvtStoryAppended, Player: AuthorSystem, Entry: entry},
		}
		return events, newState, nil

	case protocol.NewImage:
		newState.Round = m.ImageIndex
		newState.RoundTotal = m.TotalImages
		newState.Image = Image{
			Index:       m.ImageIndex,
			Total:       m.TotalImages,
			URL:         m.ImageURL,
			Description: m.ImageDescription,
		}
		return []Event{{Type: EvtRoundAdvanced}}, newState, nil

	case protocol.SentenceEvaluation:
		entry := StoryEntry{Author: AuthorJudge, Text: m.Sentence, Score: m.Score}
		newState.Story = append(newState.Story, entry)
		newState.TotalScore += m.Score
		newState.Phase = PhaseRoundResolved
		events := []Event{
			{Type: EvtStoryAppended, Player: AuthorJudge, Entry: entry},
			{Type: EvtRoundResolved},
		}
		return events, newState, nil

	case protocol.GameComplete:
		newState.Scores = maps.Clone(m.Scores)
		if newState.Scores == nil {
			newState.Scores = map[string]int{}
		}
		newState.Completed = true
		newState.Phase = PhaseComplete
		newState.TimeLeft = 0
		return []Event{{Type: EvtSessionComplete}}, newState, nil

	case protocol.PlayersUpdate:
		newState.Players = slices.Clone(m.Players)
		return []Event{{Type: EvtPlayersChanged}}, newState, nil

	default:
		return nil, s, fmt.Errorf("%w: %s", ErrUnsupportedMessage, msg.MessageType())
	}
}

// Tick advances the local countdown by one second. It is a display
// prediction only; the next turn_update overwrites it.
func Tick(s State) (State, bool) {
	if s.Completed || s.CurrentTurn == "" || s.TimeLeft <= 0 {
		return s, false
	}
	newState := s.clone()
	newState.TimeLeft--
	return newState, true
}

// Reduce replays a message history from a fresh state. Messages the session
// would reject are skipped, as they are live.
func Reduce(turnOrder []string, msgs []protocol.Message) State {
	s := NewState(turnOrder)
	for _, msg := range msgs {
		if _, next, err := Apply(s, msg); err == nil {
			s = next
		}
	}
	return s
}

func (s State) IsMyTurn(self string) bool {
	return !s.Completed && s.CurrentTurn != "" && s.CurrentTurn == self
}

// InProgress is the sentence currently being assembled: every entry after
// the most recent judge entry.
func (s State) InProgress() []StoryEntry {
	return slices.Clone(s.Story[s.resolvedLen():])
}

// Resolved is everything up to and including the most recent judge entry.
func (s State) Resolved() []StoryEntry {
	return slices.Clone(s.Story[:s.resolvedLen()])
}

func (s State) resolvedLen() int {
	for i := len(s.Story) - 1; i >= 0; i-- {
		if s.Story[i].IsJudge() {
			return i + 1
		}
	}
	return 0
}

func (s State) clone() State {
	c := s
	c.TurnOrder = slices.Clone(s.TurnOrder)
	c.Players = slices.Clone(s.Players)
	c.Story = slices.Clone(s.Story)
	c.Scores = maps.Clone(s.Scores)
	return c
}
