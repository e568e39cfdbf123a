package protocol

// Server -> Client
//
// player_list | player_joined | player_left:
//   players: string[]        full roster, never a delta
//   seq: number              optional, monotonically increasing per room
//
// game_start:
//   turn_order: string[]
//
// players_update:
//   players: string[]
//
// story_update:
//   player: string
//   text: string
//
// turn_update:
//   next_player: string
//   time_limit: number       seconds
//
// timeout_event:
//   player: string
//   penalty: number
//
// sentence_evaluation:
//   sentence: string
//   score: number
//
// new_image:
//   image_index: number
//   total_images: number
//   image_url: string
//   image_description: string   optional
//
// game_complete:
//   scores: { [player]: number }
//
// error:
//   message: string

const (
	TypePlayerList         = "player_list"
	TypePlayerJoined       = "player_joined"
	TypePlayerLeft         = "player_left"
	TypeGameStart          = "game_start"
	TypePlayersUpdate      = "players_update"
	TypeStoryUpdate        = "story_update"
	TypeTurnUpdate         = "turn_update"
	TypeTimeoutEvent       = "timeout_event"
	TypeSentenceEvaluation = "sentence_evaluation"
	TypeNewImage           = "new_image"
	TypeGameComplete       = "game_complete"
	TypeError              = "error"
)

// Message is an inbound, already validated server record.
type Message interface{ MessageType() string }

// RosterUpdate covers player_list, player_joined and player_left. The server
// always sends the complete roster, so all three replace.
type RosterUpdate struct {
	Type    string
	Players []string
	Seq     int64
}

type GameStart struct {
	TurnOrder []string
}

type PlayersUpdate struct {
	Players []string
}

type StoryUpdate struct {
	Player string
	Text   string
}

type TurnUpdate struct {
	NextPlayer string
	TimeLimit  int
}

type TimeoutEvent struct {
	Player  string
	Penalty int
}

type SentenceEvaluation struct {
	Sentence string
	Score    int
}

type NewImage struct {
	ImageIndex       int
	TotalImages      int
	ImageURL         string
	ImageDescription string
}

type GameComplete struct {
	Scores map[string]int
}

// ServerError is an application-level error reported by the authority. It is
// handed to the host unmodified.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }

func (m RosterUpdate) MessageType() string     { return m.Type }
func (GameStart) MessageType() string          { return TypeGameStart }
func (PlayersUpdate) MessageType() string      { return TypePlayersUpdate }
func (StoryUpdate) MessageType() string        { return TypeStoryUpdate }
func (TurnUpdate) MessageType() string         { return TypeTurnUpdate }
func (TimeoutEvent) MessageType() string       { return TypeTimeoutEvent }
func (SentenceEvaluation) MessageType() string { return TypeSentenceEvaluation }
func (NewImage) MessageType() string           { return TypeNewImage }
func (GameComplete) MessageType() string       { return TypeGameComplete }
func (*ServerError) MessageType() string       { return TypeError }

// Client -> Server
//
// player_join:
//   player: string
//
// submit_sentence:
//   player: string
//   text: string

const (
	TypePlayerJoin     = "player_join"
	TypeSubmitSentence = "submit_sentence"
)

type Command interface{ CommandType() string }

type PlayerJoin struct {
	Player string `json:"player"`
}

type SubmitSentence struct {
	Player string `json:"player"`
	Text   string `json:"text"`
}

func (PlayerJoin) CommandType() string     { return TypePlayerJoin }
func (SubmitSentence) CommandType() string { return TypeSubmitSentence }
