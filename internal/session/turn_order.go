package session

import (
	"cmp"
	"slices"
)

// UpNext names who the turn order says follows the current player. The
// authority decides the actual next turn; this is only a display hint.
func (s State) UpNext() string {
	if s.Completed || len(s.TurnOrder) == 0 {
		return ""
	}
	i := slices.Index(s.TurnOrder, s.CurrentTurn)
	if i < 0 {
		return s.TurnOrder[0]
	}
	return s.TurnOrder[(i+1)%len(s.TurnOrder)]
}

type Standing struct {
	Rank   int
	Player string
	Score  int
}

// Ranking orders the final scores, highest first. Equal scores share a rank
// and are listed by name. Nil until the session is complete.
func (s State) Ranking() []Standing {
	if !s.Completed {
		return nil
	}

	out := make([]Standing, 0, len(s.Scores))
	for player, score := range s.Scores {
		out = append(out, Standing{Player: player, Score: score})
	}
	slices.SortFunc(out, func(a, b Standing) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Player, b.Player)
	})
	for i := range out {
		if i > 0 && out[i].Score == out[i-1].Score {
			out[i].Rank = out[i-1].Rank
		} else {
			out[i].Rank = i + 1
		}
	}
	return out
}
