package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/DoyleJ11/storyturns/internal/conn"
	"github.com/DoyleJ11/storyturns/internal/protocol"
	"github.com/DoyleJ11/storyturns/internal/room"
	"github.com/DoyleJ11/storyturns/internal/session"
)

// terminal renders room notifications as plain text lines.
type terminal struct {
	out  io.Writer
	self string

	once sync.Once
	done chan struct{}
	err  error
}

var _ room.Handler = (*terminal)(nil)

func newTerminal(out io.Writer, self string) *terminal {
	return &terminal{out: out, self: self, done: make(chan struct{})}
}

func (t *terminal) Done() <-chan struct{} { return t.done }

// Err is valid once Done is closed.
func (t *terminal) Err() error { return t.err }

func (t *terminal) finish(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *terminal) OnRoster(roster []string) {
	fmt.Fprintf(t.out, "players: %s\n", strings.Join(roster, ", "))
}

func (t *terminal) OnPhase(p room.Phase) {
	switch p {
	case room.PhaseSession:
		fmt.Fprintln(t.out, "== the story begins ==")
	case room.PhaseComplete:
		fmt.Fprintln(t.out, "== the end ==")
	}
}

func (t *terminal) OnSession(s session.State, events []session.Event) {
	for _, e := range events {
		switch e.Type {
		case session.EvtRoundAdvanced:
			fmt.Fprintf(t.out, "\nimage %d/%d: %s\n", s.Image.Index, s.Image.Total, s.Image.URL)
			if s.Image.Description != "" {
				fmt.Fprintf(t.out, "  %s\n", s.Image.Description)
			}
		case session.EvtStoryAppended:
			t.printEntry(e.Entry)
		case session.EvtTurnAdvanced:
			if s.IsMyTurn(t.self) {
				fmt.Fprintf(t.out, "your turn (%ds)> ", s.TimeLeft)
			} else {
				fmt.Fprintf(t.out, "%s is writing (%ds), %s is up next\n", e.Player, s.TimeLeft, s.UpNext())
			}
		case session.EvtTimerTicked:
			if s.IsMyTurn(t.self) && s.TimeLeft > 0 && s.TimeLeft <= 5 {
				fmt.Fprintf(t.out, "\n%ds left> ", s.TimeLeft)
			}
		case session.EvtPlayersChanged:
			fmt.Fprintf(t.out, "players: %s\n", strings.Join(s.Players, ", "))
		case session.EvtSessionComplete:
			fmt.Fprintln(t.out, "\nfinal scores:")
			for _, st := range s.Ranking() {
				fmt.Fprintf(t.out, "  %d. %-16s %d\n", st.Rank, st.Player, st.Score)
			}
			t.finish(nil)
		}
	}
}

func (t *terminal) printEntry(e session.StoryEntry) {
	switch {
	case e.IsJudge():
		fmt.Fprintf(t.out, "  >> %s  [%+d]\n", e.Text, e.Score)
	case e.IsSystem():
		fmt.Fprintf(t.out, "  !! %s\n", e.Text)
	default:
		fmt.Fprintf(t.out, "  %s: %s\n", e.Author, e.Text)
	}
}

func (t *terminal) OnError(err error) {
	var serverErr *protocol.ServerError
	switch {
	case errors.As(err, &serverErr):
		fmt.Fprintf(t.out, "server: %s\n", serverErr.Message)
	case errors.Is(err, conn.ErrReconnectExhausted):
		fmt.Fprintf(t.out, "error: %v\n", err)
		t.finish(fmt.Errorf("%w: %w", errConnectionLost, err))
	default:
		fmt.Fprintf(t.out, "error: %v\n", err)
	}
}
