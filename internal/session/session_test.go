package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/storyturns/internal/conn"
	"github.com/DoyleJ11/storyturns/internal/protocol"
	"github.com/DoyleJ11/storyturns/internal/ws"
	"github.com/DoyleJ11/storyturns/internal/wstest"
)

type update struct {
	state  State
	events []Event
}

type recorder struct {
	updates chan update
	errs    chan error
	conns   chan conn.Status
}

func newRecorder() *recorder {
	return &recorder{
		updates: make(chan update, 32),
		errs:    make(chan error, 4),
		conns:   make(chan conn.Status, 8),
	}
}

func (r *recorder) OnState(s State, events []Event) { r.updates <- update{s, events} }
func (r *recorder) OnError(err error)               { r.errs <- err }
func (r *recorder) OnConnection(status conn.Status) { r.conns <- status }

// helper: receive one value with a timeout so tests never hang
func recvWithin[T any](t *testing.T, ch chan T, within time.Duration) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for value")
		var zero T
		return zero
	}
}

func recvNothing[T any](t *testing.T, ch chan T, within time.Duration) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("expected nothing within %v, but got: %+v", within, v)
	case <-time.After(within):
	}
}

func startSession(t *testing.T, srv *wstest.Server, participant string, ticks chan time.Time, h Handler) (*Session, *wstest.Peer) {
	t.Helper()
	s := New(context.Background(), ws.Dialer{}, Config{
		Base:        srv.BaseURL(),
		Room:        "ZED123",
		Participant: participant,
		Ticks:       ticks,
		Conn:        conn.Options{RetryDelay: 10 * time.Millisecond},
	}, []string{"ana", "ben", "cy"}, h)
	t.Cleanup(s.Close)
	require.NoError(t, s.Start())
	return s, srv.Accept(t, time.Second)
}

func turn(next string, limit int) map[string]any {
	return map[string]any{"type": protocol.TypeTurnUpdate, "next_player": next, "time_limit": limit}
}

func story(player, text string) map[string]any {
	return map[string]any{"type": protocol.TypeStoryUpdate, "player": player, "text": text}
}

func TestSession_JoinsSessionChannel(t *testing.T) {
	srv := wstest.NewServer(t)
	rec := newRecorder()
	s, peer := startSession(t, srv, "ana", nil, rec)

	assert.Equal(t, "session", peer.Phase)
	assert.Equal(t, "ZED123", peer.Room)
	assert.Equal(t, "ana", peer.Participant)

	status := recvWithin(t, rec.conns, time.Second)
	assert.True(t, status.Connected)
	assert.Equal(t, []string{"ana", "ben", "cy"}, s.State().TurnOrder)
	assert.Equal(t, PhaseAwaitingFirstTurn, s.State().Phase)
}

func TestSession_CountdownTicksAndResets(t *testing.T) {
	srv := wstest.NewServer(t)
	rec := newRecorder()
	ticks := make(chan time.Time)
	s, peer := startSession(t, srv, "ana", ticks, rec)

	peer.Send(t, turn("ben", 20))
	u := recvWithin(t, rec.updates, time.Second)
	assert.Equal(t, "ben", u.state.CurrentTurn)
	assert.Equal(t, 20, u.state.TimeLeft)

	ticks <- time.Now()
	u = recvWithin(t, rec.updates, time.Second)
	assert.Equal(t, 19, u.state.TimeLeft)
	assert.True(t, containsEvent(u.events, EvtTimerTicked))

	peer.Send(t, turn("cy", 20))
	u = recvWithin(t, rec.updates, time.Second)
	assert.Equal(t, "cy", u.state.CurrentTurn)
	assert.Equal(t, 20, u.state.TimeLeft)
	assert.Equal(t, 20, s.State().TimeLeft)
}

func TestSession_TurnUpdateRestartsCountdownClock(t *testing.T) {
	const interval = 400 * time.Millisecond

	srv := wstest.NewServer(t)
	rec := newRecorder()
	s := New(context.Background(), ws.Dialer{}, Config{
		Base:         srv.BaseURL(),
		Room:         "ZED123",
		Participant:  "ana",
		TickInterval: interval,
		Conn:         conn.Options{RetryDelay: 10 * time.Millisecond},
	}, []string{"ana", "ben"}, rec)
	t.Cleanup(s.Close)
	created := time.Now()
	require.NoError(t, s.Start())
	peer := srv.Accept(t, time.Second)

	// land the turn just before the ticker's first scheduled fire
	time.Sleep(time.Until(created.Add(interval - 70*time.Millisecond)))
	peer.Send(t, turn("ben", 20))
	u := recvWithin(t, rec.updates, time.Second)
	require.Equal(t, 20, u.state.TimeLeft)
	reset := time.Now()

	u = recvWithin(t, rec.updates, 2*time.Second)
	elapsed := time.Since(reset)
	assert.Equal(t, 19, u.state.TimeLeft)
	assert.GreaterOrEqual(t, elapsed, interval-100*time.Millisecond, "countdown ticked %v after the reset", elapsed)
}

func TestSession_SubmitOutOfTurnSendsNothing(t *testing.T) {
	srv := wstest.NewServer(t)
	rec := newRecorder()
	s, peer := startSession(t, srv, "ana", nil, rec)

	// before any turn is known
	assert.False(t, s.Submit("too early"))

	peer.Send(t, turn("ben", 20))
	recvWithin(t, rec.updates, time.Second)

	assert.False(t, s.IsMyTurn())
	assert.False(t, s.Submit("Once upon a time"))
	peer.ExpectNothing(t, 100*time.Millisecond)
	assert.Empty(t, s.State().Story)
}

func TestSession_SubmitOnOwnTurn(t *testing.T) {
	srv := wstest.NewServer(t)
	rec := newRecorder()
	s, peer := startSession(t, srv, "ana", nil, rec)

	peer.Send(t, turn("ana", 20))
	recvWithin(t, rec.updates, time.Second)
	require.True(t, s.IsMyTurn())

	assert.False(t, s.Submit("   "), "blank text is never sent")

	s.SetDraft("Once upon")
	assert.True(t, s.Submit("  Once upon a time "))
	assert.Equal(t, map[string]any{
		"type":   protocol.TypeSubmitSentence,
		"player": "ana",
		"text":   "Once upon a time",
	}, peer.Expect(t, time.Second))
	assert.Empty(t, s.Draft())

	// the story only grows once the authority echoes the line
	assert.Empty(t, s.State().Story)
	peer.Send(t, story("ana", "Once upon a time"))
	u := recvWithin(t, rec.updates, time.Second)
	assert.Equal(t, []StoryEntry{{Author: "ana", Text: "Once upon a time"}}, u.state.Story)
}

func TestSession_MalformedFrameBetweenStoryUpdates(t *testing.T) {
	srv := wstest.NewServer(t)
	rec := newRecorder()
	s, peer := startSession(t, srv, "ana", nil, rec)

	peer.Send(t, story("ana", "One"))
	peer.SendRaw(t, []byte(`{"type":"story_update","player":"ben"}`))
	peer.SendRaw(t, []byte(`not json`))
	peer.Send(t, story("ben", "Two"))

	recvWithin(t, rec.updates, time.Second)
	u := recvWithin(t, rec.updates, time.Second)
	assert.Equal(t, []StoryEntry{
		{Author: "ana", Text: "One"},
		{Author: "ben", Text: "Two"},
	}, u.state.Story)
	recvNothing(t, rec.errs, 30*time.Millisecond)
	assert.True(t, s.Status().Connected)
}

func TestSession_NewImageClearsDraft(t *testing.T) {
	srv := wstest.NewServer(t)
	rec := newRecorder()
	s, peer := startSession(t, srv, "ana", nil, rec)

	s.SetDraft("half a thought")
	peer.Send(t, map[string]any{
		"type":              protocol.TypeNewImage,
		"image_index":       2,
		"total_images":      3,
		"image_url":         "https://img.example/2.png",
		"image_description": "a lighthouse",
	})

	u := recvWithin(t, rec.updates, time.Second)
	assert.True(t, containsEvent(u.events, EvtRoundAdvanced))
	assert.Equal(t, 2, u.state.Round)
	assert.Equal(t, "a lighthouse", u.state.Image.Description)
	assert.Empty(t, s.Draft())
}

func TestSession_ServerErrorPassesThrough(t *testing.T) {
	srv := wstest.NewServer(t)
	rec := newRecorder()
	s, peer := startSession(t, srv, "ana", nil, rec)

	peer.Send(t, turn("ana", 20))
	recvWithin(t, rec.updates, time.Second)
	before := s.State()

	peer.Send(t, map[string]any{"type": protocol.TypeError, "message": "Not your turn!"})
	err := recvWithin(t, rec.errs, time.Second)
	var serverErr *protocol.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "Not your turn!", serverErr.Message)
	assert.Equal(t, before, s.State())
}

func TestSession_CompletionFreezesState(t *testing.T) {
	srv := wstest.NewServer(t)
	rec := newRecorder()
	ticks := make(chan time.Time)
	s, peer := startSession(t, srv, "ana", ticks, rec)

	peer.Send(t, turn("ana", 20))
	peer.Send(t, map[string]any{"type": protocol.TypeGameComplete, "scores": map[string]int{"ana": 12, "ben": 9}})
	recvWithin(t, rec.updates, time.Second)
	u := recvWithin(t, rec.updates, time.Second)
	require.True(t, u.state.Completed)

	peer.Send(t, story("ben", "late line"))
	peer.Send(t, turn("ben", 20))
	ticks <- time.Now()
	recvNothing(t, rec.updates, 50*time.Millisecond)

	final := s.State()
	assert.Empty(t, final.Story)
	assert.Equal(t, 0, final.TimeLeft)
	assert.Equal(t, map[string]int{"ana": 12, "ben": 9}, final.Scores)
	assert.False(t, s.Submit("anything"))
	peer.ExpectNothing(t, 50*time.Millisecond)
}

func TestSession_CloseStopsEverything(t *testing.T) {
	srv := wstest.NewServer(t)
	rec := newRecorder()
	ticks := make(chan time.Time, 1)
	s, peer := startSession(t, srv, "ana", ticks, rec)

	peer.Send(t, turn("ben", 20))
	recvWithin(t, rec.updates, time.Second)

	s.Close()
	s.Close()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session loop still running after Close")
	}
	select {
	case <-peer.Gone():
	case <-time.After(time.Second):
		t.Fatal("channel still open after Close")
	}

	ticks <- time.Now()
	recvNothing(t, rec.updates, 50*time.Millisecond)
	assert.Equal(t, conn.StateClosed, s.Status().State)
	assert.Equal(t, 20, s.State().TimeLeft)
}
