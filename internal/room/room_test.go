package room

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/storyturns/internal/conn"
	"github.com/DoyleJ11/storyturns/internal/protocol"
	"github.com/DoyleJ11/storyturns/internal/session"
	"github.com/DoyleJ11/storyturns/internal/store"
	"github.com/DoyleJ11/storyturns/internal/ws"
	"github.com/DoyleJ11/storyturns/internal/wstest"
)

type recorder struct {
	rosters  chan []string
	phases   chan Phase
	sessions chan session.State
	errs     chan error
}

func newRecorder() *recorder {
	return &recorder{
		rosters:  make(chan []string, 16),
		phases:   make(chan Phase, 8),
		sessions: make(chan session.State, 32),
		errs:     make(chan error, 8),
	}
}

func (r *recorder) OnRoster(roster []string)                     { r.rosters <- roster }
func (r *recorder) OnPhase(p Phase)                              { r.phases <- p }
func (r *recorder) OnSession(s session.State, _ []session.Event) { r.sessions <- s }
func (r *recorder) OnError(err error)                            { r.errs <- err }

type fakeTranscripts struct {
	mu    sync.Mutex
	saved []session.State
	rooms []string
}

func (f *fakeTranscripts) SaveTranscript(_ context.Context, room, _ string, final session.State) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, final)
	f.rooms = append(f.rooms, room)
	return "t-1", nil
}

func (f *fakeTranscripts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

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

func startRoom(t *testing.T, srv *wstest.Server, cfg Config, h Handler) (*Room, *wstest.Peer) {
	t.Helper()
	cfg.Base = srv.BaseURL()
	if cfg.Code == "" {
		cfg.Code = "ZED123"
	}
	if cfg.Participant == "" {
		cfg.Participant = "ana"
	}
	cfg.Conn.RetryDelay = 10 * time.Millisecond
	if cfg.Ticks == nil {
		cfg.Ticks = make(chan time.Time)
	}

	r := New(context.Background(), ws.Dialer{}, cfg, h)
	t.Cleanup(r.Close)
	require.NoError(t, r.Start())
	return r, srv.Accept(t, time.Second)
}

func TestNewCode(t *testing.T) {
	seen := map[string]bool{}
	for range 20 {
		code, err := NewCode(CodeLength)
		require.NoError(t, err)
		assert.Regexp(t, `^[A-Z2-7]{6}$`, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1)

	long, err := NewCode(26)
	require.NoError(t, err)
	assert.Len(t, long, 26)

	for _, bad := range []int{0, -1, 27} {
		_, err := NewCode(bad)
		require.ErrorIs(t, err, ErrCodeLength, "length %d", bad)
	}
}

func TestRoom_LobbyToSessionHandoff(t *testing.T) {
	srv := wstest.NewServer(t)
	rec := newRecorder()
	transcripts := &fakeTranscripts{}
	r, lobbyPeer := startRoom(t, srv, Config{Recorder: transcripts}, rec)

	assert.Equal(t, "lobby", lobbyPeer.Phase)
	assert.Equal(t, PhaseLobby, r.Phase())
	assert.False(t, r.Submit("not yet"))

	lobbyPeer.Send(t, map[string]any{"type": protocol.TypePlayerList, "players": []string{"ana", "ben"}})
	assert.Equal(t, []string{"ana", "ben"}, recvWithin(t, rec.rosters, time.Second))

	lobbyPeer.Send(t, map[string]any{"type": protocol.TypeGameStart, "turn_order": []string{"ben", "ana"}})
	assert.Equal(t, PhaseSession, recvWithin(t, rec.phases, time.Second))

	select {
	case <-lobbyPeer.Gone():
	case <-time.After(time.Second):
		t.Fatal("lobby channel still open after handoff")
	}

	sessionPeer := srv.Accept(t, time.Second)
	assert.Equal(t, "session", sessionPeer.Phase)
	assert.Equal(t, "ZED123", sessionPeer.Room)
	assert.Equal(t, "ana", sessionPeer.Participant)

	sessionPeer.Send(t, map[string]any{"type": protocol.TypeTurnUpdate, "next_player": "ana", "time_limit": 20})
	st := recvWithin(t, rec.sessions, time.Second)
	assert.Equal(t, []string{"ben", "ana"}, st.TurnOrder)
	assert.Equal(t, "ana", st.CurrentTurn)

	assert.True(t, r.Submit("A fox appeared"))
	assert.Equal(t, map[string]any{
		"type":   protocol.TypeSubmitSentence,
		"player": "ana",
		"text":   "A fox appeared",
	}, sessionPeer.Expect(t, time.Second))

	sessionPeer.Send(t, map[string]any{"type": protocol.TypeGameComplete, "scores": map[string]int{"ana": 8, "ben": 3}})
	final := recvWithin(t, rec.sessions, time.Second)
	assert.True(t, final.Completed)
	assert.Equal(t, PhaseComplete, recvWithin(t, rec.phases, time.Second))

	assert.Eventually(t, func() bool { return transcripts.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ZED123"}, transcripts.rooms)
	assert.Equal(t, PhaseComplete, r.Phase())
}

func TestRoom_SessionNameOverride(t *testing.T) {
	srv := wstest.NewServer(t)
	rec := newRecorder()
	_, lobbyPeer := startRoom(t, srv, Config{SessionName: "story-7"}, rec)

	lobbyPeer.Send(t, map[string]any{"type": protocol.TypeGameStart, "turn_order": []string{"ana"}})
	sessionPeer := srv.Accept(t, time.Second)
	assert.Equal(t, "story-7", sessionPeer.Room)
}

func TestRoom_SavesToStore(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "room.db"), nil)
	require.NoError(t, err)
	transcripts, err := store.New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = transcripts.Close() })

	srv := wstest.NewServer(t)
	rec := newRecorder()
	_, lobbyPeer := startRoom(t, srv, Config{Recorder: transcripts}, rec)

	lobbyPeer.Send(t, map[string]any{"type": protocol.TypeGameStart, "turn_order": []string{"ana", "ben"}})
	sessionPeer := srv.Accept(t, time.Second)
	sessionPeer.Send(t, map[string]any{"type": protocol.TypeStoryUpdate, "player": "ben", "text": "Night fell"})
	sessionPeer.Send(t, map[string]any{"type": protocol.TypeSentenceEvaluation, "sentence": "Night fell.", "score": 4})
	sessionPeer.Send(t, map[string]any{"type": protocol.TypeGameComplete, "scores": map[string]int{"ana": 4, "ben": 4}})
	assert.Equal(t, PhaseComplete, waitForPhase(t, rec, PhaseComplete))

	var list []store.Transcript
	require.Eventually(t, func() bool {
		list, err = transcripts.ListTranscripts(context.Background(), "ZED123")
		return err == nil && len(list) == 1
	}, time.Second, 10*time.Millisecond)

	got, err := transcripts.Transcript(context.Background(), list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "ana", got.Participant)
	assert.Equal(t, []session.StoryEntry{
		{Author: "ben", Text: "Night fell"},
		{Author: session.AuthorJudge, Text: "Night fell.", Score: 4},
	}, got.Story)
	assert.Equal(t, 1, got.Ranking[1].Rank)
}

func TestRoom_LobbyFailureSurfaces(t *testing.T) {
	srv := wstest.NewServer(t)
	srv.Reject(true)
	rec := newRecorder()

	r := New(context.Background(), ws.Dialer{}, Config{
		Base:        srv.BaseURL(),
		Code:        "ZED123",
		Participant: "ana",
		Conn:        conn.Options{MaxAttempts: 1, RetryDelay: 5 * time.Millisecond},
	}, rec)
	t.Cleanup(r.Close)
	require.NoError(t, r.Start())

	require.ErrorIs(t, recvWithin(t, rec.errs, 2*time.Second), conn.ErrReconnectExhausted)
	assert.Equal(t, PhaseLobby, r.Phase())
}

func TestRoom_InvalidAddress(t *testing.T) {
	r := New(context.Background(), ws.Dialer{}, Config{Base: "http://nope", Code: "ZED123", Participant: "ana"}, nil)
	defer r.Close()

	require.ErrorIs(t, r.Start(), conn.ErrInvalidTarget)
}

func TestRoom_CloseLeavesEverything(t *testing.T) {
	srv := wstest.NewServer(t)
	r, lobbyPeer := startRoom(t, srv, Config{}, nil)

	lobbyPeer.Send(t, map[string]any{"type": protocol.TypeGameStart, "turn_order": []string{"ana"}})
	sessionPeer := srv.Accept(t, time.Second)

	r.Close()
	r.Close()

	select {
	case <-sessionPeer.Gone():
	case <-time.After(time.Second):
		t.Fatal("session channel still open after Close")
	}
	assert.Equal(t, PhaseClosed, r.Phase())
	assert.False(t, r.Submit("after close"))
	srv.ExpectNoConnection(t, 50*time.Millisecond)
}

func waitForPhase(t *testing.T, rec *recorder, want Phase) Phase {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-rec.phases:
			if p == want {
				return p
			}
		case <-deadline:
			t.Fatalf("phase %s never reached", want)
			return ""
		}
	}
}
