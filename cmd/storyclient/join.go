package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/storyturns/internal/config"
	"github.com/DoyleJ11/storyturns/internal/conn"
	"github.com/DoyleJ11/storyturns/internal/logging"
	"github.com/DoyleJ11/storyturns/internal/room"
	"github.com/DoyleJ11/storyturns/internal/store"
	"github.com/DoyleJ11/storyturns/internal/ws"
)

var (
	joinRoom   string
	joinName   string
	joinNoSave bool
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room and play",
	Long: `Join a room by code. Without --room a new code is generated to share
with the other players. Lines typed on stdin are submitted on your turn.`,
	RunE: runJoin,
}

func init() {
	joinCmd.Flags().StringVar(&joinRoom, "room", "", "room code to join")
	joinCmd.Flags().StringVar(&joinName, "name", "", "your player name")
	joinCmd.Flags().BoolVar(&joinNoSave, "no-save", false, "do not keep the finished story")
	_ = joinCmd.MarkFlagRequired("name")
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.Dev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	out := cmd.OutOrStdout()
	code := joinRoom
	if code == "" {
		if code, err = room.NewCode(room.CodeLength); err != nil {
			return fmt.Errorf("generating room code: %w", err)
		}
		fmt.Fprintf(out, "room code: %s\n", code)
	}

	var recorder room.Recorder
	if !joinNoSave {
		db, err := store.Open(cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		transcripts, err := store.New(db)
		if err != nil {
			return err
		}
		defer transcripts.Close()
		recorder = transcripts
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	view := newTerminal(out, joinName)
	r := room.New(ctx, ws.Dialer{HandshakeTimeout: 10 * time.Second, Logger: log}, room.Config{
		Base:         cfg.BaseURL,
		Code:         code,
		Participant:  joinName,
		AnnounceJoin: cfg.AnnounceJoin,
		TickInterval: cfg.TickInterval,
		Recorder:     recorder,
		Conn: conn.Options{
			MaxAttempts:  cfg.MaxReconnectAttempts,
			RetryDelay:   cfg.ReconnectDelay,
			WriteTimeout: cfg.WriteTimeout,
			Logger:       log,
		},
	}, view)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		defer r.Close()
		if err := r.Start(); err != nil {
			return err
		}
		select {
		case <-gctx.Done():
			return nil
		case <-view.Done():
			return view.Err()
		}
	})
	g.Go(func() error {
		return submitLines(gctx, cmd.InOrStdin(), r, log)
	})
	return g.Wait()
}

// submitLines forwards stdin lines to the room until ctx ends or stdin closes.
func submitLines(ctx context.Context, in io.Reader, r *room.Room, log *zap.Logger) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if !r.Submit(line) {
				log.Debug("line not submitted", zap.String("phase", string(r.Phase())))
			}
		}
	}
}

var errConnectionLost = errors.New("connection to the room was lost")
