package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/DoyleJ11/storyturns/internal/session"
)

var ErrNotFound = errors.New("transcript not found")
var ErrIncomplete = errors.New("session not complete")

// Transcript is a stored, finished session.
type Transcript struct {
	ID          string
	Room        string
	Participant string
	Rounds      int
	TotalScore  int
	CreatedAt   time.Time
	Story       []session.StoryEntry
	Ranking     []session.Standing
}

// Store keeps finished session transcripts.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn. postgres:// and postgresql:// DSNs use the postgres
// driver; anything else is a sqlite file path.
func Open(dsn string, log *zap.Logger) (*gorm.DB, error) {
	cfg := &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  newGormLogger(log),
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	}

	if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Exec("PRAGMA foreign_keys=ON").Error; err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// New migrates the schema and returns a Store over db.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&TranscriptModel{}, &TranscriptEntryModel{}, &FinalScoreModel{}); err != nil {
		return nil, fmt.Errorf("migrate transcripts: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveTranscript stores the final state of a completed session and returns
// the new transcript id.
func (s *Store) SaveTranscript(ctx context.Context, room, participant string, final session.State) (string, error) {
	if !final.Completed {
		return "", ErrIncomplete
	}

	m := TranscriptModel{
		ID:          uuid.NewString(),
		Room:        room,
		Participant: participant,
		Rounds:      final.RoundTotal,
		TotalScore:  final.TotalScore,
	}
	for i, e := range final.Story {
		m.Entries = append(m.Entries, TranscriptEntryModel{
			Position: i,
			Author:   e.Author,
			Text:     e.Text,
			Score:    e.Score,
		})
	}
	for player, score := range final.Scores {
		m.Scores = append(m.Scores, FinalScoreModel{Player: player, Score: score})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&m).Error
	})
	if err != nil {
		return "", fmt.Errorf("save transcript: %w", err)
	}
	return m.ID, nil
}

func (s *Store) Transcript(ctx context.Context, id string) (Transcript, error) {
	var m TranscriptModel
	err := s.db.WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Scores").
		Where("id = ?", id).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Transcript{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Transcript{}, fmt.Errorf("load transcript: %w", err)
	}
	return toTranscript(m), nil
}

// ListTranscripts returns the transcripts for room, newest first, without
// their story lines.
func (s *Store) ListTranscripts(ctx context.Context, room string) ([]Transcript, error) {
	var models []TranscriptModel
	err := s.db.WithContext(ctx).
		Preload("Scores").
		Where("room = ?", room).
		Order("created_at desc").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}

	out := make([]Transcript, 0, len(models))
	for _, m := range models {
		out = append(out, toTranscript(m))
	}
	return out, nil
}

func toTranscript(m TranscriptModel) Transcript {
	t := Transcript{
		ID:          m.ID,
		Room:        m.Room,
		Participant: m.Participant,
		Rounds:      m.Rounds,
		TotalScore:  m.TotalScore,
		CreatedAt:   m.CreatedAt,
	}
	for _, e := range m.Entries {
		t.Story = append(t.Story, session.StoryEntry{Author: e.Author, Text: e.Text, Score: e.Score})
	}

	scores := make(map[string]int, len(m.Scores))
	for _, sc := range m.Scores {
		scores[sc.Player] = sc.Score
	}
	t.Ranking = session.State{Completed: true, Scores: scores}.Ranking()
	return t
}
