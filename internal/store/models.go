package store

import "time"

// TranscriptModel is one finished session as seen by one participant.
type TranscriptModel struct {
	ID          string `gorm:"primaryKey"`
	Room        string `gorm:"not null;index:idx_transcripts_room"`
	Participant string `gorm:"not null;default:''"`
	Rounds      int    `gorm:"not null;default:0"`
	TotalScore  int    `gorm:"not null;default:0"`
	CreatedAt   time.Time
	Entries     []TranscriptEntryModel `gorm:"foreignKey:TranscriptID;constraint:OnDelete:CASCADE"`
	Scores      []FinalScoreModel      `gorm:"foreignKey:TranscriptID;constraint:OnDelete:CASCADE"`
}

func (TranscriptModel) TableName() string { return "transcripts" }

// TranscriptEntryModel is one story line, kept in arrival order.
type TranscriptEntryModel struct {
	ID           uint   `gorm:"primaryKey"`
	TranscriptID string `gorm:"not null;index:idx_entries_transcript"`
	Position     int    `gorm:"not null"`
	Author       string `gorm:"not null"`
	Text         string `gorm:"not null;default:''"`
	Score        int    `gorm:"not null;default:0"`
}

func (TranscriptEntryModel) TableName() string { return "transcript_entries" }

type FinalScoreModel struct {
	TranscriptID string `gorm:"primaryKey"`
	Player       string `gorm:"primaryKey"`
	Score        int    `gorm:"not null"`
}

func (FinalScoreModel) TableName() string { return "final_scores" }
