package db

import "time"

// SongLinkModel maps a track id to the message link of its uploaded file.
type SongLinkModel struct {
	TrackID   string `gorm:"primaryKey;size:128"`
	Link      string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SongLinkModel) TableName() string {
	return "song_links"
}
