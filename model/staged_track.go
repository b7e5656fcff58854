package model

import "time"

// StagedStatus tracks how far a staged track got through the commit saga.
type StagedStatus string

const (
	StagedStatusStaged     StagedStatus = "staged"
	StagedStatusUploaded   StagedStatus = "uploaded"   // binary accepted, Resource set
	StagedStatusRegistered StagedStatus = "registered" // catalog track created, ExternalID set
	StagedStatusFailed     StagedStatus = "failed"
)

// StagedTrack 暂存的曲目，等待 commit
type StagedTrack struct {
	ID             int64        `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID      string       `json:"sessionId" gorm:"size:128;not null;index"`
	TrackData      TrackData    `json:"trackData"`
	FileName       string       `json:"fileName" gorm:"size:255"`
	TempFilePath   string       `json:"-" gorm:"size:1024"`
	IdempotencyKey string       `json:"idempotencyKey" gorm:"size:36;not null"`
	Status         StagedStatus `json:"status" gorm:"size:16;not null;default:staged"`
	Resource       string       `json:"resource,omitempty" gorm:"size:512"`
	ExternalID     int64        `json:"externalId,omitempty"`
	ISRC           string       `json:"ISRC,omitempty" gorm:"column:isrc;size:32"`
	DAISRC         string       `json:"DA_ISRC,omitempty" gorm:"column:da_isrc;size:32"`
	LastError      string       `json:"lastError,omitempty" gorm:"type:text"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

func (StagedTrack) TableName() string { return "staged_tracks" }

// Registered reports whether a previous attempt already created the catalog track.
func (s *StagedTrack) Registered() bool {
	return s.ExternalID != 0
}
