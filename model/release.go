package model

import "time"

// ReleaseTrack 是 release 内嵌的曲目摘要
type ReleaseTrack struct {
	Name       string `json:"name"`
	MixName    string `json:"mix_name,omitempty"`
	ExternalID int64  `json:"external_id"`
	Resource   string `json:"resource,omitempty"`
	Order      int    `json:"order"`
	Available  bool   `json:"available"`
}

// Release is the partial local mirror of a catalog release.
// Tracks only grows through atomic appends; Version guards whole-row saves.
type Release struct {
	ID              int64                  `json:"id" gorm:"primaryKey;autoIncrement"`
	ExternalID      int64                  `json:"external_id" gorm:"uniqueIndex;not null"`
	Name            string                 `json:"name" gorm:"size:255"`
	Kind            string                 `json:"kind" gorm:"size:32"`
	ReleaseDate     string                 `json:"release_date" gorm:"size:32"`
	UPC             string                 `json:"upc" gorm:"column:upc;size:32"`
	Picture         string                 `json:"picture" gorm:"size:512"`
	UserDeclaration string                 `json:"user_declaration" gorm:"size:512"`
	ReleaseVersion  int                    `json:"release_version"`
	IsNewRelease    bool                   `json:"is_new_release"`
	Artists         JSONList[ArtistRef]    `json:"artists"`
	Tracks          JSONList[ReleaseTrack] `json:"tracks"`
	Version         int64                  `json:"version" gorm:"not null;default:1"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

func (Release) TableName() string { return "releases" }

// HasTrack reports whether the summary list already holds externalID.
func (r *Release) HasTrack(externalID int64) bool {
	for _, t := range r.Tracks {
		if t.ExternalID == externalID {
			return true
		}
	}
	return false
}

// UpsertTrack replaces the summary with the same external id or appends it.
func (r *Release) UpsertTrack(s ReleaseTrack) {
	for i, t := range r.Tracks {
		if t.ExternalID == s.ExternalID {
			r.Tracks[i] = s
			return
		}
	}
	r.Tracks = append(r.Tracks, s)
}
