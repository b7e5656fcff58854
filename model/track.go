package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultLanguage = "ES"
	DefaultVocals   = "ZXX" // no linguistic content
)

// ArtistRef is one entry of a track's or release's ordered artist list.
type ArtistRef struct {
	Artist FlexInt `json:"artist"`
	Name   string  `json:"name,omitempty"` // display only, never sent to the catalog
	Kind   string  `json:"kind"`
	Order  int     `json:"order"`
}

type ContributorRef struct {
	Contributor FlexInt `json:"contributor"`
	Name        string  `json:"name,omitempty"`
	Role        FlexInt `json:"role"`
	RoleName    string  `json:"role_name,omitempty"`
	Order       int     `json:"order"`
}

type PublisherRef struct {
	Publisher FlexInt `json:"publisher"`
	Name      string  `json:"name,omitempty"`
	Author    string  `json:"author"`
	Order     int     `json:"order"`
}

// TrackData is the metadata payload the panel submits in the multipart
// `data` field. Staged records keep it verbatim until commit.
type TrackData struct {
	Name                string           `json:"name"`
	MixName             string           `json:"mix_name,omitempty"`
	Release             FlexInt          `json:"release,omitempty"`
	Order               FlexInt          `json:"order,omitempty"`
	ISRC                string           `json:"ISRC,omitempty"`
	DAISRC              string           `json:"DA_ISRC,omitempty"`
	Genre               FlexInt          `json:"genre,omitempty"`
	GenreName           string           `json:"genre_name,omitempty"`
	Subgenre            FlexInt          `json:"subgenre,omitempty"`
	SubgenreName        string           `json:"subgenre_name,omitempty"`
	Language            string           `json:"language,omitempty"`
	Vocals              string           `json:"vocals,omitempty"`
	ExplicitContent     bool             `json:"explicit_content"`
	AlbumOnly           bool             `json:"album_only"`
	CopyrightHolder     string           `json:"copyright_holder,omitempty"`
	CopyrightHolderYear FlexInt          `json:"copyright_holder_year,omitempty"`
	Artists             []ArtistRef      `json:"artists"`
	Contributors        []ContributorRef `json:"contributors"`
	Publishers          []PublisherRef   `json:"publishers"`
	// Set once the catalog has accepted the binary / registered the track.
	Resource   string  `json:"resource,omitempty"`
	ExternalID FlexInt `json:"external_id,omitempty"`
}

// ErrTrackNameRequired is returned by Validate for a blank title.
var ErrTrackNameRequired = errors.New("track name is required")

// ParseTrackData decodes the multipart `data` field.
func ParseTrackData(raw string) (*TrackData, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("empty track data")
	}
	var d TrackData
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("decode track data: %w", err)
	}
	return &d, nil
}

func (d *TrackData) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrTrackNameRequired
	}
	return nil
}

// ApplyDefaults fills language, vocals and copyright year when absent.
func (d *TrackData) ApplyDefaults(now time.Time) {
	if d.Language == "" {
		d.Language = DefaultLanguage
	}
	if d.Vocals == "" {
		d.Vocals = DefaultVocals
	}
	if d.CopyrightHolderYear == 0 {
		d.CopyrightHolderYear = FlexInt(now.Year())
	}
}

// Scan 实现 sql.Scanner 接口
func (d *TrackData) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*d = TrackData{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported track data column type %T", value)
	}
	return json.Unmarshal(raw, d)
}

// Value 实现 driver.Valuer 接口
func (d TrackData) Value() (driver.Value, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (TrackData) GormDataType() string { return "json" }

// Track is the permanent local mirror of a track registered in the catalog.
type Track struct {
	ID                  int64                    `json:"id" gorm:"primaryKey;autoIncrement"`
	ExternalID          int64                    `json:"external_id" gorm:"uniqueIndex;not null"`
	ReleaseExternalID   int64                    `json:"release" gorm:"not null;uniqueIndex:idx_release_track_name,priority:1"`
	Name                string                   `json:"name" gorm:"size:255;not null;uniqueIndex:idx_release_track_name,priority:2"`
	MixName             string                   `json:"mix_name" gorm:"size:255"`
	ISRC                string                   `json:"ISRC" gorm:"column:isrc;size:32"`
	DAISRC              string                   `json:"DA_ISRC" gorm:"column:da_isrc;size:32"`
	GenreID             int64                    `json:"genre"`
	GenreName           string                   `json:"genre_name" gorm:"size:128"`
	SubgenreID          int64                    `json:"subgenre"`
	SubgenreName        string                   `json:"subgenre_name" gorm:"size:128"`
	Language            string                   `json:"language" gorm:"size:8"`
	Vocals              string                   `json:"vocals" gorm:"size:8"`
	ExplicitContent     bool                     `json:"explicit_content"`
	AlbumOnly           bool                     `json:"album_only"`
	CopyrightHolder     string                   `json:"copyright_holder" gorm:"size:255"`
	CopyrightHolderYear int                      `json:"copyright_holder_year"`
	Order               int                      `json:"order" gorm:"column:track_order"`
	Resource            string                   `json:"resource" gorm:"size:512"`
	Artists             JSONList[ArtistRef]      `json:"artists"`
	Contributors        JSONList[ContributorRef] `json:"contributors"`
	Publishers          JSONList[PublisherRef]   `json:"publishers"`
	CreatedBy           string                   `json:"created_by" gorm:"size:64"`
	CreatedAt           time.Time                `json:"createdAt"`
	UpdatedAt           time.Time                `json:"updatedAt"`
}

func (Track) TableName() string { return "tracks" }

// NewTrack builds the permanent record from a registered payload.
func NewTrack(d *TrackData, releaseID int64, createdBy string) *Track {
	return &Track{
		ExternalID:          d.ExternalID.Int64(),
		ReleaseExternalID:   releaseID,
		Name:                strings.TrimSpace(d.Name),
		MixName:             d.MixName,
		ISRC:                d.ISRC,
		DAISRC:              d.DAISRC,
		GenreID:             d.Genre.Int64(),
		GenreName:           d.GenreName,
		SubgenreID:          d.Subgenre.Int64(),
		SubgenreName:        d.SubgenreName,
		Language:            d.Language,
		Vocals:              d.Vocals,
		ExplicitContent:     d.ExplicitContent,
		AlbumOnly:           d.AlbumOnly,
		CopyrightHolder:     d.CopyrightHolder,
		CopyrightHolderYear: int(d.CopyrightHolderYear),
		Order:               int(d.Order),
		Resource:            d.Resource,
		Artists:             JSONList[ArtistRef](d.Artists),
		Contributors:        JSONList[ContributorRef](d.Contributors),
		Publishers:          JSONList[PublisherRef](d.Publishers),
		CreatedBy:           createdBy,
	}
}

// Summary is the entry appended to the owning release's track list.
func (t *Track) Summary() ReleaseTrack {
	return ReleaseTrack{
		Name:       t.Name,
		MixName:    t.MixName,
		ExternalID: t.ExternalID,
		Resource:   t.Resource,
		Order:      t.Order,
		Available:  true,
	}
}
