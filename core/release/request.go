package release

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"labelpanel/core/catalog"
	"labelpanel/model"
)

// Keys of the `data` document handled by the merger itself. Everything else
// is passed through to the catalog untouched.
const (
	keyNewArtists   = "newArtists"
	keyNewTracks    = "newTracks"
	keyEditedTracks = "editedTracks"
	keyPicture      = "picture"
	keyArtists      = "artists"
	keyTracks       = "tracks"
)

// PictureField is the multipart part carrying new artwork.
const PictureField = "picture"

// NewTrack is a track created while editing a release. Its master arrives in
// the multipart part named by FileField.
type NewTrack struct {
	model.TrackData
	FileField  string              `json:"fileField"`
	NewArtists []catalog.NewArtist `json:"newArtists"`
}

// EditedTrack is an already registered track whose metadata changed.
type EditedTrack struct {
	model.TrackData
	ID         model.FlexInt       `json:"id"`
	NewArtists []catalog.NewArtist `json:"newArtists"`
}

// TrackID prefers external_id over id.
func (t *EditedTrack) TrackID() int64 {
	if t.ExternalID != 0 {
		return t.ExternalID.Int64()
	}
	return t.ID.Int64()
}

// UpdateRequest is the decoded `data` field of PUT /api/releases/{id}.
type UpdateRequest struct {
	Fields       map[string]interface{}
	Picture      string
	Artists      []model.ArtistRef
	NewArtists   []catalog.NewArtist
	NewTracks    []NewTrack
	EditedTracks []EditedTrack
}

// File is one uploaded part of the update, keyed by part name.
type File struct {
	Name   string
	Reader io.Reader
	Size   int64
}

// ParseUpdateRequest decodes the release document. Unknown keys are kept in
// Fields.
func ParseUpdateRequest(raw string) (*UpdateRequest, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("empty release data")
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode release data: %w", err)
	}

	req := &UpdateRequest{Fields: make(map[string]interface{})}
	decode := func(key string, v interface{}) error {
		b, ok := doc[key]
		if !ok || string(b) == "null" {
			return nil
		}
		if err := json.Unmarshal(b, v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	}
	if err := decode(keyNewArtists, &req.NewArtists); err != nil {
		return nil, err
	}
	if err := decode(keyNewTracks, &req.NewTracks); err != nil {
		return nil, err
	}
	if err := decode(keyEditedTracks, &req.EditedTracks); err != nil {
		return nil, err
	}
	if err := decode(keyArtists, &req.Artists); err != nil {
		return nil, err
	}
	// picture may be an object when the client echoes the file input back
	var picture interface{}
	if err := decode(keyPicture, &picture); err != nil {
		return nil, err
	}
	if s, ok := picture.(string); ok {
		req.Picture = s
	}

	for k, b := range doc {
		switch k {
		case keyNewArtists, keyNewTracks, keyEditedTracks, keyPicture, keyArtists, keyTracks:
			continue
		}
		var v interface{}
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		req.Fields[k] = v
	}
	return req, nil
}

// stringField returns Fields[key] when it is a string.
func (r *UpdateRequest) stringField(key string) (string, bool) {
	v, ok := r.Fields[key].(string)
	return v, ok
}
