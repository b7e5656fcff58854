package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"labelpanel/core/apperr"
	"labelpanel/model"
)

// SnapshotTrack is one entry of a release as the catalog reports it.
type SnapshotTrack struct {
	Title      string        `json:"title"`
	Name       string        `json:"name"`
	MixName    string        `json:"mix_name"`
	ExternalID model.FlexInt `json:"external_id"`
	ID         model.FlexInt `json:"id"`
	Order      model.FlexInt `json:"order"`
	Resource   string        `json:"resource"`
	Available  *bool         `json:"available"`
}

// DisplayTitle prefers title over name.
func (t SnapshotTrack) DisplayTitle() string {
	if t.Title != "" {
		return t.Title
	}
	return t.Name
}

// TrackID prefers external_id over id.
func (t SnapshotTrack) TrackID() int64 {
	if t.ExternalID != 0 {
		return t.ExternalID.Int64()
	}
	return t.ID.Int64()
}

// ReleaseSnapshot is the current state of a release in the catalog.
type ReleaseSnapshot struct {
	ExternalID      model.FlexInt     `json:"external_id"`
	ID              model.FlexInt     `json:"id"`
	Name            string            `json:"name"`
	Kind            string            `json:"kind"`
	ReleaseDate     string            `json:"release_date"`
	UPC             string            `json:"upc"`
	Picture         string            `json:"picture"`
	UserDeclaration string            `json:"user_declaration"`
	ReleaseVersion  model.FlexInt     `json:"release_version"`
	IsNewRelease    bool              `json:"is_new_release"`
	Artists         []model.ArtistRef `json:"artists"`
	Tracks          []SnapshotTrack   `json:"tracks"`
}

// ReleaseID prefers external_id over id.
func (s *ReleaseSnapshot) ReleaseID() int64 {
	if s.ExternalID != 0 {
		return s.ExternalID.Int64()
	}
	return s.ID.Int64()
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// HasTitle compares trimmed, case-insensitive titles.
func (s *ReleaseSnapshot) HasTitle(name string) bool {
	want := normalizeTitle(name)
	for _, t := range s.Tracks {
		if normalizeTitle(t.DisplayTitle()) == want {
			return true
		}
	}
	return false
}

// NextOrder is the position a newly appended track takes.
func (s *ReleaseSnapshot) NextOrder() int {
	return len(s.Tracks) + 1
}

// ToModel converts the snapshot into a local mirror row (without id/version).
func (s *ReleaseSnapshot) ToModel() *model.Release {
	r := &model.Release{
		ExternalID:      s.ReleaseID(),
		Name:            s.Name,
		Kind:            s.Kind,
		ReleaseDate:     s.ReleaseDate,
		UPC:             s.UPC,
		Picture:         NormalizeResourcePath(s.Picture),
		UserDeclaration: NormalizeResourcePath(s.UserDeclaration),
		ReleaseVersion:  int(s.ReleaseVersion),
		IsNewRelease:    s.IsNewRelease,
		Artists:         model.JSONList[model.ArtistRef](s.Artists),
	}
	for _, t := range s.Tracks {
		available := true
		if t.Available != nil {
			available = *t.Available
		}
		r.Tracks = append(r.Tracks, model.ReleaseTrack{
			Name:       t.DisplayTitle(),
			MixName:    t.MixName,
			ExternalID: t.TrackID(),
			Resource:   NormalizeResourcePath(t.Resource),
			Order:      int(t.Order),
			Available:  available,
		})
	}
	return r
}

type releaseEnvelope struct {
	Data *ReleaseSnapshot `json:"data"`
}

// GetRelease fetches the live state of a release.
func (c *Client) GetRelease(ctx context.Context, releaseID int64) (*ReleaseSnapshot, error) {
	var raw json.RawMessage
	if err := c.do(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/releases/%d/", releaseID)}, &raw); err != nil {
		return nil, err
	}

	// the API answers either {data: {...}} or the bare object
	var env releaseEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Data != nil {
		return env.Data, nil
	}
	var snap ReleaseSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, apperr.ExternalAPI(http.StatusOK, string(raw), errors.New("unexpected release payload"))
	}
	return &snap, nil
}

// ReleaseUpdate is the body of PUT /releases/{id}/. Only set fields are sent.
type ReleaseUpdate map[string]interface{}

// UpdateRelease submits the merged release.
func (c *Client) UpdateRelease(ctx context.Context, releaseID int64, body ReleaseUpdate) error {
	return c.do(ctx, request{method: http.MethodPut, path: fmt.Sprintf("/releases/%d/", releaseID), body: body}, nil)
}

// ReleaseTrackPayload is one entry of the tracks list sent with UpdateRelease.
type ReleaseTrackPayload struct {
	Track int64 `json:"track"`
	Order int   `json:"order"`
}
