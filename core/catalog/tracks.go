package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"labelpanel/model"
)

type ArtistPayload struct {
	Order  int    `json:"order"`
	Artist int64  `json:"artist"`
	Kind   string `json:"kind"`
}

type PublisherPayload struct {
	Order     int    `json:"order"`
	Publisher int64  `json:"publisher"`
	Author    string `json:"author"`
}

type ContributorPayload struct {
	Order       int   `json:"order"`
	Contributor int64 `json:"contributor"`
	Role        int64 `json:"role"`
}

// TrackPayload is the body of POST /tracks/ and PUT /tracks/{id}/.
type TrackPayload struct {
	Name                string               `json:"name"`
	MixName             string               `json:"mix_name,omitempty"`
	Release             int64                `json:"release"`
	Order               int                  `json:"order"`
	Resource            string               `json:"resource,omitempty"`
	ISRC                string               `json:"ISRC,omitempty"`
	DAISRC              string               `json:"DA_ISRC,omitempty"`
	GenerateISRC        bool                 `json:"generate_isrc"`
	Genre               int64                `json:"genre,omitempty"`
	Subgenre            int64                `json:"subgenre,omitempty"`
	Language            string               `json:"language,omitempty"`
	Vocals              string               `json:"vocals,omitempty"`
	ExplicitContent     bool                 `json:"explicit_content"`
	AlbumOnly           bool                 `json:"album_only"`
	CopyrightHolder     string               `json:"copyright_holder,omitempty"`
	CopyrightHolderYear int                  `json:"copyright_holder_year,omitempty"`
	Artists             []ArtistPayload      `json:"artists"`
	Publishers          []PublisherPayload   `json:"publishers"`
	Contributors        []ContributorPayload `json:"contributors"`
}

// BuildTrackPayload maps panel track data onto the catalog schema: display
// names are dropped, ids are numeric, and an ISRC is requested when none was
// supplied.
func BuildTrackPayload(d *model.TrackData, releaseID int64, order int, resource string) *TrackPayload {
	p := &TrackPayload{
		Name:                strings.TrimSpace(d.Name),
		MixName:             d.MixName,
		Release:             releaseID,
		Order:               order,
		Resource:            resource,
		ISRC:                strings.TrimSpace(d.ISRC),
		DAISRC:              strings.TrimSpace(d.DAISRC),
		Genre:               d.Genre.Int64(),
		Subgenre:            d.Subgenre.Int64(),
		Language:            d.Language,
		Vocals:              d.Vocals,
		ExplicitContent:     d.ExplicitContent,
		AlbumOnly:           d.AlbumOnly,
		CopyrightHolder:     d.CopyrightHolder,
		CopyrightHolderYear: int(d.CopyrightHolderYear),
		Artists:             make([]ArtistPayload, 0, len(d.Artists)),
		Publishers:          make([]PublisherPayload, 0, len(d.Publishers)),
		Contributors:        make([]ContributorPayload, 0, len(d.Contributors)),
	}
	p.GenerateISRC = p.ISRC == ""

	for _, a := range d.Artists {
		p.Artists = append(p.Artists, ArtistPayload{Order: a.Order, Artist: a.Artist.Int64(), Kind: a.Kind})
	}
	for _, pub := range d.Publishers {
		p.Publishers = append(p.Publishers, PublisherPayload{Order: pub.Order, Publisher: pub.Publisher.Int64(), Author: pub.Author})
	}
	for _, c := range d.Contributors {
		p.Contributors = append(p.Contributors, ContributorPayload{Order: c.Order, Contributor: c.Contributor.Int64(), Role: c.Role.Int64()})
	}
	return p
}

// Registration is the catalog's answer to a track create/update.
type Registration struct {
	ID     int64
	ISRC   string
	DAISRC string
}

type registrationResponse struct {
	ID     model.FlexInt `json:"id"`
	ISRC   string        `json:"ISRC"`
	DAISRC string        `json:"DA_ISRC"`
}

func (r registrationResponse) registration() *Registration {
	return &Registration{ID: r.ID.Int64(), ISRC: r.ISRC, DAISRC: r.DAISRC}
}

// RegisterTrack creates the track. idempotencyKey lets a retried commit reuse
// a registration the catalog already performed.
func (c *Client) RegisterTrack(ctx context.Context, p *TrackPayload, idempotencyKey string) (*Registration, error) {
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": idempotencyKey}
	}
	var resp registrationResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: "/tracks/", body: p, headers: headers}, &resp); err != nil {
		return nil, err
	}
	if resp.ID == 0 {
		return nil, externalMissingID("track", p.Name)
	}
	return resp.registration(), nil
}

// UpdateTrack replaces an existing catalog track.
func (c *Client) UpdateTrack(ctx context.Context, externalID int64, p *TrackPayload) (*Registration, error) {
	var resp registrationResponse
	path := fmt.Sprintf("/tracks/%d/", externalID)
	if err := c.do(ctx, request{method: http.MethodPut, path: path, body: p}, &resp); err != nil {
		return nil, err
	}
	if resp.ID == 0 {
		resp.ID = model.FlexInt(externalID)
	}
	return resp.registration(), nil
}
