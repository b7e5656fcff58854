package catalog

import (
	"context"
	"net/http"
	"strings"

	"labelpanel/model"
)

// NewArtist is an artist created on the fly while editing a release.
type NewArtist struct {
	Name              string `json:"name"`
	Kind              string `json:"kind,omitempty"`
	Order             int    `json:"order,omitempty"`
	SpotifyIdentifier string `json:"spotify_identifier,omitempty"`
	AppleIdentifier   string `json:"apple_identifier,omitempty"`
	AmazonIdentifier  string `json:"amazon_identifier,omitempty"`
}

type artistBody struct {
	Name              string `json:"name"`
	SpotifyIdentifier string `json:"spotify_identifier,omitempty"`
	AppleIdentifier   string `json:"apple_identifier,omitempty"`
	AmazonIdentifier  string `json:"amazon_identifier,omitempty"`
}

type artistResponse struct {
	ID         model.FlexInt `json:"id"`
	ExternalID model.FlexInt `json:"external_id"`
}

// CreateArtist registers the artist and returns its catalog id.
func (c *Client) CreateArtist(ctx context.Context, a NewArtist) (int64, error) {
	body := artistBody{
		Name:              strings.TrimSpace(a.Name),
		SpotifyIdentifier: a.SpotifyIdentifier,
		AppleIdentifier:   a.AppleIdentifier,
		AmazonIdentifier:  a.AmazonIdentifier,
	}
	var resp artistResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: "/artists/", body: body}, &resp); err != nil {
		return 0, err
	}
	id := resp.ID.Int64()
	if id == 0 {
		id = resp.ExternalID.Int64()
	}
	if id == 0 {
		return 0, externalMissingID("artist", a.Name)
	}
	return id, nil
}
