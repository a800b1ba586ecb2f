// Package places wraps the Google Places v1 API for the pickup and dropoff
// pickers: text autocomplete plus place-id resolution to a coordinate.
// Unlike route errors, place lookups surface failures to the caller, since
// the picker shows an error state rather than a fallback.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codebylalit/skooty/internal/models"
)

const (
	defaultAutocompleteEndpoint = "https://places.googleapis.com/v1/places:autocomplete"
	defaultDetailsEndpoint      = "https://places.googleapis.com/v1/places/"

	detailsFieldMask = "id,displayName,formattedAddress,location"
)

// Suggestion is one autocomplete row.
type Suggestion struct {
	PlaceID   string `json:"placeId"`
	Primary   string `json:"primary"`
	Secondary string `json:"secondary,omitempty"`
}

// Place is a resolved location.
type Place struct {
	PlaceID  string            `json:"placeId"`
	Name     string            `json:"name"`
	Address  string            `json:"address"`
	Location models.Coordinate `json:"location"`
}

// Client is what the location-picker handlers depend on.
type Client interface {
	Autocomplete(ctx context.Context, query string, near *models.Coordinate) ([]Suggestion, error)
	Resolve(ctx context.Context, placeID string) (Place, error)
}

// GoogleClient talks to the Places v1 endpoints.
type GoogleClient struct {
	AutocompleteEndpoint string
	DetailsEndpoint      string
	APIKey               string
	HTTP                 *http.Client
	Logger               *slog.Logger
}

func NewGoogleClient(apiKey string, logger *slog.Logger) *GoogleClient {
	return &GoogleClient{
		AutocompleteEndpoint: defaultAutocompleteEndpoint,
		DetailsEndpoint:      defaultDetailsEndpoint,
		APIKey:               apiKey,
		HTTP:                 &http.Client{Timeout: 10 * time.Second},
		Logger:               logger,
	}
}

type autocompleteRequest struct {
	Input        string        `json:"input"`
	LocationBias *locationBias `json:"locationBias,omitempty"`
}

type locationBias struct {
	Circle struct {
		Center models.Coordinate `json:"center"`
		Radius float64           `json:"radius"`
	} `json:"circle"`
}

type autocompleteResponse struct {
	Suggestions []struct {
		PlacePrediction struct {
			PlaceID              string `json:"placeId"`
			StructuredFormat struct {
				MainText struct {
					Text string `json:"text"`
				} `json:"mainText"`
				SecondaryText struct {
					Text string `json:"text"`
				} `json:"secondaryText"`
			} `json:"structuredFormat"`
		} `json:"placePrediction"`
	} `json:"suggestions"`
}

func (c *GoogleClient) Autocomplete(ctx context.Context, query string, near *models.Coordinate) ([]Suggestion, error) {
	if query == "" {
		return nil, nil
	}
	in := autocompleteRequest{Input: query}
	if near != nil && near.Valid() {
		var bias locationBias
		bias.Circle.Center = *near
		bias.Circle.Radius = 30000
		in.LocationBias = &bias
	}
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal autocomplete request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.AutocompleteEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("places autocomplete: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("places autocomplete: status %d", resp.StatusCode)
	}
	var out autocompleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode autocomplete response: %w", err)
	}

	suggestions := make([]Suggestion, 0, len(out.Suggestions))
	for _, s := range out.Suggestions {
		p := s.PlacePrediction
		if p.PlaceID == "" {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			PlaceID:   p.PlaceID,
			Primary:   p.StructuredFormat.MainText.Text,
			Secondary: p.StructuredFormat.SecondaryText.Text,
		})
	}
	return suggestions, nil
}

type detailsResponse struct {
	ID          string `json:"id"`
	DisplayName struct {
		Text string `json:"text"`
	} `json:"displayName"`
	FormattedAddress string            `json:"formattedAddress"`
	Location         models.Coordinate `json:"location"`
}

func (c *GoogleClient) Resolve(ctx context.Context, placeID string) (Place, error) {
	if placeID == "" {
		return Place{}, fmt.Errorf("empty place id")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DetailsEndpoint+placeID, nil)
	if err != nil {
		return Place{}, err
	}
	req.Header.Set("X-Goog-Api-Key", c.APIKey)
	req.Header.Set("X-Goog-FieldMask", detailsFieldMask)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("places details: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Place{}, fmt.Errorf("places details: status %d", resp.StatusCode)
	}
	var out detailsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Place{}, fmt.Errorf("decode details response: %w", err)
	}
	if !out.Location.Valid() {
		return Place{}, fmt.Errorf("place %s has no coordinate", placeID)
	}
	return Place{
		PlaceID:  out.ID,
		Name:     out.DisplayName.Text,
		Address:  out.FormattedAddress,
		Location: out.Location,
	}, nil
}
