package riven

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	gourl "net/url"
	"strconv"
	"time"

	"github.com/revivarr/revivarr/internal/config"
	"github.com/revivarr/revivarr/internal/logger"
	"github.com/revivarr/revivarr/internal/request"
	"github.com/revivarr/revivarr/internal/utils"
	"github.com/rs/zerolog"
)

// Client talks to the Library's v1 API. Authentication rides along as
// the api_key query parameter on every call.
type Client struct {
	baseURL string
	apiKey  string
	client  *request.Client
	logger  zerolog.Logger
}

func New(cfg *config.Config) *Client {
	_log := logger.New("riven")
	return &Client{
		baseURL: cfg.RivenURL + "/api/v1",
		apiKey:  cfg.RivenAPIKey,
		client: request.New(
			request.WithRateLimiter(request.SpacingLimiter(cfg.RivenRateLimit)),
			request.WithLogger(_log),
			request.WithTimeout(30*time.Second),
		),
		logger: _log,
	}
}

func (c *Client) request(ctx context.Context, method, endpoint string, params gourl.Values, payload any) ([]byte, int, error) {
	url, err := request.JoinURL(c.baseURL, endpoint)
	if err != nil {
		return nil, 0, err
	}
	if params == nil {
		params = gourl.Values{}
	}
	params.Set("api_key", c.apiKey)
	url += "?" + params.Encode()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, resp.StatusCode, fmt.Errorf("riven API error: Status: %d || Body: %s", resp.StatusCode, string(data))
	}
	return data, resp.StatusCode, nil
}

// HealthCheck reports whether the Library is up and answering.
func (c *Client) HealthCheck(ctx context.Context) bool {
	resp, _, err := c.request(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		c.logger.Error().Err(err).Msg("Riven health check failed")
		return false
	}
	var data struct {
		Message string `json:"message"`
	}
	if err = json.Unmarshal(resp, &data); err != nil {
		return false
	}
	return data.Message == "True"
}

// GetProblemItems lists items currently in one of the given states. When
// the server rejects the states filter the listing is retried unfiltered
// and narrowed locally, so the result only ever contains requested
// states.
func (c *Client) GetProblemItems(ctx context.Context, states []string, limit int) ([]MediaItem, error) {
	params := gourl.Values{}
	params.Set("limit", strconv.Itoa(limit))
	for _, s := range states {
		params.Add("states", s)
	}
	resp, _, err := c.request(ctx, http.MethodGet, "/items", params, nil)
	if err == nil {
		var data itemsResponse
		if err = json.Unmarshal(resp, &data); err == nil {
			return data.Items, nil
		}
	}
	c.logger.Warn().Err(err).Msg("State-filtered listing failed, retrying unfiltered")

	params = gourl.Values{}
	params.Set("limit", strconv.Itoa(limit))
	resp, _, err = c.request(ctx, http.MethodGet, "/items", params, nil)
	if err != nil {
		return nil, err
	}
	var data itemsResponse
	if err = json.Unmarshal(resp, &data); err != nil {
		return nil, err
	}
	filtered := make([]MediaItem, 0, len(data.Items))
	for _, item := range data.Items {
		if utils.Contains(states, item.State) {
			filtered = append(filtered, item)
		}
	}
	c.logger.Info().
		Int("total", len(data.Items)).
		Int("matched", len(filtered)).
		Msg("Filtered items locally")
	return filtered, nil
}

// GetItemStreams lists the streams the Library already knows for an item.
func (c *Client) GetItemStreams(ctx context.Context, itemID string) ([]Stream, error) {
	endpoint := fmt.Sprintf("/items/%s/streams", gourl.PathEscape(itemID))
	resp, _, err := c.request(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	var data streamsResponse
	if err = json.Unmarshal(resp, &data); err != nil {
		return nil, err
	}
	return data.Streams, nil
}

// ScrapeItem triggers a fresh source lookup by external IDs. The
// internal type "show" maps to the service's "tv".
func (c *Client) ScrapeItem(ctx context.Context, tmdbID, tvdbID, imdbID, mediaType string) (map[string]Stream, error) {
	apiType := "movie"
	if mediaType == "show" || mediaType == "tv" {
		apiType = "tv"
	}
	params := gourl.Values{}
	params.Set("media_type", apiType)
	if tmdbID != "" {
		params.Set("tmdb_id", tmdbID)
	}
	if tvdbID != "" {
		params.Set("tvdb_id", tvdbID)
	}
	if imdbID != "" {
		params.Set("imdb_id", imdbID)
	}
	resp, _, err := c.request(ctx, http.MethodPost, "/scrape/scrape", params, nil)
	if err != nil {
		return nil, err
	}
	var data scrapeResponse
	if err = json.Unmarshal(resp, &data); err != nil {
		return nil, err
	}
	return data.Streams, nil
}

// RetryItem asks the Library to rescan an item immediately.
func (c *Client) RetryItem(ctx context.Context, itemID string) bool {
	if _, _, err := c.request(ctx, http.MethodPost, "/items/retry", nil, idsPayload{IDs: []string{itemID}}); err != nil {
		c.logger.Error().Err(err).Str("item", itemID).Msg("Failed to retry item")
		return false
	}
	c.logger.Info().Str("item", itemID).Msg("Retried item")
	return true
}

// ResetItem returns an item to its initial state for a fresh pass.
func (c *Client) ResetItem(ctx context.Context, itemID string) bool {
	if _, _, err := c.request(ctx, http.MethodPost, "/items/reset", nil, idsPayload{IDs: []string{itemID}}); err != nil {
		c.logger.Error().Err(err).Str("item", itemID).Msg("Failed to reset item")
		return false
	}
	c.logger.Info().Str("item", itemID).Msg("Reset item")
	return true
}

// RemoveItem deletes an item. A 400 means the ID form was wrong (pseudo
// IDs must never reach this call); it is reported but never retried.
func (c *Client) RemoveItem(ctx context.Context, itemID string) bool {
	_, status, err := c.request(ctx, http.MethodDelete, "/items/remove", nil, idsPayload{IDs: []string{itemID}})
	if err != nil {
		if status == http.StatusBadRequest {
			c.logger.Error().Str("item", itemID).Msg("Failed to remove item: invalid item id (400)")
		} else {
			c.logger.Error().Err(err).Str("item", itemID).Msg("Failed to remove item")
		}
		return false
	}
	c.logger.Info().Str("item", itemID).Msg("Removed item")
	return true
}

// AddItem requests the Library to (re-)add a title by external IDs.
func (c *Client) AddItem(ctx context.Context, tmdbID, tvdbID, mediaType string) bool {
	apiType := mediaType
	if apiType == "show" {
		apiType = "tv"
	}
	payload := addPayload{MediaType: apiType}
	if tmdbID != "" {
		payload.TmdbIDs = []string{tmdbID}
	}
	if tvdbID != "" {
		payload.TvdbIDs = []string{tvdbID}
	}
	if _, _, err := c.request(ctx, http.MethodPost, "/items/add", nil, payload); err != nil {
		c.logger.Error().Err(err).Str("tmdb", tmdbID).Str("tvdb", tvdbID).Msg("Failed to add item")
		return false
	}
	c.logger.Info().Str("tmdb", tmdbID).Str("tvdb", tvdbID).Msg("Added item")
	return true
}

// GetItemByIDs resolves external IDs to a problem-state Library item,
// nil when nothing matches.
func (c *Client) GetItemByIDs(ctx context.Context, tmdbID, tvdbID string) *MediaItem {
	items, err := c.GetProblemItems(ctx, []string{"Failed", "Unknown"}, 100)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to resolve item by external ids")
		return nil
	}
	for i := range items {
		item := &items[i]
		if tmdbID != "" && string(item.TmdbID) == tmdbID {
			return item
		}
		if tvdbID != "" && string(item.TvdbID) == tvdbID {
			return item
		}
	}
	return nil
}
