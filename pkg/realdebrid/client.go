package realdebrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	gourl "net/url"
	"strings"
	"time"

	"github.com/revivarr/revivarr/internal/config"
	"github.com/revivarr/revivarr/internal/logger"
	"github.com/revivarr/revivarr/internal/request"
	"github.com/rs/zerolog"
)

// Client talks to the Real-Debrid REST API. All calls go through a
// shared min-spacing rate limiter, so concurrent loops serialise their
// requests instead of bursting.
type Client struct {
	Host   string
	client *request.Client
	logger zerolog.Logger
}

func New(cfg *config.Config) *Client {
	headers := map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", cfg.RDAPIKey),
	}
	_log := logger.New("realdebrid")
	return &Client{
		Host: "https://api.real-debrid.com/rest/1.0",
		client: request.New(
			request.WithHeaders(headers),
			request.WithRateLimiter(request.SpacingLimiter(cfg.RDRateLimit)),
			request.WithLogger(_log),
			request.WithMaxRetries(3),
			request.WithRetryableStatus(429),
			request.WithTimeout(30*time.Second),
		),
		logger: _log,
	}
}

// ValidateToken fetches the account profile, proving the API key works.
func (c *Client) ValidateToken(ctx context.Context) (*Profile, error) {
	url := fmt.Sprintf("%s/user", c.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.MakeRequest(req)
	if err != nil {
		return nil, err
	}
	var profile Profile
	if err = json.Unmarshal(resp, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ActiveCount reports the service-side running torrent count and limit.
func (c *Client) ActiveCount(ctx context.Context) (*ActiveCount, error) {
	url := fmt.Sprintf("%s/torrents/activeCount", c.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.MakeRequest(req)
	if err != nil {
		return nil, err
	}
	var count ActiveCount
	if err = json.Unmarshal(resp, &count); err != nil {
		return nil, err
	}
	return &count, nil
}

// AddMagnet submits a magnet URI and returns the new torrent id.
// Infringing content and the service's active-download cap map to typed
// errors the caller can branch on.
func (c *Client) AddMagnet(ctx context.Context, magnet string) (string, error) {
	url := fmt.Sprintf("%s/torrents/addMagnet", c.Host)
	payload := gourl.Values{
		"magnet": {magnet},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(payload.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if resp.StatusCode == 509 {
			return "", TooManyActiveDownloadsError
		}
		var data errorResponse
		if jsonErr := json.Unmarshal(body, &data); jsonErr == nil && data.ErrorCode == 35 {
			return "", InfringingFileError
		}
		return "", fmt.Errorf("realdebrid API error: Status: %d || Body: %s", resp.StatusCode, string(body))
	}
	var data addMagnetResponse
	if err = json.Unmarshal(body, &data); err != nil {
		return "", err
	}
	return data.ID, nil
}

// GetTorrentInfo fetches a single torrent. A 404 returns
// TorrentNotFoundError so callers can retire stale trackers.
func (c *Client) GetTorrentInfo(ctx context.Context, torrentID string) (*Torrent, error) {
	url := fmt.Sprintf("%s/torrents/info/%s", c.Host, torrentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return nil, TorrentNotFoundError
		}
		return nil, fmt.Errorf("realdebrid API error: Status: %d || Body: %s", resp.StatusCode, string(body))
	}
	var t Torrent
	if err = json.Unmarshal(body, &t); err != nil {
		return nil, err
	}
	t.Hash = strings.ToLower(t.Hash)
	return &t, nil
}

// SelectFiles picks which files of a torrent to fetch; the engine always
// passes "all".
func (c *Client) SelectFiles(ctx context.Context, torrentID, files string) error {
	url := fmt.Sprintf("%s/torrents/selectFiles/%s", c.Host, torrentID)
	payload := gourl.Values{
		"files": {files},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(payload.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == 509 {
			return TooManyActiveDownloadsError
		}
		return fmt.Errorf("realdebrid API error: Status: %d", resp.StatusCode)
	}
	return nil
}

// DeleteTorrent removes a torrent; an already-gone torrent is success.
func (c *Client) DeleteTorrent(ctx context.Context, torrentID string) error {
	url := fmt.Sprintf("%s/torrents/delete/%s", c.Host, torrentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("realdebrid API error: Status: %d", resp.StatusCode)
	}
	c.logger.Debug().Str("torrent", torrentID).Msg("Torrent deleted from RD")
	return nil
}

// GetTorrents lists the first page of the account's torrents, newest
// first as the service orders them.
func (c *Client) GetTorrents(ctx context.Context, limit int) ([]*Torrent, error) {
	url := fmt.Sprintf("%s/torrents?limit=%d", c.Host, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("realdebrid API error: Status: %d || Body: %s", resp.StatusCode, string(body))
	}
	var torrents []*Torrent
	if err = json.Unmarshal(body, &torrents); err != nil {
		return nil, err
	}
	for _, t := range torrents {
		t.Hash = strings.ToLower(t.Hash)
	}
	return torrents, nil
}
