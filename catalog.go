// this file talks to the external media catalog
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// CatalogClient queries the media server that owns the song library. All
// failures collapse into ErrCatalogUnavailable; the queue and session are
// never touched when the catalog is down.
type CatalogClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewCatalogClient(baseURL, token string) *CatalogClient {
	return &CatalogClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// catalogItem mirrors the media server's item shape. RunTimeTicks are
// 100-nanosecond units.
type catalogItem struct {
	ID           string   `json:"Id"`
	Name         string   `json:"Name"`
	Album        string   `json:"Album"`
	AlbumArtist  string   `json:"AlbumArtist"`
	Artists      []string `json:"Artists"`
	RunTimeTicks int64    `json:"RunTimeTicks"`
}

type catalogItemsResponse struct {
	Items            []catalogItem `json:"Items"`
	TotalRecordCount int           `json:"TotalRecordCount"`
}

func (c *CatalogClient) Search(ctx context.Context, query string, limit, offset int) ([]MediaItem, error) {
	if limit <= 0 {
		limit = 50
	}
	params := url.Values{}
	params.Set("searchTerm", query)
	params.Set("includeItemTypes", "Audio")
	params.Set("recursive", "true")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("startIndex", strconv.Itoa(offset))

	var resp catalogItemsResponse
	if err := c.get(ctx, "/Items?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	items := make([]MediaItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		items = append(items, c.toMediaItem(it))
	}
	return items, nil
}

func (c *CatalogClient) GetByID(ctx context.Context, id string) (*MediaItem, error) {
	var resp catalogItemsResponse
	if err := c.get(ctx, "/Items?ids="+url.QueryEscape(id), &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("%w: item %s not in catalog", ErrNotFound, id)
	}
	item := c.toMediaItem(resp.Items[0])
	return &item, nil
}

// StreamLocator returns the URL a player uses to pull the audio itself.
func (c *CatalogClient) StreamLocator(ctx context.Context, id string) (string, error) {
	if c.baseURL == "" {
		return "", ErrCatalogUnavailable
	}
	return fmt.Sprintf("%s/Audio/%s/stream?static=true&api_key=%s",
		c.baseURL, url.PathEscape(id), url.QueryEscape(c.token)), nil
}

func (c *CatalogClient) get(ctx context.Context, path string, out any) error {
	if c.baseURL == "" {
		return ErrCatalogUnavailable
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	req.Header.Set("X-Emby-Token", c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: catalog returned %d", ErrCatalogUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: bad catalog response: %v", ErrCatalogUnavailable, err)
	}
	return nil
}

func (c *CatalogClient) toMediaItem(it catalogItem) MediaItem {
	artist := it.AlbumArtist
	if artist == "" && len(it.Artists) > 0 {
		artist = it.Artists[0]
	}
	streamURL, _ := c.StreamLocator(context.Background(), it.ID)
	return MediaItem{
		ID:        "media_" + it.ID,
		Title:     it.Name,
		Artist:    artist,
		Album:     it.Album,
		Duration:  it.RunTimeTicks / 10_000_000,
		CatalogID: it.ID,
		StreamURL: streamURL,
	}
}
