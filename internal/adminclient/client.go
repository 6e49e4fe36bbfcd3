// Package adminclient is the HTTP client for the subscriber's admin API,
// used by the operator CLI.
package adminclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/btall/core-africare-identity-sub001/internal/quarantine"
)

// Client talks to a running identity-sub instance.
type Client struct {
	baseURL string
	client  *http.Client
}

// QuarantineResponse is the admin quarantine listing.
type QuarantineResponse struct {
	Entries []quarantine.Record `json:"entries"`
	Count   int                 `json:"count"`
}

// ReprocessResponse reports an operator reprocess.
type ReprocessResponse struct {
	EntryID    string `json:"entry_id"`
	NewEntryID string `json:"new_entry_id"`
}

// Stats is the pipeline stats snapshot.
type Stats struct {
	StreamLength     int64 `json:"stream_length"`
	PendingCount     int64 `json:"pending_count"`
	QuarantineLength int64 `json:"quarantine_length"`
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) doRequest(method, path string) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.client.Do(req)
}

// ListQuarantine fetches up to limit quarantined entries, oldest first.
func (c *Client) ListQuarantine(limit int) (*QuarantineResponse, error) {
	path := "/admin/quarantine"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}

	resp, err := c.doRequest(http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to list quarantine: %s", string(bodyBytes))
	}

	var listResp QuarantineResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, err
	}
	return &listResp, nil
}

// GetQuarantined fetches one quarantined entry.
func (c *Client) GetQuarantined(entryID string) (*quarantine.Record, error) {
	resp, err := c.doRequest(http.MethodGet, "/admin/quarantine/"+url.PathEscape(entryID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get quarantined entry: %s", string(bodyBytes))
	}

	var rec quarantine.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Reprocess releases a quarantined entry back into the log.
func (c *Client) Reprocess(entryID string) (*ReprocessResponse, error) {
	resp, err := c.doRequest(http.MethodPost, "/admin/quarantine/"+url.PathEscape(entryID)+"/reprocess")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to reprocess: %s", string(bodyBytes))
	}

	var repResp ReprocessResponse
	if err := json.NewDecoder(resp.Body).Decode(&repResp); err != nil {
		return nil, err
	}
	return &repResp, nil
}

// GetStats fetches the pipeline stats snapshot.
func (c *Client) GetStats() (*Stats, error) {
	resp, err := c.doRequest(http.MethodGet, "/admin/stats")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get stats: %s", string(bodyBytes))
	}

	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
