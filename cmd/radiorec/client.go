package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// APIClient talks to a running radiorec daemon over its HTTP API.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a new API client.
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8087"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// IsReachable checks if the daemon is running and reachable.
func (c *APIClient) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/recordings")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *APIClient) get(path string, out any) error {
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *APIClient) post(path string, out any) error {
	resp, err := c.client.Post(c.baseURL+path, "application/json", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var errorResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		return fmt.Errorf("API error: status %d", resp.StatusCode)
	}
	return fmt.Errorf("API error: %s", errorResp.Error)
}

// GetRecordings lists active recordings.
func (c *APIClient) GetRecordings() (any, error) {
	var out any
	if err := c.get("/recordings", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSchedules lists all schedules.
func (c *APIClient) GetSchedules() (any, error) {
	var out any
	if err := c.get("/schedules", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StopStation stops active recordings for a station and returns how many
// were stopped.
func (c *APIClient) StopStation(station string) (int, error) {
	var out struct {
		Stopped int `json:"stopped"`
	}
	if err := c.post("/recordings/stop?station="+url.QueryEscape(station), &out); err != nil {
		return 0, err
	}
	return out.Stopped, nil
}

// StopAll stops every active recording.
func (c *APIClient) StopAll() error {
	return c.post("/recordings/stop-all", nil)
}
