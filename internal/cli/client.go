// Package cli is the HTTP client behind `plugscan ctl`.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ipsix/plugscan/internal/plugin"
	"github.com/ipsix/plugscan/internal/storage"
)

type Client struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewClient(baseURL, token string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) DoJSON(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

// Status is the subset of /status the CLI prints.
type Status struct {
	State   string `json:"state"`
	Current string `json:"current,omitempty"`
	Plugins int    `json:"plugins"`
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	err := c.getJSON(ctx, "/status", &out)
	return out, err
}

// Plugins lists the catalog; a zero protocol means all.
func (c *Client) Plugins(ctx context.Context, protocol plugin.Protocol, instruments bool) ([]plugin.Descriptor, error) {
	q := url.Values{}
	if protocol != plugin.ProtocolDummy {
		q.Set("protocol", protocol.Token())
	}
	if instruments {
		q.Set("instruments", "true")
	}
	path := "/plugins"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []plugin.Descriptor
	err := c.getJSON(ctx, path, &out)
	return out, err
}

func (c *Client) History(ctx context.Context, limit int) ([]storage.ScanRecord, error) {
	var out []storage.ScanRecord
	err := c.getJSON(ctx, "/history?limit="+strconv.Itoa(limit), &out)
	return out, err
}

func (c *Client) Scan(ctx context.Context) error {
	_, err := c.DoJSON(ctx, http.MethodPost, "/scan", nil)
	return err
}

func (c *Client) Cancel(ctx context.Context) error {
	_, err := c.DoJSON(ctx, http.MethodPost, "/scan/cancel", nil)
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	raw, err := c.DoJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
