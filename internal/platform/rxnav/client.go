// Package rxnav is a small client for the NLM RxNav REST API.
package rxnav

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://rxnav.nlm.nih.gov"

// ErrNotFound is returned when RxNav has no concept for the id.
var ErrNotFound = errors.New("rxnav: concept not found")

// Properties is the subset of /REST/rxcui/{id}/properties.json we use.
type Properties struct {
	RxCUI    string `json:"rxcui"`
	Name     string `json:"name"`
	Synonym  string `json:"synonym"`
	TTY      string `json:"tty"`
	Language string `json:"language"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for baseURL; empty means DefaultBaseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Properties fetches the concept properties for rxcui.
func (c *Client) Properties(ctx context.Context, rxcui string) (*Properties, error) {
	url := fmt.Sprintf("%s/REST/rxcui/%s/properties.json", c.baseURL, rxcui)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("rxnav request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rxnav properties %s: %w", rxcui, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rxnav properties %s: status %d: %s", rxcui, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Properties *Properties `json:"properties"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("rxnav properties %s: decode: %w", rxcui, err)
	}
	// Unknown ids come back as 200 with an empty object.
	if out.Properties == nil || out.Properties.Name == "" {
		return nil, ErrNotFound
	}
	return out.Properties, nil
}
