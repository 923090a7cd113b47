// Package geoip looks up the approximate location of an IP address using
// the ipapi.co JSON endpoint.
package geoip

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// BaseURLDefault is the production lookup endpoint.
const BaseURLDefault = "https://ipapi.co"

const (
	requestTimeout = 10 * time.Second
	userAgent      = "dash-backend/1.0"

	// The lookup service omits fields it can't resolve.
	unknownField = "Unknown"
)

// Location is the resolved location of an IP address. Fields the lookup
// service couldn't resolve are set to "Unknown".
type Location struct {
	City    string
	Region  string
	Country string
}

// Client is an ipapi.co API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a lookup client against the given base URL, or the
// production endpoint if empty.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = BaseURLDefault
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Lookup resolves the location of ipAddress. A non-2xx response is an
// error; the caller's retry policy decides what happens next.
func (c *Client) Lookup(ctx context.Context, ipAddress string) (*Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/json/", c.baseURL, ipAddress), nil)
	if err != nil {
		return nil, fmt.Errorf("building geo lookup request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo lookup for %s: %w", ipAddress, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("geo lookup for %s: unexpected status %d", ipAddress, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading geo lookup response: %w", err)
	}

	fieldOrUnknown := func(path string) string {
		if value := gjson.GetBytes(body, path); value.Exists() && value.String() != "" {
			return value.String()
		}
		return unknownField
	}

	return &Location{
		City:    fieldOrUnknown("city"),
		Region:  fieldOrUnknown("region"),
		Country: fieldOrUnknown("country_name"),
	}, nil
}
