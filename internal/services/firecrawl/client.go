package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const scrapePath = "/v2/scrape"

// ProviderError is a failed or unsuccessful extraction call.
type ProviderError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("firecrawl: %v", e.Err)
	}
	return fmt.Sprintf("firecrawl: status %d: %s", e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }

type Client struct {
	client *resty.Client
}

type scrapeRequest struct {
	URL     string         `json:"url"`
	Formats []scrapeFormat `json:"formats"`
}

type scrapeFormat struct {
	Type   string         `json:"type"`
	Schema map[string]any `json:"schema"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		JSON struct {
			Products []map[string]any `json:"products"`
		} `json:"json"`
	} `json:"data"`
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &Client{client: client}
}

// ProductSchema is the JSON schema the extractor fills for each page.
func ProductSchema() map[string]any {
	str := map[string]any{"type": "string"}
	num := map[string]any{"type": "number"}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"products": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"item_id":        str,
						"title":          str,
						"price":          num,
						"original_price": num,
						"url":            str,
						"seller":         str,
						"image_url":      str,
					},
					"required": []string{"title", "price", "url"},
				},
			},
		},
	}
}

// ScrapeProducts asks the extractor for the products on targetURL. Numbers
// are kept as json.Number so large ids survive.
func (c *Client) ScrapeProducts(ctx context.Context, targetURL string) ([]map[string]any, error) {
	payload := scrapeRequest{
		URL:     targetURL,
		Formats: []scrapeFormat{{Type: "json", Schema: ProductSchema()}},
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(scrapePath)
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	if resp.IsError() {
		return nil, &ProviderError{StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 512)}
	}

	var out scrapeResponse
	dec := json.NewDecoder(bytes.NewReader(resp.Body()))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, &ProviderError{StatusCode: resp.StatusCode(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if !out.Success {
		return nil, &ProviderError{StatusCode: resp.StatusCode(), Body: truncate(out.Error, 512)}
	}

	products := out.Data.JSON.Products
	if products == nil {
		products = []map[string]any{}
	}
	return products, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
