package digimonapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/dfryer1193/digidex/catalog/domain"
	"github.com/dfryer1193/digidex/shared/httpfetch"
)

const (
	DefaultBaseURL = "https://digimon-api.vercel.app"

	resourcePath = "/api/digimon"
	nameParam    = "name"
	levelParam   = "level"
)

var _ domain.ItemFetcher = (*Client)(nil)

// Client is a domain.ItemFetcher backed by the public Digimon REST API.
type Client struct {
	http    *httpfetch.Client
	baseURL string
}

// NewClient creates a Client for baseURL. An empty baseURL uses DefaultBaseURL.
func NewClient(fetcher *httpfetch.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Fetch runs q against the API and decodes the returned item list.
func (c *Client) Fetch(ctx context.Context, q domain.Query) ([]domain.Item, error) {
	endpoint, err := c.endpoint(q)
	if err != nil {
		return nil, err
	}
	op := fmt.Sprintf("fetching %s", endpoint)

	resp, err := c.http.Get(ctx, endpoint, http.Header{"Accept": []string{"application/json"}})
	if err != nil {
		return nil, handleAPIError(op, err)
	}
	if !resp.OK() {
		return nil, handleAPIError(op, &domain.HTTPStatusError{Code: resp.StatusCode})
	}

	var items []domain.Item
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		return nil, handleAPIError(op, &domain.DecodeError{Err: err})
	}
	if items == nil {
		items = []domain.Item{}
	}
	return items, nil
}

func (c *Client) endpoint(q domain.Query) (string, error) {
	u, err := httpfetch.ParseURL(c.baseURL + resourcePath)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	switch q.Kind {
	case domain.QueryAll:
	case domain.QueryByName:
		params.Set(nameParam, q.Value)
	case domain.QueryByLevel:
		params.Set(levelParam, q.Value)
	default:
		return "", fmt.Errorf("%w: unknown query kind %d", domain.ErrInvalidRequest, q.Kind)
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// handleAPIError prefixes err with the operation while keeping the domain
// error reachable through errors.Is/As.
func handleAPIError(op string, err error) error {
	var statusErr *domain.HTTPStatusError
	if errors.As(err, &statusErr) {
		return fmt.Errorf("digimonapi: %s failed with status %d: %w", op, statusErr.Code, err)
	}
	return fmt.Errorf("digimonapi: %s failed: %w", op, err)
}
