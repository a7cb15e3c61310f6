package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// DataPageSize is the page size used when walking /positions.
const DataPageSize = 100

// DataClient is the REST client for the Polymarket Data API, which lists
// on-chain holdings by wallet.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// NewDataClient creates a Data API client. httpClient may route through the
// configured proxy; nil gets a default client with a 30s timeout.
func NewDataClient(baseURL string, httpClient *http.Client) *DataClient {
	if httpClient == nil {
		httpClient = DefaultTransportFactory(defaultTimeout)()
	}
	return &DataClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		userAgent:  "Mozilla/5.0",
	}
}

// PositionFilter selects which holdings /positions returns.
type PositionFilter struct {
	Redeemable bool
	Mergeable  bool
}

// PositionsParams are the query parameters of one /positions request.
type PositionsParams struct {
	User          string
	Filter        PositionFilter
	SizeThreshold *float64
	Limit         int
	Offset        int
}

// GetPositions fetches one page of positions.
func (c *DataClient) GetPositions(ctx context.Context, params PositionsParams) ([]APIPosition, error) {
	if strings.TrimSpace(params.User) == "" {
		return nil, errors.New("polymarket/data: positions user required")
	}

	q := url.Values{}
	q.Set("user", strings.TrimSpace(params.User))
	if params.Filter.Redeemable {
		q.Set("redeemable", "true")
	}
	if params.Filter.Mergeable {
		q.Set("mergeable", "true")
	}
	if params.SizeThreshold != nil {
		q.Set("sizeThreshold", strconv.FormatFloat(*params.SizeThreshold, 'f', -1, 64))
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/positions?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, fmt.Errorf("polymarket/data: positions: %w", err)
	}

	var out []APIPosition
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode positions: %w", err)
	}
	return out, nil
}

// AllPositions walks every page of positions for user matching filter,
// advancing the offset by the page size until a short page comes back.
func (c *DataClient) AllPositions(ctx context.Context, user string, filter PositionFilter) ([]APIPosition, error) {
	zero := 0.0
	var all []APIPosition
	for offset := 0; ; offset += DataPageSize {
		page, err := c.GetPositions(ctx, PositionsParams{
			User:          user,
			Filter:        filter,
			SizeThreshold: &zero,
			Limit:         DataPageSize,
			Offset:        offset,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < DataPageSize {
			return all, nil
		}
	}
}
