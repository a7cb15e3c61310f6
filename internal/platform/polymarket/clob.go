package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/polyclaw/internal/chain"
	"github.com/alanyoungcy/polyclaw/internal/crypto"
	"github.com/alanyoungcy/polyclaw/internal/domain"
)

// endCursor marks the last page of a cursor-paginated CLOB listing.
const endCursor = "LTE="

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It handles order placement, cancellation, and queries.
//
// The HTTP client is built by a TransportFactory and can be replaced at
// runtime with ResetTransport; requests in flight keep the client they
// started with.
type ClobClient struct {
	baseURL       string
	signer        *crypto.Signer
	factory       TransportFactory
	signatureType int

	mu         sync.Mutex
	httpClient *http.Client
	hmacAuth   *crypto.HMACAuth

	negRisk sync.Map // token id -> bool
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// signer is the EIP-712 signer for order signatures and auth messages.
// factory builds the HTTP client; nil means DefaultTransportFactory with a
// 30s timeout.
func NewClobClient(baseURL string, signer *crypto.Signer, factory TransportFactory) *ClobClient {
	if factory == nil {
		factory = DefaultTransportFactory(defaultTimeout)
	}
	return &ClobClient{
		baseURL:    baseURL,
		signer:     signer,
		factory:    factory,
		httpClient: factory(),
	}
}

// SetSignatureType sets the signatureType field of signed orders
// (0 = EOA, 1 = POLY_PROXY, 2 = POLY_GNOSIS_SAFE).
func (c *ClobClient) SetSignatureType(t int) {
	c.signatureType = t
}

// SetCredentials installs L2 credentials obtained elsewhere, skipping
// DeriveAPIKey.
func (c *ClobClient) SetCredentials(auth *crypto.HMACAuth) {
	c.mu.Lock()
	c.hmacAuth = auth
	c.mu.Unlock()
}

// ResetTransport drops the current HTTP client and builds a fresh one from
// the factory. With a rotating proxy the next request leaves from a new IP.
func (c *ClobClient) ResetTransport() {
	c.mu.Lock()
	old := c.httpClient
	c.httpClient = c.factory()
	c.mu.Unlock()
	if old != nil {
		old.CloseIdleConnections()
	}
}

func (c *ClobClient) client() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.httpClient
}

func (c *ClobClient) credentials() *crypto.HMACAuth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hmacAuth
}

// EnsureAPIKey derives L2 credentials on first use.
func (c *ClobClient) EnsureAPIKey(ctx context.Context) error {
	if c.credentials() != nil {
		return nil
	}
	return c.DeriveAPIKey(ctx)
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with the L1 headers
// POLY_ADDRESS, POLY_SIGNATURE, POLY_TIMESTAMP and POLY_NONCE to the
// derive-api-key endpoint. On success the credentials are kept for later
// requests.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	respBody, err := c.do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: derive api key: %w", err)
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}
	if authResp.APIKey == "" || authResp.Secret == "" {
		return fmt.Errorf("polymarket/clob: derive api key: %w: empty credentials", domain.ErrUnauthorized)
	}

	c.SetCredentials(&crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	})
	return nil
}

// PostOrder signs order and submits it to the CLOB. A response with
// success=false is returned as an error carrying the API message.
func (c *ClobClient) PostOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	if err := c.EnsureAPIKey(ctx); err != nil {
		return domain.OrderResult{}, err
	}

	negRisk := order.NegRisk
	if !negRisk {
		var err error
		if negRisk, err = c.IsNegRisk(ctx, order.TokenID); err != nil {
			return domain.OrderResult{}, err
		}
	}
	exchange := chain.CTFExchangeAddress
	if negRisk {
		exchange = chain.NegRiskCTFExchangeAddress
	}

	payload, err := c.orderPayload(order)
	if err != nil {
		return domain.OrderResult{}, err
	}
	sig, err := c.signer.SignOrder(payload, exchange)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: %v", domain.ErrSigningFailed, err)
	}

	salt, _ := strconv.ParseInt(payload.Salt, 10, 64)
	body := map[string]any{
		"order": map[string]any{
			"salt":          salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenId":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          string(order.Side),
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     c.credentials().Key,
		"orderType": string(order.Type),
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", nil, body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	result := apiResult.ToDomainOrderResult()
	if !result.Success {
		return result, fmt.Errorf("polymarket/clob: order rejected: %s", result.Message)
	}
	return result, nil
}

// CancelOrder cancels a single resting order by its ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.EnsureAPIKey(ctx); err != nil {
		return err
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", nil, map[string]any{
		"orderID": orderID,
	})
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Canceled    []string          `json:"canceled"`
		NotCanceled map[string]string `json:"not_canceled"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if reason, ok := result.NotCanceled[orderID]; ok {
		return fmt.Errorf("polymarket/clob: cancel order %s: %s", orderID, reason)
	}
	return nil
}

// GetOpenOrders returns every open order for the authenticated wallet,
// following the listing cursor to the end.
func (c *ClobClient) GetOpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	if err := c.EnsureAPIKey(ctx); err != nil {
		return nil, err
	}

	var orders []domain.OpenOrder
	cursor := ""
	for {
		q := url.Values{}
		if cursor != "" {
			q.Set("next_cursor", cursor)
		}
		respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/data/orders", q, nil)
		if err != nil {
			return nil, fmt.Errorf("polymarket/clob: get open orders: %w", err)
		}

		var page openOrdersPage
		if err := json.Unmarshal(respBody, &page); err != nil {
			return nil, fmt.Errorf("polymarket/clob: decode orders: %w", err)
		}
		for i := range page.Data {
			orders = append(orders, page.Data[i].toDomain())
		}

		if page.NextCursor == "" || page.NextCursor == endCursor || page.NextCursor == cursor {
			return orders, nil
		}
		cursor = page.NextCursor
	}
}

// GetOrderBook returns the current bids and asks for tokenID.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	q := url.Values{}
	q.Set("token_id", tokenID)

	respBody, err := c.doPublicGet(ctx, "/book", q)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}

	var book APIBook
	if err := json.Unmarshal(respBody, &book); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	return book.ToDomainSnapshot(), nil
}

// IsNegRisk reports whether tokenID trades on the neg-risk exchange. The
// answer is cached for the client lifetime.
func (c *ClobClient) IsNegRisk(ctx context.Context, tokenID string) (bool, error) {
	if v, ok := c.negRisk.Load(tokenID); ok {
		return v.(bool), nil
	}

	q := url.Values{}
	q.Set("token_id", tokenID)
	respBody, err := c.doPublicGet(ctx, "/neg-risk", q)
	if err != nil {
		return false, fmt.Errorf("polymarket/clob: neg-risk %s: %w", tokenID, err)
	}

	var out struct {
		NegRisk bool `json:"neg_risk"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return false, fmt.Errorf("polymarket/clob: decode neg-risk: %w", err)
	}
	c.negRisk.Store(tokenID, out.NegRisk)
	return out.NegRisk, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	auth := c.credentials()
	if auth == nil {
		return nil, fmt.Errorf("%w: no api credentials", domain.ErrUnauthorized)
	}
	auth.Apply(req, c.signer.Address().Hex(), bodyStr)

	return c.do(req)
}

func (c *ClobClient) doPublicGet(ctx context.Context, path string, query url.Values) ([]byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

func (c *ClobClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// APIError is a non-2xx response from a Polymarket API. It unwraps to the
// matching domain error so callers can use errors.Is.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	}
	return nil
}

// checkHTTPStatus maps non-2xx status codes to an *APIError.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	return &APIError{StatusCode: statusCode, Body: string(body)}
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
