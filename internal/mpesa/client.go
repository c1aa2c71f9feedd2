package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"duka/internal/retry"
)

const (
	tokenPath    = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"

	// Refresh tokens a little before the gateway expires them.
	tokenExpirySkew = 60 * time.Second
)

var (
	// ErrUnavailable wraps transport failures and 5xx answers. The request may be retried.
	ErrUnavailable = errors.New("mpesa: gateway unavailable")

	// ErrRejected wraps 4xx answers. Retrying the same request will not help.
	ErrRejected = errors.New("mpesa: request rejected")
)

// nairobi is the timezone the gateway expects timestamps in.
var nairobi = loadNairobi()

func loadNairobi() *time.Location {
	loc, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		return time.FixedZone("EAT", 3*60*60)
	}
	return loc
}

// Config holds the credentials and account settings of a Daraja app.
type Config struct {
	BaseURL          string
	ConsumerKey      string
	ConsumerSecret   string
	ShortCode        string
	PassKey          string
	TransactionType  string
	AccountReference string
	Timeout          time.Duration
}

// Client talks to the Daraja API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retry      retry.Config
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	tokenGroup  singleflight.Group
}

// NewClient creates a new Daraja client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if cfg.TransactionType == "" {
		cfg.TransactionType = "CustomerPayBillOnline"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry.Default(),
		now:        time.Now,
	}
}

// Timestamp formats t the way the gateway expects.
func Timestamp(t time.Time) string {
	return t.In(nairobi).Format("20060102150405")
}

// Password derives the request password for a timestamp.
func Password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

// InitiateSTKPush asks the gateway to prompt the customer's handset.
// The request is not retried; a lost response could otherwise charge the customer twice.
func (c *Client) InitiateSTKPush(ctx context.Context, p STKPushParams) (*STKPushResponse, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts := Timestamp(c.now())
	reference := p.AccountReference
	if reference == "" {
		reference = c.cfg.AccountReference
	}

	body := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, ts),
		Timestamp:         ts,
		TransactionType:   c.cfg.TransactionType,
		Amount:            ChargeAmount(p.Amount),
		PartyA:            p.PhoneNumber,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       p.PhoneNumber,
		CallBackURL:       p.CallbackURL,
		AccountReference:  truncate(reference, 12),
		TransactionDesc:   truncate(p.Description, 13),
	}

	var resp STKPushResponse
	if err := c.post(ctx, stkPushPath, token, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QuerySTKStatus asks the gateway for the current state of a push.
// A push the customer has not answered yet comes back with ResultProcessing.
func (c *Client) QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*STKQueryResponse, error) {
	return retry.Do(ctx, c.retry, func() (*STKQueryResponse, error) {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}

		ts := Timestamp(c.now())
		body := stkQueryRequest{
			BusinessShortCode: c.cfg.ShortCode,
			Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, ts),
			Timestamp:         ts,
			CheckoutRequestID: checkoutRequestID,
		}

		var resp STKQueryResponse
		err = c.post(ctx, stkQueryPath, token, body, &resp)

		var apiErr *APIError
		if errors.As(err, &apiErr) && IsPending(apiErr.Code) {
			return &STKQueryResponse{
				CheckoutRequestID: checkoutRequestID,
				ResultCode:        Code(apiErr.Code),
				ResultDesc:        apiErr.Message,
			}, nil
		}
		if err != nil {
			if errors.Is(err, ErrRejected) {
				return nil, retry.Permanent(err)
			}
			return nil, err
		}
		return &resp, nil
	})
}

// accessToken returns a cached OAuth token, fetching a new one when it is about to expire.
// Concurrent refreshes share one request.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if token, ok := c.cachedToken(); ok {
		return token, nil
	}

	v, err, _ := c.tokenGroup.Do("token", func() (any, error) {
		if token, ok := c.cachedToken(); ok {
			return token, nil
		}
		return retry.Do(ctx, c.retry, func() (string, error) {
			token, err := c.fetchToken(ctx)
			if errors.Is(err, ErrRejected) {
				return "", retry.Permanent(err)
			}
			return token, err
		})
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, true
	}
	return "", false
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	var tr tokenResponse
	if err := c.do(req, &tr); err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("fetch token: %w: empty access token", ErrUnavailable)
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(strings.TrimSpace(tr.ExpiresIn)); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	if ttl > tokenExpirySkew {
		ttl -= tokenExpirySkew
	}

	c.mu.Lock()
	c.token = tr.AccessToken
	c.tokenExpiry = c.now().Add(ttl)
	c.mu.Unlock()

	return tr.AccessToken, nil
}

func (c *Client) post(ctx context.Context, path, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		var body apiError
		if json.Unmarshal(data, &body) == nil {
			apiErr.Code = body.ErrorCode
			apiErr.Message = body.ErrorMessage
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

// APIError is a non-200 answer from the gateway.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mpesa: http %d: %s %s", e.Status, e.Code, e.Message)
}

// Is classifies the error as ErrRejected or ErrUnavailable by status class.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRejected:
		return e.Status >= 400 && e.Status < 500
	case ErrUnavailable:
		return e.Status >= 500 || e.Status < 400
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
