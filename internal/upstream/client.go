package upstream

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
	"time"

	"golang.org/x/time/rate"

	"slotbot/internal/slot"
	logx "slotbot/pkg/logx"
)

const (
	DefaultBaseURL = "https://supplies-api.wildberries.ru"

	coefficientsPath = "/api/v1/acceptance/coefficients"
	warehousesPath   = "/api/v1/warehouses"

	maxBodyBytes = 8 << 20
)

// Config controls request pacing and the retry policy.
type Config struct {
	BaseURL              string
	RetriesPerCredential int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	RequestTimeout       time.Duration
	// MinRequestInterval spaces consecutive requests across all callers.
	MinRequestInterval time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.RetriesPerCredential <= 0 {
		c.RetriesPerCredential = 2
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = max(time.Minute, c.BackoffBase)
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	return c
}

type Option func(*Client)

// WithHTTPClient overrides the HTTP client. Its Timeout is left untouched;
// per-request timeouts come from Config.RequestTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Client is safe for concurrent use.
type Client struct {
	cfg     Config
	pool    *CredentialPool
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger

	// sleep waits between rate-limited attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, pool *CredentialPool, log logx.Logger, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if pool == nil {
		pool = NewCredentialPool(nil)
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinRequestInterval > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.MinRequestInterval), 1)
	}
	c := &Client{
		cfg:     cfg,
		pool:    pool,
		http:    &http.Client{},
		limiter: lim,
		log:     log,
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Pool returns the credential pool the client rotates.
func (c *Client) Pool() *CredentialPool { return c.pool }

// coefficientRecord accepts both the generic shape
// {locationID, categoryCode, coefficient, date} and the supplies API shape
// (warehouseID, boxTypeID, boxTypeName). Generic fields win when both are set.
type coefficientRecord struct {
	Date        string   `json:"date"`
	Coefficient *float64 `json:"coefficient"`

	LocationID   int64           `json:"locationID"`
	CategoryCode json.RawMessage `json:"categoryCode"` // "boxes" or 2

	WarehouseID   int64  `json:"warehouseID"`
	WarehouseName string `json:"warehouseName"`
	BoxTypeName   string `json:"boxTypeName"`
	BoxTypeID     *int   `json:"boxTypeID"`
}

// FetchSnapshot returns the current offers for locationIDs.
//
// 429 responses rotate the credential and back off exponentially from
// BackoffBase; the call gives up with ErrRateLimited after
// Len()*RetriesPerCredential attempts. 401 responses rotate without backoff
// and the call fails with ErrUnauthorized once every credential was rejected.
// A request that hits RequestTimeout is retried on the same credential with
// the same backoff and attempt ceiling as a 429. Anything else that is not a
// 200 fails with ErrUpstream.
//
// Location ids are sent as both locationIDs and warehouseIDs.
func (c *Client) FetchSnapshot(ctx context.Context, locationIDs []int64) ([]slot.Offer, error) {
	ids := make([]string, 0, len(locationIDs))
	for _, id := range locationIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	csv := strings.Join(ids, ",")
	q := url.Values{}
	q.Set("locationIDs", csv)
	q.Set("warehouseIDs", csv)

	body, err := c.get(ctx, "coefficients", coefficientsPath, q)
	if err != nil {
		return nil, err
	}

	var records []coefficientRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("%w: decode coefficients: %v", ErrUpstream, err)
	}

	offers := make([]slot.Offer, 0, len(records))
	for _, r := range records {
		o, ok := r.offer()
		if !ok {
			c.log.Debug("skipping unreadable offer", logx.Int64("location_id", r.location()), logx.String("date", r.Date), logx.String("category", string(r.CategoryCode)), logx.String("box_type", r.BoxTypeName))
			continue
		}
		offers = append(offers, o)
	}
	if skipped := len(records) - len(offers); skipped > 0 {
		offersSkipped.Add(float64(skipped))
		if len(offers) == 0 {
			c.log.Warn("no readable offers in upstream response", logx.Int("records", len(records)))
		}
	}
	offersFetched.Add(float64(len(offers)))
	return offers, nil
}

func (r coefficientRecord) location() int64 {
	if r.LocationID != 0 {
		return r.LocationID
	}
	return r.WarehouseID
}

func (r coefficientRecord) category() (slot.Category, bool) {
	if code := strings.Trim(strings.TrimSpace(string(r.CategoryCode)), `"`); code != "" && code != "null" {
		return slot.ParseCategory(code)
	}
	if r.BoxTypeID != nil {
		return slot.Category(*r.BoxTypeID), true
	}
	return slot.CategoryByName(r.BoxTypeName)
}

func parseOfferDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func (r coefficientRecord) offer() (slot.Offer, bool) {
	date, err := parseOfferDate(r.Date)
	if err != nil {
		return slot.Offer{}, false
	}
	cat, ok := r.category()
	if !ok {
		return slot.Offer{}, false
	}
	loc := r.location()
	if loc <= 0 {
		return slot.Offer{}, false
	}
	coef := -1.0
	if r.Coefficient != nil {
		coef = *r.Coefficient
	}
	return slot.Offer{
		LocationID:   loc,
		Category:     cat,
		Coefficient:  coef,
		Date:         date.UTC(),
		LocationName: strings.TrimSpace(r.WarehouseName),
	}, true
}

// FetchLocations returns the location catalog as id -> name.
func (c *Client) FetchLocations(ctx context.Context) (map[int64]string, error) {
	body, err := c.get(ctx, "warehouses", warehousesPath, nil)
	if err != nil {
		return nil, err
	}
	var list []struct {
		ID   int64  `json:"ID"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: decode warehouses: %v", ErrUpstream, err)
	}
	out := make(map[int64]string, len(list))
	for _, w := range list {
		if w.ID <= 0 || strings.TrimSpace(w.Name) == "" {
			continue
		}
		out[w.ID] = strings.TrimSpace(w.Name)
	}
	return out, nil
}

// get performs an authenticated GET under the retry policy and returns the 200 body.
func (c *Client) get(ctx context.Context, endpoint, path string, q url.Values) ([]byte, error) {
	n := c.pool.Len()
	if n == 0 {
		return nil, fmt.Errorf("%w: no credentials configured", ErrUnauthorized)
	}
	maxAttempts := n * c.cfg.RetriesPerCredential

	target := c.cfg.BaseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	rejected := make(map[string]struct{}, n)
	limited, retried := 0, 0
	var timeoutErr error // set while the latest attempt timed out
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
		}

		cred := c.pool.Current()
		code, body, err := c.do(ctx, endpoint, target, cred)
		timeoutErr = nil
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrUpstream, endpoint, err)
			}
			// The request's own deadline: retry on the same credential.
			timeoutErr = err
			retried++
			if attempt+1 >= maxAttempts {
				continue
			}
			wait := c.backoff(retried - 1)
			c.log.Warn("upstream request timed out, retrying",
				logx.String("endpoint", endpoint),
				logx.Int("attempt", attempt+1),
				logx.Int("max_attempts", maxAttempts),
				logx.Duration("timeout", c.cfg.RequestTimeout),
				logx.Duration("backoff", wait),
			)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
			}
			continue
		}

		switch {
		case code == http.StatusOK:
			return body, nil

		case code == http.StatusTooManyRequests:
			limited++
			retried++
			next := c.pool.Rotate()
			if attempt+1 >= maxAttempts {
				continue
			}
			wait := c.backoff(retried - 1)
			c.log.Warn("upstream rate limited, rotating credential",
				logx.String("endpoint", endpoint),
				logx.Int("attempt", attempt+1),
				logx.Int("max_attempts", maxAttempts),
				logx.String("credential", mask(next)),
				logx.Duration("backoff", wait),
			)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
			}

		case code == http.StatusUnauthorized:
			rejected[cred] = struct{}{}
			next := c.pool.Rotate()
			c.log.Warn("upstream rejected credential",
				logx.String("endpoint", endpoint),
				logx.String("credential", mask(cred)),
				logx.String("next", mask(next)),
			)
			if len(rejected) >= n {
				return nil, fmt.Errorf("%w: %d credentials", ErrUnauthorized, n)
			}

		default:
			return nil, fmt.Errorf("%w: %s: status %d: %s", ErrUpstream, endpoint, code, snippet(body))
		}
	}

	switch {
	case timeoutErr != nil:
		return nil, fmt.Errorf("%w: %s: %d attempts: %w", ErrUpstream, endpoint, maxAttempts, timeoutErr)
	case limited == 0:
		return nil, fmt.Errorf("%w: %d attempts", ErrUnauthorized, maxAttempts)
	}
	return nil, fmt.Errorf("%w: %d attempts", ErrRateLimited, maxAttempts)
}

func (c *Client) do(ctx context.Context, endpoint, target, cred string) (int, []byte, error) {
	rctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cred)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		recordRequest(endpoint, 0, time.Since(start))
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	recordRequest(endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return 0, nil, err
	}
	c.log.Debug("upstream response", logx.String("endpoint", endpoint), logx.Int("status", resp.StatusCode), logx.Int("bytes", len(body)))
	return resp.StatusCode, body, nil
}

// backoff returns BackoffBase * 2^n capped at BackoffMax.
func (c *Client) backoff(n int) time.Duration {
	d := c.cfg.BackoffBase
	for i := 0; i < n; i++ {
		d *= 2
		if d >= c.cfg.BackoffMax {
			return c.cfg.BackoffMax
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func mask(cred string) string {
	if len(cred) <= 6 {
		return "***"
	}
	return cred[:3] + "***" + cred[len(cred)-3:]
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
