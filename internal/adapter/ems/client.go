// Package ems is the client for the upstream energy-management API: token
// login, consumption filter queries and site metadata search.
package ems

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"emsreport/internal/platform/httpclient"
	"emsreport/internal/shared"
	"emsreport/pkg/retry"
)

// tokenSafetyMargin is subtracted from the reported token lifetime so a
// request never goes out with a token about to expire mid-flight.
const tokenSafetyMargin = time.Minute

// defaultTokenTTL applies when the login response omits a usable lifetime.
const defaultTokenTTL = time.Hour

// Config holds the upstream API locations and credentials.
type Config struct {
	BaseURL  string // consumption / sites / notification gateway
	LoginURL string // token endpoint, served off a different root
	Username string
	Password string

	// RatePerSec caps outbound request rate; zero means 5 rps.
	RatePerSec float64
	Burst      int
}

// Client talks to the energy-management API. It caches the bearer token
// and refreshes it ahead of expiry. Safe for concurrent use.
type Client struct {
	http    *httpclient.Client
	log     *slog.Logger
	cfg     Config
	limiter *rate.Limiter

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	now func() time.Time
}

// New creates a Client over the shared HTTP client.
func New(cfg Config, hc *httpclient.Client, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps)
	}
	return &Client{
		http:    hc,
		log:     log.With("component", "ems"),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		now:     time.Now,
	}
}

// Token returns a valid bearer token, refreshing it when needed. The
// notification sender shares it since email goes through the same gateway.
func (c *Client) Token(ctx context.Context) (string, error) {
	return c.bearerToken(ctx)
}

type loginRequest struct {
	Username string `json:"userName"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string      `json:"accessToken"`
	ExpireIn    json.Number `json:"expireIn"`
}

// bearerToken returns a cached token, logging in when the cache is empty
// or within the safety margin of expiry. Login goes through pkg/retry
// since a cold start must not fail on one transient upstream hiccup.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	var lr loginResponse
	err := retry.RetryWithAttempts(ctx, 3, func(ctx context.Context) error {
		return c.login(ctx, &lr)
	})
	if err != nil {
		return "", shared.Wrap(err, "ems login")
	}
	if lr.AccessToken == "" {
		return "", shared.MarkKind(fmt.Errorf("login response carried no token"), shared.KindUnauthorized)
	}

	ttl := defaultTokenTTL
	if secs, perr := lr.ExpireIn.Int64(); perr == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}

	c.token = lr.AccessToken
	c.tokenExpiry = c.now().Add(ttl - tokenSafetyMargin)
	c.log.DebugContext(ctx, "ems token refreshed", "expires_at", c.tokenExpiry)
	return c.token, nil
}

func (c *Client) login(ctx context.Context, out *loginResponse) error {
	body, err := json.Marshal(loginRequest{Username: c.cfg.Username, Password: c.cfg.Password})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LoginURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := &httpclient.StatusError{Method: http.MethodPost, URL: c.cfg.LoginURL, StatusCode: resp.StatusCode}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return shared.MarkKind(err, shared.KindUnauthorized)
		}
		return shared.MarkKind(err, shared.KindDependencyFailure)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ConsumptionQuery is the body of a consumption filter request. Start and
// End are epoch milliseconds.
type ConsumptionQuery struct {
	Period  string `json:"period"`
	Domain  string `json:"domain"`
	Start   int64  `json:"startDate"`
	End     int64  `json:"endDate"`
	GroupBy string `json:"groupBy"`
	Type    string `json:"type"`
	Raw     bool   `json:"includeRaw"`
}

// ConsumptionEntry is one meter's aggregate for a queried window.
type ConsumptionEntry struct {
	Entity struct {
		Identifier string `json:"identifier"`
		Domain     string `json:"domain"`
		Data       struct {
			DisplayName   string `json:"displayName"`
			OwnerName     string `json:"ownerName"`
			SourceTagPath string `json:"sourceTagPath"`
		} `json:"data"`
	} `json:"entity"`
	Consumptions []struct {
		Consumption float64 `json:"consumption"`
	} `json:"consumptions"`
}

// Value returns the entry's first consumption figure, zero when the window
// held none.
func (e ConsumptionEntry) Value() float64 {
	if len(e.Consumptions) == 0 {
		return 0
	}
	return e.Consumptions[0].Consumption
}

// Consumption runs one consumption filter query.
func (c *Client) Consumption(ctx context.Context, q ConsumptionQuery) ([]ConsumptionEntry, error) {
	q.Raw = true
	var out []ConsumptionEntry
	if err := c.post(ctx, c.cfg.BaseURL+"/ems-report-pro/1.0.0/consumption/filter/data", q, &out); err != nil {
		return nil, shared.Wrap(err, "consumption query")
	}
	return out, nil
}

// Site is one site record from the site manager, keyed by the identifier
// the consumption tag path points at.
type Site struct {
	Identifier string   `json:"identifier"`
	Data       SiteData `json:"data"`
}

// SiteData carries the site attributes the report consumes.
type SiteData struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"displayName"`
	Area        float64 `json:"area"`
}

type sitesRequest struct {
	Domain    string `json:"domain"`
	Type      string `json:"type"`
	Order     string `json:"order"`
	SortField string `json:"sortField"`
}

type sitesResponse struct {
	Data []Site `json:"data"`
}

// Sites fetches the site metadata catalogue for a domain.
func (c *Client) Sites(ctx context.Context, domain string) ([]Site, error) {
	reqBody := sitesRequest{Domain: domain, Type: "Site", Order: "asc", SortField: "name"}
	var out sitesResponse
	url := c.cfg.BaseURL + "/ems-site-manager/1.0.0/sites/search/pagination?extendsFlag=true&tenantExtends=true"
	if err := c.post(ctx, url, reqBody, &out); err != nil {
		return nil, shared.Wrap(err, "sites search")
	}
	return out.Data, nil
}

// post sends an authenticated JSON POST and decodes the response into out.
func (c *Client) post(ctx context.Context, url string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	token, err := c.bearerToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return shared.MarkKind(err, shared.KindDependencyFailure)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Token revoked upstream before its reported expiry; drop the
		// cache so the next call logs in again.
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		return shared.MarkKind(&httpclient.StatusError{Method: http.MethodPost, URL: url, StatusCode: resp.StatusCode}, shared.KindUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return shared.MarkKind(&httpclient.StatusError{Method: http.MethodPost, URL: url, StatusCode: resp.StatusCode}, shared.KindDependencyFailure)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// DayWindow returns the epoch-millisecond bounds of the calendar day
// offsetDays before now, midnight to 23:59:59.999, in now's location.
func DayWindow(now time.Time, offsetDays int) (startMs, endMs int64) {
	day := now.AddDate(0, 0, -offsetDays)
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24*time.Hour - time.Millisecond)
	return start.UnixMilli(), end.UnixMilli()
}
